package changelog

import (
	"sort"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

// Entry is a log record read back from storage.
type Entry struct {
	ID     uint64
	Action Action
	Entity string
	Old    Snapshot
	New    Snapshot
	// Extra holds all other columns of the row.
	Extra map[string]interface{}
}

type Change struct {
	Old interface{}
	New interface{}
}

// DecodeEntry builds an Entry from a stored row, columns as returned by Recorder.LogTableColumns.
func DecodeEntry(columns map[string]string, row map[string]interface{}) (Entry, error) {
	entry := Entry{Extra: make(map[string]interface{})}
	known := make(map[string]bool, len(columns))
	for _, column := range columns {
		if column != "" {
			known[column] = true
		}
	}
	var err error
	entry.Old, err = DecodeSnapshot(rowString(row[columns[ColumnOldValue]]))
	if err != nil {
		return entry, errors.Wrapf(err, "column '%s'", columns[ColumnOldValue])
	}
	entry.New, err = DecodeSnapshot(rowString(row[columns[ColumnNewValue]]))
	if err != nil {
		return entry, errors.Wrapf(err, "column '%s'", columns[ColumnNewValue])
	}
	entry.Action = Action(rowString(row[columns[ColumnAction]]))
	if columns[ColumnEntity] != "" {
		entry.Entity = rowString(row[columns[ColumnEntity]])
	}
	for column, value := range row {
		if !known[column] {
			entry.Extra[column] = value
		}
	}
	return entry, nil
}

func rowString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case *string:
		if v != nil {
			return *v
		}
	}
	return ""
}

// Diff returns top level values that differ between old and new snapshot. Attributes
// present in only one of them are reported with nil on the other side.
func (e Entry) Diff() map[string]Change {
	changes := make(map[string]Change)
	keys := make(map[string]bool, len(e.Old)+len(e.New))
	for k := range e.Old {
		keys[k] = true
	}
	for k := range e.New {
		keys[k] = true
	}
	for k := range keys {
		oldValue, newValue := e.Old[k], e.New[k]
		if !cmp.Equal(oldValue, newValue) {
			changes[k] = Change{Old: oldValue, New: newValue}
		}
	}
	return changes
}

// ChangedAttributes returns sorted names of attributes reported by Diff.
func (e Entry) ChangedAttributes() []string {
	changes := e.Diff()
	names := make([]string, 0, len(changes))
	for name := range changes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
