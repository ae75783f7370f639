package mysqllog

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/latolukasz/changelog"
)

const idColumn = "id"

// Table is a MySQL table storing log records.
type Table struct {
	db      DBClient
	name    string
	columns []string
	has     map[string]bool
}

func newTable(db DBClient, name string, columns []string) *Table {
	has := make(map[string]bool, len(columns))
	for _, column := range columns {
		has[column] = true
	}
	return &Table{db: db, name: name, columns: columns, has: has}
}

func (t *Table) GetName() string {
	return t.name
}

func (t *Table) GetColumns() []string {
	return t.columns
}

func (t *Table) HasColumn(name string) bool {
	return t.has[name]
}

// LogModel creates records written to this table.
func (t *Table) LogModel() changelog.LogModel {
	return func() (changelog.LogRecord, error) {
		return t.NewRecord(), nil
	}
}

func (t *Table) NewRecord() *Record {
	return &Record{table: t, values: make(map[string]interface{})}
}

type Record struct {
	table  *Table
	values map[string]interface{}
	id     uint64
}

func (r *Record) HasAttribute(name string) bool {
	return r.table.has[name]
}

func (r *Record) SetAttributes(values map[string]interface{}) {
	for k, v := range values {
		r.values[k] = v
	}
}

func (r *Record) GetAttribute(name string) interface{} {
	return r.values[name]
}

// ID returns the auto increment id assigned when the record was saved.
func (r *Record) ID() uint64 {
	return r.id
}

func (r *Record) Save(ctx context.Context) error {
	names := make([]string, 0, len(r.values))
	for name := range r.values {
		names = append(names, name)
	}
	sort.Strings(names)
	quoted := make([]string, len(names))
	args := make([]interface{}, len(names))
	for i, name := range names {
		quoted[i] = quoteIdentifier(name)
		args[i] = r.values[name]
	}
	/* #nosec */
	query := "INSERT INTO " + quoteIdentifier(r.table.name) + "(" + strings.Join(quoted, ",") + ") VALUES(" +
		strings.TrimLeft(strings.Repeat(",?", len(names)), ",") + ")"
	res, err := r.table.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err == nil && id > 0 {
		r.id = uint64(id)
	}
	return nil
}

// Read returns log entries matching where, ordered by id when the table has an id
// column. Columns map roles to table
// columns as returned by changelog.Recorder.LogTableColumns.
func (t *Table) Read(ctx context.Context, columns map[string]string, where *Where, pager *Pager) ([]changelog.Entry, error) {
	if pager == nil {
		pager = NewPager(1, 1000)
	}
	if where == nil {
		where = NewWhere("1")
	}
	/* #nosec */
	query := "SELECT * FROM " + quoteIdentifier(t.name) + " WHERE " + where.String()
	if t.has[idColumn] {
		query += " ORDER BY " + quoteIdentifier(idColumn)
	}
	query += " " + pager.String()
	rows, err := t.db.QueryContext(ctx, query, where.GetParameters()...)
	if err != nil {
		if isMissingTable(err) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	results := make([]changelog.Entry, 0)
	for rows.Next() {
		values := make([]interface{}, len(names))
		pointers := make([]interface{}, len(names))
		for i := range values {
			pointers[i] = &values[i]
		}
		err = rows.Scan(pointers...)
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(names))
		for i, name := range names {
			if asBytes, is := values[i].([]byte); is {
				row[name] = string(asBytes)
				continue
			}
			row[name] = values[i]
		}
		entry, err := changelog.DecodeEntry(columns, row)
		if err != nil {
			return nil, errors.Wrapf(err, "log table `%s`", t.name)
		}
		if id, has := entry.Extra[idColumn]; has {
			entry.ID = toUint(id)
			delete(entry.Extra, idColumn)
		}
		results = append(results, entry)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func toUint(value interface{}) uint64 {
	switch v := value.(type) {
	case int64:
		return uint64(v)
	case uint64:
		return v
	case int:
		return uint64(v)
	case string:
		id, _ := strconv.ParseUint(v, 10, 64)
		return id
	}
	return 0
}
