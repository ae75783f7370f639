package changelog

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var snapshotJSON = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	UseNumber:              true,
}.Froze()

// Snapshot maps attribute names to values. Related entities are stored under the relation
// name as []Snapshot.
type Snapshot map[string]interface{}

func (s Snapshot) Encode() (string, error) {
	if s == nil {
		return "{}", nil
	}
	asString, err := snapshotJSON.MarshalToString(map[string]interface{}(s))
	if err != nil {
		return "", errors.Wrap(err, "encoding snapshot")
	}
	return asString, nil
}

// DecodeSnapshot reads an encoded snapshot. Numbers are decoded as json.Number so that
// large integers survive the round trip.
func DecodeSnapshot(data string) (Snapshot, error) {
	s := Snapshot{}
	if data == "" || data == "null" {
		return s, nil
	}
	err := snapshotJSON.UnmarshalFromString(data, &s)
	if err != nil {
		return nil, errors.Wrap(err, "decoding snapshot")
	}
	if s == nil {
		s = Snapshot{}
	}
	return s, nil
}

// State is the owner's state captured right after it was loaded from storage.
type State struct {
	owner     *frozenEntity
	relations map[string][]Entity
}

// Attributes returns a copy of all owner values captured at load time.
func (s *State) Attributes() map[string]interface{} {
	values := make(map[string]interface{}, len(s.owner.values))
	for k, v := range s.owner.values {
		values[k] = copyValue(v)
	}
	return values
}

// Related returns entities related to the owner at load time.
func (s *State) Related(relation string) []Entity {
	return s.relations[relation]
}

func (s *State) Owner() Entity {
	return s.owner
}
