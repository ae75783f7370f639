package changelog

import (
	"context"
	"reflect"
)

// Entity is the persisted business object observed by a Recorder.
type Entity interface {
	TypeName() string
	Attributes() []string
	HasAttribute(name string) bool
	GetAttribute(name string) interface{}
	Relation(name string) (Relation, error)
}

// Relation yields entities related to an owner. All returns an empty slice when
// nothing is related.
type Relation interface {
	All(ctx context.Context) ([]Entity, error)
}

type LogRecord interface {
	HasAttribute(name string) bool
	SetAttributes(values map[string]interface{})
	Save(ctx context.Context) error
}

// LogModel creates a new, empty log record. One record is created for every change.
type LogModel func() (LogRecord, error)

// frozenEntity is a point-in-time copy of an entity's attribute values.
type frozenEntity struct {
	typeName   string
	attributes []string
	values     map[string]interface{}
}

func freeze(e Entity) *frozenEntity {
	names := e.Attributes()
	f := &frozenEntity{
		typeName:   e.TypeName(),
		attributes: make([]string, len(names)),
		values:     make(map[string]interface{}, len(names)),
	}
	copy(f.attributes, names)
	for _, name := range names {
		f.values[name] = copyValue(e.GetAttribute(name))
	}
	return f
}

// copyValue returns a deep copy of v so no slice, map or pointer is shared with the
// entity. Unexported struct fields are copied by value.
func copyValue(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	return deepCopy(reflect.ValueOf(v)).Interface()
}

func deepCopy(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return v
		}
		c := reflect.New(v.Type().Elem())
		c.Elem().Set(deepCopy(v.Elem()))
		return c
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		c := reflect.New(v.Type()).Elem()
		c.Set(deepCopy(v.Elem()))
		return c
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		c := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			c.Index(i).Set(deepCopy(v.Index(i)))
		}
		return c
	case reflect.Array:
		c := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			c.Index(i).Set(deepCopy(v.Index(i)))
		}
		return c
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		c := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			c.SetMapIndex(iter.Key(), deepCopy(iter.Value()))
		}
		return c
	case reflect.Struct:
		c := reflect.New(v.Type()).Elem()
		c.Set(v)
		for i := 0; i < v.NumField(); i++ {
			if c.Field(i).CanSet() {
				c.Field(i).Set(deepCopy(v.Field(i)))
			}
		}
		return c
	}
	return v
}

func (f *frozenEntity) TypeName() string {
	return f.typeName
}

func (f *frozenEntity) Attributes() []string {
	return f.attributes
}

func (f *frozenEntity) HasAttribute(name string) bool {
	_, has := f.values[name]
	return has
}

func (f *frozenEntity) GetAttribute(name string) interface{} {
	return f.values[name]
}

func (f *frozenEntity) Relation(name string) (Relation, error) {
	return nil, &ConfigError{Message: "relation '" + name + "' is not available on a stored state of " + f.typeName}
}
