package mysqllog

import (
	"reflect"
	"strings"
)

type Where struct {
	query      string
	parameters []interface{}
}

func (where *Where) String() string {
	return where.query
}

func (where *Where) GetParameters() []interface{} {
	return where.parameters
}

func (where *Where) Append(query string, parameters ...interface{}) {
	newWhere := NewWhere(query, parameters...)
	where.query += " " + newWhere.query
	where.parameters = append(where.parameters, newWhere.parameters...)
}

// NewWhere expands slice parameters used with "IN ?" into a list of placeholders.
func NewWhere(query string, parameters ...interface{}) *Where {
	finalParameters := make([]interface{}, 0, len(parameters))
	for _, value := range parameters {
		if value != nil {
			kind := reflect.TypeOf(value).Kind()
			_, isBytes := value.([]byte)
			if (kind == reflect.Slice || kind == reflect.Array) && !isBytes {
				val := reflect.ValueOf(value)
				length := val.Len()
				in := strings.TrimLeft(strings.Repeat(",?", length), ",")
				query = strings.Replace(query, "IN ?", "IN ("+in+")", 1)
				for i := 0; i < length; i++ {
					finalParameters = append(finalParameters, val.Index(i).Interface())
				}
				continue
			}
		}
		finalParameters = append(finalParameters, value)
	}
	return &Where{query, finalParameters}
}
