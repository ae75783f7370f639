package changelog

import (
	"fmt"
	"sort"
)

type ConfigError struct {
	Message string
}

func (err *ConfigError) Error() string {
	return err.Message
}

func configError(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}

// UnsupportedOwnerError is returned when a lifecycle hook receives something that is not an Entity.
type UnsupportedOwnerError struct {
	Owner interface{}
}

func (err *UnsupportedOwnerError) Error() string {
	return fmt.Sprintf("change log can only be attached to changelog.Entity, got %T", err.Owner)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
