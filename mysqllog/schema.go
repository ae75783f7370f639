package mysqllog

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/pkg/errors"

	"github.com/latolukasz/changelog"
)

const defaultColumnsCacheSize = 1000

// Schema opens log tables of one database. Column lists are kept in a LRU cache so
// tables are introspected once.
type Schema struct {
	db    DBClient
	mutex sync.Mutex
	cache *lru.Cache
}

func NewSchema(db DBClient, cacheSize int) *Schema {
	if cacheSize <= 0 {
		cacheSize = defaultColumnsCacheSize
	}
	return &Schema{db: db, cache: lru.New(cacheSize)}
}

// Table returns log table with columns read from the database.
func (s *Schema) Table(ctx context.Context, name string) (*Table, error) {
	columns, err := s.columns(ctx, name)
	if err != nil {
		return nil, err
	}
	return newTable(s.db, name, columns), nil
}

// InTransaction returns the log table bound to tx, reusing cached columns.
func (s *Schema) InTransaction(ctx context.Context, tx DBClient, name string) (*Table, error) {
	columns, err := s.columns(ctx, name)
	if err != nil {
		return nil, err
	}
	return newTable(tx, name, columns), nil
}

// Forget drops cached columns of the table, next Table call reads them again.
func (s *Schema) Forget(name string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.cache.Remove(name)
}

func (s *Schema) columns(ctx context.Context, name string) ([]string, error) {
	s.mutex.Lock()
	cached, has := s.cache.Get(name)
	s.mutex.Unlock()
	if has {
		return cached.([]string), nil
	}
	columns, err := showColumns(ctx, s.db, name)
	if err != nil {
		return nil, err
	}
	s.mutex.Lock()
	s.cache.Add(name, columns)
	s.mutex.Unlock()
	return columns, nil
}

func showColumns(ctx context.Context, db DBClient, name string) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SHOW COLUMNS FROM "+quoteIdentifier(name))
	if err != nil {
		if isMissingTable(err) {
			return nil, &changelog.ConfigError{Message: "log table `" + name + "` doesn't exist"}
		}
		return nil, errors.Wrapf(err, "reading columns of `%s`", name)
	}
	defer rows.Close()
	columns := make([]string, 0)
	for rows.Next() {
		var field, fieldType, null, key, defaultValue, extra sql.NullString
		err = rows.Scan(&field, &fieldType, &null, &key, &defaultValue, &extra)
		if err != nil {
			return nil, err
		}
		columns = append(columns, field.String)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return columns, nil
}

func quoteIdentifier(name string) string {
	parts := strings.Split(name, ".")
	for i, part := range parts {
		parts[i] = "`" + strings.ReplaceAll(part, "`", "``") + "`"
	}
	return strings.Join(parts, ".")
}
