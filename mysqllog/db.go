package mysqllog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"github.com/latolukasz/changelog"
)

const sourceMySQL = "mysql"

type PoolOptions struct {
	ConnMaxLifetime    time.Duration
	MaxOpenConnections int
	MaxIdleConnections int
}

type SQLRows interface {
	Next() bool
	Err() error
	Close() error
	Scan(dest ...interface{}) error
	Columns() ([]string, error)
}

// DBClient is the part of a connection or transaction used to write and read log tables.
type DBClient interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (SQLRows, error)
}

type dbClientQuery interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

type standardSQLClient struct {
	db dbClientQuery
}

// NewClient wraps *sql.DB, *sql.Conn or *sql.Tx. Passing the transaction used to save the
// owner entity makes the log record part of the same transaction.
func NewClient(db dbClientQuery) DBClient {
	return &standardSQLClient{db: db}
}

func (c *standardSQLClient) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return c.db.ExecContext(ctx, query, args...)
}

func (c *standardSQLClient) QueryContext(ctx context.Context, query string, args ...interface{}) (SQLRows, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

type DB struct {
	client       *sql.DB
	sqlClient    DBClient
	code         string
	databaseName string
	loggers      []changelog.LogHandler
}

// Open connects to MySQL pool described by data source name, for example
// "root:root@tcp(localhost:3306)/app_log".
func Open(dataSourceName string, options PoolOptions, code ...string) (*DB, error) {
	cfg, err := mysql.ParseDSN(dataSourceName)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid mysql data source '%s'", dataSourceName)
	}
	client, err := sql.Open("mysql", dataSourceName)
	if err != nil {
		return nil, err
	}
	maxOpen := 100
	if options.MaxOpenConnections > 0 {
		maxOpen = options.MaxOpenConnections
	}
	maxIdle := maxOpen
	if options.MaxIdleConnections > 0 && options.MaxIdleConnections < maxOpen {
		maxIdle = options.MaxIdleConnections
	}
	maxLifetime := 5 * time.Minute
	if options.ConnMaxLifetime > 0 {
		maxLifetime = options.ConnMaxLifetime
	}
	client.SetMaxOpenConns(maxOpen)
	client.SetMaxIdleConns(maxIdle)
	client.SetConnMaxLifetime(maxLifetime)
	dbCode := "default"
	if len(code) > 0 {
		dbCode = code[0]
	}
	return &DB{client: client, sqlClient: NewClient(client), code: dbCode, databaseName: cfg.DBName}, nil
}

func (db *DB) GetCode() string {
	return db.code
}

func (db *DB) GetDatabase() string {
	return db.databaseName
}

func (db *DB) Close() error {
	return db.client.Close()
}

func (db *DB) RegisterQueryLogger(handler changelog.LogHandler) {
	db.loggers = append(db.loggers, handler)
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return db.logged(db.sqlClient).ExecContext(ctx, query, args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (SQLRows, error) {
	return db.logged(db.sqlClient).QueryContext(ctx, query, args...)
}

// Begin starts a transaction. Log tables opened with the returned Tx write inside it,
// queries are reported to the loggers of db.
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := db.client.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{DBClient: db.logged(NewClient(tx)), tx: tx}, nil
}

func (db *DB) logged(client DBClient) DBClient {
	return &loggedClient{db: db, client: client}
}

type loggedClient struct {
	db     *DB
	client DBClient
}

func (c *loggedClient) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	start := time.Now()
	res, err := c.client.ExecContext(ctx, query, args...)
	c.db.fillLogFields(ctx, "EXEC", query, args, start, err)
	return res, err
}

func (c *loggedClient) QueryContext(ctx context.Context, query string, args ...interface{}) (SQLRows, error) {
	start := time.Now()
	rows, err := c.client.QueryContext(ctx, query, args...)
	c.db.fillLogFields(ctx, "SELECT", query, args, start, err)
	return rows, err
}

func (db *DB) fillLogFields(ctx context.Context, operation, query string, args []interface{}, start time.Time, err error) {
	if len(db.loggers) == 0 {
		return
	}
	message := query
	if len(args) > 0 {
		message += " " + fmt.Sprintf("%v", args)
	}
	fields := map[string]interface{}{
		"operation":    operation,
		"query":        message,
		"pool":         db.code,
		"source":       sourceMySQL,
		"microseconds": time.Since(start).Microseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	for _, handler := range db.loggers {
		handler.Handle(ctx, fields)
	}
}

type Tx struct {
	DBClient
	tx *sql.Tx
}

func (tx *Tx) Commit() error {
	return tx.tx.Commit()
}

func (tx *Tx) Rollback() error {
	err := tx.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

func isMissingTable(err error) bool {
	var mysqlError *mysql.MySQLError
	return errors.As(err, &mysqlError) && mysqlError.Number == 1146
}
