package query

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/lib/pq"
)

// ErrUndefinedColumn is returned when the store rejects a query because it
// references a column the table does not have.
var ErrUndefinedColumn = errors.New("undefined column")

// Dialect captures the SQL differences between supported stores.
type Dialect interface {
	Name() string
	Placeholder(n int) string
	ColumnsQuery(table string) (string, []interface{})
	IsUndefinedColumn(err error) bool
	// DateExpr and DateValue are the two sides of a date comparison.
	DateExpr(col string) string
	DateValue(t time.Time) interface{}
}

type postgresDialect struct{}

// Postgres renders $n placeholders and classifies lib/pq errors.
var Postgres Dialect = postgresDialect{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (postgresDialect) ColumnsQuery(table string) (string, []interface{}) {
	return "SELECT column_name FROM information_schema.columns WHERE table_name = $1 AND table_schema = ANY(current_schemas(false))",
		[]interface{}{table}
}

func (postgresDialect) IsUndefinedColumn(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42703"
	}
	return false
}

func (postgresDialect) DateExpr(col string) string { return col }

func (postgresDialect) DateValue(t time.Time) interface{} { return t }

type sqliteDialect struct{}

// SQLite renders ? placeholders for the pure-Go sqlite driver.
var SQLite Dialect = sqliteDialect{}

func (sqliteDialect) Name() string { return "sqlite" }

func (sqliteDialect) Placeholder(int) string { return "?" }

func (sqliteDialect) ColumnsQuery(table string) (string, []interface{}) {
	return "SELECT name FROM pragma_table_info(?)", []interface{}{table}
}

func (sqliteDialect) IsUndefinedColumn(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such column")
}

// DateExpr normalises text dates ("2024-01-10", RFC 3339, with or without an
// offset) to UTC "YYYY-MM-DD HH:MM:SS" so they compare as strings.
func (sqliteDialect) DateExpr(col string) string { return "datetime(" + col + ")" }

func (sqliteDialect) DateValue(t time.Time) interface{} {
	return t.UTC().Format("2006-01-02 15:04:05")
}

// DialectFor maps a database/sql driver name to its dialect.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "postgres", "pq":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return nil, fmt.Errorf("unsupported driver %q", driver)
}

// Open opens a connection for driver and returns it with its dialect.
func Open(driver, dsn string) (*sql.DB, Dialect, error) {
	d, err := DialectFor(driver)
	if err != nil {
		return nil, nil, err
	}
	name := "postgres"
	if d == SQLite {
		name = "sqlite"
	}
	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, d, nil
}
