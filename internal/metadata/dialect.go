package metadata

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/fyrsmithlabs/islandd/internal/metadata/migrations"
)

// Supported drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// dialect isolates the few statements that differ between drivers.
type dialect interface {
	name() string
	dsn(raw string) (string, error)
	migrations() fs.FS
	// upsert builds an insert that updates the listed columns when the
	// conflict key already exists. An empty update list ignores the row.
	upsert(table string, cols, conflict, update []string) string
	isUniqueViolation(err error) bool
	// splitStatements reports whether migration files must be executed one
	// statement at a time.
	splitStatements() bool
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "", DriverSQLite:
		return sqliteDialect{}, nil
	case DriverMySQL:
		return mysqlDialect{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
}

type sqliteDialect struct{}

func (sqliteDialect) name() string { return DriverSQLite }

// dsn turns a file path into a DSN with WAL, a busy timeout, enforced
// foreign keys and write-locking transactions. Explicit query strings are
// kept untouched.
func (sqliteDialect) dsn(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: sqlite path required", ErrInvalidConfig)
	}
	if strings.Contains(raw, "?") {
		return raw, nil
	}
	return raw + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate", nil
}

func (sqliteDialect) migrations() fs.FS {
	sub, _ := fs.Sub(migrations.SQLite, "sqlite")
	return sub
}

func (sqliteDialect) upsert(table string, cols, conflict, update []string) string {
	var b strings.Builder
	writeInsert(&b, table, cols)
	fmt.Fprintf(&b, " ON CONFLICT (%s) DO ", strings.Join(conflict, ", "))
	if len(update) == 0 {
		b.WriteString("NOTHING")
		return b.String()
	}
	b.WriteString("UPDATE SET ")
	for i, c := range update {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s = excluded.%s", c, c)
	}
	return b.String()
}

func (sqliteDialect) isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func (sqliteDialect) splitStatements() bool { return false }

type mysqlDialect struct{}

func (mysqlDialect) name() string { return DriverMySQL }

// dsn forces time parsing in UTC so DATETIME columns scan into time.Time.
func (mysqlDialect) dsn(raw string) (string, error) {
	cfg, err := mysql.ParseDSN(raw)
	if err != nil {
		return "", fmt.Errorf("%w: parse mysql dsn: %v", ErrInvalidConfig, err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

func (mysqlDialect) migrations() fs.FS {
	sub, _ := fs.Sub(migrations.MySQL, "mysql")
	return sub
}

func (mysqlDialect) upsert(table string, cols, conflict, update []string) string {
	var b strings.Builder
	writeInsert(&b, table, cols)
	b.WriteString(" ON DUPLICATE KEY UPDATE ")
	if len(update) == 0 {
		fmt.Fprintf(&b, "%s = %s", conflict[0], conflict[0])
		return b.String()
	}
	for i, c := range update {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s = VALUES(%s)", c, c)
	}
	return b.String()
}

func (mysqlDialect) isUniqueViolation(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

func (mysqlDialect) splitStatements() bool { return true }

func writeInsert(b *strings.Builder, table string, cols []string) {
	fmt.Fprintf(b, "INSERT INTO %s (%s) VALUES (", table, strings.Join(cols, ", "))
	for i := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('?')
	}
	b.WriteByte(')')
}
