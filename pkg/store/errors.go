package store

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrUnsupportedDriver is returned when a DSN's scheme is not recognized.
	ErrUnsupportedDriver = errors.New("unsupported store driver")

	// ErrInvalidPostgresUnixURL is returned when a postgres+unix DSN is
	// missing its socket directory or database name.
	ErrInvalidPostgresUnixURL = errors.New("invalid postgres unix socket URL")

	// ErrInvalidMySQLUnixURL is returned when a mysql+unix DSN is missing
	// its socket path or database name.
	ErrInvalidMySQLUnixURL = errors.New("invalid mysql unix socket URL")

	// ErrNotFound is returned when a lookup finds no matching row.
	ErrNotFound = errors.New("not found")
)

// IsDuplicateKeyError reports whether err is a unique-constraint violation,
// across SQLite, PostgreSQL, and MySQL. Ported from the teacher's
// database.IsDuplicateKeyError.
func IsDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062 // ER_DUP_ENTRY
	}

	errStr := strings.ToLower(err.Error())

	return strings.Contains(errStr, "unique constraint") ||
		strings.Contains(errStr, "duplicate entry") ||
		strings.Contains(errStr, "duplicate key")
}

// IsNotFoundError reports whether err is (or wraps) ErrNotFound.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}
