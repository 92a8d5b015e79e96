package store

import (
	"fmt"
	"net/url"
	"strings"
)

// Type identifies which SQL dialect a DSN refers to.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeSQLite
	TypePostgreSQL
	TypeMySQL
)

// String returns the human-readable name of t.
func (t Type) String() string {
	switch t {
	case TypeSQLite:
		return "SQLite"
	case TypePostgreSQL:
		return "PostgreSQL"
	case TypeMySQL:
		return "MySQL"
	case TypeUnknown:
		fallthrough
	default:
		return "unknown"
	}
}

// DetectFromDSN detects the store type from a connection string's scheme,
// ported from the teacher's database.DetectFromDataseURL.
func DetectFromDSN(dsn string) (Type, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return TypeUnknown, fmt.Errorf("error parsing the store DSN %q: %w", dsn, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "sqlite", "sqlite3":
		return TypeSQLite, nil
	case "postgres", "postgresql":
		return TypePostgreSQL, nil
	case "mysql":
		return TypeMySQL, nil
	default:
		return TypeUnknown, fmt.Errorf("%w: %q", ErrUnsupportedDriver, u.Scheme)
	}
}
