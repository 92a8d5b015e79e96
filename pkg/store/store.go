// Package store opens a bun.DB across SQLite, PostgreSQL, or MySQL from a
// single DSN, the way the teacher's pkg/database dispatches on URL scheme --
// minus the OTel instrumentation, which nothing in this module's operations
// exercises a span boundary for.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"    // SQLite driver
)

const (
	netTypeUnix      = "unix"
	schemePostgres   = "postgres"
	schemePostgresql = "postgresql"
)

// PoolConfig holds database connection pool settings. If a field is <= 0,
// a type-appropriate default is used.
type PoolConfig struct {
	MaxOpenConns int
	MaxIdleConns int
}

// Open detects the store type from dsn's scheme and returns a bun.DB wired
// to the matching driver and dialect.
func Open(dsn string, poolCfg *PoolConfig) (*bun.DB, Type, error) {
	typ, err := DetectFromDSN(dsn)
	if err != nil {
		return nil, TypeUnknown, err
	}

	var (
		sdb     *sql.DB
		dialect bun.Dialect
	)

	switch typ {
	case TypeSQLite:
		sdb, err = openSQLite(dsn, poolCfg)
		dialect = sqlitedialect.New()
	case TypePostgreSQL:
		sdb, err = openPostgreSQL(dsn, poolCfg)
		dialect = pgdialect.New()
	case TypeMySQL:
		sdb, err = openMySQL(dsn, poolCfg)
		dialect = mysqldialect.New()
	case TypeUnknown:
		fallthrough
	default:
		return nil, TypeUnknown, ErrUnsupportedDriver
	}

	if err != nil {
		return nil, TypeUnknown, fmt.Errorf("error opening the store at %q: %w", dsn, err)
	}

	return bun.NewDB(sdb, dialect), typ, nil
}

func applyPoolSettings(sdb *sql.DB, poolCfg *PoolConfig, defaultMaxOpen, defaultMaxIdle int) {
	maxOpen := defaultMaxOpen
	maxIdle := defaultMaxIdle

	if poolCfg != nil {
		if poolCfg.MaxOpenConns > 0 {
			maxOpen = poolCfg.MaxOpenConns
		}

		if poolCfg.MaxIdleConns > 0 {
			maxIdle = poolCfg.MaxIdleConns
		}
	}

	if maxOpen > 0 {
		sdb.SetMaxOpenConns(maxOpen)
	}

	if maxIdle > 0 {
		sdb.SetMaxIdleConns(maxIdle)
	}
}

func openSQLite(dsn string, poolCfg *PoolConfig) (*sql.DB, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}

	// "sqlite:relative.db" parses as an opaque URL with an empty Path.
	file := u.Path
	if file == "" {
		file = u.Opaque
	}

	sdb, err := sql.Open("sqlite3", file)
	if err != nil {
		return nil, err
	}

	if _, err := sdb.ExecContext(context.Background(), "PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("error enabling foreign keys: %w", err)
	}

	// SQLite serializes writers at the file level; more than one open
	// connection just produces "database is locked" errors.
	sdb.SetMaxOpenConns(1)

	if poolCfg != nil && poolCfg.MaxIdleConns > 0 {
		sdb.SetMaxIdleConns(poolCfg.MaxIdleConns)
	}

	return sdb, nil
}

func openPostgreSQL(dsn string, poolCfg *PoolConfig) (*sql.DB, error) {
	processedURL, err := parsePostgreSQLURL(dsn)
	if err != nil {
		return nil, err
	}

	sdb, err := sql.Open("pgx", processedURL)
	if err != nil {
		return nil, err
	}

	applyPoolSettings(sdb, poolCfg, 25, 5)

	return sdb, nil
}

func parsePostgreSQLURL(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}

	scheme := strings.ToLower(u.Scheme)
	if strings.Contains(scheme, "+unix") {
		socketDir, dbName := path.Split(u.Path)
		if dbName == "" {
			return "", fmt.Errorf("%w: missing database name in path: %s", ErrInvalidPostgresUnixURL, dsn)
		}

		if socketDir == "" {
			return "", fmt.Errorf("%w: missing socket directory in path: %s", ErrInvalidPostgresUnixURL, dsn)
		}

		socketDir = path.Clean(socketDir)

		u.Path = "/" + dbName
		q := u.Query()
		q.Set("host", socketDir)
		u.RawQuery = q.Encode()
	}

	if strings.Contains(scheme, "+") {
		switch {
		case strings.HasPrefix(scheme, schemePostgresql):
			u.Scheme = schemePostgresql
		case strings.HasPrefix(scheme, schemePostgres):
			u.Scheme = schemePostgres
		}
	}

	return u.String(), nil
}

func openMySQL(dsn string, poolCfg *PoolConfig) (*sql.DB, error) {
	cfg, err := parseMySQLConfig(dsn)
	if err != nil {
		return nil, err
	}

	sdb, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, err
	}

	applyPoolSettings(sdb, poolCfg, 25, 5)

	return sdb, nil
}

func parseMySQLConfig(dsn string) (*mysql.Config, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}

	cfg := mysql.NewConfig()

	if u.User != nil {
		cfg.User = u.User.Username()
		if password, ok := u.User.Password(); ok {
			cfg.Passwd = password
		}
	}

	query := u.Query()
	scheme := strings.ToLower(u.Scheme)

	switch {
	case strings.Contains(scheme, "+unix"):
		if err := parseMySQLUnixPath(cfg, u, dsn); err != nil {
			return nil, err
		}
	case query.Get("socket") != "":
		cfg.Net = netTypeUnix
		cfg.Addr = query.Get("socket")
	case query.Get("unix_socket") != "":
		cfg.Net = netTypeUnix
		cfg.Addr = query.Get("unix_socket")
	case query.Get("host") != "" && strings.HasPrefix(query.Get("host"), "/"):
		cfg.Net = netTypeUnix
		cfg.Addr = query.Get("host")
	case u.Host != "":
		cfg.Net = "tcp"
		cfg.Addr = u.Host
	}

	if cfg.DBName == "" && u.Path != "" {
		cfg.DBName = strings.TrimPrefix(u.Path, "/")
	}

	cfg.Params = map[string]string{
		"parseTime": "true",
		"loc":       "UTC",
		"time_zone": "'+00:00'",
	}

	for k, v := range query {
		if len(v) > 0 {
			cfg.Params[k] = v[0]
		}
	}

	return cfg, nil
}

func parseMySQLUnixPath(cfg *mysql.Config, u *url.URL, dsn string) error {
	socketPath, dbName := path.Split(u.Path)
	if dbName == "" {
		return fmt.Errorf("%w: missing database name in path: %s", ErrInvalidMySQLUnixURL, dsn)
	}

	if socketPath == "" {
		return fmt.Errorf("%w: missing socket path in path: %s", ErrInvalidMySQLUnixURL, dsn)
	}

	cfg.Net = netTypeUnix
	cfg.Addr = path.Clean(socketPath)
	cfg.DBName = dbName

	return nil
}
