// Package sqlstore implements the persistence interfaces on database/sql
// for PostgreSQL (pgx) and SQLite (modernc).
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"residencial.org/internal/migrate"
	"residencial.org/migrations"
)

// Driver names a database/sql driver.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "pgx"
)

const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_time_format=sqlite"

// ParseDSN maps DATABASE_URL onto a driver and a DSN it accepts.
// postgres:// and postgresql:// go to pgx; sqlite:// and bare paths go to SQLite.
func ParseDSN(databaseURL string) (Driver, string) {
	switch {
	case databaseURL == "":
		return DriverSQLite, "file:residencial.db?" + sqlitePragmas
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return DriverPostgres, databaseURL
	case strings.HasPrefix(databaseURL, "sqlite://"):
		path := strings.TrimPrefix(strings.TrimPrefix(databaseURL, "sqlite://"), "/")
		return DriverSQLite, sqliteDSN(path)
	}
	if u, err := url.Parse(databaseURL); err == nil {
		switch u.Scheme {
		case "postgres", "postgresql":
			return DriverPostgres, databaseURL
		}
	}
	return DriverSQLite, sqliteDSN(databaseURL)
}

func sqliteDSN(path string) string {
	if path == ":memory:" {
		return "file::memory:?_pragma=foreign_keys(1)&_time_format=sqlite"
	}
	return "file:" + path + "?" + sqlitePragmas
}

// DB is a *sql.DB that knows its dialect.
type DB struct {
	*sql.DB
	driver Driver
}

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*DB, error) {
	driver, dsn := ParseDSN(databaseURL)
	sqlDB, err := sql.Open(string(driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverPostgres {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(15 * time.Minute)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	} else {
		// SQLite allows one writer; a single connection also keeps :memory: databases alive.
		sqlDB.SetMaxOpenConns(1)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return &DB{DB: sqlDB, driver: driver}, nil
}

// Wrap adopts an existing handle, e.g. a sqlmock connection.
func Wrap(db *sql.DB, driver Driver) *DB {
	return &DB{DB: db, driver: driver}
}

// Driver reports the dialect in use.
func (d *DB) Driver() Driver { return d.driver }

// Rebind rewrites '?' placeholders to $n for PostgreSQL.
func (d *DB) Rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Migrations returns a migration manager over the embedded schema for this dialect.
func (d *DB) Migrations() (*migrate.Manager, error) {
	dir := "sqlite"
	if d.driver == DriverPostgres {
		dir = "postgres"
	}
	files, err := migrations.For(dir)
	if err != nil {
		return nil, err
	}
	return migrate.NewManager(d.DB, files, migrate.WithRebind(d.Rebind)), nil
}

// Migrate applies every pending migration.
func (d *DB) Migrate(ctx context.Context) error {
	m, err := d.Migrations()
	if err != nil {
		return err
	}
	return m.Up(ctx)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func nullIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
