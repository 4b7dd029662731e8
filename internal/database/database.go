package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"flowplay/internal/apperr"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Dialect identifies the SQL backend behind a Database.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

const sqliteParams = "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"

// Database wraps a *sql.DB providing the user, track and playlist queries
// used by the stores. It is constructed once at startup and shared by every
// request; the underlying pool is safe for concurrent use.
type Database struct {
	conn    *sql.DB
	dialect Dialect
	logger  *logrus.Logger
	now     func() time.Time
}

// Open connects to the database named by dsn and applies pending migrations.
// A dsn starting with postgres:// or postgresql:// selects the pgx driver;
// anything else is treated as a sqlite path, optionally prefixed with sqlite://.
func Open(ctx context.Context, dsn string, maxConns int, logger *logrus.Logger) (*Database, error) {
	dialect, driver, source := parseDSN(dsn)

	conn, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if maxConns < 1 {
		maxConns = 1
	}
	if dialect == DialectSQLite && maxConns > 5 {
		// SQLite works better with fewer connections
		maxConns = 5
	}
	conn.SetMaxOpenConns(maxConns)
	conn.SetMaxIdleConns(maxConns / 2)
	conn.SetConnMaxLifetime(15 * time.Minute)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := newDatabase(conn, dialect, logger)
	if err := db.migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	logger.WithField("dialect", dialect).Info("Database initialized successfully")
	return db, nil
}

func newDatabase(conn *sql.DB, dialect Dialect, logger *logrus.Logger) *Database {
	return &Database{
		conn:    conn,
		dialect: dialect,
		logger:  logger,
		now:     time.Now,
	}
}

func parseDSN(dsn string) (Dialect, string, string) {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return DialectPostgres, "pgx", dsn
	}

	path := strings.TrimPrefix(dsn, "sqlite://")
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return DialectSQLite, "sqlite3", path + sep + sqliteParams
}

func (db *Database) migrate(ctx context.Context) error {
	dialect := goose.DialectSQLite3
	if db.dialect == DialectPostgres {
		dialect = goose.DialectPostgres
	}

	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}

	provider, err := goose.NewProvider(dialect, db.conn, sub)
	if err != nil {
		return err
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return err
	}
	for _, r := range results {
		db.logger.WithFields(logrus.Fields{
			"version":  r.Source.Version,
			"duration": r.Duration,
		}).Debug("Applied migration")
	}
	return nil
}

// Ping verifies the connection is alive.
func (db *Database) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Dialect reports which backend is in use.
func (db *Database) Dialect() Dialect {
	return db.dialect
}

// Close closes the connection pool. Only called on process shutdown.
func (db *Database) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// timestamp returns the current time at the precision every backend stores.
func (db *Database) timestamp() time.Time {
	return db.now().UTC().Truncate(time.Microsecond)
}

// rebind rewrites ? placeholders to $n for postgres.
func (db *Database) rebind(query string) string {
	if db.dialect != DialectPostgres {
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

func (db *Database) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.conn.ExecContext(ctx, db.rebind(query), args...)
}

func (db *Database) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.conn.QueryContext(ctx, db.rebind(query), args...)
}

func (db *Database) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return db.conn.QueryRowContext(ctx, db.rebind(query), args...)
}

func (db *Database) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := db.queryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

// mapError converts driver errors into the application taxonomy. what names
// the entity for not-found messages.
func mapError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(what + " not found")
	}
	if isUniqueViolation(err) {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "username"):
			return &apperr.Error{Kind: apperr.KindConflict, Field: "username", Message: "username already taken", Err: err}
		case strings.Contains(msg, "email"):
			return &apperr.Error{Kind: apperr.KindConflict, Field: "email", Message: "email already registered", Err: err}
		}
		return &apperr.Error{Kind: apperr.KindConflict, Message: what + " already exists", Err: err}
	}
	return fmt.Errorf("db error: %w", err)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// escapeLike escapes LIKE metacharacters so user input matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func containsPattern(s string) string {
	return "%" + escapeLike(strings.ToLower(s)) + "%"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
