// Package sqlstore implements store.Store on database/sql for PostgreSQL
// (lib/pq) and SQLite (mattn/go-sqlite3). Queries are written with "?"
// placeholders and rebound for the active dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"approval-chain/pkg/account"
	"approval-chain/pkg/store"
	"approval-chain/pkg/transaction"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
	sqlite "github.com/mattn/go-sqlite3"
)

//go:embed migrations
var migrationsFS embed.FS

// Dialect selects the SQL flavour and driver.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite3"
)

// ParseDialect maps a configured driver name to a Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return "", fmt.Errorf("sqlstore: unknown dialect %q", name)
}

// rebind converts "?" placeholders to "$n" for PostgreSQL.
func (d Dialect) rebind(query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a SQL-backed store.Store.
type Store struct {
	db      DBTX
	dialect Dialect
}

// Open connects to dsn with the driver of dialect and applies pending
// migrations. For SQLite, dsn is a file path.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	db, err := Connect(ctx, dialect, dsn)
	if err != nil {
		return nil, err
	}
	if err := MigrateUp(db, dialect); err != nil {
		db.Close()
		return nil, err
	}

	return New(db, dialect), nil
}

// Connect opens and pings the database without touching its schema.
func Connect(ctx context.Context, dialect Dialect, dsn string) (*sql.DB, error) {
	var db *sql.DB
	var err error

	switch dialect {
	case SQLite:
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("can not create database directory %s: %w", dir, err)
			}
		}
		db, err = sql.Open("sqlite3", dsn+"?_foreign_keys=on&_busy_timeout=5000")
		if err == nil {
			// SQLite allows a single writer.
			db.SetMaxOpenConns(1)
		}
	case Postgres:
		db, err = sql.Open("postgres", dsn)
	default:
		return nil, fmt.Errorf("sqlstore: unknown dialect %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("can not open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("can not connect with database: %w", err)
	}
	return db, nil
}

// New wraps an open database. Migrations are not applied.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

func newMigrate(db *sql.DB, dialect Dialect) (*migrate.Migrate, error) {
	var driver database.Driver
	var err error
	switch dialect {
	case Postgres:
		driver, err = migratepg.WithInstance(db, &migratepg.Config{})
	case SQLite:
		driver, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	default:
		return nil, fmt.Errorf("sqlstore: unknown dialect %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set up migrate driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations/"+string(dialect))
	if err != nil {
		return nil, fmt.Errorf("failed to create iofs source driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, string(dialect), driver)
	if err != nil {
		return nil, fmt.Errorf("failed to set up migrate instance: %w", err)
	}
	return m, nil
}

// MigrateUp applies every pending migration.
func MigrateUp(db *sql.DB, dialect Dialect) error {
	m, err := newMigrate(db, dialect)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migration (up): %w", err)
	}
	return nil
}

// MigrateDown reverts every applied migration.
func MigrateDown(db *sql.DB, dialect Dialect) error {
	m, err := newMigrate(db, dialect)
	if err != nil {
		return err
	}
	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migration (down): %w", err)
	}
	return nil
}

// DB returns the underlying database, or nil inside ExecTx.
func (s *Store) DB() *sql.DB {
	db, _ := s.db.(*sql.DB)
	return db
}

// Dialect returns the dialect of the store.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// ExecTx runs fn against a store bound to one database transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
func (s *Store) ExecTx(ctx context.Context, fn func(*Store) error) error {
	db, ok := s.db.(*sql.DB)
	if !ok {
		return fmt.Errorf("sqlstore: store is already in a transaction")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(&Store{db: tx, dialect: s.dialect}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// Close closes the database.
func (s *Store) Close() error {
	if db, ok := s.db.(*sql.DB); ok {
		return db.Close()
	}
	return nil
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

// isUniqueViolation reports whether err is a unique constraint failure in
// either dialect.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// Commit implements store.Store.
func (s *Store) Commit(ctx context.Context, tx *transaction.Transaction, accounts ...*account.Account) error {
	ref := tx.Reference
	if tx.ID == 0 && ref == "" {
		ref = transaction.NewReference()
	}

	var id int64
	err := s.ExecTx(ctx, func(q *Store) error {
		var err error
		if tx.ID == 0 {
			id, err = q.insertTransaction(ctx, tx, ref)
		} else {
			id = tx.ID
			err = q.updateTransaction(ctx, tx)
		}
		if err != nil {
			return err
		}
		if err := q.replaceAudit(ctx, id, tx.Audit()); err != nil {
			return err
		}
		for _, a := range accounts {
			if a == nil {
				continue
			}
			if err := q.updateAccount(ctx, a); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	tx.ID = id
	tx.Reference = ref
	return nil
}

var _ store.Store = (*Store)(nil)
