package cache

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore keeps the cache record in a SQLite database. Save replaces the
// whole record inside one transaction.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create db directory: %v", ErrCacheIO, err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %v", ErrCacheIO, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping sqlite: %v", ErrCacheIO, err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrCacheIO, err)
	}
	return &SQLiteStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Load reads every account snapshot and the notification marker.
func (s *SQLiteStore) Load(ctx context.Context) (Cache, error) {
	c := Cache{Accounts: map[string]AccountSnapshot{}}
	rows, err := s.db.QueryContext(ctx, `SELECT account_id, balance, balance_date FROM account_snapshots`)
	if err != nil {
		return Cache{}, fmt.Errorf("%w: query accounts: %v", ErrCacheIO, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			snap    AccountSnapshot
			balance string
		)
		if err := rows.Scan(&snap.AccountID, &balance, &snap.BalanceTimestamp); err != nil {
			return Cache{}, fmt.Errorf("%w: scan account: %v", ErrCacheIO, err)
		}
		snap.Balance, err = decimal.NewFromString(balance)
		if err != nil {
			return Cache{}, fmt.Errorf("%w: parse balance for %s: %v", ErrCacheIO, snap.AccountID, err)
		}
		c.Accounts[snap.AccountID] = snap
	}
	if err := rows.Err(); err != nil {
		return Cache{}, fmt.Errorf("%w: iterate accounts: %v", ErrCacheIO, err)
	}

	var last sql.NullInt64
	err = s.db.QueryRowContext(ctx, `SELECT last_successful_notification FROM notification_state WHERE id = 1`).Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Cache{}, fmt.Errorf("%w: query notification state: %v", ErrCacheIO, err)
	}
	if last.Valid {
		ts := last.Int64
		c.LastSuccessfulNotification = &ts
	}
	return c, nil
}

// Save replaces the stored record with c.
func (s *SQLiteStore) Save(ctx context.Context, c Cache) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrCacheIO, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM account_snapshots`); err != nil {
		return fmt.Errorf("%w: clear accounts: %v", ErrCacheIO, err)
	}
	for id, snap := range c.Accounts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO account_snapshots (account_id, balance, balance_date) VALUES (?, ?, ?)`,
			id, snap.Balance.String(), snap.BalanceTimestamp,
		); err != nil {
			return fmt.Errorf("%w: insert account %s: %v", ErrCacheIO, id, err)
		}
	}
	var last sql.NullInt64
	if c.LastSuccessfulNotification != nil {
		last = sql.NullInt64{Int64: *c.LastSuccessfulNotification, Valid: true}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO notification_state (id, last_successful_notification) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET last_successful_notification = excluded.last_successful_notification`,
		last,
	); err != nil {
		return fmt.Errorf("%w: write notification state: %v", ErrCacheIO, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrCacheIO, err)
	}
	return nil
}
