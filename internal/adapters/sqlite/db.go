// Package sqlite is the lite-mode store: the same contract as the Postgres
// adapter, backed by an embedded pure-Go SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"ipopipe/internal/adapters/migrations"
	"ipopipe/internal/ports"
)

const (
	tsLayout   = "2006-01-02 15:04:05.000000"
	dateLayout = "2006-01-02"
)

type DB struct {
	db *sql.DB
}

var _ ports.Store = (*DB)(nil)

// Open opens (or creates) the database at path and applies migrations.
// Use ":memory:" for a throwaway store.
func Open(ctx context.Context, path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one connection: keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := migrations.Up(ctx, db, goose.DialectSQLite3); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db: db}, nil
}

func (s *DB) Close() { _ = s.db.Close() }

// MigrationVersion reports the applied schema version.
func (s *DB) MigrationVersion(ctx context.Context) (int64, error) {
	return migrations.Version(ctx, s.db, goose.DialectSQLite3)
}

// WithTx commits when fn returns nil and rolls back otherwise.
func (s *DB) WithTx(ctx context.Context, fn func(tx ports.Tx) error) error {
	return s.inTx(ctx, func(tx *sql.Tx) error { return fn(&txn{tx: tx}) })
}

func (s *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("commit: %w", cerr)
		}
	}()
	return fn(tx)
}

type txn struct {
	tx *sql.Tx
}

func formatTS(t time.Time) string { return t.UTC().Format(tsLayout) }

func parseTS(s string) (time.Time, error) {
	return time.ParseInLocation(tsLayout, s, time.UTC)
}

func formatDate(t time.Time) string { return t.Format(dateLayout) }

func parseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, time.UTC)
}
