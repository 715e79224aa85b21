// Package storage opens the SQLite file (or in-memory database) that
// backs a Freezer store and applies the pragmas and schema the rest of
// the engine assumes are in place.
//
// The spec's "per-thread connection, never shared" design has no
// direct analogue in Go: there is no per-goroutine connection cache to
// build. database/sql's own pool is the idiomatic replacement. Backend
// holds two pools over the same file — one capped at a single
// connection for writers, one unbounded for readers — which gets the
// same outcome (one writer, many concurrent WAL readers, no handle
// shared across a write and a concurrent read) without goroutine-local
// bookkeeping.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/freezerdb/freezer/internal/config"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS data(
	row_id INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id TEXT NOT NULL,
	key TEXT NOT NULL,
	value BLOB,
	tx_id INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS lookup ON data(entity_id, key, tx_id);
`

// Backend is a typed wrapper over the backing relational file.
type Backend struct {
	writeDB *sql.DB
	readDB  *sql.DB
}

// Open opens (or creates) the SQLite file at path.
func Open(path string, cfg config.Config) (*Backend, error) {
	return open(path, cfg)
}

// OpenInMemory opens a private, shared-cache in-memory database, per
// the path form `file:<uuid>?mode=memory&cache=shared` — shared cache
// is required so writeDB's and readDB's pooled connections see the
// same in-memory database instead of each getting their own empty one.
func OpenInMemory(uuid string, cfg config.Config) (*Backend, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid)
	return open(dsn, cfg)
}

func open(dsn string, cfg config.Config) (*Backend, error) {
	writeDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, &StorageError{Op: "open write pool", Err: err}
	}
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)

	readDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		writeDB.Close()
		return nil, &StorageError{Op: "open read pool", Err: err}
	}

	b := &Backend{writeDB: writeDB, readDB: readDB}

	if err := b.applyPragmas(cfg); err != nil {
		b.Close()
		return nil, err
	}
	if err := b.applySchema(); err != nil {
		b.Close()
		return nil, err
	}

	return b, nil
}

func (b *Backend) applyPragmas(cfg config.Config) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeoutMS),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA legacy_file_format = 0",
		fmt.Sprintf("PRAGMA cache_size = %d", cfg.CacheSizePages),
		fmt.Sprintf("PRAGMA page_size = %d", cfg.PageSize),
	}
	for _, db := range []*sql.DB{b.writeDB, b.readDB} {
		for _, pragma := range pragmas {
			if _, err := db.Exec(pragma); err != nil {
				return &StorageError{Op: pragma, Err: err}
			}
		}
	}
	return nil
}

func (b *Backend) applySchema() error {
	if _, err := b.writeDB.Exec(schemaSQL); err != nil {
		return &StorageError{Op: "create schema", Err: err}
	}
	return nil
}

// WriteDB returns the pool every write transaction must use.
func (b *Backend) WriteDB() *sql.DB { return b.writeDB }

// ReadDB returns the pool every read transaction uses.
func (b *Backend) ReadDB() *sql.DB { return b.readDB }

// Close closes both pools.
func (b *Backend) Close() error {
	var firstErr error
	if err := b.writeDB.Close(); err != nil {
		firstErr = err
	}
	if err := b.readDB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return &StorageError{Op: "close", Err: firstErr}
	}
	return nil
}

// Ping verifies both pools can reach the database, surfacing I/O or
// corruption failures eagerly instead of on first real use.
func (b *Backend) Ping(ctx context.Context) error {
	if err := b.writeDB.PingContext(ctx); err != nil {
		return &StorageError{Op: "ping write pool", Err: err}
	}
	if err := b.readDB.PingContext(ctx); err != nil {
		return &StorageError{Op: "ping read pool", Err: err}
	}
	return nil
}

// StorageError reports I/O, corruption, or constraint failures
// surfaced by the backend, per spec §7.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
