// Package freezer implements an embedded, append-only, transactional
// key-value store with multi-version snapshot reads and a
// change-notification stream, backed by SQLite.
//
// Freezer persists entity/attribute/value tuples in a local relational
// table and exposes immutable snapshots ("databases") indexed by a
// monotonically increasing transaction identifier. The core surface is
// a Store, obtained from Open or OpenInMemory, a Transactor for
// mutating it, and a change stream for observing commits.
package freezer

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/freezerdb/freezer/internal/changefeed"
	"github.com/freezerdb/freezer/internal/codec"
	"github.com/freezerdb/freezer/internal/coordinator"
	"github.com/freezerdb/freezer/internal/manifest"
	"github.com/freezerdb/freezer/internal/snapshot"
	"github.com/freezerdb/freezer/internal/storage"
	"github.com/freezerdb/freezer/internal/tuplelog"
)

// Value is a decoded tuple value, re-exported so callers never import
// internal/codec directly.
type Value = codec.Value

// Kind identifies a value's wire type tag.
type Kind = codec.Kind

// Database is the immutable, head-pinned snapshot view from spec §4.3.
type Database = snapshot.Database

// AttributeValue is the resolved form of one entity's attribute.
type AttributeValue = snapshot.AttributeValue

// Cursor is the minimal read-only interface an external query/filter
// builder consumes over a Database.
type Cursor = snapshot.Cursor

// Change describes one observable mutation within a commit batch.
type Change = changefeed.Change

// ChangeType distinguishes an add from a removal within a Change.
type ChangeType = changefeed.ChangeType

const (
	ChangeTypeAdd    = changefeed.ChangeTypeAdd
	ChangeTypeRemove = changefeed.ChangeTypeRemove
)

// NoHead is the HeadID value Database reports before any transaction
// has committed.
const NoHead = snapshot.NoHead

// Store is an open Freezer database: the storage backend, the
// transaction coordinator built over it, and the change feed every
// commit publishes to.
type Store struct {
	backend *storage.Backend
	coord   *coordinator.Coordinator
	feed    *changefeed.Feed
}

// Open opens (or creates) the SQLite file at path and returns a ready
// Store.
func Open(path string, opts ...Option) (*Store, error) {
	o := newOptions(opts)
	backend, err := storage.Open(path, o.config)
	if err != nil {
		return nil, err
	}
	return newStore(backend, o)
}

// OpenInMemory opens a private, shared-cache in-memory database, per
// spec §6's `file:<uuid>?mode=memory&cache=shared` form.
func OpenInMemory(opts ...Option) (*Store, error) {
	o := newOptions(opts)
	backend, err := storage.OpenInMemory(uuid.New().String(), o.config)
	if err != nil {
		return nil, err
	}
	return newStore(backend, o)
}

func newStore(backend *storage.Backend, o options) (*Store, error) {
	feed := changefeed.New()

	head, err := currentHead(context.Background(), backend)
	if err != nil {
		backend.Close()
		feed.Close()
		return nil, err
	}

	coord := coordinator.New(backend.WriteDB(), backend.ReadDB(), feed, snapshot.New(backend.ReadDB(), head))
	s := &Store{backend: backend, coord: coord, feed: feed}

	if o.hasManifest {
		entries, err := manifest.Parse(o.manifestSource)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open: parse attribute manifest: %w", err)
		}
		if err := s.applyManifest(context.Background(), entries); err != nil {
			s.Close()
			return nil, fmt.Errorf("open: apply attribute manifest: %w", err)
		}
	}

	return s, nil
}

// currentHead reads the well-known head pointer chain fresh (bypassing
// any snapshot bound), returning NoHead if the store has never
// committed.
func currentHead(ctx context.Context, backend *storage.Backend) (int64, error) {
	tup, ok, err := tuplelog.LatestFor(ctx, backend.ReadDB(), tuplelog.HeadEntityID, tuplelog.HeadKey, tuplelog.NoBound)
	if err != nil {
		return 0, fmt.Errorf("read head pointer: %w", err)
	}
	if !ok {
		return snapshot.NoHead, nil
	}
	val, err := codec.Decode(tup.Value)
	if err != nil {
		return 0, fmt.Errorf("decode head pointer: %w", err)
	}
	return val.Integer, nil
}

func (s *Store) applyManifest(ctx context.Context, entries []manifest.Entry) error {
	t := s.Transactor()
	_, err := s.coord.WriteTransaction(ctx, func(ctx context.Context, tx *sql.Tx, txID int64) (bool, error) {
		for _, e := range entries {
			if err := t.AddAttribute(ctx, e.Name, e.Type, e.Collection); err != nil {
				return false, err
			}
		}
		return true, nil
	})
	return err
}

// Close closes the backing storage and completes the change stream.
func (s *Store) Close() error {
	s.feed.Close()
	return s.backend.Close()
}

// Transactor returns the facade for mutating this store, per spec
// §4.4.
func (s *Store) Transactor() *Transactor {
	return &Transactor{store: s}
}

// Write opens a write transaction (or joins one already active on
// ctx) and runs fn with a context carrying that transaction's state,
// per spec §4.5's write_transaction(block) primitive. Transactor
// calls made with the returned ctx — including by a nested call to
// Write itself — join the same transaction instead of opening their
// own. A non-nil return from fn fails the block; if fn's nested Write
// call fails, the outer transaction fails too, even if the outer fn
// itself returns nil, per the "first failure wins" nesting rule.
func (s *Store) Write(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := s.coord.WriteTransaction(ctx, func(ctx context.Context, tx *sql.Tx, txID int64) (bool, error) {
		if err := fn(ctx); err != nil {
			return false, err
		}
		return true, nil
	})
	return err
}

// Read opens a deferred read transaction (or joins one already active
// on ctx) and runs fn against a consistent snapshot for its duration,
// per spec §4.5's read_transaction(block) primitive.
func (s *Store) Read(ctx context.Context, fn func(ctx context.Context, db Database) error) error {
	_, err := s.coord.ReadTransaction(ctx, func(ctx context.Context, db Database) (bool, error) {
		if err := fn(ctx, db); err != nil {
			return false, err
		}
		return true, nil
	})
	return err
}

// CurrentDatabase returns the memoized current snapshot. On a
// brand-new store with no commits, its HeadID is negative (NoHead),
// per SPEC_FULL §9.
func (s *Store) CurrentDatabase() Database {
	return s.coord.Current()
}

// Changes subscribes to the store-wide change stream, returning a
// channel of commit batches in commit order and an unsubscribe
// function. The channel closes when the store is closed.
func (s *Store) Changes() (<-chan []Change, func()) {
	batches, unsubscribe := s.feed.Subscribe()
	out := make(chan []Change)
	go func() {
		defer close(out)
		for batch := range batches {
			out <- batch.Changes
		}
	}()
	return out, unsubscribe
}

// ValuesAndChangesFor is the derived per-entity feed from spec §4.6.2:
// it emits immediately the entity's current resolved attributes, then
// every subsequent change touching entityID, each paired with the
// snapshot it was observed in. The initial element is skipped when the
// store has never committed (HeadID < 0) or when resolving the entity
// fails.
func (s *Store) ValuesAndChangesFor(ctx context.Context, entityID string) (<-chan EntityValueChange, func()) {
	stop := make(chan struct{})
	raw := s.feed.ValuesAndChangesFor(entityID, stop)
	out := make(chan EntityValueChange, 16)

	unsubscribe := func() { close(stop) }

	go func() {
		defer close(out)

		current := s.CurrentDatabase()
		if current.HeadID() >= 0 {
			attrs, err := current.Entity(ctx, entityID)
			if err == nil {
				out <- EntityValueChange{Database: current, Attributes: attrs}
			} else {
				slog.Warn("values_and_changes_for: initial resolve failed", "entity", entityID, "error", err)
			}
		}

		for ec := range raw {
			db := snapshot.New(s.backend.ReadDB(), ec.Snapshot.Head)
			attrs, err := db.Entity(ctx, entityID)
			if err != nil {
				slog.Warn("values_and_changes_for: resolve failed", "entity", entityID, "error", err)
				continue
			}
			out <- EntityValueChange{Database: db, Attributes: attrs, Change: &ec.Change}
		}
	}()

	return out, unsubscribe
}

// EntityValueChange pairs a resolved entity snapshot with the change
// that produced it (nil for the initial emission).
type EntityValueChange struct {
	Database   Database
	Attributes map[string]AttributeValue
	Change     *Change
}
