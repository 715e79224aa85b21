// Package coordinator implements the nested read/write transaction
// bracketing described by spec §4.5: depth-counted opens per call
// chain, commit/rollback, snapshot-cache invalidation, and change
// publication, using context.Context as Freezer's substitute for the
// per-thread state the original design assumes (SPEC_FULL §4.5).
package coordinator

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/freezerdb/freezer/internal/changefeed"
	"github.com/freezerdb/freezer/internal/codec"
	"github.com/freezerdb/freezer/internal/snapshot"
	"github.com/freezerdb/freezer/internal/testutil"
	"github.com/freezerdb/freezer/internal/tuplelog"
)

// NestingError reports an attempt to open a write transaction nested
// inside an active read transaction, which spec §4.5 disallows.
type NestingError struct {
	Operation string
}

func (e *NestingError) Error() string {
	return fmt.Sprintf("cannot open %s transaction: write nested inside read is not permitted", e.Operation)
}

// kind distinguishes the two transaction flavors a txnState can be
// opened as.
type kind int

const (
	kindRead kind = iota
	kindWrite
)

// txnState is the per-call-chain state the spec's design notes call
// "per-thread state": active depth, the outer transaction's kind, the
// queued changes produced so far, the DB-level *sql.Tx backing the
// whole nested stack, and (inside a write) the allocated tx_id.
//
// It is carried through context.Context rather than thread-local
// storage — Go has none — so nested calls see and extend the same
// state only if they're passed the context the outer call produced.
type txnState struct {
	mu       sync.Mutex
	kind     kind
	depth    int
	tx       *sql.Tx
	txID     int64
	failed   bool
	changes  []changefeed.Change
	prevSnap snapshot.Database
}

type ctxKey struct{}

func stateFromContext(ctx context.Context) *txnState {
	s, _ := ctx.Value(ctxKey{}).(*txnState)
	return s
}

// Coordinator owns the backing read/write pools, the memoized current
// snapshot, and the change feed every commit publishes to.
type Coordinator struct {
	writeDB *sql.DB
	readDB  *sql.DB
	feed    *changefeed.Feed
	clock   testutil.Clock

	mu      sync.RWMutex
	current snapshot.Database

	nextID atomic.Int64 // used only for slog correlation ids, not tx_id allocation
}

// New constructs a Coordinator over the given pools. current is the
// snapshot reflecting every tuple already on disk (snapshot.NoHead for
// a brand-new store). Transaction-record timestamps read the real
// wall clock; use SetClock to pin a deterministic one for tests or
// the scenario harness.
func New(writeDB, readDB *sql.DB, feed *changefeed.Feed, current snapshot.Database) *Coordinator {
	return &Coordinator{writeDB: writeDB, readDB: readDB, feed: feed, current: current, clock: testutil.SystemClock{}}
}

// SetClock overrides the clock used to stamp transaction records.
func (c *Coordinator) SetClock(clock testutil.Clock) {
	c.clock = clock
}

// Current returns the memoized current snapshot. Readers may observe
// it go briefly stale between a commit and invalidation, per spec §5,
// but never a torn snapshot: invalidation is a single atomic swap
// under c.mu.
func (c *Coordinator) Current() snapshot.Database {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// ReadBlock is the user function passed to ReadTransaction: it
// observes db and reports whether its work succeeded.
type ReadBlock func(ctx context.Context, db snapshot.Database) (bool, error)

// WriteBlock is the user function passed to WriteTransaction: it
// receives the active *sql.Tx and the tx_id allocated for this
// transaction, and reports whether its work succeeded.
type WriteBlock func(ctx context.Context, tx *sql.Tx, txID int64) (bool, error)

// ReadTransaction opens a deferred transaction if ctx is not already
// inside one, runs block, and commits or rolls back based on its
// result. Nesting inside an existing read or write transaction reuses
// the existing DB-level transaction and simply increments depth.
func (c *Coordinator) ReadTransaction(ctx context.Context, block ReadBlock) (bool, error) {
	if state := stateFromContext(ctx); state != nil {
		state.mu.Lock()
		state.depth++
		state.mu.Unlock()
		defer c.closeNested(state)

		db := snapshot.New(state.tx, c.snapshotHead(state))
		ok, err := block(ctx, db)
		c.markResult(state, ok, err)
		return ok, err
	}

	id := c.nextID.Add(1)
	slog.Debug("opening read transaction", "txn", id)

	tx, err := c.readDB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return false, fmt.Errorf("open read transaction: %w", err)
	}

	state := &txnState{kind: kindRead, depth: 1, tx: tx, prevSnap: c.Current()}
	ctx = context.WithValue(ctx, ctxKey{}, state)

	db := snapshot.New(tx, state.prevSnap.HeadID())
	ok, err := block(ctx, db)
	c.markResult(state, ok, err)

	return c.closeTop(ctx, id, state, ok, err)
}

// WriteTransaction opens an exclusive transaction if ctx is not
// already inside one, allocates a tx_id at entry, runs block, then on
// top-level success advances head, invalidates the cached snapshot,
// commits, and publishes the queued changes. Opening a write
// transaction while nested inside a read fails with NestingError.
func (c *Coordinator) WriteTransaction(ctx context.Context, block WriteBlock) (bool, error) {
	if state := stateFromContext(ctx); state != nil {
		if state.kind == kindRead {
			return false, &NestingError{Operation: "write"}
		}
		state.mu.Lock()
		state.depth++
		txID := state.txID
		state.mu.Unlock()
		defer c.closeNested(state)

		ok, err := block(ctx, state.tx, txID)
		c.markResult(state, ok, err)
		return ok, err
	}

	id := c.nextID.Add(1)
	slog.Debug("opening write transaction", "txn", id)

	tx, err := c.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("open write transaction: %w", err)
	}

	txID, err := tuplelog.NextTxID(ctx, tx)
	if err != nil {
		tx.Rollback()
		return false, fmt.Errorf("allocate tx_id: %w", err)
	}
	if err := insertTransactionRecord(ctx, tx, txID, c.clock); err != nil {
		tx.Rollback()
		return false, err
	}

	state := &txnState{kind: kindWrite, depth: 1, tx: tx, txID: txID, prevSnap: c.Current()}
	ctx = context.WithValue(ctx, ctxKey{}, state)

	ok, err := block(ctx, tx, txID)
	c.markResult(state, ok, err)

	return c.closeTop(ctx, id, state, ok, err)
}

// RecordChange queues a change for publication at top-level commit.
// Callers (the transactor) call this from inside the write block,
// using the same context the block was handed.
func RecordChange(ctx context.Context, change changefeed.Change) {
	state := stateFromContext(ctx)
	if state == nil {
		return
	}
	state.mu.Lock()
	state.changes = append(state.changes, change)
	state.mu.Unlock()
}

func (c *Coordinator) snapshotHead(state *txnState) int64 {
	if state.kind == kindWrite {
		return state.txID
	}
	return state.prevSnap.HeadID()
}

func (c *Coordinator) markResult(state *txnState, ok bool, err error) {
	if !ok || err != nil {
		state.mu.Lock()
		state.failed = true
		state.mu.Unlock()
	}
}

// closeNested decrements depth for an inner open; only the outermost
// open commits or rolls back.
func (c *Coordinator) closeNested(state *txnState) {
	state.mu.Lock()
	state.depth--
	state.mu.Unlock()
}

// closeTop runs the commit or rollback procedure for the outermost
// open of a transaction stack.
func (c *Coordinator) closeTop(ctx context.Context, id int64, state *txnState, ok bool, blockErr error) (bool, error) {
	state.mu.Lock()
	state.depth--
	failed := state.failed || !ok || blockErr != nil
	state.mu.Unlock()

	if failed {
		if err := state.tx.Rollback(); err != nil {
			slog.Error("rollback failed", "txn", id, "error", err)
		}
		slog.Info("transaction rolled back", "txn", id, "kind", kindName(state.kind))
		if blockErr != nil {
			return false, blockErr
		}
		return false, nil
	}

	if state.kind == kindWrite {
		if err := c.commit(ctx, id, state); err != nil {
			state.tx.Rollback()
			return false, err
		}
		return true, nil
	}

	if err := state.tx.Commit(); err != nil {
		return false, fmt.Errorf("commit read transaction: %w", err)
	}
	slog.Debug("read transaction committed", "txn", id)
	return true, nil
}

// commit runs spec §4.5's four-step commit procedure for a top-level
// write transaction.
func (c *Coordinator) commit(ctx context.Context, id int64, state *txnState) error {
	headEnc, err := codec.Encode(codec.Integer(state.txID))
	if err != nil {
		return fmt.Errorf("commit: encode head pointer: %w", err)
	}
	if _, err := tuplelog.Append(ctx, state.tx, tuplelog.HeadEntityID, tuplelog.HeadKey, headEnc, state.txID); err != nil {
		return fmt.Errorf("commit: write head pointer: %w", err)
	}

	changed := snapshot.New(c.readDB, state.txID)

	if err := state.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	c.mu.Lock()
	c.current = changed
	c.mu.Unlock()

	slog.Info("transaction committed", "txn", id, "tx_id", state.txID, "changes", len(state.changes))

	if len(state.changes) > 0 {
		for i := range state.changes {
			state.changes[i].PreviousDB = changefeed.Snapshot{Head: state.prevSnap.HeadID()}
			state.changes[i].ChangedDB = changefeed.Snapshot{Head: state.txID}
		}
		c.feed.Publish(changefeed.Batch{TxID: state.txID, Changes: state.changes})
	}

	return nil
}

// TxDateAttribute is the well-known attribute a transaction record
// carries its issuance timestamp under, per spec §3.
const TxDateAttribute = "Freezer/tx/date"

// insertTransactionRecord appends the transaction-record tuple spec
// §4.4's insert_new_transaction describes: one tuple naming the
// well-known "<tx:N>" entity, carrying the transaction's issuance
// timestamp.
func insertTransactionRecord(ctx context.Context, tx *sql.Tx, txID int64, clock testutil.Clock) error {
	enc, err := codec.Encode(codec.Date(clock.Now()))
	if err != nil {
		return fmt.Errorf("insert transaction record: %w", err)
	}
	if _, err := tuplelog.Append(ctx, tx, tuplelog.TxRecordEntityID(txID), TxDateAttribute, enc, txID); err != nil {
		return fmt.Errorf("insert transaction record: %w", err)
	}
	return nil
}

func kindName(k kind) string {
	if k == kindWrite {
		return "write"
	}
	return "read"
}
