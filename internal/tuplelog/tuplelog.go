// Package tuplelog implements the append-only tuple table that backs
// every entity/attribute/value fact Freezer stores: append, and the
// two read shapes a snapshot needs (latest value for one key, latest
// values for every key of an entity), plus enumeration of everything
// written at one transaction for the change stream.
package tuplelog

import (
	"context"
	"database/sql"
	"fmt"
)

// Tuple is one row of the data table.
type Tuple struct {
	RowID    int64
	EntityID string
	Key      string
	Value    []byte
	TxID     int64
}

// IsNull reports whether this tuple's value is the one-byte null
// marker a removal writes (tag 0, no payload).
func (t Tuple) IsNull() bool {
	return len(t.Value) == 1 && t.Value[0] == 0
}

// Execer is the write half of the SQL surface tuplelog needs. Both
// *sql.DB and *sql.Tx satisfy it, so Append works identically inside
// an active write transaction or (for schema bootstrap) directly
// against a pooled connection.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Queryer is the read half of the SQL surface tuplelog needs.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Append inserts one tuple and returns its assigned row_id. Callers
// pass the already-encoded value (or the one-byte null marker for a
// removal); tuplelog has no opinion about value encoding.
func Append(ctx context.Context, ex Execer, entityID, key string, value []byte, txID int64) (int64, error) {
	result, err := ex.ExecContext(ctx, `
		INSERT INTO data (entity_id, key, value, tx_id) VALUES (?, ?, ?, ?)
	`, entityID, key, value, txID)
	if err != nil {
		return 0, fmt.Errorf("append tuple: %w", err)
	}
	rowID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append tuple: last insert id: %w", err)
	}
	return rowID, nil
}

// LatestFor returns the tuple with the largest tx_id <= head for
// (entity, key), implemented as an indexed descending scan bounded by
// LIMIT 1. ok is false if no such tuple exists.
func LatestFor(ctx context.Context, q Queryer, entityID, key string, head int64) (Tuple, bool, error) {
	row := q.QueryRowContext(ctx, `
		SELECT row_id, entity_id, key, value, tx_id
		FROM data
		WHERE entity_id = ? AND key = ? AND tx_id <= ?
		ORDER BY tx_id DESC, row_id DESC
		LIMIT 1
	`, entityID, key, head)

	var t Tuple
	if err := row.Scan(&t.RowID, &t.EntityID, &t.Key, &t.Value, &t.TxID); err != nil {
		if err == sql.ErrNoRows {
			return Tuple{}, false, nil
		}
		return Tuple{}, false, fmt.Errorf("latest for %s/%s: %w", entityID, key, err)
	}
	return t, true, nil
}

// AllFor returns, for every distinct key ever written against entity,
// that key's latest tuple with tx_id <= head. Keys whose latest tuple
// is the null marker are dropped, matching invariant 4: a removed
// attribute is absent, not present-with-null.
func AllFor(ctx context.Context, q Queryer, entityID string, head int64) (map[string]Tuple, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT d.row_id, d.entity_id, d.key, d.value, d.tx_id
		FROM data d
		WHERE d.entity_id = ?
		  AND d.tx_id <= ?
		  AND d.row_id = (
		      SELECT row_id FROM data
		      WHERE entity_id = d.entity_id AND key = d.key AND tx_id <= ?
		      ORDER BY tx_id DESC, row_id DESC
		      LIMIT 1
		  )
	`, entityID, head, head)
	if err != nil {
		return nil, fmt.Errorf("all for %s: %w", entityID, err)
	}
	defer rows.Close()

	out := make(map[string]Tuple)
	for rows.Next() {
		var t Tuple
		if err := rows.Scan(&t.RowID, &t.EntityID, &t.Key, &t.Value, &t.TxID); err != nil {
			return nil, fmt.Errorf("all for %s: scan: %w", entityID, err)
		}
		if t.IsNull() {
			continue
		}
		out[t.Key] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("all for %s: %w", entityID, err)
	}
	return out, nil
}

// EnumerateAt returns every tuple written at exactly txID, in row_id
// order (insertion order within the transaction). The change stream
// does not call it: commit batches are built from the change records
// the transactor queues during the write.
func EnumerateAt(ctx context.Context, q Queryer, txID int64) ([]Tuple, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT row_id, entity_id, key, value, tx_id
		FROM data
		WHERE tx_id = ?
		ORDER BY row_id ASC
	`, txID)
	if err != nil {
		return nil, fmt.Errorf("enumerate at %d: %w", txID, err)
	}
	defer rows.Close()

	var tuples []Tuple
	for rows.Next() {
		var t Tuple
		if err := rows.Scan(&t.RowID, &t.EntityID, &t.Key, &t.Value, &t.TxID); err != nil {
			return nil, fmt.Errorf("enumerate at %d: scan: %w", txID, err)
		}
		tuples = append(tuples, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("enumerate at %d: %w", txID, err)
	}
	return tuples, nil
}

// NextTxID computes the tx_id the next write transaction should use:
// one more than the largest tx_id currently in the log, or 1 if the
// log is empty. Callers run this inside the write transaction whose
// tx_id is being allocated, so the computation is consistent with
// whatever else has committed.
func NextTxID(ctx context.Context, q Queryer) (int64, error) {
	row := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(tx_id), 0) + 1 FROM data`)
	var next int64
	if err := row.Scan(&next); err != nil {
		return 0, fmt.Errorf("next tx id: %w", err)
	}
	return next, nil
}

// HeadEntityID and HeadKey name the well-known tuple the head pointer
// chain is written under: entity_id="head", one tuple per commit, the
// newest (largest row_id) naming the current head tx_id.
const (
	HeadEntityID = "head"
	HeadKey      = "tx_id"
)

// TxRecordPrefix is the leading substring of every transaction-record
// entity id, usable as a SQL LIKE pattern (TxRecordPrefix + "%") to
// recognize one without parsing out its tx_id.
const TxRecordPrefix = "<tx:"

// TxRecordEntityID formats the well-known entity id for a transaction
// record: "<tx:N>".
func TxRecordEntityID(txID int64) string {
	return fmt.Sprintf("%s%d>", TxRecordPrefix, txID)
}

// NoBound stands in for "no upper bound" when a caller wants the
// newest tuple for a key regardless of any snapshot head — used to
// read the head pointer chain itself, which is always read fresh.
const NoBound = int64(1<<63 - 1)
