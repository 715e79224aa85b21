// Package snapshot implements the immutable, head-pinned view over the
// tuple log: resolving one entity's attributes (scalar last-writer-wins,
// collection accumulate-non-removed) as of a fixed tx_id, per spec §4.3.
package snapshot

import (
	"context"
	"fmt"
	"sort"

	"github.com/freezerdb/freezer/internal/codec"
	"github.com/freezerdb/freezer/internal/schema"
	"github.com/freezerdb/freezer/internal/tuplelog"
)

// Reader is the read-only SQL surface a snapshot resolves against. A
// *sql.DB and a *sql.Tx both satisfy tuplelog.Queryer, which this
// embeds unchanged so a snapshot can be resolved inside or outside an
// active transaction identically.
type Reader = tuplelog.Queryer

// Database is the immutable, cheap-to-copy value type described by
// spec §4.3: a store handle plus a pinned head tx_id. Two Databases
// with equal HeadID are observationally identical, so Database carries
// no cache of its own — every Entity/Attribute call re-resolves
// against the tuple log at the pinned head.
type Database struct {
	reader Reader
	head   int64
}

// NoHead is the head value a brand-new store's Database carries before
// any transaction has committed. HeadID() < 0 signals "no snapshot
// exists yet", per SPEC_FULL §9.
const NoHead int64 = -1

// New pins a Database at head against reader.
func New(reader Reader, head int64) Database {
	return Database{reader: reader, head: head}
}

// HeadID returns the tx_id this snapshot is pinned to. A negative
// value means the store has never committed a transaction.
func (db Database) HeadID() int64 { return db.head }

// Entity resolves every defined attribute of entityID as of this
// snapshot's head: scalar attributes resolve to their single latest
// value, collection attributes resolve to the set of their
// non-removed members.
func (db Database) Entity(ctx context.Context, entityID string) (map[string]AttributeValue, error) {
	if db.head < 0 {
		return map[string]AttributeValue{}, nil
	}

	tuples, err := tuplelog.AllFor(ctx, db.reader, entityID, db.head)
	if err != nil {
		return nil, fmt.Errorf("resolve entity %q: %w", entityID, err)
	}

	// Group tuples by their base attribute name: a scalar attribute's
	// key is the attribute name itself; a collection attribute's
	// members are keyed attribute+"\x1f"+hash, so several tuples can
	// fold into one attribute's result.
	byAttribute := make(map[string][]codec.Value)
	for key, tup := range tuples {
		attribute, _ := codec.SplitCollectionKey(key)
		val, err := codec.Decode(tup.Value)
		if err != nil {
			return nil, fmt.Errorf("resolve entity %q attribute %q: %w", entityID, attribute, err)
		}
		byAttribute[attribute] = append(byAttribute[attribute], val)
	}

	out := make(map[string]AttributeValue, len(byAttribute))
	for attribute, values := range byAttribute {
		def, ok, err := schema.Lookup(ctx, db.reader, attribute, db.head)
		if err != nil {
			return nil, fmt.Errorf("resolve entity %q attribute %q: %w", entityID, attribute, err)
		}
		if !ok {
			// A tuple exists for an attribute with no current
			// definition (definition itself could in principle be
			// superseded); surface nothing for it rather than guess
			// its cardinality.
			continue
		}
		if def.Collection {
			out[attribute] = AttributeValue{Collection: true, Values: values}
		} else {
			out[attribute] = AttributeValue{Collection: false, Values: values[:1]}
		}
	}
	return out, nil
}

// Attribute resolves a single attribute of entityID. A scalar is
// fetched as one key; a collection still reads the entity's full
// latest-tuple set and keeps only that attribute's members.
func (db Database) Attribute(ctx context.Context, entityID, attribute string) (AttributeValue, bool, error) {
	if db.head < 0 {
		return AttributeValue{}, false, nil
	}

	def, ok, err := schema.Lookup(ctx, db.reader, attribute, db.head)
	if err != nil {
		return AttributeValue{}, false, fmt.Errorf("resolve %q/%q: %w", entityID, attribute, err)
	}
	if !ok {
		return AttributeValue{}, false, nil
	}

	if !def.Collection {
		tup, found, err := tuplelog.LatestFor(ctx, db.reader, entityID, attribute, db.head)
		if err != nil {
			return AttributeValue{}, false, fmt.Errorf("resolve %q/%q: %w", entityID, attribute, err)
		}
		if !found || tup.IsNull() {
			return AttributeValue{}, false, nil
		}
		val, err := codec.Decode(tup.Value)
		if err != nil {
			return AttributeValue{}, false, fmt.Errorf("resolve %q/%q: %w", entityID, attribute, err)
		}
		return AttributeValue{Collection: false, Values: []codec.Value{val}}, true, nil
	}

	tuples, err := tuplelog.AllFor(ctx, db.reader, entityID, db.head)
	if err != nil {
		return AttributeValue{}, false, fmt.Errorf("resolve %q/%q: %w", entityID, attribute, err)
	}
	var values []codec.Value
	for key, tup := range tuples {
		base, isMember := codec.SplitCollectionKey(key)
		if base != attribute || !isMember {
			continue
		}
		val, err := codec.Decode(tup.Value)
		if err != nil {
			return AttributeValue{}, false, fmt.Errorf("resolve %q/%q: %w", entityID, attribute, err)
		}
		values = append(values, val)
	}
	if values == nil {
		return AttributeValue{}, false, nil
	}
	return AttributeValue{Collection: true, Values: values}, true, nil
}

// AttributeValue is the resolved form of one entity's attribute:
// exactly one element for a scalar, any number for a collection.
type AttributeValue struct {
	Collection bool
	Values     []codec.Value
}

// Cursor is the minimal read-only interface an external query/filter
// builder consumes, per spec §1's non-goals: Freezer resolves entity
// and attribute data, it does not filter, sort, or paginate.
type Cursor interface {
	Entities() ([]string, error)
	Attributes(entity string) (map[string]codec.Value, error)
}

// cursor implements Cursor over a pinned Database.
type cursor struct {
	ctx context.Context
	db  Database
}

// NewCursor returns a Cursor over db, evaluated with ctx.
func NewCursor(ctx context.Context, db Database) Cursor {
	return &cursor{ctx: ctx, db: db}
}

// Entities enumerates the distinct entity ids ever mentioned by a
// tuple with tx_id <= head, excluding the well-known head entity,
// transaction-record entities ("<tx:N>"), and attribute-definition
// entities (anything carrying a schema.TypeKey tuple) — all bookkeeping,
// not data an external query builder should ever see.
func (c *cursor) Entities() ([]string, error) {
	if c.db.head < 0 {
		return []string{}, nil
	}
	entities, err := queryDistinctEntities(c.ctx, c.db.reader, c.db.head)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	sort.Strings(entities)
	return entities, nil
}

// Attributes resolves every scalar attribute's single value for
// entity, flattening AttributeValue into the plain map[string]Value
// shape the Cursor interface promises. Collection attributes report
// their first accumulated value only — callers needing the full set
// use Database.Attribute directly; Cursor is deliberately the minimal
// surface the external query builder needs for filtering on scalars.
func (c *cursor) Attributes(entity string) (map[string]codec.Value, error) {
	resolved, err := c.db.Entity(c.ctx, entity)
	if err != nil {
		return nil, err
	}
	out := make(map[string]codec.Value, len(resolved))
	for attribute, av := range resolved {
		if len(av.Values) > 0 {
			out[attribute] = av.Values[0]
		}
	}
	return out, nil
}

func queryDistinctEntities(ctx context.Context, q Reader, head int64) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT DISTINCT d.entity_id FROM data d
		WHERE d.tx_id <= ?
		  AND d.entity_id != ?
		  AND d.entity_id NOT LIKE ?
		  AND NOT EXISTS (
		      SELECT 1 FROM data s
		      WHERE s.entity_id = d.entity_id AND s.key = ? AND s.tx_id <= ?
		  )
		ORDER BY d.entity_id
	`, head, tuplelog.HeadEntityID, tuplelog.TxRecordPrefix+"%", schema.TypeKey, head)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
