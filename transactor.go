package freezer

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/freezerdb/freezer/internal/changefeed"
	"github.com/freezerdb/freezer/internal/codec"
	"github.com/freezerdb/freezer/internal/coordinator"
	"github.com/freezerdb/freezer/internal/schema"
	"github.com/freezerdb/freezer/internal/tuplelog"
)

// Transactor is the facade for appending tuples and allocating
// tx_ids, per spec §4.4. Every method implicitly opens a write
// transaction if the calling context isn't already inside one;
// called from inside an existing write block (same ctx), it nests
// instead, sharing that block's tx_id.
type Transactor struct {
	store *Store
}

// AddAttribute appends schema tuples defining name. Idempotent if an
// existing definition matches; fails with SchemaConflictError
// otherwise.
func (t *Transactor) AddAttribute(ctx context.Context, name string, kind Kind, collection bool) error {
	_, err := t.store.coord.WriteTransaction(ctx, func(ctx context.Context, tx *sql.Tx, txID int64) (bool, error) {
		existing, ok, err := schema.Lookup(ctx, tx, name, tuplelog.NoBound)
		if err != nil {
			return false, err
		}
		if ok {
			if existing.Type == kind && existing.Collection == collection {
				return true, nil
			}
			return false, &schema.ConflictError{
				Attribute: name,
				Existing:  existing,
				Requested: schema.Def{Name: name, Type: kind, Collection: collection},
			}
		}

		typeEnc, err := codec.Encode(codec.String(kind.String()))
		if err != nil {
			return false, err
		}
		if _, err := tuplelog.Append(ctx, tx, name, schema.TypeKey, typeEnc, txID); err != nil {
			return false, err
		}

		collInt := int64(0)
		if collection {
			collInt = 1
		}
		collEnc, err := codec.Encode(codec.Integer(collInt))
		if err != nil {
			return false, err
		}
		if _, err := tuplelog.Append(ctx, tx, name, schema.CollectionKey, collEnc, txID); err != nil {
			return false, err
		}
		return true, nil
	})
	return err
}

// AddValue validates that attribute is defined and that value's kind
// matches its declared type, then appends (entity, attribute,
// encode(value), tx_id). For a scalar attribute, a second add for the
// same (entity, attribute) in the same transaction overrides the
// first. For a collection attribute, duplicate values are idempotent:
// they land on the same composite member key.
func (t *Transactor) AddValue(ctx context.Context, value Value, attribute, entity string) error {
	_, err := t.store.coord.WriteTransaction(ctx, func(ctx context.Context, tx *sql.Tx, txID int64) (bool, error) {
		def, ok, err := schema.Lookup(ctx, tx, attribute, tuplelog.NoBound)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, &schema.UndefinedError{Attribute: attribute}
		}
		if err := schema.Validate(def, value); err != nil {
			return false, err
		}

		enc, err := codec.Encode(value)
		if err != nil {
			return false, &codec.EncodingError{Attribute: attribute, Reason: err.Error()}
		}

		key := attribute
		if def.Collection {
			key, err = codec.CollectionMemberKey(attribute, value)
			if err != nil {
				return false, err
			}
		}

		if _, err := tuplelog.Append(ctx, tx, entity, key, enc, txID); err != nil {
			return false, err
		}

		coordinator.RecordChange(ctx, changefeed.Change{
			Type:      changefeed.ChangeTypeAdd,
			EntityID:  entity,
			Attribute: attribute,
			Delta:     value,
		})
		return true, nil
	})
	return err
}

// RemoveValue appends a null-marker tuple, rendering attribute absent
// from entity in snapshots with head >= the resulting tx_id.
//
// For a collection attribute, values names the specific member(s) to
// remove — the literal spec signature removes the whole attribute,
// but scenario 8.4 requires removing one member while the rest
// survive, which only a composite per-member key (as used by
// AddValue) can express; omitting values on a collection attribute
// removes every current member.
func (t *Transactor) RemoveValue(ctx context.Context, attribute, entity string, values ...Value) error {
	_, err := t.store.coord.WriteTransaction(ctx, func(ctx context.Context, tx *sql.Tx, txID int64) (bool, error) {
		def, ok, err := schema.Lookup(ctx, tx, attribute, tuplelog.NoBound)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, &schema.UndefinedError{Attribute: attribute}
		}

		nullEnc, err := codec.Encode(codec.Null())
		if err != nil {
			return false, err
		}

		if !def.Collection {
			if _, err := tuplelog.Append(ctx, tx, entity, attribute, nullEnc, txID); err != nil {
				return false, err
			}
			coordinator.RecordChange(ctx, changefeed.Change{
				Type: changefeed.ChangeTypeRemove, EntityID: entity, Attribute: attribute,
			})
			return true, nil
		}

		targets := values
		if len(targets) == 0 {
			current, err := tuplelog.AllFor(ctx, tx, entity, tuplelog.NoBound)
			if err != nil {
				return false, err
			}
			for key, tup := range current {
				base, isMember := codec.SplitCollectionKey(key)
				if base != attribute || !isMember {
					continue
				}
				val, err := codec.Decode(tup.Value)
				if err != nil {
					return false, err
				}
				targets = append(targets, val)
			}
		}

		for _, v := range targets {
			key, err := codec.CollectionMemberKey(attribute, v)
			if err != nil {
				return false, err
			}
			if _, err := tuplelog.Append(ctx, tx, entity, key, nullEnc, txID); err != nil {
				return false, err
			}
			coordinator.RecordChange(ctx, changefeed.Change{
				Type: changefeed.ChangeTypeRemove, EntityID: entity, Attribute: attribute, Delta: v,
			})
		}
		return true, nil
	})
	return err
}

// GenerateNewKey returns a fresh opaque entity identifier: a 128-bit
// random value rendered as text. Uniqueness is probabilistic; callers
// requiring total uniqueness check against the current snapshot.
func (t *Transactor) GenerateNewKey() string {
	return uuid.New().String()
}

// insertNewTransaction and updateHead from spec §4.4 are folded into
// the coordinator's commit procedure (internal/coordinator) rather
// than exposed as separate Transactor calls: tx_id allocation and
// head advancement happen exactly once per top-level write
// transaction regardless of which Transactor method triggered it, so
// keeping them coordinator-internal prevents a caller from advancing
// head without going through a real commit. See
// coordinator.WriteTransaction.
