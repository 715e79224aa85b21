package snapshot

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/freezerdb/freezer/internal/codec"
	"github.com/freezerdb/freezer/internal/schema"
	"github.com/freezerdb/freezer/internal/tuplelog"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE data(
			row_id INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value BLOB,
			tx_id INTEGER NOT NULL
		);
		CREATE INDEX lookup ON data(entity_id, key, tx_id);
	`)
	require.NoError(t, err)
	return db
}

func defineAttribute(t *testing.T, db *sql.DB, name string, kind codec.Kind, collection bool, txID int64) {
	t.Helper()
	ctx := context.Background()

	typeEnc, err := codec.Encode(codec.String(kind.String()))
	require.NoError(t, err)
	_, err = tuplelog.Append(ctx, db, name, schema.TypeKey, typeEnc, txID)
	require.NoError(t, err)

	collInt := int64(0)
	if collection {
		collInt = 1
	}
	collEnc, err := codec.Encode(codec.Integer(collInt))
	require.NoError(t, err)
	_, err = tuplelog.Append(ctx, db, name, schema.CollectionKey, collEnc, txID)
	require.NoError(t, err)
}

func TestEntity_ScalarLastWriterWins(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	defineAttribute(t, db, "age", codec.KindInteger, false, 1)

	enc, err := codec.Encode(codec.Integer(42))
	require.NoError(t, err)
	_, err = tuplelog.Append(ctx, db, "alice", "age", enc, 2)
	require.NoError(t, err)

	enc2, err := codec.Encode(codec.Integer(43))
	require.NoError(t, err)
	_, err = tuplelog.Append(ctx, db, "alice", "age", enc2, 3)
	require.NoError(t, err)

	snap := New(db, 3)
	resolved, err := snap.Entity(ctx, "alice")
	require.NoError(t, err)
	require.False(t, resolved["age"].Collection)
	require.Equal(t, int64(43), resolved["age"].Values[0].Integer)
}

func TestEntity_CollectionAccumulates(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	defineAttribute(t, db, "tags", codec.KindString, true, 1)

	for i, tag := range []string{"a", "b", "c"} {
		key, err := codec.CollectionMemberKey("tags", codec.String(tag))
		require.NoError(t, err)
		enc, err := codec.Encode(codec.String(tag))
		require.NoError(t, err)
		_, err = tuplelog.Append(ctx, db, "x", key, enc, int64(i+2))
		require.NoError(t, err)
	}

	snap := New(db, 10)
	resolved, err := snap.Entity(ctx, "x")
	require.NoError(t, err)
	require.True(t, resolved["tags"].Collection)
	require.Len(t, resolved["tags"].Values, 3)
}

func TestEntity_CollectionRemoveOneValue(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	defineAttribute(t, db, "tags", codec.KindString, true, 1)

	keyA, err := codec.CollectionMemberKey("tags", codec.String("a"))
	require.NoError(t, err)
	encA, err := codec.Encode(codec.String("a"))
	require.NoError(t, err)
	_, err = tuplelog.Append(ctx, db, "x", keyA, encA, 2)
	require.NoError(t, err)

	keyB, err := codec.CollectionMemberKey("tags", codec.String("b"))
	require.NoError(t, err)
	encB, err := codec.Encode(codec.String("b"))
	require.NoError(t, err)
	_, err = tuplelog.Append(ctx, db, "x", keyB, encB, 3)
	require.NoError(t, err)

	nullEnc, err := codec.Encode(codec.Null())
	require.NoError(t, err)
	_, err = tuplelog.Append(ctx, db, "x", keyA, nullEnc, 4)
	require.NoError(t, err)

	snap := New(db, 4)
	av, ok, err := snap.Attribute(ctx, "x", "tags")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, av.Values, 1)
	require.Equal(t, "b", av.Values[0].String)
}

func TestDatabase_HeadIDNegativeMeansNoSnapshot(t *testing.T) {
	db := openTestDB(t)
	snap := New(db, NoHead)
	resolved, err := snap.Entity(context.Background(), "alice")
	require.NoError(t, err)
	require.Empty(t, resolved)
}

func TestCursor_EntitiesAndAttributes(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	defineAttribute(t, db, "age", codec.KindInteger, false, 1)

	enc, err := codec.Encode(codec.Integer(42))
	require.NoError(t, err)
	_, err = tuplelog.Append(ctx, db, "alice", "age", enc, 2)
	require.NoError(t, err)
	_, err = tuplelog.Append(ctx, db, "bob", "age", enc, 2)
	require.NoError(t, err)

	snap := New(db, 2)
	cur := NewCursor(ctx, snap)

	entities, err := cur.Entities()
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, entities)

	attrs, err := cur.Attributes("alice")
	require.NoError(t, err)
	require.Equal(t, int64(42), attrs["age"].Integer)
}
