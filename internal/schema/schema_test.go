package schema

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/freezerdb/freezer/internal/codec"
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
	_, err = tuplelog.Append(ctx, db, name, TypeKey, typeEnc, txID)
	require.NoError(t, err)

	collInt := int64(0)
	if collection {
		collInt = 1
	}
	collEnc, err := codec.Encode(codec.Integer(collInt))
	require.NoError(t, err)
	_, err = tuplelog.Append(ctx, db, name, CollectionKey, collEnc, txID)
	require.NoError(t, err)
}

func TestLookupFound(t *testing.T) {
	db := openTestDB(t)
	defineAttribute(t, db, "age", codec.KindInteger, false, 1)

	def, ok, err := Lookup(context.Background(), db, "age", 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, codec.KindInteger, def.Type)
	require.False(t, def.Collection)
}

func TestLookupMissing(t *testing.T) {
	db := openTestDB(t)

	_, ok, err := Lookup(context.Background(), db, "age", 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestValidateMismatch(t *testing.T) {
	def := Def{Name: "age", Type: codec.KindInteger}
	err := Validate(def, codec.String("not an int"))
	require.Error(t, err)
	var mismatch *TypeMismatchError
	require.ErrorAs(t, err, &mismatch)
}
