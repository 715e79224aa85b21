package freezer

import (
	"github.com/freezerdb/freezer/internal/codec"
	"github.com/freezerdb/freezer/internal/coordinator"
	"github.com/freezerdb/freezer/internal/schema"
	"github.com/freezerdb/freezer/internal/storage"
)

// The four error kinds from spec §7, re-exported as aliases of their
// owning internal package's type so callers can use errors.As against
// a single freezer.* name without freezer importing package internals
// into its own type declarations (which would recreate the import
// cycle the internal/<pkg> split exists to avoid).

// StorageError reports I/O, corruption, or constraint violations from
// the backend.
type StorageError = storage.StorageError

// SchemaConflictError reports add_attribute called with a shape that
// disagrees with an existing definition for the same name.
type SchemaConflictError = schema.ConflictError

// UndefinedAttributeError reports a write against an attribute with
// no definition.
type UndefinedAttributeError = schema.UndefinedError

// TypeMismatchError reports a value whose encoded type doesn't match
// its attribute's declared type.
type TypeMismatchError = schema.TypeMismatchError

// NestingError reports an attempt to open a write transaction nested
// inside an active read transaction.
type NestingError = coordinator.NestingError

// EncodingError reports a value that cannot be encoded as its
// attribute's declared type, or a decoded blob whose tag is
// unrecognized.
type EncodingError = codec.EncodingError
