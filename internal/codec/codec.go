// Package codec implements the fixed, versioned byte layout tuples use
// to carry values in the tuple log's value column: a one-byte type tag
// followed by the canonical encoding for that tag.
package codec

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Kind identifies the wire type tag a value was (or will be) encoded
// with. The numeric values are part of the on-disk format and must
// never be renumbered.
type Kind byte

const (
	KindNull      Kind = 0
	KindInteger   Kind = 1
	KindDouble    Kind = 2
	KindString    Kind = 3
	KindBlob      Kind = 4
	KindDate      Kind = 5
	KindReference Kind = 6
)

// String renders a Kind using the attribute-definition vocabulary
// ("integer", "string", ...), the form persisted in a `type` tuple.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInteger:
		return "integer"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	case KindBlob:
		return "blob"
	case KindDate:
		return "date"
	case KindReference:
		return "reference"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// ParseKind is the inverse of Kind.String, used when reading an
// attribute's declared type back out of a `type` tuple.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "integer":
		return KindInteger, true
	case "double":
		return KindDouble, true
	case "string":
		return KindString, true
	case "blob":
		return KindBlob, true
	case "date":
		return KindDate, true
	case "reference":
		return KindReference, true
	default:
		return 0, false
	}
}

// Value is an in-memory decoded tuple value. Exactly one payload field
// is meaningful, selected by Kind; the rest are zero.
type Value struct {
	Kind      Kind
	Integer   int64
	Double    float64
	String    string
	Blob      []byte
	Date      time.Time
	Reference string
}

// IsNull reports whether v is the null marker written by a removal.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Null is the sentinel value a removal tuple carries.
func Null() Value { return Value{Kind: KindNull} }

// Integer constructs an integer-kinded Value.
func Integer(n int64) Value { return Value{Kind: KindInteger, Integer: n} }

// Double constructs a double-kinded Value.
func Double(f float64) Value { return Value{Kind: KindDouble, Double: f} }

// String constructs a string-kinded Value, normalizing to Unicode NFC
// first so canonically-equivalent strings always encode identically.
func String(s string) Value {
	return Value{Kind: KindString, String: norm.NFC.String(s)}
}

// Blob constructs a blob-kinded Value.
func Blob(b []byte) Value { return Value{Kind: KindBlob, Blob: b} }

// Date constructs a date-kinded Value, truncated to whole seconds
// because the wire format stores seconds since the Unix epoch.
func Date(t time.Time) Value { return Value{Kind: KindDate, Date: t.Truncate(time.Second).UTC()} }

// Reference constructs a reference-kinded Value pointing at entity id.
func Reference(entityID string) Value { return Value{Kind: KindReference, Reference: entityID} }

// Equal reports whether two values carry the same tag and payload.
// Used for collection-member idempotence: adding the same value twice
// must land on the same composite key.
func (v Value) Equal(other Value) bool {
	enc1, err1 := Encode(v)
	enc2, err2 := Encode(other)
	if err1 != nil || err2 != nil {
		return false
	}
	return string(enc1) == string(enc2)
}

// Encode renders v using the fixed versioned layout from the on-disk
// format: a one-byte tag followed by the canonical encoding for that
// tag (little-endian fixed-width for numerics, UTF-8 for strings and
// references, and for dates the seconds since the Unix epoch as a
// little-endian 8-byte integer).
func Encode(v Value) ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte{byte(KindNull)}, nil
	case KindInteger:
		buf := make([]byte, 9)
		buf[0] = byte(KindInteger)
		binary.LittleEndian.PutUint64(buf[1:], uint64(v.Integer))
		return buf, nil
	case KindDouble:
		buf := make([]byte, 9)
		buf[0] = byte(KindDouble)
		binary.LittleEndian.PutUint64(buf[1:], math.Float64bits(v.Double))
		return buf, nil
	case KindString:
		return append([]byte{byte(KindString)}, []byte(v.String)...), nil
	case KindBlob:
		return append([]byte{byte(KindBlob)}, v.Blob...), nil
	case KindDate:
		buf := make([]byte, 9)
		buf[0] = byte(KindDate)
		binary.LittleEndian.PutUint64(buf[1:], uint64(v.Date.Unix()))
		return buf, nil
	case KindReference:
		return append([]byte{byte(KindReference)}, []byte(v.Reference)...), nil
	default:
		return nil, &EncodingError{Reason: fmt.Sprintf("unknown value kind %d", v.Kind)}
	}
}

// Decode parses bytes previously produced by Encode. It returns an
// EncodingError if the tag is unrecognized or the payload is short for
// the tag's fixed-width encoding.
func Decode(data []byte) (Value, error) {
	if len(data) == 0 {
		return Value{}, &EncodingError{Reason: "empty encoded value"}
	}

	tag := Kind(data[0])
	payload := data[1:]

	switch tag {
	case KindNull:
		return Null(), nil
	case KindInteger:
		if len(payload) != 8 {
			return Value{}, &EncodingError{Reason: "integer payload must be 8 bytes"}
		}
		return Integer(int64(binary.LittleEndian.Uint64(payload))), nil
	case KindDouble:
		if len(payload) != 8 {
			return Value{}, &EncodingError{Reason: "double payload must be 8 bytes"}
		}
		return Double(math.Float64frombits(binary.LittleEndian.Uint64(payload))), nil
	case KindString:
		return Value{Kind: KindString, String: string(payload)}, nil
	case KindBlob:
		return Value{Kind: KindBlob, Blob: payload}, nil
	case KindDate:
		if len(payload) != 8 {
			return Value{}, &EncodingError{Reason: "date payload must be 8 bytes"}
		}
		sec := int64(binary.LittleEndian.Uint64(payload))
		return Value{Kind: KindDate, Date: time.Unix(sec, 0).UTC()}, nil
	case KindReference:
		return Value{Kind: KindReference, Reference: string(payload)}, nil
	default:
		return Value{}, &EncodingError{Reason: fmt.Sprintf("unrecognized type tag %d", tag)}
	}
}

// EncodingError reports that a value could not be encoded for its
// attribute's declared type, or that a decoded blob's tag didn't match
// any known type.
type EncodingError struct {
	Attribute string
	Reason    string
}

func (e *EncodingError) Error() string {
	if e.Attribute != "" {
		return fmt.Sprintf("encoding error for attribute %q: %s", e.Attribute, e.Reason)
	}
	return fmt.Sprintf("encoding error: %s", e.Reason)
}

// memberSep separates a collection attribute's base name from the
// content hash that gives each accumulated member its own tuple-log
// key. Attribute names are user-chosen identifiers and are assumed
// never to contain this byte.
const memberSep = "\x1f"

// CollectionMemberKey derives the tuple-log key for one member of a
// collection-typed attribute. Two calls with equal values (per Equal)
// always produce the same key, which is what makes re-adding an
// existing collection member idempotent: the second append lands on
// the same (entity, key) slot as the first, just at a newer tx_id.
func CollectionMemberKey(attribute string, v Value) (string, error) {
	enc, err := Encode(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(enc)
	return attribute + memberSep + hex.EncodeToString(sum[:8]), nil
}

// SplitCollectionKey separates a tuple-log key back into its base
// attribute name and whether it names a collection member. Scalar
// attribute keys (no separator present) report isMember=false.
func SplitCollectionKey(key string) (attribute string, isMember bool) {
	if i := strings.IndexByte(key, memberSep[0]); i >= 0 {
		return key[:i], true
	}
	return key, false
}
