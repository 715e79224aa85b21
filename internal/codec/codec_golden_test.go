package codec

import (
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
)

// Each case locks down the exact on-disk byte layout for one type
// tag: tag byte followed by the tag's canonical payload. A change to
// these bytes is a wire-format break, not just a refactor.
func TestEncode_Golden(t *testing.T) {
	g := goldie.New(t)

	cases := []struct {
		name  string
		value Value
	}{
		{"null_value", Null()},
		{"integer_value", Integer(42)},
		{"double_value", Double(3.5)},
		{"string_value", String("hello")},
		{"blob_value", Blob([]byte{0xDE, 0xAD, 0xBE, 0xEF})},
		{"date_value", Date(time.Unix(1700000000, 0))},
		{"reference_value", Reference("user-42")},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			encoded, err := Encode(c.value)
			if err != nil {
				t.Fatalf("encode %s: %v", c.name, err)
			}
			g.Assert(t, c.name, encoded)

			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("decode %s: %v", c.name, err)
			}
			if !decoded.Equal(c.value) {
				t.Fatalf("round trip mismatch for %s: got %+v, want %+v", c.name, decoded, c.value)
			}
		})
	}
}
