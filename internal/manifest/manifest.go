// Package manifest parses a declarative CUE document describing
// attribute definitions, so a store's schema can ship as data instead
// of a sequence of imperative add_attribute calls (SPEC_FULL §3).
//
// A manifest document has the shape:
//
//	attribute: age:  { type: "integer", collection: false }
//	attribute: tags: { type: "string",  collection: true  }
package manifest

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/freezerdb/freezer/internal/codec"
)

// Entry is one parsed attribute definition from a manifest document.
type Entry struct {
	Name       string
	Type       codec.Kind
	Collection bool
}

// Parse compiles source as a CUE document and extracts every entry
// under the top-level `attribute` struct, in field order.
func Parse(source string) ([]Entry, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(source)
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	attrVal := v.LookupPath(cue.ParsePath("attribute"))
	if !attrVal.Exists() {
		return nil, &ParseError{Field: "attribute", Message: "manifest has no top-level attribute struct"}
	}

	iter, err := attrVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var entries []Entry
	for iter.Next() {
		entry, err := parseEntry(iter.Selector().String(), iter.Value())
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func parseEntry(name string, v cue.Value) (Entry, error) {
	typeVal := v.LookupPath(cue.ParsePath("type"))
	if !typeVal.Exists() {
		return Entry{}, &ParseError{Field: name, Message: "type is required"}
	}
	typeStr, err := typeVal.String()
	if err != nil {
		return Entry{}, formatCUEError(err)
	}
	kind, ok := codec.ParseKind(typeStr)
	if !ok {
		return Entry{}, &ParseError{Field: name, Message: fmt.Sprintf("unrecognized type %q", typeStr)}
	}

	collection := false
	collVal := v.LookupPath(cue.ParsePath("collection"))
	if collVal.Exists() {
		collection, err = collVal.Bool()
		if err != nil {
			return Entry{}, formatCUEError(err)
		}
	}

	return Entry{Name: name, Type: kind, Collection: collection}, nil
}

// ParseError reports a manifest document that doesn't conform to the
// expected attribute-struct shape.
type ParseError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *ParseError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	positions := errors.Positions(first)
	if len(positions) > 0 {
		return &ParseError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}
