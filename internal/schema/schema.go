// Package schema resolves and validates attribute definitions: the
// `type` and `collection` tuples that a user-defined attribute name
// carries as an entity in its own right (spec §3, Attribute
// definition).
package schema

import (
	"context"
	"fmt"

	"github.com/freezerdb/freezer/internal/codec"
	"github.com/freezerdb/freezer/internal/tuplelog"
)

// Keys under which an attribute definition entity carries its schema.
const (
	TypeKey       = "type"
	CollectionKey = "collection"
)

// Def is a resolved attribute definition.
type Def struct {
	Name       string
	Type       codec.Kind
	Collection bool
}

// ConflictError reports that add_attribute was called with a shape
// that disagrees with an existing definition for the same name.
type ConflictError struct {
	Attribute string
	Existing  Def
	Requested Def
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf(
		"schema conflict for attribute %q: existing type=%s collection=%t, requested type=%s collection=%t",
		e.Attribute, e.Existing.Type, e.Existing.Collection, e.Requested.Type, e.Requested.Collection,
	)
}

// UndefinedError reports a write against an attribute with no
// definition.
type UndefinedError struct {
	Attribute string
}

func (e *UndefinedError) Error() string {
	return fmt.Sprintf("attribute %q is not defined", e.Attribute)
}

// TypeMismatchError reports that a value's encoded type doesn't match
// the attribute's declared type.
type TypeMismatchError struct {
	Attribute    string
	DeclaredType codec.Kind
	ValueType    codec.Kind
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf(
		"attribute %q is declared %s but value is %s",
		e.Attribute, e.DeclaredType, e.ValueType,
	)
}

// Lookup resolves an attribute's definition as of head, reading it the
// same way any other entity's attributes are read: a `type` tuple and
// a `collection` tuple filed under the attribute name itself.
func Lookup(ctx context.Context, q tuplelog.Queryer, name string, head int64) (Def, bool, error) {
	tuples, err := tuplelog.AllFor(ctx, q, name, head)
	if err != nil {
		return Def{}, false, fmt.Errorf("lookup attribute %q: %w", name, err)
	}

	typeTuple, ok := tuples[TypeKey]
	if !ok {
		return Def{}, false, nil
	}
	typeVal, err := codec.Decode(typeTuple.Value)
	if err != nil {
		return Def{}, false, fmt.Errorf("lookup attribute %q: decode type: %w", name, err)
	}
	kind, ok := codec.ParseKind(typeVal.String)
	if !ok {
		return Def{}, false, fmt.Errorf("lookup attribute %q: unrecognized declared type %q", name, typeVal.String)
	}

	collection := false
	if collTuple, ok := tuples[CollectionKey]; ok {
		collVal, err := codec.Decode(collTuple.Value)
		if err != nil {
			return Def{}, false, fmt.Errorf("lookup attribute %q: decode collection flag: %w", name, err)
		}
		collection = collVal.Integer != 0
	}

	return Def{Name: name, Type: kind, Collection: collection}, true, nil
}

// Validate checks that value's kind matches def.Type, returning a
// TypeMismatchError otherwise.
func Validate(def Def, value codec.Value) error {
	if value.Kind != def.Type {
		return &TypeMismatchError{Attribute: def.Name, DeclaredType: def.Type, ValueType: value.Kind}
	}
	return nil
}
