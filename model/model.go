// Package model describes document models to the pipeline compiler. A Model
// is a read-only descriptor built once by the caller: the collection name,
// the primary key, and the logical fields with their storage names and
// optional references to other models. The compiler only ever reads it.
package model

import (
	"fmt"
	"strings"
)

// Field describes one logical field of a model. Storage is the on-disk
// field name and defaults to Name. Exactly one of Ref and Embedded may be
// set: Ref marks a foreign-key reference to another collection's model,
// Embedded marks a nested document resolved with dotted paths and no join.
// Array marks collection-valued fields, which arithmetic expressions reject.
type Field struct {
	Name     string
	Storage  string
	Ref      *Model
	Embedded *Model
	Array    bool
}

func (f Field) storage() string {
	if f.Storage != "" {
		return f.Storage
	}
	return f.Name
}

// Model is the descriptor for one collection.
type Model struct {
	collection string
	primaryKey string
	fields     map[string]Field
}

// New builds a Model for the named collection. The primary key defaults to
// "_id"; use NewWithPrimaryKey when the collection keys on something else.
func New(collection string, fields ...Field) *Model {
	return NewWithPrimaryKey(collection, "_id", fields...)
}

// NewWithPrimaryKey builds a Model whose join target key is primaryKey.
func NewWithPrimaryKey(collection, primaryKey string, fields ...Field) *Model {
	m := &Model{
		collection: collection,
		primaryKey: primaryKey,
		fields:     make(map[string]Field, len(fields)),
	}
	for _, f := range fields {
		m.fields[f.Name] = f
	}
	// The primary key is always addressable, declared or not.
	if _, ok := m.fields[primaryKey]; !ok {
		m.fields[primaryKey] = Field{Name: primaryKey}
	}
	return m
}

// Collection returns the collection name.
func (m *Model) Collection() string { return m.collection }

// PrimaryKey returns the storage name of the primary key field.
func (m *Model) PrimaryKey() string { return m.primaryKey }

// Lookup returns the named logical field.
func (m *Model) Lookup(name string) (Field, bool) {
	f, ok := m.fields[name]
	return f, ok
}

// JoinSpec is one synthesized join hop: a $lookup from the current document
// stream to From, matching LocalField against ForeignField, unwound under
// the As alias.
type JoinSpec struct {
	From         string
	LocalField   string
	ForeignField string
	As           string
}

// FieldRef is the resolved form of a field path. Path is the wire path the
// compiled stage uses. Joins lists the lookup hops that must exist in the
// pipeline before any stage referencing Path; it is empty for local fields.
type FieldRef struct {
	Path  string
	Array bool
	Joins []JoinSpec
}

// Remote reports whether the reference crosses into another collection.
func (r FieldRef) Remote() bool { return len(r.Joins) > 0 }

// UnknownFieldError reports a path segment that does not exist on the model
// descriptor it was resolved against.
type UnknownFieldError struct {
	Collection string
	Field      string
	Path       string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field %q in path %q on collection %q", e.Field, e.Path, e.Collection)
}

// SplitPath splits a field path on both accepted separators, "__" and ".".
func SplitPath(path string) []string {
	return strings.Split(strings.ReplaceAll(path, "__", "."), ".")
}

// Resolve resolves a dotted or double-underscore field path against the
// model. Reference fields consumed mid-path each contribute a JoinSpec;
// embedded fields extend the dotted path in place. Resolution is purely
// functional and never touches pipeline state.
func (m *Model) Resolve(path string) (FieldRef, error) {
	segments := SplitPath(path)

	cur := m
	prefix := ""
	var joins []JoinSpec

	for i, seg := range segments {
		f, ok := cur.Lookup(seg)
		if !ok {
			return FieldRef{}, &UnknownFieldError{
				Collection: cur.collection,
				Field:      seg,
				Path:       path,
			}
		}

		last := i == len(segments)-1
		if last {
			return FieldRef{
				Path:  prefix + f.storage(),
				Array: f.Array,
				Joins: joins,
			}, nil
		}

		switch {
		case f.Ref != nil:
			joins = append(joins, JoinSpec{
				From:         f.Ref.collection,
				LocalField:   prefix + f.storage(),
				ForeignField: f.Ref.primaryKey,
				As:           prefix + f.Name,
			})
			prefix = prefix + f.Name + "."
			cur = f.Ref
		case f.Embedded != nil:
			prefix = prefix + f.storage() + "."
			cur = f.Embedded
		default:
			// A plain field cannot have trailing segments.
			return FieldRef{}, &UnknownFieldError{
				Collection: cur.collection,
				Field:      segments[i+1],
				Path:       path,
			}
		}
	}

	// Unreachable: the last segment always returns above.
	return FieldRef{}, &UnknownFieldError{Collection: m.collection, Path: path}
}
