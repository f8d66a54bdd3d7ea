// Package schema implements the Schema data model of spec.md §3: a mapping
// from field name to field descriptor, reducible to JSON-Schema for both
// prompt rendering and cache-key formation, and validated with
// github.com/santhosh-tekuri/jsonschema/v6 (the same validator the teacher
// codebase uses to check generated tool specs against their schemas).
package schema

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Type tags the shape of a field's value.
type Type string

const (
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeInteger Type = "integer"
	TypeBoolean Type = "boolean"
	TypeArray   Type = "array"
	TypeObject  Type = "object"
	TypeAny     Type = "any"
)

// Field describes one entry in a Schema: a type tag, validation constraints,
// and an optional human-readable description (spec.md §3).
type Field struct {
	Type        Type
	Description string
	Required    bool

	// Numeric constraints (TypeNumber, TypeInteger).
	Min *float64
	Max *float64

	// String constraints (TypeString).
	MinLength *int
	MaxLength *int
	Pattern   string
	Enum      []string

	// Array constraints (TypeArray). Items describes the element shape.
	Items *Field

	// Object constraints (TypeObject). Properties describes nested fields.
	Properties map[string]*Field
}

// Schema is a mapping from field name to descriptor; as a Go map it has no
// order of its own, and ToJSONSchema emits fields in name order. The caller
// builds it directly; klendathu never infers it from a Go struct.
type Schema map[string]*Field

// Issue is a single validation failure, keyed by JSON-pointer-like path, as
// specified in spec.md §3 ("a list of {path, message} issues").
type Issue struct {
	Path    string
	Message string
}

// Issues is a list of Issue that also implements error so callers that only
// expect a single error still get a readable summary.
type Issues []Issue

func (is Issues) Error() string {
	s := ""
	for i, issue := range is {
		if i > 0 {
			s += "; "
		}
		s += fmt.Sprintf("%s: %s", issue.Path, issue.Message)
	}
	return s
}

// ToJSONSchema reduces Schema to a draft 2020-12 JSON-Schema document, with
// object properties emitted in sorted key order so that two structurally
// identical schemas serialize byte-identically regardless of Go map
// iteration order (this is what makes the cache key in spec.md §3 stable).
func (s Schema) ToJSONSchema() json.RawMessage {
	doc := fieldsToJSONSchema(s)
	// Marshaling via encoding/json sorts map[string]any keys already;
	// fieldsToJSONSchema also walks field names in sorted order so the
	// "required" list comes out in a fixed order too.
	b, err := json.Marshal(doc)
	if err != nil {
		// doc is built entirely from this package's own types; a marshal
		// failure here would mean a programming error, not bad input.
		panic(fmt.Sprintf("schema: marshal json schema: %v", err))
	}
	return b
}

func fieldsToJSONSchema(s Schema) map[string]any {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)

	props := make(map[string]any, len(s))
	required := make([]string, 0, len(s))
	for _, name := range names {
		f := s[name]
		props[name] = fieldToJSONSchema(f)
		if f.Required {
			required = append(required, name)
		}
	}
	doc := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc
}

func fieldToJSONSchema(f *Field) map[string]any {
	doc := map[string]any{}
	switch f.Type {
	case TypeAny, "":
		// omit "type" to allow any shape
	default:
		doc["type"] = string(f.Type)
	}
	if f.Description != "" {
		doc["description"] = f.Description
	}
	if f.Min != nil {
		doc["minimum"] = *f.Min
	}
	if f.Max != nil {
		doc["maximum"] = *f.Max
	}
	if f.MinLength != nil {
		doc["minLength"] = *f.MinLength
	}
	if f.MaxLength != nil {
		doc["maxLength"] = *f.MaxLength
	}
	if f.Pattern != "" {
		doc["pattern"] = f.Pattern
	}
	if len(f.Enum) > 0 {
		vals := make([]any, len(f.Enum))
		for i, v := range f.Enum {
			vals[i] = v
		}
		doc["enum"] = vals
	}
	if f.Type == TypeArray && f.Items != nil {
		doc["items"] = fieldToJSONSchema(f.Items)
	}
	if f.Type == TypeObject && len(f.Properties) > 0 {
		sub := Schema(f.Properties)
		nested := fieldsToJSONSchema(sub)
		for k, v := range nested {
			doc[k] = v
		}
	}
	return doc
}

// Compile compiles the schema into a reusable *jsonschema.Schema for
// validation. Compilation failures indicate the Schema itself is malformed
// (e.g. an invalid Pattern) rather than a validation failure of a value.
func (s Schema) Compile() (*jsonschema.Schema, error) {
	raw := s.ToJSONSchema()
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("schema: decode generated json schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	const resourceURL = "klendathu://schema"
	if err := c.AddResource(resourceURL, doc); err != nil {
		return nil, fmt.Errorf("schema: add resource: %w", err)
	}
	compiled, err := c.Compile(resourceURL)
	if err != nil {
		return nil, fmt.Errorf("schema: compile: %w", err)
	}
	return compiled, nil
}

// Validate validates value (expected to already be JSON-shaped, e.g. the
// serialized output of a sandbox.Evaluator) against the schema. It returns the accepted
// value unchanged on success, or a non-nil Issues on failure, as specified in
// spec.md §3.
func (s Schema) Validate(value any) (any, Issues) {
	compiled, err := s.Compile()
	if err != nil {
		return nil, Issues{{Path: "", Message: err.Error()}}
	}
	if err := compiled.Validate(value); err != nil {
		return nil, issuesFromValidationError(err)
	}
	return value, nil
}

func issuesFromValidationError(err error) Issues {
	var verr *jsonschema.ValidationError
	if ok := asValidationError(err, &verr); !ok {
		return Issues{{Path: "", Message: err.Error()}}
	}
	var out Issues
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if e == nil {
			return
		}
		path := e.InstanceLocation
		if len(path) == 0 {
			path = []string{}
		}
		out = append(out, Issue{Path: "/" + joinPath(path), Message: e.Error()})
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)
	return out
}

func joinPath(parts []string) string {
	s := ""
	for i, p := range parts {
		if i > 0 {
			s += "/"
		}
		s += p
	}
	return s
}

func asValidationError(err error, target **jsonschema.ValidationError) bool {
	if verr, ok := err.(*jsonschema.ValidationError); ok {
		*target = verr
		return true
	}
	return false
}
