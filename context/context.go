// Package context implements the Context and ContextDescriptor data model of
// spec.md §3: a caller-owned bag of live, in-process values the sandbox may
// read, plus a derived, prompt-safe description of each entry.
package context

import (
	"errors"
	"fmt"
	"reflect"
)

// Bag is a mapping from string identifier to an arbitrary live value. The
// caller owns every entry; klendathu never copies them and their lifetime is
// exactly one request (spec.md §3).
type Bag map[string]any

// Descriptor is the prompt-safe, serializable shape of one Bag entry
// (spec.md §3): `{name, type-tag, description?}`. For values that are
// error-shaped, Description carries the message plus stack so the agent can
// reason about a failure without the live error object leaking into the
// prompt.
type Descriptor struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Describe derives the prompt-rendering Descriptor slice for a Bag, in
// caller-supplied iteration order is not guaranteed (Go maps have no stable
// order); callers that need deterministic prompt text should sort the result
// by Name.
func Describe(b Bag) []Descriptor {
	out := make([]Descriptor, 0, len(b))
	for name, v := range b {
		out = append(out, describeOne(name, v))
	}
	return out
}

func describeOne(name string, v any) Descriptor {
	d := Descriptor{Name: name, Type: typeTag(v)}
	if err, ok := v.(error); ok {
		d.Description = errorDescription(err)
	}
	return d
}

func typeTag(v any) string {
	if v == nil {
		return "null"
	}
	if _, ok := v.(error); ok {
		return "error"
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func:
		return "function"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct, reflect.Ptr, reflect.Interface:
		return "object"
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "number"
	default:
		return "unknown"
	}
}

// errorDescription renders an error's message plus stack, where available,
// for inclusion in a ContextDescriptor (spec.md §3).
func errorDescription(err error) string {
	type stackTracer interface{ StackTrace() string }
	msg := err.Error()
	var st stackTracer
	if errors.As(err, &st) {
		return fmt.Sprintf("%s\n%s", msg, st.StackTrace())
	}
	return msg
}
