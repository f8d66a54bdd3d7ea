package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToJSONSchemaSortsKeys(t *testing.T) {
	s := Schema{
		"zeta":  {Type: TypeString},
		"alpha": {Type: TypeNumber, Required: true},
	}
	first := s.ToJSONSchema()
	second := s.ToJSONSchema()
	require.Equal(t, string(first), string(second))
	require.Contains(t, string(first), `"alpha"`)
	require.Contains(t, string(first), `"required":["alpha"]`)
}

func TestValidateAcceptsConformingValue(t *testing.T) {
	s := Schema{
		"name": {Type: TypeString, Required: true},
		"age":  {Type: TypeInteger},
	}
	value, issues := s.Validate(map[string]any{"name": "Rico", "age": float64(19)})
	require.Nil(t, issues)
	require.Equal(t, "Rico", value.(map[string]any)["name"])
}

func TestValidateRejectsMissingRequiredField(t *testing.T) {
	s := Schema{"name": {Type: TypeString, Required: true}}
	_, issues := s.Validate(map[string]any{})
	require.NotEmpty(t, issues)
	require.Error(t, issues)
}

func TestValidateRejectsWrongType(t *testing.T) {
	s := Schema{"age": {Type: TypeInteger}}
	_, issues := s.Validate(map[string]any{"age": "not a number"})
	require.NotEmpty(t, issues)
}

func TestNestedObjectSchema(t *testing.T) {
	s := Schema{
		"address": {
			Type: TypeObject,
			Properties: map[string]*Field{
				"city": {Type: TypeString, Required: true},
			},
		},
	}
	_, issues := s.Validate(map[string]any{"address": map[string]any{}})
	require.NotEmpty(t, issues)

	_, issues = s.Validate(map[string]any{"address": map[string]any{"city": "Buenos Aires"}})
	require.Nil(t, issues)
}
