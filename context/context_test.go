package context

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDescribeTagsPrimitiveTypes(t *testing.T) {
	b := Bag{
		"count":   3,
		"label":   "hi",
		"ok":      true,
		"items":   []string{"a", "b"},
		"missing": nil,
	}
	ds := Describe(b)
	require.Len(t, ds, len(b))

	byName := map[string]Descriptor{}
	for _, d := range ds {
		byName[d.Name] = d
	}
	require.Equal(t, "number", byName["count"].Type)
	require.Equal(t, "string", byName["label"].Type)
	require.Equal(t, "boolean", byName["ok"].Type)
	require.Equal(t, "array", byName["items"].Type)
	require.Equal(t, "null", byName["missing"].Type)
}

func TestDescribeErrorCarriesMessage(t *testing.T) {
	b := Bag{"err": errors.New("boom")}
	ds := Describe(b)
	require.Len(t, ds, 1)
	require.Equal(t, "error", ds[0].Type)
	require.Equal(t, "boom", ds[0].Description)
}
