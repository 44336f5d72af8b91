package registry_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loomrun/agentcore/internal/errs"
	"github.com/loomrun/agentcore/internal/registry"
)

func echoHandler(_ context.Context, args json.RawMessage) (any, error) {
	return string(args), nil
}

func TestRegisterAndLookup(t *testing.T) {
	r := registry.New()
	spec, err := registry.Build("search", "search the web", map[string]any{
		"type":       "object",
		"properties": map[string]any{"query": map[string]any{"type": "string"}},
		"required":   []any{"query"},
	}, "search", []registry.XMLMapping{
		{Param: "query", Node: registry.NodeContent, Value: registry.ValueString, Required: true},
	}, echoHandler)
	require.NoError(t, err)

	require.NoError(t, r.Register(spec))

	got, ok := r.LookupByName("search")
	require.True(t, ok)
	require.Equal(t, spec, got)

	got, ok = r.LookupByTag("search")
	require.True(t, ok)
	require.Equal(t, spec, got)

	_, ok = r.LookupByName("missing")
	require.False(t, ok)
}

func TestRegisterDuplicateName(t *testing.T) {
	r := registry.New()
	spec1, err := registry.Build("dup", "", map[string]any{"type": "object"}, "", nil, echoHandler)
	require.NoError(t, err)
	spec2, err := registry.Build("dup", "", map[string]any{"type": "object"}, "", nil, echoHandler)
	require.NoError(t, err)

	require.NoError(t, r.Register(spec1))
	err = r.Register(spec2)
	require.Error(t, err)
	require.Equal(t, errs.Conflict, errs.KindOf(err))
}

func TestRegisterDuplicateTag(t *testing.T) {
	r := registry.New()
	spec1, err := registry.Build("a", "", map[string]any{"type": "object"}, "same", nil, echoHandler)
	require.NoError(t, err)
	spec2, err := registry.Build("b", "", map[string]any{"type": "object"}, "same", nil, echoHandler)
	require.NoError(t, err)

	require.NoError(t, r.Register(spec1))
	err = r.Register(spec2)
	require.Error(t, err)
	require.Equal(t, errs.Conflict, errs.KindOf(err))
}

func TestListJSONSchemasAndXMLExamples(t *testing.T) {
	r := registry.New()
	spec, err := registry.Build("search", "search the web", map[string]any{"type": "object"}, "search", []registry.XMLMapping{
		{Param: "query", Node: registry.NodeContent, Value: registry.ValueString, Required: true},
	}, echoHandler)
	require.NoError(t, err)
	require.NoError(t, r.Register(spec))

	schemas := r.ListJSONSchemas()
	require.Len(t, schemas, 1)
	require.Equal(t, "search", schemas[0].Name)

	examples := r.ListXMLExamples()
	require.Len(t, examples, 1)
	require.Equal(t, "search", examples[0].Tag)
}
