package tools_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loomrun/agentcore/internal/registry"
	"github.com/loomrun/agentcore/internal/tools"
)

type fakeSearchProvider struct {
	results []tools.SearchResult
}

func (f fakeSearchProvider) Search(context.Context, string, int) ([]tools.SearchResult, error) {
	return f.results, nil
}

func TestWebSearchClampsLimitAndReturnsResults(t *testing.T) {
	r := registry.New()
	provider := fakeSearchProvider{results: []tools.SearchResult{
		{Title: "Go", URL: "https://go.dev", Snippet: "The Go programming language"},
	}}
	require.NoError(t, tools.RegisterWebSearch(r, provider))

	spec, ok := r.LookupByName("web_search")
	require.True(t, ok)

	out, err := spec.Handler(context.Background(), json.RawMessage(`{"query":"golang","limit":999}`))
	require.NoError(t, err)
	m := out.(map[string]any)
	require.Equal(t, "golang", m["query"])
	results := m["results"].([]map[string]any)
	require.Len(t, results, 1)
	require.Equal(t, "https://go.dev", results[0]["url"])
}

func TestStubSearchProviderReturnsNoResults(t *testing.T) {
	r := registry.New()
	require.NoError(t, tools.RegisterWebSearch(r, tools.StubSearchProvider{}))

	spec, _ := r.LookupByName("web_search")
	out, err := spec.Handler(context.Background(), json.RawMessage(`{"query":"anything"}`))
	require.NoError(t, err)
	require.Empty(t, out.(map[string]any)["results"])
}
