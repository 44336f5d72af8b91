package tools

import (
	"context"
	"encoding/json"

	"github.com/loomrun/agentcore/internal/errs"
	"github.com/loomrun/agentcore/internal/registry"
)

// SearchResult is one hit returned by a SearchProvider.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// SearchProvider is the pluggable external search backend web_search calls
// into. SPEC_FULL.md §4.K calls for "a pluggable external search provider
// interface with a stub HTTP-based implementation" rather than binding to
// one vendor; concrete backends (Brave, SerpAPI, etc.) implement this
// against their own HTTP client outside this package.
type SearchProvider interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// RegisterWebSearch registers web_search bound to provider.
func RegisterWebSearch(r *registry.Registry, provider SearchProvider) error {
	return r.Register(webSearchSpec(provider))
}

func webSearchSpec(provider SearchProvider) *registry.Spec {
	return mustBuild(
		"web_search",
		"Search the web and return matching page titles, URLs and snippets.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
				"limit": map[string]any{"type": "integer", "description": "Defaults to 10, max 25."},
			},
			"required": []any{"query"},
		},
		"web_search",
		[]registry.XMLMapping{
			{Param: "query", Node: registry.NodeContent, Value: registry.ValueString, Required: true},
			{Param: "limit", Node: registry.NodeAttribute, Value: registry.ValueInt},
		},
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args struct {
				Query string `json:"query"`
				Limit int    `json:"limit"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			limit := args.Limit
			if limit <= 0 {
				limit = 10
			}
			if limit > 25 {
				limit = 25
			}
			results, err := provider.Search(ctx, args.Query, limit)
			if err != nil {
				return nil, errs.Wrap(errs.ToolFailure, "web_search failed", err)
			}
			out := make([]map[string]any, 0, len(results))
			for _, res := range results {
				out = append(out, map[string]any{"title": res.Title, "url": res.URL, "snippet": res.Snippet})
			}
			return map[string]any{"query": args.Query, "results": out}, nil
		},
	)
}

// StubSearchProvider is a SearchProvider that always returns no results. It
// lets a deployment register web_search (so the LLM sees it is available)
// before wiring a real HTTP-backed provider, and keeps tests free of
// network calls.
type StubSearchProvider struct{}

func (StubSearchProvider) Search(context.Context, string, int) ([]SearchResult, error) {
	return nil, nil
}
