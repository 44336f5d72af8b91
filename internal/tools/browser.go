package tools

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/loomrun/agentcore/internal/errs"
	"github.com/loomrun/agentcore/internal/registry"
)

// BrowserSessions lazily connects to, and caches, one headless Chrome page
// per sandbox ref over the ref's DevTools websocket endpoint. Grounded on
// vanducng-goclaw's browser-automation tool, which drives go-rod/rod the
// same way: one long-lived *rod.Browser per session rather than relaunching
// per call.
//
// Chrome itself runs inside the sandbox (started as part of sandbox setup,
// out of scope for this package); BrowserSessions only speaks the DevTools
// protocol to it, matching the composition split between sandbox.Provider
// (process/file lifecycle) and tool handlers (domain actions) required by
// spec.md's Design Notes.
type BrowserSessions struct {
	mu    sync.Mutex
	pages map[string]*rod.Page
}

// NewBrowserSessions returns an empty session cache.
func NewBrowserSessions() *BrowserSessions {
	return &BrowserSessions{pages: make(map[string]*rod.Page)}
}

// page returns the cached page for ref, connecting via controlURL (the
// sandbox's exposed DevTools websocket URL) on first use.
func (b *BrowserSessions) page(ref, controlURL string) (*rod.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if p, ok := b.pages[ref]; ok {
		return p, nil
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, errs.Wrap(errs.ToolFailure, "connect to sandbox browser", err)
	}
	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, errs.Wrap(errs.ToolFailure, "open sandbox browser page", err)
	}
	b.pages[ref] = page
	return page, nil
}

// Close disconnects and forgets the cached page for ref, if any.
func (b *BrowserSessions) Close(ref string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pages[ref]; ok {
		_ = p.Close()
		delete(b.pages, ref)
	}
}

// RegisterBrowserTools registers browser_navigate, browser_click and
// browser_extract_text, all closing over a shared BrowserSessions cache, a
// sandbox ref and that sandbox's DevTools control URL (SPEC_FULL.md §4.K).
func RegisterBrowserTools(r *registry.Registry, sessions *BrowserSessions, ref, controlURL string) error {
	specs := []*registry.Spec{
		browserNavigateSpec(sessions, ref, controlURL),
		browserClickSpec(sessions, ref, controlURL),
		browserExtractTextSpec(sessions, ref, controlURL),
	}
	for _, spec := range specs {
		if err := r.Register(spec); err != nil {
			return err
		}
	}
	return nil
}

func browserNavigateSpec(sessions *BrowserSessions, ref, controlURL string) *registry.Spec {
	return mustBuild(
		"browser_navigate",
		"Navigate the sandbox browser to a URL.",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{"url": map[string]any{"type": "string"}},
			"required":   []any{"url"},
		},
		"browser_navigate",
		[]registry.XMLMapping{
			{Param: "url", Node: registry.NodeContent, Value: registry.ValueString, Required: true},
		},
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args struct {
				URL string `json:"url"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			page, err := sessions.page(ref, controlURL)
			if err != nil {
				return nil, err
			}
			page = page.Context(ctx)
			if err := page.Navigate(args.URL); err != nil {
				return nil, errs.Wrap(errs.ToolFailure, "browser_navigate failed", err)
			}
			if err := page.WaitLoad(); err != nil {
				return nil, errs.Wrap(errs.ToolFailure, "browser_navigate wait load failed", err)
			}
			return map[string]any{"url": args.URL}, nil
		},
	)
}

func browserClickSpec(sessions *BrowserSessions, ref, controlURL string) *registry.Spec {
	return mustBuild(
		"browser_click",
		"Click the first element in the sandbox browser matching a CSS selector.",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{"selector": map[string]any{"type": "string"}},
			"required":   []any{"selector"},
		},
		"browser_click",
		[]registry.XMLMapping{
			{Param: "selector", Node: registry.NodeContent, Value: registry.ValueString, Required: true},
		},
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args struct {
				Selector string `json:"selector"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			page, err := sessions.page(ref, controlURL)
			if err != nil {
				return nil, err
			}
			page = page.Context(ctx)
			el, err := page.Element(args.Selector)
			if err != nil {
				return nil, errs.Wrap(errs.ToolFailure, "browser_click: element not found", err)
			}
			if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
				return nil, errs.Wrap(errs.ToolFailure, "browser_click failed", err)
			}
			return map[string]any{"selector": args.Selector, "clicked": true}, nil
		},
	)
}

func browserExtractTextSpec(sessions *BrowserSessions, ref, controlURL string) *registry.Spec {
	return mustBuild(
		"browser_extract_text",
		"Extract the visible text of the first element matching a CSS selector, or the whole page if omitted.",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{"selector": map[string]any{"type": "string"}},
		},
		"browser_extract_text",
		[]registry.XMLMapping{
			{Param: "selector", Node: registry.NodeContent, Value: registry.ValueString},
		},
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			var args struct {
				Selector string `json:"selector"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			page, err := sessions.page(ref, controlURL)
			if err != nil {
				return nil, err
			}
			page = page.Context(ctx)

			if args.Selector == "" {
				el, err := page.Element("body")
				if err != nil {
					return nil, errs.Wrap(errs.ToolFailure, "browser_extract_text failed", err)
				}
				text, err := el.Text()
				if err != nil {
					return nil, errs.Wrap(errs.ToolFailure, "browser_extract_text failed", err)
				}
				return map[string]any{"text": text}, nil
			}

			el, err := page.Element(args.Selector)
			if err != nil {
				return nil, errs.Wrap(errs.ToolFailure, "browser_extract_text: element not found", err)
			}
			text, err := el.Text()
			if err != nil {
				return nil, errs.Wrap(errs.ToolFailure, "browser_extract_text failed", err)
			}
			return map[string]any{"selector": args.Selector, "text": text}, nil
		},
	)
}
