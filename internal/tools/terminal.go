package tools

import (
	"context"
	"encoding/json"

	"github.com/loomrun/agentcore/internal/registry"
)

// RegisterTerminalIntent registers the three tools the Thread Manager's
// decide phase treats as ending a run (spec §4.G): complete, ask and
// web-browser-takeover. None of them touch a sandbox; their handlers only
// echo back a structured acknowledgement, since it is the thread loop
// (internal/thread's terminalIntentTools map) that actually stops the run
// on seeing one of these names, not the handler's return value.
func RegisterTerminalIntent(r *registry.Registry) error {
	for _, spec := range []*registry.Spec{completeSpec(), askSpec(), webBrowserTakeoverSpec()} {
		if err := r.Register(spec); err != nil {
			return err
		}
	}
	return nil
}

func completeSpec() *registry.Spec {
	return mustBuild(
		"complete",
		"Signal that the task is finished. Call this when no further tool calls or messages are needed.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"summary": map[string]any{"type": "string", "description": "Optional final summary of what was accomplished."},
			},
		},
		"complete",
		[]registry.XMLMapping{
			{Param: "summary", Node: registry.NodeContent, Value: registry.ValueString},
		},
		func(_ context.Context, raw json.RawMessage) (any, error) {
			var args struct {
				Summary string `json:"summary"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			return map[string]any{"status": "complete", "summary": args.Summary}, nil
		},
	)
}

func askSpec() *registry.Spec {
	return mustBuild(
		"ask",
		"Ask the user a clarifying question and wait for their reply. Ends the current run.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text":        map[string]any{"type": "string", "description": "The question to ask."},
				"attachments": map[string]any{"type": "string", "description": "Comma-separated list of file paths to attach to the question."},
			},
			"required": []any{"text"},
		},
		"ask",
		[]registry.XMLMapping{
			{Param: "attachments", Node: registry.NodeAttribute, Value: registry.ValueString},
			{Param: "text", Node: registry.NodeContent, Value: registry.ValueString, Required: true},
		},
		func(_ context.Context, raw json.RawMessage) (any, error) {
			var args struct {
				Text        string `json:"text"`
				Attachments string `json:"attachments"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			return map[string]any{"status": "asked", "text": args.Text, "attachments": args.Attachments}, nil
		},
	)
}

func webBrowserTakeoverSpec() *registry.Spec {
	return mustBuild(
		"web-browser-takeover",
		"Hand interactive control of the sandbox browser session to the user (e.g. to complete a login or CAPTCHA). Ends the current run.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"reason": map[string]any{"type": "string", "description": "Why the user needs to take over the browser."},
			},
			"required": []any{"reason"},
		},
		"web-browser-takeover",
		[]registry.XMLMapping{
			{Param: "reason", Node: registry.NodeContent, Value: registry.ValueString, Required: true},
		},
		func(_ context.Context, raw json.RawMessage) (any, error) {
			var args struct {
				Reason string `json:"reason"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			return map[string]any{"status": "takeover_requested", "reason": args.Reason}, nil
		},
	)
}
