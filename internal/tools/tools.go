// Package tools holds the concrete tool handlers registered into
// internal/registry at startup (SPEC_FULL.md §4.K): terminal-intent
// signals, sandbox-backed file/shell I/O, browser automation, and the
// external data provider tools (web search, email search). Handlers here
// receive their dependencies (sandbox.Provider, an IMAP account, a rod
// browser) via closures built by the Register* functions below rather than
// through a base-tool class hierarchy (spec.md Design Notes: inheritance
// flattened to composition).
package tools

import (
	"encoding/json"

	"github.com/loomrun/agentcore/internal/errs"
	"github.com/loomrun/agentcore/internal/registry"
)

// mustBuild panics only at startup registration time, never at runtime; all
// call sites below pass static, hand-written schemas so CompileSchema
// cannot fail except on programmer error.
func mustBuild(name, description string, schema map[string]any, xmlTag string, mappings []registry.XMLMapping, h registry.Handler) *registry.Spec {
	spec, err := registry.Build(name, description, schema, xmlTag, mappings, h)
	if err != nil {
		panic("tools: bad built-in schema for " + name + ": " + err.Error())
	}
	return spec
}

// decodeArgs unmarshals raw into v, wrapping failures as an InvalidRequest
// tool error the dispatcher turns into a failed ToolResult rather than a
// panic.
func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errs.Wrap(errs.InvalidRequest, "invalid tool arguments", err)
	}
	return nil
}
