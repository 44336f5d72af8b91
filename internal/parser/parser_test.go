package parser_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loomrun/agentcore/internal/parser"
	"github.com/loomrun/agentcore/internal/registry"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()
	spec, err := registry.Build("complete", "signal completion", map[string]any{"type": "object"}, "complete", nil,
		func(_ context.Context, _ json.RawMessage) (any, error) { return map[string]any{"status": "complete"}, nil })
	require.NoError(t, err)
	require.NoError(t, r.Register(spec))

	askSpec, err := registry.Build("ask", "ask the user", map[string]any{"type": "object"}, "ask", []registry.XMLMapping{
		{Param: "attachments", Node: registry.NodeAttribute, Value: registry.ValueString},
		{Param: "text", Node: registry.NodeContent, Value: registry.ValueString, Required: true},
	}, func(_ context.Context, _ json.RawMessage) (any, error) { return nil, nil })
	require.NoError(t, err)
	require.NoError(t, r.Register(askSpec))
	return r
}

func TestXMLStreamingEmitsAsSoonAsClosed(t *testing.T) {
	r := newTestRegistry(t)
	p := parser.New(r, parser.Options{XMLEnabled: true})

	events, err := p.FeedText("DONE then ")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, parser.EventText, events[0].Kind)
	require.Equal(t, "DONE then ", events[0].Text)

	events, err = p.FeedText("<complete>")
	require.NoError(t, err)
	require.Empty(t, events) // tag not closed yet, held back

	events, err = p.FeedText("</complete>")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, parser.EventToolCall, events[0].Kind)
	require.Equal(t, "complete", events[0].Call.ToolName)
	require.Equal(t, "xml-complete-1", events[0].Call.CallID)
}

func TestXMLAttributesAndContentMapping(t *testing.T) {
	r := newTestRegistry(t)
	p := parser.New(r, parser.Options{XMLEnabled: true})

	events, err := p.FeedText(`<ask attachments="a.txt,b.jpg">Question text.</ask>`)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, parser.EventToolCall, events[0].Kind)
	require.NoError(t, events[0].CoercionError)

	var args map[string]any
	require.NoError(t, json.Unmarshal(events[0].Call.Arguments, &args))
	require.Equal(t, "a.txt,b.jpg", args["attachments"])
	require.Equal(t, "Question text.", args["text"])
}

func TestXMLMissingRequiredParamYieldsCoercionError(t *testing.T) {
	r := newTestRegistry(t)
	p := parser.New(r, parser.Options{XMLEnabled: true})

	events, err := p.FeedText(`<ask></ask>`)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Error(t, events[0].CoercionError)
}

func TestXMLNestedIdenticalTagRejected(t *testing.T) {
	r := newTestRegistry(t)
	p := parser.New(r, parser.Options{XMLEnabled: true})

	_, err := p.FeedText(`<ask>outer<ask>inner</ask>rest</ask>`)
	require.Error(t, err)
	var nestedErr *parser.ErrNestedTag
	require.ErrorAs(t, err, &nestedErr)
}

func TestJSONToolCallAccumulatesFragmentsAndFlushesOnDone(t *testing.T) {
	r := newTestRegistry(t)
	p := parser.New(r, parser.Options{JSONEnabled: true})

	events := p.FeedToolCall(0, "call_1", "complete", `{"sta`, false)
	require.Empty(t, events)

	events = p.FeedToolCall(0, "", "", `tus":"ok"}`, true)
	require.Len(t, events, 1)
	require.Equal(t, "call_1", events[0].Call.CallID)
	require.Equal(t, "complete", events[0].Call.ToolName)
	require.NoError(t, events[0].CoercionError)

	var args map[string]any
	require.NoError(t, json.Unmarshal(events[0].Call.Arguments, &args))
	require.Equal(t, "ok", args["status"])
}

func TestJSONToolCallInvalidArgumentsSurfacesCoercionError(t *testing.T) {
	r := newTestRegistry(t)
	p := parser.New(r, parser.Options{JSONEnabled: true})

	events := p.FeedToolCall(0, "call_1", "complete", `not json`, true)
	require.Len(t, events, 1)
	require.Error(t, events[0].CoercionError)
}

func TestMaxXMLToolCallsTruncatesRemainderWithDiagnostic(t *testing.T) {
	r := newTestRegistry(t)
	p := parser.New(r, parser.Options{XMLEnabled: true, MaxXMLCalls: 1})

	events, err := p.FeedText(`<complete></complete><complete></complete>`)
	require.NoError(t, err)

	var successful, diagnostic int
	for _, e := range events {
		if e.Kind != parser.EventToolCall {
			continue
		}
		if e.CoercionError != nil {
			diagnostic++
			require.Contains(t, e.CoercionError.Error(), "max_xml_tool_calls")
			continue
		}
		successful++
	}
	require.Equal(t, 1, successful, "only the first call within the limit parses")
	require.Equal(t, 1, diagnostic, "the remainder is surfaced as one diagnostic result, not dropped or replayed as text")
}
