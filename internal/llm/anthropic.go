package llm

import (
	"context"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/loomrun/agentcore/internal/errs"
)

// anthropicClient adapts anthropic-sdk-go's streaming Messages API to the
// Client interface.
type anthropicClient struct {
	sdk *anthropic.Client
}

// NewAnthropic builds a Client backed by the Anthropic Messages API.
// baseURL may be empty to use the SDK default.
func NewAnthropic(apiKey, baseURL string) Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	c := anthropic.NewClient(opts...)
	return &anthropicClient{sdk: &c}
}

func (a *anthropicClient) Chat(ctx context.Context, req ChatRequest) (Stream, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxOr(req.MaxTokens, 4096)),
	}

	var system string
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system += m.Content + "\n"
		case RoleUser:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		case RoleTool:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		}
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	params.Messages = msgs

	for _, t := range req.Tools {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{Properties: t.Parameters["properties"]},
			},
		})
	}

	sdkStream := a.sdk.Messages.NewStreaming(ctx, params)
	return &anthropicStream{sdkStream: sdkStream}, nil
}

// anthropicStream translates raw Anthropic SSE events into provider-agnostic
// Deltas, tracking one in-flight tool_use block per content index so
// ArgumentsFrag can be assembled incrementally (spec §4.B streaming rule: a
// ToolCall must be emitted as soon as its closing token is observed).
type anthropicStream struct {
	sdkStream *anthropic.Stream[anthropic.MessageStreamEventUnion]
	mu        sync.Mutex
	toolIndex map[int]string // content block index -> tool name, for Done bookkeeping
}

func (s *anthropicStream) Next(ctx context.Context) (Delta, bool, error) {
	if !s.sdkStream.Next() {
		if err := s.sdkStream.Err(); err != nil {
			return Delta{}, false, errs.Wrap(errs.UpstreamFailure, "anthropic stream", err)
		}
		return Delta{Kind: DeltaDone}, false, nil
	}

	event := s.sdkStream.Current()
	switch variant := event.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		if variant.ContentBlock.Type == "tool_use" {
			s.mu.Lock()
			if s.toolIndex == nil {
				s.toolIndex = map[int]string{}
			}
			s.toolIndex[int(variant.Index)] = variant.ContentBlock.Name
			s.mu.Unlock()
			return Delta{Kind: DeltaToolCall, ToolCall: ToolCallDelta{
				Index: int(variant.Index),
				ID:    variant.ContentBlock.ID,
				Name:  variant.ContentBlock.Name,
			}}, true, nil
		}
	case anthropic.ContentBlockDeltaEvent:
		switch d := variant.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			return Delta{Kind: DeltaText, Text: d.Text}, true, nil
		case anthropic.InputJSONDelta:
			return Delta{Kind: DeltaToolCall, ToolCall: ToolCallDelta{
				Index:         int(variant.Index),
				ArgumentsFrag: d.PartialJSON,
			}}, true, nil
		}
	case anthropic.ContentBlockStopEvent:
		s.mu.Lock()
		_, isTool := s.toolIndex[int(variant.Index)]
		s.mu.Unlock()
		if isTool {
			return Delta{Kind: DeltaToolCall, ToolCall: ToolCallDelta{Index: int(variant.Index), Done: true}}, true, nil
		}
	case anthropic.MessageDeltaEvent:
		return Delta{Kind: DeltaUsage, Usage: Usage{
			CompletionTokens: int(variant.Usage.OutputTokens),
		}}, true, nil
	}
	// Event types we don't translate (message_start/ping/etc.) are skipped by
	// the caller looping on Next again.
	return Delta{}, true, nil
}

func (s *anthropicStream) Close() error {
	return s.sdkStream.Close()
}

func maxOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
