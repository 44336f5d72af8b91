package llm

import (
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"context"

	"github.com/loomrun/agentcore/internal/errs"
)

// openAIClient adapts openai-go's streaming chat completions API to the
// Client interface. BaseURL lets this backend double as "any OpenAI
// compatible server" per LLM_BASE_URL (spec §6).
type openAIClient struct {
	sdk openai.Client
}

// NewOpenAI builds a Client backed by the OpenAI-compatible Chat Completions
// API.
func NewOpenAI(apiKey, baseURL string) Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &openAIClient{sdk: openai.NewClient(opts...)}
}

func (o *openAIClient) Chat(ctx context.Context, req ChatRequest) (Stream, error) {
	params := openai.ChatCompletionNewParams{
		Model: req.Model,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case RoleUser:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		case RoleAssistant:
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		case RoleTool:
			params.Messages = append(params.Messages, openai.ToolMessage(m.Content, m.ToolCallID))
		}
	}

	for _, t := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  openai.FunctionParameters(t.Parameters),
			},
		})
	}

	stream := o.sdk.Chat.Completions.NewStreaming(ctx, params)
	return &openAIStream{stream: stream}, nil
}

type openAIStream struct {
	stream    *ssestream.Stream[openai.ChatCompletionChunk]
	toolNames map[int64]struct{}
}

func (s *openAIStream) Next(ctx context.Context) (Delta, bool, error) {
	if !s.stream.Next() {
		if err := s.stream.Err(); err != nil {
			return Delta{}, false, errs.Wrap(errs.UpstreamFailure, "openai stream", err)
		}
		return Delta{Kind: DeltaDone}, false, nil
	}

	chunk := s.stream.Current()
	if len(chunk.Choices) == 0 {
		if chunk.Usage.TotalTokens > 0 {
			return Delta{Kind: DeltaUsage, Usage: Usage{
				PromptTokens:     int(chunk.Usage.PromptTokens),
				CompletionTokens: int(chunk.Usage.CompletionTokens),
			}}, true, nil
		}
		return Delta{}, true, nil
	}

	choice := chunk.Choices[0]
	if choice.Delta.Content != "" {
		return Delta{Kind: DeltaText, Text: choice.Delta.Content}, true, nil
	}
	if len(choice.Delta.ToolCalls) > 0 {
		tc := choice.Delta.ToolCalls[0]
		d := ToolCallDelta{
			Index:         int(tc.Index),
			ID:            tc.ID,
			Name:          tc.Function.Name,
			ArgumentsFrag: tc.Function.Arguments,
		}
		if choice.FinishReason == "tool_calls" || choice.FinishReason == "stop" {
			d.Done = true
		}
		return Delta{Kind: DeltaToolCall, ToolCall: d}, true, nil
	}
	if choice.FinishReason != "" {
		return Delta{Kind: DeltaDone}, true, nil
	}
	return Delta{}, true, nil
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}
