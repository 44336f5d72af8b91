package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/loomrun/agentcore/internal/errs"
)

// bedrockClient adapts AWS Bedrock's InvokeModelWithResponseStream API
// (Anthropic-on-Bedrock wire format) to the Client interface, used for
// "bedrock/*" model identifiers (SPEC_FULL §4.I).
type bedrockClient struct {
	sdk *bedrockruntime.Client
}

// NewBedrock builds a Client backed by AWS Bedrock, using the AWS SDK's
// default credential chain (profile, environment, or instance role).
func NewBedrock(cfg aws.Config) Client {
	return &bedrockClient{sdk: bedrockruntime.NewFromConfig(cfg)}
}

type bedrockRequestBody struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        int             `json:"max_tokens"`
	Messages         []bedrockMsg    `json:"messages"`
	System           string          `json:"system,omitempty"`
	Tools            json.RawMessage `json:"tools,omitempty"`
}

type bedrockMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (b *bedrockClient) Chat(ctx context.Context, req ChatRequest) (Stream, error) {
	modelID := strings.TrimPrefix(req.Model, "bedrock/")

	body := bedrockRequestBody{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxOr(req.MaxTokens, 4096),
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			body.System += m.Content + "\n"
		case RoleUser, RoleAssistant:
			body.Messages = append(body.Messages, bedrockMsg{Role: string(m.Role), Content: m.Content})
		case RoleTool:
			body.Messages = append(body.Messages, bedrockMsg{Role: "user", Content: m.Content})
		}
	}
	if len(req.Tools) > 0 {
		toolDocs := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			toolDocs = append(toolDocs, map[string]any{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": t.Parameters,
			})
		}
		raw, err := json.Marshal(toolDocs)
		if err != nil {
			return nil, errs.Wrap(errs.Internal, "marshal bedrock tool declarations", err)
		}
		body.Tools = raw
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "marshal bedrock request", err)
	}

	out, err := b.sdk.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return nil, errs.Wrap(errs.UpstreamFailure, "invoke bedrock model", err)
	}
	return &bedrockStream{events: out.GetStream().Events(), reader: out.GetStream()}, nil
}

type bedrockStream struct {
	events <-chan types.ResponseStream
	reader streamCloser
}

// streamCloser narrows the SDK's event stream reader to the Close method
// this adapter needs, avoiding a direct dependency on its full surface.
type streamCloser interface {
	Close() error
}

func (s *bedrockStream) Next(ctx context.Context) (Delta, bool, error) {
	select {
	case <-ctx.Done():
		return Delta{}, false, errs.Wrap(errs.Cancelled, "bedrock stream", ctx.Err())
	case ev, ok := <-s.events:
		if !ok {
			return Delta{Kind: DeltaDone}, false, nil
		}
		chunk, ok := ev.(*types.ResponseStreamMemberChunk)
		if !ok {
			return Delta{}, true, nil
		}
		var frame struct {
			Type  string `json:"type"`
			Delta struct {
				Type        string `json:"type"`
				Text        string `json:"text"`
				PartialJSON string `json:"partial_json"`
			} `json:"delta"`
			ContentBlock struct {
				Type string `json:"type"`
				Name string `json:"name"`
				ID   string `json:"id"`
			} `json:"content_block"`
			Index int `json:"index"`
		}
		if err := json.Unmarshal(chunk.Value.Bytes, &frame); err != nil {
			return Delta{}, true, nil
		}
		switch frame.Type {
		case "content_block_start":
			if frame.ContentBlock.Type == "tool_use" {
				return Delta{Kind: DeltaToolCall, ToolCall: ToolCallDelta{Index: frame.Index, ID: frame.ContentBlock.ID, Name: frame.ContentBlock.Name}}, true, nil
			}
		case "content_block_delta":
			if frame.Delta.Type == "text_delta" {
				return Delta{Kind: DeltaText, Text: frame.Delta.Text}, true, nil
			}
			if frame.Delta.Type == "input_json_delta" {
				return Delta{Kind: DeltaToolCall, ToolCall: ToolCallDelta{Index: frame.Index, ArgumentsFrag: frame.Delta.PartialJSON}}, true, nil
			}
		case "content_block_stop":
			return Delta{Kind: DeltaToolCall, ToolCall: ToolCallDelta{Index: frame.Index, Done: true}}, true, nil
		}
		return Delta{}, true, nil
	}
}

func (s *bedrockStream) Close() error {
	return s.reader.Close()
}
