package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// ClaudeProvider generates through the Anthropic Messages API. Claude has no
// response-schema parameter, so the schema is appended to the system prompt.
type ClaudeProvider struct {
	client anthropic.Client
}

// NewClaudeProvider creates a provider for the given API key.
func NewClaudeProvider(apiKey string, opts ...option.RequestOption) *ClaudeProvider {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &ClaudeProvider{client: anthropic.NewClient(opts...)}
}

func (p *ClaudeProvider) Name() string { return string(ProviderClaude) }

func (p *ClaudeProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(req.Images)+1)
	for _, img := range req.Images {
		blocks = append(blocks, anthropic.NewImageBlockBase64(img.MediaType, base64.StdEncoding.EncodeToString(img.Data)))
	}
	blocks = append(blocks, anthropic.NewTextBlock(req.Prompt))

	system, err := claudeSystem(req.System, req.Schema)
	if err != nil {
		return nil, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	}
	if req.Temperature >= 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	input := int(msg.Usage.InputTokens)
	output := int(msg.Usage.OutputTokens)
	return &Response{
		Text:  stripCodeFence(sb.String()),
		Usage: &TokenUsage{InputTokens: input, OutputTokens: output, TotalTokens: input + output},
	}, nil
}

func claudeSystem(system string, schema map[string]any) (string, error) {
	if schema == nil {
		return system, nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return "", fmt.Errorf("encode schema: %w", err)
	}
	var sb strings.Builder
	if system != "" {
		sb.WriteString(system)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Respond with a single JSON object and nothing else. It must conform to this JSON Schema:\n")
	sb.Write(raw)
	return sb.String(), nil
}
