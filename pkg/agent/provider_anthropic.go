package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements Provider for Anthropic Claude
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}
}

// Name returns the provider name
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// buildParams converts a provider-agnostic request to Anthropic format.
func (p *AnthropicProvider) buildParams(req Request) anthropic.MessageNewParams {
	anthropicMessages := []anthropic.MessageParam{}

	for _, msg := range req.Messages {
		// Tool results travel as user messages
		if msg.Role == "tool" {
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))
			continue
		}

		if msg.Role == "assistant" && len(msg.ToolCalls) > 0 {
			blocks := []anthropic.ContentBlockParamUnion{}
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Parameters, tc.Name))
			}
			anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})
			continue
		}

		switch msg.Role {
		case "user":
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		case "assistant":
			anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{
					anthropic.NewTextBlock(msg.Content),
				},
			})
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  anthropicMessages,
		MaxTokens: int64(req.MaxTokens),
	}

	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.SystemPrompt},
		}
	}

	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	if len(req.Tools) > 0 {
		toolParams := []anthropic.ToolUnionParam{}
		for _, def := range req.Tools {
			toolParam := anthropic.ToolParam{
				Name:        def.Name,
				Description: anthropic.String(def.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: def.Schema["properties"],
				},
			}
			toolParam.InputSchema.Required = requiredFields(def.Schema)
			toolParams = append(toolParams, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		params.Tools = toolParams
	}

	return params
}

// requiredFields extracts the required list from a JSON schema.
func requiredFields(schema map[string]interface{}) []string {
	switch required := schema["required"].(type) {
	case []string:
		return required
	case []interface{}:
		fields := make([]string, 0, len(required))
		for _, v := range required {
			if s, ok := v.(string); ok {
				fields = append(fields, s)
			}
		}
		return fields
	}
	return nil
}

// parseMessage converts an Anthropic response into the common format.
func parseMessage(message *anthropic.Message) (*Response, error) {
	content := ""
	toolCalls := []ToolCall{}

	for _, block := range message.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			content += b.Text
		case anthropic.ToolUseBlock:
			var params map[string]interface{}
			if err := json.Unmarshal([]byte(b.JSON.Input.Raw()), &params); err != nil {
				return nil, fmt.Errorf("failed to parse tool input: %w", err)
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:         b.ID,
				Name:       b.Name,
				Parameters: params,
			})
		}
	}

	return &Response{
		Content:   content,
		ToolCalls: toolCalls,
		Usage: Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
	}, nil
}

// Complete makes a blocking API call to Anthropic Claude
func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	message, err := p.client.Messages.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, err
	}
	return parseMessage(message)
}

// Stream makes a streaming API call, delivering text deltas to fn
func (p *AnthropicProvider) Stream(ctx context.Context, req Request, fn StreamHandler) (*Response, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.buildParams(req))

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("failed to accumulate stream event: %w", err)
		}

		if fn != nil {
			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
					fn(delta.Text)
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}

	return parseMessage(&message)
}
