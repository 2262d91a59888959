package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements Provider for OpenAI
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
	}
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// buildParams converts a provider-agnostic request to OpenAI format.
func (p *OpenAIProvider) buildParams(req Request) (openai.ChatCompletionNewParams, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}

	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case "user":
			messages = append(messages, openai.UserMessage(msg.Content))
		case "assistant":
			if len(msg.ToolCalls) > 0 {
				toolCalls := []openai.ChatCompletionMessageToolCall{}
				for _, tc := range msg.ToolCalls {
					paramsJSON, err := json.Marshal(tc.Parameters)
					if err != nil {
						return openai.ChatCompletionNewParams{}, fmt.Errorf("failed to marshal tool parameters: %w", err)
					}

					toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
						ID:   tc.ID,
						Type: "function",
						Function: openai.ChatCompletionMessageToolCallFunction{
							Name:      tc.Name,
							Arguments: string(paramsJSON),
						},
					})
				}

				assistantMsg := openai.ChatCompletionMessage{
					Role:      "assistant",
					Content:   msg.Content,
					ToolCalls: toolCalls,
				}
				messages = append(messages, assistantMsg.ToParam())
			} else {
				messages = append(messages, openai.AssistantMessage(msg.Content))
			}
		case "tool":
			messages = append(messages, openai.ToolMessage(msg.ToolCallID, msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}

	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	if len(req.Tools) > 0 {
		toolParams := []openai.ChatCompletionToolParam{}
		for _, def := range req.Tools {
			toolParams = append(toolParams, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        def.Name,
					Description: openai.String(def.Description),
					Parameters:  openai.FunctionParameters(def.Schema),
				},
			})
		}
		params.Tools = toolParams
	}

	return params, nil
}

// parseToolCalls converts OpenAI tool calls into the common format.
func parseToolCalls(calls []openai.ChatCompletionMessageToolCall) ([]ToolCall, error) {
	toolCalls := []ToolCall{}
	for _, tc := range calls {
		var params map[string]interface{}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &params); err != nil {
			return nil, fmt.Errorf("failed to parse tool arguments: %w", err)
		}
		toolCalls = append(toolCalls, ToolCall{
			ID:         tc.ID,
			Name:       tc.Function.Name,
			Parameters: params,
		})
	}
	return toolCalls, nil
}

// Complete makes a blocking API call to OpenAI
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	response, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}

	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}
	choice := response.Choices[0]

	toolCalls, err := parseToolCalls(choice.Message.ToolCalls)
	if err != nil {
		return nil, err
	}

	return &Response{
		Content:   choice.Message.Content,
		ToolCalls: toolCalls,
		Usage: Usage{
			InputTokens:  int(response.Usage.PromptTokens),
			OutputTokens: int(response.Usage.CompletionTokens),
		},
	}, nil
}

// Stream makes a streaming API call, delivering text deltas to fn
func (p *OpenAIProvider) Stream(ctx context.Context, req Request, fn StreamHandler) (*Response, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	acc := openai.ChatCompletionAccumulator{}

	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		if fn != nil && len(chunk.Choices) > 0 {
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				fn(delta)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}

	if len(acc.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}
	choice := acc.Choices[0]

	toolCalls, err := parseToolCalls(choice.Message.ToolCalls)
	if err != nil {
		return nil, err
	}

	return &Response{
		Content:   choice.Message.Content,
		ToolCalls: toolCalls,
		Usage: Usage{
			InputTokens:  int(acc.Usage.PromptTokens),
			OutputTokens: int(acc.Usage.CompletionTokens),
		},
	}, nil
}
