package openai

import (
	"context"
	"errors"
	"time"

	"github.com/hidrolabs/aquarelay/internal/common/config"
	"github.com/hidrolabs/aquarelay/internal/common/errorx"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Message is a provider-agnostic chat message.
type Message struct {
	Role       string // system, user, assistant, tool
	Content    string
	ToolCallID string     // set on tool-result messages
	ToolCalls  []ToolCall // set on assistant messages that request tools
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// ToolDefinition describes a callable tool advertised to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema
}

// Request is a single chat completion request.
type Request struct {
	Model       string
	Temperature float64
	MaxTokens   int64
	Messages    []Message
	Tools       []ToolDefinition
}

// Usage reports token consumption for one completion.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// Completion is the model's answer to a Request.
type Completion struct {
	Content      string
	ToolCalls    []ToolCall
	Model        string
	FinishReason string
	Usage        Usage
}

// Client wraps the OpenAI client with our configuration
type Client struct {
	client       openai.Client
	model        string
	pollInterval time.Duration
	runDeadline  time.Duration
}

// NewClient creates a new OpenAI client with the given API key
func NewClient(cfg *config.OpenAIConfig) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		client:       openai.NewClient(opts...),
		model:        cfg.Model,
		pollInterval: cfg.RunPollInterval,
		runDeadline:  cfg.RunDeadline,
	}
}

// ChatCompletion handles chat completion requests
func (c *Client) ChatCompletion(ctx context.Context, req Request) (*Completion, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	params := openai.ChatCompletionNewParams{
		Messages: toMessageParams(req.Messages),
		Model:    model,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		params.Tools = toToolParams(req.Tools)
	}

	chatCompletion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, errorx.NewUpstreamError("completion", 0, err)
	}
	if len(chatCompletion.Choices) == 0 {
		return nil, errorx.NewUpstreamError("completion", 0, errors.New("empty choices"))
	}

	choice := chatCompletion.Choices[0]
	out := &Completion{
		Content:      choice.Message.Content,
		Model:        chatCompletion.Model,
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     chatCompletion.Usage.PromptTokens,
			CompletionTokens: chatCompletion.Usage.CompletionTokens,
			TotalTokens:      chatCompletion.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

// AssistantReply posts the prompt to a fresh assistant thread, polls the run
// until a terminal state and returns the final assistant message. Polling is
// bounded by the configured run deadline.
func (c *Client) AssistantReply(ctx context.Context, assistantID, prompt string) (string, error) {
	thread, err := c.client.Beta.Threads.New(ctx, openai.BetaThreadNewParams{})
	if err != nil {
		return "", errorx.NewUpstreamError("assistant", 0, err)
	}

	_, err = c.client.Beta.Threads.Messages.New(ctx, thread.ID, openai.BetaThreadMessageNewParams{
		Role: openai.BetaThreadMessageNewParamsRoleUser,
		Content: openai.BetaThreadMessageNewParamsContentUnion{
			OfString: openai.String(prompt),
		},
	})
	if err != nil {
		return "", errorx.NewUpstreamError("assistant", 0, err)
	}

	run, err := c.client.Beta.Threads.Runs.New(ctx, thread.ID, openai.BetaThreadRunNewParams{
		AssistantID: assistantID,
	})
	if err != nil {
		return "", errorx.NewUpstreamError("assistant", 0, err)
	}

	deadline := time.Now().Add(c.runDeadline)
	for run.Status == openai.RunStatusQueued || run.Status == openai.RunStatusInProgress {
		if time.Now().After(deadline) {
			return "", errorx.ErrRunTimedOut(int(c.runDeadline / time.Second))
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollInterval):
		}
		run, err = c.client.Beta.Threads.Runs.Get(ctx, thread.ID, run.ID)
		if err != nil {
			return "", errorx.NewUpstreamError("assistant", 0, err)
		}
	}
	if run.Status != openai.RunStatusCompleted {
		return "", errorx.NewUpstreamError("assistant", 0,
			errors.New("run ended in state "+string(run.Status)))
	}

	messages, err := c.client.Beta.Threads.Messages.List(ctx, thread.ID, openai.BetaThreadMessageListParams{
		Order: openai.BetaThreadMessageListParamsOrderDesc,
		Limit: openai.Int(1),
	})
	if err != nil {
		return "", errorx.NewUpstreamError("assistant", 0, err)
	}
	if len(messages.Data) == 0 || len(messages.Data[0].Content) == 0 {
		return "", errorx.NewUpstreamError("assistant", 0, errors.New("run produced no message"))
	}
	return messages.Data[0].Content[0].Text.Value, nil
}

func toMessageParams(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			asst := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				asst.Content.OfString = openai.String(m.Content)
			}
			for _, tc := range m.ToolCalls {
				asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case "tool":
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func toToolParams(defs []ToolDefinition) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, d := range defs {
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        d.Name,
				Description: openai.String(d.Description),
				Parameters:  openai.FunctionParameters(d.Parameters),
			},
		})
	}
	return out
}
