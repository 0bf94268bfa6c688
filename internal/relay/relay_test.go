package relay

import (
	"context"
	"fmt"
	"testing"

	"github.com/hidrolabs/aquarelay/internal/common/cnst"
	"github.com/hidrolabs/aquarelay/internal/common/config"
	"github.com/hidrolabs/aquarelay/internal/common/errorx"
	"github.com/hidrolabs/aquarelay/internal/conversation"
	ai "github.com/hidrolabs/aquarelay/pkg/openai"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeClient scripts completion responses for the relay under test.
type fakeClient struct {
	responses []*ai.Completion
	errs      []error
	calls     []ai.Request
	assistant func(assistantID, prompt string) (string, error)
}

func (f *fakeClient) ChatCompletion(_ context.Context, req ai.Request) (*ai.Completion, error) {
	f.calls = append(f.calls, req)
	i := len(f.calls) - 1
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return &ai.Completion{Content: "fallthrough", FinishReason: "stop"}, nil
}

func (f *fakeClient) AssistantReply(_ context.Context, assistantID, prompt string) (string, error) {
	if f.assistant != nil {
		return f.assistant(assistantID, prompt)
	}
	return "", fmt.Errorf("no assistant scripted")
}

func testRelay(t *testing.T, client CompletionClient) (*Relay, conversation.Store) {
	t.Helper()
	store := conversation.NewMemoryStore(zap.NewNop(), 20)
	cfg := &config.OpenAIConfig{
		Model:         "gpt-4o-mini",
		Temperature:   0.4,
		MaxTokens:     512,
		ToolMaxRounds: 3,
	}
	return New(zap.NewNop(), store, client, NewToolRegistry(zap.NewNop()), cfg), store
}

func TestReplyRecordsExchange(t *testing.T) {
	client := &fakeClient{responses: []*ai.Completion{{
		Content:      "Su recibo vence el viernes.",
		Model:        "gpt-4o-mini",
		FinishReason: "stop",
		Usage:        ai.Usage{PromptTokens: 30, CompletionTokens: 8, TotalTokens: 38},
	}}}
	r, store := testRelay(t, client)

	reply, err := r.Reply(context.Background(), 10, "¿Cuándo vence mi recibo?", "contact-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "Su recibo vence el viernes.", reply.Content)
	assert.Equal(t, int64(38), reply.Usage.TotalTokens)

	h, err := store.History(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, h, 2)
	assert.Equal(t, cnst.RoleUser, h[0].Role)
	assert.Equal(t, cnst.RoleAssistant, h[1].Role)

	// the outbound request starts with the system instruction followed by
	// the retained history
	require.NotEmpty(t, client.calls)
	req := client.calls[0]
	require.GreaterOrEqual(t, len(req.Messages), 2)
	assert.Equal(t, cnst.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "¿Cuándo vence mi recibo?", req.Messages[len(req.Messages)-1].Content)
}

func TestReplySequentialExchanges(t *testing.T) {
	client := &fakeClient{responses: []*ai.Completion{
		{Content: "¡Hola! ¿En qué le ayudo?", FinishReason: "stop"},
		{Content: "De nada, estamos para servirle.", FinishReason: "stop"},
	}}
	r, store := testRelay(t, client)
	ctx := context.Background()

	_, err := r.Reply(ctx, 3, "Hola", "contact-1", nil)
	require.NoError(t, err)
	_, err = r.Reply(ctx, 3, "Gracias", "contact-1", nil)
	require.NoError(t, err)

	h, err := store.History(ctx, 3)
	require.NoError(t, err)
	require.Len(t, h, 4)
	assert.Equal(t, []string{cnst.RoleUser, cnst.RoleAssistant, cnst.RoleUser, cnst.RoleAssistant},
		[]string{h[0].Role, h[1].Role, h[2].Role, h[3].Role})
	assert.Equal(t, "Hola", h[0].Content)
	assert.Equal(t, "Gracias", h[2].Content)
}

func TestReplyUpstreamErrorLeavesNoPartialAssistantMessage(t *testing.T) {
	client := &fakeClient{errs: []error{errorx.NewUpstreamError("completion", 500, fmt.Errorf("boom"))}}
	r, store := testRelay(t, client)

	_, err := r.Reply(context.Background(), 5, "Hola", "contact-1", nil)
	assert.ErrorIs(t, err, errorx.ErrUpstream)

	h, _ := store.History(context.Background(), 5)
	require.Len(t, h, 1)
	assert.Equal(t, cnst.RoleUser, h[0].Role)
}

func TestReplyToolLoop(t *testing.T) {
	client := &fakeClient{responses: []*ai.Completion{
		{
			FinishReason: "tool_calls",
			ToolCalls:    []ai.ToolCall{{ID: "c1", Name: "echo", Arguments: `{"text":"42"}`}},
		},
		{Content: "El resultado es 42.", FinishReason: "stop"},
	}}
	store := conversation.NewMemoryStore(zap.NewNop(), 20)
	registry := NewToolRegistry(zap.NewNop())
	require.NoError(t, registry.Register(ai.ToolDefinition{Name: "echo"}, func(_ context.Context, args string) (string, error) {
		return args, nil
	}))
	cfg := &config.OpenAIConfig{Model: "gpt-4o-mini", ToolMaxRounds: 3}
	r := New(zap.NewNop(), store, client, registry, cfg)

	reply, err := r.Reply(context.Background(), 1, "calcula", "u", nil)
	require.NoError(t, err)
	assert.Equal(t, "El resultado es 42.", reply.Content)

	// second call carries the assistant tool-call message and its result
	require.Len(t, client.calls, 2)
	second := client.calls[1].Messages
	var sawToolCall, sawToolResult bool
	for _, m := range second {
		if m.Role == cnst.RoleAssistant && len(m.ToolCalls) > 0 {
			sawToolCall = true
		}
		if m.Role == cnst.RoleTool && m.ToolCallID == "c1" {
			sawToolResult = true
		}
	}
	assert.True(t, sawToolCall)
	assert.True(t, sawToolResult)
}

func TestReplyToolBudgetExhausted(t *testing.T) {
	loop := &ai.Completion{
		FinishReason: "tool_calls",
		ToolCalls:    []ai.ToolCall{{ID: "c", Name: "echo", Arguments: "{}"}},
	}
	client := &fakeClient{responses: []*ai.Completion{loop, loop, loop, loop}}
	store := conversation.NewMemoryStore(zap.NewNop(), 20)
	registry := NewToolRegistry(zap.NewNop())
	require.NoError(t, registry.Register(ai.ToolDefinition{Name: "echo"}, func(_ context.Context, args string) (string, error) {
		return args, nil
	}))
	cfg := &config.OpenAIConfig{Model: "gpt-4o-mini", ToolMaxRounds: 3}
	r := New(zap.NewNop(), store, client, registry, cfg)

	_, err := r.Reply(context.Background(), 1, "loop", "u", nil)
	assert.ErrorIs(t, err, errorx.ErrUpstream)
	assert.Contains(t, err.Error(), "tool call budget")
	assert.Len(t, client.calls, 3)
}

func TestReplyStaleGenerationDiscarded(t *testing.T) {
	store := conversation.NewMemoryStore(zap.NewNop(), 20)
	client := &clearingClient{store: store}
	cfg := &config.OpenAIConfig{Model: "gpt-4o-mini", ToolMaxRounds: 3}
	r := New(zap.NewNop(), store, client, NewToolRegistry(zap.NewNop()), cfg)

	_, err := r.Reply(context.Background(), 77, "Hola", "u", nil)
	assert.ErrorIs(t, err, errorx.ErrStaleReply)

	// the late reply must not have resurrected history
	h, _ := store.History(context.Background(), 77)
	assert.Empty(t, h)
}

// clearingClient clears the session while the completion call is in flight.
type clearingClient struct {
	store conversation.Store
}

func (c *clearingClient) ChatCompletion(ctx context.Context, _ ai.Request) (*ai.Completion, error) {
	_ = c.store.Clear(ctx, 77)
	return &ai.Completion{Content: "late", FinishReason: "stop"}, nil
}

func (c *clearingClient) AssistantReply(context.Context, string, string) (string, error) {
	return "", fmt.Errorf("unused")
}

func TestReplyAssistantMode(t *testing.T) {
	client := &fakeClient{assistant: func(assistantID, prompt string) (string, error) {
		assert.Equal(t, "asst_123", assistantID)
		return "Respuesta del asistente", nil
	}}
	store := conversation.NewMemoryStore(zap.NewNop(), 20)
	cfg := &config.OpenAIConfig{Model: "gpt-4o-mini", ToolMaxRounds: 3}
	r := New(zap.NewNop(), store, client, NewToolRegistry(zap.NewNop()), cfg)

	reply, err := r.Reply(context.Background(), 2, "Hola", "u", &Override{AssistantID: "asst_123"})
	require.NoError(t, err)
	assert.Equal(t, "Respuesta del asistente", reply.Content)

	h, _ := store.History(context.Background(), 2)
	assert.Len(t, h, 2)
}

func TestMergeOverride(t *testing.T) {
	cfg := &config.OpenAIConfig{Model: "gpt-4o-mini", Temperature: 0.4, MaxTokens: 512}
	r := New(zap.NewNop(), conversation.NewMemoryStore(zap.NewNop(), 20), &fakeClient{}, nil, cfg)

	merged := r.merge(nil)
	assert.Equal(t, "gpt-4o-mini", merged.Model)

	merged = r.merge(&Override{Model: "gpt-4o", MaxTokens: 128})
	assert.Equal(t, "gpt-4o", merged.Model)
	assert.Equal(t, int64(128), merged.MaxTokens)
	// untouched fields keep their defaults
	assert.Equal(t, 0.4, merged.Temperature)
}
