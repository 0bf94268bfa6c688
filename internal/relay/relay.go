package relay

import (
	"context"
	"strings"
	"time"

	"github.com/hidrolabs/aquarelay/internal/common/cnst"
	"github.com/hidrolabs/aquarelay/internal/common/config"
	"github.com/hidrolabs/aquarelay/internal/common/errorx"
	"github.com/hidrolabs/aquarelay/internal/conversation"
	"github.com/hidrolabs/aquarelay/pkg/metrics"
	ai "github.com/hidrolabs/aquarelay/pkg/openai"

	"go.uber.org/zap"
)

// defaultSystemPrompt is used when no persona is configured.
const defaultSystemPrompt = "Eres el asistente virtual del servicio de agua potable. " +
	"Ayudas a los usuarios con consultas sobre recibos, reportes de fugas, " +
	"cortes de servicio y trámites. Responde de forma breve y cordial, en el " +
	"idioma del usuario. Si no puedes resolver el problema, indica que un " +
	"agente humano dará seguimiento."

// CompletionClient is the outbound surface of the completion API the relay
// depends on. *ai.Client satisfies it; tests substitute a fake.
type CompletionClient interface {
	ChatCompletion(ctx context.Context, req ai.Request) (*ai.Completion, error)
	AssistantReply(ctx context.Context, assistantID, prompt string) (string, error)
}

// Override adjusts the configured completion parameters for a single call.
// Zero-valued fields keep the configured defaults.
type Override struct {
	Model       string
	Temperature float64
	MaxTokens   int64
	AssistantID string
}

// Reply is the assistant's answer plus completion metadata.
type Reply struct {
	Content      string
	Model        string
	FinishReason string
	Usage        ai.Usage
}

// Relay turns a retained conversation history plus a new inbound message
// into a completion request and records the exchange.
type Relay struct {
	logger  *zap.Logger
	store   conversation.Store
	client  CompletionClient
	tools   *ToolRegistry
	cfg     *config.OpenAIConfig
	metrics *metrics.Metrics
}

// New creates a relay bound to the given store and completion client.
func New(logger *zap.Logger, store conversation.Store, client CompletionClient, tools *ToolRegistry, cfg *config.OpenAIConfig) *Relay {
	return &Relay{
		logger: logger.Named("relay"),
		store:  store,
		client: client,
		tools:  tools,
		cfg:    cfg,
	}
}

// SetMetrics attaches an optional metrics collector.
func (r *Relay) SetMetrics(m *metrics.Metrics) {
	r.metrics = m
}

// Reply produces the assistant answer for one inbound customer message.
// The user message is recorded before the outbound call; the assistant
// message is recorded only on success, and only if the session was not
// cleared while the call was in flight.
func (r *Relay) Reply(ctx context.Context, conversationID int64, userMessage, userID string, override *Override) (*Reply, error) {
	sess, err := r.store.GetOrCreate(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}

	if err := r.store.Append(ctx, conversationID, conversation.Message{
		Role:      cnst.RoleUser,
		Content:   userMessage,
		Timestamp: time.Now(),
	}); err != nil {
		return nil, err
	}

	merged := r.merge(override)

	mode := "chat"
	if merged.AssistantID != "" {
		mode = "assistant"
	}
	status := "error"
	if r.metrics != nil {
		start := time.Now()
		r.metrics.ReplyStart()
		defer func() { r.metrics.ReplyDone(mode, status, start) }()
	}

	var reply *Reply
	if merged.AssistantID != "" {
		reply, err = r.assistantReply(ctx, merged.AssistantID, userMessage)
	} else {
		reply, err = r.chatReply(ctx, conversationID, merged)
	}
	if err != nil {
		return nil, err
	}

	// A session cleared mid-flight must not be resurrected by a late reply.
	gen, genErr := r.store.Generation(ctx, conversationID)
	if genErr != nil {
		return nil, genErr
	}
	if gen != sess.Generation {
		status = "stale"
		r.logger.Info("discarding stale reply",
			zap.Int64("conversation_id", conversationID),
			zap.Uint64("dispatched_generation", sess.Generation),
			zap.Uint64("current_generation", gen))
		return nil, errorx.ErrStaleReply
	}

	if err := r.store.Append(ctx, conversationID, conversation.Message{
		Role:      cnst.RoleAssistant,
		Content:   reply.Content,
		Timestamp: time.Now(),
	}); err != nil {
		return nil, err
	}

	status = "ok"
	r.logger.Debug("reply generated",
		zap.Int64("conversation_id", conversationID),
		zap.String("model", reply.Model),
		zap.Int64("total_tokens", reply.Usage.TotalTokens))
	return reply, nil
}

// chatReply runs the chat-completion path, executing requested tools until
// the model produces a final answer or the tool budget runs out.
func (r *Relay) chatReply(ctx context.Context, conversationID int64, merged Override) (*Reply, error) {
	history, err := r.store.History(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	msgs := make([]ai.Message, 0, len(history)+1)
	msgs = append(msgs, ai.Message{Role: cnst.RoleSystem, Content: r.systemPrompt()})
	for _, m := range history {
		msgs = append(msgs, ai.Message{Role: m.Role, Content: m.Content})
	}

	var defs []ai.ToolDefinition
	if r.tools != nil {
		defs = r.tools.Definitions()
	}

	for round := 0; round < r.cfg.ToolMaxRounds; round++ {
		comp, err := r.client.ChatCompletion(ctx, ai.Request{
			Model:       merged.Model,
			Temperature: merged.Temperature,
			MaxTokens:   merged.MaxTokens,
			Messages:    msgs,
			Tools:       defs,
		})
		if err != nil {
			return nil, err
		}

		if len(comp.ToolCalls) == 0 {
			return &Reply{
				Content:      comp.Content,
				Model:        comp.Model,
				FinishReason: comp.FinishReason,
				Usage:        comp.Usage,
			}, nil
		}

		msgs = append(msgs, ai.Message{
			Role:      cnst.RoleAssistant,
			Content:   comp.Content,
			ToolCalls: comp.ToolCalls,
		})
		for _, tc := range comp.ToolCalls {
			toolStart := time.Now()
			result := r.tools.Execute(ctx, tc.Name, tc.Arguments)
			if r.metrics != nil {
				toolStatus := "success"
				if strings.HasPrefix(result, "error:") {
					toolStatus = "error"
				}
				r.metrics.ToolExecDone(tc.Name, toolStatus, toolStart)
			}
			msgs = append(msgs, ai.Message{
				Role:       cnst.RoleTool,
				Content:    result,
				ToolCallID: tc.ID,
			})
		}
	}
	return nil, errorx.ErrToolBudgetExhausted(r.cfg.ToolMaxRounds)
}

func (r *Relay) assistantReply(ctx context.Context, assistantID, userMessage string) (*Reply, error) {
	content, err := r.client.AssistantReply(ctx, assistantID, userMessage)
	if err != nil {
		return nil, err
	}
	return &Reply{Content: content, FinishReason: "stop"}, nil
}

func (r *Relay) merge(override *Override) Override {
	merged := Override{
		Model:       r.cfg.Model,
		Temperature: r.cfg.Temperature,
		MaxTokens:   r.cfg.MaxTokens,
		AssistantID: r.cfg.AssistantID,
	}
	if override == nil {
		return merged
	}
	if override.Model != "" {
		merged.Model = override.Model
	}
	if override.Temperature > 0 {
		merged.Temperature = override.Temperature
	}
	if override.MaxTokens > 0 {
		merged.MaxTokens = override.MaxTokens
	}
	if override.AssistantID != "" {
		merged.AssistantID = override.AssistantID
	}
	return merged
}

func (r *Relay) systemPrompt() string {
	if s := strings.TrimSpace(r.cfg.SystemPrompt); s != "" {
		return s
	}
	return defaultSystemPrompt
}
