package ingress

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/hidrolabs/aquarelay/internal/common/cnst"
	"github.com/hidrolabs/aquarelay/internal/common/errorx"
	"github.com/hidrolabs/aquarelay/internal/conversation"
	"github.com/hidrolabs/aquarelay/internal/i18n"
	"github.com/hidrolabs/aquarelay/internal/relay"
	"github.com/hidrolabs/aquarelay/pkg/metrics"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MessageSender pushes replies back to the chat platform.
type MessageSender interface {
	SendMessage(ctx context.Context, conversationID int64, content string) error
}

// Replier generates an assistant reply for an inbound customer message.
type Replier interface {
	Reply(ctx context.Context, conversationID int64, userMessage, userID string, override *relay.Override) (*relay.Reply, error)
}

// Processor applies the event state machine: replies to customer messages,
// clears sessions on resolution, ignores the rest.
type Processor struct {
	logger     *zap.Logger
	store      conversation.Store
	replier    Replier
	sender     MessageSender
	translator *i18n.I18n
}

// NewProcessor creates an event processor
func NewProcessor(logger *zap.Logger, store conversation.Store, replier Replier, sender MessageSender, translator *i18n.I18n) *Processor {
	return &Processor{
		logger:     logger.Named("ingress.processor"),
		store:      store,
		replier:    replier,
		sender:     sender,
		translator: translator,
	}
}

// Process handles one normalized event.
func (p *Processor) Process(ctx context.Context, evt *Event) error {
	switch evt.Type {
	case cnst.EventConversationCreated:
		p.logger.Info("conversation created",
			zap.Int64("conversation_id", evt.ConversationID))
		return nil

	case cnst.EventMessageCreated:
		return p.handleMessage(ctx, evt)

	case cnst.EventConversationStatusChanged:
		if evt.Status == cnst.StatusResolved || evt.Status == cnst.StatusClosed {
			p.logger.Info("conversation closed, clearing session",
				zap.Int64("conversation_id", evt.ConversationID),
				zap.String("status", evt.Status))
			return p.store.Clear(ctx, evt.ConversationID)
		}
		return nil

	default:
		p.logger.Debug("ignoring event",
			zap.Int64("conversation_id", evt.ConversationID))
		return nil
	}
}

func (p *Processor) handleMessage(ctx context.Context, evt *Event) error {
	if ok, reason := evt.Message.Relevant(); !ok {
		// validation misses short-circuit silently; the webhook caller
		// already has its 200
		p.logger.Debug("ignoring message",
			zap.Int64("conversation_id", evt.ConversationID),
			zap.String("reason", reason))
		return nil
	}

	reply, err := p.replier.Reply(ctx, evt.ConversationID, evt.Message.Content, evt.Message.UserID(), nil)
	if err != nil {
		if errors.Is(err, errorx.ErrStaleReply) {
			// the session was closed while the reply was in flight;
			// nobody is waiting for it
			p.logger.Info("dropping reply for cleared session",
				zap.Int64("conversation_id", evt.ConversationID))
			return nil
		}
		p.logger.Error("reply generation failed",
			zap.Int64("conversation_id", evt.ConversationID),
			zap.Error(err))
		p.sendApology(ctx, evt)
		return err
	}

	if err := p.sender.SendMessage(ctx, evt.ConversationID, reply.Content); err != nil {
		p.logger.Error("reply push failed",
			zap.Int64("conversation_id", evt.ConversationID),
			zap.Error(err))
		p.sendApology(ctx, evt)
		return err
	}
	return nil
}

// sendApology pushes a localized fallback message. Best effort: a failure is
// logged and never retried.
func (p *Processor) sendApology(ctx context.Context, evt *Event) {
	apology := p.translator.Translate(i18n.MsgApology, evt.Language, nil)
	if err := p.sender.SendMessage(ctx, evt.ConversationID, apology); err != nil {
		p.logger.Error("apology push failed",
			zap.Int64("conversation_id", evt.ConversationID),
			zap.Error(err))
	}
}

// Handler terminates the inbound webhook HTTP surface.
type Handler struct {
	logger  *zap.Logger
	queue   *Queue
	metrics *metrics.Metrics
}

// NewHandler creates the webhook handler
func NewHandler(logger *zap.Logger, queue *Queue) *Handler {
	return &Handler{
		logger: logger.Named("ingress.handler"),
		queue:  queue,
	}
}

// SetMetrics attaches an optional metrics collector.
func (h *Handler) SetMetrics(m *metrics.Metrics) {
	h.metrics = m
}

func (h *Handler) countEvent(event, outcome string) {
	if h.metrics != nil {
		h.metrics.WebhookEvent(event, outcome)
	}
}

// HandleChatWebhook acknowledges immediately and defers processing, so the
// chat platform's retry and timeout behavior never observes relay latency.
func (h *Handler) HandleChatWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})

	evt, err := ParseEvent(body)
	if err != nil {
		h.logger.Warn("rejected webhook payload", zap.Error(err))
		h.countEvent("invalid", "rejected")
		return
	}

	if id, ok := h.queue.Enqueue(evt); ok {
		h.countEvent(evt.Type.String(), "enqueued")
		h.logger.Debug("event enqueued",
			zap.String("task_id", id),
			zap.String("event", evt.Type.String()),
			zap.Int64("conversation_id", evt.ConversationID))
	} else {
		h.countEvent(evt.Type.String(), "dropped")
	}
}
