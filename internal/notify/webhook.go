package notify

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// WebhookHandler terminates the inbound notification webhook.
type WebhookHandler struct {
	logger      *zap.Logger
	broadcaster *Broadcaster
}

// NewWebhookHandler creates the notification webhook handler
func NewWebhookHandler(logger *zap.Logger, broadcaster *Broadcaster) *WebhookHandler {
	return &WebhookHandler{
		logger:      logger.Named("notify.webhook"),
		broadcaster: broadcaster,
	}
}

// HandleNotificationWebhook resolves the delivery target and fans the payload
// out to the target's open streams. The sender gets a 200 no matter what
// happens internally; a notification is never worth a webhook retry storm.
func (h *WebhookHandler) HandleNotificationWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil || !gjson.ValidBytes(body) {
		h.logger.Warn("rejected notification payload", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"broadcast": false})
		return
	}

	target := resolveTarget(body)
	if target == "" {
		h.logger.Debug("notification without target, dropping")
		c.JSON(http.StatusOK, gin.H{"broadcast": false})
		return
	}

	delivered := h.broadcaster.Emit([]string{target}, json.RawMessage(body))
	h.logger.Info("notification dispatched",
		zap.String("target", target),
		zap.Int("delivered", delivered))

	c.JSON(http.StatusOK, gin.H{"broadcast": true, "delivered": delivered})
}

// resolveTarget picks the delivery target: the assigned agent of the ticket
// when present, otherwise the notification's addressee.
func resolveTarget(body []byte) string {
	for _, key := range []string{"ticket.assigned_to", "notification.user_id"} {
		if v := gjson.GetBytes(body, key); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
