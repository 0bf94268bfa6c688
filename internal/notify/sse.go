package notify

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hidrolabs/aquarelay/internal/auth/jwt"
	"github.com/hidrolabs/aquarelay/pkg/metrics"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StreamHandler terminates SSE notification streams.
type StreamHandler struct {
	logger    *zap.Logger
	registry  *Registry
	jwt       *jwt.Service
	keepalive time.Duration
	metrics   *metrics.Metrics
}

// NewStreamHandler creates the SSE stream handler
func NewStreamHandler(logger *zap.Logger, registry *Registry, jwtService *jwt.Service, keepalive time.Duration) *StreamHandler {
	if keepalive <= 0 {
		keepalive = 30 * time.Second
	}
	return &StreamHandler{
		logger:    logger.Named("notify.stream"),
		registry:  registry,
		jwt:       jwtService,
		keepalive: keepalive,
	}
}

// SetMetrics attaches an optional metrics collector.
func (h *StreamHandler) SetMetrics(m *metrics.Metrics) {
	h.metrics = m
}

// subscriberID authenticates the request and returns the stream owner. The
// token travels as a query parameter because EventSource cannot set headers,
// but an Authorization header works too.
func (h *StreamHandler) subscriberID(c *gin.Context) (string, error) {
	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	if token == "" {
		return "", jwt.ErrInvalidToken
	}

	claims, err := h.jwt.ValidateToken(token)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

// HandleStream upgrades the request to a long-lived SSE stream and pumps
// notification events until the client disconnects.
func (h *StreamHandler) HandleStream(c *gin.Context) {
	userID, err := h.subscriberID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing token"})
		return
	}

	conn := h.registry.Register(userID)
	defer h.registry.Unregister(conn)

	if h.metrics != nil {
		h.metrics.StreamOpened()
		defer h.metrics.StreamClosed()
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache, no-transform")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	// opening comment proves the stream is alive before any event arrives
	fmt.Fprint(c.Writer, ": stream open\n\n")
	h.writeEvent(c, StreamEvent{Type: EventConnected})
	c.Writer.Flush()

	h.logger.Info("stream opened",
		zap.String("connection_id", conn.ID()),
		zap.String("user_id", userID))

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			h.logger.Info("stream closed by client",
				zap.String("connection_id", conn.ID()),
				zap.String("user_id", userID))
			return

		case <-ticker.C:
			fmt.Fprint(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case msg, ok := <-conn.EventQueue():
			if !ok {
				h.logger.Info("stream revoked",
					zap.String("connection_id", conn.ID()),
					zap.String("user_id", userID))
				return
			}
			fmt.Fprintf(c.Writer, "data: %s\n\n", msg.Data)
			c.Writer.Flush()
		}
	}
}

func (h *StreamHandler) writeEvent(c *gin.Context, evt StreamEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "data: %s\n\n", data)
}
