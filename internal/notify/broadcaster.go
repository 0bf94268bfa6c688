package notify

import (
	"encoding/json"

	"github.com/hidrolabs/aquarelay/pkg/metrics"

	"go.uber.org/zap"
)

// StreamEvent is the JSON frame written to a notification stream.
type StreamEvent struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Stream event types.
const (
	EventConnected    = "connected"
	EventNotification = "notification"
)

// Broadcaster fans notification payloads out to matching streams. Delivery is
// at-most-once: a write that cannot complete now is not retried, and the
// losing connection is pruned from the registry.
type Broadcaster struct {
	logger   *zap.Logger
	registry *Registry
	metrics  *metrics.Metrics
}

// NewBroadcaster creates a broadcaster over the given registry
func NewBroadcaster(logger *zap.Logger, registry *Registry) *Broadcaster {
	return &Broadcaster{
		logger:   logger.Named("notify.broadcaster"),
		registry: registry,
	}
}

// SetMetrics attaches an optional metrics collector.
func (b *Broadcaster) SetMetrics(m *metrics.Metrics) {
	b.metrics = m
}

// Emit delivers a payload to every open stream of the target users and
// returns the number of successful writes.
func (b *Broadcaster) Emit(targetUserIDs []string, payload any) int {
	data, err := json.Marshal(StreamEvent{Type: EventNotification, Data: payload})
	if err != nil {
		b.logger.Error("unmarshalable notification payload", zap.Error(err))
		return 0
	}

	seen := make(map[string]struct{}, len(targetUserIDs))
	var conns []*Connection
	for _, userID := range targetUserIDs {
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}
		conns = append(conns, b.registry.ListFor(userID)...)
	}
	return b.deliver(conns, data)
}

// BroadcastAll delivers a payload to every open stream.
func (b *Broadcaster) BroadcastAll(payload any) int {
	data, err := json.Marshal(StreamEvent{Type: EventNotification, Data: payload})
	if err != nil {
		b.logger.Error("unmarshalable notification payload", zap.Error(err))
		return 0
	}
	return b.deliver(b.registry.All(), data)
}

func (b *Broadcaster) deliver(conns []*Connection, data []byte) int {
	delivered, pruned := 0, 0
	for _, conn := range conns {
		if err := conn.Send(&Message{Data: data}); err != nil {
			b.logger.Warn("pruning dead stream",
				zap.String("connection_id", conn.ID()),
				zap.String("user_id", conn.UserID()),
				zap.Error(err))
			b.registry.Unregister(conn)
			pruned++
			continue
		}
		delivered++
	}
	if b.metrics != nil {
		b.metrics.Deliveries("delivered", delivered)
		b.metrics.Deliveries("pruned", pruned)
	}
	return delivered
}
