package ingress

import (
	"encoding/json"
	"strings"

	"github.com/hidrolabs/aquarelay/internal/common/cnst"
	"github.com/hidrolabs/aquarelay/internal/common/errorx"

	"github.com/tidwall/gjson"
)

// Event is a normalized inbound chat-platform webhook event.
type Event struct {
	Type           cnst.EventType
	ConversationID int64
	Status         string
	Language       string
	// Message is the most recent message of a message_created event, nil
	// for other event types or when the event carried no messages.
	Message *InboundMessage
}

// InboundMessage is the relevant slice of a chat-platform message.
type InboundMessage struct {
	Content    string
	SenderID   string
	SenderType string
	Outgoing   bool
}

// webhookPayload is the boundary schema for inbound chat webhooks. Unknown
// fields are ignored; missing required fields are rejected.
type webhookPayload struct {
	Event    string            `json:"event"`
	ID       int64             `json:"id"`
	Status   string            `json:"status"`
	Messages []json.RawMessage `json:"messages"`
}

// ParseEvent validates and normalizes an inbound webhook body.
func ParseEvent(body []byte) (*Event, error) {
	if !gjson.ValidBytes(body) {
		return nil, errorx.ErrInvalidPayload("body is not valid JSON")
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errorx.ErrInvalidPayload(err.Error())
	}
	if payload.Event == "" {
		return nil, errorx.ErrInvalidPayload("missing event field")
	}
	if payload.ID == 0 {
		return nil, errorx.ErrInvalidPayload("missing conversation id")
	}

	evt := &Event{
		Type:           normalizeEvent(payload.Event),
		ConversationID: payload.ID,
		Status:         payload.Status,
		Language:       gjson.GetBytes(body, "language").String(),
	}

	if evt.Type == cnst.EventMessageCreated && len(payload.Messages) > 0 {
		evt.Message = parseMessage(payload.Messages[len(payload.Messages)-1])
	}
	return evt, nil
}

// normalizeEvent strips an optional "namespace:" prefix and maps the name to
// a known event type.
func normalizeEvent(name string) cnst.EventType {
	if i := strings.LastIndex(name, ":"); i >= 0 {
		name = name[i+1:]
	}
	switch cnst.EventType(name) {
	case cnst.EventConversationCreated:
		return cnst.EventConversationCreated
	case cnst.EventMessageCreated:
		return cnst.EventMessageCreated
	case cnst.EventConversationStatusChanged:
		return cnst.EventConversationStatusChanged
	default:
		return cnst.EventOther
	}
}

// parseMessage extracts the fields the ingress cares about. Sender shape
// varies by channel, so lookups are tolerant rather than schema-bound.
func parseMessage(raw json.RawMessage) *InboundMessage {
	msg := &InboundMessage{
		Content: gjson.GetBytes(raw, "content").String(),
	}

	// message_type arrives as "incoming"/"outgoing" on some channels and
	// as 0/1 on others
	mt := gjson.GetBytes(raw, "message_type")
	switch mt.Type {
	case gjson.String:
		msg.Outgoing = mt.String() == cnst.MessageTypeOutgoing
	case gjson.Number:
		msg.Outgoing = mt.Int() == 1
	}

	msg.SenderType = strings.ToLower(gjson.GetBytes(raw, "sender.type").String())
	for _, key := range []string{"sender.identifier", "sender.id", "sender.email"} {
		if v := gjson.GetBytes(raw, key); v.Exists() {
			msg.SenderID = v.String()
			break
		}
	}
	return msg
}

// Relevant reports whether a message_created event should reach the relay,
// with the reason when it should not.
func (m *InboundMessage) Relevant() (bool, string) {
	if m == nil {
		return false, "event carried no messages"
	}
	if m.Outgoing {
		return false, "outgoing agent message"
	}
	if m.SenderType != cnst.SenderTypeContact && m.SenderType != cnst.SenderTypeCustomer {
		return false, "sender is not a customer"
	}
	if strings.TrimSpace(m.Content) == "" {
		return false, "empty content"
	}
	return true, ""
}

// UserID derives the session owner from the sender identifier.
func (m *InboundMessage) UserID() string {
	if m.SenderID == "" {
		return cnst.AnonymousUserID
	}
	return m.SenderID
}
