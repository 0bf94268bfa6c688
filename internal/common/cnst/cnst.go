package cnst

// EventType identifies an inbound chat-platform webhook event.
type EventType string

const (
	EventConversationCreated       EventType = "conversation_created"
	EventMessageCreated            EventType = "message_created"
	EventConversationStatusChanged EventType = "conversation_status_changed"
	EventOther                     EventType = "other"
)

func (e EventType) String() string {
	return string(e)
}

// Message roles in a conversation history.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Chat-platform sender types treated as customers.
const (
	SenderTypeContact  = "contact"
	SenderTypeCustomer = "customer"
)

// Conversation statuses that end the AI session.
const (
	StatusResolved = "resolved"
	StatusClosed   = "closed"
)

// Outbound message attributes for the chat-platform push.
const (
	MessageTypeOutgoing = "outgoing"
	MessageTypeIncoming = "incoming"
)

// HTTP header keys.
const (
	HeaderAPIAccessToken = "api_access_token"
	HeaderAuthorization  = "Authorization"
	XLang                = "X-Lang"
)

// Supported UI languages.
const (
	LangES = "es"
	LangEN = "en"
)

// AnonymousUserID is assigned when an inbound message carries no sender id.
const AnonymousUserID = "anonymous"
