package nats

import (
	"time"
)

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// Stream names.
const (
	StreamMessages = "CHATBOT_MESSAGES"
	StreamEvents   = "CHATBOT_EVENTS"
)

// Subject constants.
const (
	SubjectInboundMessage  = "chatbot.messages.inbound"
	SubjectOutboundMessage = "chatbot.messages.outbound"
	SubjectUsageEvent      = "chatbot.events.usage"
)

// InboundMessage is published when an XMPP message arrives at the component.
type InboundMessage struct {
	ID         string    `json:"id"`
	FromJID    string    `json:"from_jid"`
	ToJID      string    `json:"to_jid"`
	Body       string    `json:"body"`
	StanzaType string    `json:"stanza_type"`
	ReceivedAt time.Time `json:"received_at"`
}

// OutboundMessage is published to send a message back via XMPP.
type OutboundMessage struct {
	ID        string `json:"id"`
	ToJID     string `json:"to_jid"`
	FromJID   string `json:"from_jid"`
	Body      string `json:"body"`
	InReplyTo string `json:"in_reply_to,omitempty"`
}

// UsageEvent is published after tokens are charged to a user.
type UsageEvent struct {
	RequestID    string    `json:"request_id"`
	UserID       string    `json:"user_id"`
	Model        string    `json:"model"`
	Tokens       int64     `json:"tokens"`
	WindowTokens int64     `json:"window_tokens"`
	WindowQuery  int64     `json:"window_queries"`
	WindowEndsAt time.Time `json:"window_ends_at"`
	Timestamp    time.Time `json:"timestamp"`
}
