package xmpp

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gosrc.io/xmpp"
	"gosrc.io/xmpp/stanza"

	"github.com/aiox-platform/chatbot/internal/metrics"
	inats "github.com/aiox-platform/chatbot/internal/nats"
)

// InboundPublisher forwards received chat messages to the bot.
type InboundPublisher interface {
	PublishInboundMessage(ctx context.Context, msg inats.InboundMessage) error
}

// Handler processes incoming XMPP stanzas and bridges them to NATS.
type Handler struct {
	publisher InboundPublisher
	now       func() time.Time
}

// NewHandler creates a new XMPP stanza handler.
func NewHandler(publisher InboundPublisher) *Handler {
	return &Handler{publisher: publisher, now: time.Now}
}

// HandleMessage publishes one-to-one chat messages to NATS. Group chats,
// error stanzas and body-less notifications are dropped.
func (h *Handler) HandleMessage(s xmpp.Sender, p stanza.Packet) {
	msg, ok := p.(stanza.Message)
	if !ok {
		return
	}

	switch string(msg.Type) {
	case "groupchat", "error":
		slog.Debug("xmpp message ignored", "from", msg.From, "type", string(msg.Type))
		metrics.XMPPMessagesTotal.WithLabelValues("inbound", "ignored").Inc()
		return
	}
	if msg.Body == "" {
		return
	}

	slog.Debug("xmpp message received",
		"from", msg.From,
		"to", msg.To,
		"type", string(msg.Type),
	)

	inbound := inats.InboundMessage{
		ID:         uuid.New().String(),
		FromJID:    msg.From,
		ToJID:      msg.To,
		Body:       msg.Body,
		StanzaType: string(msg.Type),
		ReceivedAt: h.now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.publisher.PublishInboundMessage(ctx, inbound); err != nil {
		slog.Error("publishing inbound message", "error", err, "from", msg.From)
		metrics.XMPPMessagesTotal.WithLabelValues("inbound", "failed").Inc()
		h.sendError(s, msg.From, msg.To, "Internal error processing your message")
		return
	}
	metrics.XMPPMessagesTotal.WithLabelValues("inbound", "accepted").Inc()
}

// HandlePresence lets any user add the bot to their roster. Subscribe
// requests are approved and answered with the bot's availability; presence
// queries get availability only.
func (h *Handler) HandlePresence(s xmpp.Sender, p stanza.Packet) {
	pres, ok := p.(stanza.Presence)
	if !ok {
		return
	}

	var replies []stanza.StanzaType
	switch pres.Type {
	case "subscribe":
		replies = []stanza.StanzaType{"subscribed", ""}
	case "unsubscribe":
		replies = []stanza.StanzaType{"unsubscribed"}
	case "probe":
		replies = []stanza.StanzaType{""}
	default:
		return
	}

	for _, typ := range replies {
		reply := stanza.Presence{Attrs: stanza.Attrs{From: pres.To, To: pres.From, Type: typ}}
		if err := s.Send(reply); err != nil {
			slog.Warn("answering presence", "error", err, "to", pres.From, "type", string(pres.Type))
			return
		}
	}
}

// HandleIQ only logs; disco#info is answered by the component itself.
func (h *Handler) HandleIQ(_ xmpp.Sender, p stanza.Packet) {
	if iq, ok := p.(*stanza.IQ); ok {
		slog.Debug("xmpp iq ignored", "from", iq.From, "type", string(iq.Type))
	}
}

// SendOutboundMessage delivers a bot reply as a chat message.
func (h *Handler) SendOutboundMessage(s xmpp.Sender, out inats.OutboundMessage) error {
	return s.Send(chatStanza(out.ID, out.FromJID, out.ToJID, out.Body))
}

func (h *Handler) sendError(s xmpp.Sender, to, from, body string) {
	if err := s.Send(chatStanza("", from, to, body)); err != nil {
		slog.Warn("sending error reply", "error", err, "to", to)
	}
}

func chatStanza(id, from, to, body string) stanza.Message {
	return stanza.Message{
		Attrs: stanza.Attrs{Id: id, From: from, To: to, Type: "chat"},
		Body:  body,
	}
}

// BareJID strips the resource part of a JID and lower-cases it, giving the
// stable identity usage is charged to.
func BareJID(jid string) string {
	bare, _, _ := strings.Cut(strings.TrimSpace(jid), "/")
	return strings.ToLower(bare)
}
