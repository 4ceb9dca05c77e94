package xmpp

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"gosrc.io/xmpp"

	"github.com/aiox-platform/chatbot/internal/metrics"
	inats "github.com/aiox-platform/chatbot/internal/nats"
)

const (
	outboundConsumer = "outbound-relay"
	outboundAckWait  = 30 * time.Second
)

// OutboundRelay delivers bot replies from the outbound subject to XMPP.
type OutboundRelay struct {
	handler     *Handler
	sender      xmpp.Sender
	consumerMgr *inats.ConsumerManager
	logger      *slog.Logger
}

func NewOutboundRelay(handler *Handler, sender xmpp.Sender, consumerMgr *inats.ConsumerManager) *OutboundRelay {
	return &OutboundRelay{
		handler:     handler,
		sender:      sender,
		consumerMgr: consumerMgr,
		logger:      slog.Default().With("component", outboundConsumer),
	}
}

// Start relays replies until ctx is cancelled.
func (r *OutboundRelay) Start(ctx context.Context) error {
	return r.consumerMgr.Run(ctx, inats.ConsumerSpec{
		Stream:  inats.StreamMessages,
		Name:    outboundConsumer,
		Subject: inats.SubjectOutboundMessage,
		AckWait: outboundAckWait,
	}, func(_ context.Context, msg jetstream.Msg) { r.deliver(msg) })
}

// deliver sends one reply. Undecodable payloads are terminated; send
// failures are redelivered.
func (r *OutboundRelay) deliver(msg jetstream.Msg) {
	var out inats.OutboundMessage
	if err := json.Unmarshal(msg.Data(), &out); err != nil {
		r.logger.Error("dropping malformed reply", "error", err)
		metrics.XMPPMessagesTotal.WithLabelValues("outbound", "malformed").Inc()
		_ = msg.Term()
		return
	}

	if err := r.handler.SendOutboundMessage(r.sender, out); err != nil {
		r.logger.Warn("sending reply", "error", err, "to", out.ToJID)
		metrics.XMPPMessagesTotal.WithLabelValues("outbound", "retry").Inc()
		_ = msg.Nak()
		return
	}

	metrics.XMPPMessagesTotal.WithLabelValues("outbound", "sent").Inc()
	_ = msg.Ack()
}
