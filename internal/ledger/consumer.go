// Package ledger persists usage events for accounting.
package ledger

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	inats "github.com/aiox-platform/chatbot/internal/nats"
)

const consumerName = "usage-ledger"

// Inserter stores ledger entries.
type Inserter interface {
	Insert(ctx context.Context, e *Entry) error
}

// Consumer listens on the usage event subject and persists entries.
type Consumer struct {
	store       Inserter
	consumerMgr *inats.ConsumerManager
}

// NewConsumer creates a new usage event Consumer.
func NewConsumer(store Inserter, consumerMgr *inats.ConsumerManager) *Consumer {
	return &Consumer{
		store:       store,
		consumerMgr: consumerMgr,
	}
}

// Start persists usage events until ctx is cancelled. Events that fail to
// store are redelivered.
func (c *Consumer) Start(ctx context.Context) error {
	return c.consumerMgr.Run(ctx, inats.ConsumerSpec{
		Stream:  inats.StreamEvents,
		Name:    consumerName,
		Subject: inats.SubjectUsageEvent,
		AckWait: 30 * time.Second,
	}, func(ctx context.Context, msg jetstream.Msg) {
		if err := c.handle(ctx, msg.Data()); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	})
}

// handle decodes and stores one event. Malformed payloads are dropped.
func (c *Consumer) handle(ctx context.Context, data []byte) error {
	var event inats.UsageEvent
	if err := json.Unmarshal(data, &event); err != nil {
		slog.Error("ledger consumer: unmarshaling event", "error", err)
		return nil
	}

	entry := convertEventToEntry(event)
	if err := c.store.Insert(ctx, entry); err != nil {
		slog.Error("ledger consumer: persisting entry", "error", err, "request_id", event.RequestID)
		return err
	}

	slog.Debug("ledger consumer: persisted event",
		"request_id", event.RequestID,
		"user", event.UserID,
		"tokens", event.Tokens,
	)
	return nil
}

func convertEventToEntry(event inats.UsageEvent) *Entry {
	created := event.Timestamp
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return &Entry{
		RequestID: event.RequestID,
		UserID:    event.UserID,
		Model:     event.Model,
		Tokens:    event.Tokens,
		CreatedAt: created,
	}
}
