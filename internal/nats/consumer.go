package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

const defaultBatch = 10

// ConsumerSpec describes one durable pull consumer.
type ConsumerSpec struct {
	Stream  string
	Name    string
	Subject string
	// AckWait bounds how long a message may be in flight before redelivery.
	AckWait time.Duration
	Batch   int
}

// MsgHandler processes one message and must ack, nak or term it.
type MsgHandler func(ctx context.Context, msg jetstream.Msg)

// ConsumerManager creates durable consumers and drives their fetch loops.
type ConsumerManager struct {
	js jetstream.JetStream
}

func NewConsumerManager(js jetstream.JetStream) *ConsumerManager {
	return &ConsumerManager{js: js}
}

// Run ensures the consumer exists, then fetches batches and hands each
// message to handle until ctx is cancelled.
func (cm *ConsumerManager) Run(ctx context.Context, cs ConsumerSpec, handle MsgHandler) error {
	consumer, err := cm.ensure(ctx, cs)
	if err != nil {
		return err
	}

	batch := cs.Batch
	if batch <= 0 {
		batch = defaultBatch
	}
	logger := slog.Default().With("component", "nats", "consumer", cs.Name)
	logger.Info("consumer started", "stream", cs.Stream, "subject", cs.Subject)

	for ctx.Err() == nil {
		msgs, err := consumer.Fetch(batch, jetstream.FetchMaxWait(FetchTimeout))
		if err != nil {
			if ctx.Err() == nil {
				logger.Debug("fetch failed", "error", err)
			}
			continue
		}
		for msg := range msgs.Messages() {
			handle(ctx, msg)
		}
	}
	return nil
}

func (cm *ConsumerManager) ensure(ctx context.Context, cs ConsumerSpec) (jetstream.Consumer, error) {
	consumer, err := cm.js.CreateOrUpdateConsumer(ctx, cs.Stream, jetstream.ConsumerConfig{
		Durable:       cs.Name,
		FilterSubject: cs.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cs.AckWait,
		MaxDeliver:    3,
	})
	if err != nil {
		return nil, fmt.Errorf("ensuring consumer %s on %s: %w", cs.Name, cs.Stream, err)
	}
	return consumer, nil
}
