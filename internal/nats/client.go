package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/aiox-platform/chatbot/internal/config"
)

// Client wraps a NATS connection with JetStream support.
type Client struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

// NewClient connects to NATS and ensures the message and event streams exist.
func NewClient(ctx context.Context, cfg config.NATSConfig) (*Client, error) {
	logger := slog.Default().With("component", "nats")

	nc, err := nats.Connect(cfg.URL,
		nats.Name("chatbot"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrlRedacted())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating jetstream context: %w", err)
	}

	for _, sc := range streamConfigs() {
		if _, err := js.CreateOrUpdateStream(ctx, sc); err != nil {
			nc.Close()
			return nil, fmt.Errorf("ensuring stream %s: %w", sc.Name, err)
		}
		logger.Debug("nats stream ready", "stream", sc.Name)
	}

	logger.Info("nats ready", "url", cfg.URL)
	return &Client{conn: nc, js: js}, nil
}

// streamConfigs describes the two streams. Chat traffic is work-queue
// retained for a day; usage events are kept a month for the ledger.
// Duplicates lets publishers dedupe retries by message ID.
func streamConfigs() []jetstream.StreamConfig {
	return []jetstream.StreamConfig{
		{
			Name:       StreamMessages,
			Subjects:   []string{"chatbot.messages.>"},
			Retention:  jetstream.WorkQueuePolicy,
			MaxAge:     24 * time.Hour,
			Duplicates: 2 * time.Minute,
		},
		{
			Name:       StreamEvents,
			Subjects:   []string{"chatbot.events.>"},
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     30 * 24 * time.Hour,
			Duplicates: 10 * time.Minute,
		},
	}
}

// JetStream returns the JetStream context.
func (c *Client) JetStream() jetstream.JetStream {
	return c.js
}

// Ping is a readiness check suitable for the health endpoint.
func (c *Client) Ping(_ context.Context) error {
	if !c.conn.IsConnected() {
		return fmt.Errorf("nats: %s", c.conn.Status())
	}
	return nil
}

// Close drains and closes the NATS connection.
func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		slog.Warn("draining nats connection", "component", "nats", "error", err)
	}
}
