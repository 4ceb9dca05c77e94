package xmpp

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"gosrc.io/xmpp"

	"github.com/aiox-platform/chatbot/internal/config"
)

var errNotConnected = errors.New("xmpp component not connected")

// Component is the bot's XEP-0114 connection to the chat server.
type Component struct {
	sm        *xmpp.StreamManager
	comp      *xmpp.Component
	connected atomic.Bool
	logger    *slog.Logger
}

// NewComponent registers handler's callbacks on a new component router.
func NewComponent(cfg config.XMPPConfig, handler *Handler) (*Component, error) {
	c := &Component{logger: slog.Default().With("component", "xmpp", "domain", cfg.ComponentName)}

	router := xmpp.NewRouter()
	router.HandleFunc("message", handler.HandleMessage)
	router.HandleFunc("presence", handler.HandlePresence)
	router.HandleFunc("iq", handler.HandleIQ)

	comp, err := xmpp.NewComponent(xmpp.ComponentOptions{
		TransportConfiguration: xmpp.TransportConfiguration{
			Address: cfg.ComponentAddr(),
			Domain:  cfg.ComponentName,
		},
		Domain:   cfg.ComponentName,
		Secret:   cfg.ComponentSecret,
		Name:     "Chatbot",
		Category: "client",
		Type:     "bot",
	}, router, func(err error) {
		c.connected.Store(false)
		c.logger.Error("xmpp stream error", "error", err)
	})
	if err != nil {
		return nil, err
	}
	c.comp = comp

	c.sm = xmpp.NewStreamManager(comp, func(xmpp.Sender) {
		c.connected.Store(true)
		c.logger.Info("xmpp component online")
	})
	return c, nil
}

// Start keeps the stream up, reconnecting through the stream manager, until
// ctx is cancelled.
func (c *Component) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.sm.Run()
	}()

	select {
	case <-ctx.Done():
		c.sm.Stop()
		c.connected.Store(false)
		return nil
	case err := <-errCh:
		c.connected.Store(false)
		return err
	}
}

// Sender returns the component for the outbound relay.
func (c *Component) Sender() xmpp.Sender {
	return c.comp
}

// Ready reports whether the stream is currently established.
func (c *Component) Ready(context.Context) error {
	if !c.connected.Load() {
		return errNotConnected
	}
	return nil
}
