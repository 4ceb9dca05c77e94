// Package bot answers chat messages with LLM completions, enforcing quotas.
package bot

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/aiox-platform/chatbot/internal/history"
	"github.com/aiox-platform/chatbot/internal/llm"
	"github.com/aiox-platform/chatbot/internal/metrics"
	inats "github.com/aiox-platform/chatbot/internal/nats"
	"github.com/aiox-platform/chatbot/internal/quota"
	ixmpp "github.com/aiox-platform/chatbot/internal/xmpp"
)

const inboundConsumer = "chatbot"

// Completer produces a completion for a chat.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (*llm.Completion, error)
}

// Publisher delivers replies and usage events.
type Publisher interface {
	PublishOutboundMessage(ctx context.Context, msg inats.OutboundMessage) error
	PublishUsageEvent(ctx context.Context, event inats.UsageEvent) error
}

// History stores recent conversation turns per user.
type History interface {
	Recent(ctx context.Context, userJID string) ([]history.Entry, error)
	Append(ctx context.Context, userJID string, entries ...history.Entry) error
	Clear(ctx context.Context, userJID string) error
}

// Options tune the bot's behaviour.
type Options struct {
	SystemPrompt string
	// RateLimitCooldown is used when a 429 carries no Retry-After.
	RateLimitCooldown time.Duration
	// FailOpen admits requests when a quota check cannot reach its store.
	FailOpen bool
	// Dedupe, when set, drops messages whose ID was already handled.
	Dedupe Deduper
}

// Service consumes inbound chat messages and replies to them.
type Service struct {
	quota       *quota.Manager
	completer   Completer
	history     History
	publisher   Publisher
	consumerMgr *inats.ConsumerManager
	opts        Options
	logger      *slog.Logger
}

// NewService creates a new bot Service.
func NewService(
	mgr *quota.Manager,
	completer Completer,
	hist History,
	publisher Publisher,
	consumerMgr *inats.ConsumerManager,
	opts Options,
) *Service {
	if opts.RateLimitCooldown <= 0 {
		opts.RateLimitCooldown = time.Minute
	}
	return &Service{
		quota:       mgr,
		completer:   completer,
		history:     hist,
		publisher:   publisher,
		consumerMgr: consumerMgr,
		opts:        opts,
		logger:      slog.Default().With("component", "bot"),
	}
}

// Start consumes inbound messages until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	// Completions can be slow; keep messages leased for longer than the LLM timeout.
	return s.consumerMgr.Run(ctx, inats.ConsumerSpec{
		Stream:  inats.StreamMessages,
		Name:    inboundConsumer,
		Subject: inats.SubjectInboundMessage,
		AckWait: 5 * time.Minute,
	}, s.processMessage)
}

func (s *Service) processMessage(ctx context.Context, msg jetstream.Msg) {
	var inbound inats.InboundMessage
	if err := json.Unmarshal(msg.Data(), &inbound); err != nil {
		s.logger.Error("unmarshaling inbound message", "error", err)
		_ = msg.Term()
		return
	}

	s.Handle(ctx, inbound)
	_ = msg.Ack()
}

// Handle answers a single inbound message. Every outcome, including denials
// and backend failures, produces exactly one reply. A redelivered message
// that was already claimed is neither charged nor answered again.
func (s *Service) Handle(ctx context.Context, in inats.InboundMessage) {
	userID := ixmpp.BareJID(in.FromJID)
	text := strings.TrimSpace(in.Body)

	if !s.claim(ctx, in.ID) {
		s.logger.Info("dropping duplicate message", "id", in.ID, "user", userID)
		return
	}
	s.logger.Debug("handling message", "id", in.ID, "user", userID)

	switch command(text) {
	case "", "/help":
		s.reply(ctx, in, helpText)
	case "/clear":
		if err := s.history.Clear(ctx, userID); err != nil {
			s.logger.Error("clearing history", "error", err, "user", userID)
			s.reply(ctx, in, msgInternalErr)
			return
		}
		s.reply(ctx, in, msgCleared)
	case "/quota":
		status, err := s.quota.UserStatus(ctx, userID)
		if err != nil {
			s.logger.Error("reading quota status", "error", err, "user", userID)
			s.reply(ctx, in, msgInternalErr)
			return
		}
		s.reply(ctx, in, quotaStatusText(status, s.quota.Now()))
	default:
		s.answer(ctx, in, userID, text)
	}
}

// claim fails open: a dedupe store outage must not silence the bot.
func (s *Service) claim(ctx context.Context, id string) bool {
	if s.opts.Dedupe == nil || id == "" {
		return true
	}
	ok, err := s.opts.Dedupe.Claim(ctx, id)
	if err != nil {
		s.logger.Warn("dedupe unavailable, handling message", "error", err, "id", id)
		return true
	}
	return ok
}

func command(text string) string {
	if !strings.HasPrefix(text, "/") {
		if text == "" {
			return ""
		}
		return "chat"
	}
	fields := strings.Fields(text)
	return strings.ToLower(fields[0])
}

func (s *Service) answer(ctx context.Context, in inats.InboundMessage, userID, text string) {
	if denial, ok := s.admit(ctx, userID); !ok {
		s.reply(ctx, in, denial)
		return
	}

	messages := s.buildMessages(ctx, userID, text)
	completion, err := s.completer.Complete(ctx, llm.Request{User: userID, Messages: messages})
	if err != nil {
		s.reply(ctx, in, s.completionFailed(err, userID))
		return
	}

	rec, err := s.quota.IncreaseUsage(ctx, userID, completion.TotalTokens)
	if err != nil {
		// The backend already spent the tokens; the user still gets the reply.
		s.logger.Error("recording usage", "error", err, "user", userID, "tokens", completion.TotalTokens)
	} else {
		s.publishUsage(ctx, in, userID, completion, rec)
	}

	reply := strings.TrimSpace(completion.Text)
	if reply == "" {
		reply = emptyReply
	}

	now := time.Now().UTC()
	err = s.history.Append(ctx, userID,
		history.Entry{Role: llm.RoleUser, Content: text, Timestamp: now},
		history.Entry{Role: llm.RoleAssistant, Content: reply, Timestamp: now},
	)
	if err != nil {
		s.logger.Warn("appending history", "error", err, "user", userID)
	}

	s.reply(ctx, in, reply)
}

// admit runs the checks in order: backend rate limit, global quota, user
// quota. It returns the denial text when the request must not proceed.
func (s *Service) admit(ctx context.Context, userID string) (string, bool) {
	now := s.quota.Now()

	if s.quota.IsRateLimited() {
		metrics.QuotaDenialsTotal.WithLabelValues("rate_limited").Inc()
		return rateLimitedText(quota.CooldownUntil(s.quota.RateLimitedUntil(), now)), false
	}

	exceeded, err := s.quota.GlobalQuotaExceeded(ctx)
	if err != nil {
		if !s.opts.FailOpen {
			s.logger.Error("checking global quota", "error", err)
			return msgInternalErr, false
		}
		s.logger.Warn("global quota check failed, admitting", "error", err)
	}
	if exceeded {
		next, err := s.quota.GlobalCooldown(ctx)
		if err != nil {
			s.logger.Warn("reading global cooldown", "error", err)
		}
		metrics.QuotaDenialsTotal.WithLabelValues("global").Inc()
		return globalQuotaText(quota.CooldownUntil(next, now)), false
	}

	deadline, err := s.quota.QuotaExceeded(ctx, userID)
	if err != nil {
		if !s.opts.FailOpen {
			s.logger.Error("checking user quota", "error", err, "user", userID)
			return msgInternalErr, false
		}
		s.logger.Warn("user quota check failed, admitting", "error", err, "user", userID)
	}
	if !deadline.IsZero() {
		metrics.QuotaDenialsTotal.WithLabelValues("user").Inc()
		return userQuotaText(quota.CooldownUntil(deadline, now)), false
	}

	return "", true
}

func (s *Service) buildMessages(ctx context.Context, userID, text string) []llm.Message {
	var messages []llm.Message
	if s.opts.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: s.opts.SystemPrompt})
	}

	entries, err := s.history.Recent(ctx, userID)
	if err != nil {
		s.logger.Warn("loading history", "error", err, "user", userID)
	}
	for _, e := range entries {
		messages = append(messages, llm.Message{Role: e.Role, Content: e.Content})
	}

	return append(messages, llm.Message{Role: llm.RoleUser, Content: text})
}

func (s *Service) completionFailed(err error, userID string) string {
	if errors.Is(err, llm.ErrRateLimited) {
		wait := llm.RetryAfter(err)
		if wait <= 0 {
			wait = s.opts.RateLimitCooldown
		}
		s.quota.SetRateLimit(wait)
		return rateLimitedText(quota.FormatCooldown(wait))
	}
	s.logger.Error("completion failed", "error", err, "user", userID)
	return msgInternalErr
}

func (s *Service) publishUsage(ctx context.Context, in inats.InboundMessage, userID string, c *llm.Completion, rec *quota.UsageRecord) {
	event := inats.UsageEvent{
		RequestID:    in.ID,
		UserID:       userID,
		Model:        c.Model,
		Tokens:       c.TotalTokens,
		WindowTokens: rec.Tokens,
		WindowQuery:  rec.Queries,
		WindowEndsAt: rec.EndsAt.UTC(),
		Timestamp:    time.Now().UTC(),
	}
	if err := s.publisher.PublishUsageEvent(ctx, event); err != nil {
		s.logger.Warn("publishing usage event", "error", err, "user", userID)
	}
}

func (s *Service) reply(ctx context.Context, in inats.InboundMessage, body string) {
	outbound := inats.OutboundMessage{
		ID:        uuid.New().String(),
		ToJID:     in.FromJID,
		FromJID:   in.ToJID,
		Body:      body,
		InReplyTo: in.ID,
	}
	if err := s.publisher.PublishOutboundMessage(ctx, outbound); err != nil {
		s.logger.Error("publishing reply", "error", err, "to", in.FromJID)
	}
}
