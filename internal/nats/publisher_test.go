package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishCall struct {
	subject string
	payload []byte
	opts    int
}

// fakeJetStream captures Publish calls; other methods are unused.
type fakeJetStream struct {
	jetstream.JetStream
	calls []publishCall
	err   error
}

func (f *fakeJetStream) Publish(_ context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, publishCall{subject: subject, payload: payload, opts: len(opts)})
	return &jetstream.PubAck{Stream: StreamEvents}, nil
}

func TestPublisher_UsageEvent(t *testing.T) {
	js := &fakeJetStream{}
	p := NewPublisher(js)

	err := p.PublishUsageEvent(t.Context(), UsageEvent{RequestID: "req-1", UserID: "alice@example.com", Tokens: 40})
	require.NoError(t, err)

	require.Len(t, js.calls, 1)
	call := js.calls[0]
	assert.Equal(t, SubjectUsageEvent, call.subject)
	assert.Equal(t, 1, call.opts, "message id option")

	var got UsageEvent
	require.NoError(t, json.Unmarshal(call.payload, &got))
	assert.Equal(t, int64(40), got.Tokens)
}

func TestPublisher_Messages(t *testing.T) {
	js := &fakeJetStream{}
	p := NewPublisher(js)

	require.NoError(t, p.PublishInboundMessage(t.Context(), InboundMessage{ID: "in-1", Body: "hi"}))
	require.NoError(t, p.PublishOutboundMessage(t.Context(), OutboundMessage{ID: "out-1", Body: "hello"}))

	require.Len(t, js.calls, 2)
	assert.Equal(t, SubjectInboundMessage, js.calls[0].subject)
	assert.Equal(t, 1, js.calls[0].opts)
	assert.Equal(t, SubjectOutboundMessage, js.calls[1].subject)
	assert.Equal(t, 1, js.calls[1].opts)
}

func TestPublisher_Error(t *testing.T) {
	p := NewPublisher(&fakeJetStream{err: errors.New("no responders")})

	err := p.PublishOutboundMessage(t.Context(), OutboundMessage{ID: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), SubjectOutboundMessage)
}

func TestStreamConfigs(t *testing.T) {
	configs := streamConfigs()
	require.Len(t, configs, 2)

	byName := map[string]jetstream.StreamConfig{}
	for _, c := range configs {
		byName[c.Name] = c
	}
	assert.Equal(t, jetstream.WorkQueuePolicy, byName[StreamMessages].Retention)
	assert.Equal(t, jetstream.LimitsPolicy, byName[StreamEvents].Retention)
	assert.Positive(t, byName[StreamEvents].Duplicates)
}

func TestPublisher_NoIDNoDedupe(t *testing.T) {
	js := &fakeJetStream{}
	require.NoError(t, NewPublisher(js).PublishInboundMessage(t.Context(), InboundMessage{Body: "hi"}))

	require.Len(t, js.calls, 1)
	assert.Zero(t, js.calls[0].opts)
}
