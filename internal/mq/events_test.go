package mq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	channel string
	data    []byte
	attrs   map[string]string
}

type fakeBackend struct {
	sent       []published
	publishErr error
	closed     bool
}

func (f *fakeBackend) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if f.publishErr != nil {
		return "", f.publishErr
	}
	f.sent = append(f.sent, published{channel: channel, data: data, attrs: attrs})
	return "msg-1", nil
}

func (f *fakeBackend) Subscribe(ctx context.Context, channel string, handler Handler) error {
	for i, p := range f.sent {
		if p.channel != channel {
			continue
		}
		if err := handler(ctx, Message{ID: string(rune('a' + i)), Data: p.data, Attributes: p.attrs}); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeBackend) Close() error {
	f.closed = true
	return nil
}

func newCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: "events_total"}, []string{"type", "outcome"})
}

func TestPublisher_EncodesEnvelope(t *testing.T) {
	backend := &fakeBackend{}
	counter := newCounter()
	p := NewPublisher(New(backend), counter)
	p.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	err := p.Publish(context.Background(), "todo.created", map[string]any{"id": 1, "title": "Buy milk"})
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)

	sent := backend.sent[0]
	assert.Equal(t, EventsChannel, sent.channel)
	assert.Equal(t, "todo.created", sent.attrs["type"])

	var event Event
	require.NoError(t, json.Unmarshal(sent.data, &event))
	assert.Equal(t, "todo.created", event.Type)
	assert.True(t, event.OccurredAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))
	assert.JSONEq(t, `{"id":1,"title":"Buy milk"}`, string(event.Payload))
	assert.Equal(t, float64(1), testutil.ToFloat64(counter.WithLabelValues("todo.created", "ok")))
}

func TestPublisher_BackendError(t *testing.T) {
	backend := &fakeBackend{publishErr: errors.New("broker down")}
	counter := newCounter()
	p := NewPublisher(New(backend), counter)

	err := p.Publish(context.Background(), "user.registered", map[string]int{"id": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Equal(t, float64(1), testutil.ToFloat64(counter.WithLabelValues("user.registered", "error")))
}

func TestPublisher_EncodeError(t *testing.T) {
	p := NewPublisher(New(&fakeBackend{}), nil)

	err := p.Publish(context.Background(), "bad", map[string]any{"ch": make(chan int)})
	assert.Error(t, err)
}

func TestPublisher_NilMQIsNoop(t *testing.T) {
	p := NewPublisher(nil, nil)
	assert.NoError(t, p.Publish(context.Background(), "todo.created", struct{}{}))

	var nilPublisher *Publisher
	assert.NoError(t, nilPublisher.Publish(context.Background(), "todo.created", struct{}{}))
}

func TestDecodeEvent_FallsBackToAttribute(t *testing.T) {
	event, err := DecodeEvent(Message{
		ID:         "1",
		Data:       []byte(`{"payload":{"id":3}}`),
		Attributes: map[string]string{"type": "todo.created"},
	})
	require.NoError(t, err)
	assert.Equal(t, "todo.created", event.Type)

	_, err = DecodeEvent(Message{ID: "2", Data: []byte(`{"payload":{}}`)})
	assert.Error(t, err)

	_, err = DecodeEvent(Message{ID: "3", Data: []byte(`not json`)})
	assert.Error(t, err)
}

func TestLogEvents_ConsumesPublished(t *testing.T) {
	backend := &fakeBackend{}
	m := New(backend)
	p := NewPublisher(m, nil)
	require.NoError(t, p.Publish(context.Background(), "user.registered", map[string]any{"id": 7}))
	backend.sent = append(backend.sent, published{channel: EventsChannel, data: []byte("garbage")})

	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	require.NoError(t, m.Subscribe(context.Background(), EventsChannel, LogEvents(logger)))

	out := buf.String()
	assert.Contains(t, out, `"msg":"event received"`)
	assert.Contains(t, out, `"type":"user.registered"`)
	assert.Contains(t, out, `"msg":"dropping undecodable event"`)

	require.NoError(t, m.Close())
	assert.True(t, backend.closed)
}
