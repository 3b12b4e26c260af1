package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const attrEventType = "type"

// Event is the envelope written to EventsChannel.
type Event struct {
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Publisher encodes domain events and hands them to the broker. A Publisher
// built from a nil MQ drops every event.
type Publisher struct {
	mq        *MQ
	published *prometheus.CounterVec
	now       func() time.Time
}

// NewPublisher returns a Publisher. published, when non-nil, is incremented
// with labels (type, outcome).
func NewPublisher(m *MQ, published *prometheus.CounterVec) *Publisher {
	return &Publisher{mq: m, published: published, now: time.Now}
}

// Publish encodes payload into an Event and sends it to EventsChannel.
func (p *Publisher) Publish(ctx context.Context, eventType string, payload any) error {
	if p == nil || p.mq == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		p.observe(eventType, "encode_error")
		return fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	data, err := json.Marshal(Event{
		Type:       eventType,
		OccurredAt: p.now().UTC(),
		Payload:    raw,
	})
	if err != nil {
		p.observe(eventType, "encode_error")
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}

	if _, err := p.mq.Publish(ctx, EventsChannel, data, map[string]string{attrEventType: eventType}); err != nil {
		p.observe(eventType, "error")
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	p.observe(eventType, "ok")
	return nil
}

func (p *Publisher) observe(eventType, outcome string) {
	if p.published != nil {
		p.published.WithLabelValues(eventType, outcome).Inc()
	}
}

// DecodeEvent parses a broker message produced by Publisher.
func DecodeEvent(msg Message) (Event, error) {
	var event Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return Event{}, fmt.Errorf("decode event %s: %w", msg.ID, err)
	}
	if event.Type == "" {
		event.Type = msg.Attributes[attrEventType]
	}
	if event.Type == "" {
		return Event{}, errors.New("event type is missing")
	}
	return event, nil
}

// LogEvents returns a Handler that writes each event to logger. Undecodable
// messages are logged and acknowledged so they are not redelivered forever.
func LogEvents(logger logrus.FieldLogger) Handler {
	return func(ctx context.Context, msg Message) error {
		event, err := DecodeEvent(msg)
		if err != nil {
			logger.WithError(err).WithField("message_id", msg.ID).Warn("dropping undecodable event")
			return nil
		}
		logger.WithFields(logrus.Fields{
			"message_id":  msg.ID,
			"type":        event.Type,
			"occurred_at": event.OccurredAt,
			"payload":     string(event.Payload),
		}).Info("event received")
		return nil
	}
}
