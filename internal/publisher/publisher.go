// Package publisher emits sync lifecycle events to NATS JetStream so
// downstream consumers (alerting, reporting) can follow session state
// without polling the ops API.
package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/sellerpulse/stocksync/internal/metrics"
	"github.com/sellerpulse/stocksync/pkg/model"
)

// Event subjects, versioned per the platform convention.
const (
	SubjectSyncStarted   = "evt.sync.started.v1"
	SubjectSyncCompleted = "evt.sync.completed.v1"
	SubjectSyncFailed    = "evt.sync.failed.v1"
)

// Publisher wraps a NATS connection and publishes canonical event envelopes.
type Publisher struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	logger  *zap.Logger
	service string
}

// New creates a Publisher with JetStream enabled.
func New(logger *zap.Logger, nc *nats.Conn, service string) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return &Publisher{
		nc:      nc,
		js:      js,
		logger:  logger,
		service: service,
	}, nil
}

// PublishEnvelope serializes and publishes one event envelope.
func (p *Publisher) PublishEnvelope(ctx context.Context, subject string, env *model.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		p.logger.Error("publisher.marshal_failed",
			zap.String("subject", subject),
			zap.String("event_type", env.EventType),
			zap.Error(err))
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"event_type":     []string{env.EventType},
			"correlation_id": []string{env.CorrelationID.String()},
			"service":        []string{p.service},
			"content_type":   []string{"application/json"},
		},
	}

	start := time.Now()
	_, err = p.js.PublishMsg(msg)
	metrics.ObserveDuration(metrics.NATSMessageLatency, start, subject)

	if err != nil {
		p.logger.Error("publisher.publish_failed",
			zap.String("subject", subject),
			zap.String("event_type", env.EventType),
			zap.Error(err))
		metrics.IncNATSMessage(subject, "error")
		return err
	}

	p.logger.Info("publisher.publish_success",
		zap.String("subject", subject),
		zap.String("event_type", env.EventType))
	metrics.IncNATSMessage(subject, "ok")
	return nil
}

// PublishSessionEvent maps a session to its lifecycle subject and publishes
// the full session as payload. Running sessions announce a start; terminal
// sessions announce the outcome.
func (p *Publisher) PublishSessionEvent(ctx context.Context, sess model.Session) error {
	subject, eventType := subjectFor(sess.Status)

	env := &model.Envelope{
		ID:            uuid.New(),
		CorrelationID: sess.ID,
		Topic:         subject,
		EventType:     eventType,
		Version:       "1.0.0",
		Timestamp:     time.Now().UTC(),
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	env.Payload = data

	return p.PublishEnvelope(ctx, subject, env)
}

func subjectFor(status model.SessionStatus) (subject, eventType string) {
	switch status {
	case model.SessionCompleted, model.SessionPartialSuccess:
		return SubjectSyncCompleted, "sync.completed"
	case model.SessionFailed, model.SessionTimedOut:
		return SubjectSyncFailed, "sync.failed"
	default:
		return SubjectSyncStarted, "sync.started"
	}
}

// Publish publishes raw JSON payloads (for non-canonical internal events).
func (p *Publisher) Publish(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		metrics.IncError("publisher", "marshal_failed")
		return err
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  nats.Header{"source": []string{p.service}},
	}

	start := time.Now()
	_, err = p.js.PublishMsg(msg)
	metrics.ObserveDuration(metrics.NATSMessageLatency, start, subject)

	if err != nil {
		metrics.IncNATSMessage(subject, "error")
		return err
	}

	metrics.IncNATSMessage(subject, "ok")
	return nil
}

func (p *Publisher) Close() {
	if p.nc != nil && p.nc.IsConnected() {
		p.nc.Close()
	}
}
