// Package notify announces stored audio clips on NATS.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/book-expert/events"
	"github.com/nats-io/nats.go"
)

// NatsPublisher publishes events as JSON on a fixed subject.
type NatsPublisher struct {
	natsConnection *nats.Conn
	subject        string
}

// NewNatsPublisher creates a publisher for subject.
func NewNatsPublisher(natsConnection *nats.Conn, subject string) *NatsPublisher {
	return &NatsPublisher{
		natsConnection: natsConnection,
		subject:        subject,
	}
}

// PublishAudioCreated publishes event on the configured subject.
func (p *NatsPublisher) PublishAudioCreated(_ context.Context, event *events.AudioChunkCreatedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audio event: %w", err)
	}

	err = p.natsConnection.Publish(p.subject, data)
	if err != nil {
		return fmt.Errorf("failed to publish audio event on %s: %w", p.subject, err)
	}

	return nil
}

// Discard drops every event. It stands in when NATS is disabled.
type Discard struct{}

// PublishAudioCreated does nothing.
func (Discard) PublishAudioCreated(context.Context, *events.AudioChunkCreatedEvent) error {
	return nil
}
