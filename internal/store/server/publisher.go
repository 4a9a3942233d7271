package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Event types published on every store write.
const (
	EventSessionCreated = "SessionCreated"
	EventSessionUpdated = "SessionUpdated"
)

// Publisher fans out store write activity. Devices never consume this;
// polling stays their only channel. The feed exists for the operator
// dashboard.
type Publisher interface {
	Publish(ctx context.Context, event SessionEvent) error
}

// NATSPublisher publishes session events to a NATS subject tree
// (<prefix>.<event type>.<code>).
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

// NewNATSPublisher connects to NATS with reconnect handling.
func NewNATSPublisher(url, subject string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSPublisher{nc: nc, subject: subject}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, event SessionEvent) error {
	envelope := map[string]interface{}{
		"code":      event.Code,
		"eventType": event.EventType,
		"timestamp": event.CreatedAt,
		"payload":   json.RawMessage(event.Payload),
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	subject := fmt.Sprintf("%s.%s.%s", p.subject, event.EventType, event.Code)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close drains the connection.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}

// NopPublisher drops events; used when no bus is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event SessionEvent) error {
	return nil
}
