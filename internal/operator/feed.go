package operator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/lockstep-games/lockstep/internal/store/server"
)

// NATSFeed forwards store events from the message bus to the hub.
type NATSFeed struct {
	nc      *nats.Conn
	subject string
	hub     *Hub
}

// NewNATSFeed connects and subscribes to the store's event subject tree.
func NewNATSFeed(url, subject string, hub *Hub) (*NATSFeed, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSFeed{nc: nc, subject: subject, hub: hub}, nil
}

// Run consumes events until ctx is done.
func (f *NATSFeed) Run(ctx context.Context) error {
	sub, err := f.nc.Subscribe(f.subject+".>", func(msg *nats.Msg) {
		var envelope struct {
			Code      string          `json:"code"`
			EventType string          `json:"eventType"`
			Timestamp time.Time       `json:"timestamp"`
			Payload   json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(msg.Data, &envelope); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject).Msg("failed to decode feed event")
			return
		}
		f.hub.Broadcast(FeedEvent{
			Code:      envelope.Code,
			EventType: envelope.EventType,
			Timestamp: envelope.Timestamp,
			Payload:   envelope.Payload,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to feed subject: %w", err)
	}
	defer sub.Unsubscribe()

	log.Info().Str("subject", f.subject).Msg("NATS feed started")
	<-ctx.Done()
	log.Info().Msg("NATS feed shutting down")
	return nil
}

// Close drains the connection.
func (f *NATSFeed) Close() {
	if f.nc != nil {
		f.nc.Close()
	}
}

// PGFeed is the fallback feed when no message bus is configured: it LISTENs
// on the store database's notify channel and forwards the session codes that
// changed.
type PGFeed struct {
	listener *pq.Listener
	hub      *Hub
}

// NewPGFeed creates a feed listening on the store's notify channel.
func NewPGFeed(databaseURL string, hub *Hub) (*PGFeed, error) {
	listener := pq.NewListener(databaseURL, 10*time.Second, time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("pg listener event")
			}
		})
	if err := listener.Listen(server.NotifyChannel); err != nil {
		return nil, fmt.Errorf("failed to listen on notify channel: %w", err)
	}
	return &PGFeed{listener: listener, hub: hub}, nil
}

// Run consumes notifications until ctx is done.
func (f *PGFeed) Run(ctx context.Context) error {
	log.Info().Str("channel", server.NotifyChannel).Msg("pg feed started")
	pingTicker := time.NewTicker(90 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("pg feed shutting down")
			return f.listener.Close()
		case note := <-f.listener.Notify:
			if note == nil {
				// Connection was lost; the listener reconnects itself.
				continue
			}
			f.hub.Broadcast(FeedEvent{
				Code:      note.Extra,
				EventType: server.EventSessionUpdated,
				Timestamp: time.Now().UTC(),
			})
		case <-pingTicker.C:
			if err := f.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping pg listener")
			}
		}
	}
}
