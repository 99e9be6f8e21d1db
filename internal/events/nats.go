package events

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSSink publishes lifecycle events to NATS subjects of the form
// <prefix>.<timer-id>.events.
type NATSSink struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSSink connects to the given NATS URL.
func NewNATSSink(url, prefix string) (*NATSSink, error) {
	conn, err := nats.Connect(url, nats.Name("stagetimer-server"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	if prefix == "" {
		prefix = "timers"
	}
	log.Info().Str("url", url).Str("prefix", prefix).Msg("NATS event sink connected")
	return &NATSSink{conn: conn, prefix: prefix}, nil
}

// Publish sends the event to the timer's subject.
func (s *NATSSink) Publish(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	subject := fmt.Sprintf("%s.%s.events", s.prefix, ev.TimerID)
	if err := s.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Close drains and closes the connection.
func (s *NATSSink) Close() {
	if err := s.conn.Drain(); err != nil {
		log.Error().Err(err).Msg("failed to drain NATS connection")
	}
}
