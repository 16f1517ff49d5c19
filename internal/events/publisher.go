package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// MatchCompleted is emitted once per finished match. It is the interface
// to the external match-history service; this process never persists
// results itself.
type MatchCompleted struct {
	Kind       string    `json:"kind"` // "pong" or "keyclash"
	RoomID     string    `json:"room_id"`
	Mode       string    `json:"mode"`
	Player1    string    `json:"player1"`
	Player2    string    `json:"player2"`
	Score1     int       `json:"score1"`
	Score2     int       `json:"score2"`
	Winner     string    `json:"winner,omitempty"` // empty on a tie
	FinishedAt time.Time `json:"finished_at"`
}

// Publisher publishes match lifecycle events for external consumers.
type Publisher interface {
	PublishMatchCompleted(ctx context.Context, event MatchCompleted) error
}

// NATSPublisher publishes match events to a NATS subject hierarchy,
// e.g. "games.match.completed.pong".
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

// NewNATSPublisher connects to NATS and returns a publisher rooted at
// the given subject prefix.
func NewNATSPublisher(url, subjectPrefix string) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &NATSPublisher{nc: nc, subject: subjectPrefix}, nil
}

func (p *NATSPublisher) PublishMatchCompleted(ctx context.Context, event MatchCompleted) error {
	subject := fmt.Sprintf("%s.match.completed.%s", p.subject, event.Kind)

	envelope := map[string]interface{}{
		"eventId":   uuid.New().String(),
		"eventType": "MatchCompleted",
		"roomId":    event.RoomID,
		"timestamp": event.FinishedAt,
		"payload":   event,
	}

	messageBytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal match event: %w", err)
	}

	if err := p.nc.Publish(subject, messageBytes); err != nil {
		return fmt.Errorf("publish match event: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Str("room_id", event.RoomID).
		Msg("match event published")

	return nil
}

// Close drains the underlying NATS connection.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}

// NoopPublisher logs match events instead of publishing them. Used when
// no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishMatchCompleted(ctx context.Context, event MatchCompleted) error {
	log.Info().
		Str("kind", event.Kind).
		Str("room_id", event.RoomID).
		Str("winner", event.Winner).
		Int("score1", event.Score1).
		Int("score2", event.Score2).
		Msg("match completed")
	return nil
}
