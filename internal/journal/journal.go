// internal/journal/journal.go
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/quorumgames/lobbyd/internal/lobby"
)

// DefaultQueue is the Redis list holding journaled lobby events.
const DefaultQueue = "lobby_events"

// pushTimeout bounds a single Redis push so event fan-out never stalls on
// a slow journal.
const pushTimeout = 2 * time.Second

// Record holds one journaled lobby event as queued for the historian.
// Payload carries the wire form of the event, so the historian stores
// exactly what subscribers saw.
type Record struct {
	Seq     int64           `json:"seq"`
	GameID  uuid.UUID       `json:"game_id"`
	LobbyID uuid.UUID       `json:"lobby_id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Ts      int64           `json:"ts"`
}

// Publisher journals lobby events onto a Redis queue. Pushes run on a
// short-lived goroutine with their own timeout; failures are logged and
// never propagate to the event path.
type Publisher struct {
	client *redis.Client
	queue  string
	seq    atomic.Int64
}

// New creates a Publisher on an existing client. An empty queue name
// selects DefaultQueue.
func New(client *redis.Client, queue string) *Publisher {
	if queue == "" {
		queue = DefaultQueue
	}
	return &Publisher{client: client, queue: queue}
}

// Queue returns the Redis list name records are pushed to.
func (p *Publisher) Queue() string {
	return p.queue
}

// PublishEvent queues one event record. The sequence number orders records
// across all lobbies of this process.
func (p *Publisher) PublishEvent(ctx context.Context, gameID, lobbyID uuid.UUID, ev lobby.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", ev.Type, err)
	}
	rec := Record{
		Seq:     p.seq.Add(1),
		GameID:  gameID,
		LobbyID: lobbyID,
		Type:    string(ev.Type),
		Payload: payload,
		Ts:      time.Now().UnixMilli(),
	}
	// Asynchronously publish to Redis
	go func(rec Record) {
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		defer cancel()
		if err := p.push(ctx, rec); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"type":     rec.Type,
				"lobby_id": rec.LobbyID,
			}).Error("failed to journal event")
		}
	}(rec)
	return nil
}

// push serializes the record to JSON, then pushes it to the Redis queue.
func (p *Publisher) push(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal journal record: %w", err)
	}
	if err := p.client.RPush(ctx, p.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", p.queue, err)
	}
	return nil
}

// Connect dials Redis from a URL of the form redis://host:port/db and
// verifies the connection.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}
	return client, nil
}
