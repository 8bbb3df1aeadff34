// cmd/historian/main.go is an asynchronous historian service that pops lobby
// event records from a Redis queue and persists them to a PostgreSQL database.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/quorumgames/lobbyd/internal/database"
	"github.com/quorumgames/lobbyd/internal/journal"
)

// Historian reads event records off the Redis queue, accumulates them in a
// batch, and flushes each batch to the database in a single transaction.
type Historian struct {
	redisClient *redis.Client
	pool        *pgxpool.Pool
	queue       string
	batchSize   int
	flushDelay  time.Duration

	batchMu sync.Mutex
	batch   []journal.Record
}

// NewHistorian constructs a Historian from environment variables or defaults.
func NewHistorian(client *redis.Client, pool *pgxpool.Pool) *Historian {
	batchSize := getEnvInt("HISTORIAN_BATCH_SIZE", 20)
	flushMs := getEnvInt("HISTORIAN_FLUSH_MS", 500)
	queue := getEnv("REDIS_QUEUE_KEY", journal.DefaultQueue)

	return &Historian{
		redisClient: client,
		pool:        pool,
		queue:       queue,
		batchSize:   batchSize,
		flushDelay:  time.Duration(flushMs) * time.Millisecond,
		batch:       make([]journal.Record, 0, batchSize),
	}
}

// Run drains the queue until ctx is cancelled, then flushes whatever is left.
func (h *Historian) Run(ctx context.Context) {
	ticker := time.NewTicker(h.flushDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.flush(context.Background())
			return

		case <-ticker.C:
			h.flush(ctx)

		default:
			// Use BLPop with a 3-second timeout so that context cancellation
			// is handled.
			res, err := h.redisClient.BLPop(ctx, 3*time.Second, h.queue).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
					continue
				}
				logrus.WithError(err).Error("BLPop failed")
				continue
			}
			if len(res) < 2 {
				// No message popped.
				continue
			}

			// res[0] is the queue name and res[1] the payload.
			var rec journal.Record
			if err := json.Unmarshal([]byte(res[1]), &rec); err != nil {
				logrus.WithError(err).Warn("dropping malformed event record")
				continue
			}
			h.append(ctx, rec)
		}
	}
}

// append adds a record to the in-memory batch, flushing inline once the
// threshold is reached.
func (h *Historian) append(ctx context.Context, rec journal.Record) {
	h.batchMu.Lock()
	defer h.batchMu.Unlock()

	h.batch = append(h.batch, rec)
	if len(h.batch) >= h.batchSize {
		h.flushLocked(ctx)
	}
}

// flush persists and clears the current batch.
func (h *Historian) flush(ctx context.Context) {
	h.batchMu.Lock()
	defer h.batchMu.Unlock()
	h.flushLocked(ctx)
}

// flushLocked writes the batch in one transaction. Callers hold batchMu.
func (h *Historian) flushLocked(ctx context.Context) {
	if len(h.batch) == 0 {
		return
	}
	records := make([]journal.Record, len(h.batch))
	copy(records, h.batch)
	h.batch = h.batch[:0]

	err := database.BeginTxFunc(ctx, h.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, rec := range records {
			if err := database.InsertLobbyEventTx(ctx, tx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logrus.WithError(err).Errorf("failed to flush %d event records", len(records))
		return
	}
	logrus.Infof("Flushed %d lobby events to DB.", len(records))
}

// main is the entrypoint.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := journal.Connect(ctx, getEnv("REDIS_URL", "redis://localhost:6379"))
	if err != nil {
		logrus.Fatalf("failed to connect to redis: %v", err)
	}
	defer client.Close()

	pool, err := database.Connect(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		logrus.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	h := NewHistorian(client, pool)
	logrus.Infof("lobbyd-historian started, draining queue %q", h.queue)
	h.Run(ctx)
	logrus.Info("Historian shutdown complete.")
}

// getEnv retrieves an environment variable's value or returns a default.
func getEnv(key, defVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defVal
}

// getEnvInt retrieves an integer value from an environment variable or returns a default value.
func getEnvInt(key string, defVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defVal
	}
	return i
}
