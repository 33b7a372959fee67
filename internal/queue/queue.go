// Package queue provides a uniform interface over named job queues with two
// interchangeable engines: a Postgres-backed engine for self-hosted
// single-node deployments and a Redis-backed engine for multi-node cloud
// deployments. Both are configured for a single delivery attempt per job;
// retry decisions live in import status records, not in the queue.
package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/site-analytics-import/internal/config"
	"github.com/site-analytics-import/internal/database"
)

// Job is one delivered message
type Job struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// Handler processes a batch of one or more jobs. Returning an error marks
// the jobs failed; neither engine redelivers them.
type Handler func(ctx context.Context, jobs []Job) error

// SendOptions tune a single enqueue. Priority and Delay are honored by the
// Postgres engine; the Redis engine's list delivery ignores them.
type SendOptions struct {
	Priority int
	Delay    time.Duration
}

// WorkConfig tunes a worker registration. BatchSize and PollInterval apply
// to the Postgres engine's polling model, Concurrency to the Redis engine's
// consumer goroutines. Zero values fall back to engine defaults.
type WorkConfig struct {
	BatchSize    int
	PollInterval time.Duration
	Concurrency  int
}

// Queue is the capability the import pipeline codes against. Worker and
// producer code never sees which engine is behind it.
type Queue interface {
	// Start opens the backend connection and launches registered workers
	Start(ctx context.Context) error
	// Stop drains in-flight handlers before releasing the connection
	Stop(ctx context.Context) error
	// CreateQueue declares a named queue; declaring twice is a no-op
	CreateQueue(ctx context.Context, name string) error
	// Send enqueues one message and returns its job ID. It fails if the
	// queue was never declared.
	Send(ctx context.Context, queueName string, payload interface{}, opts *SendOptions) (string, error)
	// Work registers a handler for a queue. Registration may happen before
	// or after Start.
	Work(queueName string, cfg WorkConfig, handler Handler) error
}

var (
	instance Queue
	once     sync.Once
)

// Get returns the process-wide queue instance, constructing it on first use.
// Cloud deployments get the Redis engine, self-hosted ones the Postgres
// engine. The instance is started once at boot and stopped once at shutdown
// by the wiring in cmd/server.
func Get(cfg *config.Config, db *database.DB, log zerolog.Logger) Queue {
	once.Do(func() {
		if cfg.IsCloud() {
			log.Info().Msg("Initializing Redis job queue for cloud deployment")
			instance = NewRedisQueue(&cfg.Redis, log)
		} else {
			log.Info().Msg("Initializing Postgres job queue for self-hosted deployment")
			instance = NewPostgresQueue(db, log)
		}
	})
	return instance
}
