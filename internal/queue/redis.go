package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/site-analytics-import/internal/config"
)

const defaultConcurrency = 1

// popTimeout bounds each BRPOP so consumer goroutines notice shutdown
const popTimeout = 2 * time.Second

// RedisQueue implements Queue on Redis lists: one list per queue, LPUSH to
// produce, BRPOP to consume, which preserves FIFO order from a single
// producer. A failed job is moved to a <queue>:failed list and never
// redelivered, matching the single-attempt policy of the Postgres engine.
type RedisQueue struct {
	client *redis.Client
	log    zerolog.Logger

	mu       sync.Mutex
	queues   map[string]bool
	workers  []redisWorker
	started  bool
	loopCtx  context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

type redisWorker struct {
	queue   string
	cfg     WorkConfig
	handler Handler
}

// NewRedisQueue creates the Redis-backed engine. The connection is only
// verified at Start.
func NewRedisQueue(cfg *config.RedisConfig, log zerolog.Logger) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisQueue{
		client: client,
		log:    log.With().Str("component", "redis-queue").Logger(),
		queues: make(map[string]bool),
	}
}

// Start verifies the connection and launches registered consumers
func (q *RedisQueue) Start(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	q.loopCtx = loopCtx
	q.cancel = cancel
	q.started = true

	for _, w := range q.workers {
		q.launch(loopCtx, w)
	}
	q.log.Info().Msg("Redis queue started")
	return nil
}

// Stop drains consumers, then closes the client
func (q *RedisQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return q.client.Close()
	}
	q.started = false
	cancel := q.cancel
	q.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		q.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("redis queue stop: %w", ctx.Err())
	}

	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	q.log.Info().Msg("Redis queue stopped")
	return nil
}

// CreateQueue declares a named queue
func (q *RedisQueue) CreateQueue(ctx context.Context, name string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queues[name] = true
	return nil
}

// Send enqueues one message. Priority and delay options are not supported
// by list delivery and are ignored.
func (q *RedisQueue) Send(ctx context.Context, queueName string, payload interface{}, opts *SendOptions) (string, error) {
	q.mu.Lock()
	declared := q.queues[queueName]
	q.mu.Unlock()
	if !declared {
		return "", fmt.Errorf("queue %s not declared", queueName)
	}

	job, err := newEnvelope(payload)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job envelope: %w", err)
	}

	if err := q.client.LPush(ctx, listKey(queueName), raw).Err(); err != nil {
		return "", fmt.Errorf("enqueue to %s: %w", queueName, err)
	}
	return job.ID, nil
}

// Work registers a handler for a queue
func (q *RedisQueue) Work(queueName string, cfg WorkConfig, handler Handler) error {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	w := redisWorker{queue: queueName, cfg: cfg, handler: handler}
	q.workers = append(q.workers, w)
	if q.started {
		// late registration joins the running loop context so Stop
		// still cancels it
		q.launch(q.loopCtx, w)
	}
	return nil
}

func (q *RedisQueue) launch(ctx context.Context, w redisWorker) {
	for i := 0; i < w.cfg.Concurrency; i++ {
		q.inflight.Add(1)
		go func() {
			defer q.inflight.Done()
			q.consume(ctx, w)
		}()
	}
}

func (q *RedisQueue) consume(ctx context.Context, w redisWorker) {
	key := listKey(w.queue)
	for {
		if ctx.Err() != nil {
			return
		}

		res, err := q.client.BRPop(ctx, popTimeout, key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			q.log.Error().Err(err).Str("queue", w.queue).Msg("BRPOP failed")
			continue
		}

		// BRPOP returns [key, value]
		raw := res[1]
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			q.log.Error().Err(err).Str("queue", w.queue).Msg("Discarding malformed job envelope")
			continue
		}

		if err := w.handler(ctx, []Job{job}); err != nil {
			q.log.Error().Err(err).Str("queue", w.queue).Str("job_id", job.ID).Msg("Job handler failed")
			q.park(w.queue, raw)
		}
	}
}

// park records a failed job for debugging; it is never redelivered
func (q *RedisQueue) park(queueName, raw string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := q.client.LPush(ctx, listKey(queueName)+":failed", raw).Err(); err != nil {
		q.log.Error().Err(err).Str("queue", queueName).Msg("Failed to park failed job")
	}
}

func listKey(queueName string) string {
	return "queue:" + queueName
}
