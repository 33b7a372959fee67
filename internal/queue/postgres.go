package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/site-analytics-import/internal/database"
)

const (
	defaultBatchSize    = 1
	defaultPollInterval = 2 * time.Second
)

// PostgresQueue implements Queue on top of a queue_jobs table. Workers poll
// for work and claim rows with FOR UPDATE SKIP LOCKED so concurrent pollers
// never double-deliver a job. Claimed jobs get exactly one attempt: success
// deletes the row, failure parks it in state 'failed' for inspection.
type PostgresQueue struct {
	db  *database.DB
	log zerolog.Logger

	mu       sync.Mutex
	queues   map[string]bool
	workers  []pgWorker
	started  bool
	loopCtx  context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
}

type pgWorker struct {
	queue   string
	cfg     WorkConfig
	handler Handler
}

// NewPostgresQueue creates the Postgres-backed engine. It shares the
// application's connection pool and holds no state of its own until Start.
func NewPostgresQueue(db *database.DB, log zerolog.Logger) *PostgresQueue {
	return &PostgresQueue{
		db:     db,
		log:    log.With().Str("component", "pg-queue").Logger(),
		queues: make(map[string]bool),
	}
}

// Start launches a polling loop for every registered worker
func (q *PostgresQueue) Start(ctx context.Context) error {
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
	q.log.Info().Msg("Postgres queue started")
	return nil
}

// Stop cancels the polling loops and waits for in-flight handlers to drain
func (q *PostgresQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return nil
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
		return fmt.Errorf("postgres queue stop: %w", ctx.Err())
	}
	q.log.Info().Msg("Postgres queue stopped")
	return nil
}

// CreateQueue declares a named queue
func (q *PostgresQueue) CreateQueue(ctx context.Context, name string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queues[name] = true
	return nil
}

// Send enqueues one message
func (q *PostgresQueue) Send(ctx context.Context, queueName string, payload interface{}, opts *SendOptions) (string, error) {
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

	priority := 0
	runAt := time.Now().UTC()
	if opts != nil {
		priority = opts.Priority
		runAt = runAt.Add(opts.Delay)
	}

	query := `
		INSERT INTO queue_jobs (id, queue, payload, priority, state, run_at, created_at)
		VALUES ($1, $2, $3, $4, 'created', $5, now())
	`
	if _, err := q.db.ExecContext(ctx, query, job.ID, queueName, []byte(job.Data), priority, runAt); err != nil {
		return "", fmt.Errorf("enqueue to %s: %w", queueName, err)
	}
	return job.ID, nil
}

// Work registers a handler for a queue
func (q *PostgresQueue) Work(queueName string, cfg WorkConfig, handler Handler) error {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	w := pgWorker{queue: queueName, cfg: cfg, handler: handler}
	q.workers = append(q.workers, w)
	if q.started {
		// late registration joins the running loop context so Stop
		// still cancels it
		q.launch(q.loopCtx, w)
	}
	return nil
}

func (q *PostgresQueue) launch(ctx context.Context, w pgWorker) {
	q.inflight.Add(1)
	go func() {
		defer q.inflight.Done()

		ticker := time.NewTicker(w.cfg.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				q.poll(ctx, w)
			}
		}
	}()
}

// poll claims up to BatchSize due jobs and runs the handler once over them
func (q *PostgresQueue) poll(ctx context.Context, w pgWorker) {
	jobs, err := q.claim(ctx, w.queue, w.cfg.BatchSize)
	if err != nil {
		if ctx.Err() == nil {
			q.log.Error().Err(err).Str("queue", w.queue).Msg("Failed to claim jobs")
		}
		return
	}
	if len(jobs) == 0 {
		return
	}

	if err := w.handler(ctx, jobs); err != nil {
		q.log.Error().Err(err).Str("queue", w.queue).Int("jobs", len(jobs)).Msg("Job handler failed")
		q.finish(w.queue, jobs, err)
		return
	}
	q.finish(w.queue, jobs, nil)
}

func (q *PostgresQueue) claim(ctx context.Context, queueName string, batchSize int) ([]Job, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `
		SELECT id, payload FROM queue_jobs
		WHERE queue = $1 AND state = 'created' AND run_at <= now()
		ORDER BY priority DESC, created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`
	rows, err := tx.QueryContext(ctx, query, queueName, batchSize)
	if err != nil {
		return nil, err
	}

	var jobs []Job
	var ids []string
	for rows.Next() {
		var job Job
		var payload []byte
		if err := rows.Scan(&job.ID, &payload); err != nil {
			rows.Close()
			return nil, err
		}
		job.Data = payload
		jobs = append(jobs, job)
		ids = append(ids, job.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(jobs) == 0 {
		return nil, tx.Commit()
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE queue_jobs SET state = 'active', started_at = now() WHERE id = ANY($1)`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, err
	}
	return jobs, tx.Commit()
}

// finish records the single attempt's outcome. Completed jobs are deleted,
// failed ones kept with the error text for debugging. Runs outside the
// handler's context so shutdown doesn't lose bookkeeping.
func (q *PostgresQueue) finish(queueName string, jobs []Job, handlerErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}

	var err error
	if handlerErr == nil {
		_, err = q.db.ExecContext(ctx, `DELETE FROM queue_jobs WHERE id = ANY($1)`, pq.Array(ids))
	} else {
		_, err = q.db.ExecContext(ctx,
			`UPDATE queue_jobs SET state = 'failed', error = $2, finished_at = now() WHERE id = ANY($1)`,
			pq.Array(ids), handlerErr.Error(),
		)
	}
	if err != nil {
		q.log.Error().Err(err).Str("queue", queueName).Msg("Failed to record job outcome")
	}
}

// newEnvelope assigns a job ID and serializes the payload. Both engines use
// the same encoding so worker code is backend-agnostic.
func newEnvelope(payload interface{}) (Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("marshal job payload: %w", err)
	}
	return Job{ID: uuid.New().String(), Data: data}, nil
}
