package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/site-analytics-import/internal/models"
	"github.com/site-analytics-import/internal/queue"
)

// CreateQueues declares both pipeline queues. Called once at startup before
// any producer runs.
func CreateQueues(ctx context.Context, q queue.Queue) error {
	for _, name := range []string{models.CsvParseQueue, models.DataInsertQueue} {
		if err := q.CreateQueue(ctx, name); err != nil {
			return fmt.Errorf("create queue %s: %w", name, err)
		}
	}
	return nil
}

// RegisterWorkers binds both workers to their queues. Parse jobs are heavy
// and rare, so that worker polls slowly one at a time; insert jobs arrive
// in bursts and fan out across the configured concurrency.
func RegisterWorkers(q queue.Queue, parse *ParseWorker, insert *InsertWorker, insertConcurrency int) error {
	parseCfg := queue.WorkConfig{
		BatchSize:    1,
		PollInterval: 10 * time.Second,
		Concurrency:  1,
	}
	if err := q.Work(models.CsvParseQueue, parseCfg, typedHandler(parse.Handle)); err != nil {
		return fmt.Errorf("register parse worker: %w", err)
	}

	insertCfg := queue.WorkConfig{
		BatchSize:    1,
		PollInterval: 2 * time.Second,
		Concurrency:  insertConcurrency,
	}
	if err := q.Work(models.DataInsertQueue, insertCfg, typedHandler(insert.Handle)); err != nil {
		return fmt.Errorf("register insert worker: %w", err)
	}
	return nil
}

// typedHandler adapts a typed job handler to the queue's raw envelope form.
// Jobs in a batch run sequentially; the first error stops the batch.
func typedHandler[T any](handle func(ctx context.Context, job T) error) queue.Handler {
	return func(ctx context.Context, jobs []queue.Job) error {
		for _, j := range jobs {
			var payload T
			if err := json.Unmarshal(j.Data, &payload); err != nil {
				return fmt.Errorf("decode job %s: %w", j.ID, err)
			}
			if err := handle(ctx, payload); err != nil {
				return err
			}
		}
		return nil
	}
}
