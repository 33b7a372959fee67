package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/site-analytics-import/internal/models"
	"github.com/site-analytics-import/internal/repository"
)

// InsertWorker consumes data-insert jobs: data chunks become batch inserts
// into the event store, and the finalize signal closes out the import.
// Event insertion is the one critical write; progress counters are
// best-effort and never fail a chunk whose events landed.
type InsertWorker struct {
	status repository.ImportStatusRepository
	events repository.EventRepository
	log    zerolog.Logger
}

// NewInsertWorker wires the insert worker
func NewInsertWorker(status repository.ImportStatusRepository, events repository.EventRepository, log zerolog.Logger) *InsertWorker {
	return &InsertWorker{
		status: status,
		events: events,
		log:    log.With().Str("component", "insert-worker").Logger(),
	}
}

// Handle processes one data-insert job
func (w *InsertWorker) Handle(ctx context.Context, job models.DataInsertJob) error {
	if job.AllChunksSent {
		return w.finalize(ctx, job)
	}
	return w.insertChunk(ctx, job)
}

// finalize marks the import completed. The completion message summarizes
// skipped and invalid counts accumulated across all chunks.
func (w *InsertWorker) finalize(ctx context.Context, job models.DataInsertJob) error {
	log := w.log.With().Str("import_id", job.ImportID).Logger()

	record, err := w.status.GetByID(ctx, job.ImportID)
	if err != nil {
		return fmt.Errorf("load import %s: %w", job.ImportID, err)
	}
	if record == nil {
		return fmt.Errorf("import %s not found", job.ImportID)
	}

	message := CompletionMessage(record.SkippedEvents, record.InvalidEvents)
	ok, err := w.status.SetStatus(ctx, job.ImportID, models.ImportStateCompleted, message)
	if err != nil {
		return fmt.Errorf("mark import completed: %w", err)
	}
	if !ok {
		log.Warn().Msg("Import already terminal, finalize is a no-op")
		return nil
	}

	log.Info().
		Int("total_chunks", job.TotalChunks).
		Int64("imported", record.ImportedEvents).
		Int64("skipped", record.SkippedEvents).
		Int64("invalid", record.InvalidEvents).
		Msg("Import completed")
	return nil
}

// insertChunk transforms and inserts one chunk. An insert failure marks the
// whole import failed and propagates; a progress-counter failure only logs.
func (w *InsertWorker) insertChunk(ctx context.Context, job models.DataInsertJob) error {
	log := w.log.With().
		Str("import_id", job.ImportID).
		Int("chunk", job.ChunkNumber).
		Logger()

	record, err := w.status.GetByID(ctx, job.ImportID)
	if err != nil {
		return fmt.Errorf("load import %s: %w", job.ImportID, err)
	}
	if record == nil {
		return fmt.Errorf("import %s not found", job.ImportID)
	}
	if record.SiteID != job.SiteID {
		err := fmt.Errorf("import %s belongs to site %d, job says %d", job.ImportID, record.SiteID, job.SiteID)
		w.markFailed(job.ImportID, "Import does not belong to the requested site", log)
		return err
	}

	mapper, err := MapperFor(job.SourcePlatform)
	if err != nil {
		w.markFailed(job.ImportID, err.Error(), log)
		return err
	}

	events := mapper.Transform(job.Chunk, job.SiteID, job.ImportID)
	if invalid := int64(len(job.Chunk) - len(events)); invalid > 0 {
		if err := w.status.AddInvalid(ctx, job.ImportID, invalid); err != nil {
			log.Warn().Err(err).Int64("invalid", invalid).Msg("Failed to record invalid-row count")
		}
	}

	if len(events) == 0 {
		log.Info().Int("rows", len(job.Chunk)).Msg("Chunk had no valid events")
		return nil
	}

	inserted, err := w.events.BatchInsert(ctx, events)
	if err != nil {
		w.markFailed(job.ImportID, fmt.Sprintf("Data insertion failed: %v", err), log)
		return fmt.Errorf("insert chunk %d: %w", job.ChunkNumber, err)
	}

	if err := w.status.AddProgress(ctx, job.ImportID, int64(inserted)); err != nil {
		log.Warn().Err(err).Int("inserted", inserted).Msg("Events inserted but progress update failed")
	}

	log.Debug().Int("inserted", inserted).Msg("Chunk inserted")
	return nil
}

func (w *InsertWorker) markFailed(importID, message string, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := w.status.SetStatus(ctx, importID, models.ImportStateFailed, message); err != nil {
		log.Error().Err(err).Msg("Failed to mark import failed")
	}
}

// CompletionMessage folds the drop counters into the user-facing status line
func CompletionMessage(skipped, invalid int64) string {
	msg := "Import completed successfully."
	if skipped > 0 {
		msg += fmt.Sprintf(" %d events were skipped because they exceeded your plan's limits.", skipped)
	}
	if invalid > 0 {
		msg += fmt.Sprintf(" %d rows could not be parsed and were ignored.", invalid)
	}
	return msg
}
