package importer_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/site-analytics-import/internal/importer"
	"github.com/site-analytics-import/internal/mocks"
	"github.com/site-analytics-import/internal/models"
)

type insertFixture struct {
	worker *importer.InsertWorker
	status *mocks.MockImportStatusRepository
	events *mocks.MockEventRepository
}

func newInsertFixture(t *testing.T) *insertFixture {
	t.Helper()
	f := &insertFixture{
		status: mocks.NewMockImportStatusRepository(),
		events: mocks.NewMockEventRepository(),
	}
	f.status.Create(context.Background(), &models.ImportStatus{
		ImportID:       "imp-1",
		SiteID:         42,
		OrganizationID: "org-1",
		SourcePlatform: importer.PlatformUmami,
	})
	f.status.SetStatus(context.Background(), "imp-1", models.ImportStateProcessing, "")
	f.worker = importer.NewInsertWorker(f.status, f.events, zerolog.Nop())
	return f
}

func chunkJob(rows int) models.DataInsertJob {
	chunk := make([]models.RawRow, rows)
	for i := range chunk {
		chunk[i] = models.RawRow{
			"session_id": fmt.Sprintf("s-%d", i),
			"url_path":   "/page",
			"event_type": "1",
			"created_at": "2024-05-01 10:00:00",
		}
	}
	return models.DataInsertJob{
		SiteID:         42,
		ImportID:       "imp-1",
		SourcePlatform: importer.PlatformUmami,
		Chunk:          chunk,
		ChunkNumber:    1,
	}
}

func TestInsertWorker_InsertsChunk(t *testing.T) {
	f := newInsertFixture(t)

	if err := f.worker.Handle(context.Background(), chunkJob(100)); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if len(f.events.Inserted) != 100 {
		t.Errorf("inserted %d events, want 100", len(f.events.Inserted))
	}
	record, _ := f.status.GetByID(context.Background(), "imp-1")
	if record.ImportedEvents != 100 {
		t.Errorf("progress counter = %d, want 100", record.ImportedEvents)
	}
	if record.Status != models.ImportStateProcessing {
		t.Errorf("status = %s, want processing", record.Status)
	}
}

func TestInsertWorker_CountsInvalidRows(t *testing.T) {
	f := newInsertFixture(t)
	job := chunkJob(10)
	job.Chunk[3]["created_at"] = "garbage"
	job.Chunk[7]["created_at"] = ""

	if err := f.worker.Handle(context.Background(), job); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if len(f.events.Inserted) != 8 {
		t.Errorf("inserted %d events, want 8", len(f.events.Inserted))
	}
	record, _ := f.status.GetByID(context.Background(), "imp-1")
	if record.InvalidEvents != 2 {
		t.Errorf("invalid counter = %d, want 2", record.InvalidEvents)
	}
}

func TestInsertWorker_AllInvalidChunkSucceeds(t *testing.T) {
	f := newInsertFixture(t)
	job := chunkJob(5)
	for i := range job.Chunk {
		job.Chunk[i]["created_at"] = "garbage"
	}

	if err := f.worker.Handle(context.Background(), job); err != nil {
		t.Fatalf("an all-invalid chunk is partial data, not a failure: %v", err)
	}
	if f.events.BatchInsertCalls != 0 {
		t.Error("no insert should be attempted for an empty transform result")
	}
	record, _ := f.status.GetByID(context.Background(), "imp-1")
	if record.InvalidEvents != 5 {
		t.Errorf("invalid counter = %d, want 5", record.InvalidEvents)
	}
	if record.Status != models.ImportStateProcessing {
		t.Errorf("status = %s, want processing", record.Status)
	}
}

func TestInsertWorker_InsertFailureFailsImport(t *testing.T) {
	f := newInsertFixture(t)
	f.events.BatchInsertFunc = func(ctx context.Context, events []*models.Event) (int, error) {
		return 0, fmt.Errorf("connection reset")
	}

	if err := f.worker.Handle(context.Background(), chunkJob(10)); err == nil {
		t.Fatal("expected the insert failure to propagate")
	}

	record, _ := f.status.GetByID(context.Background(), "imp-1")
	if record.Status != models.ImportStateFailed {
		t.Errorf("status = %s, want failed", record.Status)
	}
}

func TestInsertWorker_ProgressFailureDoesNotFailChunk(t *testing.T) {
	f := newInsertFixture(t)
	f.status.AddProgressError = fmt.Errorf("counter table locked")

	if err := f.worker.Handle(context.Background(), chunkJob(10)); err != nil {
		t.Fatalf("events landed, the chunk must not fail: %v", err)
	}
	if len(f.events.Inserted) != 10 {
		t.Errorf("inserted %d events, want 10", len(f.events.Inserted))
	}
}

func TestInsertWorker_SiteMismatchFailsImport(t *testing.T) {
	f := newInsertFixture(t)
	job := chunkJob(5)
	job.SiteID = 99

	if err := f.worker.Handle(context.Background(), job); err == nil {
		t.Fatal("expected an error for a chunk addressed to the wrong site")
	}
	if len(f.events.Inserted) != 0 {
		t.Error("no events should be inserted for a mismatched site")
	}
	record, _ := f.status.GetByID(context.Background(), "imp-1")
	if record.Status != models.ImportStateFailed {
		t.Errorf("status = %s, want failed", record.Status)
	}
}

func TestInsertWorker_FinalizeCompletes(t *testing.T) {
	f := newInsertFixture(t)
	f.status.AddSkipped(context.Background(), "imp-1", 30)
	f.status.AddInvalid(context.Background(), "imp-1", 5)

	job := models.DataInsertJob{
		SiteID:        42,
		ImportID:      "imp-1",
		TotalChunks:   3,
		AllChunksSent: true,
	}
	if err := f.worker.Handle(context.Background(), job); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	record, _ := f.status.GetByID(context.Background(), "imp-1")
	if record.Status != models.ImportStateCompleted {
		t.Fatalf("status = %s, want completed", record.Status)
	}
	if record.Message == "" {
		t.Error("completion message should mention skipped and invalid counts")
	}
}

func TestInsertWorker_FinalizeAfterFailureIsNoOp(t *testing.T) {
	f := newInsertFixture(t)
	f.status.SetStatus(context.Background(), "imp-1", models.ImportStateFailed, "Data insertion failed")

	job := models.DataInsertJob{
		SiteID:        42,
		ImportID:      "imp-1",
		TotalChunks:   3,
		AllChunksSent: true,
	}
	if err := f.worker.Handle(context.Background(), job); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	record, _ := f.status.GetByID(context.Background(), "imp-1")
	if record.Status != models.ImportStateFailed {
		t.Errorf("terminal status must not change, got %s", record.Status)
	}
}
