package importer_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/site-analytics-import/internal/importer"
	"github.com/site-analytics-import/internal/mocks"
	"github.com/site-analytics-import/internal/models"
)

// fixedNow anchors quota windows so test timestamps stay inside them
var fixedNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

type parseFixture struct {
	worker *importer.ParseWorker
	queue  *mocks.MockQueue
	status *mocks.MockImportStatusRepository
	files  *mocks.MockFileStore
	orgs   *mocks.MockOrganizationRepository
	events *mocks.MockEventRepository
}

func newParseFixture(t *testing.T, eventLimit int64, usage map[string]int64) *parseFixture {
	t.Helper()
	f := &parseFixture{
		queue:  mocks.NewMockQueue(),
		status: mocks.NewMockImportStatusRepository(),
		files:  mocks.NewMockFileStore(),
		orgs:   mocks.NewMockOrganizationRepository(),
		events: mocks.NewMockEventRepository(),
	}
	f.orgs.Subscriptions["org-1"] = &models.Subscription{
		OrganizationID: "org-1",
		PlanName:       "free",
		EventLimit:     eventLimit,
	}
	for k, v := range usage {
		f.events.Usage[k] = v
	}
	quotas := func(ctx context.Context, organizationID string) (*importer.QuotaTracker, error) {
		return importer.NewQuotaTracker(ctx, organizationID, f.orgs, f.events, fixedNow, zerolog.Nop())
	}
	f.worker = importer.NewParseWorker(f.queue, f.status, quotas, f.files, nil, 5000, zerolog.Nop())
	return f
}

// seedImport stores a CSV export and its pending status record
func (f *parseFixture) seedImport(t *testing.T, rows int, createdAt string) models.CsvParseJob {
	t.Helper()
	createdAts := make([]string, rows)
	for i := range createdAts {
		createdAts[i] = createdAt
	}
	return f.seedImportRows(t, createdAts)
}

// seedImportRows stores a CSV export with one row per createdAt value
func (f *parseFixture) seedImportRows(t *testing.T, createdAts []string) models.CsvParseJob {
	t.Helper()
	var sb strings.Builder
	mapper, _ := importer.MapperFor(importer.PlatformUmami)
	sb.WriteString(strings.Join(mapper.Headers(), ","))
	sb.WriteString("\n")
	for i, createdAt := range createdAts {
		record := make([]string, len(mapper.Headers()))
		for j, name := range mapper.Headers() {
			switch name {
			case "session_id":
				record[j] = fmt.Sprintf("s-%d", i)
			case "url_path":
				record[j] = "/page"
			case "event_type":
				record[j] = "1"
			case "created_at":
				record[j] = createdAt
			}
		}
		sb.WriteString(strings.Join(record, ","))
		sb.WriteString("\n")
	}

	location := "imports/imp-1/export.csv"
	f.files.Files[location] = []byte(sb.String())
	f.status.Create(context.Background(), &models.ImportStatus{
		ImportID:        "imp-1",
		SiteID:          42,
		OrganizationID:  "org-1",
		SourcePlatform:  importer.PlatformUmami,
		StorageLocation: location,
	})

	return models.CsvParseJob{
		SiteID:          42,
		ImportID:        "imp-1",
		SourcePlatform:  importer.PlatformUmami,
		StorageLocation: location,
		OrganizationID:  "org-1",
	}
}

func decodeInsertJobs(t *testing.T, q *mocks.MockQueue) []models.DataInsertJob {
	t.Helper()
	sent := q.SentTo(models.DataInsertQueue)
	jobs := make([]models.DataInsertJob, len(sent))
	for i, s := range sent {
		if err := json.Unmarshal(s.Data, &jobs[i]); err != nil {
			t.Fatalf("decode insert job %d: %v", i, err)
		}
	}
	return jobs
}

func TestParseWorker_ChunksAndFinalize(t *testing.T) {
	f := newParseFixture(t, 100000, nil)
	job := f.seedImport(t, 12000, "2024-05-01 10:00:00")

	if err := f.worker.Handle(context.Background(), job); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	jobs := decodeInsertJobs(t, f.queue)
	if len(jobs) != 4 {
		t.Fatalf("expected 3 chunks + finalize, got %d jobs", len(jobs))
	}
	wantSizes := []int{5000, 5000, 2000}
	for i, want := range wantSizes {
		if len(jobs[i].Chunk) != want {
			t.Errorf("chunk %d has %d rows, want %d", i+1, len(jobs[i].Chunk), want)
		}
		if jobs[i].ChunkNumber != i+1 {
			t.Errorf("chunk %d numbered %d", i+1, jobs[i].ChunkNumber)
		}
		if jobs[i].AllChunksSent {
			t.Errorf("chunk %d flagged as finalize", i+1)
		}
	}
	final := jobs[3]
	if !final.AllChunksSent || final.TotalChunks != 3 || len(final.Chunk) != 0 {
		t.Errorf("finalize job wrong: %+v", final)
	}

	record, _ := f.status.GetByID(context.Background(), "imp-1")
	if record.Status != models.ImportStateProcessing {
		t.Errorf("status = %s, want processing", record.Status)
	}
	if len(f.files.Files) != 0 {
		t.Error("uploaded file should be deleted after parsing")
	}
}

func TestParseWorker_QuotaCutoff(t *testing.T) {
	// Only May 2024 has allowance left: 7000 events
	usage := map[string]int64{
		"2024-01": 7000, "2024-02": 7000, "2024-03": 7000,
		"2024-04": 7000, "2024-06": 7000,
	}
	f := newParseFixture(t, 7000, usage)
	job := f.seedImport(t, 12000, "2024-05-01 10:00:00")

	if err := f.worker.Handle(context.Background(), job); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	jobs := decodeInsertJobs(t, f.queue)
	if len(jobs) != 3 {
		t.Fatalf("expected 2 chunks + finalize, got %d jobs", len(jobs))
	}
	if len(jobs[0].Chunk) != 5000 || len(jobs[1].Chunk) != 2000 {
		t.Errorf("chunk sizes %d/%d, want 5000/2000", len(jobs[0].Chunk), len(jobs[1].Chunk))
	}
	if !jobs[2].AllChunksSent || jobs[2].TotalChunks != 2 {
		t.Errorf("finalize job wrong: %+v", jobs[2])
	}
}

func TestParseWorker_NoAllowanceFailsWithoutReading(t *testing.T) {
	usage := map[string]int64{
		"2024-01": 10, "2024-02": 10, "2024-03": 10,
		"2024-04": 10, "2024-05": 10, "2024-06": 10,
	}
	f := newParseFixture(t, 10, usage)
	job := f.seedImport(t, 100, "2024-05-01 10:00:00")

	if err := f.worker.Handle(context.Background(), job); err != nil {
		t.Fatalf("Handle should not propagate a quota rejection: %v", err)
	}

	if n := len(f.queue.Sent); n != 0 {
		t.Errorf("no jobs should be sent, got %d", n)
	}
	record, _ := f.status.GetByID(context.Background(), "imp-1")
	if record.Status != models.ImportStateFailed {
		t.Errorf("status = %s, want failed", record.Status)
	}
	if len(f.files.Files) != 0 {
		t.Error("file should be deleted even when the import is rejected")
	}
}

func TestParseWorker_DateRangeFilter(t *testing.T) {
	f := newParseFixture(t, 100000, nil)
	job := f.seedImport(t, 50, "2024-03-10 08:00:00")
	job.StartDate = "2024-04-01"
	job.EndDate = "2024-04-30"

	if err := f.worker.Handle(context.Background(), job); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	jobs := decodeInsertJobs(t, f.queue)
	if len(jobs) != 1 {
		t.Fatalf("expected finalize only, got %d jobs", len(jobs))
	}
	if !jobs[0].AllChunksSent || jobs[0].TotalChunks != 0 {
		t.Errorf("finalize job wrong: %+v", jobs[0])
	}
}

func TestParseWorker_UnparseableRowsDoNotConsumeQuota(t *testing.T) {
	// Only May 2024 has allowance left: 10 events
	usage := map[string]int64{
		"2024-01": 10, "2024-02": 10, "2024-03": 10,
		"2024-04": 10, "2024-06": 10,
	}
	f := newParseFixture(t, 10, usage)

	// 10 junk rows ahead of 10 importable ones
	createdAts := make([]string, 0, 20)
	for i := 0; i < 10; i++ {
		createdAts = append(createdAts, "not-a-timestamp")
	}
	for i := 0; i < 10; i++ {
		createdAts = append(createdAts, "2024-05-01 10:00:00")
	}
	job := f.seedImportRows(t, createdAts)

	if err := f.worker.Handle(context.Background(), job); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	jobs := decodeInsertJobs(t, f.queue)
	if len(jobs) != 2 {
		t.Fatalf("expected 1 chunk + finalize, got %d jobs", len(jobs))
	}
	if len(jobs[0].Chunk) != 10 {
		t.Fatalf("chunk has %d rows, want the 10 importable ones", len(jobs[0].Chunk))
	}
	for i, row := range jobs[0].Chunk {
		if row["created_at"] != "2024-05-01 10:00:00" {
			t.Errorf("row %d is junk (%q); unparseable rows must not displace importable ones", i, row["created_at"])
		}
	}
}

func TestParseWorker_OneSidedDateRange(t *testing.T) {
	f := newParseFixture(t, 100000, nil)
	createdAts := []string{
		"2024-03-10 08:00:00",
		"2024-03-20 09:00:00",
		"2024-05-02 10:00:00",
	}
	job := f.seedImportRows(t, createdAts)
	job.EndDate = "2024-04-30"

	if err := f.worker.Handle(context.Background(), job); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	jobs := decodeInsertJobs(t, f.queue)
	if len(jobs) != 2 {
		t.Fatalf("expected 1 chunk + finalize, got %d jobs", len(jobs))
	}
	if len(jobs[0].Chunk) != 2 {
		t.Errorf("end-only bound kept %d rows, want the 2 March ones", len(jobs[0].Chunk))
	}

	// lower bound alone works the same way
	f2 := newParseFixture(t, 100000, nil)
	job2 := f2.seedImportRows(t, createdAts)
	job2.StartDate = "2024-04-01"

	if err := f2.worker.Handle(context.Background(), job2); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	jobs2 := decodeInsertJobs(t, f2.queue)
	if len(jobs2) != 2 || len(jobs2[0].Chunk) != 1 {
		t.Errorf("start-only bound kept %d jobs, want 1 chunk with the May row", len(jobs2))
	}
}

func TestParseWorker_UnknownPlatformFails(t *testing.T) {
	f := newParseFixture(t, 100000, nil)
	job := f.seedImport(t, 10, "2024-05-01 10:00:00")
	job.SourcePlatform = "clicky"

	if err := f.worker.Handle(context.Background(), job); err == nil {
		t.Fatal("expected an error for an unregistered platform")
	}

	record, _ := f.status.GetByID(context.Background(), "imp-1")
	if record.Status != models.ImportStateFailed {
		t.Errorf("status = %s, want failed", record.Status)
	}
	if len(f.files.Files) != 0 {
		t.Error("file should be deleted on failure")
	}
}

func TestParseWorker_SendFailurePropagates(t *testing.T) {
	f := newParseFixture(t, 100000, nil)
	job := f.seedImport(t, 10, "2024-05-01 10:00:00")
	f.queue.SendErr = fmt.Errorf("broker down")

	if err := f.worker.Handle(context.Background(), job); err == nil {
		t.Fatal("expected the send failure to propagate")
	}

	record, _ := f.status.GetByID(context.Background(), "imp-1")
	if record.Status != models.ImportStateFailed {
		t.Errorf("status = %s, want failed", record.Status)
	}
	if len(f.files.Files) != 0 {
		t.Error("file should be deleted on failure")
	}
}
