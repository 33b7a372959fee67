package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/site-analytics-import/internal/models"
	"github.com/site-analytics-import/internal/queue"
	"github.com/site-analytics-import/internal/repository"
	"github.com/site-analytics-import/internal/storage"
)

const dateLayout = "2006-01-02"

// DefaultChunkSize is how many rows each data-insert job carries
const DefaultChunkSize = 5000

// ParseWorker consumes csv-parse jobs. For each one it streams the stored
// export, filters rows by date range and quota, and fans eligible rows out
// to the data-insert queue in fixed-size chunks followed by a finalize
// signal. It never writes events itself.
type ParseWorker struct {
	queue     queue.Queue
	status    repository.ImportStatusRepository
	quotas    QuotaFactory
	local     storage.FileStore
	remote    storage.FileStore
	chunkSize int
	log       zerolog.Logger
}

// NewParseWorker wires the parse worker. remote may be nil on self-hosted
// deployments, where every job carries isRemoteStorage=false.
func NewParseWorker(q queue.Queue, status repository.ImportStatusRepository, quotas QuotaFactory, local, remote storage.FileStore, chunkSize int, log zerolog.Logger) *ParseWorker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ParseWorker{
		queue:     q,
		status:    status,
		quotas:    quotas,
		local:     local,
		remote:    remote,
		chunkSize: chunkSize,
		log:       log.With().Str("component", "parse-worker").Logger(),
	}
}

// Handle processes one csv-parse job. Any error marks the import failed and
// propagates to the queue; the uploaded file is removed on every path,
// success or failure.
func (w *ParseWorker) Handle(ctx context.Context, job models.CsvParseJob) (err error) {
	log := w.log.With().Str("import_id", job.ImportID).Int64("site_id", job.SiteID).Logger()

	defer w.cleanup(job, log)
	defer func() {
		if err != nil {
			w.markFailed(job.ImportID, err.Error(), log)
		}
	}()

	tracker, err := w.quotas(ctx, job.OrganizationID)
	if err != nil {
		return fmt.Errorf("open quota session: %w", err)
	}

	remaining := tracker.TotalRemaining()
	if remaining <= 0 {
		log.Info().Msg("No importable events remain for organization, failing import without reading file")
		w.markFailed(job.ImportID, "Event import limit exceeded for the current billing period", log)
		return nil
	}

	mapper, err := MapperFor(job.SourcePlatform)
	if err != nil {
		return err
	}

	filter, err := newDateRangeFilter(job.StartDate, job.EndDate)
	if err != nil {
		return fmt.Errorf("invalid date range: %w", err)
	}

	stream, err := w.store(job.RemoteStorage).Open(ctx, job.StorageLocation)
	if err != nil {
		return fmt.Errorf("open import file: %w", err)
	}
	defer stream.Close()

	if ok, serr := w.status.SetStatus(ctx, job.ImportID, models.ImportStateProcessing, ""); serr != nil {
		return fmt.Errorf("mark import processing: %w", serr)
	} else if !ok {
		log.Warn().Msg("Import no longer pending, skipping")
		return nil
	}

	chunksSent, buffered, err := w.streamChunks(ctx, job, mapper, filter, stream, remaining)
	if err != nil {
		return err
	}

	finalize := models.DataInsertJob{
		SiteID:         job.SiteID,
		ImportID:       job.ImportID,
		SourcePlatform: job.SourcePlatform,
		TotalChunks:    chunksSent,
		AllChunksSent:  true,
	}
	if _, err := w.queue.Send(ctx, models.DataInsertQueue, finalize, nil); err != nil {
		return fmt.Errorf("send finalize job: %w", err)
	}

	log.Info().Int("chunks", chunksSent).Int64("rows", buffered).Msg("CSV parsed and fanned out")
	return nil
}

// streamChunks reads the export row by row, skipping rows outside the date
// range and stopping hard once the organization's remaining allowance is
// buffered. Rows past the cutoff are never read.
func (w *ParseWorker) streamChunks(ctx context.Context, job models.CsvParseJob, mapper Mapper, filter dateRangeFilter, stream io.Reader, remaining int64) (chunksSent int, buffered int64, err error) {
	reader := csv.NewReader(stream)
	reader.FieldsPerRecord = -1
	headers := mapper.Headers()

	// header row
	if _, err := reader.Read(); err != nil {
		if err == io.EOF {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("read csv header: %w", err)
	}

	chunk := make([]models.RawRow, 0, w.chunkSize)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		chunksSent++
		payload := models.DataInsertJob{
			SiteID:         job.SiteID,
			ImportID:       job.ImportID,
			SourcePlatform: job.SourcePlatform,
			Chunk:          chunk,
			ChunkNumber:    chunksSent,
		}
		if _, err := w.queue.Send(ctx, models.DataInsertQueue, payload, nil); err != nil {
			return fmt.Errorf("send chunk %d: %w", chunksSent, err)
		}
		chunk = make([]models.RawRow, 0, w.chunkSize)
		return nil
	}

	for {
		record, rerr := reader.Read()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return chunksSent, buffered, fmt.Errorf("read csv row: %w", rerr)
		}

		// rows without a parseable timestamp can never be imported, so they
		// must not consume the allowance either
		row := rowFromRecord(headers, record)
		ts, ok := parseEventTime(row["created_at"])
		if !ok || !filter.includes(ts) {
			continue
		}

		if buffered >= remaining {
			break
		}

		chunk = append(chunk, row)
		buffered++
		if len(chunk) >= w.chunkSize {
			if err := flush(); err != nil {
				return chunksSent, buffered, err
			}
		}
	}

	if err := flush(); err != nil {
		return chunksSent, buffered, err
	}
	return chunksSent, buffered, nil
}

func (w *ParseWorker) store(remote bool) storage.FileStore {
	if remote {
		return w.remote
	}
	return w.local
}

// cleanup removes the uploaded file regardless of outcome. Deletion is
// idempotent so a redelivered or crashed-and-resumed job never errors here.
func (w *ParseWorker) cleanup(job models.CsvParseJob, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := w.store(job.RemoteStorage).Delete(ctx, job.StorageLocation); err != nil {
		log.Error().Err(err).Str("location", job.StorageLocation).Msg("Failed to delete import file")
	}
}

// markFailed is best-effort; the job outcome is already decided
func (w *ParseWorker) markFailed(importID, message string, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := w.status.SetStatus(ctx, importID, models.ImportStateFailed, message); err != nil {
		log.Error().Err(err).Msg("Failed to mark import failed")
	}
}

// rowFromRecord maps a positional CSV record onto the platform's column
// names. Short records leave trailing columns empty, long ones drop extras.
func rowFromRecord(headers []string, record []string) models.RawRow {
	row := make(models.RawRow, len(headers))
	for i, name := range headers {
		if i < len(record) {
			row[name] = record[i]
		} else {
			row[name] = ""
		}
	}
	return row
}

// dateRangeFilter bounds imports to an inclusive day range. Either bound may
// be absent, leaving that side open.
type dateRangeFilter struct {
	start    time.Time
	end      time.Time
	hasStart bool
	hasEnd   bool
}

func newDateRangeFilter(startDate, endDate string) (dateRangeFilter, error) {
	var f dateRangeFilter
	if startDate != "" {
		start, err := time.ParseInLocation(dateLayout, startDate, time.UTC)
		if err != nil {
			return dateRangeFilter{}, fmt.Errorf("parse start date %q: %w", startDate, err)
		}
		f.start = start
		f.hasStart = true
	}
	if endDate != "" {
		end, err := time.ParseInLocation(dateLayout, endDate, time.UTC)
		if err != nil {
			return dateRangeFilter{}, fmt.Errorf("parse end date %q: %w", endDate, err)
		}
		// end is inclusive of the whole day
		f.end = end.AddDate(0, 0, 1)
		f.hasEnd = true
	}
	return f, nil
}

func (f dateRangeFilter) includes(ts time.Time) bool {
	if f.hasStart && ts.Before(f.start) {
		return false
	}
	if f.hasEnd && !ts.Before(f.end) {
		return false
	}
	return true
}
