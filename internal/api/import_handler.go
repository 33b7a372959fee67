package api

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/site-analytics-import/internal/config"
	"github.com/site-analytics-import/internal/importer"
	"github.com/site-analytics-import/internal/models"
	"github.com/site-analytics-import/internal/queue"
	"github.com/site-analytics-import/internal/repository"
	"github.com/site-analytics-import/internal/storage"
)

// maxBatchEvents bounds one synchronous batch-import request
const maxBatchEvents = 10000

// ImportHandler handles the site import endpoints
type ImportHandler struct {
	repos   *repository.Repositories
	queue   queue.Queue
	local   storage.FileStore
	remote  storage.FileStore
	quotas  importer.QuotaFactory
	limiter *importer.ImportLimiter
	auth    Authorizer
	cfg     *config.Config
	log     zerolog.Logger
}

// NewImportHandler creates a new ImportHandler. remote is nil on self-hosted
// deployments.
func NewImportHandler(repos *repository.Repositories, q queue.Queue, local, remote storage.FileStore, quotas importer.QuotaFactory, auth Authorizer, cfg *config.Config, log zerolog.Logger) *ImportHandler {
	return &ImportHandler{
		repos:   repos,
		queue:   q,
		local:   local,
		remote:  remote,
		quotas:  quotas,
		limiter: importer.NewImportLimiter(repos.ImportStatus),
		auth:    auth,
		cfg:     cfg,
		log:     log.With().Str("handler", "import").Logger(),
	}
}

// CreateImport handles POST /sites/:site/imports.
// A multipart request uploads a CSV export for background processing; a JSON
// request opens a client-streamed import fed through the batch endpoint.
func (h *ImportHandler) CreateImport(c *gin.Context) {
	ctx := c.Request.Context()

	site, ok := h.authorizedSite(c)
	if !ok {
		return
	}

	allowed, err := h.limiter.CanStartImport(ctx, site.SiteID)
	if err != nil {
		h.log.Error().Err(err).Int64("site_id", site.SiteID).Msg("Failed to count active imports")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check active imports"})
		return
	}
	if !allowed {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "an import is already in progress for this site"})
		return
	}

	if strings.HasPrefix(c.ContentType(), "application/json") {
		h.createStreamedImport(c, site)
		return
	}
	h.createUploadImport(c, site)
}

// createUploadImport stores the uploaded CSV and enqueues a parse job
func (h *ImportHandler) createUploadImport(c *gin.Context, site *models.Site) {
	ctx := c.Request.Context()

	source := c.PostForm("source")
	if source == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source parameter is required"})
		return
	}
	if _, err := importer.MapperFor(source); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("unsupported source platform, supported: %s", strings.Join(importer.Platforms(), ", ")),
		})
		return
	}

	startDate := c.PostForm("startDate")
	endDate := c.PostForm("endDate")
	if err := validateDateRange(startDate, endDate); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file upload is required"})
		return
	}
	defer file.Close()

	if header.Size > h.cfg.Import.MaxUploadSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("file too large, max size is %d MB", h.cfg.Import.MaxUploadSize/(1024*1024)),
		})
		return
	}
	if ext := strings.ToLower(filepath.Ext(header.Filename)); ext != ".csv" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only .csv files are accepted"})
		return
	}
	if ct := header.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "text/csv") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file must be text/csv"})
		return
	}

	importID := uuid.New().String()
	location := fmt.Sprintf("imports/%s/%s", importID, filepath.Base(header.Filename))
	remote := h.cfg.IsCloud()

	status := &models.ImportStatus{
		ImportID:        importID,
		SiteID:          site.SiteID,
		OrganizationID:  site.OrganizationID,
		SourcePlatform:  source,
		Status:          models.ImportStatePending,
		FileName:        header.Filename,
		StorageLocation: location,
		RemoteStorage:   remote,
	}
	if err := h.repos.ImportStatus.Create(ctx, status); err != nil {
		h.log.Error().Err(err).Msg("Failed to create import record")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create import"})
		return
	}

	if err := h.store(remote).Save(ctx, location, file, header.Size); err != nil {
		h.log.Error().Err(err).Str("import_id", importID).Msg("Failed to store import file")
		h.failImport(ctx, importID, "Failed to store uploaded file")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store file"})
		return
	}

	job := models.CsvParseJob{
		SiteID:          site.SiteID,
		ImportID:        importID,
		SourcePlatform:  source,
		StorageLocation: location,
		RemoteStorage:   remote,
		OrganizationID:  site.OrganizationID,
		StartDate:       startDate,
		EndDate:         endDate,
	}
	if _, err := h.queue.Send(ctx, models.CsvParseQueue, job, nil); err != nil {
		h.log.Error().Err(err).Str("import_id", importID).Msg("Failed to enqueue parse job")
		h.failImport(ctx, importID, "Failed to schedule import")
		if derr := h.store(remote).Delete(ctx, location); derr != nil {
			h.log.Error().Err(derr).Str("location", location).Msg("Failed to delete orphaned import file")
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to schedule import"})
		return
	}

	h.log.Info().
		Str("import_id", importID).
		Int64("site_id", site.SiteID).
		Str("source", source).
		Msg("Import accepted")
	c.JSON(http.StatusAccepted, gin.H{
		"importId": importID,
		"message":  "Import accepted and queued for processing",
	})
}

// createStreamedImport opens an import whose events arrive through the batch
// endpoint. The response tells the client which dates its plan can accept so
// it can filter before sending.
func (h *ImportHandler) createStreamedImport(c *gin.Context, site *models.Site) {
	ctx := c.Request.Context()

	var req struct {
		Source string `json:"source"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Source != "" {
		if _, err := importer.MapperFor(req.Source); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("unsupported source platform, supported: %s", strings.Join(importer.Platforms(), ", ")),
			})
			return
		}
	}

	tracker, err := h.quotas(ctx, site.OrganizationID)
	if err != nil {
		h.log.Error().Err(err).Str("organization_id", site.OrganizationID).Msg("Failed to open quota session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check import quota"})
		return
	}
	earliest, latest := tracker.AllowedDateRange(time.Now())

	importID := uuid.New().String()
	status := &models.ImportStatus{
		ImportID:       importID,
		SiteID:         site.SiteID,
		OrganizationID: site.OrganizationID,
		SourcePlatform: req.Source,
		Status:         models.ImportStatePending,
	}
	if err := h.repos.ImportStatus.Create(ctx, status); err != nil {
		h.log.Error().Err(err).Msg("Failed to create import record")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create import"})
		return
	}

	h.log.Info().Str("import_id", importID).Int64("site_id", site.SiteID).Msg("Streamed import opened")
	c.JSON(http.StatusCreated, gin.H{
		"importId": importID,
		"allowedDateRange": gin.H{
			"earliestAllowedDate": earliest,
			"latestAllowedDate":   latest,
		},
	})
}

// BatchImportEvents handles POST /sites/:site/imports/:importId/events.
// Events are transformed, quota-filtered, and inserted synchronously; the
// final batch carries isLastBatch to complete the import.
func (h *ImportHandler) BatchImportEvents(c *gin.Context) {
	ctx := c.Request.Context()

	site, ok := h.authorizedSite(c)
	if !ok {
		return
	}

	var req struct {
		Events      []models.RawRow `json:"events"`
		IsLastBatch bool            `json:"isLastBatch"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(req.Events) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "events must not be empty"})
		return
	}
	if len(req.Events) > maxBatchEvents {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("batch exceeds %d events", maxBatchEvents)})
		return
	}

	importID := c.Param("importId")
	record, err := h.repos.ImportStatus.GetByID(ctx, importID)
	if err != nil {
		h.log.Error().Err(err).Str("import_id", importID).Msg("Failed to load import")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load import"})
		return
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "import not found"})
		return
	}
	if record.SiteID != site.SiteID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "import does not belong to this site"})
		return
	}
	if record.Status.Terminal() {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("import is already %s", record.Status)})
		return
	}

	if record.Status == models.ImportStatePending {
		if _, err := h.repos.ImportStatus.SetStatus(ctx, importID, models.ImportStateProcessing, ""); err != nil {
			h.log.Error().Err(err).Str("import_id", importID).Msg("Failed to mark import processing")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update import"})
			return
		}
	}

	platform := record.SourcePlatform
	if platform == "" {
		detected, found := importer.DetectPlatform(req.Events[0])
		if !found {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not detect source platform from events"})
			return
		}
		platform = detected
		if err := h.repos.ImportStatus.SetPlatform(ctx, importID, platform); err != nil {
			h.log.Warn().Err(err).Str("import_id", importID).Msg("Failed to record detected platform")
		}
	}
	mapper, err := importer.MapperFor(platform)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tracker, err := h.quotas(ctx, site.OrganizationID)
	if err != nil {
		h.log.Error().Err(err).Str("organization_id", site.OrganizationID).Msg("Failed to open quota session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check import quota"})
		return
	}

	events := mapper.Transform(req.Events, site.SiteID, importID)
	if invalid := int64(len(req.Events) - len(events)); invalid > 0 {
		if err := h.repos.ImportStatus.AddInvalid(ctx, importID, invalid); err != nil {
			h.log.Warn().Err(err).Str("import_id", importID).Msg("Failed to record invalid-row count")
		}
	}

	admitted := events[:0]
	for _, e := range events {
		if tracker.CanImportEvent(e.Timestamp) {
			admitted = append(admitted, e)
		}
	}
	if skipped := int64(len(events) - len(admitted)); skipped > 0 {
		if err := h.repos.ImportStatus.AddSkipped(ctx, importID, skipped); err != nil {
			h.log.Warn().Err(err).Str("import_id", importID).Msg("Failed to record skipped-event count")
		}
	}

	if len(admitted) == 0 {
		summary := tracker.Summary()
		message := fmt.Sprintf(
			"No events in this batch fit your plan: %d of %d importable months are at capacity.",
			summary.MonthsAtCapacity, summary.TotalMonthsInWindow,
		)
		if req.IsLastBatch {
			h.completeImport(ctx, importID)
		}
		c.JSON(http.StatusOK, gin.H{
			"importedEventCount": 0,
			"quotaExceeded":      true,
			"message":            message,
		})
		return
	}

	inserted, err := h.repos.Event.BatchInsert(ctx, admitted)
	if err != nil {
		h.log.Error().Err(err).Str("import_id", importID).Msg("Batch insert failed")
		h.failImport(ctx, importID, fmt.Sprintf("Data insertion failed: %v", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to insert events"})
		return
	}
	if err := h.repos.ImportStatus.AddProgress(ctx, importID, int64(inserted)); err != nil {
		h.log.Warn().Err(err).Str("import_id", importID).Msg("Events inserted but progress update failed")
	}

	if req.IsLastBatch {
		h.completeImport(ctx, importID)
	}

	c.JSON(http.StatusOK, gin.H{
		"importedEventCount": inserted,
		"quotaExceeded":      len(admitted) < len(events),
	})
}

// ListImports handles GET /sites/:site/imports
func (h *ImportHandler) ListImports(c *gin.Context) {
	ctx := c.Request.Context()

	site, ok := h.authorizedSite(c)
	if !ok {
		return
	}

	imports, err := h.repos.ImportStatus.ListBySite(ctx, site.SiteID)
	if err != nil {
		h.log.Error().Err(err).Int64("site_id", site.SiteID).Msg("Failed to list imports")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list imports"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"imports": imports})
}

// DeleteImport handles DELETE /sites/:site/imports/:importId. The stored
// file, if any remains, is removed along with the record.
func (h *ImportHandler) DeleteImport(c *gin.Context) {
	ctx := c.Request.Context()

	site, ok := h.authorizedSite(c)
	if !ok {
		return
	}

	importID := c.Param("importId")
	record, err := h.repos.ImportStatus.GetByID(ctx, importID)
	if err != nil {
		h.log.Error().Err(err).Str("import_id", importID).Msg("Failed to load import")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load import"})
		return
	}
	if record == nil || record.SiteID != site.SiteID {
		c.JSON(http.StatusNotFound, gin.H{"error": "import not found"})
		return
	}

	if record.StorageLocation != "" {
		if err := h.store(record.RemoteStorage).Delete(ctx, record.StorageLocation); err != nil {
			h.log.Error().Err(err).Str("import_id", importID).Msg("Failed to delete import file")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete import file"})
			return
		}
	}

	if err := h.repos.ImportStatus.Delete(ctx, importID); err != nil {
		h.log.Error().Err(err).Str("import_id", importID).Msg("Failed to delete import")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete import"})
		return
	}

	h.log.Info().Str("import_id", importID).Int64("site_id", site.SiteID).Msg("Import deleted")
	c.Status(http.StatusNoContent)
}

// authorizedSite resolves the :site parameter and checks admin access.
// It writes the error response itself when it returns false.
func (h *ImportHandler) authorizedSite(c *gin.Context) (*models.Site, bool) {
	ctx := c.Request.Context()

	siteID, err := strconv.ParseInt(c.Param("site"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid site id"})
		return nil, false
	}

	site, err := h.repos.Site.GetByID(ctx, siteID)
	if err != nil {
		h.log.Error().Err(err).Int64("site_id", siteID).Msg("Failed to load site")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load site"})
		return nil, false
	}
	if site == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "site not found"})
		return nil, false
	}

	granted, err := h.auth.HasAdminAccess(ctx, bearerToken(c), site)
	if err != nil {
		h.log.Error().Err(err).Int64("site_id", siteID).Msg("Authorization check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "authorization check failed"})
		return nil, false
	}
	if !granted {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin access required"})
		return nil, false
	}
	return site, true
}

func (h *ImportHandler) store(remote bool) storage.FileStore {
	if remote {
		return h.remote
	}
	return h.local
}

// failImport is best-effort; the response code already tells the client
func (h *ImportHandler) failImport(ctx context.Context, importID, message string) {
	if _, err := h.repos.ImportStatus.SetStatus(ctx, importID, models.ImportStateFailed, message); err != nil {
		h.log.Error().Err(err).Str("import_id", importID).Msg("Failed to mark import failed")
	}
}

// completeImport closes out a client-streamed import after its last batch
func (h *ImportHandler) completeImport(ctx context.Context, importID string) {
	record, err := h.repos.ImportStatus.GetByID(ctx, importID)
	if err != nil || record == nil {
		h.log.Error().Err(err).Str("import_id", importID).Msg("Failed to reload import for completion")
		return
	}
	message := importer.CompletionMessage(record.SkippedEvents, record.InvalidEvents)
	if _, err := h.repos.ImportStatus.SetStatus(ctx, importID, models.ImportStateCompleted, message); err != nil {
		h.log.Error().Err(err).Str("import_id", importID).Msg("Failed to mark import completed")
	}
}

// validateDateRange checks the optional import window. Either bound may be
// given alone; when both are present they must be ordered, and the lower
// bound may not lie in the future.
func validateDateRange(startDate, endDate string) error {
	var start, end time.Time
	var err error
	if startDate != "" {
		if start, err = time.ParseInLocation("2006-01-02", startDate, time.UTC); err != nil {
			return fmt.Errorf("startDate must be yyyy-MM-dd")
		}
		today := time.Now().UTC().Truncate(24 * time.Hour)
		if start.After(today) {
			return fmt.Errorf("startDate must not be in the future")
		}
	}
	if endDate != "" {
		if end, err = time.ParseInLocation("2006-01-02", endDate, time.UTC); err != nil {
			return fmt.Errorf("endDate must be yyyy-MM-dd")
		}
	}
	if startDate != "" && endDate != "" && end.Before(start) {
		return fmt.Errorf("endDate must not be before startDate")
	}
	return nil
}
