package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/site-analytics-import/internal/database"
	"github.com/site-analytics-import/internal/models"
)

// importStatusRepo is the concrete implementation of ImportStatusRepository
type importStatusRepo struct {
	db *database.DB
}

// NewImportStatusRepo creates a new import status repository
func NewImportStatusRepo(db *database.DB) ImportStatusRepository {
	return &importStatusRepo{db: db}
}

const importStatusColumns = `import_id, site_id, organization_id, source_platform, status,
	file_name, storage_location, remote_storage, imported_events, skipped_events,
	invalid_events, message, started_at, completed_at`

// Create inserts a new pending import record
func (r *importStatusRepo) Create(ctx context.Context, status *models.ImportStatus) error {
	query := `
		INSERT INTO import_status (import_id, site_id, organization_id, source_platform, status,
			file_name, storage_location, remote_storage, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if status.StartedAt.IsZero() {
		status.StartedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, query,
		status.ImportID, status.SiteID, status.OrganizationID, nullString(status.SourcePlatform),
		status.Status, status.FileName, nullString(status.StorageLocation), status.RemoteStorage,
		status.StartedAt,
	)
	return err
}

// GetByID retrieves an import record by ID
func (r *importStatusRepo) GetByID(ctx context.Context, importID string) (*models.ImportStatus, error) {
	query := `SELECT ` + importStatusColumns + ` FROM import_status WHERE import_id = $1`
	row := r.db.QueryRowContext(ctx, query, importID)
	status, err := scanImportStatus(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return status, nil
}

// ListBySite retrieves all import records for a site, most recent first
func (r *importStatusRepo) ListBySite(ctx context.Context, siteID int64) ([]*models.ImportStatus, error) {
	query := `SELECT ` + importStatusColumns + ` FROM import_status WHERE site_id = $1 ORDER BY started_at DESC`
	rows, err := r.db.QueryContext(ctx, query, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var statuses []*models.ImportStatus
	for rows.Next() {
		status, err := scanImportStatus(rows.Scan)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, rows.Err()
}

// SetStatus transitions an import forward. The WHERE guard makes writes
// against an already-terminal record match zero rows, and pending is only
// ever set by Create, so states can never move backwards.
func (r *importStatusRepo) SetStatus(ctx context.Context, importID string, state models.ImportState, message string) (bool, error) {
	if state == models.ImportStatePending {
		return false, fmt.Errorf("import %s: cannot transition back to pending", importID)
	}

	query := `
		UPDATE import_status SET
			status = $2,
			message = COALESCE(NULLIF($3, ''), message),
			completed_at = CASE WHEN $2 IN ('completed', 'failed') THEN $4 ELSE completed_at END
		WHERE import_id = $1 AND status NOT IN ('completed', 'failed')
	`
	args := []interface{}{importID, state, message, time.Now().UTC()}
	if state == models.ImportStateProcessing {
		// processing is only reachable from pending
		query += ` AND status = 'pending'`
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// SetPlatform persists an auto-detected source platform
func (r *importStatusRepo) SetPlatform(ctx context.Context, importID, platform string) error {
	query := `UPDATE import_status SET source_platform = $2 WHERE import_id = $1 AND (source_platform IS NULL OR source_platform = '')`
	_, err := r.db.ExecContext(ctx, query, importID, platform)
	return err
}

// AddProgress atomically increments the imported-event counter. Chunks of
// one import may be processed concurrently, so this must never be a
// read-modify-write.
func (r *importStatusRepo) AddProgress(ctx context.Context, importID string, count int64) error {
	query := `UPDATE import_status SET imported_events = imported_events + $2 WHERE import_id = $1`
	_, err := r.db.ExecContext(ctx, query, importID, count)
	return err
}

// AddSkipped atomically increments the quota-skip counter
func (r *importStatusRepo) AddSkipped(ctx context.Context, importID string, count int64) error {
	query := `UPDATE import_status SET skipped_events = skipped_events + $2 WHERE import_id = $1`
	_, err := r.db.ExecContext(ctx, query, importID, count)
	return err
}

// AddInvalid atomically increments the invalid-row counter
func (r *importStatusRepo) AddInvalid(ctx context.Context, importID string, count int64) error {
	query := `UPDATE import_status SET invalid_events = invalid_events + $2 WHERE import_id = $1`
	_, err := r.db.ExecContext(ctx, query, importID, count)
	return err
}

// CountActiveForSite counts pending/processing imports for a site
func (r *importStatusRepo) CountActiveForSite(ctx context.Context, siteID int64) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM import_status WHERE site_id = $1 AND status IN ('pending', 'processing')`
	err := r.db.QueryRowContext(ctx, query, siteID).Scan(&count)
	return count, err
}

// Delete removes an import record
func (r *importStatusRepo) Delete(ctx context.Context, importID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM import_status WHERE import_id = $1`, importID)
	return err
}

// scanImportStatus reads one row regardless of whether it came from QueryRow or Rows
func scanImportStatus(scan func(dest ...interface{}) error) (*models.ImportStatus, error) {
	var status models.ImportStatus
	var platform, location, message sql.NullString
	var completedAt sql.NullTime

	err := scan(
		&status.ImportID, &status.SiteID, &status.OrganizationID, &platform, &status.Status,
		&status.FileName, &location, &status.RemoteStorage, &status.ImportedEvents,
		&status.SkippedEvents, &status.InvalidEvents, &message, &status.StartedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	status.SourcePlatform = platform.String
	status.StorageLocation = location.String
	status.Message = message.String
	if completedAt.Valid {
		status.CompletedAt = &completedAt.Time
	}
	return &status, nil
}

// helper to convert empty string to NULL
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
