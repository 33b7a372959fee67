package importer

import (
	"context"

	"github.com/site-analytics-import/internal/repository"
)

// ImportLimiter rate-limits imports to one active (pending or processing)
// import per site at a time. Terminal imports never count.
type ImportLimiter struct {
	status repository.ImportStatusRepository
}

// NewImportLimiter creates a limiter over the status repository
func NewImportLimiter(status repository.ImportStatusRepository) *ImportLimiter {
	return &ImportLimiter{status: status}
}

// CanStartImport reports whether a new import may begin for the site
func (l *ImportLimiter) CanStartImport(ctx context.Context, siteID int64) (bool, error) {
	active, err := l.status.CountActiveForSite(ctx, siteID)
	if err != nil {
		return false, err
	}
	return active == 0, nil
}
