package repository

import (
	"context"
	"time"

	"github.com/site-analytics-import/internal/database"
	"github.com/site-analytics-import/internal/models"
)

// ImportStatusRepository owns all mutation of import status records. Every
// writer (handlers, parse worker, insert worker) goes through it; nothing
// touches the table directly.
type ImportStatusRepository interface {
	Create(ctx context.Context, status *models.ImportStatus) error
	GetByID(ctx context.Context, importID string) (*models.ImportStatus, error)
	ListBySite(ctx context.Context, siteID int64) ([]*models.ImportStatus, error)
	// SetStatus enforces the forward-only transition invariant. It returns
	// false when the record was already terminal (the write is a no-op).
	SetStatus(ctx context.Context, importID string, state models.ImportState, message string) (bool, error)
	SetPlatform(ctx context.Context, importID, platform string) error
	AddProgress(ctx context.Context, importID string, count int64) error
	AddSkipped(ctx context.Context, importID string, count int64) error
	AddInvalid(ctx context.Context, importID string, count int64) error
	CountActiveForSite(ctx context.Context, siteID int64) (int, error)
	Delete(ctx context.Context, importID string) error
}

// SiteRepository resolves sites to their owning organization
type SiteRepository interface {
	GetByID(ctx context.Context, siteID int64) (*models.Site, error)
}

// OrganizationRepository exposes the subscription data quota checks need
type OrganizationRepository interface {
	GetSubscription(ctx context.Context, organizationID string) (*models.Subscription, error)
}

// EventRepository is the narrow contract against the analytical event store.
// The insert client is treated as a black box by the workers.
type EventRepository interface {
	BatchInsert(ctx context.Context, events []*models.Event) (int, error)
	// MonthlyCounts returns events-per-calendar-month ("2006-01" keys) for
	// an organization from the given instant forward.
	MonthlyCounts(ctx context.Context, organizationID string, from time.Time) (map[string]int64, error)
}

// Repositories holds all repository interfaces
type Repositories struct {
	ImportStatus ImportStatusRepository
	Site         SiteRepository
	Organization OrganizationRepository
	Event        EventRepository
}

// New creates all repositories with the given database connection
func New(db *database.DB) *Repositories {
	return &Repositories{
		ImportStatus: NewImportStatusRepo(db),
		Site:         NewSiteRepo(db),
		Organization: NewOrganizationRepo(db),
		Event:        NewEventRepo(db),
	}
}
