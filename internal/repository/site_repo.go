package repository

import (
	"context"
	"database/sql"

	"github.com/site-analytics-import/internal/database"
	"github.com/site-analytics-import/internal/models"
)

// siteRepo is the concrete implementation of SiteRepository
type siteRepo struct {
	db *database.DB
}

// NewSiteRepo creates a new site repository
func NewSiteRepo(db *database.DB) SiteRepository {
	return &siteRepo{db: db}
}

// GetByID retrieves a site by ID
func (r *siteRepo) GetByID(ctx context.Context, siteID int64) (*models.Site, error) {
	query := `SELECT site_id, organization_id, domain, admin_token FROM sites WHERE site_id = $1`

	var site models.Site
	err := r.db.QueryRowContext(ctx, query, siteID).Scan(
		&site.SiteID, &site.OrganizationID, &site.Domain, &site.AdminToken,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &site, nil
}

// organizationRepo is the concrete implementation of OrganizationRepository
type organizationRepo struct {
	db *database.DB
}

// NewOrganizationRepo creates a new organization repository
func NewOrganizationRepo(db *database.DB) OrganizationRepository {
	return &organizationRepo{db: db}
}

// GetSubscription retrieves the subscription for an organization
func (r *organizationRepo) GetSubscription(ctx context.Context, organizationID string) (*models.Subscription, error) {
	query := `SELECT organization_id, plan_name, event_limit FROM organizations WHERE organization_id = $1`

	var sub models.Subscription
	err := r.db.QueryRowContext(ctx, query, organizationID).Scan(
		&sub.OrganizationID, &sub.PlanName, &sub.EventLimit,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
