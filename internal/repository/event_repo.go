package repository

import (
	"context"
	"time"

	"github.com/lib/pq"

	"github.com/site-analytics-import/internal/database"
	"github.com/site-analytics-import/internal/models"
)

// eventRepo is the concrete implementation of EventRepository
type eventRepo struct {
	db *database.DB
}

// NewEventRepo creates a new event repository
func NewEventRepo(db *database.DB) EventRepository {
	return &eventRepo{db: db}
}

// BatchInsert inserts mapped events using PostgreSQL COPY for efficiency.
// A chunk is all-or-nothing: any failure rolls the transaction back so the
// insert worker can fail the import rather than lose rows silently.
func (r *eventRepo) BatchInsert(ctx context.Context, events []*models.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("events",
		"site_id", "import_id", "timestamp", "session_id", "hostname", "browser", "os",
		"device", "screen_size", "language", "country", "region", "city", "path", "query",
		"referrer_path", "referrer_query", "referrer_domain", "page_title", "event_type",
		"event_name", "user_id",
	))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, e := range events {
		_, err := stmt.ExecContext(ctx,
			e.SiteID, e.ImportID, e.Timestamp, e.SessionID, e.Hostname, e.Browser, e.OS,
			e.Device, e.ScreenSize, e.Language, e.Country, e.Region, e.City, e.Path, e.Query,
			e.ReferrerPath, e.ReferrerQuery, e.ReferrerDomain, e.PageTitle, e.EventType,
			e.EventName, e.UserID,
		)
		if err != nil {
			return 0, err
		}
	}

	// Flush the COPY buffer
	if _, err := stmt.ExecContext(ctx); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	return len(events), nil
}

// MonthlyCounts returns the number of stored events per calendar month for
// all sites belonging to an organization, from the given instant forward.
// The quota tracker uses this as the ground-truth usage snapshot.
func (r *eventRepo) MonthlyCounts(ctx context.Context, organizationID string, from time.Time) (map[string]int64, error) {
	query := `
		SELECT to_char(date_trunc('month', e.timestamp), 'YYYY-MM') AS month, COUNT(*)
		FROM events e
		JOIN sites s ON s.site_id = e.site_id
		WHERE s.organization_id = $1 AND e.timestamp >= $2
		GROUP BY month
	`
	rows, err := r.db.QueryContext(ctx, query, organizationID, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var month string
		var count int64
		if err := rows.Scan(&month, &count); err != nil {
			return nil, err
		}
		counts[month] = count
	}
	return counts, rows.Err()
}
