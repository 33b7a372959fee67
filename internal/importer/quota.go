package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/site-analytics-import/internal/models"
	"github.com/site-analytics-import/internal/repository"
)

// monthKeyLayout identifies one calendar-month bucket
const monthKeyLayout = "2006-01"

// QuotaTracker answers how many more events an organization may import into
// each historical month without exceeding its plan. Usage is snapshotted at
// construction and decremented in memory as events are admitted, so one
// tracker is one check-session: it is never shared across imports, and two
// concurrent sessions for the same organization can jointly overshoot. That
// race is accepted; imports are rate-limited to one per site.
type QuotaTracker struct {
	organizationID string
	months         map[string]*monthBucket
	windowStart    time.Time
	totalMonths    int
}

type monthBucket struct {
	remaining int64
}

// QuotaSummary feeds user-facing messages when a whole batch is rejected
type QuotaSummary struct {
	TotalMonthsInWindow int
	MonthsAtCapacity    int
}

// QuotaFactory opens a fresh quota-check session for an organization
type QuotaFactory func(ctx context.Context, organizationID string) (*QuotaTracker, error)

// NewQuotaFactory binds a QuotaFactory to the live repositories
func NewQuotaFactory(orgs repository.OrganizationRepository, events repository.EventRepository, log zerolog.Logger) QuotaFactory {
	return func(ctx context.Context, organizationID string) (*QuotaTracker, error) {
		return NewQuotaTracker(ctx, organizationID, orgs, events, time.Now().UTC(), log)
	}
}

// NewQuotaTracker loads the organization's subscription and its current
// usage for every calendar month in the tier's retention window, ending at
// the month containing now.
func NewQuotaTracker(ctx context.Context, organizationID string, orgs repository.OrganizationRepository, events repository.EventRepository, now time.Time, log zerolog.Logger) (*QuotaTracker, error) {
	sub, err := orgs.GetSubscription(ctx, organizationID)
	if err != nil {
		return nil, fmt.Errorf("load subscription for %s: %w", organizationID, err)
	}
	if sub == nil {
		return nil, fmt.Errorf("organization %s has no subscription", organizationID)
	}

	tier, known := models.GetTierInfo(sub.PlanName)
	if !known {
		log.Warn().
			Str("organization_id", organizationID).
			Str("plan", sub.PlanName).
			Msg("Unknown plan name, defaulting to Free tier")
	}

	now = now.UTC()
	currentMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	windowStart := currentMonth.AddDate(0, -(tier.MonthsAllowed - 1), 0)

	usage, err := events.MonthlyCounts(ctx, organizationID, windowStart)
	if err != nil {
		return nil, fmt.Errorf("load monthly usage for %s: %w", organizationID, err)
	}

	months := make(map[string]*monthBucket, tier.MonthsAllowed)
	for m := windowStart; !m.After(currentMonth); m = m.AddDate(0, 1, 0) {
		key := m.Format(monthKeyLayout)
		remaining := sub.EventLimit - usage[key]
		if remaining < 0 {
			remaining = 0
		}
		months[key] = &monthBucket{remaining: remaining}
	}

	return &QuotaTracker{
		organizationID: organizationID,
		months:         months,
		windowStart:    windowStart,
		totalMonths:    tier.MonthsAllowed,
	}, nil
}

// CanImportEvent reports whether an event with the given timestamp may be
// imported, and tentatively consumes one slot from its month when it may.
// Admission is greedy in presentation order. Timestamps outside the window
// are rejected: too old for the tier, or in the future relative to the
// session's construction time.
func (t *QuotaTracker) CanImportEvent(ts time.Time) bool {
	bucket, ok := t.months[ts.UTC().Format(monthKeyLayout)]
	if !ok {
		return false
	}
	if bucket.remaining <= 0 {
		return false
	}
	bucket.remaining--
	return true
}

// TotalRemaining sums the remaining allowance across the whole window. The
// parse worker uses it both as an up-front precheck and as the hard cutoff
// on how many rows it will buffer.
func (t *QuotaTracker) TotalRemaining() int64 {
	var total int64
	for _, b := range t.months {
		total += b.remaining
	}
	return total
}

// Summary describes the window for user-facing rejection messages
func (t *QuotaTracker) Summary() QuotaSummary {
	s := QuotaSummary{TotalMonthsInWindow: t.totalMonths}
	for _, b := range t.months {
		if b.remaining <= 0 {
			s.MonthsAtCapacity++
		}
	}
	return s
}

// AllowedDateRange returns the earliest and latest dates (inclusive,
// yyyy-MM-dd) a client-streamed import may cover, for pre-filtering in the
// client before rows ever reach the batch endpoint.
func (t *QuotaTracker) AllowedDateRange(now time.Time) (earliest, latest string) {
	return t.windowStart.Format(dateLayout), now.UTC().Format(dateLayout)
}
