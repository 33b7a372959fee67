package importer_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/site-analytics-import/internal/importer"
	"github.com/site-analytics-import/internal/mocks"
	"github.com/site-analytics-import/internal/models"
)

func newTracker(t *testing.T, plan string, limit int64, usage map[string]int64, now time.Time) *importer.QuotaTracker {
	t.Helper()
	orgs := mocks.NewMockOrganizationRepository()
	orgs.Subscriptions["org-1"] = &models.Subscription{
		OrganizationID: "org-1",
		PlanName:       plan,
		EventLimit:     limit,
	}
	events := mocks.NewMockEventRepository()
	for k, v := range usage {
		events.Usage[k] = v
	}
	tracker, err := importer.NewQuotaTracker(context.Background(), "org-1", orgs, events, now, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewQuotaTracker failed: %v", err)
	}
	return tracker
}

func TestQuotaTracker_WindowBounds(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	tracker := newTracker(t, "free", 100, nil, now)

	// Free tier: January through June 2024
	cases := []struct {
		ts      time.Time
		allowed bool
	}{
		{time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{time.Date(2024, 6, 30, 23, 59, 59, 0, time.UTC), true},
		{time.Date(2023, 12, 31, 23, 59, 59, 0, time.UTC), false},
		{time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), false},
	}
	for _, tc := range cases {
		if got := tracker.CanImportEvent(tc.ts); got != tc.allowed {
			t.Errorf("CanImportEvent(%s) = %v, want %v", tc.ts, got, tc.allowed)
		}
	}
}

func TestQuotaTracker_PerMonthBudget(t *testing.T) {
	now := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	tracker := newTracker(t, "free", 2, map[string]int64{"2024-05": 1}, now)

	may := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	if !tracker.CanImportEvent(may) {
		t.Fatal("first May event should fit the remaining allowance")
	}
	if tracker.CanImportEvent(may) {
		t.Error("second May event should be rejected, month is at capacity")
	}
	// Other months are unaffected
	if !tracker.CanImportEvent(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Error("April should still have its full allowance")
	}
}

func TestQuotaTracker_TotalRemaining(t *testing.T) {
	now := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	tracker := newTracker(t, "free", 10, map[string]int64{
		"2024-06": 4,
		"2024-05": 12, // over limit, clamps to zero
	}, now)

	// 6 months x 10, minus 4 used in June, minus all of May
	if got := tracker.TotalRemaining(); got != 36 {
		t.Errorf("TotalRemaining() = %d, want 36", got)
	}

	summary := tracker.Summary()
	if summary.TotalMonthsInWindow != 6 {
		t.Errorf("TotalMonthsInWindow = %d, want 6", summary.TotalMonthsInWindow)
	}
	if summary.MonthsAtCapacity != 1 {
		t.Errorf("MonthsAtCapacity = %d, want 1", summary.MonthsAtCapacity)
	}
}

func TestQuotaTracker_TierWindows(t *testing.T) {
	now := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		plan   string
		months int
	}{
		{"free", 6},
		{"standard-monthly", 24},
		{"pro-yearly", 60},
		{"mystery-plan", 6}, // unknown plans fall back to Free
	}
	for _, tc := range cases {
		tracker := newTracker(t, tc.plan, 1, nil, now)
		if got := tracker.Summary().TotalMonthsInWindow; got != tc.months {
			t.Errorf("plan %s: window = %d months, want %d", tc.plan, got, tc.months)
		}
	}
}

func TestQuotaTracker_MissingSubscription(t *testing.T) {
	orgs := mocks.NewMockOrganizationRepository()
	events := mocks.NewMockEventRepository()
	_, err := importer.NewQuotaTracker(context.Background(), "nobody", orgs, events, time.Now(), zerolog.Nop())
	if err == nil {
		t.Fatal("expected an error for an organization without a subscription")
	}
}

func TestQuotaTracker_AllowedDateRange(t *testing.T) {
	now := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	tracker := newTracker(t, "free", 10, nil, now)

	earliest, latest := tracker.AllowedDateRange(now)
	if earliest != "2024-01-01" {
		t.Errorf("earliest = %s, want 2024-01-01", earliest)
	}
	if latest != "2024-06-15" {
		t.Errorf("latest = %s, want 2024-06-15", latest)
	}
}
