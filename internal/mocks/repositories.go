package mocks

import (
	"context"
	"fmt"
	"time"

	"github.com/site-analytics-import/internal/models"
)

// MockImportStatusRepository is a mock implementation of ImportStatusRepository.
// It enforces the same forward-only transition rules as the real repository so
// worker tests exercise terminal-state behavior.
type MockImportStatusRepository struct {
	Records map[string]*models.ImportStatus

	SetStatusError   error
	AddProgressError error
	AddInvalidError  error
	CreateError      error
	Transitions      []string
}

func NewMockImportStatusRepository() *MockImportStatusRepository {
	return &MockImportStatusRepository{
		Records: make(map[string]*models.ImportStatus),
	}
}

func (m *MockImportStatusRepository) Create(ctx context.Context, status *models.ImportStatus) error {
	if m.CreateError != nil {
		return m.CreateError
	}
	cp := *status
	if cp.Status == "" {
		cp.Status = models.ImportStatePending
	}
	cp.StartedAt = time.Now().UTC()
	m.Records[cp.ImportID] = &cp
	return nil
}

func (m *MockImportStatusRepository) GetByID(ctx context.Context, importID string) (*models.ImportStatus, error) {
	r, ok := m.Records[importID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *MockImportStatusRepository) ListBySite(ctx context.Context, siteID int64) ([]*models.ImportStatus, error) {
	var out []*models.ImportStatus
	for _, r := range m.Records {
		if r.SiteID == siteID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockImportStatusRepository) SetStatus(ctx context.Context, importID string, state models.ImportState, message string) (bool, error) {
	if m.SetStatusError != nil {
		return false, m.SetStatusError
	}
	if state == models.ImportStatePending {
		return false, fmt.Errorf("cannot transition back to pending")
	}
	r, ok := m.Records[importID]
	if !ok {
		return false, nil
	}
	if r.Status.Terminal() {
		return false, nil
	}
	if state == models.ImportStateProcessing && r.Status != models.ImportStatePending {
		return false, nil
	}
	r.Status = state
	if message != "" {
		r.Message = message
	}
	if state.Terminal() {
		now := time.Now().UTC()
		r.CompletedAt = &now
	}
	m.Transitions = append(m.Transitions, importID+":"+string(state))
	return true, nil
}

func (m *MockImportStatusRepository) SetPlatform(ctx context.Context, importID, platform string) error {
	if r, ok := m.Records[importID]; ok {
		r.SourcePlatform = platform
	}
	return nil
}

func (m *MockImportStatusRepository) AddProgress(ctx context.Context, importID string, count int64) error {
	if m.AddProgressError != nil {
		return m.AddProgressError
	}
	if r, ok := m.Records[importID]; ok {
		r.ImportedEvents += count
	}
	return nil
}

func (m *MockImportStatusRepository) AddSkipped(ctx context.Context, importID string, count int64) error {
	if r, ok := m.Records[importID]; ok {
		r.SkippedEvents += count
	}
	return nil
}

func (m *MockImportStatusRepository) AddInvalid(ctx context.Context, importID string, count int64) error {
	if m.AddInvalidError != nil {
		return m.AddInvalidError
	}
	if r, ok := m.Records[importID]; ok {
		r.InvalidEvents += count
	}
	return nil
}

func (m *MockImportStatusRepository) CountActiveForSite(ctx context.Context, siteID int64) (int, error) {
	count := 0
	for _, r := range m.Records {
		if r.SiteID == siteID && !r.Status.Terminal() {
			count++
		}
	}
	return count, nil
}

func (m *MockImportStatusRepository) Delete(ctx context.Context, importID string) error {
	delete(m.Records, importID)
	return nil
}

// MockSiteRepository is a mock implementation of SiteRepository
type MockSiteRepository struct {
	Sites map[int64]*models.Site
}

func NewMockSiteRepository() *MockSiteRepository {
	return &MockSiteRepository{Sites: make(map[int64]*models.Site)}
}

func (m *MockSiteRepository) GetByID(ctx context.Context, siteID int64) (*models.Site, error) {
	return m.Sites[siteID], nil
}

// MockOrganizationRepository is a mock implementation of OrganizationRepository
type MockOrganizationRepository struct {
	Subscriptions map[string]*models.Subscription
	GetError      error
}

func NewMockOrganizationRepository() *MockOrganizationRepository {
	return &MockOrganizationRepository{Subscriptions: make(map[string]*models.Subscription)}
}

func (m *MockOrganizationRepository) GetSubscription(ctx context.Context, organizationID string) (*models.Subscription, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	return m.Subscriptions[organizationID], nil
}

// MockEventRepository is a mock implementation of EventRepository
type MockEventRepository struct {
	Inserted         []*models.Event
	Usage            map[string]int64
	BatchInsertFunc  func(ctx context.Context, events []*models.Event) (int, error)
	BatchInsertCalls int
	MonthlyError     error
}

func NewMockEventRepository() *MockEventRepository {
	return &MockEventRepository{Usage: make(map[string]int64)}
}

func (m *MockEventRepository) BatchInsert(ctx context.Context, events []*models.Event) (int, error) {
	m.BatchInsertCalls++
	if m.BatchInsertFunc != nil {
		return m.BatchInsertFunc(ctx, events)
	}
	m.Inserted = append(m.Inserted, events...)
	return len(events), nil
}

func (m *MockEventRepository) MonthlyCounts(ctx context.Context, organizationID string, from time.Time) (map[string]int64, error) {
	if m.MonthlyError != nil {
		return nil, m.MonthlyError
	}
	out := make(map[string]int64, len(m.Usage))
	for k, v := range m.Usage {
		out[k] = v
	}
	return out, nil
}
