package importer

import (
	"github.com/site-analytics-import/internal/models"
)

// PlatformUmami is the umami analytics platform identifier
const PlatformUmami = "umami"

// umamiEventType distinguishes pageviews ("1") from custom events ("2") in
// umami's export format
const umamiCustomEvent = "2"

// umamiMapper handles umami's CSV export. One row per website event, with
// created_at in "yyyy-MM-dd HH:mm:ss" UTC.
type umamiMapper struct{}

func (m *umamiMapper) Platform() string { return PlatformUmami }

func (m *umamiMapper) Headers() []string {
	return []string{
		"website_id",
		"session_id",
		"visit_id",
		"event_id",
		"hostname",
		"browser",
		"os",
		"device",
		"screen",
		"language",
		"country",
		"subdivision1",
		"city",
		"url_path",
		"url_query",
		"referrer_path",
		"referrer_query",
		"referrer_domain",
		"page_title",
		"event_type",
		"event_name",
		"created_at",
	}
}

func (m *umamiMapper) Detect(row models.RawRow) bool {
	for _, key := range []string{"session_id", "url_path", "created_at"} {
		if _, ok := row[key]; !ok {
			return false
		}
	}
	return true
}

// Transform drops rows whose created_at is missing or unparseable; every
// other column degrades to an empty value.
func (m *umamiMapper) Transform(rows []models.RawRow, siteID int64, importID string) []*models.Event {
	events := make([]*models.Event, 0, len(rows))
	for _, row := range rows {
		ts, ok := parseEventTime(row["created_at"])
		if !ok {
			continue
		}

		eventType := "pageview"
		if row["event_type"] == umamiCustomEvent {
			eventType = "custom_event"
		}

		events = append(events, &models.Event{
			SiteID:         siteID,
			ImportID:       importID,
			Timestamp:      ts,
			SessionID:      row["session_id"],
			Hostname:       row["hostname"],
			Browser:        row["browser"],
			OS:             row["os"],
			Device:         row["device"],
			ScreenSize:     row["screen"],
			Language:       row["language"],
			Country:        row["country"],
			Region:         row["subdivision1"],
			City:           row["city"],
			Path:           row["url_path"],
			Query:          row["url_query"],
			ReferrerPath:   row["referrer_path"],
			ReferrerQuery:  row["referrer_query"],
			ReferrerDomain: row["referrer_domain"],
			PageTitle:      row["page_title"],
			EventType:      eventType,
			EventName:      row["event_name"],
			UserID:         row["visit_id"],
		})
	}
	return events
}
