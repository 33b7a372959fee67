package importer_test

import (
	"testing"
	"time"

	"github.com/site-analytics-import/internal/importer"
	"github.com/site-analytics-import/internal/models"
)

func umamiRow(createdAt string) models.RawRow {
	return models.RawRow{
		"website_id":  "w-1",
		"session_id":  "s-1",
		"visit_id":    "v-1",
		"hostname":    "example.com",
		"browser":     "firefox",
		"os":          "Linux",
		"device":      "desktop",
		"screen":      "1920x1080",
		"language":    "en-US",
		"country":     "DE",
		"url_path":    "/pricing",
		"url_query":   "ref=newsletter",
		"page_title":  "Pricing",
		"event_type":  "1",
		"created_at":  createdAt,
	}
}

func TestUmamiMapper_Transform(t *testing.T) {
	mapper, err := importer.MapperFor(importer.PlatformUmami)
	if err != nil {
		t.Fatalf("MapperFor failed: %v", err)
	}

	rows := []models.RawRow{
		umamiRow("2024-03-01 10:30:00"),
		umamiRow("not-a-timestamp"),
		umamiRow(""),
	}
	events := mapper.Transform(rows, 42, "imp-1")

	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.SiteID != 42 || e.ImportID != "imp-1" {
		t.Errorf("event not attributed: siteID=%d importID=%s", e.SiteID, e.ImportID)
	}
	want := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	if !e.Timestamp.Equal(want) {
		t.Errorf("timestamp = %s, want %s", e.Timestamp, want)
	}
	if e.Path != "/pricing" || e.Country != "DE" || e.ScreenSize != "1920x1080" {
		t.Errorf("columns not mapped: %+v", e)
	}
	if e.EventType != "pageview" {
		t.Errorf("eventType = %s, want pageview", e.EventType)
	}
}

func TestUmamiMapper_CustomEvents(t *testing.T) {
	mapper, _ := importer.MapperFor(importer.PlatformUmami)

	row := umamiRow("2024-03-01 10:30:00")
	row["event_type"] = "2"
	row["event_name"] = "signup-click"

	events := mapper.Transform([]models.RawRow{row}, 1, "imp-1")
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].EventType != "custom_event" || events[0].EventName != "signup-click" {
		t.Errorf("custom event not mapped: type=%s name=%s", events[0].EventType, events[0].EventName)
	}
}

func TestDetectPlatform(t *testing.T) {
	platform, ok := importer.DetectPlatform(umamiRow("2024-03-01 10:30:00"))
	if !ok || platform != importer.PlatformUmami {
		t.Errorf("DetectPlatform = (%s, %v), want (%s, true)", platform, ok, importer.PlatformUmami)
	}

	if _, ok := importer.DetectPlatform(models.RawRow{"foo": "bar"}); ok {
		t.Error("unrecognizable row should not match any platform")
	}
}

func TestMapperFor_Unknown(t *testing.T) {
	if _, err := importer.MapperFor("clicky"); err == nil {
		t.Error("expected an error for an unregistered platform")
	}
}
