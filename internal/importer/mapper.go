package importer

import (
	"fmt"
	"sort"
	"time"

	"github.com/site-analytics-import/internal/models"
)

// Mapper translates one source platform's CSV rows into events. Adding
// support for another analytics platform means implementing this and adding
// it to the registry below.
type Mapper interface {
	// Platform is the identifier clients pass as the import source
	Platform() string
	// Headers is the column layout of the platform's CSV export, in file
	// order. The parse worker maps positional records onto these names.
	Headers() []string
	// Detect reports whether a raw row looks like this platform's export,
	// used when a client-streamed import never declared its source
	Detect(row models.RawRow) bool
	// Transform converts raw rows into events for the given site and
	// import. Rows it cannot make sense of are dropped, so the returned
	// slice may be shorter than the input; the difference is the caller's
	// invalid-row count.
	Transform(rows []models.RawRow, siteID int64, importID string) []*models.Event
}

var mappers = map[string]Mapper{
	PlatformUmami: &umamiMapper{},
}

// MapperFor returns the mapper registered for a platform
func MapperFor(platform string) (Mapper, error) {
	m, ok := mappers[platform]
	if !ok {
		return nil, fmt.Errorf("unsupported source platform: %s", platform)
	}
	return m, nil
}

// DetectPlatform probes all registered mappers against a sample row
func DetectPlatform(row models.RawRow) (string, bool) {
	for _, name := range Platforms() {
		if mappers[name].Detect(row) {
			return name, true
		}
	}
	return "", false
}

// Platforms lists registered platform names in stable order
func Platforms() []string {
	names := make([]string, 0, len(mappers))
	for name := range mappers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// parseEventTime parses a source row's timestamp, always treated as UTC
func parseEventTime(value string) (time.Time, bool) {
	ts, err := time.ParseInLocation(models.EventTimeLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
