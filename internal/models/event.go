package models

import (
	"time"
)

// EventTimeLayout is the timestamp format used by analytics CSV exports.
const EventTimeLayout = "2006-01-02 15:04:05"

// RawRow is one unmapped row from a source-platform export, keyed by the
// platform's column names. Only a Source Mapper may turn it into an Event.
type RawRow map[string]string

// Event is the canonical event record shared by live tracking and imports.
// Imported rows differ from live-tracked ones only in that their timestamps
// may be historical.
type Event struct {
	SiteID         int64     `json:"siteId" db:"site_id"`
	ImportID       string    `json:"importId,omitempty" db:"import_id"`
	Timestamp      time.Time `json:"timestamp" db:"timestamp"`
	SessionID      string    `json:"sessionId" db:"session_id"`
	Hostname       string    `json:"hostname" db:"hostname"`
	Browser        string    `json:"browser" db:"browser"`
	OS             string    `json:"os" db:"os"`
	Device         string    `json:"device" db:"device"`
	ScreenSize     string    `json:"screenSize" db:"screen_size"`
	Language       string    `json:"language" db:"language"`
	Country        string    `json:"country" db:"country"`
	Region         string    `json:"region" db:"region"`
	City           string    `json:"city" db:"city"`
	Path           string    `json:"path" db:"path"`
	Query          string    `json:"query" db:"query"`
	ReferrerPath   string    `json:"referrerPath" db:"referrer_path"`
	ReferrerQuery  string    `json:"referrerQuery" db:"referrer_query"`
	ReferrerDomain string    `json:"referrerDomain" db:"referrer_domain"`
	PageTitle      string    `json:"pageTitle" db:"page_title"`
	EventType      string    `json:"eventType" db:"event_type"`
	EventName      string    `json:"eventName,omitempty" db:"event_name"`
	UserID         string    `json:"userId,omitempty" db:"user_id"`
}
