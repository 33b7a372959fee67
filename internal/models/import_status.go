package models

import (
	"time"
)

// ImportState represents the lifecycle state of an import
type ImportState string

const (
	ImportStatePending    ImportState = "pending"
	ImportStateProcessing ImportState = "processing"
	ImportStateCompleted  ImportState = "completed"
	ImportStateFailed     ImportState = "failed"
)

// Terminal reports whether the state can no longer change.
func (s ImportState) Terminal() bool {
	return s == ImportStateCompleted || s == ImportStateFailed
}

// ImportStatus is the durable record of one import attempt. It is the single
// source of truth for whether an import is still active.
type ImportStatus struct {
	ImportID        string      `json:"importId" db:"import_id"`
	SiteID          int64       `json:"siteId" db:"site_id"`
	OrganizationID  string      `json:"organizationId" db:"organization_id"`
	SourcePlatform  string      `json:"sourcePlatform,omitempty" db:"source_platform"`
	Status          ImportState `json:"status" db:"status"`
	FileName        string      `json:"fileName" db:"file_name"`
	StorageLocation string      `json:"-" db:"storage_location"`
	RemoteStorage   bool        `json:"-" db:"remote_storage"`
	ImportedEvents  int64       `json:"importedEventCount" db:"imported_events"`
	SkippedEvents   int64       `json:"skippedEventCount" db:"skipped_events"`
	InvalidEvents   int64       `json:"invalidEventCount" db:"invalid_events"`
	Message         string      `json:"message,omitempty" db:"message"`
	StartedAt       time.Time   `json:"startedAt" db:"started_at"`
	CompletedAt     *time.Time  `json:"completedAt,omitempty" db:"completed_at"`
}

// Site maps a tracked site to its owning organization
type Site struct {
	SiteID         int64  `json:"siteId" db:"site_id"`
	OrganizationID string `json:"organizationId" db:"organization_id"`
	Domain         string `json:"domain" db:"domain"`
	AdminToken     string `json:"-" db:"admin_token"`
}
