package models

import (
	"strings"
)

// Subscription describes an organization's plan as far as imports care:
// the plan name and how many events per month it allows.
type Subscription struct {
	OrganizationID string `json:"organizationId" db:"organization_id"`
	PlanName       string `json:"planName" db:"plan_name"`
	EventLimit     int64  `json:"eventLimit" db:"event_limit"`
}

// TierInfo captures how far back a plan may import historical events.
type TierInfo struct {
	Tier          string
	MonthsAllowed int
}

// GetTierInfo maps a plan name to its historical retention window. The
// second return value is false for unrecognized plans, which fall back to
// the Free tier; callers should log a warning in that case.
func GetTierInfo(planName string) (TierInfo, bool) {
	if planName == "free" {
		return TierInfo{Tier: "Free", MonthsAllowed: 6}, true
	}
	if strings.HasPrefix(planName, "standard") {
		return TierInfo{Tier: "Standard", MonthsAllowed: 24}, true
	}
	if strings.HasPrefix(planName, "pro") {
		return TierInfo{Tier: "Pro", MonthsAllowed: 60}, true
	}
	return TierInfo{Tier: "Free", MonthsAllowed: 6}, false
}
