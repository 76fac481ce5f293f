// Package features turns verified events into the fixed classifier schema.
package features

import (
	"strings"

	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/models"
)

// SeverityLocationRisk maps a verdict severity to the scan-location risk.
var SeverityLocationRisk = map[models.Severity]float64{
	models.SeverityCritical: 1.0,
	models.SeverityHigh:     0.8,
	models.SeverityMedium:   0.5,
	models.SeverityLow:      0.3,
	models.SeverityNone:     0.1,
}

// HighTheftCategories contains category markers for goods that are stolen
// most often. Matching is a case-insensitive substring test, so
// "3C Electronics" and "consumer electronics" both hit.
var HighTheftCategories = []string{
	"3c",
	"electronics",
}

// Category risk scores
const (
	HighTheftCategoryRisk = 0.9
	DefaultCategoryRisk   = 0.5
)

// SuspiciousActorMarkers flag actor ids that belong to compromised or
// unidentified accounts.
var SuspiciousActorMarkers = []string{
	"COMPROMISED",
	"UNKNOWN",
}

// SystemActors are service identities trusted more than human operators.
var SystemActors = map[string]bool{
	"system": true,
}

// Actor risk scores
const (
	SuspiciousActorRisk = 0.95
	SystemActorRisk     = 0.1
	HumanActorRisk      = 0.3
)

// Mismatch heuristic constants
const (
	MismatchFloor            = 10.0
	MismatchBaseline         = 2.0
	MismatchCorrelation      = 0.1
	ConsistentCorrelation    = 0.9
	mismatchWeightMultiplier = 2.0
)

// LocationRisk returns the scan-location risk for a verdict severity.
func LocationRisk(s models.Severity) float64 {
	if r, ok := SeverityLocationRisk[s]; ok {
		return r
	}
	return defaults().ScanLocationRisk
}

// IsHighTheftCategory reports whether category is a frequently stolen family.
func IsHighTheftCategory(category string) bool {
	c := strings.ToLower(category)
	for _, marker := range HighTheftCategories {
		if strings.Contains(c, marker) {
			return true
		}
	}
	return false
}

// CategoryRisk returns the risk score for an item category.
func CategoryRisk(category string) float64 {
	if IsHighTheftCategory(category) {
		return HighTheftCategoryRisk
	}
	return DefaultCategoryRisk
}

// ActorRisk scores the account behind a ledger transaction. A missing actor
// is treated as the system.
func ActorRisk(actorID string) float64 {
	if actorID == "" {
		return SystemActorRisk
	}
	upper := strings.ToUpper(actorID)
	for _, marker := range SuspiciousActorMarkers {
		if strings.Contains(upper, marker) {
			return SuspiciousActorRisk
		}
	}
	if SystemActors[strings.ToLower(actorID)] {
		return SystemActorRisk
	}
	return HumanActorRisk
}
