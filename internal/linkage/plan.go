// Package linkage computes per-lag extracts of yearly measurement data
// and assembles them into a wide table joined to the primary dataset.
package linkage

import (
	"fmt"
	"time"
)

// TargetDate shifts an observation date back by lagDays whole calendar
// days. Day precision only; no timezone arithmetic.
func TargetDate(observed time.Time, lagDays int) time.Time {
	return observed.AddDate(0, 0, -lagDays)
}

// LagColumn names an output column for one lag of a source column, e.g.
// "HeatIndex_5day_prior".
func LagColumn(base string, lag int) string {
	return fmt.Sprintf("%s_%dday_prior", base, lag)
}

// ArtifactName names the on-disk intermediate for one lag. Zero-padded so
// directory listings sort by lag.
func ArtifactName(lag int) string {
	return fmt.Sprintf("lag_%04d.db", lag)
}
