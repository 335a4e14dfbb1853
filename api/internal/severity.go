package internal

import (
	"math"
	"strings"
)

// Severity buckets shown on the map legend and in list views.
const (
	SeverityLow      = "Low"
	SeverityModerate = "Moderate"
	SeveritySevere   = "Severe"
)

// ClassifySeverity maps a continuous severity value in [0,1] to a bucket.
// The value is rounded to 2 decimals first, so 0.495 classifies as Severe.
// Every consumer (list responses, GeoJSON marker properties) goes through
// this one function.
func ClassifySeverity(severity float64) string {
	s := math.Round(severity*100) / 100
	switch {
	case s >= 0.5:
		return SeveritySevere
	case s >= 0.3:
		return SeverityModerate
	default:
		return SeverityLow
	}
}

// coerceSeverity accepts both schema revisions: a continuous float in
// [0,1], or the older ordinal strings. Unknown strings map to 0.
func coerceSeverity(raw interface{}) float64 {
	switch v := raw.(type) {
	case float64:
		return clampUnit(v)
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "severe", "high":
			return 0.9
		case "moderate", "medium":
			return 0.4
		case "low":
			return 0.1
		}
	}
	return 0
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
