// Package rules implements the geofence, harvest-season and quality-threshold
// checks for species collection rules. The ledger contract and the off-chain
// services both call this package, so they accept exactly the same inputs.
package rules

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shreyes-7/AyurTrack-sub001/pkg/domain"
)

// EarthRadiusMeters is the spherical earth radius used by DistanceMeters.
const EarthRadiusMeters = 6371000.0

// Rule names reported in violations.
const (
	RuleGeofence        = "geofence"
	RuleSeason          = "allowedMonths"
	RuleMoistureMax     = "qualityThresholds.moistureMax"
	RulePesticidePPMMax = "qualityThresholds.pesticidePPMMax"
)

// DistanceMeters is the haversine great-circle distance between two points.
func DistanceMeters(centerLat, centerLong, lat, long float64) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(lat - centerLat)
	dLong := rad(long - centerLong)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(centerLat))*math.Cos(rad(lat))*math.Sin(dLong/2)*math.Sin(dLong/2)
	// Rounding can push a just past 1 for antipodal points.
	a = math.Min(1, math.Max(0, a))
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

// IsWithinGeofence reports whether the point lies inside the rule's geofence.
// A rule without a geofence accepts every point.
func IsWithinGeofence(rule domain.SpeciesRule, lat, long float64) bool {
	if rule.Geofence == nil {
		return true
	}
	g := rule.Geofence
	return DistanceMeters(g.Center.Lat, g.Center.Long, lat, long) <= g.RadiusMeters
}

// IsAllowedMonth reports whether ts falls in one of the allowed months.
// No configured months means no restriction.
func IsAllowedMonth(rule domain.SpeciesRule, ts time.Time) bool {
	if len(rule.AllowedMonths) == 0 {
		return true
	}
	m := int(ts.UTC().Month())
	for _, allowed := range rule.AllowedMonths {
		if allowed == m {
			return true
		}
	}
	return false
}

// QualityReport is the outcome of a threshold check.
type QualityReport struct {
	Valid      bool               `json:"valid"`
	Violations []domain.Violation `json:"violations,omitempty"`
}

// CheckQuality compares measurements with the rule thresholds. A threshold is
// only checked when both the limit and the measured value are present.
func CheckQuality(rule domain.SpeciesRule, q domain.Quality) QualityReport {
	report := QualityReport{Valid: true}
	t := rule.QualityThresholds
	if t == nil {
		return report
	}
	check := func(ruleName, field string, measured, limit *float64) {
		if measured == nil || limit == nil || *measured <= *limit {
			return
		}
		report.Valid = false
		report.Violations = append(report.Violations, domain.Violation{
			Rule:     ruleName,
			Field:    field,
			Measured: *measured,
			Limit:    *limit,
			Message:  fmt.Sprintf("%s %g exceeds %s %g", field, *measured, ruleName, *limit),
		})
	}
	check(RuleMoistureMax, "moisture", q.Moisture, t.MoistureMax)
	check(RulePesticidePPMMax, "pesticidePPM", q.PesticidePPM, t.PesticidePPMMax)
	return report
}

// CheckQualityResults applies CheckQuality to lab results.
func CheckQualityResults(rule domain.SpeciesRule, r domain.QualityResults) QualityReport {
	return CheckQuality(rule, r.Measurement())
}

// ValidateCollection checks a harvest against the species rule. A nil rule
// means no restrictions are configured.
func ValidateCollection(rule *domain.SpeciesRule, lat, long float64, ts time.Time, q domain.Quality) error {
	if rule == nil {
		return nil
	}
	var violations []domain.Violation
	if !IsWithinGeofence(*rule, lat, long) {
		g := rule.Geofence
		d := DistanceMeters(g.Center.Lat, g.Center.Long, lat, long)
		violations = append(violations, domain.Violation{
			Rule:     RuleGeofence,
			Field:    "location",
			Measured: d,
			Limit:    g.RadiusMeters,
			Message:  fmt.Sprintf("location is %.0fm from geofence center, radius is %.0fm", d, g.RadiusMeters),
		})
	}
	if !IsAllowedMonth(*rule, ts) {
		violations = append(violations, domain.Violation{
			Rule:     RuleSeason,
			Field:    "timestamp",
			Measured: float64(ts.UTC().Month()),
			Message:  fmt.Sprintf("month %d is outside allowed months %v", int(ts.UTC().Month()), rule.AllowedMonths),
		})
	}
	violations = append(violations, CheckQuality(*rule, q).Violations...)
	if len(violations) == 0 {
		return nil
	}
	return &domain.ValidationError{Species: rule.Species, Violations: violations}
}

// TimestampLayout is the stored form of every record timestamp. It has a
// fixed width so stored timestamps sort lexically in time order.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

var timestampLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// NormalizeTimestamp parses s and returns it in TimestampLayout.
func NormalizeTimestamp(s string) (string, error) {
	t, err := ParseTimestamp(s)
	if err != nil {
		return "", err
	}
	return FormatTimestamp(t), nil
}

// ParseTimestamp accepts RFC 3339, a bare date, or Unix milliseconds.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, domain.InvalidArgument("timestamp is required")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, domain.InvalidArgument("unrecognised timestamp %q", s)
}

// ParseCoordinate parses a latitude or longitude argument.
func ParseCoordinate(name, s string, limit float64) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.Abs(v) > limit {
		return 0, domain.InvalidArgument("invalid %s %q", name, s)
	}
	return v, nil
}
