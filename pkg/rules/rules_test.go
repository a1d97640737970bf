package rules_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shreyes-7/AyurTrack-sub001/pkg/domain"
	"github.com/shreyes-7/AyurTrack-sub001/pkg/rules"
)

func ashwagandha() domain.SpeciesRule {
	return domain.SpeciesRule{
		Species:       "Ashwagandha",
		Geofence:      &domain.Geofence{Center: domain.Location{Lat: 26.9124, Long: 75.7873}, RadiusMeters: 50000},
		AllowedMonths: []int{10, 11, 12, 1},
		QualityThresholds: &domain.QualityThresholds{
			MoistureMax:     domain.Float64(10),
			PesticidePPMMax: domain.Float64(0.5),
		},
	}
}

func TestDistanceAtCenterIsZero(t *testing.T) {
	for _, p := range []domain.Location{{Lat: 0, Long: 0}, {Lat: 26.9124, Long: 75.7873}, {Lat: -33.86, Long: 151.2}} {
		assert.Zero(t, rules.DistanceMeters(p.Lat, p.Long, p.Lat, p.Long))
	}
}

func TestDistanceKnownPair(t *testing.T) {
	// Jaipur to Delhi is roughly 236 km on a sphere.
	d := rules.DistanceMeters(26.9124, 75.7873, 28.6139, 77.2090)
	assert.InDelta(t, 236000, d, 3000)
}

func TestGeofenceMonotonicInRadius(t *testing.T) {
	rule := ashwagandha()
	lat, long := 27.2, 75.9
	inside := false
	for _, radius := range []float64{1000, 10000, 34000, 50000, 100000, 1e6} {
		rule.Geofence.RadiusMeters = radius
		ok := rules.IsWithinGeofence(rule, lat, long)
		if inside {
			assert.True(t, ok, "radius %v turned a valid point invalid", radius)
		}
		inside = inside || ok
	}
	assert.True(t, inside)
}

func TestDistanceOfAntipodesIsHalfCircumference(t *testing.T) {
	half := math.Pi * rules.EarthRadiusMeters
	whole := &domain.Geofence{RadiusMeters: 2 * half}
	for lat := -90.0; lat <= 90; lat += 7.5 {
		for long := -180.0; long <= 180; long += 15 {
			d := rules.DistanceMeters(lat, long, -lat, long+180)
			require.False(t, math.IsNaN(d), "distance (%v,%v) to its antipode", lat, long)
			assert.InDelta(t, half, d, 1)

			whole.Center = domain.Location{Lat: lat, Long: long}
			assert.True(t, rules.IsWithinGeofence(domain.SpeciesRule{Geofence: whole}, -lat, long+180))
		}
	}
}

func TestGeofenceAbsentAcceptsAnyPoint(t *testing.T) {
	rule := domain.SpeciesRule{Species: "Tulsi"}
	assert.True(t, rules.IsWithinGeofence(rule, -80, 170))
}

func TestAllowedMonthEmptyAcceptsEveryMonth(t *testing.T) {
	rule := domain.SpeciesRule{Species: "Tulsi"}
	for m := time.January; m <= time.December; m++ {
		assert.True(t, rules.IsAllowedMonth(rule, time.Date(2025, m, 15, 0, 0, 0, 0, time.UTC)))
	}
}

func TestAllowedMonthMembership(t *testing.T) {
	rule := ashwagandha()
	allowed := map[int]bool{10: true, 11: true, 12: true, 1: true}
	for m := 1; m <= 12; m++ {
		ts := time.Date(2025, time.Month(m), 3, 12, 0, 0, 0, time.UTC)
		assert.Equal(t, allowed[m], rules.IsAllowedMonth(rule, ts), "month %d", m)
	}
}

func TestCheckQualityFlagsExceededThresholds(t *testing.T) {
	report := rules.CheckQuality(ashwagandha(), domain.Quality{Moisture: domain.Float64(15), PesticidePPM: domain.Float64(0.7)})
	require.False(t, report.Valid)
	require.Len(t, report.Violations, 2)
	assert.Equal(t, rules.RuleMoistureMax, report.Violations[0].Rule)
	assert.Equal(t, 15.0, report.Violations[0].Measured)
	assert.Equal(t, 10.0, report.Violations[0].Limit)
}

func TestCheckQualitySkipsMissingFields(t *testing.T) {
	// Missing measurement.
	report := rules.CheckQuality(ashwagandha(), domain.Quality{})
	assert.True(t, report.Valid)

	// Missing threshold.
	rule := ashwagandha()
	rule.QualityThresholds = &domain.QualityThresholds{MoistureMax: domain.Float64(10)}
	report = rules.CheckQuality(rule, domain.Quality{PesticidePPM: domain.Float64(99)})
	assert.True(t, report.Valid)

	// No thresholds at all.
	rule.QualityThresholds = nil
	report = rules.CheckQuality(rule, domain.Quality{Moisture: domain.Float64(99)})
	assert.True(t, report.Valid)
}

func TestCheckQualityAtLimitPasses(t *testing.T) {
	report := rules.CheckQuality(ashwagandha(), domain.Quality{Moisture: domain.Float64(10)})
	assert.True(t, report.Valid)
}

func TestValidateCollection(t *testing.T) {
	rule := ashwagandha()
	nov := time.Date(2025, time.November, 2, 8, 0, 0, 0, time.UTC)

	require.NoError(t, rules.ValidateCollection(nil, 0, 0, time.Time{}, domain.Quality{}))
	require.NoError(t, rules.ValidateCollection(&rule, 26.95, 75.80, nov, domain.Quality{Moisture: domain.Float64(8)}))

	err := rules.ValidateCollection(&rule, 19.07, 72.87, nov, domain.Quality{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation))
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, rules.RuleGeofence, verr.Rule())
	assert.Greater(t, verr.Violations[0].Measured, 50000.0)

	err = rules.ValidateCollection(&rule, 26.95, 75.80, time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC), domain.Quality{})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, rules.RuleSeason, verr.Rule())
	assert.Equal(t, 6.0, verr.Violations[0].Measured)

	err = rules.ValidateCollection(&rule, 26.95, 75.80, nov, domain.Quality{Moisture: domain.Float64(12)})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, rules.RuleMoistureMax, verr.Rule())
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2025, time.November, 2, 8, 30, 0, 0, time.UTC)
	for _, in := range []string{"2025-11-02T08:30:00Z", "2025-11-02T14:00:00+05:30", "1762072200000"} {
		got, err := rules.ParseTimestamp(in)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), "%s -> %s", in, got)
	}
	d, err := rules.ParseTimestamp("2025-11-02")
	require.NoError(t, err)
	assert.Equal(t, time.November, d.Month())

	_, err = rules.ParseTimestamp("yesterday")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestNormalizeTimestampSortsLexically(t *testing.T) {
	a, err := rules.NormalizeTimestamp("2025-11-02T08:30:00Z")
	require.NoError(t, err)
	b, err := rules.NormalizeTimestamp("2025-11-02T08:30:00.5Z")
	require.NoError(t, err)
	assert.Equal(t, "2025-11-02T08:30:00.000Z", a)
	assert.Less(t, a, b)
}

func TestParseCoordinate(t *testing.T) {
	v, err := rules.ParseCoordinate("lat", " 26.91 ", 90)
	require.NoError(t, err)
	assert.Equal(t, 26.91, v)
	_, err = rules.ParseCoordinate("lat", "91", 90)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = rules.ParseCoordinate("long", "east", 180)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}
