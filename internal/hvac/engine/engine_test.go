package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jluzny/hag-go/internal/clock"
	"github.com/jluzny/hag-go/internal/config"
)

func testHVACOptions() config.HVACOptions {
	return config.HVACOptions{
		Heating: config.HeatingOptions{
			Temperature: 21.5,
			Thresholds: config.TemperatureThresholds{
				IndoorMin:  19.7,
				IndoorMax:  20.2,
				OutdoorMin: -10.0,
				OutdoorMax: 15.0,
			},
			Defrost: &config.DefrostOptions{
				TemperatureThreshold: 0.0,
				PeriodSeconds:        3600,
				DurationSeconds:      300,
			},
		},
		Cooling: config.CoolingOptions{
			Temperature: 24.0,
			Thresholds: config.TemperatureThresholds{
				IndoorMin:  23.0,
				IndoorMax:  23.5,
				OutdoorMin: 10.0,
				OutdoorMax: 45.0,
			},
		},
	}
}

func newTestEngine(t *testing.T, hvac config.HVACOptions) (*Engine, *clock.MockClock) {
	t.Helper()
	clk := clock.NewMockClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	return New(hvac, clk, zap.NewNop()), clk
}

func TestEvaluate_HeatingRecommendedBelowThreshold(t *testing.T) {
	eng, _ := newTestEngine(t, testHVACOptions())

	result := eng.Evaluate(Snapshot{IndoorTemp: 19.0, OutdoorTemp: 5.0, Hour: 12, IsWeekday: true})

	assert.True(t, result.ShouldHeat)
	assert.False(t, result.ShouldCool)
}

func TestEvaluate_HeatingBoundaryIsSatisfied(t *testing.T) {
	eng, _ := newTestEngine(t, testHVACOptions())

	// Equality with indoorMin means no trigger.
	result := eng.Evaluate(Snapshot{IndoorTemp: 19.7, OutdoorTemp: 5.0, Hour: 12, IsWeekday: true})

	assert.False(t, result.ShouldHeat)
	assert.False(t, result.ShouldCool)
}

func TestEvaluate_HeatingOutdoorBandIsInclusive(t *testing.T) {
	eng, _ := newTestEngine(t, testHVACOptions())

	for _, outdoor := range []float64{-10.0, 15.0} {
		result := eng.Evaluate(Snapshot{IndoorTemp: 19.0, OutdoorTemp: outdoor, Hour: 12, IsWeekday: true})
		assert.True(t, result.ShouldHeat, "outdoor %.1f should be inside the band", outdoor)
	}

	for _, outdoor := range []float64{-10.1, 15.1} {
		result := eng.Evaluate(Snapshot{IndoorTemp: 19.0, OutdoorTemp: outdoor, Hour: 12, IsWeekday: true})
		assert.False(t, result.ShouldHeat, "outdoor %.1f should be outside the band", outdoor)
	}
}

func TestEvaluate_CoolingRecommendedAboveThreshold(t *testing.T) {
	eng, _ := newTestEngine(t, testHVACOptions())

	result := eng.Evaluate(Snapshot{IndoorTemp: 24.0, OutdoorTemp: 30.0, Hour: 12, IsWeekday: true})

	assert.True(t, result.ShouldCool)
	assert.False(t, result.ShouldHeat)
}

func TestEvaluate_CoolingBoundaryIsSatisfied(t *testing.T) {
	eng, _ := newTestEngine(t, testHVACOptions())

	result := eng.Evaluate(Snapshot{IndoorTemp: 23.5, OutdoorTemp: 30.0, Hour: 12, IsWeekday: true})

	assert.False(t, result.ShouldCool)
}

func TestEvaluate_InsideBandNothingRecommended(t *testing.T) {
	eng, _ := newTestEngine(t, testHVACOptions())

	result := eng.Evaluate(Snapshot{IndoorTemp: 21.0, OutdoorTemp: 5.0, Hour: 12, IsWeekday: true})

	assert.False(t, result.ShouldHeat)
	assert.False(t, result.ShouldCool)
}

func TestEvaluate_OverlappingThresholdsHeatingWins(t *testing.T) {
	hvac := testHVACOptions()
	// Misconfigured: the heating trigger sits above the cooling trigger, so
	// a room at 22.0 satisfies both raw rules at once.
	hvac.Heating.Thresholds = config.TemperatureThresholds{IndoorMin: 24.0, IndoorMax: 25.0, OutdoorMin: -10.0, OutdoorMax: 15.0}
	hvac.Cooling.Thresholds = config.TemperatureThresholds{IndoorMin: 19.0, IndoorMax: 20.0, OutdoorMin: 10.0, OutdoorMax: 45.0}

	core, logs := observer.New(zap.WarnLevel)
	clk := clock.NewMockClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	eng := New(hvac, clk, zap.New(core))

	snap := Snapshot{IndoorTemp: 22.0, OutdoorTemp: 12.0, Hour: 12, IsWeekday: true}

	result := eng.Evaluate(snap)
	assert.True(t, result.ShouldHeat)
	assert.False(t, result.ShouldCool)

	// The warning fires once per process, not once per evaluation.
	eng.Evaluate(snap)
	assert.Equal(t, 1, logs.FilterMessageSnippet("check threshold configuration").Len())
}

func TestEvaluate_OutsideActiveHours(t *testing.T) {
	hvac := testHVACOptions()
	hvac.ActiveHours = &config.ActiveHours{Start: 8, StartWeekday: 7, End: 22}
	eng, _ := newTestEngine(t, hvac)

	result := eng.Evaluate(Snapshot{IndoorTemp: 15.0, OutdoorTemp: 5.0, Hour: 3, IsWeekday: true})

	assert.False(t, result.ShouldHeat)
	assert.False(t, result.ShouldCool)
}

func TestEvaluate_ActiveHoursBoundariesInclusive(t *testing.T) {
	hvac := testHVACOptions()
	hvac.ActiveHours = &config.ActiveHours{Start: 8, StartWeekday: 7, End: 22}
	eng, _ := newTestEngine(t, hvac)

	for _, tc := range []struct {
		hour    int
		weekday bool
		active  bool
	}{
		{7, true, true},
		{7, false, false},
		{8, false, true},
		{22, true, true},
		{23, true, false},
		{6, true, false},
	} {
		result := eng.Evaluate(Snapshot{IndoorTemp: 15.0, OutdoorTemp: 5.0, Hour: tc.hour, IsWeekday: tc.weekday})
		assert.Equal(t, tc.active, result.ShouldHeat,
			"hour %d weekday %t", tc.hour, tc.weekday)
	}
}

func TestEvaluate_ActiveHoursMidnightWrap(t *testing.T) {
	hvac := testHVACOptions()
	hvac.ActiveHours = &config.ActiveHours{Start: 22, StartWeekday: 22, End: 6}
	eng, _ := newTestEngine(t, hvac)

	for _, tc := range []struct {
		hour   int
		active bool
	}{
		{23, true},
		{2, true},
		{6, true},
		{12, false},
		{21, false},
	} {
		result := eng.Evaluate(Snapshot{IndoorTemp: 15.0, OutdoorTemp: 5.0, Hour: tc.hour, IsWeekday: true})
		assert.Equal(t, tc.active, result.ShouldHeat, "hour %d", tc.hour)
	}
}

func TestNeedsDefrost_FirstCycleAndPeriod(t *testing.T) {
	eng, clk := newTestEngine(t, testHVACOptions())
	cold := Snapshot{IndoorTemp: 19.0, OutdoorTemp: -5.0, Hour: 12, IsWeekday: true}

	// No cycle yet: cold outdoor triggers immediately.
	assert.True(t, eng.Evaluate(cold).NeedsDefrost)

	eng.MarkDefrostStarted(clk.Now())
	assert.False(t, eng.Evaluate(cold).NeedsDefrost)

	clk.Advance(30 * time.Minute)
	assert.False(t, eng.Evaluate(cold).NeedsDefrost)

	clk.Advance(30 * time.Minute)
	assert.True(t, eng.Evaluate(cold).NeedsDefrost)
}

func TestNeedsDefrost_ThresholdIsStrict(t *testing.T) {
	eng, _ := newTestEngine(t, testHVACOptions())

	at := Snapshot{IndoorTemp: 19.0, OutdoorTemp: 0.0, Hour: 12, IsWeekday: true}
	below := Snapshot{IndoorTemp: 19.0, OutdoorTemp: -0.1, Hour: 12, IsWeekday: true}

	assert.False(t, eng.Evaluate(at).NeedsDefrost)
	assert.True(t, eng.Evaluate(below).NeedsDefrost)
}

func TestNeedsDefrost_NotConfigured(t *testing.T) {
	hvac := testHVACOptions()
	hvac.Heating.Defrost = nil
	eng, _ := newTestEngine(t, hvac)

	result := eng.Evaluate(Snapshot{IndoorTemp: 19.0, OutdoorTemp: -20.0, Hour: 12, IsWeekday: true})

	assert.False(t, result.NeedsDefrost)
}

func TestKeepHeating_InsideBand(t *testing.T) {
	eng, _ := newTestEngine(t, testHVACOptions())

	// Between indoorMin and indoorMax the hold passes.
	assert.True(t, eng.KeepHeating(Snapshot{IndoorTemp: 20.0, OutdoorTemp: 5.0, Hour: 12, IsWeekday: true}))

	// At or above indoorMax the hold releases.
	assert.False(t, eng.KeepHeating(Snapshot{IndoorTemp: 20.2, OutdoorTemp: 5.0, Hour: 12, IsWeekday: true}))

	// Outdoor leaving the band releases the hold too.
	assert.False(t, eng.KeepHeating(Snapshot{IndoorTemp: 20.0, OutdoorTemp: 16.0, Hour: 12, IsWeekday: true}))
}

func TestKeepCooling_InsideBand(t *testing.T) {
	eng, _ := newTestEngine(t, testHVACOptions())

	assert.True(t, eng.KeepCooling(Snapshot{IndoorTemp: 23.2, OutdoorTemp: 30.0, Hour: 12, IsWeekday: true}))
	assert.False(t, eng.KeepCooling(Snapshot{IndoorTemp: 23.0, OutdoorTemp: 30.0, Hour: 12, IsWeekday: true}))
}

func TestKeepHeating_OutsideActiveHours(t *testing.T) {
	hvac := testHVACOptions()
	hvac.ActiveHours = &config.ActiveHours{Start: 8, StartWeekday: 7, End: 22}
	eng, _ := newTestEngine(t, hvac)

	assert.False(t, eng.KeepHeating(Snapshot{IndoorTemp: 20.0, OutdoorTemp: 5.0, Hour: 3, IsWeekday: true}))
}
