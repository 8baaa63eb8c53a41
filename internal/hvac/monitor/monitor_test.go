package monitor

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jluzny/hag-go/internal/clock"
	"github.com/jluzny/hag-go/internal/hvac/machine"
)

func newTestMonitor() (*Monitor, *clock.MockClock) {
	clk := clock.NewMockClock(time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC))
	return New(clk, zap.NewNop()), clk
}

// observeCycle records heating, off, heating with the given gaps.
func observeCycle(m *Monitor, t0 time.Time, offAfter, heatAfter time.Duration) *Alert {
	m.Observe(machine.StateOff, machine.StateHeating, t0, nil)
	m.Observe(machine.StateHeating, machine.StateOff, t0.Add(offAfter), nil)
	return m.Observe(machine.StateOff, machine.StateHeating, t0.Add(offAfter+heatAfter), nil)
}

func TestObserve_RapidCycleCritical(t *testing.T) {
	m, clk := newTestMonitor()

	// Heat at t0, off at t0+4min, heat again at t0+8min: four minutes off
	// before the restart.
	alert := observeCycle(m, clk.Now(), 4*time.Minute, 4*time.Minute)

	require.NotNil(t, alert)
	assert.Equal(t, SeverityCritical, alert.Severity)
	assert.Equal(t, 8*time.Minute, alert.Interval)
}

func TestObserve_RapidCycleWarning(t *testing.T) {
	m, clk := newTestMonitor()

	// Cycle completes under 15 minutes but the restart gap is over 5.
	alert := observeCycle(m, clk.Now(), 8*time.Minute, 6*time.Minute)

	require.NotNil(t, alert)
	assert.Equal(t, SeverityWarning, alert.Severity)
	assert.Equal(t, 14*time.Minute, alert.Interval)
}

func TestObserve_SlowCycleNoAlert(t *testing.T) {
	m, clk := newTestMonitor()

	alert := observeCycle(m, clk.Now(), 10*time.Minute, 10*time.Minute)

	assert.Nil(t, alert)
	assert.Nil(t, m.LastAlert())
}

func TestObserve_IdleCountsAsStop(t *testing.T) {
	m, clk := newTestMonitor()
	t0 := clk.Now()

	m.Observe(machine.StateOff, machine.StateHeating, t0, nil)
	m.Observe(machine.StateHeating, machine.StateIdle, t0.Add(2*time.Minute), nil)
	alert := m.Observe(machine.StateIdle, machine.StateHeating, t0.Add(4*time.Minute), nil)

	require.NotNil(t, alert)
	assert.Equal(t, SeverityCritical, alert.Severity)
}

func TestObserve_NonCyclePatternNoAlert(t *testing.T) {
	m, clk := newTestMonitor()
	t0 := clk.Now()

	// Heating, cooling, heating is not the compressor wear pattern.
	m.Observe(machine.StateOff, machine.StateHeating, t0, nil)
	m.Observe(machine.StateHeating, machine.StateCooling, t0.Add(time.Minute), nil)
	alert := m.Observe(machine.StateCooling, machine.StateHeating, t0.Add(2*time.Minute), nil)

	assert.Nil(t, alert)
}

func TestHistory_BoundedAtCapacity(t *testing.T) {
	m, clk := newTestMonitor()
	t0 := clk.Now()

	for i := 0; i < Capacity+20; i++ {
		m.Observe(machine.StateOff, machine.State(fmt.Sprintf("s%d", i)), t0.Add(time.Duration(i)*time.Hour), nil)
	}

	history := m.History()
	require.Len(t, history, Capacity)

	// Oldest entries were evicted; the ring holds the trailing window.
	assert.Equal(t, machine.State("s20"), history[0].To)
	assert.Equal(t, machine.State(fmt.Sprintf("s%d", Capacity+19)), history[Capacity-1].To)
}

func TestHysteresisHealth_InsufficientData(t *testing.T) {
	m, clk := newTestMonitor()

	assert.Equal(t, HealthInsufficientData, m.HysteresisHealth())

	m.Observe(machine.StateOff, machine.StateHeating, clk.Now(), nil)
	assert.Equal(t, HealthInsufficientData, m.HysteresisHealth())
}

func TestHysteresisHealth_Classification(t *testing.T) {
	cases := []struct {
		name string
		gap  time.Duration
		want Health
	}{
		{"critical under 15m", 10 * time.Minute, HealthCritical},
		{"warning under 30m", 20 * time.Minute, HealthWarning},
		{"healthy between 30m and 120m", 60 * time.Minute, HealthHealthy},
		{"info over 120m", 180 * time.Minute, HealthInfo},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, clk := newTestMonitor()
			start := clk.Now()

			for i := 0; i < 4; i++ {
				at := start.Add(time.Duration(i) * tc.gap)
				m.Observe(machine.StateOff, machine.StateHeating, at, nil)
				m.Observe(machine.StateHeating, machine.StateOff, at.Add(time.Minute), nil)
			}
			clk.Set(start.Add(4 * tc.gap))

			assert.Equal(t, tc.want, m.HysteresisHealth())
		})
	}
}

func TestHysteresisHealth_IgnoresStartsOutsideWindow(t *testing.T) {
	m, clk := newTestMonitor()
	start := clk.Now()

	// Two rapid starts far in the past, nothing recent.
	m.Observe(machine.StateOff, machine.StateHeating, start, nil)
	m.Observe(machine.StateOff, machine.StateHeating, start.Add(5*time.Minute), nil)

	clk.Set(start.Add(48 * time.Hour))

	assert.Equal(t, HealthInsufficientData, m.HysteresisHealth())
}
