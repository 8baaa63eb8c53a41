// Package monitor watches committed state transitions for rapid cycling.
// Short heat-off-heat intervals wear compressors; the monitor keeps a
// bounded history, raises alerts on rapid cycles, and classifies the
// trailing 24 hours of behaviour.
package monitor

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jluzny/hag-go/internal/clock"
	"github.com/jluzny/hag-go/internal/hvac/machine"
)

// Capacity bounds the transition history.
const Capacity = 100

// Cycle windows. A heat-off-heat pattern completing inside warningWindow
// is suspicious; a compressor restarted less than criticalWindow after it
// stopped is at mechanical risk.
const (
	warningWindow  = 15 * time.Minute
	criticalWindow = 5 * time.Minute
	healthWindow   = 24 * time.Hour
)

// Severity grades a cycling alert.
type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Health classifies recent cycling behaviour.
type Health string

const (
	HealthHealthy          Health = "HEALTHY"
	HealthInfo             Health = "INFO"
	HealthWarning          Health = "WARNING"
	HealthCritical         Health = "CRITICAL"
	HealthInsufficientData Health = "INSUFFICIENT_DATA"
)

// Record is one committed transition.
type Record struct {
	From       machine.State
	To         machine.State
	At         time.Time
	IndoorTemp *float64
}

// Alert is a detected rapid cycle.
type Alert struct {
	Severity Severity
	Interval time.Duration
	At       time.Time
}

// Monitor keeps a ring of recent transitions and evaluates cycling rules
// on every insert.
type Monitor struct {
	clock  clock.Clock
	logger *zap.Logger

	mu      sync.Mutex
	records []Record
	start   int
	count   int

	lastAlert *Alert
}

// New creates an empty monitor.
func New(clk clock.Clock, logger *zap.Logger) *Monitor {
	return &Monitor{
		clock:   clk,
		logger:  logger.Named("monitor"),
		records: make([]Record, Capacity),
	}
}

// Observe records a committed transition and checks the trailing records
// for a rapid heat-off-heat cycle. Returns the raised alert, if any.
func (m *Monitor) Observe(from, to machine.State, at time.Time, indoorTemp *float64) *Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.push(Record{From: from, To: to, At: at, IndoorTemp: indoorTemp})

	alert := m.detectRapidCycle()
	if alert != nil {
		m.lastAlert = alert
		fields := []zap.Field{
			zap.Duration("interval", alert.Interval),
			zap.Time("at", alert.At),
		}
		if alert.Severity == SeverityCritical {
			m.logger.Error("Rapid heating cycle detected", fields...)
		} else {
			m.logger.Warn("Short heating cycle detected", fields...)
		}
	}
	return alert
}

// LastAlert returns the most recently raised alert, if any.
func (m *Monitor) LastAlert() *Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAlert
}

// History returns the retained transitions, oldest first.
func (m *Monitor) History() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

// HysteresisHealth classifies cycling over the trailing 24 hours by the
// average interval between heating starts.
func (m *Monitor) HysteresisHealth() Health {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.clock.Now().Add(-healthWindow)

	var starts []time.Time
	for _, r := range m.snapshot() {
		if r.To == machine.StateHeating && !r.At.Before(cutoff) {
			starts = append(starts, r.At)
		}
	}

	if len(starts) < 2 {
		return HealthInsufficientData
	}

	var total time.Duration
	for i := 1; i < len(starts); i++ {
		total += starts[i].Sub(starts[i-1])
	}
	avg := total / time.Duration(len(starts)-1)

	switch {
	case avg < warningWindow:
		return HealthCritical
	case avg < 30*time.Minute:
		return HealthWarning
	case avg > 120*time.Minute:
		return HealthInfo
	default:
		return HealthHealthy
	}
}

// detectRapidCycle looks at the three most recent transitions for a
// heating, stop, heating pattern. Caller holds the lock.
func (m *Monitor) detectRapidCycle() *Alert {
	if m.count < 3 {
		return nil
	}

	last := m.at(m.count - 1)
	mid := m.at(m.count - 2)
	first := m.at(m.count - 3)

	if last.To != machine.StateHeating || first.To != machine.StateHeating {
		return nil
	}
	if mid.To != machine.StateOff && mid.To != machine.StateIdle {
		return nil
	}

	interval := last.At.Sub(first.At)
	if interval >= warningWindow {
		return nil
	}

	// The restart gap decides severity: relighting the compressor shortly
	// after it stopped is the harmful case.
	if last.At.Sub(mid.At) < criticalWindow {
		return &Alert{Severity: SeverityCritical, Interval: interval, At: last.At}
	}
	return &Alert{Severity: SeverityWarning, Interval: interval, At: last.At}
}

func (m *Monitor) push(r Record) {
	if m.count < Capacity {
		m.records[(m.start+m.count)%Capacity] = r
		m.count++
		return
	}
	m.records[m.start] = r
	m.start = (m.start + 1) % Capacity
}

func (m *Monitor) at(i int) Record {
	return m.records[(m.start+i)%Capacity]
}

func (m *Monitor) snapshot() []Record {
	out := make([]Record, m.count)
	for i := 0; i < m.count; i++ {
		out[i] = m.at(i)
	}
	return out
}
