// Package engine implements the hysteretic evaluation engine: a pure
// decision function over a temperature snapshot that recommends heating,
// cooling, or a defrost cycle. The asymmetry between the indoorMin and
// indoorMax thresholds is the anti-cycling margin; the pair must never be
// collapsed into a single setpoint.
package engine

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jluzny/hag-go/internal/clock"
	"github.com/jluzny/hag-go/internal/config"
)

// Snapshot is the immutable input to one evaluation.
type Snapshot struct {
	IndoorTemp  float64
	OutdoorTemp float64
	Hour        int
	IsWeekday   bool
}

// Result is the engine's recommendation. It carries no side effects; the
// state machine's guards decide whether the recommendation may be acted on.
type Result struct {
	ShouldHeat   bool
	ShouldCool   bool
	NeedsDefrost bool
	Reason       string
}

// Decider is the decision seam. The rule-based Engine is the shipped
// implementation; an alternative policy can be swapped in without touching
// the state machine.
type Decider interface {
	Decide(s Snapshot) (Result, error)
}

// HoldPolicy answers whether an active heating or cooling state should be
// held across a re-evaluation while inside the hysteresis band.
type HoldPolicy interface {
	KeepHeating(s Snapshot) bool
	KeepCooling(s Snapshot) bool
}

// Engine evaluates the heating/cooling rules against configured thresholds.
// It owns the lastDefrost timestamp of the heating strategy; the timestamp
// is written only by the state machine's defrost entry action.
type Engine struct {
	heating config.HeatingOptions
	cooling config.CoolingOptions
	active  *config.ActiveHours
	clock   clock.Clock
	logger  *zap.Logger

	mu           sync.Mutex
	lastDefrost  time.Time
	hasDefrosted bool

	misconfigOnce sync.Once
}

// New creates an evaluation engine for the given strategies.
func New(hvac config.HVACOptions, clk clock.Clock, logger *zap.Logger) *Engine {
	return &Engine{
		heating: hvac.Heating,
		cooling: hvac.Cooling,
		active:  hvac.ActiveHours,
		clock:   clk,
		logger:  logger.Named("engine"),
	}
}

// Decide implements Decider.
func (e *Engine) Decide(s Snapshot) (Result, error) {
	return e.Evaluate(s), nil
}

// Evaluate applies the heating, cooling, and defrost rules to the snapshot.
// Both raw rules are checked; when overlapping thresholds satisfy both,
// heating wins and a warning is logged once per process.
func (e *Engine) Evaluate(s Snapshot) Result {
	inWindow := e.inActiveHours(s.Hour, s.IsWeekday)
	heat := e.shouldHeat(s)
	cool := e.shouldCool(s)
	if heat && cool {
		e.misconfigOnce.Do(func() {
			e.logger.Warn("Heating and cooling rules both satisfied; check threshold configuration, heating wins",
				zap.Float64("heating_indoor_min", e.heating.Thresholds.IndoorMin),
				zap.Float64("cooling_indoor_max", e.cooling.Thresholds.IndoorMax))
		})
		cool = false
	}

	result := Result{}

	switch {
	case !inWindow:
		result.Reason = fmt.Sprintf("hour %d outside active hours", s.Hour)
	case heat:
		result.ShouldHeat = true
		result.Reason = fmt.Sprintf("indoor %.1f below heating threshold %.1f",
			s.IndoorTemp, e.heating.Thresholds.IndoorMin)
	case cool:
		result.ShouldCool = true
		result.Reason = fmt.Sprintf("indoor %.1f above cooling threshold %.1f",
			s.IndoorTemp, e.cooling.Thresholds.IndoorMax)
	default:
		result.Reason = fmt.Sprintf("indoor %.1f satisfied", s.IndoorTemp)
	}

	result.NeedsDefrost = e.needsDefrost(s)

	e.logger.Debug("Evaluation",
		zap.Float64("indoor", s.IndoorTemp),
		zap.Float64("outdoor", s.OutdoorTemp),
		zap.Int("hour", s.Hour),
		zap.Bool("weekday", s.IsWeekday),
		zap.Bool("should_heat", result.ShouldHeat),
		zap.Bool("should_cool", result.ShouldCool),
		zap.Bool("needs_defrost", result.NeedsDefrost),
		zap.String("reason", result.Reason))

	return result
}

// shouldHeat: indoor strictly below indoorMin (equality means satisfied) and
// outdoor inside the inclusive operating band.
func (e *Engine) shouldHeat(s Snapshot) bool {
	t := e.heating.Thresholds
	if s.IndoorTemp >= t.IndoorMin {
		return false
	}
	return s.OutdoorTemp >= t.OutdoorMin && s.OutdoorTemp <= t.OutdoorMax
}

// shouldCool: indoor strictly above indoorMax and outdoor inside the
// inclusive operating band.
func (e *Engine) shouldCool(s Snapshot) bool {
	t := e.cooling.Thresholds
	if s.IndoorTemp <= t.IndoorMax {
		return false
	}
	return s.OutdoorTemp >= t.OutdoorMin && s.OutdoorTemp <= t.OutdoorMax
}

// KeepHeating reports whether an already-heating machine should hold its
// state: the hysteresis band has not been crossed (indoor still strictly
// below indoorMax) and the outdoor and active-hours gates still pass.
func (e *Engine) KeepHeating(s Snapshot) bool {
	t := e.heating.Thresholds
	if !e.inActiveHours(s.Hour, s.IsWeekday) {
		return false
	}
	if s.OutdoorTemp < t.OutdoorMin || s.OutdoorTemp > t.OutdoorMax {
		return false
	}
	return s.IndoorTemp < t.IndoorMax
}

// KeepCooling is the cooling symmetric of KeepHeating.
func (e *Engine) KeepCooling(s Snapshot) bool {
	t := e.cooling.Thresholds
	if !e.inActiveHours(s.Hour, s.IsWeekday) {
		return false
	}
	if s.OutdoorTemp < t.OutdoorMin || s.OutdoorTemp > t.OutdoorMax {
		return false
	}
	return s.IndoorTemp > t.IndoorMin
}

// needsDefrost: outdoor strictly below the defrost threshold and at least
// one defrost period since the previous cycle (or no cycle yet).
func (e *Engine) needsDefrost(s Snapshot) bool {
	d := e.heating.Defrost
	if d == nil {
		return false
	}
	if s.OutdoorTemp >= d.TemperatureThreshold {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.hasDefrosted {
		return true
	}
	return e.clock.Since(e.lastDefrost) >= d.Period()
}

// inActiveHours passes when no window is configured.
func (e *Engine) inActiveHours(hour int, isWeekday bool) bool {
	if e.active == nil {
		return true
	}
	return e.active.Contains(hour, isWeekday)
}

// MarkDefrostStarted records the start of a defrost cycle. Called by the
// state machine's defrost entry action.
func (e *Engine) MarkDefrostStarted(t time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastDefrost = t
	e.hasDefrosted = true
}

// LastDefrost returns the start of the most recent defrost cycle, if any.
func (e *Engine) LastDefrost() (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastDefrost, e.hasDefrosted
}
