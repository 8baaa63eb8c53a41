// Package machine implements the HVAC finite state machine. Events arrive
// on a buffered channel and are processed one at a time in FIFO order by a
// single goroutine; guards consult the evaluation engine, entry actions
// drive the actuator.
package machine

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jluzny/hag-go/internal/clock"
	"github.com/jluzny/hag-go/internal/config"
	"github.com/jluzny/hag-go/internal/hvac/engine"
)

// State is one of the machine's exclusive states.
type State string

const (
	StateIdle           State = "idle"
	StateEvaluating     State = "evaluating"
	StateOff            State = "off"
	StateHeating        State = "heating"
	StateCooling        State = "cooling"
	StateDefrosting     State = "defrosting"
	StateManualOverride State = "manual_override"
)

const eventBufferSize = 64

// Actuator receives the machine's entry actions. Errors are recorded by the
// actuator itself and surfaced through the status snapshot; the machine only
// logs them.
type Actuator interface {
	StartHeating(setpoint *float64) error
	StartCooling(setpoint *float64) error
	StopAll() error
}

// DefrostTracker records defrost cycle starts for the heating strategy.
type DefrostTracker interface {
	MarkDefrostStarted(t time.Time)
}

// TransitionHook observes committed transitions. Hooks run on the machine's
// event goroutine and must not block.
type TransitionHook func(from, to State, at time.Time, indoorTemp *float64)

// Override is an active manual override.
type Override struct {
	Mode        OverrideMode
	Temperature *float64
	ExpiresAt   *time.Time
}

// hvacContext is the machine-owned context. It is mutated only on the event
// goroutine.
type hvacContext struct {
	indoor    *float64
	outdoor   *float64
	hour      int
	isWeekday bool
	mode      config.SystemMode
	override  *Override
}

// Machine is the HVAC state machine.
type Machine struct {
	clock   clock.Clock
	logger  *zap.Logger
	decider engine.Decider
	hold    engine.HoldPolicy
	tracker DefrostTracker
	act     Actuator
	defrost *config.DefrostOptions

	ctx hvacContext

	state   State
	stateMu sync.RWMutex

	events chan Event
	quit   chan struct{}

	running bool
	runMu   sync.Mutex

	hooks []TransitionHook

	defrostTimer  clock.Timer
	overrideTimer clock.Timer
}

// New creates a stopped machine in the idle state. The hold policy keeps an
// active heating/cooling state through re-evaluations inside the hysteresis
// band; pass the engine for both seams unless an alternative decider is
// plugged in.
func New(hvac config.HVACOptions, decider engine.Decider, hold engine.HoldPolicy, tracker DefrostTracker, act Actuator, clk clock.Clock, logger *zap.Logger) *Machine {
	now := clk.Now()
	return &Machine{
		clock:   clk,
		logger:  logger.Named("machine"),
		decider: decider,
		hold:    hold,
		tracker: tracker,
		act:     act,
		defrost: hvac.Heating.Defrost,
		state:   StateIdle,
		ctx: hvacContext{
			hour:      now.Hour(),
			isWeekday: clock.IsWeekday(now),
			mode:      hvac.SystemMode,
		},
	}
}

// OnTransition registers a hook. Must be called before Start.
func (m *Machine) OnTransition(hook TransitionHook) {
	m.hooks = append(m.hooks, hook)
}

// Start launches the event goroutine.
func (m *Machine) Start() error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.running {
		return &StateError{Kind: StateErrAlreadyRunning}
	}

	m.events = make(chan Event, eventBufferSize)
	m.quit = make(chan struct{})
	m.running = true

	go m.loop()

	m.logger.Info("State machine started", zap.String("state", string(m.CurrentState())))
	return nil
}

// Stop halts event processing and cancels outstanding timers. Idempotent
// only in effect: a second Stop returns StateError.
func (m *Machine) Stop() error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if !m.running {
		return &StateError{Kind: StateErrNotRunning}
	}

	m.running = false
	close(m.quit)
	m.stopTimers()

	m.logger.Info("State machine stopped")
	return nil
}

// Send enqueues an event for FIFO processing.
func (m *Machine) Send(ev Event) error {
	m.runMu.Lock()
	if !m.running {
		m.runMu.Unlock()
		return &StateError{Kind: StateErrNotRunning}
	}
	events, quit := m.events, m.quit
	m.runMu.Unlock()

	select {
	case events <- ev:
		return nil
	case <-quit:
		return &StateError{Kind: StateErrNotRunning}
	}
}

// CurrentState returns the active state.
func (m *Machine) CurrentState() State {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// CurrentOverride returns the active manual override, if any. Safe for
// concurrent reads; the pointer target is never mutated after commit.
func (m *Machine) CurrentOverride() *Override {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.ctx.override
}

// sendInternal is used by timer callbacks; a stopped machine is not an error
// there.
func (m *Machine) sendInternal(ev Event) {
	if err := m.Send(ev); err != nil {
		m.logger.Debug("Dropping internal event on stopped machine",
			zap.String("event", ev.eventName()))
	}
}

func (m *Machine) stopTimers() {
	if m.defrostTimer != nil {
		m.defrostTimer.Stop()
		m.defrostTimer = nil
	}
	if m.overrideTimer != nil {
		m.overrideTimer.Stop()
		m.overrideTimer = nil
	}
}

func (m *Machine) loop() {
	for {
		select {
		case <-m.quit:
			return
		case ev := <-m.events:
			m.handle(ev)
		}
	}
}

func (m *Machine) handle(ev Event) {
	switch e := ev.(type) {
	case UpdateTemperatures:
		m.mergeTemperatures(e)
	case UpdateConditions:
		m.mergeConditions(e)
	case AutoEvaluate:
		m.handleAutoEvaluate()
	case Heat:
		m.handleHeat()
	case Cool:
		m.handleCool()
	case Off:
		m.handleOff()
	case DefrostNeeded:
		m.handleDefrostNeeded()
	case DefrostComplete:
		m.handleDefrostComplete()
	case ManualOverride:
		m.handleManualOverride(e)
	default:
		m.logger.Warn("Unhandled event", zap.String("event", ev.eventName()))
	}
}

// mergeTemperatures applies a temperature update in any state. Non-finite
// values drop the whole event and preserve the prior context.
func (m *Machine) mergeTemperatures(e UpdateTemperatures) {
	if !isFinite(e.Indoor) || !isFinite(e.Outdoor) {
		m.logger.Debug("Dropping non-finite temperature update",
			zap.Float64("indoor", e.Indoor),
			zap.Float64("outdoor", e.Outdoor))
		return
	}

	indoor, outdoor := e.Indoor, e.Outdoor
	m.stateMu.Lock()
	m.ctx.indoor = &indoor
	m.ctx.outdoor = &outdoor
	m.stateMu.Unlock()
}

func (m *Machine) mergeConditions(e UpdateConditions) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	if e.Hour != nil {
		m.ctx.hour = *e.Hour
	}
	if e.IsWeekday != nil {
		m.ctx.isWeekday = *e.IsWeekday
	}
	if e.SystemMode != nil {
		m.ctx.mode = *e.SystemMode
	}
}

func (m *Machine) handleAutoEvaluate() {
	origin := m.state

	switch m.state {
	case StateDefrosting:
		// A defrost cycle runs to completion.
		m.logger.Debug("Ignoring AUTO_EVALUATE during defrost")
		return
	case StateManualOverride:
		m.clearOverride()
		origin = StateIdle
	}

	m.transitionTo(StateEvaluating, "auto evaluate")
	m.evaluateAndSettle(origin)
}

// evaluateAndSettle resolves the transient evaluating state. The decider
// never recommends heating and cooling at once; overlapping thresholds are
// resolved in favor of heating before the result arrives here. An origin
// of heating or cooling is held while the reading stays inside the
// hysteresis band and the outdoor and active-hours gates pass.
func (m *Machine) evaluateAndSettle(origin State) {
	snap, result, ok := m.decide()

	auto := m.ctx.mode == config.SystemModeAuto

	switch {
	case ok && auto && m.guardHeat(result):
		m.transitionTo(StateHeating, result.Reason)
	case ok && auto && m.guardCool(result):
		m.transitionTo(StateCooling, result.Reason)
	case ok && origin == StateHeating && m.modeAllowsHeat() && m.hold.KeepHeating(snap):
		m.transitionTo(StateHeating, "holding inside hysteresis band")
	case ok && origin == StateCooling && m.modeAllowsCool() && m.hold.KeepCooling(snap):
		m.transitionTo(StateCooling, "holding inside hysteresis band")
	default:
		reason := "no action recommended"
		if ok {
			reason = result.Reason
		}
		m.transitionTo(StateOff, reason)
	}
}

func (m *Machine) handleHeat() {
	switch m.state {
	case StateIdle, StateOff, StateCooling:
		if _, result, ok := m.decide(); ok && m.guardHeat(result) {
			m.transitionTo(StateHeating, result.Reason)
		}
	}
}

func (m *Machine) handleCool() {
	switch m.state {
	case StateIdle, StateOff, StateHeating:
		if _, result, ok := m.decide(); ok && m.guardCool(result) {
			m.transitionTo(StateCooling, result.Reason)
		}
	}
}

func (m *Machine) handleOff() {
	switch m.state {
	case StateHeating, StateCooling, StateDefrosting, StateManualOverride:
		if m.state == StateManualOverride {
			m.clearOverride()
		}
		m.transitionTo(StateIdle, "off requested")
	}
}

func (m *Machine) handleDefrostNeeded() {
	if m.state != StateHeating {
		return
	}
	if _, result, ok := m.decide(); ok && result.NeedsDefrost && m.defrost != nil {
		m.transitionTo(StateDefrosting, "defrost needed")
	}
}

func (m *Machine) handleDefrostComplete() {
	if m.state != StateDefrosting {
		return
	}
	m.transitionTo(StateHeating, "defrost complete")
}

func (m *Machine) handleManualOverride(e ManualOverride) {
	if e.Mode == OverrideAuto {
		// AUTO hands control back to automation immediately.
		if m.state == StateManualOverride {
			m.clearOverride()
		}
		m.transitionTo(StateEvaluating, "override cleared")
		m.evaluateAndSettle(StateIdle)
		return
	}

	m.clearOverride()

	m.stateMu.Lock()
	m.ctx.override = &Override{Mode: e.Mode, Temperature: e.Temperature, ExpiresAt: e.ExpiresAt}
	m.stateMu.Unlock()

	m.transitionTo(StateManualOverride, "manual override "+string(e.Mode))
}

// decide builds a snapshot from the context and consults the decider.
// Returns false when either temperature is missing.
func (m *Machine) decide() (engine.Snapshot, engine.Result, bool) {
	m.stateMu.RLock()
	indoor, outdoor := m.ctx.indoor, m.ctx.outdoor
	hour, weekday := m.ctx.hour, m.ctx.isWeekday
	m.stateMu.RUnlock()

	if indoor == nil || outdoor == nil {
		return engine.Snapshot{}, engine.Result{}, false
	}

	snap := engine.Snapshot{
		IndoorTemp:  *indoor,
		OutdoorTemp: *outdoor,
		Hour:        hour,
		IsWeekday:   weekday,
	}

	result, err := m.decider.Decide(snap)
	if err != nil {
		m.logger.Error("Decider failed", zap.Error(err))
		return snap, engine.Result{}, false
	}
	return snap, result, true
}

func (m *Machine) modeAllowsHeat() bool {
	return m.ctx.mode != config.SystemModeCoolOnly && m.ctx.mode != config.SystemModeOff
}

func (m *Machine) modeAllowsCool() bool {
	return m.ctx.mode != config.SystemModeHeatOnly && m.ctx.mode != config.SystemModeOff
}

// guardHeat: canHeat. System mode permits heating and the engine recommends
// it. Temperature presence is established by decide.
func (m *Machine) guardHeat(result engine.Result) bool {
	return m.modeAllowsHeat() && result.ShouldHeat
}

// guardCool: canCool.
func (m *Machine) guardCool(result engine.Result) bool {
	return m.modeAllowsCool() && result.ShouldCool
}

// transitionTo commits the transition, runs entry actions, and notifies
// hooks. Runs on the event goroutine only.
func (m *Machine) transitionTo(to State, reason string) {
	m.stateMu.Lock()
	from := m.state
	m.state = to
	indoor := m.ctx.indoor
	m.stateMu.Unlock()

	if from == StateDefrosting && m.defrostTimer != nil {
		m.defrostTimer.Stop()
		m.defrostTimer = nil
	}

	now := m.clock.Now()

	m.logger.Info("Transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("reason", reason))

	switch to {
	case StateHeating:
		m.runAction(m.act.StartHeating(nil))
	case StateCooling:
		m.runAction(m.act.StartCooling(nil))
	case StateIdle, StateOff:
		m.runAction(m.act.StopAll())
	case StateDefrosting:
		m.enterDefrost(now)
	case StateManualOverride:
		m.applyOverride()
	}

	for _, hook := range m.hooks {
		hook(from, to, now, indoor)
	}
}

func (m *Machine) runAction(err error) {
	if err != nil {
		m.logger.Error("Entry action failed", zap.Error(err))
	}
}

// enterDefrost releases the units, records the cycle start, and arms the
// completion timer.
func (m *Machine) enterDefrost(now time.Time) {
	m.tracker.MarkDefrostStarted(now)
	m.runAction(m.act.StopAll())

	if m.defrost == nil {
		return
	}
	m.defrostTimer = m.clock.AfterFunc(m.defrost.Duration(), func() {
		m.sendInternal(DefrostComplete{})
	})
}

func (m *Machine) applyOverride() {
	m.stateMu.RLock()
	ov := m.ctx.override
	m.stateMu.RUnlock()
	if ov == nil {
		return
	}

	switch ov.Mode {
	case OverrideHeat:
		m.runAction(m.act.StartHeating(ov.Temperature))
	case OverrideCool:
		m.runAction(m.act.StartCooling(ov.Temperature))
	case OverrideOff:
		m.runAction(m.act.StopAll())
	}

	if ov.ExpiresAt != nil {
		d := ov.ExpiresAt.Sub(m.clock.Now())
		if d < 0 {
			d = 0
		}
		m.overrideTimer = m.clock.AfterFunc(d, func() {
			m.sendInternal(AutoEvaluate{})
		})
	}
}

func (m *Machine) clearOverride() {
	m.stateMu.Lock()
	m.ctx.override = nil
	m.stateMu.Unlock()

	if m.overrideTimer != nil {
		m.overrideTimer.Stop()
		m.overrideTimer = nil
	}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
