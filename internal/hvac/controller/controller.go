// Package controller wires the gateway, engine, state machine, actuator,
// cache, and monitor into the running daemon. It owns sensor ingestion,
// the periodic evaluation tick, and the status snapshot.
package controller

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jluzny/hag-go/internal/clock"
	"github.com/jluzny/hag-go/internal/config"
	"github.com/jluzny/hag-go/internal/hass"
	"github.com/jluzny/hag-go/internal/hvac/actuator"
	"github.com/jluzny/hag-go/internal/hvac/cache"
	"github.com/jluzny/hag-go/internal/hvac/engine"
	"github.com/jluzny/hag-go/internal/hvac/machine"
	"github.com/jluzny/hag-go/internal/hvac/monitor"
)

// Status is a point-in-time snapshot of the daemon for the operator API.
type Status struct {
	Running        bool              `json:"running"`
	Connected      bool              `json:"connected"`
	CurrentState   machine.State     `json:"currentState"`
	SystemMode     config.SystemMode `json:"systemMode"`
	IndoorTemp     *float64          `json:"indoorTemp,omitempty"`
	OutdoorTemp    *float64          `json:"outdoorTemp,omitempty"`
	LastError      string            `json:"lastError,omitempty"`
	CyclingHealth  monitor.Health    `json:"cyclingHealth"`
	ActiveOverride *machine.Override `json:"activeOverride,omitempty"`
}

// Controller is the supervisory loop over one Home Assistant instance.
type Controller struct {
	cfg     config.Config
	client  hass.Client
	clock   clock.Clock
	logger  *zap.Logger
	engine  *engine.Engine
	machine *machine.Machine
	act     *actuator.Actuator
	monitor *monitor.Monitor
	cache   *cache.Cache

	mu          sync.Mutex
	running     bool
	subs        []hass.Subscription
	tickTimer   clock.Timer
	prevSettled machine.State
	indoor      *float64
	outdoor     *float64
	lastErr     error
}

// New assembles a controller. Nothing runs until Start.
func New(cfg config.Config, client hass.Client, clk clock.Clock, logger *zap.Logger) *Controller {
	log := logger.Named("controller")

	eng := engine.New(cfg.HVAC, clk, logger)
	act := actuator.New(client, cfg.HVAC, logger)
	mach := machine.New(cfg.HVAC, eng, eng, eng, act, clk, logger)
	mon := monitor.New(clk, logger)

	c := &Controller{
		cfg:         cfg,
		client:      client,
		clock:       clk,
		logger:      log,
		engine:      eng,
		machine:     mach,
		act:         act,
		monitor:     mon,
		cache:       cache.New(cfg.HVAC.EvaluationCacheMs, clk),
		prevSettled: machine.StateIdle,
	}

	mach.OnTransition(c.onTransition)
	return c
}

// Machine exposes the state machine for tests and the operator API.
func (c *Controller) Machine() *machine.Machine {
	return c.machine
}

// Start connects the gateway, subscribes the sensors, seeds initial
// readings, and launches the state machine and the periodic tick.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return errors.New("controller already running")
	}

	if err := c.client.Connect(); err != nil {
		return err
	}

	for _, sensor := range []string{c.cfg.HVAC.TempSensor, c.cfg.HVAC.OutdoorSensor} {
		sub, err := c.client.SubscribeStateChanged(sensor, c.onSensorChange)
		if err != nil {
			c.teardownLocked()
			return fmt.Errorf("subscribe %s: %w", sensor, err)
		}
		c.subs = append(c.subs, sub)
	}

	if err := c.machine.Start(); err != nil {
		c.teardownLocked()
		return err
	}

	c.running = true
	c.mu.Unlock()

	c.seedReadings()
	c.refreshConditions()
	c.dispatchEvaluation()

	c.mu.Lock()
	c.armTickLocked()

	c.logger.Info("Controller started",
		zap.String("temp_sensor", c.cfg.HVAC.TempSensor),
		zap.String("outdoor_sensor", c.cfg.HVAC.OutdoorSensor),
		zap.Duration("check_interval", c.cfg.Hass.CheckInterval()))
	return nil
}

// Stop halts the tick, the machine, and the gateway connection. Safe to
// call more than once.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	c.running = false

	var errs []error
	if err := c.machine.Stop(); err != nil {
		errs = append(errs, err)
	}
	c.teardownLocked()
	if err := c.client.Disconnect(); err != nil {
		errs = append(errs, err)
	}

	c.logger.Info("Controller stopped")
	return errors.Join(errs...)
}

// Override forces the machine into a manual mode. A zero duration means
// the override lasts until the next evaluation clears it.
func (c *Controller) Override(mode machine.OverrideMode, temperature *float64, duration time.Duration) error {
	ev := machine.ManualOverride{Mode: mode, Temperature: temperature}
	if duration > 0 {
		expires := c.clock.Now().Add(duration)
		ev.ExpiresAt = &expires
	}
	return c.machine.Send(ev)
}

// Status returns the operator snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	running := c.running
	indoor, outdoor := c.indoor, c.outdoor
	lastErr := c.lastErr
	c.mu.Unlock()

	st := Status{
		Running:        running,
		Connected:      c.client.IsConnected(),
		CurrentState:   c.machine.CurrentState(),
		SystemMode:     c.cfg.HVAC.SystemMode,
		IndoorTemp:     indoor,
		OutdoorTemp:    outdoor,
		CyclingHealth:  c.monitor.HysteresisHealth(),
		ActiveOverride: c.machine.CurrentOverride(),
	}
	if lastErr != nil {
		st.LastError = lastErr.Error()
	} else if err := c.act.LastError(); err != nil {
		st.LastError = err.Error()
	}
	return st
}

// onSensorChange ingests a temperature update from either sensor. Both
// readings must be present and finite before an evaluation is dispatched.
func (c *Controller) onSensorChange(entityID string, oldState, newState *hass.State) {
	if newState == nil {
		return
	}

	value, err := strconv.ParseFloat(newState.State, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		c.logger.Debug("Ignoring unusable sensor reading",
			zap.String("entity", entityID),
			zap.String("state", newState.State))
		return
	}

	c.mu.Lock()
	switch entityID {
	case c.cfg.HVAC.TempSensor:
		c.indoor = &value
	case c.cfg.HVAC.OutdoorSensor:
		c.outdoor = &value
	default:
		c.mu.Unlock()
		return
	}
	ready := c.indoor != nil && c.outdoor != nil
	var indoor, outdoor float64
	if ready {
		indoor, outdoor = *c.indoor, *c.outdoor
	}
	c.mu.Unlock()

	if !ready {
		return
	}

	if err := c.machine.Send(machine.UpdateTemperatures{Indoor: indoor, Outdoor: outdoor}); err != nil {
		c.recordError(err)
		return
	}
	c.dispatchEvaluation()
}

// dispatchEvaluation consults the evaluation cache before waking the state
// machine. An unexpired hit for the same fingerprint suppresses the dispatch
// entirely, throttling repeated service calls under sensor jitter; the hold
// policy and the periodic tick keep the machine live between misses.
func (c *Controller) dispatchEvaluation() {
	c.mu.Lock()
	indoor, outdoor := c.indoor, c.outdoor
	c.mu.Unlock()

	if indoor == nil || outdoor == nil {
		return
	}

	now := c.clock.Now()
	snap := engine.Snapshot{
		IndoorTemp:  *indoor,
		OutdoorTemp: *outdoor,
		Hour:        now.Hour(),
		IsWeekday:   clock.IsWeekday(now),
	}

	lastDefrost, hasDefrosted := c.engine.LastDefrost()
	key := cache.Fingerprint(snap, c.cfg.HVAC.SystemMode, lastDefrost, hasDefrosted)

	if _, hit := c.cache.Get(key); hit {
		c.logger.Debug("Evaluation suppressed by cache")
		return
	}
	result := c.engine.Evaluate(snap)
	c.cache.Put(key, result)

	if err := c.machine.Send(machine.AutoEvaluate{}); err != nil {
		c.recordError(err)
		return
	}
	if result.NeedsDefrost && c.machine.CurrentState() == machine.StateHeating {
		if err := c.machine.Send(machine.DefrostNeeded{}); err != nil {
			c.recordError(err)
		}
	}
}

// onTransition is the machine hook. Transient evaluating hops are not
// state changes; only settled-to-settled moves reach the monitor.
func (c *Controller) onTransition(from, to machine.State, at time.Time, indoorTemp *float64) {
	if to == machine.StateEvaluating {
		return
	}

	c.mu.Lock()
	prev := c.prevSettled
	c.prevSettled = to
	c.mu.Unlock()

	if prev == to {
		return
	}
	c.monitor.Observe(prev, to, at, indoorTemp)
}

// seedReadings fetches both sensors once so the machine does not wait for
// the first state_changed event. Failures are logged, not fatal; events
// will fill the gap.
func (c *Controller) seedReadings() {
	for _, sensor := range []string{c.cfg.HVAC.TempSensor, c.cfg.HVAC.OutdoorSensor} {
		state, err := c.client.GetState(sensor)
		if err != nil {
			c.logger.Warn("Initial sensor read failed",
				zap.String("entity", sensor), zap.Error(err))
			continue
		}
		c.onSensorChange(sensor, nil, state)
	}
}

// refreshConditions pushes the wall-clock hour, weekday flag, and system
// mode into the machine context.
func (c *Controller) refreshConditions() {
	now := c.clock.Now()
	hour := now.Hour()
	weekday := clock.IsWeekday(now)
	mode := c.cfg.HVAC.SystemMode

	if err := c.machine.Send(machine.UpdateConditions{
		Hour:       &hour,
		IsWeekday:  &weekday,
		SystemMode: &mode,
	}); err != nil {
		c.recordError(err)
	}
}

// armTickLocked schedules the next periodic evaluation. Caller holds the
// lock. The timer reschedules itself until Stop.
func (c *Controller) armTickLocked() {
	c.tickTimer = c.clock.AfterFunc(c.cfg.Hass.CheckInterval(), c.tick)
}

func (c *Controller) tick() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.armTickLocked()
	c.mu.Unlock()

	c.refreshConditions()
	c.dispatchEvaluation()
}

func (c *Controller) recordError(err error) {
	c.logger.Error("Controller operation failed", zap.Error(err))
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

// teardownLocked cancels the tick and unsubscribes. Caller holds the lock.
func (c *Controller) teardownLocked() {
	if c.tickTimer != nil {
		c.tickTimer.Stop()
		c.tickTimer = nil
	}
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Debug("Unsubscribe failed", zap.Error(err))
		}
	}
	c.subs = nil
}
