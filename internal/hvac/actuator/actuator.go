// Package actuator drives the configured climate units through the Home
// Assistant gateway. Each heating/cooling pass reads the unit's own room
// sensor and decides per unit whether to switch it on, switch it off, or
// leave it alone; units without a readable sensor are skipped, never
// blindly driven.
package actuator

import (
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/jluzny/hag-go/internal/config"
	"github.com/jluzny/hag-go/internal/hass"
)

// Actuator fans state machine decisions out to the individual climate
// units. Units are visited in configuration order; one failing unit does
// not stop the pass.
type Actuator struct {
	client   hass.Client
	entities []config.HVACEntity
	heating  config.HeatingOptions
	cooling  config.CoolingOptions
	logger   *zap.Logger

	mu      sync.Mutex
	lastErr error
}

// New creates an actuator over the configured units.
func New(client hass.Client, hvac config.HVACOptions, logger *zap.Logger) *Actuator {
	return &Actuator{
		client:   client,
		entities: hvac.Entities,
		heating:  hvac.Heating,
		cooling:  hvac.Cooling,
		logger:   logger.Named("actuator"),
	}
}

// LastError returns the most recent per-unit failure, for the status
// snapshot. Cleared by the next fully successful pass.
func (a *Actuator) LastError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// StartHeating runs a heating pass. A unit whose room is already above the
// heating indoorMax is switched off instead; rooms between the thresholds,
// boundaries included, are left as they are. A non-nil setpoint overrides
// the configured heating temperature.
func (a *Actuator) StartHeating(setpoint *float64) error {
	target := a.heating.Temperature
	if setpoint != nil {
		target = *setpoint
	}
	t := a.heating.Thresholds
	return a.pass("heat", target, a.heating.PresetMode, func(room float64) action {
		switch {
		case room < t.IndoorMin:
			return actionOn
		case room > t.IndoorMax:
			return actionOff
		default:
			return actionLeave
		}
	})
}

// StartCooling runs a cooling pass, symmetric to StartHeating.
func (a *Actuator) StartCooling(setpoint *float64) error {
	target := a.cooling.Temperature
	if setpoint != nil {
		target = *setpoint
	}
	t := a.cooling.Thresholds
	return a.pass("cool", target, a.cooling.PresetMode, func(room float64) action {
		switch {
		case room > t.IndoorMax:
			return actionOn
		case room < t.IndoorMin:
			return actionOff
		default:
			return actionLeave
		}
	})
}

// StopAll turns every enabled unit off.
func (a *Actuator) StopAll() error {
	var firstErr error
	for _, entity := range a.entities {
		if !entity.Enabled {
			continue
		}
		if err := a.turnOff(entity); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.record(firstErr)
	return firstErr
}

type action int

const (
	actionLeave action = iota
	actionOn
	actionOff
)

// pass visits each enabled unit, reads its room sensor, and applies the
// per-unit decision. A sensor read failure skips that unit only.
func (a *Actuator) pass(mode string, target float64, preset string, decide func(room float64) action) error {
	var firstErr error

	for _, entity := range a.entities {
		if !entity.Enabled {
			continue
		}

		room, err := a.readRoomTemperature(entity)
		if err != nil {
			a.logger.Warn("Skipping unit, room sensor unavailable",
				zap.String("entity", entity.EntityID),
				zap.String("sensor", entity.SensorID()),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		var actErr error
		switch decide(room) {
		case actionOn:
			actErr = a.turnOn(entity, mode, target, preset)
		case actionOff:
			actErr = a.turnOff(entity)
		case actionLeave:
			a.logger.Debug("Leaving unit unchanged",
				zap.String("entity", entity.EntityID),
				zap.Float64("room", room))
		}
		if actErr != nil && firstErr == nil {
			firstErr = actErr
		}
	}

	a.record(firstErr)
	return firstErr
}

// turnOn sets mode, target temperature, and preset in sequence. The preset
// call is skipped when no preset is configured.
func (a *Actuator) turnOn(entity config.HVACEntity, mode string, target float64, preset string) error {
	a.logger.Info("Switching unit on",
		zap.String("entity", entity.EntityID),
		zap.String("mode", mode),
		zap.Float64("target", target))

	if err := a.client.ControlEntity(entity.EntityID, "climate", "set_hvac_mode", "hvac_mode", mode); err != nil {
		return err
	}
	if err := a.client.ControlEntity(entity.EntityID, "climate", "set_temperature", "temperature", target); err != nil {
		return err
	}
	if preset != "" {
		if err := a.client.ControlEntity(entity.EntityID, "climate", "set_preset_mode", "preset_mode", preset); err != nil {
			return err
		}
	}
	return nil
}

func (a *Actuator) turnOff(entity config.HVACEntity) error {
	a.logger.Info("Switching unit off", zap.String("entity", entity.EntityID))
	return a.client.CallService("climate", "turn_off", map[string]any{
		"entity_id": entity.EntityID,
	})
}

func (a *Actuator) readRoomTemperature(entity config.HVACEntity) (float64, error) {
	state, err := a.client.GetState(entity.SensorID())
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(state.State, 64)
}

func (a *Actuator) record(err error) {
	a.mu.Lock()
	a.lastErr = err
	a.mu.Unlock()
}
