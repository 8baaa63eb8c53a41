// Package config defines the controller configuration model: YAML loading,
// environment variable overrides, and validation. The configuration is
// immutable after Load.
package config

import (
	"fmt"
	"strings"
	"time"
)

// SystemMode restricts which transitions the state machine may take.
type SystemMode string

const (
	SystemModeAuto     SystemMode = "auto"
	SystemModeHeatOnly SystemMode = "heat_only"
	SystemModeCoolOnly SystemMode = "cool_only"
	SystemModeOff      SystemMode = "off"
)

// ParseSystemMode converts a configuration or override string to a SystemMode.
func ParseSystemMode(s string) (SystemMode, error) {
	switch SystemMode(strings.ToLower(strings.TrimSpace(s))) {
	case SystemModeAuto:
		return SystemModeAuto, nil
	case SystemModeHeatOnly:
		return SystemModeHeatOnly, nil
	case SystemModeCoolOnly:
		return SystemModeCoolOnly, nil
	case SystemModeOff:
		return SystemModeOff, nil
	}
	return "", fmt.Errorf("unknown system mode %q", s)
}

// Config is the root configuration document.
type Config struct {
	App  AppOptions  `yaml:"appOptions"`
	Hass HassOptions `yaml:"hassOptions" validate:"required"`
	HVAC HVACOptions `yaml:"hvacOptions" validate:"required"`
}

// AppOptions holds application-wide settings.
type AppOptions struct {
	LogLevel      string  `yaml:"logLevel" validate:"oneof=debug info warn error"`
	UseAI         bool    `yaml:"useAi"`
	AIModel       string  `yaml:"aiModel"`
	AITemperature float64 `yaml:"aiTemperature" validate:"gte=0,lte=2"`
	OpenAIAPIKey  string  `yaml:"openaiApiKey"`

	// APIPort is the listen port for the local status/override API used by
	// the status and override subcommands.
	APIPort int `yaml:"apiPort" validate:"gt=0,lte=65535"`
}

// HassOptions describes the connection to Home Assistant.
type HassOptions struct {
	WSURL              string `yaml:"wsUrl" validate:"required,uri"`
	RestURL            string `yaml:"restUrl" validate:"required,uri"`
	Token              string `yaml:"token" validate:"required"`
	MaxRetries         int    `yaml:"maxRetries" validate:"gte=0"`
	RetryDelayMs       int    `yaml:"retryDelayMs" validate:"gt=0"`
	StateCheckInterval int    `yaml:"stateCheckInterval" validate:"gt=0"`
	TimeoutMs          int    `yaml:"timeoutMs" validate:"gt=0"`
}

// RetryDelay returns the base reconnect delay as a duration.
func (h HassOptions) RetryDelay() time.Duration {
	return time.Duration(h.RetryDelayMs) * time.Millisecond
}

// Timeout returns the per-call timeout as a duration.
func (h HassOptions) Timeout() time.Duration {
	return time.Duration(h.TimeoutMs) * time.Millisecond
}

// CheckInterval returns the periodic evaluation interval as a duration.
func (h HassOptions) CheckInterval() time.Duration {
	return time.Duration(h.StateCheckInterval) * time.Millisecond
}

// HVACOptions describes the sensors, units, and control parameters.
type HVACOptions struct {
	TempSensor        string         `yaml:"tempSensor" validate:"required"`
	OutdoorSensor     string         `yaml:"outdoorSensor" validate:"required"`
	SystemMode        SystemMode     `yaml:"systemMode" validate:"oneof=auto heat_only cool_only off"`
	Entities          []HVACEntity   `yaml:"hvacEntities" validate:"min=1,dive"`
	Heating           HeatingOptions `yaml:"heating" validate:"required"`
	Cooling           CoolingOptions `yaml:"cooling" validate:"required"`
	ActiveHours       *ActiveHours   `yaml:"activeHours"`
	EvaluationCacheMs int            `yaml:"evaluationCacheMs" validate:"gte=0,lte=5000"`
}

// HVACEntity describes one controllable climate unit.
type HVACEntity struct {
	EntityID string `yaml:"entityId" validate:"required"`
	Enabled  bool   `yaml:"enabled"`
	Defrost  bool   `yaml:"defrost"`
}

// Name returns the entity name without its domain prefix.
func (e HVACEntity) Name() string {
	if i := strings.Index(e.EntityID, "."); i >= 0 {
		return e.EntityID[i+1:]
	}
	return e.EntityID
}

// SensorID returns the derived room temperature sensor for this unit.
func (e HVACEntity) SensorID() string {
	return fmt.Sprintf("sensor.%s_temperature", e.Name())
}

// TemperatureThresholds is a hysteresis band plus outdoor operating limits.
// The gap between IndoorMin and IndoorMax is the anti-cycling margin; the
// pair must never be collapsed into a single setpoint.
type TemperatureThresholds struct {
	IndoorMin  float64 `yaml:"indoorMin" validate:"gte=-50,lte=60"`
	IndoorMax  float64 `yaml:"indoorMax" validate:"gte=-50,lte=60"`
	OutdoorMin float64 `yaml:"outdoorMin" validate:"gte=-50,lte=60"`
	OutdoorMax float64 `yaml:"outdoorMax" validate:"gte=-50,lte=60"`
}

// DefrostOptions configures the heat-pump defrost cycle.
type DefrostOptions struct {
	TemperatureThreshold float64 `yaml:"temperatureThreshold" validate:"gte=-50,lte=60"`
	PeriodSeconds        int     `yaml:"periodSeconds" validate:"gt=0"`
	DurationSeconds      int     `yaml:"durationSeconds" validate:"gt=0"`
}

// Period returns the minimum interval between defrost cycles.
func (d DefrostOptions) Period() time.Duration {
	return time.Duration(d.PeriodSeconds) * time.Second
}

// Duration returns how long a defrost cycle runs.
func (d DefrostOptions) Duration() time.Duration {
	return time.Duration(d.DurationSeconds) * time.Second
}

// HeatingOptions configures the heating strategy.
type HeatingOptions struct {
	Temperature float64               `yaml:"temperature" validate:"gte=10,lte=35"`
	PresetMode  string                `yaml:"presetMode"`
	Thresholds  TemperatureThresholds `yaml:"temperatureThresholds"`
	Defrost     *DefrostOptions       `yaml:"defrost"`
}

// CoolingOptions configures the cooling strategy.
type CoolingOptions struct {
	Temperature float64               `yaml:"temperature" validate:"gte=15,lte=35"`
	PresetMode  string                `yaml:"presetMode"`
	Thresholds  TemperatureThresholds `yaml:"temperatureThresholds"`
}

// ActiveHours is the window during which heating and cooling are permitted.
// Hours are [0, 23]; the effective start is StartWeekday on Monday through
// Friday and Start otherwise. Both boundary hours are inclusive, and a window
// whose effective start exceeds End spans midnight.
type ActiveHours struct {
	Start        int `yaml:"start" validate:"gte=0,lte=23"`
	StartWeekday int `yaml:"startWeekday" validate:"gte=0,lte=23"`
	End          int `yaml:"end" validate:"gte=0,lte=23"`
}

// Contains reports whether the given hour falls in the window.
func (a ActiveHours) Contains(hour int, isWeekday bool) bool {
	start := a.Start
	if isWeekday {
		start = a.StartWeekday
	}
	if start > a.End {
		return hour >= start || hour <= a.End
	}
	return hour >= start && hour <= a.End
}

// Default returns a Config populated with default values. Loading unmarshals
// the file over these, so absent fields keep their defaults.
func Default() Config {
	return Config{
		App: AppOptions{
			LogLevel: "info",
			AIModel:  "gpt-4o-mini",
			APIPort:  8126,
		},
		Hass: HassOptions{
			MaxRetries:         5,
			RetryDelayMs:       1000,
			StateCheckInterval: 300000,
			TimeoutMs:          10000,
		},
		HVAC: HVACOptions{
			SystemMode:        SystemModeAuto,
			EvaluationCacheMs: 100,
		},
	}
}
