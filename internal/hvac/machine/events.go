package machine

import (
	"fmt"
	"time"

	"github.com/jluzny/hag-go/internal/config"
)

// OverrideMode is the mode requested by a manual override.
type OverrideMode string

const (
	OverrideHeat OverrideMode = "heat"
	OverrideCool OverrideMode = "cool"
	OverrideOff  OverrideMode = "off"
	OverrideAuto OverrideMode = "auto"
)

// ParseOverrideMode converts an operator-supplied string to an OverrideMode.
func ParseOverrideMode(s string) (OverrideMode, error) {
	switch OverrideMode(s) {
	case OverrideHeat, OverrideCool, OverrideOff, OverrideAuto:
		return OverrideMode(s), nil
	}
	return "", fmt.Errorf("unknown override mode %q", s)
}

// Event is the closed set of inputs the state machine reacts to.
type Event interface {
	eventName() string
}

// AutoEvaluate requests a re-evaluation of the current context.
type AutoEvaluate struct{}

// UpdateTemperatures carries fresh indoor and outdoor readings. Non-finite
// values cause the whole event to be dropped.
type UpdateTemperatures struct {
	Indoor  float64
	Outdoor float64
}

// UpdateConditions merges partial context updates; nil fields are left
// unchanged.
type UpdateConditions struct {
	Hour       *int
	IsWeekday  *bool
	SystemMode *config.SystemMode
}

// Heat requests an immediate transition to heating, subject to guards.
type Heat struct{}

// Cool requests an immediate transition to cooling, subject to guards.
type Cool struct{}

// Off requests a stop of all climate output.
type Off struct{}

// DefrostNeeded requests a defrost cycle while heating, subject to guards.
type DefrostNeeded struct{}

// DefrostComplete ends a defrost cycle and resumes heating. Emitted by the
// defrost timer or by the operator.
type DefrostComplete struct{}

// ManualOverride forces a mode until the next AutoEvaluate or until
// ExpiresAt, whichever comes first.
type ManualOverride struct {
	Mode        OverrideMode
	Temperature *float64
	ExpiresAt   *time.Time
}

func (AutoEvaluate) eventName() string       { return "AUTO_EVALUATE" }
func (UpdateTemperatures) eventName() string { return "UPDATE_TEMPERATURES" }
func (UpdateConditions) eventName() string   { return "UPDATE_CONDITIONS" }
func (Heat) eventName() string               { return "HEAT" }
func (Cool) eventName() string               { return "COOL" }
func (Off) eventName() string                { return "OFF" }
func (DefrostNeeded) eventName() string      { return "DEFROST_NEEDED" }
func (DefrostComplete) eventName() string    { return "DEFROST_COMPLETE" }
func (ManualOverride) eventName() string     { return "MANUAL_OVERRIDE" }

// StateErrorKind distinguishes the invalid machine operations.
type StateErrorKind string

const (
	StateErrNotRunning     StateErrorKind = "not_running"
	StateErrAlreadyRunning StateErrorKind = "already_running"
)

// StateError reports an invalid operation on the machine: sending to or
// stopping a stopped machine, or starting a running one. Programmer error,
// surfaced to the caller.
type StateError struct {
	Kind StateErrorKind
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state machine %s", e.Kind)
}
