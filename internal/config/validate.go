package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags plus the cross-field rules the tags cannot
// express. It returns a ConfigurationError describing the first violation.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			v := verrs[0]
			return &ConfigurationError{
				Reason: fmt.Sprintf("field %s failed rule %q (value %v)", v.Namespace(), v.Tag(), v.Value()),
			}
		}
		return &ConfigurationError{Reason: "schema validation", Err: err}
	}

	if err := validateThresholds("heating", c.HVAC.Heating.Thresholds); err != nil {
		return err
	}
	if err := validateThresholds("cooling", c.HVAC.Cooling.Thresholds); err != nil {
		return err
	}

	for _, e := range c.HVAC.Entities {
		if strings.Count(e.EntityID, ".") != 1 {
			return &ConfigurationError{
				Reason: fmt.Sprintf("entity id %q must contain exactly one dot", e.EntityID),
			}
		}
	}

	if !strings.HasPrefix(c.HVAC.TempSensor, "sensor.") {
		return &ConfigurationError{
			Reason: fmt.Sprintf("tempSensor %q must be a sensor entity", c.HVAC.TempSensor),
		}
	}
	if !strings.HasPrefix(c.HVAC.OutdoorSensor, "sensor.") {
		return &ConfigurationError{
			Reason: fmt.Sprintf("outdoorSensor %q must be a sensor entity", c.HVAC.OutdoorSensor),
		}
	}

	return nil
}

func validateThresholds(mode string, t TemperatureThresholds) error {
	if t.IndoorMin >= t.IndoorMax {
		return &ConfigurationError{
			Reason: fmt.Sprintf("%s indoorMin (%.1f) must be below indoorMax (%.1f)", mode, t.IndoorMin, t.IndoorMax),
		}
	}
	if t.OutdoorMin >= t.OutdoorMax {
		return &ConfigurationError{
			Reason: fmt.Sprintf("%s outdoorMin (%.1f) must be below outdoorMax (%.1f)", mode, t.OutdoorMin, t.OutdoorMax),
		}
	}
	return nil
}
