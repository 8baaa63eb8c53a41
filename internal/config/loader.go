package config

import (
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ConfigurationError indicates a missing, unparseable, or invalid
// configuration. It is fatal at startup.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Load reads the YAML file at path, applies environment variable overrides,
// and validates the result. The returned Config must not be mutated.
func Load(path string, logger *zap.Logger) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("reading %s", path), Err: err}
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("parsing %s", path), Err: err}
	}

	applyEnvOverrides(&cfg, logger)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Info("Configuration loaded",
		zap.String("path", path),
		zap.String("system_mode", string(cfg.HVAC.SystemMode)),
		zap.Int("entities", len(cfg.HVAC.Entities)))

	return &cfg, nil
}

// applyEnvOverrides replaces configuration fields from the documented
// environment variables when they are set.
func applyEnvOverrides(cfg *Config, logger *zap.Logger) {
	overrideString := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
			logger.Debug("Config field overridden from environment", zap.String("var", name))
		}
	}

	overrideString("HASS_WS_URL", &cfg.Hass.WSURL)
	overrideString("HASS_REST_URL", &cfg.Hass.RestURL)
	overrideString("HASS_TOKEN", &cfg.Hass.Token)
	overrideString("HAG_LOG_LEVEL", &cfg.App.LogLevel)
	overrideString("HAG_AI_MODEL", &cfg.App.AIModel)
	overrideString("OPENAI_API_KEY", &cfg.App.OpenAIAPIKey)
	overrideString("HAG_TEMP_SENSOR", &cfg.HVAC.TempSensor)
	overrideString("HAG_OUTDOOR_SENSOR", &cfg.HVAC.OutdoorSensor)

	if v, ok := os.LookupEnv("HASS_MAX_RETRIES"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Hass.MaxRetries = n
		} else {
			logger.Warn("Ignoring non-numeric HASS_MAX_RETRIES", zap.String("value", v))
		}
	}

	if v, ok := os.LookupEnv("HAG_USE_AI"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.App.UseAI = b
		} else {
			logger.Warn("Ignoring non-boolean HAG_USE_AI", zap.String("value", v))
		}
	}

	if v, ok := os.LookupEnv("HAG_SYSTEM_MODE"); ok {
		if mode, err := ParseSystemMode(v); err == nil {
			cfg.HVAC.SystemMode = mode
		} else {
			logger.Warn("Ignoring invalid HAG_SYSTEM_MODE", zap.String("value", v))
		}
	}
}
