package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jluzny/hag-go/internal/config"
)

const defaultConfigPath = "config/hvac_config.yaml"

type rootOptions struct {
	configPath string
	logLevel   string
	readOnly   bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "hag",
		Short:         "Home Assistant HVAC supervisory controller",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Absent .env is the normal case outside development.
			_ = godotenv.Load()
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"path to the YAML configuration file (or HAG_CONFIG_FILE)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "",
		"log level: debug, info, warn, error (overrides configuration)")
	cmd.PersistentFlags().BoolVar(&opts.readOnly, "read-only", false,
		"log service calls instead of sending them to Home Assistant")

	cmd.AddCommand(
		newRunCommand(opts),
		newValidateCommand(opts),
		newStatusCommand(),
		newOverrideCommand(),
	)

	return cmd
}

// resolveConfigPath prefers the flag, then HAG_CONFIG_FILE, then the
// conventional default location.
func (o *rootOptions) resolveConfigPath() string {
	if o.configPath != "" {
		return o.configPath
	}
	if env := os.Getenv("HAG_CONFIG_FILE"); env != "" {
		return env
	}
	return defaultConfigPath
}

// newLogger builds the process logger. The flag wins over the configured
// level.
func (o *rootOptions) newLogger(cfg *config.Config) (*zap.Logger, error) {
	levelName := cfg.App.LogLevel
	if o.logLevel != "" {
		levelName = o.logLevel
	}

	level, err := zapcore.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", levelName, err)
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}
