package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jluzny/hag-go/internal/api"
	"github.com/jluzny/hag-go/internal/clock"
	"github.com/jluzny/hag-go/internal/config"
	"github.com/jluzny/hag-go/internal/hass"
	"github.com/jluzny/hag-go/internal/hvac/controller"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the HVAC controller daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(opts)
		},
	}
}

func runDaemon(opts *rootOptions) error {
	bootLogger, err := zap.NewProduction()
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.resolveConfigPath(), bootLogger)
	if err != nil {
		return err
	}

	logger, err := opts.newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var client hass.Client = hass.NewWSClient(hass.Options{
		WSURL:      cfg.Hass.WSURL,
		RestURL:    cfg.Hass.RestURL,
		Token:      cfg.Hass.Token,
		MaxRetries: cfg.Hass.MaxRetries,
		RetryDelay: cfg.Hass.RetryDelay(),
		Timeout:    cfg.Hass.Timeout(),
	}, logger)

	if opts.readOnly {
		logger.Info("Running in read-only mode, service calls will be logged only")
		client = hass.NewDryRunClient(client, logger)
	}

	ctrl := controller.New(*cfg, client, clock.NewRealClock(), logger)
	if err := ctrl.Start(); err != nil {
		return err
	}

	apiServer := api.NewServer(ctrl, logger, cfg.App.APIPort)
	if err := apiServer.Start(); err != nil {
		ctrl.Stop()
		return err
	}

	logger.Info("HVAC controller running",
		zap.String("system_mode", string(cfg.HVAC.SystemMode)),
		zap.Int("api_port", cfg.App.APIPort))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully")

	if err := apiServer.Stop(); err != nil {
		logger.Error("API server shutdown failed", zap.Error(err))
	}
	return ctrl.Stop()
}
