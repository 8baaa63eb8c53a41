package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/jluzny/hag-go/internal/api"
	"github.com/jluzny/hag-go/internal/hass"
	"github.com/jluzny/hag-go/internal/hvac/machine"
)

func newOverrideCommand() *cobra.Command {
	var (
		addr        string
		temperature float64
		duration    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "override <heat|cool|off|auto>",
		Short: "Force a manual mode on a running daemon",
		Long: `Force the daemon into a manual mode. The override lasts until the next
evaluation cycle, or for --duration if given. Mode auto hands control back
to automation immediately.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := machine.ParseOverrideMode(args[0]); err != nil {
				return err
			}

			req := api.OverrideRequest{
				Mode:            args[0],
				DurationSeconds: int(duration.Seconds()),
			}
			if cmd.Flags().Changed("temperature") {
				req.Temperature = &temperature
			}

			if err := postOverride(addr, req); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "override %s accepted\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8126",
		"base URL of the daemon API")
	cmd.Flags().Float64Var(&temperature, "temperature", 0,
		"override setpoint in degrees")
	cmd.Flags().DurationVar(&duration, "duration", 0,
		"how long the override lasts (0 means until next evaluation)")
	return cmd
}

func postOverride(addr string, req api.OverrideRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpClient := &http.Client{Timeout: 5 * time.Second}
	resp, err := httpClient.Post(addr+"/api/override", "application/json", bytes.NewReader(body))
	if err != nil {
		return &hass.ConnectionError{Op: "override", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("daemon returned %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	return nil
}
