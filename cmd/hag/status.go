package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/jluzny/hag-go/internal/hass"
	"github.com/jluzny/hag-go/internal/hvac/controller"
)

func newStatusCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := fetchStatus(addr)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "running:        %t\n", status.Running)
			fmt.Fprintf(out, "connected:      %t\n", status.Connected)
			fmt.Fprintf(out, "state:          %s\n", status.CurrentState)
			fmt.Fprintf(out, "system mode:    %s\n", status.SystemMode)
			if status.IndoorTemp != nil {
				fmt.Fprintf(out, "indoor:         %.1f\n", *status.IndoorTemp)
			}
			if status.OutdoorTemp != nil {
				fmt.Fprintf(out, "outdoor:        %.1f\n", *status.OutdoorTemp)
			}
			fmt.Fprintf(out, "cycling health: %s\n", status.CyclingHealth)
			if status.ActiveOverride != nil {
				fmt.Fprintf(out, "override:       %s\n", status.ActiveOverride.Mode)
			}
			if status.LastError != "" {
				fmt.Fprintf(out, "last error:     %s\n", status.LastError)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8126",
		"base URL of the daemon API")
	return cmd
}

func fetchStatus(addr string) (*controller.Status, error) {
	httpClient := &http.Client{Timeout: 5 * time.Second}

	resp, err := httpClient.Get(addr + "/api/status")
	if err != nil {
		return nil, &hass.ConnectionError{Op: "status", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("daemon returned %s", resp.Status)
	}

	var status controller.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &status, nil
}
