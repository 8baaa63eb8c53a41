// Command hag is the HVAC supervisory controller daemon and its operator
// CLI. The daemon drives Home Assistant climate units from temperature
// sensors; the subcommands validate configuration and talk to a running
// daemon over its HTTP API.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jluzny/hag-go/internal/config"
	"github.com/jluzny/hag-go/internal/hass"
)

// Exit codes. Configuration problems and connection problems are
// distinguished so supervisors can decide whether a restart is useful.
const (
	exitOK         = 0
	exitGeneric    = 1
	exitConfig     = 2
	exitConnection = 3
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var cfgErr *config.ConfigurationError
	if errors.As(err, &cfgErr) {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitConfig
	}
	var connErr *hass.ConnectionError
	if errors.As(err, &connErr) {
		fmt.Fprintf(os.Stderr, "connection error: %v\n", err)
		return exitConnection
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return exitGeneric
}
