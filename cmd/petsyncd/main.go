// Command petsyncd keeps the local petmem store in sync in the background
// and exposes gRPC health and prometheus metrics.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:          "petsyncd",
		Short:        "Background sync agent for petmem",
		Version:      fmt.Sprintf("%s (%s)", version, buildDate),
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(*cobra.Command, []string) error {
			agent := newAgent(opts)
			if err := agent.Err(); err != nil {
				return err
			}
			// Run blocks until SIGINT/SIGTERM and exits the process on start failure.
			agent.Run()
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "YAML config file")
	cmd.Flags().StringVar(&opts.Token, "token", os.Getenv("PETMEM_AGENT_TOKEN"), "bearer token required on gRPC calls")
	cmd.Flags().BoolVar(&opts.Dev, "dev", false, "enable server reflection (dev only)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
