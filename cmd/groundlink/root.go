package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"groundlink/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "groundlink",
	Short: "MAVLink ground station link core",
	Long: "groundlink connects to a MAVLink vehicle over UDP, TCP or serial, " +
		"keeps the link alive and republishes its telemetry to the web, MQTT and terminal front ends.",
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(portsCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(recordInfoCmd)
}

// loadConfig reads path, or returns the defaults when path is empty.
func loadConfig(path string) (config.Config, error) {
	if strings.TrimSpace(path) == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("config load failed: %w", err)
	}
	return cfg, nil
}
