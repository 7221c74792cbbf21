package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/OpenTraceLab/picoblaster/internal/logging"
	"github.com/OpenTraceLab/picoblaster/pkg/config"
)

var (
	// Global flags
	verbose    bool
	configPath string
	logLevel   string
	logJSON    bool

	logger = zerolog.Nop()
)

var rootCmd = &cobra.Command{
	Use:   "blaster",
	Short: "USB-Blaster compatible JTAG/AS/PS cable emulator",
	Long: `An emulator and host toolkit for Altera USB-Blaster compatible download cables.
It serves the Blaster byte protocol from a GPIO bank or a simulated target and
talks to real or emulated cables from the host side.

Examples:
  blaster serve --listen 127.0.0.1:8675              # Emulator with a simulated target
  blaster serve --pins gpio --serial /dev/ttyGS0      # Drive GPIO 11-17 over a serial gadget
  blaster idcode --cable sim                          # Read the IDCODE of the simulated target
  blaster run --cable ws://127.0.0.1:8675/blaster s.bs # Run a cable script`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log as JSON")
}

func setupLogging(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	level := cfg.LogLevel
	if verbose && !cmd.Flags().Changed("log-level") {
		level = "debug"
	}
	logger = logging.Init("blaster", level, cfg.LogJSON)
	return nil
}

// loadConfig reads --config (or the defaults) and applies the global flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return cfg, err
		}
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if cmd.Flags().Changed("log-json") {
		cfg.LogJSON = logJSON
	}
	return cfg, nil
}
