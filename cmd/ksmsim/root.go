package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"samepage/internal/config"
	"samepage/kernel/klog"
)

var (
	// Global flags
	configPath string
	logLevel   string
	logFormat  string
	noColor    bool

	// machine is loaded before any subcommand runs.
	machine *config.Machine
)

var rootCmd = &cobra.Command{
	Use:   "ksmsim",
	Short: "Simulate kernel samepage merging",
	Long: `ksmsim boots a simulated kernel with paged physical memory, spawns the
processes described by a machine configuration and merges identical pages
through the ksm system call.`,
	Version:           "0.1.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadMachine,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Machine configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text, json")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		os.Exit(1)
	}
}

// loadMachine reads the configuration, applies the global flag overrides and
// sets up logging.
func loadMachine(cmd *cobra.Command, _ []string) error {
	if noColor {
		color.NoColor = true
	}

	m := config.Default()
	if configPath != "" {
		var err error
		if m, err = config.Load(configPath); err != nil {
			return err
		}
	}

	if logLevel != "" {
		m.Log.Level = logLevel
	}
	if logFormat != "" {
		m.Log.Format = logFormat
	}

	level, err := klog.ParseLevel(m.Log.Level)
	if err != nil {
		return err
	}
	format, err := klog.ParseFormat(m.Log.Format)
	if err != nil {
		return err
	}
	klog.Init(level, format, cmd.ErrOrStderr())

	machine = m
	return nil
}
