package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"pulse/internal/config"
	"pulse/internal/infrastructure"
)

// globalFlags are shared by every subcommand
type globalFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "pulse",
		Short:         "Privacy-first analytics tracking core and reference collector",
		Version:       config.AppVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file (default $PULSE_CONFIG or ./pulse.yaml)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		newCollectorCmd(flags),
		newTrackCmd(flags),
		newBannerCmd(flags),
		newVersionCmd(),
	)
	return root
}

// load reads the configuration and applies the global overrides
func (f *globalFlags) load() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid --log-level: %w", err)
		}
	}
	return cfg, nil
}

// logger builds the command logger. Output follows the logging section;
// stdout output goes to the command's error stream so it never mixes with
// command results.
func (f *globalFlags) logger(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, error) {
	if cfg.Logging.Output == "stdout" {
		return infrastructure.NewLogger(cmd.ErrOrStderr(), cfg.Logging.Level), nil
	}
	return infrastructure.InitializeLogger(cfg.Logging)
}
