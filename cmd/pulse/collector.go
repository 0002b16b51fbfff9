package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pulse/internal/app"
)

func newCollectorCmd(flags *globalFlags) *cobra.Command {
	var addr, licenses, geoDB string

	cmd := &cobra.Command{
		Use:   "collector",
		Short: "Serve the license, events, geo, export and live endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Collector.Addr = addr
			}
			if licenses != "" {
				cfg.Collector.LicensesFile = licenses
			}
			if geoDB != "" {
				cfg.Collector.GeoDatabase = geoDB
			}

			logger, err := flags.logger(cmd, cfg)
			if err != nil {
				return err
			}

			application, err := app.NewApplication(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return application.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides collector.addr)")
	cmd.Flags().StringVar(&licenses, "licenses", "", "license registry YAML file")
	cmd.Flags().StringVar(&geoDB, "geo-db", "", "MaxMind GeoLite2 country database")
	return cmd
}

