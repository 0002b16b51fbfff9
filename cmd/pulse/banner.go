package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pulse/internal/privacy"
	"pulse/internal/storage"
)

// silentPresenter keeps the manager from logging the banner it shows
type silentPresenter struct{}

func (silentPresenter) Show(privacy.BannerView) {}
func (silentPresenter) Hide()                   {}

func newBannerCmd(flags *globalFlags) *cobra.Command {
	var region, style, position string

	cmd := &cobra.Command{
		Use:   "banner",
		Short: "Render the consent banner shown to visitors of a region",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			pc := cfg.Privacy
			if region != "" {
				pc.Region = region
			}
			if style != "" {
				pc.Style = style
			}
			if position != "" {
				pc.Position = position
			}
			if pc.Region == "auto" {
				return fmt.Errorf("banner needs a concrete --region (eu, us or global)")
			}

			logger, err := flags.logger(cmd, cfg)
			if err != nil {
				return err
			}

			m := privacy.NewManager(pc, privacy.StaticResolver{Region: pc.Region}, storage.NewMemoryStore(),
				privacy.WithLogger(logger),
				privacy.WithPresenter(silentPresenter{}))
			if err := m.Start(cmd.Context()); err != nil {
				return err
			}

			html, err := privacy.RenderBanner(m.Banner())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), html)
			return err
		},
	}

	cmd.Flags().StringVar(&region, "region", "", "eu, us or global (overrides privacy.region)")
	cmd.Flags().StringVar(&style, "style", "", "minimal or detailed")
	cmd.Flags().StringVar(&position, "position", "", "bottom, top or center")
	return cmd
}
