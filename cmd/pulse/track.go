package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"

	"pulse/internal/tracker"
	"pulse/pkg/pulse"
)

// trackResult is printed after the client has flushed and closed
type trackResult struct {
	Tracked     bool                   `json:"tracked"`
	Plan        string                 `json:"plan"`
	EventsSent  int64                  `json:"events_sent"`
	QueueLeft   int                    `json:"queue_left"`
	Analytics   *tracker.AnalyticsData `json:"analytics,omitempty"`
	InitWarning string                 `json:"init_warning,omitempty"`
}

func newTrackCmd(flags *globalFlags) *cobra.Command {
	var (
		siteID, licenseKey, endpoint string
		eventType, pageURL           string
		props                        []string
		conversion                   string
		value                        float64
		currency                     string
	)

	cmd := &cobra.Command{
		Use:   "track",
		Short: "Send one event through a full tracking client",
		Example: `  pulse track --site site_1 --key pk_live_x --endpoint http://localhost:8088 --type custom --prop plan=pro
  pulse track --conversion signup --value 9.99 --currency EUR`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if siteID != "" {
				cfg.Tracker.SiteID = siteID
			}
			if licenseKey != "" {
				cfg.Tracker.LicenseKey = licenseKey
			}
			if endpoint != "" {
				endpoint = strings.TrimRight(endpoint, "/")
				cfg.Tracker.APIEndpoint = endpoint
				cfg.Tracker.LicenseEndpoint = endpoint
				cfg.Tracker.GeoEndpoint = endpoint
			}

			properties, err := parseProps(props)
			if err != nil {
				return err
			}

			logger, err := flags.logger(cmd, cfg)
			if err != nil {
				return err
			}

			// priority flushes deliver from their own goroutine
			var sent atomic.Int64
			counting := tracker.SenderFunc(func(ctx context.Context, p tracker.Payload) error {
				if err := tracker.NewHTTPSender(cfg.Tracker.APIEndpoint, cfg.Tracker.HTTPTimeout).Send(ctx, p); err != nil {
					return err
				}
				sent.Add(int64(len(p.Events)))
				return nil
			})

			ctx := cmd.Context()
			client, err := pulse.Init(ctx, cfg,
				pulse.WithLogger(logger),
				pulse.WithSender(counting),
				pulse.WithEnvironment(&pulse.StaticEnvironment{
					PageURL: pageURL,
					Agent:   "pulse-cli/" + cmd.Root().Version,
					Lang:    "en",
				}))
			if err != nil {
				return err
			}

			result := trackResult{}
			if client.Err() != nil {
				result.InitWarning = client.Err().Error()
			}

			if conversion != "" {
				result.Tracked = client.TrackConversion(conversion, value, currency)
			} else {
				result.Tracked = client.TrackEvent(pulse.EventType(eventType), properties)
			}
			result.Plan = client.License().PlanName()
			if data, ok := client.Tracker().AnalyticsData(); ok {
				result.Analytics = data
			}

			if err := client.Close(ctx); err != nil {
				return fmt.Errorf("close client: %w", err)
			}
			result.EventsSent = sent.Load()
			result.QueueLeft = client.Tracker().QueueLen()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.Flags().StringVar(&siteID, "site", "", "site id (overrides tracker.site_id)")
	cmd.Flags().StringVar(&licenseKey, "key", "", "license key (overrides tracker.license_key)")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "collector base URL for api, license and geo")
	cmd.Flags().StringVar(&eventType, "type", string(pulse.EventCustom), "event type")
	cmd.Flags().StringVar(&pageURL, "url", "https://localhost/", "page URL reported by the client")
	cmd.Flags().StringArrayVar(&props, "prop", nil, "event property key=value, repeatable")
	cmd.Flags().StringVar(&conversion, "conversion", "", "track a conversion for this goal id instead")
	cmd.Flags().Float64Var(&value, "value", 0, "conversion value")
	cmd.Flags().StringVar(&currency, "currency", "USD", "conversion currency")
	return cmd
}

// parseProps turns key=value pairs into properties; numeric and boolean
// values keep their type
func parseProps(pairs []string) (map[string]any, error) {
	props := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --prop %q, want key=value", pair)
		}
		switch {
		case v == "true" || v == "false":
			props[k] = v == "true"
		default:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				props[k] = f
			} else {
				props[k] = v
			}
		}
	}
	return props, nil
}
