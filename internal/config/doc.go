// Package config loads the Pulse configuration.
//
// Values are resolved in increasing order of precedence:
//
//	1. Defaults (Default, DefaultTracker)
//	2. YAML file (path argument, $PULSE_CONFIG, or ./pulse.yaml)
//	3. Environment variables with the PULSE_ prefix
//
// Environment variables follow the struct nesting, for example:
//
//	PULSE_TRACKER_SITE_ID=site_123
//	PULSE_TRACKER_LICENSE_KEY=pk_live_...
//	PULSE_TRACKER_BATCH_SIZE=20
//	PULSE_PRIVACY_REGION=eu
//	PULSE_STORAGE_DRIVER=redis
//	PULSE_LOGGING_LEVEL=debug
//
// The tracker section is validated separately with ValidateTracker because
// the collector can run without any site configuration.
package config
