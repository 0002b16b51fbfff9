package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete Pulse configuration
type Config struct {
	// Tracker is validated by the embedding factory, so a collector-only
	// deployment does not need a site id.
	Tracker   TrackerConfig   `yaml:"tracker" envconfig:"TRACKER" validate:"-"`
	Privacy   PrivacyConfig   `yaml:"privacy" envconfig:"PRIVACY"`
	Storage   StorageConfig   `yaml:"storage" envconfig:"STORAGE"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	Collector CollectorConfig `yaml:"collector" envconfig:"COLLECTOR"`
}

// TrackerConfig mirrors the embedding options accepted by Pulse.init
type TrackerConfig struct {
	SiteID          string `yaml:"site_id" envconfig:"SITE_ID" validate:"required"`
	LicenseKey      string `yaml:"license_key" envconfig:"LICENSE_KEY" validate:"required"`
	APIEndpoint     string `yaml:"api_endpoint" envconfig:"API_ENDPOINT" validate:"required,url"`
	LicenseEndpoint string `yaml:"license_endpoint" envconfig:"LICENSE_ENDPOINT" validate:"required,url"`
	GeoEndpoint     string `yaml:"geo_endpoint" envconfig:"GEO_ENDPOINT" validate:"omitempty,url"`
	Debug           bool   `yaml:"debug" envconfig:"DEBUG"`
	RespectDNT      bool   `yaml:"respect_dnt" envconfig:"RESPECT_DNT"`
	GDPRMode        bool   `yaml:"gdpr_mode" envconfig:"GDPR_MODE"`

	BatchSize          int           `yaml:"batch_size" envconfig:"BATCH_SIZE" validate:"min=1"`
	FlushInterval      time.Duration `yaml:"flush_interval" envconfig:"FLUSH_INTERVAL" validate:"gt=0"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval" envconfig:"HEARTBEAT_INTERVAL" validate:"gt=0"`
	ValidationInterval time.Duration `yaml:"validation_interval" envconfig:"VALIDATION_INTERVAL" validate:"gt=0"`
	QueueCapacity      int           `yaml:"queue_capacity" envconfig:"QUEUE_CAPACITY" validate:"gtefield=BatchSize"`
	BackoffBase        time.Duration `yaml:"backoff_base" envconfig:"BACKOFF_BASE" validate:"gt=0"`
	BackoffMax         time.Duration `yaml:"backoff_max" envconfig:"BACKOFF_MAX" validate:"gtefield=BackoffBase"`
	HTTPTimeout        time.Duration `yaml:"http_timeout" envconfig:"HTTP_TIMEOUT" validate:"gt=0"`
}

// PrivacyConfig configures consent handling
type PrivacyConfig struct {
	Region            string `yaml:"region" envconfig:"REGION" validate:"oneof=auto eu us global"`
	ShowBanner        bool   `yaml:"show_banner" envconfig:"SHOW_BANNER"`
	Position          string `yaml:"position" envconfig:"POSITION" validate:"oneof=bottom top center"`
	Style             string `yaml:"style" envconfig:"STYLE" validate:"oneof=minimal detailed"`
	PrivacyPolicyURL  string `yaml:"privacy_policy_url" envconfig:"PRIVACY_POLICY_URL" validate:"omitempty,url"`
	TermsOfServiceURL string `yaml:"terms_of_service_url" envconfig:"TERMS_OF_SERVICE_URL" validate:"omitempty,url"`
	CookiePolicyURL   string `yaml:"cookie_policy_url" envconfig:"COOKIE_POLICY_URL" validate:"omitempty,url"`
	RememberDays      int    `yaml:"remember_days" envconfig:"REMEMBER_DAYS" validate:"min=1"`
	GeoDatabase       string `yaml:"geo_database" envconfig:"GEO_DATABASE"`
}

// StorageConfig selects the key-value backend standing in for local storage
type StorageConfig struct {
	Driver        string        `yaml:"driver" envconfig:"DRIVER" validate:"oneof=memory file redis"`
	Path          string        `yaml:"path" envconfig:"STORE_PATH" validate:"required_if=Driver file"`
	EncryptionKey string        `yaml:"encryption_key" envconfig:"ENCRYPTION_KEY"`
	RedisAddr     string        `yaml:"redis_addr" envconfig:"REDIS_ADDR" validate:"required_if=Driver redis"`
	RedisPassword string        `yaml:"redis_password" envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db" envconfig:"REDIS_DB" validate:"min=0"`
	RedisPrefix   string        `yaml:"redis_prefix" envconfig:"REDIS_PREFIX"`
	RedisTTL      time.Duration `yaml:"redis_ttl" envconfig:"REDIS_TTL"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn warning error"`
	Output   string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=stdout file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" validate:"required_unless=Output stdout"`
}

// TelemetryConfig contains OpenTelemetry configuration
type TelemetryConfig struct {
	ServiceName    string  `yaml:"service_name" envconfig:"SERVICE_NAME"`
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" validate:"oneof=stdout none"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER" validate:"oneof=prometheus none"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO" validate:"min=0,max=1"`
}

// CollectorConfig configures the reference collection server
type CollectorConfig struct {
	Addr            string        `yaml:"addr" envconfig:"ADDR" validate:"required"`
	LicensesFile    string        `yaml:"licenses_file" envconfig:"LICENSES_FILE"`
	GeoDatabase     string        `yaml:"geo_database" envconfig:"GEO_DATABASE"`
	AllowedOrigins  []string      `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	MaxEvents       int           `yaml:"max_events" envconfig:"MAX_EVENTS" validate:"min=1"`
	RateLimitRPS    float64       `yaml:"rate_limit_rps" envconfig:"RATE_LIMIT_RPS" validate:"gt=0"`
	RateLimitBurst  int           `yaml:"rate_limit_burst" envconfig:"RATE_LIMIT_BURST" validate:"min=1"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
}

// Load builds the configuration from defaults, an optional YAML file and
// environment variables, in increasing order of precedence.
//
// An empty path falls back to $PULSE_CONFIG and then to pulse.yaml in the
// working directory; a missing default file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvPrefix + "_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = DefaultConfigFile
	}

	if err := cfg.loadFile(path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// envconfig leaves fields untouched when the variable is unset, so it
	// overlays the file values instead of resetting them.
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile overlays YAML values on top of the receiver
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// normalize fills values that depend on other fields
func (c *Config) normalize() {
	c.Tracker.APIEndpoint = strings.TrimRight(c.Tracker.APIEndpoint, "/")
	c.Tracker.LicenseEndpoint = strings.TrimRight(c.Tracker.LicenseEndpoint, "/")
	c.Tracker.GeoEndpoint = strings.TrimRight(c.Tracker.GeoEndpoint, "/")
	if c.Tracker.GeoEndpoint == "" {
		c.Tracker.GeoEndpoint = c.Tracker.APIEndpoint
	}
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	if c.Storage.RedisPrefix == "" {
		c.Storage.RedisPrefix = DefaultRedisKeyPrefix
	}
}

var validate = validator.New()

// Validate checks the configuration against its struct tags
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on %q", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

// ValidateTracker checks only the tracker section, for embedders that build
// a TrackerConfig by hand instead of calling Load.
func ValidateTracker(tc TrackerConfig) error {
	return validate.Struct(tc)
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Tracker: DefaultTracker(),
		Privacy: PrivacyConfig{
			Region:       "auto",
			ShowBanner:   true,
			Position:     "bottom",
			Style:        "minimal",
			RememberDays: DefaultRememberDays,
		},
		Storage: StorageConfig{
			Driver:      "memory",
			RedisPrefix: DefaultRedisKeyPrefix,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    DefaultTelemetryService,
			Environment:    "development",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
		},
		Collector: CollectorConfig{
			Addr:            DefaultCollectorAddr,
			MaxEvents:       DefaultCollectorEvents,
			RateLimitRPS:    DefaultRateLimitRPS,
			RateLimitBurst:  DefaultRateLimitBurst,
			ReadTimeout:     DefaultReadTimeout,
			WriteTimeout:    DefaultWriteTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
	}
}

// DefaultTracker returns the tracker defaults of Pulse.init
func DefaultTracker() TrackerConfig {
	return TrackerConfig{
		APIEndpoint:        DefaultAPIEndpoint,
		LicenseEndpoint:    DefaultLicenseEndpoint,
		RespectDNT:         true,
		BatchSize:          DefaultBatchSize,
		FlushInterval:      DefaultFlushInterval,
		HeartbeatInterval:  DefaultHeartbeatInterval,
		ValidationInterval: DefaultValidationInterval,
		QueueCapacity:      DefaultQueueCapacity,
		BackoffBase:        DefaultBackoffBase,
		BackoffMax:         DefaultBackoffMax,
		HTTPTimeout:        DefaultHTTPTimeout,
	}
}
