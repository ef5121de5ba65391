// Package config manages application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"autochatter/logging"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Accepted values for StateBackend and ListSource.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"

	SourceAPI = "api"
	SourceRSS = "rss"
)

// ErrMissingChannel is returned by Validate when no channel is configured.
var ErrMissingChannel = errors.New("config: channel_id is required (set YOUTUBE_CHANNEL_ID)")

// ErrInvalid wraps every other validation and environment parse failure.
var ErrInvalid = errors.New("config: invalid value")

// Config holds all settings for the comment daemon. It is built once by Load
// and passed to constructors; nothing reads it globally.
type Config struct {
	// ChannelID is the YouTube channel to watch.
	ChannelID string `yaml:"channel_id"`

	// PollInterval is the pause between poll cycles.
	PollInterval time.Duration `yaml:"poll_interval"`
	// PollSchedule is a standard cron expression; when set it replaces PollInterval.
	PollSchedule string `yaml:"poll_schedule"`

	// MinCommentDelay and MaxCommentDelay bound the random wait before posting.
	MinCommentDelay time.Duration `yaml:"min_comment_delay"`
	MaxCommentDelay time.Duration `yaml:"max_comment_delay"`

	// LinkURL is appended to a comment with probability LinkInclusionRate.
	LinkURL           string  `yaml:"link_url"`
	LinkPrefix        string  `yaml:"link_prefix"`
	LinkInclusionRate float64 `yaml:"link_inclusion_rate"`
	// Templates replaces the built-in comment set when non-empty.
	Templates []string `yaml:"templates"`

	// ShortsOnly restricts commenting to videos no longer than MaxShortsDuration.
	ShortsOnly        bool          `yaml:"shorts_only"`
	MaxShortsDuration time.Duration `yaml:"max_shorts_duration"`
	// IncludeExpr is an optional boolean expression over id, title and published_at.
	IncludeExpr string `yaml:"include_expr"`

	// MaxResults is how many recent uploads are fetched per cycle.
	MaxResults int `yaml:"max_results"`
	// ListSource selects the uploads lister: "api" or "rss".
	ListSource string `yaml:"list_source"`

	// MaxRetries, InitialBackoff and MaxBackoff configure comment posting retries.
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`

	// APIRPS caps requests per second to the Data API.
	APIRPS float64 `yaml:"api_rps"`

	// StateFile holds the seen-video state.
	StateFile    string `yaml:"state_file"`
	StateBackend string `yaml:"state_backend"`

	ClientSecretsFile string `yaml:"client_secrets_file"`
	TokenFile         string `yaml:"token_file"`

	Log  logging.Config `yaml:"log"`
	OTel OTelConfig     `yaml:"otel"`
}

// OTelConfig configures optional trace export over OTLP.
type OTelConfig struct {
	Enabled     bool              `yaml:"enabled"`
	ServiceName string            `yaml:"service_name"`
	Endpoint    string            `yaml:"endpoint"`
	Protocol    string            `yaml:"protocol"` // grpc or http/protobuf
	Insecure    bool              `yaml:"insecure"`
	Headers     map[string]string `yaml:"headers"`
	SampleRatio float64           `yaml:"sample_ratio"`
}

// DefaultConfig returns configuration with safe defaults.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:      10 * time.Minute,
		MinCommentDelay:   30 * time.Second,
		MaxCommentDelay:   180 * time.Second,
		LinkURL:           "https://discord.gg/your-invite-code",
		LinkPrefix:        "Join our community: ",
		LinkInclusionRate: 0.2,
		MaxShortsDuration: 60 * time.Second,
		MaxResults:        5,
		ListSource:        SourceAPI,
		MaxRetries:        5,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        300 * time.Second,
		APIRPS:            1.0,
		StateFile:         "state.json",
		StateBackend:      BackendJSON,
		ClientSecretsFile: "client_secret.json",
		TokenFile:         "token.json",
		Log:               logging.DefaultConfig(),
		OTel: OTelConfig{
			ServiceName: "autochatter",
			Protocol:    "grpc",
			SampleRatio: 1.0,
		},
	}
}

// Load builds the configuration.
// Priority: env vars (including .env) > config file > defaults.
//
// path names the config file explicitly; if empty, AUTOCHATTER_CONFIG is
// consulted, then the default search locations. An explicit file must exist;
// the default locations are optional.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv("AUTOCHATTER_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	} else if err := cfg.loadFromSearchPath(); err != nil {
		return nil, err
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SearchPaths lists the default config file locations in priority order.
func SearchPaths() []string {
	paths := []string{"autochatter.yaml", "autochatter.yml", "autochatter.json"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "autochatter", "autochatter.yaml"))
	}
	return paths
}

func (c *Config) loadFromSearchPath() error {
	for _, path := range SearchPaths() {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("stat %s: %w", path, err)
		}
		return c.loadFile(path)
	}
	return nil
}

// loadFile decodes a YAML (or JSON) file over c.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// loadFromEnv overrides config with environment variables.
func (c *Config) loadFromEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, invalidf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	integer := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, invalidf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, invalidf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, invalidf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("YOUTUBE_CHANNEL_ID", &c.ChannelID)
	str("AUTOCHATTER_CHANNEL_ID", &c.ChannelID)
	dur("AUTOCHATTER_POLL_INTERVAL", &c.PollInterval)
	str("AUTOCHATTER_POLL_SCHEDULE", &c.PollSchedule)
	dur("AUTOCHATTER_MIN_COMMENT_DELAY", &c.MinCommentDelay)
	dur("AUTOCHATTER_MAX_COMMENT_DELAY", &c.MaxCommentDelay)
	str("AUTOCHATTER_LINK_URL", &c.LinkURL)
	str("AUTOCHATTER_LINK_PREFIX", &c.LinkPrefix)
	float("AUTOCHATTER_LINK_INCLUSION_RATE", &c.LinkInclusionRate)
	boolean("AUTOCHATTER_SHORTS_ONLY", &c.ShortsOnly)
	dur("AUTOCHATTER_MAX_SHORTS_DURATION", &c.MaxShortsDuration)
	str("AUTOCHATTER_INCLUDE_EXPR", &c.IncludeExpr)
	integer("AUTOCHATTER_MAX_RESULTS", &c.MaxResults)
	str("AUTOCHATTER_LIST_SOURCE", &c.ListSource)
	integer("AUTOCHATTER_MAX_RETRIES", &c.MaxRetries)
	dur("AUTOCHATTER_INITIAL_BACKOFF", &c.InitialBackoff)
	dur("AUTOCHATTER_MAX_BACKOFF", &c.MaxBackoff)
	float("AUTOCHATTER_API_RPS", &c.APIRPS)
	str("AUTOCHATTER_STATE_FILE", &c.StateFile)
	str("AUTOCHATTER_STATE_BACKEND", &c.StateBackend)
	str("AUTOCHATTER_CLIENT_SECRETS_FILE", &c.ClientSecretsFile)
	str("AUTOCHATTER_TOKEN_FILE", &c.TokenFile)
	str("AUTOCHATTER_LOG_LEVEL", &c.Log.Level)
	str("AUTOCHATTER_LOG_FORMAT", &c.Log.Format)
	if v, ok := os.LookupEnv("AUTOCHATTER_LOG_FILE"); ok {
		// Empty disables the log file.
		c.Log.File = v
	}
	boolean("AUTOCHATTER_OTEL_ENABLED", &c.OTel.Enabled)
	str("OTEL_SERVICE_NAME", &c.OTel.ServiceName)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.OTel.Endpoint)
	str("OTEL_EXPORTER_OTLP_PROTOCOL", &c.OTel.Protocol)
	boolean("OTEL_EXPORTER_OTLP_INSECURE", &c.OTel.Insecure)
	float("AUTOCHATTER_OTEL_SAMPLE_RATIO", &c.OTel.SampleRatio)
	if v := os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"); v != "" {
		c.OTel.Headers = parseHeaders(v)
	}

	return errors.Join(errs...)
}

// parseDuration accepts Go duration strings ("10m") or plain seconds ("600").
func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// parseHeaders parses "k1=v1,k2=v2" as used by OTEL_EXPORTER_OTLP_HEADERS.
func parseHeaders(v string) map[string]string {
	headers := make(map[string]string)
	for _, pair := range strings.Split(v, ",") {
		k, val, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			continue
		}
		headers[strings.TrimSpace(k)] = strings.TrimSpace(val)
	}
	return headers
}

// Validate checks that configuration values are valid and consistent.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ChannelID) == "" {
		return ErrMissingChannel
	}
	if c.PollSchedule == "" && c.PollInterval <= 0 {
		return invalidf("poll_interval must be positive")
	}
	if c.PollSchedule != "" {
		sched, err := cron.ParseStandard(c.PollSchedule)
		if err != nil {
			return invalidf("poll_schedule: %w", err)
		}
		if sched.Next(time.Now()).IsZero() {
			return invalidf("poll_schedule %q never fires", c.PollSchedule)
		}
	}
	if c.MinCommentDelay < 0 || c.MaxCommentDelay < 0 {
		return invalidf("comment delays must be non-negative")
	}
	if c.MinCommentDelay > c.MaxCommentDelay {
		return invalidf("min_comment_delay must be <= max_comment_delay")
	}
	if c.LinkInclusionRate < 0 || c.LinkInclusionRate > 1 {
		return invalidf("link_inclusion_rate must be within [0, 1]")
	}
	if c.Templates != nil && len(c.Templates) == 0 {
		return invalidf("templates must not be empty when set")
	}
	if c.MaxResults < 1 || c.MaxResults > 50 {
		return invalidf("max_results must be within 1..50")
	}
	if c.MaxRetries < 1 {
		return invalidf("max_retries must be at least 1")
	}
	if c.InitialBackoff < 0 || c.MaxBackoff < 0 {
		return invalidf("backoff durations must be non-negative")
	}
	if c.APIRPS < 0 {
		return invalidf("api_rps must be non-negative")
	}
	switch c.StateBackend {
	case BackendJSON, BackendSQLite:
	default:
		return invalidf("unknown state_backend %q (expected json or sqlite)", c.StateBackend)
	}
	switch c.ListSource {
	case SourceAPI, SourceRSS:
	default:
		return invalidf("unknown list_source %q (expected api or rss)", c.ListSource)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalidf("log.level: %w", err)
	}
	return nil
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %w", ErrInvalid, fmt.Errorf(format, args...))
}
