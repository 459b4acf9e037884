// Package config handles client configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"millq/internal/domain"
	"millq/internal/sink"
	"millq/internal/uws"
)

// StorageConfig holds credentials for object-storage result destinations.
type StorageConfig struct {
	S3KeyID     string
	S3Secret    string
	S3Endpoint  string // host or URL of an S3-compatible store
	S3Region    string
	S3PathStyle bool

	AzureAccountName string
	AzureAccountKey  string
	AzureServiceURL  string

	GCSKeyFile  string // service account JSON file
	GCSEndpoint string
}

// Config holds the configuration for talking to the TAP service.
type Config struct {
	BaseURL  string // UWS async endpoint (default: Millennium TAP)
	Username string
	Password string

	Lang   string // query language (default "SQL")
	Format string // result format (default "csv")
	MaxRec int    // row cap (default 100000)

	MaxAttempts  int           // poll budget, 0 = unbounded (default 100)
	PollFactor   time.Duration // linear backoff step (default 2^(1/4)s)
	PollMax      time.Duration // backoff ceiling (default 120s)
	RateLimitRPS float64       // client-side request rate, 0 = unlimited
	HTTPTimeout  time.Duration // per-request timeout (default 5m)

	JobsDBPath string // local job ledger (default ~/.millq/jobs.sqlite)
	TempDir    string // staging directory for object-storage uploads (default os.TempDir())
	LogLevel   string // log level: debug, info, warn, error (default "warn")

	Storage StorageConfig

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// Backoff returns the poll delay schedule.
func (c *Config) Backoff() domain.Backoff {
	return domain.Backoff{Factor: c.PollFactor, Max: c.PollMax}
}

// ClientOptions returns uws client options for this configuration.
func (c *Config) ClientOptions(logger *slog.Logger) uws.Options {
	return uws.Options{
		BaseURL:    c.BaseURL,
		Lang:       c.Lang,
		Format:     c.Format,
		MaxRec:     c.MaxRec,
		Backoff:    c.Backoff(),
		RateLimit:  c.RateLimitRPS,
		Logger:     logger,
		HTTPClient: &http.Client{Timeout: c.HTTPTimeout},
	}
}

// SinkOptions returns credentials for result destinations.
func (c *Config) SinkOptions() sink.Options {
	return sink.Options{
		S3: sink.S3Options{
			KeyID:        c.Storage.S3KeyID,
			Secret:       c.Storage.S3Secret,
			Endpoint:     c.Storage.S3Endpoint,
			Region:       c.Storage.S3Region,
			UsePathStyle: c.Storage.S3PathStyle,
		},
		GCS: sink.GCSOptions{
			KeyFile:  c.Storage.GCSKeyFile,
			Endpoint: c.Storage.GCSEndpoint,
		},
		Azure: sink.AzureOptions{
			AccountName: c.Storage.AzureAccountName,
			AccountKey:  c.Storage.AzureAccountKey,
			ServiceURL:  c.Storage.AzureServiceURL,
		},
		TempDir: c.TempDir,
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid MILLQ_URL %q: %w", c.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid MILLQ_URL %q: scheme must be http or https", c.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid MILLQ_URL %q: missing host", c.BaseURL)
	}
	if c.MaxRec < 0 {
		return fmt.Errorf("MILLQ_MAXREC must not be negative")
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("MILLQ_MAX_ATTEMPTS must not be negative")
	}
	if c.PollFactor <= 0 || c.PollMax <= 0 {
		return fmt.Errorf("MILLQ_POLL_FACTOR and MILLQ_POLL_MAX must be positive")
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("MILLQ_RATE_LIMIT_RPS must not be negative")
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Storage variables are optional; they are only needed for object-storage
// destinations.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		BaseURL:    os.Getenv("MILLQ_URL"),
		Username:   os.Getenv("MILLQ_USERNAME"),
		Password:   os.Getenv("MILLQ_PASSWORD"),
		Lang:       os.Getenv("MILLQ_LANG"),
		Format:     os.Getenv("MILLQ_FORMAT"),
		JobsDBPath: os.Getenv("MILLQ_JOBS_DB"),
		TempDir:    os.Getenv("MILLQ_TEMP_DIR"),
		LogLevel:   os.Getenv("LOG_LEVEL"),
		Storage: StorageConfig{
			S3KeyID:          os.Getenv("S3_KEY_ID"),
			S3Secret:         os.Getenv("S3_SECRET"),
			S3Endpoint:       os.Getenv("S3_ENDPOINT"),
			S3Region:         os.Getenv("S3_REGION"),
			S3PathStyle:      parseBoolEnvDefault("S3_PATH_STYLE", false),
			AzureAccountName: os.Getenv("AZURE_ACCOUNT_NAME"),
			AzureAccountKey:  os.Getenv("AZURE_ACCOUNT_KEY"),
			AzureServiceURL:  os.Getenv("AZURE_SERVICE_URL"),
			GCSKeyFile:       os.Getenv("GCS_KEY_FILE"),
			GCSEndpoint:      os.Getenv("GCS_ENDPOINT"),
		},
		MaxAttempts: 100,
	}

	var err error
	if cfg.MaxRec, err = intEnv("MILLQ_MAXREC", cfg.MaxRec); err != nil {
		return nil, err
	}
	if cfg.MaxAttempts, err = intEnv("MILLQ_MAX_ATTEMPTS", cfg.MaxAttempts); err != nil {
		return nil, err
	}
	if cfg.PollFactor, err = durationEnv("MILLQ_POLL_FACTOR", cfg.PollFactor); err != nil {
		return nil, err
	}
	if cfg.PollMax, err = durationEnv("MILLQ_POLL_MAX", cfg.PollMax); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = durationEnv("MILLQ_HTTP_TIMEOUT", cfg.HTTPTimeout); err != nil {
		return nil, err
	}
	if v := os.Getenv("MILLQ_RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid MILLQ_RATE_LIMIT_RPS: %w", err)
		}
		cfg.RateLimitRPS = f
	}

	// Defaults
	if cfg.BaseURL == "" {
		cfg.BaseURL = uws.DefaultBaseURL
	}
	if cfg.Lang == "" {
		cfg.Lang = domain.DefaultLang
	}
	if cfg.Format == "" {
		cfg.Format = domain.DefaultFormat
	}
	if cfg.MaxRec == 0 {
		cfg.MaxRec = domain.DefaultMaxRec
	}
	if cfg.PollFactor == 0 {
		cfg.PollFactor = domain.DefaultBackoffFactor
	}
	if cfg.PollMax == 0 {
		cfg.PollMax = domain.DefaultBackoffMax
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 5 * time.Minute
	}
	if cfg.JobsDBPath == "" {
		cfg.JobsDBPath = DefaultJobsDBPath()
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "warn"
	}
	if strings.HasPrefix(cfg.BaseURL, "http://") && cfg.Password != "" {
		cfg.Warnings = append(cfg.Warnings, "MILLQ_URL uses plain http; credentials are sent unencrypted")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultJobsDBPath returns ~/.millq/jobs.sqlite, or a file in the working
// directory when no home directory is available.
func DefaultJobsDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "millq_jobs.sqlite"
	}
	return filepath.Join(home, ".millq", "jobs.sqlite")
}

func intEnv(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

// durationEnv accepts Go durations ("1.5s") or plain seconds ("90").
func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	return defaultVal
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = stripQuotes(value)
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
