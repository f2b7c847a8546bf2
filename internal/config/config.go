package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"autocall/internal/core"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Mode selects which surfaces the daemon serves.
type Mode string

const (
	ModeHTTP Mode = "http"
	ModeMCP  Mode = "mcp"
	ModeBoth Mode = "both"
)

// ServerConfig holds server-related settings.
type ServerConfig struct {
	Addr          string        `yaml:"addr"`
	Mode          Mode          `yaml:"mode"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// AuthConfig holds bearer token settings.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	RunsPageSize int    `yaml:"runs_page_size"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	StateDir string `yaml:"state_dir"`
}

// SchedulerConfig holds sweep and worker pool settings.
type SchedulerConfig struct {
	Sweep     string `yaml:"sweep"`
	Workers   int    `yaml:"workers"`
	QueueSize int    `yaml:"queue_size"`
	UseUTC    bool   `yaml:"use_utc"`
}

// CallsConfig holds call executor settings.
type CallsConfig struct {
	DialerURL      string        `yaml:"dialer_url"`
	DialerToken    string        `yaml:"dialer_token"`
	DialerTimeout  time.Duration `yaml:"dialer_timeout"`
	Spacing        time.Duration `yaml:"spacing"`
	RecontactAfter time.Duration `yaml:"recontact_after"`
}

// RateLimitConfig holds request limiting settings.
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Max      int           `yaml:"max"`
	Window   time.Duration `yaml:"window"`
	RedisURL string        `yaml:"redis_url"`
}

// BarkConfig holds Bark notification settings.
type BarkConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// NotificationConfig holds all notification settings.
type NotificationConfig struct {
	Bark BarkConfig `yaml:"bark"`
}

// RunwayConfig holds the video generation client settings.
type RunwayConfig struct {
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	Endpoints     []string      `yaml:"endpoints"`
	VersionHeader string        `yaml:"version_header"`
	Versions      []string      `yaml:"versions"`
	Timeout       time.Duration `yaml:"timeout"`
}

// Config holds all runtime configuration options for the daemon.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Auth         AuthConfig         `yaml:"auth"`
	Log          LogConfig          `yaml:"log"`
	Store        StoreConfig        `yaml:"store"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
	Calls        CallsConfig        `yaml:"calls"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Notification NotificationConfig `yaml:"notification"`
	Runway       RunwayConfig       `yaml:"runway"`

	// ConfigFile is the YAML file the values were read from, if any.
	ConfigFile string `yaml:"-"`
}

const (
	defaultAddr          = "0.0.0.0:7070"
	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
	defaultShutdownGrace = 5 * time.Second
	defaultSweep         = "@every 1m"
	defaultWorkers       = 4
	defaultQueueSize     = 64
	defaultCallSpacing   = 2 * time.Second
	defaultRateMax       = 50
	defaultRateWindow    = 15 * time.Minute
	defaultTokenTTL      = 24 * time.Hour
)

// Default returns the configuration used when nothing else is provided.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:          defaultAddr,
			Mode:          ModeHTTP,
			ShutdownGrace: defaultShutdownGrace,
		},
		Auth: AuthConfig{TokenTTL: defaultTokenTTL},
		Log: LogConfig{
			Level:        defaultLogLevel,
			Format:       defaultLogFormat,
			RunsPageSize: core.DefaultRunsPageSize,
		},
		Scheduler: SchedulerConfig{
			Sweep:     defaultSweep,
			Workers:   defaultWorkers,
			QueueSize: defaultQueueSize,
		},
		Calls: CallsConfig{
			DialerTimeout:  30 * time.Second,
			Spacing:        defaultCallSpacing,
			RecontactAfter: 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Max:     defaultRateMax,
			Window:  defaultRateWindow,
		},
		Runway: RunwayConfig{
			BaseURL:       "https://api.runwayml.com",
			Endpoints:     []string{"/v1/image_to_video", "/v1/image-to-video", "/v1/generations"},
			VersionHeader: "X-Runway-Version",
			Versions:      []string{"2024-11-06", ""},
			Timeout:       2 * time.Minute,
		},
	}
}

// getEnvString returns the environment variable value or default
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt returns the environment variable as int or default
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvBool returns the environment variable as bool or default
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		lower := strings.ToLower(val)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultVal
}

// getEnvDuration returns the environment variable as duration or default
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// getEnvList splits a comma separated variable. A lone "-" entry stands for an
// empty element.
func getEnvList(key string, defaultVal []string) []string {
	val, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		part = strings.TrimSpace(part)
		if part == "-" {
			part = ""
		}
		out = append(out, part)
	}
	return out
}

// Parse reads the process arguments. See Load.
func Parse() (*Config, error) {
	return Load(os.Args[1:])
}

// Load builds the configuration from args.
// Priority: CLI flags > environment variables > .env file > YAML file > defaults
func Load(args []string) (*Config, error) {
	// Load .env files if present; existing environment variables win.
	envFiles := []string{}
	if _, err := os.Stat(".env"); err == nil {
		envFiles = append(envFiles, ".env")
	}
	if configDir, err := os.UserConfigDir(); err == nil {
		path := filepath.Join(configDir, "autocall", ".env")
		if _, err := os.Stat(path); err == nil {
			envFiles = append(envFiles, path)
		}
	}
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	fs := flag.NewFlagSet("autocalld", flag.ContinueOnError)
	var (
		configFile    string
		addr          string
		mode          string
		stateDir      string
		logLevel      string
		logFormat     string
		sweep         string
		workers       int
		useUTC        bool
		shutdownGrace time.Duration
	)
	fs.StringVar(&configFile, "config", "", "Path to a YAML configuration file")
	fs.StringVar(&addr, "addr", "", "HTTP listen address (overrides env)")
	fs.StringVar(&mode, "mode", "", "Surfaces to serve: http, mcp or both")
	fs.StringVar(&stateDir, "state-dir", "", "Directory to store the database")
	fs.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&logFormat, "log-format", "", "Log format (text, json)")
	fs.StringVar(&sweep, "sweep", "", "Sweep cadence, a cron expression or @every duration")
	fs.IntVar(&workers, "workers", 0, "Number of automation workers")
	fs.BoolVar(&useUTC, "use-utc", false, "Evaluate run times in UTC instead of system local time")
	fs.DurationVar(&shutdownGrace, "shutdown-grace", 0, "Grace period when shutting down")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()
	if configFile == "" {
		configFile = os.Getenv("AUTOCALL_CONFIG")
	}
	if configFile != "" {
		if err := cfg.loadFile(configFile); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if addr != "" {
		cfg.Server.Addr = addr
	}
	if mode != "" {
		cfg.Server.Mode = Mode(mode)
	}
	if stateDir != "" {
		cfg.Store.StateDir = stateDir
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if sweep != "" {
		cfg.Scheduler.Sweep = sweep
	}
	if workers > 0 {
		cfg.Scheduler.Workers = workers
	}
	// For bool flags, check if explicitly set via Visit
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "use-utc":
			cfg.Scheduler.UseUTC = useUTC
		case "shutdown-grace":
			cfg.Server.ShutdownGrace = shutdownGrace
		}
	})

	if cfg.Store.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.Store.StateDir = dir
	}
	if cfg.Log.RunsPageSize < 1 {
		cfg.Log.RunsPageSize = core.DefaultRunsPageSize
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	c.ConfigFile = path
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Addr = getEnvString("AUTOCALL_ADDR", c.Server.Addr)
	c.Server.Mode = Mode(getEnvString("AUTOCALL_MODE", string(c.Server.Mode)))
	c.Server.ShutdownGrace = getEnvDuration("AUTOCALL_SHUTDOWN_GRACE", c.Server.ShutdownGrace)

	c.Auth.JWTSecret = getEnvString("AUTOCALL_JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.TokenTTL = getEnvDuration("AUTOCALL_TOKEN_TTL", c.Auth.TokenTTL)

	c.Log.Level = getEnvString("AUTOCALL_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnvString("AUTOCALL_LOG_FORMAT", c.Log.Format)
	c.Log.RunsPageSize = getEnvInt("AUTOCALL_RUNS_PAGE_SIZE", c.Log.RunsPageSize)

	c.Store.StateDir = getEnvString("AUTOCALL_STATE_DIR", c.Store.StateDir)

	c.Scheduler.Sweep = getEnvString("AUTOCALL_SWEEP", c.Scheduler.Sweep)
	c.Scheduler.Workers = getEnvInt("AUTOCALL_WORKERS", c.Scheduler.Workers)
	c.Scheduler.QueueSize = getEnvInt("AUTOCALL_QUEUE_SIZE", c.Scheduler.QueueSize)
	c.Scheduler.UseUTC = getEnvBool("AUTOCALL_USE_UTC", c.Scheduler.UseUTC)

	c.Calls.DialerURL = getEnvString("AUTOCALL_DIALER_URL", c.Calls.DialerURL)
	c.Calls.DialerToken = getEnvString("AUTOCALL_DIALER_TOKEN", c.Calls.DialerToken)
	c.Calls.DialerTimeout = getEnvDuration("AUTOCALL_DIALER_TIMEOUT", c.Calls.DialerTimeout)
	c.Calls.Spacing = getEnvDuration("AUTOCALL_CALL_SPACING", c.Calls.Spacing)
	c.Calls.RecontactAfter = getEnvDuration("AUTOCALL_RECONTACT_AFTER", c.Calls.RecontactAfter)

	c.RateLimit.Enabled = getEnvBool("AUTOCALL_RATE_LIMIT_ENABLED", c.RateLimit.Enabled)
	c.RateLimit.Max = getEnvInt("AUTOCALL_RATE_LIMIT_MAX", c.RateLimit.Max)
	c.RateLimit.Window = getEnvDuration("AUTOCALL_RATE_LIMIT_WINDOW", c.RateLimit.Window)
	c.RateLimit.RedisURL = getEnvString("AUTOCALL_REDIS_URL", c.RateLimit.RedisURL)

	c.Notification.Bark.URL = getEnvString("AUTOCALL_BARK_URL", c.Notification.Bark.URL)
	c.Notification.Bark.Enabled = getEnvBool("AUTOCALL_BARK_ENABLED", c.Notification.Bark.Enabled)

	c.Runway.BaseURL = getEnvString("AUTOCALL_RUNWAY_BASE_URL", c.Runway.BaseURL)
	c.Runway.APIKey = getEnvString("AUTOCALL_RUNWAY_API_KEY", c.Runway.APIKey)
	c.Runway.Endpoints = getEnvList("AUTOCALL_RUNWAY_ENDPOINTS", c.Runway.Endpoints)
	c.Runway.VersionHeader = getEnvString("AUTOCALL_RUNWAY_VERSION_HEADER", c.Runway.VersionHeader)
	c.Runway.Versions = getEnvList("AUTOCALL_RUNWAY_VERSIONS", c.Runway.Versions)
	c.Runway.Timeout = getEnvDuration("AUTOCALL_RUNWAY_TIMEOUT", c.Runway.Timeout)
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Server.Mode {
	case ModeHTTP, ModeMCP, ModeBoth:
	default:
		errs = append(errs, fmt.Errorf("invalid mode %q: must be http, mcp or both", c.Server.Mode))
	}
	if c.Server.Mode != ModeMCP && c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("jwt secret is required when serving http (env: AUTOCALL_JWT_SECRET)"))
	}
	if _, err := core.ParseSweepSpec(c.Scheduler.Sweep); err != nil {
		errs = append(errs, err)
	}
	if c.Scheduler.Workers < 1 {
		errs = append(errs, errors.New("workers must be at least 1"))
	}
	if c.Scheduler.QueueSize < 1 {
		errs = append(errs, errors.New("queue size must be at least 1"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.Max < 1 || c.RateLimit.Window <= 0) {
		errs = append(errs, errors.New("rate limit needs a positive max and window"))
	}
	if c.Notification.Bark.Enabled && c.Notification.Bark.URL == "" {
		errs = append(errs, errors.New("bark is enabled but no url is set"))
	}
	return errors.Join(errs...)
}

// Location returns the zone run times are evaluated in.
func (c *Config) Location() *time.Location {
	if c.Scheduler.UseUTC {
		return time.UTC
	}
	return time.Local
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(baseDir, "autocall")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}
