package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListenAddr        = ":8080"
	defaultDBPath            = "augur.db"
	defaultReconcileInterval = 10 * time.Second
	defaultWorkers           = 4
	defaultQueueSize         = 100
	defaultJobTimeout        = 10 * time.Minute
	defaultAnalyzeCost       = 10
	defaultForecastCost      = 30
	defaultAPIURL            = "http://localhost:8080"
	defaultWatchInterval     = 10 * time.Second
	defaultWatchTimeout      = 10 * time.Second
	defaultOrphanGrace       = time.Minute

	envConfigFile        = "AUGUR_CONFIG_FILE"
	envListenAddr        = "AUGUR_LISTEN_ADDR"
	envDBPath            = "AUGUR_DB_PATH"
	envLogLevel          = "AUGUR_LOG_LEVEL"
	envReconcileInterval = "AUGUR_RECONCILE_INTERVAL"
	envWorkers           = "AUGUR_WORKERS"
	envQueueSize         = "AUGUR_QUEUE_SIZE"
	envJobTimeout        = "AUGUR_JOB_TIMEOUT"
	envAnalyzeCost       = "AUGUR_ANALYZE_COST"
	envForecastCost      = "AUGUR_FORECAST_COST"
	envAPIURL            = "AUGUR_API_URL"
	envWatchInterval     = "AUGUR_WATCH_INTERVAL"
	envWatchTimeout      = "AUGUR_WATCH_TIMEOUT"
	envOrphanGrace       = "AUGUR_ORPHAN_GRACE"
)

// Config holds application configuration.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	// ReconcileInterval is the period of the in-process reconciliation
	// loop. Zero disables it, leaving passes to an external trigger.
	ReconcileInterval time.Duration

	// OrphanGrace is how long an in-flight work item may lack a backend job
	// before a pass fails and refunds it.
	OrphanGrace time.Duration

	Workers    int
	QueueSize  int
	JobTimeout time.Duration

	AnalyzeCost  int64
	ForecastCost int64

	// APIURL is the server the watcher triggers passes on.
	APIURL        string
	WatchInterval time.Duration
	WatchTimeout  time.Duration
}

// fileConfig models the optional YAML file. Durations are Go duration strings.
type fileConfig struct {
	ListenAddr        string `yaml:"listen_addr"`
	DBPath            string `yaml:"db_path"`
	LogLevel          string `yaml:"log_level"`
	ReconcileInterval string `yaml:"reconcile_interval"`
	OrphanGrace       string `yaml:"orphan_grace"`
	Workers           *int   `yaml:"workers"`
	QueueSize         *int   `yaml:"queue_size"`
	JobTimeout        string `yaml:"job_timeout"`
	AnalyzeCost       *int64 `yaml:"analyze_cost"`
	ForecastCost      *int64 `yaml:"forecast_cost"`
	APIURL            string `yaml:"api_url"`
	WatchInterval     string `yaml:"watch_interval"`
	WatchTimeout      string `yaml:"watch_timeout"`
}

// Load builds the configuration from defaults, then the YAML file named by
// AUGUR_CONFIG_FILE if set, then environment variables.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:        defaultListenAddr,
		DBPath:            defaultDBPath,
		LogLevel:          slog.LevelInfo,
		ReconcileInterval: defaultReconcileInterval,
		OrphanGrace:       defaultOrphanGrace,
		Workers:           defaultWorkers,
		QueueSize:         defaultQueueSize,
		JobTimeout:        defaultJobTimeout,
		AnalyzeCost:       defaultAnalyzeCost,
		ForecastCost:      defaultForecastCost,
		APIURL:            defaultAPIURL,
		WatchInterval:     defaultWatchInterval,
		WatchTimeout:      defaultWatchTimeout,
	}

	var errs []error
	if path := os.Getenv(envConfigFile); path != "" {
		errs = append(errs, cfg.loadFile(path))
	}
	errs = append(errs, cfg.loadEnv())
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.ListenAddr != "" {
		c.ListenAddr = fc.ListenAddr
	}
	if fc.DBPath != "" {
		c.DBPath = fc.DBPath
	}
	if fc.LogLevel != "" {
		c.LogLevel = parseLogLevel(fc.LogLevel)
	}
	durations := []struct {
		key string
		val string
		dst *time.Duration
	}{
		{"reconcile_interval", fc.ReconcileInterval, &c.ReconcileInterval},
		{"orphan_grace", fc.OrphanGrace, &c.OrphanGrace},
		{"job_timeout", fc.JobTimeout, &c.JobTimeout},
		{"watch_interval", fc.WatchInterval, &c.WatchInterval},
		{"watch_timeout", fc.WatchTimeout, &c.WatchTimeout},
	}
	var errs []error
	for _, d := range durations {
		if d.val == "" {
			continue
		}
		v, err := time.ParseDuration(d.val)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", path, d.key, err))
			continue
		}
		*d.dst = v
	}
	if fc.Workers != nil {
		c.Workers = *fc.Workers
	}
	if fc.QueueSize != nil {
		c.QueueSize = *fc.QueueSize
	}
	if fc.AnalyzeCost != nil {
		c.AnalyzeCost = *fc.AnalyzeCost
	}
	if fc.ForecastCost != nil {
		c.ForecastCost = *fc.ForecastCost
	}
	if fc.APIURL != "" {
		c.APIURL = fc.APIURL
	}
	return errors.Join(errs...)
}

func (c *Config) loadEnv() error {
	if v := os.Getenv(envListenAddr); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		c.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envAPIURL); v != "" {
		c.APIURL = v
	}

	var errs []error
	envDuration(envReconcileInterval, &c.ReconcileInterval, &errs)
	envDuration(envOrphanGrace, &c.OrphanGrace, &errs)
	envDuration(envJobTimeout, &c.JobTimeout, &errs)
	envDuration(envWatchInterval, &c.WatchInterval, &errs)
	envDuration(envWatchTimeout, &c.WatchTimeout, &errs)
	envInt(envWorkers, &c.Workers, &errs)
	envInt(envQueueSize, &c.QueueSize, &errs)
	envInt64(envAnalyzeCost, &c.AnalyzeCost, &errs)
	envInt64(envForecastCost, &c.ForecastCost, &errs)
	return errors.Join(errs...)
}

func (c *Config) validate() error {
	var errs []error
	if c.ReconcileInterval < 0 {
		errs = append(errs, errors.New("reconcile interval must not be negative"))
	}
	if c.OrphanGrace < 0 {
		errs = append(errs, errors.New("orphan grace must not be negative"))
	}
	if c.Workers < 1 {
		errs = append(errs, errors.New("workers must be at least 1"))
	}
	if c.QueueSize < 1 {
		errs = append(errs, errors.New("queue size must be at least 1"))
	}
	if c.JobTimeout <= 0 {
		errs = append(errs, errors.New("job timeout must be positive"))
	}
	if c.WatchInterval <= 0 || c.WatchTimeout <= 0 {
		errs = append(errs, errors.New("watch interval and timeout must be positive"))
	}
	if c.AnalyzeCost < 0 || c.ForecastCost < 0 {
		errs = append(errs, errors.New("costs must not be negative"))
	}
	return errors.Join(errs...)
}

func envDuration(key string, dst *time.Duration, errs *[]error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}

func envInt(key string, dst *int, errs *[]error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func envInt64(key string, dst *int64, errs *[]error) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
