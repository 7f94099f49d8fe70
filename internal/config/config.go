package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the sentinel service.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Rules      RulesConfig      `yaml:"rules"`
	Store      StoreConfig      `yaml:"store"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Cache      CacheConfig      `yaml:"cache"`
	Dedup      DedupConfig      `yaml:"dedup"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Escalation EscalationConfig `yaml:"escalation"`
	Notify     NotifyConfig     `yaml:"notify"`
	Sources    SourcesConfig    `yaml:"sources"`
	Ingest     IngestConfig     `yaml:"ingest"`
}

// ServerConfig controls HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RulesConfig controls classification rule-pack loading.
type RulesConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// StoreConfig controls the SQLite incident store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// ArchiveConfig controls the documentation sink.
type ArchiveConfig struct {
	Dir string `yaml:"dir"`
}

// CacheConfig controls the Redis-backed cache provider.
type CacheConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DedupConfig controls signal-storm suppression. A zero window disables dedup.
type DedupConfig struct {
	Window time.Duration `yaml:"window"`
}

// SchedulerConfig controls the detection polling loop and workflow workers.
type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"pollInterval"`
	Workers      int           `yaml:"workers"`
	QueueSize    int           `yaml:"queueSize"`
}

// EscalationConfig controls the background escalation checker.
type EscalationConfig struct {
	Interval time.Duration `yaml:"interval"`
	Tiers    []TierConfig  `yaml:"tiers"`
}

// TierConfig describes one escalation tier. A zero budget on tier 1 means the
// severity-driven response budget applies.
type TierConfig struct {
	Name         string        `yaml:"name"`
	Budget       time.Duration `yaml:"budget"`
	AutoEscalate bool          `yaml:"autoEscalate"`
}

// NotifyConfig controls notification channels and severity routing.
type NotifyConfig struct {
	Webhook WebhookConfig       `yaml:"webhook"`
	Ticket  TicketConfig        `yaml:"ticket"`
	Routes  map[string][]string `yaml:"routes"`
}

// WebhookConfig configures the JSON webhook channel.
type WebhookConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	Retries int           `yaml:"retries"`
}

// TicketConfig configures the external issue-tracker channel.
type TicketConfig struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// SourcesConfig groups the optional event-source checkers.
type SourcesConfig struct {
	Performance PerformanceSourceConfig `yaml:"performance"`
	System      SystemSourceConfig      `yaml:"system"`
	LogScan     LogScanSourceConfig     `yaml:"logscan"`
	Integrity   IntegritySourceConfig   `yaml:"integrity"`
}

// PerformanceSourceConfig configures the platform metrics snapshot checker.
type PerformanceSourceConfig struct {
	Enabled bool          `yaml:"enabled"`
	BaseURL string        `yaml:"baseURL"`
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
}

// SystemSourceConfig configures the host utilisation checker.
type SystemSourceConfig struct {
	Enabled       bool    `yaml:"enabled"`
	CPUPercent    float64 `yaml:"cpuPercent"`
	MemoryPercent float64 `yaml:"memoryPercent"`
}

// LogScanSourceConfig configures the log keyword checker.
type LogScanSourceConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Path     string   `yaml:"path"`
	Keywords []string `yaml:"keywords"`
}

// IntegritySourceConfig configures SQL data-integrity probes.
type IntegritySourceConfig struct {
	Enabled bool          `yaml:"enabled"`
	DSN     string        `yaml:"dsn"`
	Probes  []ProbeConfig `yaml:"probes"`
}

// ProbeConfig is a single scalar SQL assertion.
type ProbeConfig struct {
	Name      string  `yaml:"name"`
	Query     string  `yaml:"query"`
	Op        string  `yaml:"op"`
	Threshold float64 `yaml:"threshold"`
}

// IngestConfig configures the NATS signal intake.
type IngestConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("SENTINEL_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8085",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Rules:   RulesConfig{Path: "configs/rules/default.yaml"},
		Store:   StoreConfig{Path: "data/sentinel.db"},
		Archive: ArchiveConfig{Dir: "data/artifacts"},
		Cache:   CacheConfig{Enabled: false},
		Dedup:   DedupConfig{Window: 5 * time.Minute},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
			Workers:      1,
			QueueSize:    256,
		},
		Escalation: EscalationConfig{
			Interval: 30 * time.Second,
			Tiers: []TierConfig{
				{Name: "technical support"},
				{Name: "senior technical", Budget: 30 * time.Minute},
				{Name: "management/security", Budget: 60 * time.Minute},
				{Name: "executive", Budget: 120 * time.Minute},
			},
		},
		Notify: NotifyConfig{
			Webhook: WebhookConfig{Timeout: 5 * time.Second, Retries: 2},
			Ticket:  TicketConfig{Timeout: 5 * time.Second},
			Routes: map[string][]string{
				"critical": {"log", "webhook", "ticket"},
				"high":     {"log", "webhook", "ticket"},
				"medium":   {"log", "webhook"},
				"low":      {"log"},
			},
		},
		Sources: SourcesConfig{
			Performance: PerformanceSourceConfig{
				Path:    "/api/v1/llm/metrics",
				Timeout: 5 * time.Second,
			},
			System: SystemSourceConfig{
				CPUPercent:    90,
				MemoryPercent: 90,
			},
		},
		Ingest: IngestConfig{Subject: "sentinel.signals"},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SENTINEL_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("SENTINEL_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("SENTINEL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SENTINEL_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("SENTINEL_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("SENTINEL_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("SENTINEL_ARCHIVE_DIR"); v != "" {
		cfg.Archive.Dir = v
	}
	if v := os.Getenv("SENTINEL_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("SENTINEL_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("SENTINEL_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("SENTINEL_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("SENTINEL_DEDUP_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Dedup.Window = d
		}
	}
	if v := os.Getenv("SENTINEL_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scheduler.PollInterval = d
		}
	}
	if v := os.Getenv("SENTINEL_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Scheduler.Workers = n
		}
	}
	if v := os.Getenv("SENTINEL_WEBHOOK_URL"); v != "" {
		cfg.Notify.Webhook.URL = v
	}
	if v := os.Getenv("SENTINEL_TICKET_URL"); v != "" {
		cfg.Notify.Ticket.URL = v
	}
	if v := os.Getenv("SENTINEL_TICKET_TOKEN"); v != "" {
		cfg.Notify.Ticket.Token = v
	}
	if v := os.Getenv("SENTINEL_PLATFORM_BASE_URL"); v != "" {
		cfg.Sources.Performance.BaseURL = v
		cfg.Sources.Performance.Enabled = true
	}
	if v := os.Getenv("SENTINEL_INTEGRITY_DSN"); v != "" {
		cfg.Sources.Integrity.DSN = v
	}
	if v := os.Getenv("SENTINEL_NATS_URL"); v != "" {
		cfg.Ingest.URL = v
	}
	if v := os.Getenv("SENTINEL_NATS_SUBJECT"); v != "" {
		cfg.Ingest.Subject = v
	}
}

func validate(cfg *Config) error {
	if len(cfg.Escalation.Tiers) != 4 {
		return fmt.Errorf("escalation requires exactly 4 tiers, got %d", len(cfg.Escalation.Tiers))
	}
	for i, tier := range cfg.Escalation.Tiers[1:] {
		if tier.Budget <= 0 {
			return fmt.Errorf("escalation tier %d requires a positive budget", i+2)
		}
	}
	if cfg.Scheduler.Workers <= 0 {
		cfg.Scheduler.Workers = 1
	}
	if cfg.Scheduler.QueueSize <= 0 {
		cfg.Scheduler.QueueSize = 256
	}
	return nil
}
