package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration represents the complete daemon configuration.
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Tiering    TieringConfig    `yaml:"tiering"`
	Bootstrap  BootstrapConfig  `yaml:"bootstrap"`
	Store      StoreConfig      `yaml:"store"`
	Network    NetworkConfig    `yaml:"network"`
	Security   SecurityConfig   `yaml:"security"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig represents global daemon settings.
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	MetricsPort int    `yaml:"metrics_port"`
	HealthPort  int    `yaml:"health_port"`
	ProfilePort int    `yaml:"profile_port"`
}

// TieringConfig controls the core scan/move/retry/reconcile loops (spec.md §4).
type TieringConfig struct {
	UnionRoot       string        `yaml:"union_root"`
	Tiers           []TierConfig  `yaml:"tiers"`
	ScanInterval    time.Duration `yaml:"scan_interval"`
	MoverWorkers    int           `yaml:"mover_workers"`
	MoveQueueDepth  int           `yaml:"move_queue_depth"`
	RetryQueueDepth int           `yaml:"retry_queue_depth"`
	DryRun          bool          `yaml:"dry_run"`
	// DryRunMutatesStore resolves spec.md's Open Question on dry-run
	// semantics (SPEC_FULL.md §5): when true, a dry-run move still updates
	// the Metadata Store as if the copy had succeeded.
	DryRunMutatesStore bool `yaml:"dry_run_mutates_store"`
	// MinDwell is the dwell-time guard resolving the promotion/demotion
	// oscillation Open Question (SPEC_FULL.md §5). Zero reproduces the
	// spec's literal oscillation-permitted baseline.
	MinDwell time.Duration `yaml:"min_dwell"`
	// TierCapacityThreshold is the single used/total fraction (0-1) that
	// triggers Phase B demotion in the Scan/Policy Worker, applied
	// uniformly to every tier with a demotion target (spec.md §3
	// tier_capacity_threshold — one config value, not one per tier).
	TierCapacityThreshold float64 `yaml:"tier_capacity_threshold"`
	// PromoteAfterAccesses is the access-count threshold for Phase C
	// promotion eligibility.
	PromoteAfterAccesses int64 `yaml:"promote_after_accesses"`
	// AccessTimeThreshold bounds how recent last_access_time must be for
	// Phase C promotion eligibility (spec.md §3 access_time_threshold).
	AccessTimeThreshold time.Duration `yaml:"access_time_threshold"`
	ReconcileInterval   time.Duration `yaml:"reconcile_interval"`
}

// TierConfig is one entry of Tiering.Tiers.
type TierConfig struct {
	Name string   `yaml:"name"`
	Root string   `yaml:"root"`
	Devices []string `yaml:"devices"`
}

// BootstrapConfig controls the one-shot drive discovery/classification/
// format/mount/union setup (SPEC_FULL.md §4, external collaborator per
// spec.md §6).
type BootstrapConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Filesystem     string   `yaml:"filesystem"`
	ExcludeDrives  []string `yaml:"exclude_drives"`
	MergerfsOpts   string   `yaml:"mergerfs_opts"`
	Foreground     bool     `yaml:"foreground"`
}

// StoreConfig controls the Metadata Store (spec.md §4.1).
type StoreConfig struct {
	Path         string        `yaml:"path"`
	FlushOnWrite bool          `yaml:"flush_on_write"`
	SyncInterval time.Duration `yaml:"sync_interval"`
}

// NetworkConfig groups ambient retry/circuit-breaker tuning for bootstrap's
// device operations; the mover's rsync breaker does not read it.
type NetworkConfig struct {
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig represents retry settings.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CircuitBreakerConfig represents circuit breaker settings.
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// SecurityConfig represents security settings.
type SecurityConfig struct {
	RequireRoot bool `yaml:"require_root"`
}

// MonitoringConfig represents monitoring settings.
type MonitoringConfig struct {
	Metrics      MetricsConfig      `yaml:"metrics"`
	HealthChecks HealthChecksConfig `yaml:"health_checks"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// MetricsConfig represents metrics settings.
type MetricsConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Prometheus   bool              `yaml:"prometheus"`
	CustomLabels map[string]string `yaml:"custom_labels"`
}

// HealthChecksConfig represents health check settings.
type HealthChecksConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LoggingConfig represents logging settings.
type LoggingConfig struct {
	Structured bool           `yaml:"structured"`
	Format     string         `yaml:"format"`
	Sampling   SamplingConfig `yaml:"sampling"`
}

// SamplingConfig represents log sampling settings.
type SamplingConfig struct {
	Enabled bool `yaml:"enabled"`
	Rate    int  `yaml:"rate"`
}

// NewDefault returns a configuration with sensible defaults.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			LogFile:     "",
			MetricsPort: 8080,
			HealthPort:  8081,
			ProfilePort: 6060,
		},
		Tiering: TieringConfig{
			UnionRoot: "/mnt/merged",
			Tiers: []TierConfig{
				{Name: "hot", Root: "/mnt/merged/hot"},
				{Name: "warm", Root: "/mnt/merged/warm"},
				{Name: "cold", Root: "/mnt/merged/cold"},
			},
			ScanInterval:          5 * time.Minute,
			MoverWorkers:          4,
			MoveQueueDepth:        256,
			RetryQueueDepth:       256,
			DryRun:                false,
			DryRunMutatesStore:    true,
			MinDwell:              10 * time.Minute,
			TierCapacityThreshold: 0.80,
			PromoteAfterAccesses:  3,
			AccessTimeThreshold:   1 * time.Hour,
			ReconcileInterval:     1 * time.Hour,
		},
		Bootstrap: BootstrapConfig{
			Enabled:       false,
			Filesystem:    "ext4",
			ExcludeDrives: nil,
			MergerfsOpts:  "allow_other,cache.files=partial,dropcacheonclose=true,category.create=mfs",
			Foreground:    false,
		},
		Store: StoreConfig{
			Path:         "/var/lib/drivetierd/metadata.db",
			FlushOnWrite: false,
			SyncInterval: 30 * time.Second,
		},
		Network: NetworkConfig{
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   1 * time.Second,
				MaxDelay:    30 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Timeout:          60 * time.Second,
			},
		},
		Security: SecurityConfig{
			RequireRoot: true,
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:    false,
				Prometheus: true,
				CustomLabels: map[string]string{
					"service": "drivetierd",
				},
			},
			HealthChecks: HealthChecksConfig{
				Enabled:  true,
				Interval: 30 * time.Second,
				Timeout:  5 * time.Second,
			},
			Logging: LoggingConfig{
				Structured: true,
				Format:     "json",
				Sampling: SamplingConfig{
					Enabled: false,
					Rate:    1000,
				},
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv overlays configuration from environment variables.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("DRIVETIERD_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("DRIVETIERD_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("DRIVETIERD_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Global.MetricsPort = port
		}
	}

	if val := os.Getenv("DRIVETIERD_UNION_ROOT"); val != "" {
		c.Tiering.UnionRoot = val
	}
	if val := os.Getenv("DRIVETIERD_SCAN_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Tiering.ScanInterval = d
		}
	}
	if val := os.Getenv("DRIVETIERD_ACCESS_TIME_THRESHOLD"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Tiering.AccessTimeThreshold = d
		}
	}
	if val := os.Getenv("DRIVETIERD_TIER_CAPACITY_THRESHOLD"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			c.Tiering.TierCapacityThreshold = f
		}
	}
	if val := os.Getenv("DRIVETIERD_MOVER_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Tiering.MoverWorkers = n
		}
	}
	if val := os.Getenv("DRIVETIERD_DRY_RUN"); val != "" {
		c.Tiering.DryRun = strings.ToLower(val) == "true"
	}

	if val := os.Getenv("DRIVETIERD_STORE_PATH"); val != "" {
		c.Store.Path = val
	}

	if val := os.Getenv("DRIVETIERD_METRICS_ENABLED"); val != "" {
		c.Monitoring.Metrics.Enabled = strings.ToLower(val) == "true"
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration.
func (c *Configuration) Validate() error {
	if c.Tiering.MoverWorkers <= 0 {
		return fmt.Errorf("tiering.mover_workers must be greater than 0")
	}

	if c.Tiering.UnionRoot == "" {
		return fmt.Errorf("tiering.union_root must be set")
	}

	if len(c.Tiering.Tiers) == 0 {
		return fmt.Errorf("tiering.tiers must declare at least one tier")
	}
	seen := make(map[string]bool, len(c.Tiering.Tiers))
	for _, t := range c.Tiering.Tiers {
		if t.Name != "hot" && t.Name != "warm" && t.Name != "cold" {
			return fmt.Errorf("tiering.tiers: unknown tier name %q (must be hot, warm, or cold)", t.Name)
		}
		if seen[t.Name] {
			return fmt.Errorf("tiering.tiers: duplicate tier name %q", t.Name)
		}
		seen[t.Name] = true
		if t.Root == "" {
			return fmt.Errorf("tiering.tiers: tier %q missing root", t.Name)
		}
	}

	if c.Tiering.TierCapacityThreshold <= 0 || c.Tiering.TierCapacityThreshold > 1 {
		return fmt.Errorf("tiering.tier_capacity_threshold must be in (0, 1]")
	}

	if c.Store.Path == "" {
		return fmt.Errorf("store.path must be set")
	}

	if c.Global.MetricsPort == c.Global.HealthPort {
		return fmt.Errorf("metrics_port and health_port cannot be the same")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.Global.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}
