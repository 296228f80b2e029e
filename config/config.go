// config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// ZoneConfig holds the per-run parameters of the zone-recovery engine.
type ZoneConfig struct {
	ZonePips                   float64 `yaml:"zone_pips"`
	TPPips                     float64 `yaml:"tp_pips"`
	MaxHedges                  int     `yaml:"max_hedges"`
	MinAgeSeconds              float64 `yaml:"min_age_seconds"`
	HedgeCooldownSeconds       float64 `yaml:"hedge_cooldown_seconds"`
	BucketCloseCooldownSeconds float64 `yaml:"bucket_close_cooldown_seconds"`
	EmergencyHedgeThreshold    int     `yaml:"emergency_hedge_threshold"`
	GlobalPositionCap          int     `yaml:"global_position_cap"`
}

// MicrostructureConfig holds the tick analyzer parameters.
type MicrostructureConfig struct {
	WindowSeconds    float64 `yaml:"window_seconds"`
	VolumeBufferSize int     `yaml:"volume_buffer_size"`
}

// LiquidityConfig holds the wall-detection tunables. The clustering and
// proximity percentages are calibration constants, kept configurable on
// purpose.
type LiquidityConfig struct {
	PivotLookback       int     `yaml:"pivot_lookback"`
	ClusterThresholdPct float64 `yaml:"cluster_threshold_pct"`
	ProximityPct        float64 `yaml:"proximity_pct"`
	MinWallStrength     int     `yaml:"min_wall_strength"`
}

// BadBankConfig holds the toxic-asset ledger parameters.
type BadBankConfig struct {
	TitheRate float64 `yaml:"tithe_rate"` // share of each profitable close routed to the pool
}

// LogConfig holds the configuration for logging.
type LogConfig struct {
	LogLevel   string `yaml:"log_level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// NormalConfig holds general, non-strategy configuration.
type NormalConfig struct {
	MonitorIntervalSeconds   int    `yaml:"monitor_interval_seconds"`
	CleanupIntervalSeconds   int    `yaml:"cleanup_interval_seconds"`
	HeartbeatIntervalMinutes int    `yaml:"heartbeat_interval_minutes"`
	LogDirectory             string `yaml:"log_directory"`
	HTTPListenAddr           string `yaml:"http_listen_addr"`
}

// Config is the top-level configuration structure.
type Config struct {
	Symbol        string                `yaml:"symbol"`
	UseSimulation bool                  `yaml:"use_simulation"`
	Zone          *ZoneConfig           `yaml:"zone"`
	Micro         *MicrostructureConfig `yaml:"microstructure"`
	Liquidity     *LiquidityConfig      `yaml:"liquidity"`
	BadBank       *BadBankConfig        `yaml:"bad_bank"`
	Logs          *LogConfig            `yaml:"logs"`
	Normal        *NormalConfig         `yaml:"normal_config"`
}

// NewConfig allocates nested blocks and sets the defaults that have a safe
// value without calibration. Critical strategy parameters must come from the
// YAML file; Validate enforces that.
func NewConfig() *Config {
	return &Config{
		UseSimulation: false,
		Zone: &ZoneConfig{
			MaxHedges:                  10,
			MinAgeSeconds:              3.0,
			HedgeCooldownSeconds:       15.0,
			BucketCloseCooldownSeconds: 15.0,
			EmergencyHedgeThreshold:    10,
			GlobalPositionCap:          10,
		},
		Micro: &MicrostructureConfig{
			WindowSeconds:    5,
			VolumeBufferSize: 100,
		},
		Liquidity: &LiquidityConfig{
			PivotLookback:       5,
			ClusterThresholdPct: 0.0005,
			ProximityPct:        0.0003,
			MinWallStrength:     2,
		},
		BadBank: &BadBankConfig{},
		Logs:    &LogConfig{},
		Normal:  &NormalConfig{},
	}
}

// LoadConfig loads configuration from a given path, applies defaults, and validates it.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("Error: Config file not found at %s. Program cannot run without a config file", path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the logical consistency and completeness of the entire configuration.
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("Critical config missing: 'symbol' must be explicitly specified in config.yaml")
	}

	if c.Zone == nil {
		return fmt.Errorf("Critical config missing: 'zone' configuration block must be provided in config.yaml")
	}
	if c.Zone.ZonePips <= 0 {
		return fmt.Errorf("Critical config missing: 'zone.zone_pips' must be explicitly specified in config.yaml and be positive")
	}
	if c.Zone.TPPips <= 0 {
		return fmt.Errorf("Critical config missing: 'zone.tp_pips' must be explicitly specified in config.yaml and be positive")
	}
	if c.Zone.MaxHedges <= 0 {
		return fmt.Errorf("Config error: zone.max_hedges must be positive")
	}
	if c.Zone.MinAgeSeconds < 0 {
		return fmt.Errorf("Config error: zone.min_age_seconds cannot be negative")
	}
	if c.Zone.HedgeCooldownSeconds < 0 {
		return fmt.Errorf("Config error: zone.hedge_cooldown_seconds cannot be negative")
	}
	if c.Zone.GlobalPositionCap <= 0 {
		return fmt.Errorf("Config error: zone.global_position_cap must be positive")
	}

	if c.Micro == nil || c.Micro.WindowSeconds <= 0 {
		return fmt.Errorf("Config error: microstructure.window_seconds must be positive")
	}
	if c.Micro.VolumeBufferSize <= 0 {
		return fmt.Errorf("Config error: microstructure.volume_buffer_size must be positive")
	}

	if c.Liquidity == nil || c.Liquidity.PivotLookback <= 0 {
		return fmt.Errorf("Config error: liquidity.pivot_lookback must be positive")
	}
	if c.Liquidity.ClusterThresholdPct <= 0 || c.Liquidity.ProximityPct <= 0 {
		return fmt.Errorf("Config error: liquidity cluster/proximity percentages must be positive")
	}
	if c.Liquidity.MinWallStrength <= 0 {
		return fmt.Errorf("Config error: liquidity.min_wall_strength must be positive")
	}

	if c.BadBank == nil {
		return fmt.Errorf("Critical config missing: 'bad_bank' configuration block must be provided in config.yaml")
	}
	if c.BadBank.TitheRate < 0 || c.BadBank.TitheRate > 1 {
		return fmt.Errorf("Config error: bad_bank.tithe_rate must be within [0, 1]")
	}

	if c.Logs == nil {
		return fmt.Errorf("Critical config missing: 'logs' configuration block must be provided in config.yaml")
	}
	if c.Logs.LogLevel == "" {
		return fmt.Errorf("Critical config missing: 'logs.log_level' must be explicitly specified in config.yaml (e.g., 'info', 'debug', 'warn', 'error')")
	}
	if c.Logs.MaxSizeMB <= 0 {
		return fmt.Errorf("Critical config missing: 'logs.max_size_mb' must be explicitly specified in config.yaml and be positive")
	}
	if c.Logs.MaxBackups <= 0 {
		return fmt.Errorf("Critical config missing: 'logs.max_backups' must be explicitly specified in config.yaml and be positive")
	}
	if c.Logs.MaxAgeDays <= 0 {
		return fmt.Errorf("Critical config missing: 'logs.max_age_days' must be explicitly specified in config.yaml and be positive")
	}

	if c.Normal == nil {
		return fmt.Errorf("Critical config missing: 'normal_config' configuration block must be provided in config.yaml")
	}
	if c.Normal.MonitorIntervalSeconds <= 0 {
		return fmt.Errorf("Critical config missing: 'normal_config.monitor_interval_seconds' must be explicitly specified in config.yaml and be positive")
	}
	if c.Normal.CleanupIntervalSeconds <= 0 {
		return fmt.Errorf("Critical config missing: 'normal_config.cleanup_interval_seconds' must be explicitly specified in config.yaml and be positive")
	}
	if c.Normal.HeartbeatIntervalMinutes <= 0 {
		return fmt.Errorf("Critical config missing: 'normal_config.heartbeat_interval_minutes' must be explicitly specified in config.yaml and be positive")
	}
	if c.Normal.LogDirectory == "" {
		return fmt.Errorf("Critical config missing: 'normal_config.log_directory' must be explicitly specified in config.yaml (e.g., 'logs')")
	}

	return nil
}

// EnvConfig carries environment-style runtime toggles.
type EnvConfig struct {
	FreshnessGateEnabled bool
	FreshTickMaxAgeSec   float64
}

// LoadEnvConfig reads the freshness-gating toggles from the environment.
// Missing variables fall back to gate-enabled with a 10 second tolerance.
func LoadEnvConfig() *EnvConfig {
	cfg := &EnvConfig{
		FreshnessGateEnabled: true,
		FreshTickMaxAgeSec:   10.0,
	}
	if raw := strings.TrimSpace(strings.ToLower(os.Getenv("ZONE_ENABLE_FRESHNESS_GATE"))); raw != "" {
		cfg.FreshnessGateEnabled = raw == "1" || raw == "true" || raw == "yes" || raw == "on"
	}
	if raw := os.Getenv("ZONE_FRESH_TICK_MAX_AGE_S"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			cfg.FreshTickMaxAgeSec = v
		}
	}
	return cfg
}
