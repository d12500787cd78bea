package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the freightq engine.
type Config struct {
	Storage Storage `yaml:"storage"`
	Logging Logging `yaml:"logging"`
	Pricing Pricing `yaml:"pricing"`
	Ranking Ranking `yaml:"ranking"`
	Refdata Refdata `yaml:"refdata"`
}

// Storage holds paths for data persistence.
type Storage struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Pricing controls margin derivation and the debounced recompute.
type Pricing struct {
	// SellPolicy names the registered policy used to derive sell rates from
	// buy rates when auto-margin is on.
	SellPolicy string `yaml:"sell_policy"`
	AutoMargin bool   `yaml:"auto_margin"`
	DebounceMs int    `yaml:"debounce_ms"`
}

// Ranking holds the option-scoring weights. The caller supplies consistent
// weights; the engine does not normalize them.
type Ranking struct {
	CostWeight        float64 `yaml:"cost_weight"`
	TransitWeight     float64 `yaml:"transit_weight"`
	ReliabilityWeight float64 `yaml:"reliability_weight"`
}

// Refdata controls reference-data loading.
type Refdata struct {
	MaxAttempts int `yaml:"max_attempts"`
	RetryBaseMs int `yaml:"retry_base_ms"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides, and fills defaults
// for unset fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// Default returns a Config with all defaults applied, for callers that run
// without a config file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FREIGHTQ_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("FREIGHTQ_SELL_POLICY"); v != "" {
		cfg.Pricing.SellPolicy = v
	}
	if v := os.Getenv("FREIGHTQ_DEBOUNCE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pricing.DebounceMs = n
		}
	}
}

// applyDefaults fills zero-valued fields with working defaults.
func applyDefaults(cfg *Config) {
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "freightq.db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Pricing.SellPolicy == "" {
		cfg.Pricing.SellPolicy = "margin_on_sell"
	}
	if cfg.Pricing.DebounceMs == 0 {
		cfg.Pricing.DebounceMs = 300
	}
	if cfg.Ranking.CostWeight == 0 && cfg.Ranking.TransitWeight == 0 && cfg.Ranking.ReliabilityWeight == 0 {
		cfg.Ranking.CostWeight = 0.4
		cfg.Ranking.TransitWeight = 0.3
		cfg.Ranking.ReliabilityWeight = 0.3
	}
	if cfg.Refdata.MaxAttempts == 0 {
		cfg.Refdata.MaxAttempts = 3
	}
	if cfg.Refdata.RetryBaseMs == 0 {
		cfg.Refdata.RetryBaseMs = 200
	}
}
