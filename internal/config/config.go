package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Grid      GridConfig      `yaml:"grid" mapstructure:"grid"`
	Encoder   EncoderConfig   `yaml:"encoder" mapstructure:"encoder"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Artifacts ArtifactsConfig `yaml:"artifacts" mapstructure:"artifacts"`
	Predictor PredictorConfig `yaml:"predictor" mapstructure:"predictor"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Refresh   RefreshConfig   `yaml:"refresh" mapstructure:"refresh"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// GridConfig configures the spatial grid.
type GridConfig struct {
	SizeDeg         float64 `yaml:"size_deg" mapstructure:"size_deg"`
	Tiers           string  `yaml:"tiers" mapstructure:"tiers"` // three | five
	DefaultRadiusKM float64 `yaml:"default_radius_km" mapstructure:"default_radius_km"`
}

// EncoderConfig configures the feature encoder and the risk label rule.
type EncoderConfig struct {
	CategoricalColumns []string `yaml:"categorical_columns" mapstructure:"categorical_columns"`
	HighRiskCategories []string `yaml:"high_risk_categories" mapstructure:"high_risk_categories"`
}

// StoreConfig configures persistence.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite | postgres
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// ArtifactsConfig configures where exports are written.
type ArtifactsConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// PredictorConfig configures the classifier. An empty URL selects the
// local centroid model fitted by the fit command.
type PredictorConfig struct {
	URL           string  `yaml:"url" mapstructure:"url"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec    float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	RetryAttempts int     `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	CacheSize     int     `yaml:"cache_size" mapstructure:"cache_size"`
	CacheTTLSecs  int     `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
}

// BatchConfig configures multi-location assessment.
type BatchConfig struct {
	MaxLocations int `yaml:"max_locations" mapstructure:"max_locations"`
	Concurrency  int `yaml:"concurrency" mapstructure:"concurrency"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// RefreshConfig configures periodic grid and encoder rebuilds. Zero
// disables the loop.
type RefreshConfig struct {
	IntervalSecs int `yaml:"interval_secs" mapstructure:"interval_secs"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RISKGRID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("grid.size_deg", 0.01)
	v.SetDefault("grid.tiers", "three")
	v.SetDefault("grid.default_radius_km", 2.0)
	v.SetDefault("encoder.categorical_columns", []string{"Crime_Type", "Police_Station"})
	v.SetDefault("encoder.high_risk_categories", []string{
		"Sexual Harassment", "Kidnapping", "Murder", "Assault",
		"Chain Snatching", "Robbery", "Domestic Violence",
	})
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "riskgrid.db")
	v.SetDefault("artifacts.dir", "artifacts")
	v.SetDefault("predictor.url", "")
	v.SetDefault("predictor.timeout_secs", 5)
	v.SetDefault("predictor.rate_per_sec", 20.0)
	v.SetDefault("predictor.retry_attempts", 3)
	v.SetDefault("predictor.cache_size", 4096)
	v.SetDefault("predictor.cache_ttl_secs", 300)
	v.SetDefault("batch.max_locations", 100)
	v.SetDefault("batch.concurrency", 8)
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("refresh.interval_secs", 0)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks value ranges and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Grid.SizeDeg <= 0 {
		errs = append(errs, fmt.Sprintf("grid.size_deg must be positive (got %v)", c.Grid.SizeDeg))
	}
	if c.Grid.Tiers != "three" && c.Grid.Tiers != "five" {
		errs = append(errs, fmt.Sprintf("grid.tiers must be three or five (got %q)", c.Grid.Tiers))
	}
	if c.Grid.DefaultRadiusKM <= 0 {
		errs = append(errs, "grid.default_radius_km must be positive")
	}
	if len(c.Encoder.CategoricalColumns) == 0 {
		errs = append(errs, "encoder.categorical_columns must not be empty")
	}
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres (got %q)", c.Store.Driver))
	}
	if c.Predictor.RatePerSec < 0 {
		errs = append(errs, "predictor.rate_per_sec must not be negative")
	}
	if c.Predictor.TimeoutSecs <= 0 {
		errs = append(errs, "predictor.timeout_secs must be positive")
	}
	if c.Batch.MaxLocations <= 0 {
		errs = append(errs, "batch.max_locations must be positive")
	}
	if c.Batch.Concurrency <= 0 {
		errs = append(errs, "batch.concurrency must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port out of range (got %d)", c.Server.Port))
	}
	if c.Refresh.IntervalSecs < 0 {
		errs = append(errs, "refresh.interval_secs must not be negative")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
