package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/franckalain/nutriratio/internal/ml"
	"github.com/franckalain/nutriratio/internal/retry"
	"github.com/franckalain/nutriratio/internal/validation"
)

// Config holds all application configuration
type Config struct {
	Server struct {
		Port                   string `json:"port" validate:"required,numeric"`
		StaticDir              string `json:"static_dir"`
		Debug                  bool   `json:"debug"`
		ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds" validate:"gte=0"`
	} `json:"server"`

	Database struct {
		Path string `json:"path" validate:"required"`
	} `json:"database"`

	ML ml.Config `json:"ml"`

	Analysis struct {
		TimeoutSeconds int `json:"timeout_seconds" validate:"gt=0"`
	} `json:"analysis"`

	Retry struct {
		MaxAttempts    int `json:"max_attempts" validate:"gte=1,lte=10"`
		InitialDelayMS int `json:"initial_delay_ms" validate:"gte=0"`
		MaxDelayMS     int `json:"max_delay_ms" validate:"gtefield=InitialDelayMS"`
	} `json:"retry"`

	Validation validation.Rules `json:"validation"`

	Analytics struct {
		BaseURL        string `json:"base_url" validate:"omitempty,url"`
		TimeoutSeconds int    `json:"timeout_seconds" validate:"gte=0"`
	} `json:"analytics"`

	Redis struct {
		Address        string `json:"address"`
		Password       string `json:"password"`
		DB             int    `json:"db" validate:"gte=0"`
		LockTTLSeconds int    `json:"lock_ttl_seconds" validate:"gte=0"`
	} `json:"redis"`

	Storage struct {
		Type     string `json:"type" validate:"oneof=local gcs"`
		LocalDir string `json:"local_dir" validate:"required_if=Type local"`
		Bucket   string `json:"bucket" validate:"required_if=Type gcs"`
	} `json:"storage"`

	Log struct {
		Level  string `json:"level"`
		Format string `json:"format" validate:"oneof=json text"`
	} `json:"log"`
}

// Default returns a configuration with every optional value filled in
func Default() *Config {
	var cfg Config
	cfg.Server.StaticDir = "./static"
	cfg.Server.ShutdownTimeoutSeconds = 10
	cfg.Database.Path = "nutriratio.db"
	cfg.ML.Type = ml.TypeGoogle
	cfg.Analysis.TimeoutSeconds = 30
	cfg.Retry.MaxAttempts = 3
	cfg.Retry.InitialDelayMS = 500
	cfg.Retry.MaxDelayMS = 5000
	cfg.Validation = validation.DefaultRules()
	cfg.Analytics.TimeoutSeconds = 5
	cfg.Redis.LockTTLSeconds = 30
	cfg.Storage.Type = "local"
	cfg.Storage.LocalDir = "./images"
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	return &cfg
}

// LoadConfig loads configuration from a JSON file, then applies .env and
// environment overrides and validates the result. A missing file is not an
// error as long as the environment supplies what the file would have.
func LoadConfig(configPath string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	config := Default()
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	config.ML.LoadEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("ML_TYPE"); v != "" {
		c.ML.Type = strings.ToLower(v)
	}
	if v := os.Getenv("REDIS_ADDRESS"); v != "" {
		c.Redis.Address = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REDIS_DB %q: %w", v, err)
		}
		c.Redis.DB = n
	}
	if v := os.Getenv("ANALYTICS_BASE_URL"); v != "" {
		c.Analytics.BaseURL = v
	}
	if v := os.Getenv("GCS_BUCKET"); v != "" {
		c.Storage.Type = "gcs"
		c.Storage.Bucket = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate checks the struct tags and reports the offending fields
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, ve := range verrs {
		fields = append(fields, ve.Namespace()+":"+ve.Tag())
	}
	return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
}

// AnalysisTimeout bounds a single analysis attempt
func (c *Config) AnalysisTimeout() time.Duration {
	return time.Duration(c.Analysis.TimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful shutdown
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// AnalyticsTimeout bounds one call to the analytics service
func (c *Config) AnalyticsTimeout() time.Duration {
	return time.Duration(c.Analytics.TimeoutSeconds) * time.Second
}

// LockTTL is how long a per-date lock may be held
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Redis.LockTTLSeconds) * time.Second
}

// RetryPolicy builds the backoff policy for external calls
func (c *Config) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = c.Retry.MaxAttempts
	p.InitialDelay = time.Duration(c.Retry.InitialDelayMS) * time.Millisecond
	p.MaxDelay = time.Duration(c.Retry.MaxDelayMS) * time.Millisecond
	return p
}

// GetConfigPath returns the path to the configuration file
func GetConfigPath() string {
	// First try environment variable
	if path := os.Getenv("NUTRIRATIO_CONFIG"); path != "" {
		return path
	}

	// Then try config directory
	configDir := "config"
	if _, err := os.Stat(configDir); err == nil {
		return filepath.Join(configDir, "config.json")
	}

	// Finally, try current directory
	return "config.json"
}
