// Package config binds the environment variables of spec.md §6.5 through
// viper, from the environment only; no command-line flag is bound to these
// keys (grounded in open-platform-model-cli).
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved runtime configuration for every subcommand.
type Config struct {
	Port             string
	Workers          int
	QueueCapacity    int
	MaxUploadBytes   int64
	JobTTLSeconds    int
	JobTimeoutSeconds int
	APIKey           string
	HMACSecret       string
	RasterizerCmd    string
	ResultDir        string
	IntakeDir        string
	AuditDBPath      string
	EnableDiagSheet  bool
	LogMode          string
	MinFreeDiskBytes int64
}

func (c Config) JobTTL() time.Duration {
	return time.Duration(c.JobTTLSeconds) * time.Second
}

func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSeconds) * time.Second
}

// New builds a viper instance pre-bound to spec.md §6.5's environment
// variables, with the defaults it names.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("WORKERS", 3)
	v.SetDefault("QUEUE_CAPACITY", 16)
	v.SetDefault("MAX_UPLOAD_BYTES", 100*1024*1024)
	v.SetDefault("JOB_TTL_SECONDS", 86400)
	v.SetDefault("JOB_TIMEOUT_SECONDS", 180)
	v.SetDefault("API_KEY", "")
	v.SetDefault("HMAC_SECRET", "")
	v.SetDefault("RASTERIZER_CMD", "")
	v.SetDefault("RESULT_DIR", "./data/results")
	v.SetDefault("INTAKE_DIR", "./data/intake")
	v.SetDefault("AUDIT_DB_PATH", "./data/audit.sqlite")
	v.SetDefault("ENABLE_DIAG_SHEET", false)
	v.SetDefault("LOG_MODE", "production")
	v.SetDefault("MIN_FREE_DISK_BYTES", 500*1024*1024)

	return v
}

// OTEL_ENABLED, OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_EXPORTER_OTLP_INSECURE, and
// OTEL_SAMPLER_RATIO are read directly by internal/platform/tracing rather
// than bound here, matching the OpenTelemetry SDK's own env-var convention.

// Load reads the bound viper instance into a Config value.
func Load(v *viper.Viper) Config {
	return Config{
		Port:              v.GetString("PORT"),
		Workers:           v.GetInt("WORKERS"),
		QueueCapacity:     v.GetInt("QUEUE_CAPACITY"),
		MaxUploadBytes:    v.GetInt64("MAX_UPLOAD_BYTES"),
		JobTTLSeconds:     v.GetInt("JOB_TTL_SECONDS"),
		JobTimeoutSeconds: v.GetInt("JOB_TIMEOUT_SECONDS"),
		APIKey:            v.GetString("API_KEY"),
		HMACSecret:        v.GetString("HMAC_SECRET"),
		RasterizerCmd:     v.GetString("RASTERIZER_CMD"),
		ResultDir:         v.GetString("RESULT_DIR"),
		IntakeDir:         v.GetString("INTAKE_DIR"),
		AuditDBPath:       v.GetString("AUDIT_DB_PATH"),
		EnableDiagSheet:   v.GetBool("ENABLE_DIAG_SHEET"),
		LogMode:           v.GetString("LOG_MODE"),
		MinFreeDiskBytes:  v.GetInt64("MIN_FREE_DISK_BYTES"),
	}
}
