package config

import (
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Environment variables are named IC2_<KEY>, e.g. IC2_LISTEN_ADDR.
const envPrefix = "IC2"

const (
	defaultListenAddr    = ":5001"
	defaultDBPath        = "ic2.db"
	defaultLogLevel      = "info"
	defaultQueueSize     = 256
	defaultTaskTimeout   = 300 * time.Second
	defaultRetention     = 15 * time.Minute
	defaultSweepInterval = time.Minute
	defaultIsolation     = IsolationProcess
	defaultWorkerBin     = "ic2-worker"
	defaultSMTPHost      = "smtp.gmail.com"
	defaultSMTPPort      = 465
	defaultJPEGQuality   = 35
	defaultMaxDimension  = 1600
	defaultMaxUploadMB   = 64
)

// Isolation modes for work execution.
const (
	IsolationProcess   = "process"
	IsolationInProcess = "inprocess"
)

// Config holds application configuration loaded from IC2_* environment
// variables. It is read once at startup and not changed afterwards.
type Config struct {
	ListenAddr   string     `mapstructure:"listen_addr" validate:"required"`
	DBPath       string     `mapstructure:"db_path" validate:"required"`
	LogLevelName string     `mapstructure:"log_level"`
	LogLevel     slog.Level `mapstructure:"-"`

	Workers       int           `mapstructure:"workers" validate:"min=1"`
	QueueSize     int           `mapstructure:"queue_size" validate:"min=1"`
	TaskTimeout   time.Duration `mapstructure:"task_timeout" validate:"gt=0"`
	Retention     time.Duration `mapstructure:"retention" validate:"gte=0"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
	Isolation     string        `mapstructure:"isolation" validate:"oneof=process inprocess"`
	WorkerBin     string        `mapstructure:"worker_bin" validate:"required_if=Isolation process"`

	SMTPHost     string `mapstructure:"smtp_host" validate:"required,hostname"`
	SMTPPort     int    `mapstructure:"smtp_port" validate:"gt=0,lt=65536"`
	SMTPUser     string `mapstructure:"smtp_user" validate:"omitempty,email"`
	SMTPPassword string `mapstructure:"smtp_password"`

	JPEGQuality  int   `mapstructure:"jpeg_quality" validate:"min=1,max=100"`
	MaxDimension int   `mapstructure:"max_dimension" validate:"min=16"`
	MaxUploadMB  int64 `mapstructure:"max_upload_mb" validate:"min=1"`

	SentryDSN string `mapstructure:"sentry_dsn" validate:"omitempty,url"`
}

// MaxUploadBytes returns the request body limit for submissions.
func (c Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

// Load reads configuration from environment variables with sensible
// defaults and validates the result.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.LogLevelName = strings.ToLower(cfg.LogLevelName)
	cfg.LogLevel = parseLogLevel(cfg.LogLevelName)
	cfg.Isolation = strings.ToLower(cfg.Isolation)

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it during
// Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", defaultListenAddr)
	v.SetDefault("db_path", defaultDBPath)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("workers", max(runtime.NumCPU(), 2))
	v.SetDefault("queue_size", defaultQueueSize)
	v.SetDefault("task_timeout", defaultTaskTimeout)
	v.SetDefault("retention", defaultRetention)
	v.SetDefault("sweep_interval", defaultSweepInterval)
	v.SetDefault("isolation", defaultIsolation)
	v.SetDefault("worker_bin", defaultWorkerBin)
	v.SetDefault("smtp_host", defaultSMTPHost)
	v.SetDefault("smtp_port", defaultSMTPPort)
	v.SetDefault("smtp_user", "")
	v.SetDefault("smtp_password", "")
	v.SetDefault("jpeg_quality", defaultJPEGQuality)
	v.SetDefault("max_dimension", defaultMaxDimension)
	v.SetDefault("max_upload_mb", defaultMaxUploadMB)
	v.SetDefault("sentry_dsn", "")
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
