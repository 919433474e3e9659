// Package config assembles the service configuration from the environment
// once at startup. Constructors receive their section explicitly.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ManuelReschke/DocFox/internal/pkg/diffengine"
	"github.com/ManuelReschke/DocFox/internal/pkg/env"
)

type Config struct {
	App        App
	Database   Database
	Cache      Cache
	Crypto     Crypto
	Webhook    Webhook
	Queue      Queue
	Completion Completion
	GitHub     GitHub
	SMTP       SMTP
	Archive    Archive
	Tracing    Tracing
	Safety     diffengine.SafetyConfig
	Credits    Credits
}

type App struct {
	Env         string `validate:"oneof=dev test prod"`
	Name        string `validate:"required"`
	Port        int    `validate:"min=1,max=65535"`
	PublicURL   string `validate:"required,url"`
	MonitorUser string
	// MonitorPasswordHash is a bcrypt hash; the monitor is disabled when empty.
	MonitorPasswordHash string
	RateLimitPerMinute  int `validate:"min=0"`
}

func (a App) IsDev() bool { return a.Env == "dev" }

type Database struct {
	Host     string `validate:"required"`
	Port     int    `validate:"min=1,max=65535"`
	User     string
	Password string
	Name     string `validate:"required"`
}

// DSN is the go-sql-driver/mysql connection string.
func (d Database) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type Cache struct {
	Host     string `validate:"required"`
	Port     int    `validate:"min=1,max=65535"`
	Password string
	DB       int `validate:"min=0"`
}

func (c Cache) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

type Crypto struct {
	// EncryptionKey is base64 for 32 random bytes.
	EncryptionKey string `validate:"required,base64"`
}

type Webhook struct {
	// GlobalSecret verifies repositories connected before per-repo secrets.
	GlobalSecret         string
	AutomationPrefix     string `validate:"required"`
	ProductName          string `validate:"required"`
	AutoGeneratedMarkers []string
}

type Queue struct {
	VisibilityTimeout time.Duration `validate:"min=1s"`
	SweepInterval     time.Duration `validate:"min=1s"`
	RetentionWindow   time.Duration
	MaxBackoff        time.Duration `validate:"min=1s"`
}

type Completion struct {
	BaseURL        string `validate:"required,url"`
	APIKey         string
	Model          string `validate:"required"`
	Timeout        time.Duration `validate:"min=1s"`
	RequestsPerMin int           `validate:"min=1"`
	MaxRetries     int           `validate:"min=0,max=10"`
}

type GitHub struct {
	// BaseURL is set for GitHub Enterprise; empty means api.github.com.
	BaseURL string
	Token   string
}

type SMTP struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (s SMTP) Enabled() bool { return s.Host != "" }

type Archive struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Retention time.Duration
	Interval  time.Duration
	BatchSize int
}

func (a Archive) Enabled() bool {
	return a.Bucket != "" && a.AccessKey != "" && a.SecretKey != ""
}

type Tracing struct {
	Endpoint    string
	ServiceName string
}

type Credits struct {
	StartingBalance  int64 `validate:"min=0"`
	WarningThreshold int64 `validate:"min=0"`
	// MonthlyReset restores the starting balance of every account once a month.
	MonthlyReset bool
}

// Load reads the environment (including a .env file if one was loaded by
// env.SetupEnvFile) and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		App: App{
			Env:                 env.GetEnv("APP_ENV", "prod"),
			Name:                env.GetEnv("APP_NAME", "docfox"),
			Port:                env.GetEnvInt("APP_PORT", 4000),
			PublicURL:           env.GetEnv("PUBLIC_URL", "http://localhost:4000"),
			MonitorUser:         env.GetEnv("MONITOR_USER", "admin"),
			MonitorPasswordHash: env.GetEnv("MONITOR_PASSWORD_HASH", ""),
			RateLimitPerMinute:  env.GetEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		},
		Database: Database{
			Host:     env.GetEnv("DB_HOST", "127.0.0.1"),
			Port:     env.GetEnvInt("DB_PORT", 3306),
			User:     env.GetEnv("DB_USER", ""),
			Password: env.GetEnv("DB_PASSWORD", ""),
			Name:     env.GetEnv("DB_NAME", "docfox"),
		},
		Cache: Cache{
			Host:     env.GetEnv("CACHE_HOST", "localhost"),
			Port:     env.GetEnvInt("CACHE_PORT", 6379),
			Password: env.GetEnv("CACHE_PASSWORD", ""),
			DB:       env.GetEnvInt("CACHE_DB", 0),
		},
		Crypto: Crypto{
			EncryptionKey: env.GetEnv("ENCRYPTION_KEY", ""),
		},
		Webhook: Webhook{
			GlobalSecret:         env.GetEnv("GITHUB_WEBHOOK_SECRET", ""),
			AutomationPrefix:     env.GetEnv("AUTOMATION_BRANCH_PREFIX", "docfox-update-"),
			ProductName:          env.GetEnv("PRODUCT_NAME", "docfox"),
			AutoGeneratedMarkers: env.GetEnvList("AUTO_GENERATED_MARKERS", []string{"auto-generated", "auto generated"}),
		},
		Queue: Queue{
			VisibilityTimeout: env.GetEnvDuration("QUEUE_VISIBILITY_TIMEOUT", 10*time.Minute),
			SweepInterval:     env.GetEnvDuration("QUEUE_SWEEP_INTERVAL", 30*time.Second),
			RetentionWindow:   env.GetEnvDuration("QUEUE_RETENTION", 24*time.Hour),
			MaxBackoff:        env.GetEnvDuration("QUEUE_MAX_BACKOFF", 5*time.Minute),
		},
		Completion: Completion{
			BaseURL:        env.GetEnv("COMPLETION_BASE_URL", "https://openrouter.ai/api/v1"),
			APIKey:         env.GetEnv("COMPLETION_API_KEY", ""),
			Model:          env.GetEnv("COMPLETION_MODEL", "google/gemini-2.0-flash-001"),
			Timeout:        env.GetEnvDuration("COMPLETION_TIMEOUT", 60*time.Second),
			RequestsPerMin: env.GetEnvInt("COMPLETION_RPM", 30),
			MaxRetries:     env.GetEnvInt("COMPLETION_MAX_RETRIES", 2),
		},
		GitHub: GitHub{
			BaseURL: env.GetEnv("GITHUB_API_URL", ""),
			Token:   env.GetEnv("GITHUB_TOKEN", ""),
		},
		SMTP: SMTP{
			Host:     env.GetEnv("SMTP_HOST", ""),
			Port:     env.GetEnvInt("SMTP_PORT", 587),
			Username: env.GetEnv("SMTP_USERNAME", ""),
			Password: env.GetEnv("SMTP_PASSWORD", ""),
			From:     env.GetEnv("SMTP_FROM", "DocFox <noreply@docfox.dev>"),
		},
		Archive: Archive{
			Endpoint:  env.GetEnv("S3_ENDPOINT", ""),
			Region:    env.GetEnv("S3_REGION", "us-east-1"),
			Bucket:    env.GetEnv("S3_BUCKET", ""),
			AccessKey: env.GetEnv("S3_ACCESS_KEY", ""),
			SecretKey: env.GetEnv("S3_SECRET_KEY", ""),
			Retention: env.GetEnvDuration("JOB_RETENTION", 30*24*time.Hour),
			Interval:  env.GetEnvDuration("ARCHIVE_INTERVAL", 6*time.Hour),
			BatchSize: env.GetEnvInt("ARCHIVE_BATCH_SIZE", 500),
		},
		Tracing: Tracing{
			Endpoint:    env.GetEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName: env.GetEnv("OTEL_SERVICE_NAME", "docfox"),
		},
		Safety: diffengine.SafetyConfig{
			Enabled:          env.GetEnvBool("PATCH_SAFETY_ENABLED", true),
			MaxDeletionRatio: env.GetEnvFloat("PATCH_MAX_DELETION_RATIO", 0.5),
			Patterns:         env.GetEnvList("PATCH_DESTRUCTIVE_PATTERNS", diffengine.DefaultDestructivePatterns),
		},
		Credits: Credits{
			StartingBalance:  int64(env.GetEnvInt("CREDITS_STARTING_BALANCE", 1000)),
			WarningThreshold: int64(env.GetEnvInt("CREDITS_WARNING_THRESHOLD", 100)),
			MonthlyReset:     env.GetEnvBool("CREDITS_MONTHLY_RESET", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Safety.MaxDeletionRatio < 0 || c.Safety.MaxDeletionRatio > 1 {
		return fmt.Errorf("invalid configuration: PATCH_MAX_DELETION_RATIO must be between 0 and 1")
	}
	return nil
}
