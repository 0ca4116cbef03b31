package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates application settings that may be sourced from files or environment variables.
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	MinIO     MinIOConfig     `mapstructure:"minio"`
	Auth      AuthConfig      `mapstructure:"auth"`
	LLM       LLMConfig       `mapstructure:"llm"`
	PDF       PDFConfig       `mapstructure:"pdf"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Templates TemplatesConfig `mapstructure:"templates"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Port                int    `mapstructure:"port"`
	Debug               bool   `mapstructure:"debug"`
	CORSOrigins         string `mapstructure:"cors_origins"`
	InternalSecret      string `mapstructure:"internal_secret"`
	LLMRateLimitPerHour int    `mapstructure:"llm_rate_limit_per_hour"`
	MaxHistoryTurns     int    `mapstructure:"max_history_turns"`
}

// AllowedOrigins splits the comma separated CORS origin list.
func (a APIConfig) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(a.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// DatabaseConfig contains connection options for PostgreSQL.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
}

// RedisConfig contains the Redis endpoint shared by asynq, rate limiting and notifications.
type RedisConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// MinIOConfig contains connection options for MinIO/S3-compatible storage.
type MinIOConfig struct {
	Endpoint         string `mapstructure:"endpoint"`
	PublicEndpoint   string `mapstructure:"public_endpoint"`
	AccessKeyID      string `mapstructure:"access_key_id"`
	SecretAccessKey  string `mapstructure:"secret_access_key"`
	UseSSL           bool   `mapstructure:"use_ssl"`
	Bucket           string `mapstructure:"bucket"`
	Region           string `mapstructure:"region"`
	BucketLookup     string `mapstructure:"bucket_lookup"`
	AutoCreateBucket bool   `mapstructure:"auto_create_bucket"`
}

// AuthConfig selects how bearer credentials issued by the hosted auth provider are verified.
// JWKSURL takes precedence; PublicKeyPEM is used for self-hosted RSA keys.
type AuthConfig struct {
	JWKSURL      string `mapstructure:"jwks_url"`
	PublicKeyPEM string `mapstructure:"public_key_pem"`
	Issuer       string `mapstructure:"issuer"`
}

// LLMConfig configures the language-model provider used for ingestion and edits.
type LLMConfig struct {
	Provider string        `mapstructure:"provider"`
	APIKey   string        `mapstructure:"api_key"`
	Model    string        `mapstructure:"model"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// PDFConfig configures the headless browser used for previews and exports.
type PDFConfig struct {
	Engine        string        `mapstructure:"engine"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
}

// UploadConfig restricts source documents accepted by ingestion.
type UploadConfig struct {
	MaxBytes          int64  `mapstructure:"max_bytes"`
	ClamdAddr         string `mapstructure:"clamd_addr"`
	AllowedExtensions string `mapstructure:"allowed_extensions"`
}

// Extensions returns the lower-cased allowed extensions including the leading dot.
func (u UploadConfig) Extensions() []string {
	var exts []string
	for _, e := range strings.Split(u.AllowedExtensions, ",") {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}
	return exts
}

// TemplatesConfig points at the on-disk template catalog seeded into the database.
type TemplatesConfig struct {
	Dir        string `mapstructure:"dir"`
	SyncOnBoot bool   `mapstructure:"sync_on_boot"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// DSN builds a lib/pq compatible connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Name,
		d.SSLMode,
	)
}

// Load reads configuration solely from environment variables (with optional defaults).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad wraps Load and panics on failure.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.debug", false)
	v.SetDefault("api.cors_origins", "http://localhost,http://localhost:3000")
	v.SetDefault("api.llm_rate_limit_per_hour", 60)
	v.SetDefault("api.max_history_turns", 5)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "resumeforge")
	v.SetDefault("database.user", "resumeforge")
	v.SetDefault("database.password", "resumeforge")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.public_endpoint", "http://localhost:9000")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket", "resumes")
	v.SetDefault("minio.bucket_lookup", "auto")
	v.SetDefault("minio.auto_create_bucket", true)
	v.SetDefault("llm.provider", "openrouter")
	v.SetDefault("llm.model", "openai/gpt-4.1")
	v.SetDefault("llm.timeout", 120*time.Second)
	v.SetDefault("pdf.engine", "rod")
	v.SetDefault("pdf.timeout", 60*time.Second)
	v.SetDefault("pdf.max_concurrent", 2)
	v.SetDefault("upload.max_bytes", 10*1024*1024)
	v.SetDefault("upload.allowed_extensions", ".pdf,.docx,.doc,.txt,.pptx,.xlsx,.csv")
	v.SetDefault("templates.dir", "templates")
	v.SetDefault("templates.sync_on_boot", true)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "resumeforge")
	v.SetDefault("tracing.sample_ratio", 0.1)
}

func bindEnv(v *viper.Viper) error {
	mappings := map[string]string{
		"api.port":                    "API_PORT",
		"api.debug":                   "DEBUG",
		"api.cors_origins":            "CORS_ORIGINS",
		"api.internal_secret":         "INTERNAL_API_SECRET",
		"api.llm_rate_limit_per_hour": "LLM_RATE_LIMIT_PER_HOUR",
		"api.max_history_turns":       "MAX_HISTORY_TURNS",
		"database.host":               "DATABASE_HOST",
		"database.port":               "DATABASE_PORT",
		"database.name":               "POSTGRES_DB",
		"database.user":               "POSTGRES_USER",
		"database.password":           "POSTGRES_PASSWORD",
		"database.sslmode":            "DATABASE_SSLMODE",
		"database.max_open_conns":     "DATABASE_MAX_OPEN_CONNS",
		"database.max_idle_conns":     "DATABASE_MAX_IDLE_CONNS",
		"database.conn_max_lifetime":  "DATABASE_CONN_MAX_LIFETIME",
		"database.log_level":          "DATABASE_LOG_LEVEL",
		"redis.host":                  "REDIS_HOST",
		"redis.port":                  "REDIS_PORT",
		"minio.endpoint":              "MINIO_ENDPOINT",
		"minio.public_endpoint":       "MINIO_PUBLIC_ENDPOINT",
		"minio.access_key_id":         "MINIO_ACCESS_KEY_ID",
		"minio.secret_access_key":     "MINIO_SECRET_ACCESS_KEY",
		"minio.use_ssl":               "MINIO_USE_SSL",
		"minio.bucket":                "MINIO_BUCKET",
		"minio.region":                "MINIO_REGION",
		"minio.bucket_lookup":         "MINIO_BUCKET_LOOKUP",
		"minio.auto_create_bucket":    "MINIO_AUTO_CREATE_BUCKET",
		"auth.jwks_url":               "AUTH_JWKS_URL",
		"auth.public_key_pem":         "AUTH_PUBLIC_KEY_PEM",
		"auth.issuer":                 "AUTH_ISSUER",
		"llm.provider":                "LLM_PROVIDER",
		"llm.api_key":                 "LLM_API_KEY",
		"llm.model":                   "LLM_MODEL",
		"llm.timeout":                 "LLM_TIMEOUT",
		"pdf.engine":                  "PDF_ENGINE",
		"pdf.timeout":                 "PDF_TIMEOUT",
		"pdf.max_concurrent":          "PDF_MAX_CONCURRENT",
		"upload.max_bytes":            "UPLOAD_MAX_BYTES",
		"upload.clamd_addr":           "CLAMD_ADDR",
		"upload.allowed_extensions":   "UPLOAD_ALLOWED_EXTENSIONS",
		"templates.dir":               "TEMPLATES_DIR",
		"templates.sync_on_boot":      "TEMPLATES_SYNC_ON_BOOT",
		"tracing.enabled":             "OTEL_ENABLED",
		"tracing.service_name":        "OTEL_SERVICE_NAME",
		"tracing.endpoint":            "OTEL_EXPORTER_OTLP_ENDPOINT",
		"tracing.insecure":            "OTEL_EXPORTER_OTLP_INSECURE",
		"tracing.sample_ratio":        "OTEL_SAMPLER_RATIO",
	}

	for key, env := range mappings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}

	return nil
}

func validate(cfg Config) error {
	if cfg.API.Port <= 0 {
		return errors.New("api port must be positive")
	}
	if cfg.API.MaxHistoryTurns <= 0 {
		return errors.New("max history turns must be positive")
	}
	if cfg.Database.Host == "" {
		return errors.New("database host is required")
	}
	if cfg.Database.Port <= 0 {
		return errors.New("database port must be positive")
	}
	if cfg.Database.Name == "" {
		return errors.New("database name is required")
	}
	if cfg.Database.User == "" {
		return errors.New("database user is required")
	}
	if cfg.Database.Password == "" {
		return errors.New("database password is required")
	}
	if cfg.Database.SSLMode == "" {
		return errors.New("database sslmode is required")
	}
	if cfg.Redis.Host == "" {
		return errors.New("redis host is required")
	}
	if cfg.Redis.Port <= 0 {
		return errors.New("redis port must be positive")
	}
	if cfg.MinIO.Endpoint == "" {
		return errors.New("minio endpoint is required")
	}
	if cfg.MinIO.AccessKeyID == "" {
		return errors.New("minio access key id is required")
	}
	if cfg.MinIO.SecretAccessKey == "" {
		return errors.New("minio secret access key is required")
	}
	if cfg.MinIO.Bucket == "" {
		return errors.New("minio bucket is required")
	}
	if cfg.Auth.JWKSURL == "" && cfg.Auth.PublicKeyPEM == "" {
		return errors.New("auth jwks url or public key pem is required")
	}
	switch cfg.LLM.Provider {
	case "lorem":
	case "anthropic", "openrouter":
		if cfg.LLM.APIKey == "" {
			return fmt.Errorf("llm api key is required for provider %q", cfg.LLM.Provider)
		}
	default:
		return fmt.Errorf("unsupported llm provider %q", cfg.LLM.Provider)
	}
	if cfg.LLM.Timeout <= 0 {
		return errors.New("llm timeout must be positive")
	}
	switch cfg.PDF.Engine {
	case "rod", "chromedp":
	default:
		return fmt.Errorf("unsupported pdf engine %q", cfg.PDF.Engine)
	}
	if cfg.Upload.MaxBytes <= 0 {
		return errors.New("upload max bytes must be positive")
	}
	if len(cfg.Upload.Extensions()) == 0 {
		return errors.New("upload allowed extensions are required")
	}
	return nil
}
