package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Mail      MailConfig
	Leave     LeaveConfig
	Ingestion IngestionConfig
	Cache     CacheConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// MailConfig configures the SMTP transport used for workflow notifications.
type MailConfig struct {
	Enabled   bool
	Host      string
	Port      int
	Username  string
	Password  string
	From      string
	TLSPolicy string
	Timeout   time.Duration

	// RoleRecipients maps an approver role to the mailbox that receives its queue notifications.
	RoleRecipients map[string]string
}

// LeaveConfig governs the outing/outpass workflow.
type LeaveConfig struct {
	OutingChain    []string
	OutpassChain   []string
	OutpassMaxDays int
	Timezone       string
	SweepSchedule  string
	SweepEnabled   bool
	QueueLimit     int
	SweepBatchSize int
}

// IngestionConfig tunes the bulk ingestion worker pool and upload guardrails.
type IngestionConfig struct {
	Workers          int
	MaxRetries       int
	RetryDelay       time.Duration
	FlushEvery       int
	MaxRows          int
	MaxUploadBytes   int64
	RecoverOnStartup bool
}

// CacheConfig toggles the read-side profile cache.
type CacheConfig struct {
	Enabled    bool
	ProfileTTL time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Mail = MailConfig{
		Enabled:        v.GetBool("MAIL_ENABLED"),
		Host:           v.GetString("MAIL_HOST"),
		Port:           v.GetInt("MAIL_PORT"),
		Username:       v.GetString("MAIL_USERNAME"),
		Password:       v.GetString("MAIL_PASSWORD"),
		From:           v.GetString("MAIL_FROM"),
		TLSPolicy:      v.GetString("MAIL_TLS_POLICY"),
		Timeout:        parseDuration(v.GetString("MAIL_TIMEOUT"), 10*time.Second),
		RoleRecipients: parsePairs(v.GetString("MAIL_ROLE_RECIPIENTS")),
	}

	cfg.Leave = LeaveConfig{
		OutingChain:    splitAndTrim(v.GetString("LEAVE_OUTING_CHAIN")),
		OutpassChain:   splitAndTrim(v.GetString("LEAVE_OUTPASS_CHAIN")),
		OutpassMaxDays: v.GetInt("LEAVE_OUTPASS_MAX_DAYS"),
		Timezone:       v.GetString("LEAVE_TIMEZONE"),
		SweepSchedule:  v.GetString("LEAVE_SWEEP_SCHEDULE"),
		SweepEnabled:   v.GetBool("LEAVE_SWEEP_ENABLED"),
		QueueLimit:     v.GetInt("LEAVE_QUEUE_LIMIT"),
		SweepBatchSize: v.GetInt("LEAVE_SWEEP_BATCH_SIZE"),
	}

	maxUpload := v.GetInt64("INGESTION_MAX_UPLOAD_BYTES")
	if maxUpload <= 0 {
		maxUpload = 5 * 1024 * 1024
	}
	cfg.Ingestion = IngestionConfig{
		Workers:          v.GetInt("INGESTION_WORKERS"),
		MaxRetries:       v.GetInt("INGESTION_MAX_RETRIES"),
		RetryDelay:       parseDuration(v.GetString("INGESTION_RETRY_DELAY"), 5*time.Second),
		FlushEvery:       v.GetInt("INGESTION_PROGRESS_FLUSH_EVERY"),
		MaxRows:          v.GetInt("INGESTION_MAX_ROWS"),
		MaxUploadBytes:   maxUpload,
		RecoverOnStartup: v.GetBool("INGESTION_RECOVER_ON_STARTUP"),
	}

	cfg.Cache = CacheConfig{
		Enabled:    v.GetBool("ENABLE_PROFILE_CACHE"),
		ProfileTTL: parseDuration(v.GetString("PROFILE_CACHE_TTL"), 5*time.Minute),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "campus_leave")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "campus-leave-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("MAIL_ENABLED", false)
	v.SetDefault("MAIL_HOST", "localhost")
	v.SetDefault("MAIL_PORT", 587)
	v.SetDefault("MAIL_USERNAME", "")
	v.SetDefault("MAIL_PASSWORD", "")
	v.SetDefault("MAIL_FROM", "no-reply@campus.local")
	v.SetDefault("MAIL_TLS_POLICY", "opportunistic")
	v.SetDefault("MAIL_TIMEOUT", "10s")
	v.SetDefault("MAIL_ROLE_RECIPIENTS", "")

	v.SetDefault("LEAVE_OUTING_CHAIN", "warden")
	v.SetDefault("LEAVE_OUTPASS_CHAIN", "warden,dean")
	v.SetDefault("LEAVE_OUTPASS_MAX_DAYS", 14)
	v.SetDefault("LEAVE_TIMEZONE", "UTC")
	v.SetDefault("LEAVE_SWEEP_SCHEDULE", "@every 5m")
	v.SetDefault("LEAVE_SWEEP_ENABLED", true)
	v.SetDefault("LEAVE_QUEUE_LIMIT", 100)
	v.SetDefault("LEAVE_SWEEP_BATCH_SIZE", 100)

	v.SetDefault("INGESTION_WORKERS", 2)
	v.SetDefault("INGESTION_MAX_RETRIES", 3)
	v.SetDefault("INGESTION_RETRY_DELAY", "5s")
	v.SetDefault("INGESTION_PROGRESS_FLUSH_EVERY", 25)
	v.SetDefault("INGESTION_MAX_ROWS", 10000)
	v.SetDefault("INGESTION_MAX_UPLOAD_BYTES", 5*1024*1024)
	v.SetDefault("INGESTION_RECOVER_ON_STARTUP", true)

	v.SetDefault("ENABLE_PROFILE_CACHE", true)
	v.SetDefault("PROFILE_CACHE_TTL", "5m")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// parsePairs reads "key=value,key=value" lists. Keys are lower-cased.
func parsePairs(raw string) map[string]string {
	result := make(map[string]string)
	for _, part := range splitAndTrim(raw) {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}
