package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the onboarding service
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Storage      StorageConfig      `yaml:"storage"`
	Verification VerificationConfig `yaml:"verification"`
	Registration RegistrationConfig `yaml:"registration"`
	Events       EventsConfig       `yaml:"events"`
	SagaLog      SagaLogConfig      `yaml:"saga_log"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds the account store connection settings
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_minutes"`
}

// ConnLifetime returns the connection max lifetime as a duration
func (c DatabaseConfig) ConnLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetime) * time.Minute
}

// RedisConfig holds Redis settings for locks and the saga journal
type RedisConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// StorageConfig holds the object storage gateway settings
type StorageConfig struct {
	S3Bucket           string `yaml:"s3_bucket"`
	AWSRegion          string `yaml:"aws_region"`
	AWSProfile         string `yaml:"aws_profile"` // Empty string uses default credential chain (IAM role on ECS)
	AccessKeyID        string `yaml:"access_key_id"`
	SecretAccessKey    string `yaml:"secret_access_key"`
	Endpoint           string `yaml:"endpoint"` // S3-compatible endpoint override (MinIO, LocalStack)
	UsePathStyle       bool   `yaml:"use_path_style"`
	GrantTTLMinutes    int    `yaml:"grant_ttl_minutes"`
	RevokeOnCompensate bool   `yaml:"revoke_on_compensate"`
}

// GrantTTL returns the upload grant validity window
func (c StorageConfig) GrantTTL() time.Duration {
	return time.Duration(c.GrantTTLMinutes) * time.Minute
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c StorageConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return ""
		}
		return envProfile
	}
	// On ECS/Lambda, don't use a profile - use IAM role
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// VerificationConfig holds the verification service API settings
type VerificationConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	AssistantID    string `yaml:"assistant_id"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

// Timeout returns the configured timeout as a duration
func (c VerificationConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RegistrationConfig holds saga tuning knobs
type RegistrationConfig struct {
	StepTimeoutSeconds int `yaml:"step_timeout_seconds"`
	GrantMaxAttempts   int `yaml:"grant_max_attempts"`
	GrantBackoffMillis int `yaml:"grant_backoff_ms"`
	LockTTLSeconds     int `yaml:"lock_ttl_seconds"`
}

// StepTimeout bounds each external call made by the saga
func (c RegistrationConfig) StepTimeout() time.Duration {
	return time.Duration(c.StepTimeoutSeconds) * time.Second
}

// GrantBackoff is the base delay between grant issuance attempts
func (c RegistrationConfig) GrantBackoff() time.Duration {
	return time.Duration(c.GrantBackoffMillis) * time.Millisecond
}

// LockTTL bounds how long a registration lock survives a crashed holder
func (c RegistrationConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// EventsConfig holds RabbitMQ settings for domain events
type EventsConfig struct {
	RabbitMQURL string `yaml:"rabbitmq_url"`
	Exchange    string `yaml:"exchange"`
}

// SagaLogConfig holds saga journal retention
type SagaLogConfig struct {
	TTLHours int `yaml:"ttl_hours"`
}

// TTL returns the journal retention as a duration
func (c SagaLogConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether PII redaction is on. Defaults to true.
func (c LoggingConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 30
	}
	if cfg.Storage.AWSRegion == "" {
		cfg.Storage.AWSRegion = "us-east-1"
	}
	if cfg.Storage.GrantTTLMinutes == 0 {
		cfg.Storage.GrantTTLMinutes = 120
	}
	if cfg.Verification.BaseURL == "" {
		cfg.Verification.BaseURL = "http://localhost:8123"
	}
	if cfg.Verification.TimeoutSeconds == 0 {
		cfg.Verification.TimeoutSeconds = 30
	}
	if cfg.Verification.MaxRetries == 0 {
		cfg.Verification.MaxRetries = 2
	}
	if cfg.Registration.StepTimeoutSeconds == 0 {
		cfg.Registration.StepTimeoutSeconds = 15
	}
	if cfg.Registration.GrantMaxAttempts == 0 {
		cfg.Registration.GrantMaxAttempts = 3
	}
	if cfg.Registration.GrantBackoffMillis == 0 {
		cfg.Registration.GrantBackoffMillis = 200
	}
	if cfg.Registration.LockTTLSeconds == 0 {
		cfg.Registration.LockTTLSeconds = 60
	}
	if cfg.Events.Exchange == "" {
		cfg.Events.Exchange = "onboarding.events"
	}
	if cfg.SagaLog.TTLHours == 0 {
		cfg.SagaLog.TTLHours = 168
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

func (cfg *Config) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("S3_BUCKET_NAME"); v != "" {
		cfg.Storage.S3Bucket = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Storage.AWSRegion = v
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		cfg.Storage.AccessKeyID = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.Storage.SecretAccessKey = v
	}
	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		cfg.Storage.Endpoint = v
	}
	if v := os.Getenv("UPLOAD_GRANT_TTL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Storage.GrantTTLMinutes = n
		}
	}
	if v := os.Getenv("VERIFICATION_URL"); v != "" {
		cfg.Verification.BaseURL = v
	}
	if v := os.Getenv("VERIFICATION_API_KEY"); v != "" {
		cfg.Verification.APIKey = v
	}
	if v := os.Getenv("VERIFICATION_ASSISTANT_ID"); v != "" {
		cfg.Verification.AssistantID = v
	}
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		cfg.Events.RabbitMQURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
