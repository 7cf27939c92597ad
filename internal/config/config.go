package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	SES       SESConfig       `yaml:"ses"`
	Messaging MessagingConfig `yaml:"messaging"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Resolver  ResolverConfig  `yaml:"resolver"`
	Audience  AudienceConfig  `yaml:"audience"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// In a container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the optional Redis connection for distributed locks.
// When Addr is empty the pipeline falls back to PG advisory locks.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SESConfig holds AWS SES credentials for the email channel
type SESConfig struct {
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	Region         string `yaml:"region"`
	FromEmail      string `yaml:"from_email"`
	FromName       string `yaml:"from_name"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MessagingConfig holds the SMS/messaging gateway settings
type MessagingConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	Sender         string `yaml:"sender"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c MessagingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ExtractorConfig holds URL signal extraction settings
type ExtractorConfig struct {
	BatchSize       int `yaml:"batch_size"`
	IntervalSeconds int `yaml:"interval_seconds"`
}

// ResolverConfig holds vehicle profile resolution settings.
// The thresholds are empirical and intentionally tunable.
type ResolverConfig struct {
	LookbackDays       int `yaml:"lookback_days"`
	DedupWindowMinutes int `yaml:"dedup_window_minutes"`
	YearHighScore      int `yaml:"year_high_score"`
	YearLowScore       int `yaml:"year_low_score"`
	ModelMediumScore   int `yaml:"model_medium_score"`
	ModelLowScore      int `yaml:"model_low_score"`
	BrandMediumScore   int `yaml:"brand_medium_score"`
	BrandLowScore      int `yaml:"brand_low_score"`
}

// DedupWindow returns the signal dedup window as a duration
func (c ResolverConfig) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowMinutes) * time.Minute
}

// AudienceConfig holds campaign refresh sweep settings
type AudienceConfig struct {
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes"`
	DeleteChunkSize      int `yaml:"delete_chunk_size"`
}

// DispatchConfig holds message dispatch settings
type DispatchConfig struct {
	BatchSize       int `yaml:"batch_size"`
	IntervalSeconds int `yaml:"interval_seconds"`
}

// Load reads configuration from a YAML file and applies defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.SES.TimeoutSeconds == 0 {
		cfg.SES.TimeoutSeconds = 30
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-west-2"
	}
	if cfg.Messaging.TimeoutSeconds == 0 {
		cfg.Messaging.TimeoutSeconds = 30
	}
	if cfg.Extractor.BatchSize == 0 {
		cfg.Extractor.BatchSize = 500
	}
	if cfg.Extractor.IntervalSeconds == 0 {
		cfg.Extractor.IntervalSeconds = 60
	}
	if cfg.Resolver.LookbackDays == 0 {
		cfg.Resolver.LookbackDays = 30
	}
	if cfg.Resolver.DedupWindowMinutes == 0 {
		cfg.Resolver.DedupWindowMinutes = 5
	}
	if cfg.Resolver.YearHighScore == 0 {
		cfg.Resolver.YearHighScore = 18
	}
	if cfg.Resolver.YearLowScore == 0 {
		cfg.Resolver.YearLowScore = 10
	}
	if cfg.Resolver.ModelMediumScore == 0 {
		cfg.Resolver.ModelMediumScore = 12
	}
	if cfg.Resolver.ModelLowScore == 0 {
		cfg.Resolver.ModelLowScore = 6
	}
	if cfg.Resolver.BrandMediumScore == 0 {
		cfg.Resolver.BrandMediumScore = 6
	}
	if cfg.Resolver.BrandLowScore == 0 {
		cfg.Resolver.BrandLowScore = 2
	}
	if cfg.Audience.SweepIntervalMinutes == 0 {
		cfg.Audience.SweepIntervalMinutes = 15
	}
	if cfg.Audience.DeleteChunkSize == 0 {
		cfg.Audience.DeleteChunkSize = 500
	}
	if cfg.Dispatch.BatchSize == 0 {
		cfg.Dispatch.BatchSize = 200
	}
	if cfg.Dispatch.IntervalSeconds == 0 {
		cfg.Dispatch.IntervalSeconds = 60
	}

	return &cfg, nil
}

// LoadFromEnv loads config and applies environment variable overrides
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables if present
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if accessKey := os.Getenv("AWS_SES_ACCESS_KEY"); accessKey != "" {
		cfg.SES.AccessKey = accessKey
	}
	if secretKey := os.Getenv("AWS_SES_SECRET_KEY"); secretKey != "" {
		cfg.SES.SecretKey = secretKey
	}
	if region := os.Getenv("AWS_SES_REGION"); region != "" {
		cfg.SES.Region = region
	}
	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SES.FromEmail = from
	}
	if baseURL := os.Getenv("MESSAGING_BASE_URL"); baseURL != "" {
		cfg.Messaging.BaseURL = baseURL
	}
	if apiKey := os.Getenv("MESSAGING_API_KEY"); apiKey != "" {
		cfg.Messaging.APIKey = apiKey
	}

	return cfg, nil
}
