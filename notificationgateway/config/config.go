package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// APNSConfig holds the provider-channel settings: the client certificate
// used for the TLS handshake and the per-notification defaults.
type APNSConfig struct {
	PEMFile      string
	P12File      string
	Password     string
	Sandbox      bool
	Expiry       time.Duration
	Badge        int
	Sound        string
	FeedbackPoll time.Duration
	ReadTimeout  time.Duration
}

type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	UseTLS   bool
	Timeout  time.Duration
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID  string
	ListenAddr string

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	APNS       APNSConfig
	Email      EmailConfig

	InvalidationTopicID string
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("INVALIDATION_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "INVALIDATION_TOPIC_ID", "source", "env")
		cfg.InvalidationTopicID = val
	}

	// APNS Overrides
	if val := os.Getenv("APNS_PEM_FILE"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_PEM_FILE", "source", "env")
		cfg.APNS.PEMFile = val
	}
	if val := os.Getenv("APNS_P12_FILE"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_P12_FILE", "source", "env")
		cfg.APNS.P12File = val
	}
	if val := os.Getenv("APNS_PASSWORD"); val != "" {
		cfg.APNS.Password = val
	}
	if val := os.Getenv("APNS_SANDBOX"); val != "" {
		sandbox, _ := strconv.ParseBool(val)
		cfg.APNS.Sandbox = sandbox
	}

	// SMTP Overrides
	if val := os.Getenv("SMTP_HOST"); val != "" {
		logger.Debug("Overriding config value", "key", "SMTP_HOST", "source", "env")
		cfg.Email.Host = val
	}
	if val := os.Getenv("SMTP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil && port > 0 {
			cfg.Email.Port = port
		}
	}
	if val := os.Getenv("SMTP_USERNAME"); val != "" {
		cfg.Email.Username = val
	}
	if val := os.Getenv("SMTP_PASSWORD"); val != "" {
		cfg.Email.Password = val
	}
	if val := os.Getenv("SMTP_FROM"); val != "" {
		logger.Debug("Overriding config value", "key", "SMTP_FROM", "source", "env")
		cfg.Email.From = val
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Final Validation
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.APNS.PEMFile == "" && cfg.APNS.P12File == "" {
		return nil, fmt.Errorf("an APNs client certificate is required (set apns.pem_file or apns.p12_file)")
	}
	if cfg.APNS.PEMFile != "" && cfg.APNS.P12File != "" {
		return nil, fmt.Errorf("apns.pem_file and apns.p12_file are mutually exclusive")
	}
	if cfg.Email.Host == "" {
		return nil, fmt.Errorf("email.host is required (set via YAML or SMTP_HOST env var)")
	}
	if cfg.Email.From == "" {
		return nil, fmt.Errorf("email.from is required (set via YAML or SMTP_FROM env var)")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.APNS.Expiry <= 0 {
		cfg.APNS.Expiry = 1 * time.Hour
	}
	if cfg.APNS.Badge <= 0 {
		cfg.APNS.Badge = 1
	}
	if cfg.APNS.Sound == "" {
		cfg.APNS.Sound = "default"
	}
	if cfg.APNS.FeedbackPoll <= 0 {
		cfg.APNS.FeedbackPoll = 5 * time.Minute
	}
	if cfg.APNS.ReadTimeout <= 0 {
		cfg.APNS.ReadTimeout = 2 * time.Minute
	}
	if cfg.Email.Port <= 0 {
		cfg.Email.Port = 587
	}
	if cfg.Email.Timeout <= 0 {
		cfg.Email.Timeout = 30 * time.Second
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
