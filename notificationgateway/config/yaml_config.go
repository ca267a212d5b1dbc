package config

import (
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

type YamlAPNSConfig struct {
	PEMFile             string `yaml:"pem_file"`
	P12File             string `yaml:"p12_file"`
	Password            string `yaml:"password"`
	Sandbox             bool   `yaml:"sandbox"`
	ExpirySeconds       int    `yaml:"expiry_seconds"`
	Badge               int    `yaml:"badge"`
	Sound               string `yaml:"sound"`
	FeedbackPollSeconds int    `yaml:"feedback_poll_seconds"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
}

type YamlEmailConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	From           string `yaml:"from"`
	UseTLS         bool   `yaml:"use_tls"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID           string          `yaml:"project_id"`
	ListenAddr          string          `yaml:"listen_addr"`
	CorsConfig          YamlCorsConfig  `yaml:"cors"`
	RedisConfig         YamlRedisConfig `yaml:"redis"`
	APNSConfig          YamlAPNSConfig  `yaml:"apns"`
	EmailConfig         YamlEmailConfig `yaml:"email"`
	InvalidationTopicID string          `yaml:"invalidation_topic_id"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ProjectID:  baseCfg.ProjectID,
		ListenAddr: baseCfg.ListenAddr,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		APNS: APNSConfig{
			PEMFile:      baseCfg.APNSConfig.PEMFile,
			P12File:      baseCfg.APNSConfig.P12File,
			Password:     baseCfg.APNSConfig.Password,
			Sandbox:      baseCfg.APNSConfig.Sandbox,
			Expiry:       time.Duration(baseCfg.APNSConfig.ExpirySeconds) * time.Second,
			Badge:        baseCfg.APNSConfig.Badge,
			Sound:        baseCfg.APNSConfig.Sound,
			FeedbackPoll: time.Duration(baseCfg.APNSConfig.FeedbackPollSeconds) * time.Second,
			ReadTimeout:  time.Duration(baseCfg.APNSConfig.ReadTimeoutSeconds) * time.Second,
		},
		Email: EmailConfig{
			Host:     baseCfg.EmailConfig.Host,
			Port:     baseCfg.EmailConfig.Port,
			Username: baseCfg.EmailConfig.Username,
			Password: baseCfg.EmailConfig.Password,
			From:     baseCfg.EmailConfig.From,
			UseTLS:   baseCfg.EmailConfig.UseTLS,
			Timeout:  time.Duration(baseCfg.EmailConfig.TimeoutSeconds) * time.Second,
		},
		InvalidationTopicID: baseCfg.InvalidationTopicID,
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"apns_sandbox", cfg.APNS.Sandbox,
	)

	return cfg, nil
}
