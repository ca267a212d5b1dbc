package main

import (
	"context"
	"crypto/tls"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	"github.com/sideshow/apns2/certificate"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-notification-gateway/internal/apns"
	"github.com/tinywideclouds/go-notification-gateway/internal/events"
	"github.com/tinywideclouds/go-notification-gateway/internal/platform/email"
	"github.com/tinywideclouds/go-notification-gateway/internal/platform/push"

	"github.com/tinywideclouds/go-notification-gateway/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-notification-gateway/internal/storage/firestore"
	"github.com/tinywideclouds/go-notification-gateway/pkg/dispatch"

	"github.com/tinywideclouds/go-notification-gateway/notificationgateway"
	"github.com/tinywideclouds/go-notification-gateway/notificationgateway/config"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-notification-gateway")
	slog.SetDefault(logger)

	ctx := context.Background()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Infrastructure Clients ---
	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("Firestore client failed", "err", err)
		os.Exit(1)
	}
	defer fsClient.Close()

	// --- Device Store (Decorated) ---
	var deviceStore dispatch.DeviceStore = fsStore.NewDeviceStore(fsClient)
	logger.Info("DeviceStore initialized", "type", "firestore")

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		deviceStore = cache.NewCachedDeviceStore(deviceStore, redisClient, 24*time.Hour)
		logger.Info("DeviceStore upgraded", "type", "redis_cached_firestore")
	}

	// --- Pruner (Decorated with invalidation announcements) ---
	var pruner dispatch.DevicePruner = deviceStore
	if cfg.InvalidationTopicID != "" {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("PubSub client failed", "err", err)
			os.Exit(1)
		}
		defer psClient.Close()

		if err := ensureTopic(ctx, psClient, cfg.ProjectID, cfg.InvalidationTopicID, logger); err != nil {
			logger.Error("Failed to ensure invalidation topic", "err", err)
			os.Exit(1)
		}
		pruner = events.NewAnnouncer(deviceStore, psClient.Publisher(cfg.InvalidationTopicID), logger)
		logger.Info("Invalidation announcements enabled", "topic", cfg.InvalidationTopicID)
	}

	// --- Auth ---
	identityURL := os.Getenv("IDENTITY_SERVICE_URL")
	if identityURL == "" {
		identityURL = "http://localhost:3000"
	}
	jwksURL, _ := middleware.DiscoverAndValidateJWTConfig(identityURL, middleware.RSA256, logger)
	authMiddleware, _ := middleware.NewJWKSAuthMiddleware(jwksURL, logger)

	// --- Push Transport ---
	cert, err := loadCertificate(cfg.APNS)
	if err != nil {
		logger.Error("Failed to load APNs certificate", "err", err)
		os.Exit(1)
	}
	tlsConfig := &tls.Config{Certificates: []tls.Certificate{cert}}

	gatewayAddr := apns.GatewayAddr
	feedbackAddr := apns.FeedbackAddr
	if cfg.APNS.Sandbox {
		gatewayAddr = apns.GatewaySandboxAddr
		feedbackAddr = apns.FeedbackSandboxAddr
	}
	logger.Info("Push provider configured", "gateway", gatewayAddr, "sandbox", cfg.APNS.Sandbox)

	transport := push.NewTransport(
		func() (push.Conn, error) {
			return apns.Dial(apns.Config{
				Addr:        gatewayAddr,
				TLS:         tlsConfig,
				ReadTimeout: cfg.APNS.ReadTimeout,
			})
		},
		func() (push.FeedbackConn, error) {
			return apns.NewFeedbackConn(apns.FeedbackConfig{
				Addr:         feedbackAddr,
				TLS:          tlsConfig,
				PollInterval: cfg.APNS.FeedbackPoll,
			}), nil
		},
		pruner,
		push.Defaults{
			Expiry: cfg.APNS.Expiry,
			Badge:  cfg.APNS.Badge,
			Sound:  cfg.APNS.Sound,
		},
		logger,
	)

	// --- Email Dispatcher ---
	emailDispatcher := email.NewDispatcher(email.Config{
		Host:     cfg.Email.Host,
		Port:     cfg.Email.Port,
		Username: cfg.Email.Username,
		Password: cfg.Email.Password,
		From:     cfg.Email.From,
		UseTLS:   cfg.Email.UseTLS,
		Timeout:  cfg.Email.Timeout,
	}, logger)

	// --- Service ---
	service, err := notificationgateway.New(
		cfg,
		transport,
		emailDispatcher,
		deviceStore,
		authMiddleware,
		logger,
	)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	logger.Info("Starting service...")
	if err := service.Start(ctx); err != nil {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

func loadCertificate(cfg config.APNSConfig) (tls.Certificate, error) {
	if cfg.P12File != "" {
		return certificate.FromP12File(cfg.P12File, cfg.Password)
	}
	return certificate.FromPemFile(cfg.PEMFile, cfg.Password)
}

func ensureTopic(ctx context.Context, psClient *pubsub.Client, projectID, topicID string, logger *slog.Logger) error {
	name := fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
	logger.Debug("Ensuring topic exists", "topic", name)
	_, err := psClient.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: name})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Topic already exists, skipping creation", "topic", name)
			return nil
		}
		return fmt.Errorf("could not create topic %s: %w", name, err)
	}
	return nil
}
