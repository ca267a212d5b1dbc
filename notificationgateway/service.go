package notificationgateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-notification-gateway/internal/api"
	"github.com/tinywideclouds/go-notification-gateway/internal/platform/push"
	"github.com/tinywideclouds/go-notification-gateway/notificationgateway/config"
	"github.com/tinywideclouds/go-notification-gateway/pkg/dispatch"
)

type Wrapper struct {
	*microservice.BaseServer
	transport *push.Transport
	logger    *slog.Logger
}

// New assembles the gateway: HTTP surface on top of the push transport,
// email dispatcher and device store.
func New(
	cfg *config.Config,
	transport *push.Transport,
	email dispatch.EmailSender,
	deviceStore dispatch.DeviceStore,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. APIs
	notificationAPI := api.NewNotificationAPI(transport, email, deviceStore, logger)
	deviceAPI := api.NewDeviceAPI(deviceStore, logger)

	// Register Routes
	mux := baseServer.Mux()

	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(h)))
	}

	// OPTIONS
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	handle("POST /api/v1/notifications/push", notificationAPI.SendPush)
	handle("POST /api/v1/notifications/email", notificationAPI.SendEmail)
	handle("POST /api/v1/devices/register", deviceAPI.Register)
	handle("POST /api/v1/devices/unregister", deviceAPI.Unregister)

	return &Wrapper{
		BaseServer: baseServer,
		transport:  transport,
		logger:     logger,
	}, nil
}

// Start brings up the provider connection before accepting traffic.
func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Connecting push transport...")
	if _, err := w.transport.Connect(); err != nil {
		return fmt.Errorf("failed to connect push transport: %w", err)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.transport.Close(); err != nil {
		w.logger.Error("Push transport shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
