package api

import (
	"encoding/json"
	"net/http"

	"log/slog"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-notification-gateway/internal/apns"
	"github.com/tinywideclouds/go-notification-gateway/pkg/dispatch"
)

type DeviceAPI struct {
	Store  dispatch.DeviceStore
	Logger *slog.Logger
}

func NewDeviceAPI(store dispatch.DeviceStore, logger *slog.Logger) *DeviceAPI {
	return &DeviceAPI{
		Store:  store,
		Logger: logger,
	}
}

type DeviceRequest struct {
	Token string `json:"token"`
}

func (api *DeviceAPI) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := middleware.GetUserHandleFromContext(ctx); !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req DeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	device := apns.NewDevice(req.Token)
	if device.String() == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}
	if _, err := device.Bytes(); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid token")
		return
	}

	if err := api.Store.Register(ctx, device.String()); err != nil {
		api.Logger.Error("failed to register device", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (api *DeviceAPI) Unregister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := middleware.GetUserHandleFromContext(ctx); !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req DeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	device := apns.NewDevice(req.Token)
	if device.String() == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	// Log but don't fail hard; idempotency is preferred for unregister.
	if err := api.Store.Unregister(ctx, device.String()); err != nil {
		api.Logger.Warn("failed to unregister device", "err", err)
	}

	w.WriteHeader(http.StatusNoContent)
}
