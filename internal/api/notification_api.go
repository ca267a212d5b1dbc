// Package api contains the gateway's HTTP handlers.
package api

import (
	"encoding/json"
	"net/http"
	"net/mail"
	"strings"

	"log/slog"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-notification-gateway/internal/apns"
	"github.com/tinywideclouds/go-notification-gateway/internal/platform/push"
	"github.com/tinywideclouds/go-notification-gateway/pkg/dispatch"
)

// PushGateway is the surface the API drives on the push transport.
type PushGateway interface {
	Connect() (push.Conn, error)
	PushNotification(conn push.Conn, deviceTokens []string, alert string, data map[string]any) error
}

type NotificationAPI struct {
	Gateway PushGateway
	Email   dispatch.EmailSender
	Store   dispatch.DeviceStore
	Logger  *slog.Logger
}

func NewNotificationAPI(gateway PushGateway, email dispatch.EmailSender, store dispatch.DeviceStore, logger *slog.Logger) *NotificationAPI {
	return &NotificationAPI{
		Gateway: gateway,
		Email:   email,
		Store:   store,
		Logger:  logger,
	}
}

// --- Push ---

type PushRequest struct {
	DeviceTokens []string       `json:"device_tokens"`
	Alert        string         `json:"alert"`
	Data         map[string]any `json:"data"`
}

// PushReceipt confirms "accepted for transmission" only. Delivery outcomes
// surface in logs, never in this response.
type PushReceipt struct {
	ReceiptID string `json:"receipt_id"`
	Devices   int    `json:"devices"`
}

func (api *NotificationAPI) SendPush(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := middleware.GetUserHandleFromContext(ctx); !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Alert) == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing alert")
		return
	}

	// An omitted token list means "every registered device".
	tokens := req.DeviceTokens
	if len(tokens) == 0 {
		var err error
		tokens, err = api.Store.List(ctx)
		if err != nil {
			api.Logger.Error("failed to list registered devices", "err", err)
			response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
			return
		}
	}
	for _, token := range tokens {
		device := apns.NewDevice(token)
		if device.String() == "" {
			response.WriteJSONError(w, http.StatusBadRequest, "empty device token")
			return
		}
		if _, err := device.Bytes(); err != nil {
			response.WriteJSONError(w, http.StatusBadRequest, "invalid device token")
			return
		}
	}

	conn, err := api.Gateway.Connect()
	if err != nil {
		api.Logger.Error("push provider unavailable", "err", err)
		response.WriteJSONError(w, http.StatusBadGateway, "push provider unavailable")
		return
	}
	if err := api.Gateway.PushNotification(conn, tokens, req.Alert, req.Data); err != nil {
		api.Logger.Error("push submission failed", "err", err)
		response.WriteJSONError(w, http.StatusBadGateway, "push submission failed")
		return
	}

	api.Logger.Info("Push accepted", "devices", len(tokens))
	writeReceipt(w, PushReceipt{ReceiptID: uuid.NewString(), Devices: len(tokens)})
}

// --- Email ---

type EmailRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

type EmailReceipt struct {
	ReceiptID string `json:"receipt_id"`
}

func (api *NotificationAPI) SendEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := middleware.GetUserHandleFromContext(ctx); !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req EmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if _, err := mail.ParseAddress(req.To); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid email address")
		return
	}
	if strings.TrimSpace(req.HTML) == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing html body")
		return
	}

	if err := api.Email.Dispatch(ctx, req.To, req.Subject, req.HTML); err != nil {
		api.Logger.Error("email dispatch failed", "to", req.To, "err", err)
		response.WriteJSONError(w, http.StatusBadGateway, "email transport failed")
		return
	}

	api.Logger.Info("Email accepted", "to", req.To)
	writeReceipt(w, EmailReceipt{ReceiptID: uuid.NewString()})
}

func writeReceipt(w http.ResponseWriter, receipt any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(receipt)
}
