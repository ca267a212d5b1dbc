package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-notification-gateway/internal/api"
	"github.com/tinywideclouds/go-notification-gateway/internal/apns"
	"github.com/tinywideclouds/go-notification-gateway/internal/platform/push"
)

// --- Mocks ---

type MockDeviceStore struct {
	mock.Mock
}

func (m *MockDeviceStore) Register(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}
func (m *MockDeviceStore) Unregister(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}
func (m *MockDeviceStore) List(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}
func (m *MockDeviceStore) DeleteBatch(ctx context.Context, tokens []string) (int, error) {
	args := m.Called(ctx, tokens)
	return args.Int(0), args.Error(1)
}

type stubConn struct{}

func (stubConn) Send(*apns.Notification, apns.Device) error { return nil }
func (stubConn) Shutdown() error                            { return nil }
func (stubConn) Events() <-chan apns.Event                  { return nil }

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Connect() (push.Conn, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(push.Conn), args.Error(1)
}
func (m *MockGateway) PushNotification(conn push.Conn, tokens []string, alert string, data map[string]any) error {
	return m.Called(conn, tokens, alert, data).Error(0)
}

type MockEmailSender struct {
	mock.Mock
}

func (m *MockEmailSender) Dispatch(ctx context.Context, to, subject, html string) error {
	return m.Called(ctx, to, subject, html).Error(0)
}

// --- Setup ---

func setupNotificationAPI(t *testing.T) (*api.NotificationAPI, *MockGateway, *MockEmailSender, *MockDeviceStore) {
	t.Helper()
	gateway := new(MockGateway)
	email := new(MockEmailSender)
	store := new(MockDeviceStore)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return api.NewNotificationAPI(gateway, email, store, logger), gateway, email, store
}

// withUser injects a full user context, simulating the auth middleware.
// The handlers gate on the handle, so ContextWithUserID alone is not enough.
func withUser(req *http.Request) *http.Request {
	ctx := middleware.ContextWithUser(req.Context(), "user-123", "urn:test:user:123", "user@test.com")
	return req.WithContext(ctx)
}

func postJSON(path string, payload any) *http.Request {
	body, _ := json.Marshal(payload)
	return withUser(httptest.NewRequest("POST", path, bytes.NewReader(body)))
}

// --- Tests ---

func TestSendPush(t *testing.T) {
	validTokens := []string{strings.Repeat("ab", apns.TokenLength), strings.Repeat("cd", apns.TokenLength)}

	t.Run("Success - explicit tokens", func(t *testing.T) {
		apiHandler, gateway, _, _ := setupNotificationAPI(t)
		conn := stubConn{}

		gateway.On("Connect").Return(conn, nil)
		gateway.On("PushNotification", conn, validTokens, "Hello", map[string]any{"k": "v"}).Return(nil)

		req := postJSON("/api/v1/notifications/push", api.PushRequest{
			DeviceTokens: validTokens,
			Alert:        "Hello",
			Data:         map[string]any{"k": "v"},
		})
		w := httptest.NewRecorder()

		apiHandler.SendPush(w, req)

		assert.Equal(t, http.StatusAccepted, w.Code)
		var receipt api.PushReceipt
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &receipt))
		assert.NotEmpty(t, receipt.ReceiptID)
		assert.Equal(t, 2, receipt.Devices)
		gateway.AssertExpectations(t)
	})

	t.Run("Success - omitted tokens fan out to every registered device", func(t *testing.T) {
		apiHandler, gateway, _, store := setupNotificationAPI(t)
		conn := stubConn{}

		store.On("List", mock.Anything).Return(validTokens, nil)
		gateway.On("Connect").Return(conn, nil)
		gateway.On("PushNotification", conn, validTokens, "Broadcast", mock.Anything).Return(nil)

		req := postJSON("/api/v1/notifications/push", api.PushRequest{Alert: "Broadcast"})
		w := httptest.NewRecorder()

		apiHandler.SendPush(w, req)

		assert.Equal(t, http.StatusAccepted, w.Code)
		store.AssertExpectations(t)
		gateway.AssertExpectations(t)
	})

	t.Run("Rejects missing alert", func(t *testing.T) {
		apiHandler, _, _, _ := setupNotificationAPI(t)
		req := postJSON("/api/v1/notifications/push", api.PushRequest{DeviceTokens: validTokens})
		w := httptest.NewRecorder()

		apiHandler.SendPush(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Rejects non-hex token", func(t *testing.T) {
		apiHandler, _, _, _ := setupNotificationAPI(t)
		req := postJSON("/api/v1/notifications/push", api.PushRequest{
			DeviceTokens: []string{"not-a-hex-token"},
			Alert:        "Hello",
		})
		w := httptest.NewRecorder()

		apiHandler.SendPush(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Provider unavailable maps to 502", func(t *testing.T) {
		apiHandler, gateway, _, _ := setupNotificationAPI(t)
		gateway.On("Connect").Return(nil, errors.New("gateway unreachable"))

		req := postJSON("/api/v1/notifications/push", api.PushRequest{
			DeviceTokens: validTokens,
			Alert:        "Hello",
		})
		w := httptest.NewRecorder()

		apiHandler.SendPush(w, req)

		assert.Equal(t, http.StatusBadGateway, w.Code)
	})

	t.Run("Rejects unauthenticated request", func(t *testing.T) {
		apiHandler, _, _, _ := setupNotificationAPI(t)
		body, _ := json.Marshal(api.PushRequest{Alert: "Hello"})
		req := httptest.NewRequest("POST", "/api/v1/notifications/push", bytes.NewReader(body))
		w := httptest.NewRecorder()

		apiHandler.SendPush(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestSendEmail(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		apiHandler, _, email, _ := setupNotificationAPI(t)
		email.On("Dispatch", mock.Anything, "user@example.com", "Hi", "<p>hello</p>").Return(nil)

		req := postJSON("/api/v1/notifications/email", api.EmailRequest{
			To:      "user@example.com",
			Subject: "Hi",
			HTML:    "<p>hello</p>",
		})
		w := httptest.NewRecorder()

		apiHandler.SendEmail(w, req)

		assert.Equal(t, http.StatusAccepted, w.Code)
		var receipt api.EmailReceipt
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &receipt))
		assert.NotEmpty(t, receipt.ReceiptID)
		email.AssertExpectations(t)
	})

	t.Run("Rejects invalid address", func(t *testing.T) {
		apiHandler, _, _, _ := setupNotificationAPI(t)
		req := postJSON("/api/v1/notifications/email", api.EmailRequest{To: "not-an-address", HTML: "<p>x</p>"})
		w := httptest.NewRecorder()

		apiHandler.SendEmail(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Rejects missing html body", func(t *testing.T) {
		apiHandler, _, _, _ := setupNotificationAPI(t)
		req := postJSON("/api/v1/notifications/email", api.EmailRequest{To: "user@example.com"})
		w := httptest.NewRecorder()

		apiHandler.SendEmail(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Transport failure maps to 502", func(t *testing.T) {
		apiHandler, _, email, _ := setupNotificationAPI(t)
		email.On("Dispatch", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(errors.New("relay down"))

		req := postJSON("/api/v1/notifications/email", api.EmailRequest{To: "user@example.com", HTML: "<p>x</p>"})
		w := httptest.NewRecorder()

		apiHandler.SendEmail(w, req)

		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}
