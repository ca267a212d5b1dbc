//go:build integration

package notificationgateway_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-notification-gateway/internal/apns"
	"github.com/tinywideclouds/go-notification-gateway/internal/platform/push"
	fsStore "github.com/tinywideclouds/go-notification-gateway/internal/storage/firestore"
	"github.com/tinywideclouds/go-notification-gateway/notificationgateway"
	"github.com/tinywideclouds/go-notification-gateway/notificationgateway/config"
)

func TestNotificationGateway_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	projectID := "test-gateway-integ"

	// 1. Emulator-backed device store
	fsConn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	fsClient, err := firestore.NewClient(ctx, projectID, fsConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fsClient.Close() })

	deviceStore := fsStore.NewDeviceStore(fsClient)

	t.Run("Full Lifecycle: Register -> Push -> Feedback Prune", func(t *testing.T) {
		// Arrange: fake provider sockets, real everything else.
		conn := newFakeConn()
		feedback := newFakeFeedback()
		transport := push.NewTransport(
			func() (push.Conn, error) { return conn, nil },
			func() (push.FeedbackConn, error) { return feedback, nil },
			deviceStore,
			push.Defaults{},
			logger,
		)

		cfg := &config.Config{
			ProjectID:  projectID,
			ListenAddr: ":0",
			CorsConfig: middleware.CorsConfig{AllowedOrigins: []string{"http://localhost:3000"}},
		}

		svc, err := notificationgateway.New(cfg, transport, &recordingEmail{}, deviceStore, fakeAuth, logger)
		require.NoError(t, err)

		svcCtx, svcCancel := context.WithCancel(ctx)
		defer svcCancel()
		go func() { _ = svc.Start(svcCtx) }()
		t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

		mux := svc.Mux()
		staleToken := strings.Repeat("ab", apns.TokenLength)
		liveToken := strings.Repeat("cd", apns.TokenLength)

		// Step A: Register two devices over HTTP.
		for _, token := range []string{staleToken, liveToken} {
			w := postJSON(t, mux, "/api/v1/devices/register", map[string]string{"token": token})
			require.Equal(t, http.StatusNoContent, w.Code)
		}

		// Step B: Broadcast push with no explicit tokens fans out from the store.
		w := postJSON(t, mux, "/api/v1/notifications/push", map[string]any{"alert": "Hello"})
		require.Equal(t, http.StatusAccepted, w.Code)
		require.Len(t, conn.sentDevices(), 2)

		// Step C: Feedback reports the stale token; the listener prunes it.
		feedback.events <- apns.FeedbackBatchEvent{
			Records: []apns.FeedbackRecord{{Token: staleToken, Timestamp: time.Now()}},
		}

		require.Eventually(t, func() bool {
			tokens, listErr := deviceStore.List(ctx)
			return listErr == nil && len(tokens) == 1
		}, 10*time.Second, 100*time.Millisecond)

		tokens, err := deviceStore.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{liveToken}, tokens)
	})
}
