// Package push is the push-notification transport layer: a process-wide
// singleton provider connection, the dispatcher that multiplexes outbound
// submissions over it, and the listeners that react to the provider's
// asynchronous delivery lifecycle.
package push

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinywideclouds/go-notification-gateway/internal/apns"
	"github.com/tinywideclouds/go-notification-gateway/pkg/dispatch"
)

// Conn is the subset of the provider connection the transport drives.
// Satisfied by *apns.Conn.
type Conn interface {
	Send(n *apns.Notification, d apns.Device) error
	Shutdown() error
	Events() <-chan apns.Event
}

// FeedbackConn is the subset of the feedback connection the transport
// drives. Satisfied by *apns.FeedbackConn.
type FeedbackConn interface {
	Events() <-chan apns.FeedbackEvent
	Close() error
}

// ConnFactory produces the provider connection. Invoked at most once.
type ConnFactory func() (Conn, error)

// FeedbackFactory produces the feedback connection. Invoked at most once.
type FeedbackFactory func() (FeedbackConn, error)

// Defaults fill the notification fields the inbound request does not carry.
type Defaults struct {
	Expiry time.Duration
	Badge  int
	Sound  string
}

const pruneTimeout = 30 * time.Second

// Transport owns the singleton provider and feedback connections and is the
// only entry point from request-handling code into the push layer.
type Transport struct {
	newConn     ConnFactory
	newFeedback FeedbackFactory
	pruner      dispatch.DevicePruner
	defaults    Defaults
	logger      *slog.Logger

	connectOnce sync.Once
	conn        Conn
	feedback    FeedbackConn
	connectErr  error
	listeners   sync.WaitGroup
}

// NewTransport wires the factories and collaborators. Nothing is dialed
// until Connect.
func NewTransport(
	newConn ConnFactory,
	newFeedback FeedbackFactory,
	pruner dispatch.DevicePruner,
	defaults Defaults,
	logger *slog.Logger,
) *Transport {
	if defaults.Expiry <= 0 {
		defaults.Expiry = time.Hour
	}
	if defaults.Badge <= 0 {
		defaults.Badge = 1
	}
	if defaults.Sound == "" {
		defaults.Sound = "default"
	}
	return &Transport{
		newConn:     newConn,
		newFeedback: newFeedback,
		pruner:      pruner,
		defaults:    defaults,
		logger:      logger.With("component", "PushTransport"),
	}
}

// Connect lazily builds both connections and starts exactly one listener per
// connection. Idempotent: every call after the first returns the identical
// connection (or the first call's error) without re-registering anything.
func (t *Transport) Connect() (Conn, error) {
	t.connectOnce.Do(func() {
		conn, err := t.newConn()
		if err != nil {
			t.connectErr = fmt.Errorf("failed to open provider connection: %w", err)
			return
		}
		feedback, err := t.newFeedback()
		if err != nil {
			_ = conn.Shutdown()
			t.connectErr = fmt.Errorf("failed to open feedback connection: %w", err)
			return
		}

		t.conn = conn
		t.feedback = feedback
		t.listeners.Add(2)
		go t.listenConn(conn)
		go t.listenFeedback(feedback)
	})
	return t.conn, t.connectErr
}

// PushNotification builds one (notification, device) pair per token and
// submits each to the connection in sequence. A nil return means "accepted
// for transmission" only; delivery outcomes arrive later as connection
// events and are not correlated back to this call.
func (t *Transport) PushNotification(conn Conn, deviceTokens []string, alert string, data map[string]any) error {
	expiry := time.Now().Add(t.defaults.Expiry)
	for _, token := range deviceTokens {
		device := apns.NewDevice(token)
		n := &apns.Notification{
			Expiry:  expiry,
			Alert:   alert,
			Payload: data,
			Badge:   t.defaults.Badge,
			Sound:   t.defaults.Sound,
		}
		if err := conn.Send(n, device); err != nil {
			return fmt.Errorf("failed to submit notification for device %s: %w", device, err)
		}
	}
	return nil
}

// Close tears the transport down on process shutdown. Not part of the
// request path.
func (t *Transport) Close() error {
	var finalErr error
	if t.feedback != nil {
		finalErr = t.feedback.Close()
	}
	if t.conn != nil {
		if err := t.conn.Shutdown(); err != nil {
			finalErr = err
		}
	}
	t.listeners.Wait()
	return finalErr
}

// listenConn consumes the connection's event stream in arrival order, one
// event to completion at a time. Handlers only log and, for the completed
// event, shut the connection down; they own no other state.
func (t *Transport) listenConn(conn Conn) {
	defer t.listeners.Done()
	for ev := range conn.Events() {
		switch e := ev.(type) {
		case apns.ConnectedEvent:
			t.logger.Info("Provider socket connected.", "socket", e.SocketID)
		case apns.CompletedEvent:
			t.logger.Info("Provider completed all in-flight work; shutting connection down.")
			if err := conn.Shutdown(); err != nil {
				t.logger.Error("Connection shutdown failed.", "err", err)
			}
		case apns.TimeoutEvent:
			t.logger.Info("Provider socket timed out.")
		case apns.TransmittedEvent:
			t.logger.Info("Notification transmitted.",
				"device", e.Device.String(),
				"payload", e.Notification.CompiledPayload(),
			)
		case apns.TransmissionErrorEvent:
			t.logger.Error("Notification transmission failed.",
				"status", e.Status,
				"reason", apns.StatusText(e.Status),
				"device", e.Device.String(),
				"payload", e.Notification.CompiledPayload(),
			)
		}
	}
}

// listenFeedback consumes the feedback event stream. Each batch is forwarded
// to the pruner in a single call, handed off so event handling never stalls
// behind storage.
func (t *Transport) listenFeedback(feedback FeedbackConn) {
	defer t.listeners.Done()
	for ev := range feedback.Events() {
		switch e := ev.(type) {
		case apns.FeedbackConnErrorEvent:
			t.logger.Error("Feedback connection error.", "err", e.Err)
		case apns.FeedbackProtocolErrorEvent:
			t.logger.Error("Feedback protocol error.", "err", e.Err)
		case apns.FeedbackBatchEvent:
			t.logger.Info("Feedback batch received.", "count", len(e.Records))
			tokens := make([]string, 0, len(e.Records))
			for _, record := range e.Records {
				tokens = append(tokens, record.Token)
			}
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
				defer cancel()
				if _, err := t.pruner.DeleteBatch(ctx, tokens); err != nil {
					t.logger.Error("Device pruning failed.", "err", err)
				}
			}()
		}
	}
}
