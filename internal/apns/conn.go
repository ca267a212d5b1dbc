// Package apns implements the binary-interface connection to the Apple Push
// Notification service: the persistent gateway socket that notifications are
// multiplexed over, and the feedback connection that reports invalidated
// device tokens. Delivery outcomes are asynchronous; both connections publish
// them as ordered event streams.
package apns

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Provider addresses for the binary interface.
const (
	GatewayAddr         = "gateway.push.apple.com:2195"
	GatewaySandboxAddr  = "gateway.sandbox.push.apple.com:2195"
	FeedbackAddr        = "feedback.push.apple.com:2196"
	FeedbackSandboxAddr = "feedback.sandbox.push.apple.com:2196"
)

const (
	defaultReadTimeout = 2 * time.Minute
	connectTimeout     = 30 * time.Second
	eventBufferSize    = 64
	inflightRingSize   = 100
)

// ErrConnClosed is returned by Send after the connection was shut down.
var ErrConnClosed = errors.New("apns: connection is closed")

// Dialer opens the transport socket. Injectable for tests.
type Dialer func(addr string, cfg *tls.Config) (net.Conn, error)

func defaultDialer(addr string, cfg *tls.Config) (net.Conn, error) {
	return tls.DialWithDialer(&net.Dialer{Timeout: connectTimeout}, "tcp", addr, cfg)
}

// Config describes how to reach the provider gateway.
type Config struct {
	Addr        string
	TLS         *tls.Config
	Dialer      Dialer
	ReadTimeout time.Duration
}

type inflight struct {
	id           uint32
	notification *Notification
	device       Device
}

// Conn is the persistent channel to the push provider. One instance is
// shared by every concurrent dispatcher in the process; submissions
// interleave and are not correlated back to their callers.
type Conn struct {
	socket      net.Conn
	readTimeout time.Duration
	events      chan Event

	mu           sync.Mutex // guards writes, the ring and event emission
	ring         [inflightRingSize]inflight
	counter      uint32
	eventsClosed bool

	closed atomic.Bool
}

// Dial opens the provider socket, emits the connected event and starts the
// read loop that turns provider packets into lifecycle events.
func Dial(cfg Config) (*Conn, error) {
	dial := cfg.Dialer
	if dial == nil {
		dial = defaultDialer
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}

	socket, err := dial(cfg.Addr, cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("apns dial %s failed: %w", cfg.Addr, err)
	}

	c := &Conn{
		socket:      socket,
		readTimeout: readTimeout,
		events:      make(chan Event, eventBufferSize),
	}
	c.emit(ConnectedEvent{SocketID: socket.LocalAddr().String()})
	go c.readLoop()
	return c, nil
}

// Events returns the ordered lifecycle event stream. The channel is closed
// when the read loop exits.
func (c *Conn) Events() <-chan Event {
	return c.events
}

// Send submits one notification for one device. The socket write is
// synchronous, but delivery outcome arrives later on the event channel.
// Invalid submissions surface as transmission-error events, not as
// synchronous errors; only a dead connection or a failed write returns one.
func (c *Conn) Send(n *Notification, d Device) error {
	if c.closed.Load() {
		return ErrConnClosed
	}

	token, err := d.Bytes()
	if err != nil || len(token) != TokenLength {
		// Best-effort compile so the error event still carries the payload.
		_, _ = n.Compile()
		c.emit(TransmissionErrorEvent{Status: StatusInvalidTokenSize, Notification: n, Device: d})
		return nil
	}

	payload, err := n.Compile()
	if err != nil {
		return err
	}
	if len(payload) > MaxPayloadSize {
		c.emit(TransmissionErrorEvent{Status: StatusInvalidPayloadSize, Notification: n, Device: d})
		return nil
	}

	var expiry uint32
	if !n.Expiry.IsZero() {
		expiry = uint32(n.Expiry.Unix())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.counter++
	id := c.counter
	if _, err := c.socket.Write(encodeFrame(id, token, payload, expiry, priorityImmediate)); err != nil {
		return fmt.Errorf("apns write failed: %w", err)
	}
	c.ring[id%inflightRingSize] = inflight{id: id, notification: n, device: d}
	if !c.eventsClosed {
		c.events <- TransmittedEvent{Device: d, Notification: n}
	}
	return nil
}

// Shutdown closes the socket and stops the read loop. Safe to call more
// than once.
func (c *Conn) Shutdown() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.socket.Close()
}

// readLoop waits for error-response packets from the provider. The read
// deadline doubles as the idle timeout: expiry emits a timeout event and the
// loop continues with a fresh deadline.
func (c *Conn) readLoop() {
	packet := make([]byte, errorResponseLength)
	for {
		_ = c.socket.SetReadDeadline(time.Now().Add(c.readTimeout))
		if _, err := io.ReadFull(c.socket, packet); err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				c.emit(TimeoutEvent{})
				continue
			}
			if errors.Is(err, io.EOF) {
				// The provider drained its in-flight work and closed cleanly.
				c.emit(CompletedEvent{})
			}
			c.closeEvents()
			return
		}

		status, id, err := parseErrorResponse(packet)
		if err != nil {
			continue
		}
		if status == StatusShutdown {
			c.emit(CompletedEvent{})
			continue
		}
		if entry, ok := c.lookup(id); ok {
			c.emit(TransmissionErrorEvent{Status: status, Notification: entry.notification, Device: entry.device})
		}
	}
}

func (c *Conn) lookup(id uint32) (inflight, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := c.ring[id%inflightRingSize]
	return entry, entry.id == id
}

func (c *Conn) emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.eventsClosed {
		c.events <- ev
	}
}

func (c *Conn) closeEvents() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.eventsClosed {
		c.eventsClosed = true
		close(c.events)
	}
}
