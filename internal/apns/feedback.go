package apns

import (
	"crypto/tls"
	"net"
	"sync"
	"time"
)

const (
	defaultPollInterval = 5 * time.Minute
	feedbackReadTimeout = 1 * time.Minute
)

// FeedbackConfig describes how to reach the provider's feedback service.
type FeedbackConfig struct {
	Addr         string
	TLS          *tls.Config
	Dialer       Dialer
	PollInterval time.Duration
}

// FeedbackConn polls the feedback service on an interval. Each poll reads
// the full record stream and publishes one event carrying the whole batch;
// the pruning side never sees records one by one.
type FeedbackConn struct {
	addr     string
	tls      *tls.Config
	dial     Dialer
	interval time.Duration

	events    chan FeedbackEvent
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex // guards socket against Close during a poll
	socket net.Conn
}

// NewFeedbackConn starts the poll loop. The first poll runs immediately so
// tokens invalidated while the process was down are pruned at startup.
func NewFeedbackConn(cfg FeedbackConfig) *FeedbackConn {
	dial := cfg.Dialer
	if dial == nil {
		dial = defaultDialer
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	f := &FeedbackConn{
		addr:     cfg.Addr,
		tls:      cfg.TLS,
		dial:     dial,
		interval: interval,
		events:   make(chan FeedbackEvent, 16),
		done:     make(chan struct{}),
	}
	go f.pollLoop()
	return f
}

// Events returns the ordered feedback event stream. The channel is closed
// after Close.
func (f *FeedbackConn) Events() <-chan FeedbackEvent {
	return f.events
}

// Close stops the poll loop and tears down any in-flight poll so a stalled
// feedback socket cannot block shutdown. Safe to call more than once.
func (f *FeedbackConn) Close() error {
	f.closeOnce.Do(func() {
		close(f.done)
		f.mu.Lock()
		if f.socket != nil {
			_ = f.socket.Close()
		}
		f.mu.Unlock()
	})
	return nil
}

func (f *FeedbackConn) pollLoop() {
	defer close(f.events)
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.poll()
	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.poll()
		}
	}
}

// poll dials the feedback service, drains the record stream and publishes
// the batch. The provider closes the stream itself once drained; the read
// deadline bounds a provider that never does.
func (f *FeedbackConn) poll() {
	socket, err := f.dial(f.addr, f.tls)
	if err != nil {
		f.send(FeedbackConnErrorEvent{Err: err})
		return
	}
	if !f.track(socket) {
		_ = socket.Close()
		return
	}
	defer f.untrack()

	_ = socket.SetReadDeadline(time.Now().Add(feedbackReadTimeout))
	records, err := readFeedbackRecords(socket)
	if err != nil {
		f.send(FeedbackProtocolErrorEvent{Err: err})
		return
	}
	if len(records) == 0 {
		return
	}
	f.send(FeedbackBatchEvent{Records: records})
}

// track registers the poll's socket so Close can tear it down. Returns false
// when Close already ran.
func (f *FeedbackConn) track(socket net.Conn) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.done:
		return false
	default:
	}
	f.socket = socket
	return true
}

func (f *FeedbackConn) untrack() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.socket != nil {
		_ = f.socket.Close()
		f.socket = nil
	}
}

// send drops the event once Close has run, so a poll torn down mid-read does
// not surface its own teardown as a protocol error.
func (f *FeedbackConn) send(ev FeedbackEvent) {
	select {
	case <-f.done:
		return
	default:
	}
	select {
	case f.events <- ev:
	case <-f.done:
	}
}
