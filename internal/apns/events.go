package apns

import "time"

// Event is the tagged variant published on a connection's event channel.
// Events carry everything a handler needs; no handler reaches back into
// connection state.
type Event interface{ isEvent() }

// ConnectedEvent fires when the provider socket opens.
type ConnectedEvent struct {
	SocketID string
}

// CompletedEvent fires when the provider has finished all in-flight work
// and is ready to close.
type CompletedEvent struct{}

// TimeoutEvent fires when the provider socket's read deadline expires.
// The connection stays open.
type TimeoutEvent struct{}

// TransmittedEvent fires after one notification was written to the socket
// for one device.
type TransmittedEvent struct {
	Device       Device
	Notification *Notification
}

// TransmissionErrorEvent fires when the provider rejects one notification,
// or when a submission was invalid before it reached the wire.
type TransmissionErrorEvent struct {
	Status       uint8
	Notification *Notification
	Device       Device
}

func (ConnectedEvent) isEvent()         {}
func (CompletedEvent) isEvent()         {}
func (TimeoutEvent) isEvent()           {}
func (TransmittedEvent) isEvent()       {}
func (TransmissionErrorEvent) isEvent() {}

// FeedbackEvent is the tagged variant published by a feedback connection.
type FeedbackEvent interface{ isFeedbackEvent() }

// FeedbackConnErrorEvent reports a connection-level failure reaching the
// feedback service.
type FeedbackConnErrorEvent struct {
	Err error
}

// FeedbackProtocolErrorEvent reports a malformed feedback record stream.
type FeedbackProtocolErrorEvent struct {
	Err error
}

// FeedbackBatchEvent carries one full batch of device-invalidation records.
type FeedbackBatchEvent struct {
	Records []FeedbackRecord
}

func (FeedbackConnErrorEvent) isFeedbackEvent()     {}
func (FeedbackProtocolErrorEvent) isFeedbackEvent() {}
func (FeedbackBatchEvent) isFeedbackEvent()         {}

// FeedbackRecord identifies one device token the provider reports as no
// longer valid.
type FeedbackRecord struct {
	Token     string
	Timestamp time.Time
}
