package apns

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sideshow/apns2/payload"
)

// MaxPayloadSize is the binary interface's limit on a compiled payload.
const MaxPayloadSize = 2048

// Notification is the per-send value submitted to a Conn. One is built for
// every (dispatch, device) pair and never reused.
type Notification struct {
	Expiry  time.Time
	Alert   string
	Payload map[string]any
	Badge   int
	Sound   string

	compiled []byte
}

// Compile renders the aps payload JSON. The result is cached on the
// notification so lifecycle events can log the exact bytes that went over
// the wire.
func (n *Notification) Compile() ([]byte, error) {
	if n.compiled != nil {
		return n.compiled, nil
	}

	builder := payload.NewPayload().
		Alert(n.Alert).
		Badge(n.Badge).
		Sound(n.Sound)
	for k, v := range n.Payload {
		builder.Custom(k, v)
	}

	compiled, err := json.Marshal(builder)
	if err != nil {
		return nil, fmt.Errorf("failed to compile notification payload: %w", err)
	}
	n.compiled = compiled
	return compiled, nil
}

// CompiledPayload returns the rendered payload for logging. Empty until
// Compile has run.
func (n *Notification) CompiledPayload() string {
	return string(n.compiled)
}
