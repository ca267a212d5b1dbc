package apns

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// TokenLength is the size in bytes of a binary-interface device token.
const TokenLength = 32

var tokenNormalizer = strings.NewReplacer(" ", "", "<", "", ">", "")

// Device wraps one recipient's token, normalized to lowercase hex. Devices
// are built fresh per submission and discarded after it.
type Device struct {
	token string
}

// NewDevice normalizes a raw token string. Spaces and angle brackets (the
// format iOS clients often report) are stripped.
func NewDevice(token string) Device {
	return Device{token: strings.ToLower(tokenNormalizer.Replace(token))}
}

// String returns the normalized lowercase hex form.
func (d Device) String() string {
	return d.token
}

// Bytes decodes the token to its wire form.
func (d Device) Bytes() ([]byte, error) {
	decoded, err := hex.DecodeString(d.token)
	if err != nil {
		return nil, fmt.Errorf("device token is not valid hex: %w", err)
	}
	return decoded, nil
}
