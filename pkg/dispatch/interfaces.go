// Package dispatch contains the public contracts between the gateway's
// transports and its collaborators.
package dispatch

import "context"

// DevicePruner removes invalidated device tokens from persistent storage.
// The push transport calls it once per feedback batch with the full batch.
type DevicePruner interface {
	// DeleteBatch removes every token in one call and reports how many
	// records were actually deleted.
	DeleteBatch(ctx context.Context, tokens []string) (int, error)
}

// DeviceStore manages the registered APNs device tokens.
type DeviceStore interface {
	DevicePruner

	// Register adds or updates a device token. It should handle
	// deduplication (e.g. upsert).
	Register(ctx context.Context, token string) error

	// Unregister removes a single device token.
	Unregister(ctx context.Context, token string) error

	// List returns every registered token.
	List(ctx context.Context) ([]string, error)
}

// EmailSender is the contract for the transactional email transport.
type EmailSender interface {
	Dispatch(ctx context.Context, to, subject, html string) error
}
