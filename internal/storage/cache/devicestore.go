package cache

import (
	"context"
	"time"

	"github.com/tinywideclouds/go-notification-gateway/pkg/dispatch"
)

const deviceListKey = "notify:devices:all"

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or a specific error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedDeviceStore is a Decorator that adds Read-Aside caching to any
// DeviceStore. The device list is the hot read (every broadcast push hits
// it); every write path invalidates.
type CachedDeviceStore struct {
	realStore dispatch.DeviceStore
	cache     CacheClient
	ttl       time.Duration
}

func NewCachedDeviceStore(realStore dispatch.DeviceStore, cache CacheClient, ttl time.Duration) *CachedDeviceStore {
	return &CachedDeviceStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedDeviceStore) List(ctx context.Context) ([]string, error) {
	var cached []string
	if err := s.cache.Get(ctx, deviceListKey, &cached); err == nil {
		return cached, nil
	}

	fresh, err := s.realStore.List(ctx)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization, not a transaction. If Redis is down we
	// just serve from the source of truth.
	_ = s.cache.Set(ctx, deviceListKey, fresh, s.ttl)
	return fresh, nil
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedDeviceStore) Register(ctx context.Context, token string) error {
	if err := s.realStore.Register(ctx, token); err != nil {
		return err
	}
	return s.invalidate(ctx)
}

// Unregister must clear the cache even though the DB write already
// succeeded, so the device stops receiving notifications immediately.
func (s *CachedDeviceStore) Unregister(ctx context.Context, token string) error {
	if err := s.realStore.Unregister(ctx, token); err != nil {
		return err
	}
	return s.invalidate(ctx)
}

func (s *CachedDeviceStore) DeleteBatch(ctx context.Context, tokens []string) (int, error) {
	deleted, err := s.realStore.DeleteBatch(ctx, tokens)
	if err != nil {
		return deleted, err
	}
	return deleted, s.invalidate(ctx)
}

func (s *CachedDeviceStore) invalidate(ctx context.Context) error {
	// The next List is forced back to the source of truth.
	return s.cache.Del(ctx, deviceListKey)
}
