package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-notification-gateway/internal/storage/cache"
)

// --- Mocks ---

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string, dest interface{}) error {
	args := m.Called(ctx, key, dest)
	return args.Error(0)
}
func (m *MockCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}
func (m *MockCache) Del(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type MockRealStore struct {
	mock.Mock
}

func (m *MockRealStore) Register(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}
func (m *MockRealStore) Unregister(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}
func (m *MockRealStore) List(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}
func (m *MockRealStore) DeleteBatch(ctx context.Context, tokens []string) (int, error) {
	args := m.Called(ctx, tokens)
	return args.Int(0), args.Error(1)
}

const cacheKey = "notify:devices:all"

func TestCachedStore_ImmediateInvalidation(t *testing.T) {
	ctx := context.Background()
	mockCache := new(MockCache)
	mockDB := new(MockRealStore)

	store := cache.NewCachedDeviceStore(mockDB, mockCache, 1*time.Hour)

	t.Run("Unregister invalidates cache immediately", func(t *testing.T) {
		token := "deadbeef"

		// 1. Expect DB call
		mockDB.On("Unregister", ctx, token).Return(nil)

		// 2. Expect Cache DELETE (Crucial!)
		mockCache.On("Del", ctx, cacheKey).Return(nil)

		// Act
		err := store.Unregister(ctx, token)

		// Assert
		require.NoError(t, err)
		mockDB.AssertExpectations(t)
		mockCache.AssertExpectations(t)
	})

	t.Run("Subsequent List hits DB (Cache Miss)", func(t *testing.T) {
		// 1. Expect Cache Miss (simulating the delete worked)
		mockCache.On("Get", ctx, cacheKey, mock.Anything).Return(cache.ErrCacheMiss)

		// 2. Expect DB Read (Source of Truth)
		mockDB.On("List", ctx).Return([]string{"cafebabe"}, nil)

		// 3. Expect Cache SET (Refilling)
		mockCache.On("Set", ctx, cacheKey, []string{"cafebabe"}, mock.Anything).Return(nil)

		// Act
		tokens, err := store.List(ctx)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, []string{"cafebabe"}, tokens)
		mockDB.AssertExpectations(t)
	})
}

func TestCachedStore_RedisOutageStillServesFromDB(t *testing.T) {
	ctx := context.Background()
	mockCache := new(MockCache)
	mockDB := new(MockRealStore)
	store := cache.NewCachedDeviceStore(mockDB, mockCache, 1*time.Hour)

	// A real Redis failure, not a miss. The list must still be served.
	mockCache.On("Get", ctx, cacheKey, mock.Anything).Return(assert.AnError)
	mockDB.On("List", ctx).Return([]string{"deadbeef"}, nil)
	mockCache.On("Set", ctx, cacheKey, []string{"deadbeef"}, mock.Anything).Return(assert.AnError)

	tokens, err := store.List(ctx)

	require.NoError(t, err)
	assert.Equal(t, []string{"deadbeef"}, tokens)
	mockDB.AssertExpectations(t)
}

func TestCachedStore_PruneInvalidatesList(t *testing.T) {
	ctx := context.Background()
	mockCache := new(MockCache)
	mockDB := new(MockRealStore)
	store := cache.NewCachedDeviceStore(mockDB, mockCache, 1*time.Hour)

	batch := []string{"deadbeef", "cafebabe"}
	mockDB.On("DeleteBatch", ctx, batch).Return(2, nil)
	mockCache.On("Del", ctx, cacheKey).Return(nil)

	deleted, err := store.DeleteBatch(ctx, batch)

	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	mockDB.AssertExpectations(t)
	mockCache.AssertExpectations(t)
}

func TestCachedStore_PruneFailureSkipsInvalidation(t *testing.T) {
	ctx := context.Background()
	mockCache := new(MockCache)
	mockDB := new(MockRealStore)
	store := cache.NewCachedDeviceStore(mockDB, mockCache, 1*time.Hour)

	mockDB.On("DeleteBatch", ctx, mock.Anything).Return(0, assert.AnError)

	_, err := store.DeleteBatch(ctx, []string{"deadbeef"})

	require.Error(t, err)
	mockCache.AssertNotCalled(t, "Del", mock.Anything, mock.Anything)
}
