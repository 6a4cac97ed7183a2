package client

import (
	"testing"
	"time"

	"token-observer/src/models"

	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------

func TestCacheHitWithinTTL(t *testing.T) {
	cache := NewTokenCache(time.Hour)
	cache.Put("0xAAA", models.MToken{Address: "0xaaa", Price: 1.5})

	// Case-varying keys resolve to the same entry
	got, ok := cache.Get("0xaaa")
	require.True(t, ok)
	require.Equal(t, 1.5, got.Price)

	got, ok = cache.Get("0xAaA")
	require.True(t, ok)
	require.Equal(t, "0xaaa", got.Address)
}

// -----------------------------------------------------------------------------

func TestCacheExpiryPrunesLazily(t *testing.T) {
	cache := NewTokenCache(10 * time.Millisecond)
	cache.Put("0xaaa", models.MToken{Address: "0xaaa"})

	time.Sleep(25 * time.Millisecond)

	// The expired entry still occupies a slot until someone reads it
	require.Equal(t, 1, cache.Len())

	_, ok := cache.Get("0xaaa")
	require.False(t, ok)
	require.Zero(t, cache.Len())
}

// -----------------------------------------------------------------------------

func TestCachePutRefreshesTTL(t *testing.T) {
	cache := NewTokenCache(50 * time.Millisecond)
	cache.Put("0xaaa", models.MToken{Address: "0xaaa", Price: 1})

	time.Sleep(30 * time.Millisecond)
	cache.Put("0xaaa", models.MToken{Address: "0xaaa", Price: 2})

	time.Sleep(30 * time.Millisecond)

	// 60ms after the first Put but only 30ms after the refresh
	got, ok := cache.Get("0xaaa")
	require.True(t, ok)
	require.Equal(t, float64(2), got.Price)
}
