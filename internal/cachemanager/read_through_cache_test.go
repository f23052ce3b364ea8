package cachemanager

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadThroughCache_LoadsOnceOnSuccess(t *testing.T) {
	ctx := context.Background()
	calls := 0
	rt := NewReadThroughCache(
		NewInMemoryCacheManager[string]("test", DefaultExpiration, DefaultCleanupInterval),
		func(ctx context.Context, input string) (string, error) {
			calls++
			return "loaded:" + input, nil
		},
		false,
	)

	for range 3 {
		got, err := rt.Get(ctx, "heading", "heading", NoExpiration)
		require.NoError(t, err)
		require.Equal(t, "loaded:heading", got)
	}
	require.Equal(t, 1, calls, "successful load should be cached")
}

func TestReadThroughCache_FailureNotCached(t *testing.T) {
	ctx := context.Background()
	calls := 0
	boom := errors.New("network blip")
	rt := NewReadThroughCache(
		NewInMemoryCacheManager[string]("test", DefaultExpiration, DefaultCleanupInterval),
		func(ctx context.Context, input string) (string, error) {
			calls++
			if calls == 1 {
				return "", boom
			}
			return "ok", nil
		},
		false,
	)

	_, err := rt.Get(ctx, "k", "k", NoExpiration)
	require.ErrorIs(t, err, boom)

	// Second call retries the loader instead of replaying the failure.
	got, err := rt.Get(ctx, "k", "k", NoExpiration)
	require.NoError(t, err)
	require.Equal(t, "ok", got)
	require.Equal(t, 2, calls)
}

func TestReadThroughCache_SkipCache(t *testing.T) {
	ctx := context.Background()
	calls := 0
	rt := NewReadThroughCache(
		NewInMemoryCacheManager[string]("test", DefaultExpiration, DefaultCleanupInterval),
		func(ctx context.Context, input string) (string, error) {
			calls++
			return "v", nil
		},
		true,
	)

	_, _ = rt.Get(ctx, "k", "k", NoExpiration)
	_, _ = rt.Get(ctx, "k", "k", NoExpiration)
	require.Equal(t, 2, calls)
}

func TestReadThroughCache_Peek(t *testing.T) {
	ctx := context.Background()
	rt := NewReadThroughCache(
		NewInMemoryCacheManager[string]("test", DefaultExpiration, DefaultCleanupInterval),
		func(ctx context.Context, input string) (string, error) { return "v", nil },
		false,
	)

	_, ok := rt.Peek(ctx, "k")
	require.False(t, ok, "peek must not trigger the loader")

	_, err := rt.Get(ctx, "k", "k", NoExpiration)
	require.NoError(t, err)

	got, ok := rt.Peek(ctx, "k")
	require.True(t, ok)
	require.Equal(t, "v", got)
}
