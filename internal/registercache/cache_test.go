package registercache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celsworth/lxp-bridge-sub000/internal/bus"
)

func startCache(t *testing.T) (*Cache, *bus.Bus[Event]) {
	t.Helper()

	b := bus.New[Event](16)
	cache := New(b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = cache.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	time.Sleep(10 * time.Millisecond)
	return cache, b
}

func TestCacheStoresValues(t *testing.T) {
	cache, b := startCache(t)

	b.Send(RegisterDataEvent(12, 1558))
	b.Send(RegisterDataEvent(21, 0x80))

	require.Eventually(t, func() bool {
		v, ok := cache.Get(12)
		return ok && v == 1558
	}, time.Second, 5*time.Millisecond)

	v, ok := cache.Get(21)
	assert.True(t, ok)
	assert.Equal(t, uint16(0x80), v)
}

func TestCacheOverwrites(t *testing.T) {
	cache, b := startCache(t)

	b.Send(RegisterDataEvent(64, 50))
	b.Send(RegisterDataEvent(64, 75))

	require.Eventually(t, func() bool {
		v, _ := cache.Get(64)
		return v == 75
	}, time.Second, 5*time.Millisecond)
}

func TestCacheDiscardsOversizedRegisters(t *testing.T) {
	cache, b := startCache(t)

	b.Send(RegisterDataEvent(300, 1))
	b.Send(RegisterDataEvent(1, 1))

	require.Eventually(t, func() bool {
		v, _ := cache.Get(1)
		return v == 1
	}, time.Second, 5*time.Millisecond)

	_, ok := cache.Get(300)
	assert.False(t, ok)
}

func TestCacheShutdown(t *testing.T) {
	b := bus.New[Event](16)
	cache := New(b)

	done := make(chan error, 1)
	go func() { done <- cache.Start(context.Background()) }()
	time.Sleep(10 * time.Millisecond)

	b.Send(ShutdownEvent())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("cache did not stop on shutdown")
	}
}
