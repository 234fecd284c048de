package runtime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownManager_Register(t *testing.T) {
	m := NewShutdownManager(5 * time.Second)

	var called int32
	m.Register("test-handler", func(ctx context.Context) error {
		atomic.AddInt32(&called, 1)
		return nil
	})

	require.NoError(t, m.Shutdown())
	assert.Equal(t, int32(1), atomic.LoadInt32(&called))
}

func TestShutdownManager_LIFO(t *testing.T) {
	m := NewShutdownManager(5 * time.Second)

	var order []int
	m.RegisterSimple("first", func() { order = append(order, 1) })
	m.RegisterSimple("second", func() { order = append(order, 2) })
	m.RegisterSimple("third", func() { order = append(order, 3) })

	require.NoError(t, m.Shutdown())
	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestShutdownManager_Context(t *testing.T) {
	m := NewShutdownManager(5 * time.Second)
	ctx := m.Context()
	assert.NoError(t, ctx.Err())

	m.Shutdown()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)

	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("done channel should be closed after shutdown")
	}
}

func TestShutdownManager_InterruptKeepsHandlers(t *testing.T) {
	m := NewShutdownManager(5 * time.Second)
	var called bool
	m.RegisterSimple("close", func() { called = true })

	m.Interrupt()
	assert.Error(t, m.Context().Err())
	assert.False(t, called)

	select {
	case <-m.Done():
		t.Fatal("interrupt must not complete shutdown")
	default:
	}

	require.NoError(t, m.Shutdown())
	assert.True(t, called)
}

func TestShutdownManager_Timeout(t *testing.T) {
	m := NewShutdownManager(100 * time.Millisecond)

	var after bool
	m.RegisterSimple("runs-first-registered", func() { after = true })
	m.Register("slow-handler", func(ctx context.Context) error {
		<-time.After(5 * time.Second)
		return nil
	})

	start := time.Now()
	err := m.Shutdown()
	assert.Less(t, time.Since(start), time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slow-handler")
	assert.Contains(t, err.Error(), "timed out")
	assert.False(t, after, "handlers after the deadline are skipped")
}

func TestShutdownManager_ErrorsJoined(t *testing.T) {
	m := NewShutdownManager(5 * time.Second)
	boom := errors.New("test error")

	m.Register("error-handler", func(ctx context.Context) error { return boom })
	m.Register("success-handler", func(ctx context.Context) error { return nil })

	err := m.Shutdown()
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "error-handler")
}

func TestShutdownManager_OnlyOnce(t *testing.T) {
	m := NewShutdownManager(5 * time.Second)

	var callCount int32
	m.Register("once-handler", func(ctx context.Context) error {
		atomic.AddInt32(&callCount, 1)
		return errors.New("fail")
	})

	first := m.Shutdown()
	second := m.Shutdown()
	m.Shutdown()

	assert.Equal(t, int32(1), atomic.LoadInt32(&callCount))
	assert.Equal(t, first, second)
}
