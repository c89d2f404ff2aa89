package memory

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreakerLifecycle(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker("test", 2, 2, 10*time.Second)
	cb.now = func() time.Time { return now }

	failing := func() error { return errors.New("fail") }
	ok := func() error { return nil }

	assert.Error(t, cb.Call(failing))
	assert.Equal(t, StateClosed, cb.State())
	assert.Error(t, cb.Call(failing))
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Available())

	called := false
	err := cb.Call(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	now = now.Add(11 * time.Second)
	assert.True(t, cb.Available())
	assert.NoError(t, cb.Call(ok))
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.NoError(t, cb.Call(ok))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker("test", 1, 1, time.Second)
	cb.now = func() time.Time { return now }

	_ = cb.Call(func() error { return errors.New("fail") })
	assert.Equal(t, StateOpen, cb.State())

	now = now.Add(2 * time.Second)
	_ = cb.Call(func() error { return errors.New("still failing") })
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Available())
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, 1, time.Second)
	_ = cb.Call(func() error { return errors.New("fail") })
	_ = cb.Call(func() error { return nil })
	_ = cb.Call(func() error { return errors.New("fail") })
	assert.Equal(t, StateClosed, cb.State())

	stats := cb.Stats()
	assert.Equal(t, "closed", stats["state"])
	assert.Equal(t, "test", stats["name"])
}
