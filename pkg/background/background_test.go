package background

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraceRegistry(t *testing.T) {
	t.Run("fires the expiry callback once after the grace period", func(t *testing.T) {
		registry := NewGraceRegistry(20 * time.Millisecond)

		var fired atomic.Int32
		token := registry.Begin("stream", func() { fired.Add(1) })
		require.NotEqual(t, InvalidToken, token)

		assert.Eventually(t, func() bool { return fired.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, int32(1), fired.Load(), "expiry must fire at most once")
	})

	t.Run("End disarms the expiry callback", func(t *testing.T) {
		registry := NewGraceRegistry(20 * time.Millisecond)

		var fired atomic.Int32
		token := registry.Begin("stream", func() { fired.Add(1) })
		registry.End(token)

		time.Sleep(60 * time.Millisecond)
		assert.Equal(t, int32(0), fired.Load())
	})

	t.Run("ending an expired or unknown token is a no-op", func(t *testing.T) {
		registry := NewGraceRegistry(10 * time.Millisecond)

		token := registry.Begin("stream", nil)
		time.Sleep(40 * time.Millisecond)

		assert.NotPanics(t, func() { registry.End(token) })
		assert.NotPanics(t, func() { registry.End(Token(999)) })
		assert.NotPanics(t, func() { registry.End(InvalidToken) })
	})

	t.Run("tokens are distinct per unit of work", func(t *testing.T) {
		registry := NewGraceRegistry(time.Minute)
		a := registry.Begin("a", nil)
		b := registry.Begin("b", nil)
		assert.NotEqual(t, a, b)
		registry.End(a)
		registry.End(b)
	})
}

func TestNopRegistry(t *testing.T) {
	t.Run("grants unlimited time", func(t *testing.T) {
		registry := NopRegistry{}
		token := registry.Begin("stream", func() { t.Fatal("must never expire") })
		assert.Equal(t, InvalidToken, token)
		registry.End(token)
	})
}
