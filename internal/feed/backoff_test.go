package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	b := Backoff{Base: time.Second, Cap: 30 * time.Second, Factor: 2, MaxAttempts: 5}

	t.Run("Exponential growth", func(t *testing.T) {
		assert.Equal(t, 1*time.Second, b.Delay(1))
		assert.Equal(t, 2*time.Second, b.Delay(2))
		assert.Equal(t, 4*time.Second, b.Delay(3))
		assert.Equal(t, 8*time.Second, b.Delay(4))
		assert.Equal(t, 16*time.Second, b.Delay(5))
	})

	t.Run("Ceiling", func(t *testing.T) {
		assert.Equal(t, 30*time.Second, b.Delay(6))
		assert.Equal(t, 30*time.Second, b.Delay(12))
	})

	t.Run("Attempt floor", func(t *testing.T) {
		assert.Equal(t, time.Second, b.Delay(0))
		assert.Equal(t, time.Second, b.Delay(-3))
	})

	t.Run("Exhaustion", func(t *testing.T) {
		assert.False(t, b.Exhausted(1))
		assert.False(t, b.Exhausted(5))
		assert.True(t, b.Exhausted(6))
	})

	t.Run("Defaults fill zero values", func(t *testing.T) {
		d := Backoff{}.withDefaults()
		assert.Equal(t, DefaultBackoff, d)

		custom := Backoff{Base: 10 * time.Millisecond}.withDefaults()
		assert.Equal(t, 10*time.Millisecond, custom.Base)
		assert.Equal(t, DefaultBackoff.MaxAttempts, custom.MaxAttempts)
	})
}
