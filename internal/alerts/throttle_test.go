package alerts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThrottlerAllowsBurst(t *testing.T) {
	th := NewThrottler(60, 5)

	for i := 0; i < 5; i++ {
		assert.True(t, th.Allow(), "burst request %d", i)
	}
	assert.False(t, th.Allow(), "beyond burst")
}

func TestThrottlerRetryAfter(t *testing.T) {
	th := NewThrottler(60, 1)

	assert.True(t, th.Allow())
	assert.False(t, th.Allow())
	assert.Greater(t, th.GetRetryAfter().Seconds(), 0.0)
}

func TestThrottlerReset(t *testing.T) {
	th := NewThrottler(60, 2)

	th.Allow()
	th.Allow()
	assert.False(t, th.Allow())

	th.Reset()
	assert.True(t, th.Allow())
}

func TestThrottlerDefaults(t *testing.T) {
	th := NewThrottler(0, 0)
	assert.Equal(t, 30.0, th.GetTokens())
}
