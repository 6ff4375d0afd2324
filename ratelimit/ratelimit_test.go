package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alwitt/keygate/ratelimit"
	"github.com/stretchr/testify/assert"
)

// TestMemoryLimiter verifies fixed-window counting in the in-process limiter.
//
// The test performs the following steps:
//
//  1. Three requests fit a limit of three; the fourth is refused.
//  2. A different bucket key is counted independently.
func TestMemoryLimiter(t *testing.T) {
	assert := assert.New(t)

	utCtx := context.Background()
	uut := ratelimit.NewMemoryLimiter(3, time.Hour)

	for i := 0; i < 3; i++ {
		allowed, err := uut.Allow(utCtx, "alice@example.com")
		assert.Nil(err)
		assert.True(allowed)
	}
	allowed, err := uut.Allow(utCtx, "alice@example.com")
	assert.Nil(err)
	assert.False(allowed)

	allowed, err = uut.Allow(utCtx, "bob@example.com")
	assert.Nil(err)
	assert.True(allowed)
}
