package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := NewFakeClock(start)
	assert.Equal(t, start, clock.Now())

	clock.Advance(90 * 24 * time.Hour)
	assert.Equal(t, start.Add(90*24*time.Hour), clock.Now())

	clock.Set(start)
	assert.Equal(t, start, clock.Now())
}
