package ratelimit

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestLimiter_AllowsUpToMax(t *testing.T) {
	mock := clock.NewMock()
	l := New(3, time.Second, mock)

	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow(), "fourth event inside the window is rejected")
	assert.Equal(t, 3, l.Count(), "rejected events are not recorded")
}

func TestLimiter_WindowSlides(t *testing.T) {
	mock := clock.NewMock()
	l := New(2, time.Second, mock)

	assert.True(t, l.Allow())
	mock.Add(600 * time.Millisecond)
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())

	// First event leaves the window, second is still inside
	mock.Add(401 * time.Millisecond)
	assert.Equal(t, 1, l.Count())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}

func TestLimiter_AfterWindowAllowsAgain(t *testing.T) {
	mock := clock.NewMock()
	l := New(5, 100*time.Millisecond, mock)

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow())
	}
	assert.False(t, l.Allow())

	mock.Add(101 * time.Millisecond)
	assert.True(t, l.Allow())
}

func TestLimiter_ExactWindowBoundaryIsOutside(t *testing.T) {
	mock := clock.NewMock()
	l := New(1, time.Second, mock)

	assert.True(t, l.Allow())
	mock.Add(time.Second)
	assert.True(t, l.Allow(), "an event exactly one window old has expired")
}

func TestLimiter_RetryAfter(t *testing.T) {
	mock := clock.NewMock()
	l := New(1, time.Second, mock)

	assert.Equal(t, time.Duration(0), l.RetryAfter())
	l.Allow()
	mock.Add(250 * time.Millisecond)
	assert.Equal(t, 750*time.Millisecond, l.RetryAfter())
}

func TestLimiter_Disabled(t *testing.T) {
	l := New(0, time.Second, nil)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow())
	}
}

func TestLimiter_Reset(t *testing.T) {
	mock := clock.NewMock()
	l := New(1, time.Hour, mock)

	l.Allow()
	assert.False(t, l.Allow())
	l.Reset()
	assert.True(t, l.Allow())
}
