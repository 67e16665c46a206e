package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLifecycle(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	l := New(start)
	assert.True(t, l.Accepting())
	assert.Equal(t, 90*time.Second, l.Uptime(start.Add(90*time.Second)))

	l.SetDraining(true)
	assert.True(t, l.IsDraining())
	assert.False(t, l.Accepting())
}

func TestLifecycle_NilIsAccepting(t *testing.T) {
	var l *Lifecycle
	l.SetDraining(true)
	assert.True(t, l.Accepting())
	assert.Zero(t, l.Uptime(time.Now()))
}
