package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGate(t *testing.T) {
	g := &Gate{}
	assert.False(t, g.Held())

	assert.True(t, g.TryAcquire())
	assert.True(t, g.Held())

	// Second acquire fails while held.
	assert.False(t, g.TryAcquire())

	g.Release()
	assert.False(t, g.Held())
	assert.True(t, g.TryAcquire())
}

func TestGateReleaseWhenFree(t *testing.T) {
	g := &Gate{}
	// Releasing an unheld gate is a no-op.
	g.Release()
	assert.False(t, g.Held())
	assert.True(t, g.TryAcquire())
}
