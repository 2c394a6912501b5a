package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllow_AdmitsUpToBurstThenRejects(t *testing.T) {
	l := New(3, 60)
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("sess-1"))
	}
	assert.False(t, l.Allow("sess-1"))
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	l := New(1, 60)
	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
	assert.False(t, l.Allow("a"))
}

func TestAllow_RefillsOverTime(t *testing.T) {
	l := New(1, 0.05) // 1 permit per 50ms
	assert.True(t, l.Allow("k"))
	assert.False(t, l.Allow("k"))
	time.Sleep(60 * time.Millisecond)
	assert.True(t, l.Allow("k"))
}

func TestForget_ResetsBucket(t *testing.T) {
	l := New(1, 60)
	assert.True(t, l.Allow("k"))
	assert.False(t, l.Allow("k"))
	l.Forget("k")
	assert.True(t, l.Allow("k"))
}
