package helpers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffGrowth(t *testing.T) {
	t.Parallel()

	b := Backoff{Min: 100 * time.Millisecond, Max: time.Second, K: 2}
	assert.Equal(t, time.Duration(0), b.DelayBefore())
	b.Failure()
	assert.Equal(t, 100*time.Millisecond, b.Next())
	b.Failure()
	assert.Equal(t, 200*time.Millisecond, b.Next())
	for i := 0; i < 10; i++ {
		b.Failure()
	}
	assert.Equal(t, time.Second, b.Next())
	assert.True(t, b.DelayBefore() <= time.Second)

	b.Reset()
	assert.Equal(t, time.Duration(0), b.DelayBefore())
	b.Failure()
	assert.Equal(t, 100*time.Millisecond, b.Next())
}

func TestBackoffDelayBeforeElapses(t *testing.T) {
	t.Parallel()

	b := Backoff{Min: 50 * time.Millisecond, Max: time.Second, K: 2}
	b.Failure()
	d1 := b.DelayBefore()
	assert.True(t, d1 > 0 && d1 <= 50*time.Millisecond, "d1=%v", d1)
	time.Sleep(20 * time.Millisecond)
	d2 := b.DelayBefore()
	assert.True(t, d2 < d1, "d1=%v d2=%v", d1, d2)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, time.Duration(0), b.DelayBefore())
	// time passed does not reduce scheduled delay
	assert.Equal(t, 50*time.Millisecond, b.Next())
}
