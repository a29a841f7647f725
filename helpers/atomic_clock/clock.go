// Package atomic_clock is lock free timestamp for backoff accounting.
// Monotonic reading is lost, do not use for anything but short intervals.
package atomic_clock

import (
	"sync/atomic"
	"time"
)

type Clock struct{ v int64 }

func source() int64 { return time.Now().UnixNano() }

func (c *Clock) SetNow() { atomic.StoreInt64(&c.v, source()) }

// Since zero Clock is huge, so first backoff delay is never shortened by it.
func Since(begin *Clock) time.Duration { return time.Duration(source() - atomic.LoadInt64(&begin.v)) }
