package sensor

import "time"

// Uarter is the serial port the probe is attached to.
type Uarter interface {
	Open(path string, baud int) error
	// Flush discards bytes received but not read yet.
	Flush() error
	// ReadWait waits up to timeout for at least one byte, then reads what is available.
	// Returns ErrTimeoutT when nothing arrived.
	ReadWait(p []byte, timeout time.Duration) (int, error)
	Close() error
}
