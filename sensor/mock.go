package sensor

// Public API to easy create sensor stubs to test your code.
import (
	"sync"
	"time"
)

// MockUart serves scripted chunks, one chunk per ReadWait.
// Stale bytes are dropped by Flush, chunks pushed with Push are "arriving" after flush.
type MockUart struct {
	mu      sync.Mutex
	stale   []byte
	chunks  chan []byte
	opened  bool
	flushes int
	// OpenErr/ReadErr are returned from Open/ReadWait when set.
	OpenErr error
	ReadErr error
}

func NewMockUart() *MockUart {
	return &MockUart{chunks: make(chan []byte, 64)}
}

func (self *MockUart) Push(chunks ...[]byte) {
	for _, c := range chunks {
		self.chunks <- c
	}
}

func (self *MockUart) SetStale(b []byte) {
	self.mu.Lock()
	self.stale = b
	self.mu.Unlock()
}

func (self *MockUart) Open(path string, baud int) error {
	if self.OpenErr != nil {
		return self.OpenErr
	}
	self.mu.Lock()
	self.opened = true
	self.mu.Unlock()
	return nil
}

func (self *MockUart) Flush() error {
	self.mu.Lock()
	self.stale = nil
	self.flushes++
	self.mu.Unlock()
	return nil
}

func (self *MockUart) Flushes() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.flushes
}

func (self *MockUart) ReadWait(p []byte, timeout time.Duration) (int, error) {
	if self.ReadErr != nil {
		return 0, self.ReadErr
	}
	self.mu.Lock()
	if len(self.stale) > 0 {
		n := copy(p, self.stale)
		self.stale = self.stale[n:]
		self.mu.Unlock()
		return n, nil
	}
	self.mu.Unlock()
	select {
	case c := <-self.chunks:
		return copy(p, c), nil
	case <-time.After(timeout):
		return 0, ErrTimeoutT("mock uart timeout")
	}
}

func (self *MockUart) Opened() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.opened
}

func (self *MockUart) Close() error {
	self.mu.Lock()
	self.opened = false
	self.mu.Unlock()
	return nil
}
