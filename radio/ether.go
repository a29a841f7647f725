package radio

import (
	"context"
	"sync"

	"github.com/juju/errors"
)

// Ether is in-memory medium connecting Station radios, delivery is synchronous.
// Used in tests and bench runs without hardware.
type Ether struct {
	mu       sync.Mutex
	stations map[Addr64]*Station
	// Drop decides per packet loss, nil means lossless.
	drop func(from, to Addr64, b []byte) bool
}

func NewEther() *Ether {
	return &Ether{stations: make(map[Addr64]*Station)}
}

// SetDrop installs loss hook. Return true to lose packet.
func (e *Ether) SetDrop(f func(from, to Addr64, b []byte) bool) {
	e.mu.Lock()
	e.drop = f
	e.mu.Unlock()
}

func (e *Ether) Station(addr Addr64) *Station {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.stations[addr]; ok {
		return s
	}
	s := &Station{ether: e, addr: addr}
	e.stations[addr] = s
	return s
}

func (e *Ether) transmit(ctx context.Context, from, to Addr64, b []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	dst := e.stations[to]
	drop := e.drop
	e.mu.Unlock()
	if drop != nil && drop(from, to, b) {
		return nil
	}
	if dst == nil {
		return errors.NotFoundf("ether station=%s", to)
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	dst.deliver(from, cp)
	return nil
}

type Station struct {
	ether *Ether
	addr  Addr64

	mu     sync.Mutex
	onRecv ReceiveFunc
	closed bool
	sent   int
}

var _ Radio = (*Station)(nil)

func (s *Station) Addr() Addr64 { return s.addr }

func (s *Station) Send(ctx context.Context, dest Addr64, b []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.sent++
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return s.ether.transmit(ctx, s.addr, dest, b)
}

// Sent counts Send calls, including dropped packets.
func (s *Station) Sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

func (s *Station) OnReceive(f ReceiveFunc) {
	s.mu.Lock()
	s.onRecv = f
	s.mu.Unlock()
}

func (s *Station) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Station) deliver(from Addr64, b []byte) {
	s.mu.Lock()
	f := s.onRecv
	closed := s.closed
	s.mu.Unlock()
	if f != nil && !closed {
		f(from, b)
	}
}
