// Package radio carries opaque datagrams between mesh nodes addressed by 64-bit hardware id.
package radio

import (
	"context"
	"fmt"
	"strconv"

	"github.com/juju/errors"
)

var ErrClosed = fmt.Errorf("radio closed")

// Addr64 is radio hardware address. Hex form is node identity for storage.
type Addr64 uint64

const Broadcast Addr64 = 0x000000000000ffff

func (a Addr64) String() string { return fmt.Sprintf("%016X", uint64(a)) }

func ParseAddr64(s string) (Addr64, error) {
	if len(s) != 16 {
		return 0, errors.NotValidf("radio address=%q expected 16 hex digits", s)
	}
	x, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, errors.NotValidf("radio address=%q", s)
	}
	return Addr64(x), nil
}

// ReceiveFunc is called from radio reader goroutine, must not block for long.
// b is owned by callee.
type ReceiveFunc func(from Addr64, b []byte)

type Radio interface {
	Send(ctx context.Context, dest Addr64, b []byte) error
	OnReceive(f ReceiveFunc)
	Close() error
}
