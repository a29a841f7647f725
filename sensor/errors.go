package sensor

import "fmt"

var (
	ErrTransportUnavailable = fmt.Errorf("sensor transport unavailable")
	ErrMalformedSample      = fmt.Errorf("malformed sample")
	ErrNoData               = fmt.Errorf("no data within read window")
)

type ErrTimeoutT string

type Timeouter interface {
	Timeout() bool
}

func (e ErrTimeoutT) Error() string { return string(e) }
func (ErrTimeoutT) Timeout() bool   { return true }

func isTimeout(err error) bool {
	t, ok := err.(Timeouter)
	return ok && t.Timeout()
}
