package radio

import (
	"io"
)

// statPort counts module UART traffic into XBeeStat.
type statPort struct {
	port io.ReadWriter
	stat *XBeeStat
}

func (p statPort) Read(b []byte) (int, error) {
	n, err := p.port.Read(b)
	p.stat.BytesIn.Add(int64(n))
	return n, err
}

// writeFrame keeps writing until whole API frame is out, serial driver may accept part of it.
// Half written frame is garbage for module, caller must not retry with the rest.
func (p statPort) writeFrame(frame []byte) error {
	for len(frame) > 0 {
		n, err := p.port.Write(frame)
		p.stat.BytesOut.Add(int64(n))
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		frame = frame[n:]
	}
	return nil
}
