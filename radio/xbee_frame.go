package radio

import (
	"encoding/binary"
	"fmt"
)

// Digi XBee API frame constants.
const (
	apiStart  byte = 0x7e
	apiEscape byte = 0x7d
	apiXON    byte = 0x11
	apiXOFF   byte = 0x13
	apiXor    byte = 0x20

	apiTxRequest byte = 0x10
	apiTxStatus  byte = 0x8b
	apiRxPacket  byte = 0x90

	addr16Unknown uint16 = 0xfffe

	// start + len(2) + checksum
	apiOverhead = 4
	// largest RX packet (0x90 header + max NP payload) is under 300 bytes
	apiMaxData = 512
)

var ErrAPIChecksum = fmt.Errorf("xbee api frame checksum mismatch")

func apiChecksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return 0xff - sum
}

func apiNeedEscape(b byte) bool {
	return b == apiStart || b == apiEscape || b == apiXON || b == apiXOFF
}

// apiEncode wraps frame data: 0x7E, length BE, data, checksum. AP=2 escapes everything after start.
func apiEncode(data []byte, escaped bool) []byte {
	raw := make([]byte, 0, len(data)+apiOverhead)
	raw = append(raw, byte(len(data)>>8), byte(len(data)))
	raw = append(raw, data...)
	raw = append(raw, apiChecksum(data))
	out := make([]byte, 0, len(raw)+1+len(raw)/8)
	out = append(out, apiStart)
	for _, b := range raw {
		if escaped && apiNeedEscape(b) {
			out = append(out, apiEscape, b^apiXor)
		} else {
			out = append(out, b)
		}
	}
	return out
}

func txRequest(frameID byte, dest Addr64, payload []byte) []byte {
	data := make([]byte, 14, 14+len(payload))
	data[0] = apiTxRequest
	data[1] = frameID
	binary.BigEndian.PutUint64(data[2:10], uint64(dest))
	binary.BigEndian.PutUint16(data[10:12], addr16Unknown)
	data[12] = 0 // broadcast radius, max hops
	data[13] = 0 // options
	return append(data, payload...)
}

type txStatus struct {
	frameID  byte
	retries  byte
	delivery byte
}

func parseTxStatus(data []byte) (txStatus, error) {
	// type, id, addr16(2), retries, delivery, discovery
	if len(data) < 7 {
		return txStatus{}, fmt.Errorf("xbee tx status len=%d", len(data))
	}
	return txStatus{frameID: data[1], retries: data[4], delivery: data[5]}, nil
}

func parseRxPacket(data []byte) (Addr64, []byte, error) {
	// type, src64(8), src16(2), options, payload
	if len(data) < 12 {
		return 0, nil, fmt.Errorf("xbee rx packet len=%d", len(data))
	}
	src := Addr64(binary.BigEndian.Uint64(data[1:9]))
	payload := make([]byte, len(data)-12)
	copy(payload, data[12:])
	return src, payload, nil
}

type apiState uint8

const (
	apiWaitStart apiState = iota
	apiLenHi
	apiLenLo
	apiData
	apiSum
)

// apiDecoder is byte level state machine, feed it everything read from UART.
type apiDecoder struct {
	escaped bool
	state   apiState
	escNext bool
	length  int
	buf     []byte
}

// Feed returns complete frame data (without start, length and checksum) when one ends at b.
// Returned slice is valid until next Feed.
func (d *apiDecoder) Feed(b byte) ([]byte, error) {
	if d.escaped {
		if b == apiStart {
			// unescaped start always begins new frame in AP=2
			d.reset()
			d.state = apiLenHi
			return nil, nil
		}
		if b == apiEscape {
			d.escNext = true
			return nil, nil
		}
		if d.escNext {
			b ^= apiXor
			d.escNext = false
		}
	}

	switch d.state {
	case apiWaitStart:
		if b == apiStart {
			d.reset()
			d.state = apiLenHi
		}
	case apiLenHi:
		if b == apiStart {
			// previous start was noise, valid length high byte is never 0x7e
			return nil, nil
		}
		if int(b)<<8 > apiMaxData {
			d.state = apiWaitStart
			return nil, fmt.Errorf("xbee api frame length hi=%02x over max=%d", b, apiMaxData)
		}
		d.length = int(b) << 8
		d.state = apiLenLo
	case apiLenLo:
		d.length |= int(b)
		if d.length == 0 || d.length > apiMaxData {
			d.state = apiWaitStart
			return nil, fmt.Errorf("xbee api frame length=%d max=%d", d.length, apiMaxData)
		}
		d.state = apiData
	case apiData:
		d.buf = append(d.buf, b)
		if len(d.buf) == d.length {
			d.state = apiSum
		}
	case apiSum:
		d.state = apiWaitStart
		if apiChecksum(d.buf) != b {
			return nil, ErrAPIChecksum
		}
		return d.buf, nil
	}
	return nil, nil
}

func (d *apiDecoder) reset() {
	d.buf = d.buf[:0]
	d.length = 0
	d.escNext = false
}
