package sensor

import (
	"math"
	"strconv"

	"github.com/juju/errors"
)

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\r' || b == '\n' }

func trimSpace(b []byte) []byte {
	for len(b) > 0 && isSpace(b[0]) {
		b = b[1:]
	}
	for len(b) > 0 && isSpace(b[len(b)-1]) {
		b = b[:len(b)-1]
	}
	return b
}

// ParseMoisture converts probe ASCII into integer moisture.
// Surrounding whitespace is framing. Otherwise only digits, leading '-' and one '.' are accepted,
// any other byte makes whole sample malformed. Fraction is truncated toward zero.
func ParseMoisture(raw []byte) (int32, error) {
	b := trimSpace(raw)
	if len(b) == 0 {
		return 0, errors.Annotate(ErrMalformedSample, "empty")
	}
	neg := false
	if b[0] == '-' {
		neg = true
		b = b[1:]
	}
	var v int64
	digits := 0
	point := false
	for i, c := range b {
		switch {
		case c >= '0' && c <= '9':
			digits++
			if point {
				continue
			}
			v = v*10 + int64(c-'0')
			if v > math.MaxInt32+1 {
				return 0, errors.Annotatef(ErrMalformedSample, "out of range %q", raw)
			}
		case c == '.' && !point:
			point = true
		default:
			return 0, errors.Annotatef(ErrMalformedSample, "byte=%#02x at=%d in %q", c, i, raw)
		}
	}
	if digits == 0 {
		return 0, errors.Annotatef(ErrMalformedSample, "no digits in %q", raw)
	}
	if neg {
		v = -v
	}
	if v > math.MaxInt32 || v < math.MinInt32 {
		return 0, errors.Annotatef(ErrMalformedSample, "out of range %q", raw)
	}
	return int32(v), nil
}

// FormatMoisture is inverse of ParseMoisture, as the probe would print it.
func FormatMoisture(v int32) []byte {
	return strconv.AppendInt(make([]byte, 0, 12), int64(v), 10)
}
