// Package sensor reads soil moisture samples from serial attached probe.
package sensor

import (
	"bytes"
	"context"
	"time"

	"github.com/agroiotec/soilrelay/internal/types"
	"github.com/agroiotec/soilrelay/log2"
	"github.com/juju/errors"
)

const (
	DefaultBaud        = 9600
	DefaultReadTimeout = 2 * time.Second
	DefaultSettle      = 50 * time.Millisecond
	BufferSize         = 256
)

type Config struct {
	Path        string
	Baud        int
	ReadTimeout time.Duration
	// Settle is how long capture keeps waiting for next byte of same sample.
	Settle time.Duration
}

type Adapter struct {
	config Config
	uart   Uarter
	seq    *Sequencer
	log    *log2.Log
	// Clock stamps readings, time.Now unless replaced in tests.
	Clock func() time.Time
}

// Open acquires the UART for lifetime of node. Caller must Close on every exit path.
func Open(config Config, uart Uarter, seq *Sequencer, log *log2.Log) (*Adapter, error) {
	if config.Baud == 0 {
		config.Baud = DefaultBaud
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = DefaultReadTimeout
	}
	if config.Settle <= 0 {
		config.Settle = DefaultSettle
	}
	if uart == nil {
		uart = NewFileUart()
	}
	if seq == nil {
		panic("code error sensor.Open seq=nil")
	}
	if err := uart.Open(config.Path, config.Baud); err != nil {
		return nil, errors.Annotatef(ErrTransportUnavailable, "open path=%s baud=%d err=%v", config.Path, config.Baud, err)
	}
	log.Debugf("sensor open path=%s baud=%d", config.Path, config.Baud)
	return &Adapter{
		config: config,
		uart:   uart,
		seq:    seq,
		log:    log,
		Clock:  time.Now,
	}, nil
}

func (self *Adapter) Close() error { return self.uart.Close() }

// Capture reads one sample: discard stale input, wait for first byte within ReadTimeout,
// collect until line end, Settle silence or full buffer.
func (self *Adapter) Capture(ctx context.Context) (types.Reading, error) {
	if err := ctx.Err(); err != nil {
		return types.Reading{}, err
	}
	if err := self.uart.Flush(); err != nil {
		return types.Reading{}, errors.Annotatef(ErrTransportUnavailable, "flush err=%v", err)
	}

	buf := make([]byte, BufferSize)
	n, err := self.uart.ReadWait(buf, self.config.ReadTimeout)
	if err != nil {
		if isTimeout(err) {
			return types.Reading{}, errors.Trace(ErrNoData)
		}
		return types.Reading{}, errors.Annotatef(ErrTransportUnavailable, "read err=%v", err)
	}
	for n < len(buf) && lineEnd(buf[:n]) < 0 {
		if err := ctx.Err(); err != nil {
			return types.Reading{}, err
		}
		m, err := self.uart.ReadWait(buf[n:], self.config.Settle)
		if err != nil {
			if isTimeout(err) {
				break
			}
			return types.Reading{}, errors.Annotatef(ErrTransportUnavailable, "read err=%v", err)
		}
		n += m
	}
	at := self.Clock()
	raw := buf[:n]
	if self.log.Enabled(log2.LDebug) {
		self.log.Debugf("sensor raw=%q", raw)
	}
	if i := lineEnd(raw); i >= 0 {
		// bytes after line end belong to next sample, flushed on next capture
		raw = raw[:i]
	}

	moisture, err := ParseMoisture(raw)
	if err != nil {
		return types.Reading{}, err
	}
	seq, err := self.seq.Next()
	if err != nil {
		return types.Reading{}, errors.Trace(err)
	}
	return types.Reading{CapturedAt: at, Moisture: moisture, Seq: seq}, nil
}

// lineEnd returns index of line terminator after sample content, or -1.
func lineEnd(b []byte) int {
	start := 0
	for start < len(b) && isSpace(b[start]) {
		start++
	}
	if start == len(b) {
		return -1
	}
	if i := bytes.IndexAny(b[start:], "\r\n"); i >= 0 {
		return start + i
	}
	return -1
}
