package radio

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agroiotec/soilrelay/helpers"
	"github.com/agroiotec/soilrelay/log2"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"go.bug.st/serial"
)

const (
	DefaultXBeeBaud        = 9600
	DefaultTxStatusTimeout = 3 * time.Second
	// ZigBee unfragmented RF payload
	DefaultXBeeMaxPayload = 84

	xbeeReadTimeout = 200 * time.Millisecond
	xbeeRxQueue     = 32
)

var ErrTxStatusTimeout = errors.New("xbee tx status timeout")

type rxPacket struct {
	from Addr64
	b    []byte
}

type XBeeConfig struct {
	Path string
	Baud int
	// API mode 2, escaped control bytes
	Escaped         bool
	TxStatusTimeout time.Duration
	MaxPayload      int
}

// XBee drives Digi XBee module in API mode over UART.
// Reader goroutine parses API frames and completes waiting Send with TX status.
// RX packets go through bounded queue to separate callback goroutine,
// so callback may Send (e.g. ack) without blocking the reader. Queue overflow drops packet.
type XBee struct {
	config XBeeConfig
	log    *log2.Log
	port   io.ReadWriteCloser
	uart   statPort
	stat   XBeeStat
	err    helpers.AtomicError // first reader failure
	alive  *alive.Alive
	wmu    sync.Mutex // serializes writes
	onRecv atomic.Value
	rxq    chan rxPacket

	mu      sync.Mutex // protects frameID, pending
	frameID byte
	pending map[byte]chan txStatus
}

var _ Radio = (*XBee)(nil)

func OpenXBee(config XBeeConfig, log *log2.Log) (*XBee, error) {
	if config.Baud == 0 {
		config.Baud = DefaultXBeeBaud
	}
	mode := &serial.Mode{
		BaudRate: config.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(config.Path, mode)
	if err != nil {
		return nil, errors.Annotatef(err, "xbee open path=%s", config.Path)
	}
	if err = port.SetReadTimeout(xbeeReadTimeout); err != nil {
		port.Close()
		return nil, errors.Annotatef(err, "xbee path=%s", config.Path)
	}
	return NewXBee(port, config, log), nil
}

// NewXBee takes ownership of port and starts reader.
func NewXBee(port io.ReadWriteCloser, config XBeeConfig, log *log2.Log) *XBee {
	if config.TxStatusTimeout <= 0 {
		config.TxStatusTimeout = DefaultTxStatusTimeout
	}
	if config.MaxPayload <= 0 {
		config.MaxPayload = DefaultXBeeMaxPayload
	}
	x := &XBee{
		config:  config,
		log:     log,
		port:    port,
		alive:   alive.NewAlive(),
		pending: make(map[byte]chan txStatus),
		rxq:     make(chan rxPacket, xbeeRxQueue),
	}
	x.uart = statPort{port: port, stat: &x.stat}
	x.alive.Add(2)
	go x.reader()
	go x.callbacks()
	return x
}

func (x *XBee) OnReceive(f ReceiveFunc) { x.onRecv.Store(f) }

func (x *XBee) Stat() *XBeeStat { return &x.stat }

func (x *XBee) Send(ctx context.Context, dest Addr64, b []byte) error {
	if len(b) > x.config.MaxPayload {
		return errors.NotValidf("xbee payload len=%d max=%d", len(b), x.config.MaxPayload)
	}
	if !x.alive.Add(1) {
		return x.closedErr()
	}
	defer x.alive.Done()

	id, ch := x.register()
	defer x.unregister(id)

	frame := apiEncode(txRequest(id, dest, b), x.config.Escaped)
	if err := helpers.WithLockError(&x.wmu, func() error { return x.uart.writeFrame(frame) }); err != nil {
		return errors.Annotatef(err, "xbee write dest=%s", dest)
	}

	timer := time.NewTimer(x.config.TxStatusTimeout)
	defer timer.Stop()
	select {
	case st := <-ch:
		if st.delivery != 0 {
			return errors.Errorf("xbee delivery dest=%s status=%#02x retries=%d", dest, st.delivery, st.retries)
		}
		return nil
	case <-timer.C:
		return errors.Annotatef(ErrTxStatusTimeout, "dest=%s frame=%d", dest, id)
	case <-ctx.Done():
		return ctx.Err()
	case <-x.alive.StopChan():
		return x.closedErr()
	}
}

func (x *XBee) Close() error {
	x.alive.Stop()
	err := x.port.Close()
	x.alive.Wait()
	return err
}

func (x *XBee) closedErr() error {
	if err, ok := x.err.Load(); ok {
		return errors.Annotatef(ErrClosed, "xbee reader err=%v", err)
	}
	return ErrClosed
}

// frame id 0 disables TX status, skip it
func (x *XBee) register() (byte, chan txStatus) {
	ch := make(chan txStatus, 1)
	x.mu.Lock()
	defer x.mu.Unlock()
	for {
		x.frameID++
		if x.frameID == 0 {
			continue
		}
		if _, busy := x.pending[x.frameID]; !busy {
			break
		}
	}
	x.pending[x.frameID] = ch
	return x.frameID, ch
}

func (x *XBee) unregister(id byte) {
	x.mu.Lock()
	delete(x.pending, id)
	x.mu.Unlock()
}

func (x *XBee) reader() {
	defer x.alive.Done()
	dec := apiDecoder{escaped: x.config.Escaped}
	buf := make([]byte, 256)
	for x.alive.IsRunning() {
		n, err := x.uart.Read(buf)
		for _, b := range buf[:n] {
			data, ferr := dec.Feed(b)
			if ferr != nil {
				x.stat.BadFrames.Add(1)
				x.log.Debugf("xbee discard frame err=%v", ferr)
				continue
			}
			if data != nil {
				x.dispatch(data)
			}
		}
		if err != nil {
			if x.alive.IsRunning() {
				x.err.StoreOnce(err)
				x.log.Errorf("xbee read err=%v", err)
				x.alive.Stop()
			}
			return
		}
	}
}

func (x *XBee) dispatch(data []byte) {
	switch data[0] {
	case apiTxStatus:
		st, err := parseTxStatus(data)
		if err != nil {
			x.log.Debugf("xbee %v", err)
			return
		}
		x.mu.Lock()
		ch := x.pending[st.frameID]
		x.mu.Unlock()
		if ch != nil {
			select {
			case ch <- st:
			default:
			}
		}
	case apiRxPacket:
		src, payload, err := parseRxPacket(data)
		if err != nil {
			x.log.Debugf("xbee %v", err)
			return
		}
		select {
		case x.rxq <- rxPacket{from: src, b: payload}:
		default:
			x.stat.RxDropped.Add(1)
			x.log.Errorf("xbee rx queue full, drop from=%s len=%d", src, len(payload))
		}
	default:
		x.log.Debugf("xbee ignore api frame type=%#02x len=%d", data[0], len(data))
	}
}

func (x *XBee) callbacks() {
	defer x.alive.Done()
	stopch := x.alive.StopChan()
	for {
		select {
		case p := <-x.rxq:
			if f, ok := x.onRecv.Load().(ReceiveFunc); ok && f != nil {
				f(p.from, p.b)
			}
		case <-stopch:
			return
		}
	}
}
