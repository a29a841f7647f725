package link

import (
	"context"
	"sync"
	"time"

	"github.com/agroiotec/soilrelay/internal/types"
	"github.com/agroiotec/soilrelay/log2"
	"github.com/agroiotec/soilrelay/radio"
	"github.com/juju/errors"
)

const DefaultAckSendTimeout = 3 * time.Second

// DeliverFunc hands reading downstream without blocking.
// Return false when downstream can not accept it now, frame will not be acked.
type DeliverFunc func(from radio.Addr64, r types.Reading) bool

type ReceiverConfig struct {
	MaxFrame       int
	Codec          Codec
	AckSendTimeout time.Duration
}

type Receiver struct {
	config  ReceiverConfig
	radio   radio.Radio
	deliver DeliverFunc
	stat    *Stat
	log     *log2.Log

	mu      sync.Mutex // protects windows and serializes deliver
	windows map[radio.Addr64]*window
}

func NewReceiver(r radio.Radio, config ReceiverConfig, deliver DeliverFunc, stat *Stat, log *log2.Log) (*Receiver, error) {
	if r == nil {
		return nil, errors.NotValidf("code error receiver radio=nil")
	}
	if deliver == nil {
		return nil, errors.NotValidf("code error receiver deliver=nil")
	}
	if config.MaxFrame <= 0 {
		config.MaxFrame = DefaultMaxFrame
	}
	if config.Codec == nil {
		config.Codec = ProtoCodec{}
	}
	if config.AckSendTimeout <= 0 {
		config.AckSendTimeout = DefaultAckSendTimeout
	}
	if stat == nil {
		stat = new(Stat)
	}
	return &Receiver{
		config:  config,
		radio:   r,
		deliver: deliver,
		stat:    stat,
		log:     log,
		windows: make(map[radio.Addr64]*window),
	}, nil
}

func (r *Receiver) Stat() *Stat { return r.stat }

// OnMessage is radio receive callback for receiver side.
// Returns reading and true only when it was novel and accepted downstream.
func (r *Receiver) OnMessage(from radio.Addr64, raw []byte) (types.Reading, bool) {
	r.stat.Received.Add(1)
	if len(raw) > r.config.MaxFrame {
		r.stat.Corrupt.Add(1)
		r.log.Debugf("link drop from=%s len=%d max=%d", from, len(raw), r.config.MaxFrame)
		return types.Reading{}, false
	}
	f, err := FrameUnmarshal(raw)
	if err != nil {
		r.stat.Corrupt.Add(1)
		r.log.Debugf("link drop from=%s err=%v", from, err)
		return types.Reading{}, false
	}
	if f.Kind != KindData {
		r.log.Debugf("link ignore from=%s kind=%s seq=%d", from, f.Kind, f.Seq)
		return types.Reading{}, false
	}

	r.mu.Lock()
	w := r.windows[from]
	if w == nil {
		w = &window{}
		r.windows[from] = w
	}
	if w.Seen(f.Seq) {
		r.mu.Unlock()
		r.stat.Duplicates.Add(1)
		r.log.Debugf("link duplicate from=%s seq=%d", from, f.Seq)
		r.ack(from, f.Seq)
		return types.Reading{}, false
	}

	reading, err := r.config.Codec.Decode(f.Seq, f.Payload)
	if err != nil {
		// checksum passed, sender speaks other codec
		r.mu.Unlock()
		r.stat.Corrupt.Add(1)
		r.log.Errorf("link from=%s seq=%d codec=%s err=%v", from, f.Seq, r.config.Codec.Name(), err)
		return types.Reading{}, false
	}
	if !r.deliver(from, reading) {
		r.mu.Unlock()
		r.stat.InboxRejects.Add(1)
		r.log.Errorf("link inbox full, not acked from=%s seq=%d", from, f.Seq)
		return types.Reading{}, false
	}
	w.Mark(f.Seq)
	r.mu.Unlock()
	r.stat.Delivered.Add(1)
	r.ack(from, f.Seq)
	return reading, true
}

func (r *Receiver) ack(to radio.Addr64, seq uint32) {
	b, err := FrameMarshal(NewAck(seq), r.config.MaxFrame)
	if err != nil {
		r.log.Errorf("code error ack marshal seq=%d err=%v", seq, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.config.AckSendTimeout)
	defer cancel()
	if err := r.radio.Send(ctx, to, b); err != nil {
		r.log.Errorf("link ack to=%s seq=%d err=%v", to, seq, err)
		return
	}
	r.stat.AcksSent.Add(1)
}
