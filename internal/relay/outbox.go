package relay

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/agroiotec/soilrelay/helpers"
	"github.com/agroiotec/soilrelay/internal/types"
	"github.com/agroiotec/soilrelay/link"
	"github.com/agroiotec/soilrelay/log2"
	"github.com/juju/errors"
	"github.com/temoto/spq"
)

const (
	outboxTagReading byte = 1
	outboxErrorDelay      = time.Second
)

var ErrOutboxItem = errors.New("outbox item invalid")

// SendFunc delivers one reading, link.Sender.Send in production.
type SendFunc func(context.Context, types.Reading) (link.Outcome, error)

// Outbox is durable FIFO between capture and link.
// Item is removed only after link reported final outcome, so reading captured
// but not acked is sent again after restart.
type Outbox struct {
	q      *spq.Queue
	log    *log2.Log
	codec  link.ProtoCodec
	stopCh chan struct{}
	once   sync.Once
}

// OpenOutbox with empty path keeps items in memory.
func OpenOutbox(path string, log *log2.Log) (*Outbox, error) {
	if path == "" {
		log.Errorf("outbox path=empty, unsent readings will not survive restart")
		path = spq.OnlyForTesting
	}
	q, err := spq.Open(path)
	if err != nil {
		if spq.IsCorrupted(err) {
			return nil, errors.Annotatef(err, "outbox path=%s corrupted, move it away to start with empty queue", path)
		}
		return nil, errors.Annotatef(err, "outbox path=%s", path)
	}
	return &Outbox{
		q:      q,
		log:    log,
		stopCh: make(chan struct{}),
	}, nil
}

func (self *Outbox) Push(r types.Reading) error {
	b, err := self.encode(r)
	if err != nil {
		return errors.Annotatef(err, "outbox seq=%d", r.Seq)
	}
	return errors.Annotatef(self.q.Push(b), "outbox seq=%d", r.Seq)
}

// Close unblocks Run. Item in flight stays queued.
func (self *Outbox) Close() error {
	var err error
	self.once.Do(func() {
		close(self.stopCh)
		err = self.q.Close()
	})
	return err
}

// Run is the only consumer. Returns after Close, or after ctx cancel once
// current item is handled. Empty queue blocks until Close.
func (self *Outbox) Run(ctx context.Context, send SendFunc) {
	for {
		box, err := self.q.Peek()
		switch err {
		case nil:
			// success path
			b := box.Bytes()
			if err = self.handle(ctx, b, send); err != nil {
				self.log.Errorf("outbox handle err=%v", err)
			}
			if ctx.Err() != nil {
				// in flight item stays at head
				return
			}
			if err = self.q.Delete(box); err != nil && err != spq.ErrClosed {
				self.log.Errorf("outbox Delete b=%x err=%v", b, err)
			}

		case spq.ErrClosed:
			select {
			case <-self.stopCh: // success path
			default:
				self.log.Errorf("CRITICAL outbox spq closed unexpectedly")
			}
			return

		default:
			self.log.Errorf("CRITICAL outbox spq err=%v", err)
			// disk full and alike, do not spin
			if !helpers.Sleep(outboxErrorDelay, ctx.Done()) {
				return
			}
		}
	}
}

// handle returns after final outcome, item is deleted unless ctx is canceled.
func (self *Outbox) handle(ctx context.Context, b []byte, send SendFunc) error {
	r, err := self.decode(b)
	if err != nil {
		return errors.Annotatef(err, "b=%x dropped", b)
	}
	outcome, err := send(ctx, r)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		// link rejected item before transmit, retry would fail the same way
		return errors.Annotatef(err, "seq=%d dropped", r.Seq)
	}
	self.log.Debugf("outbox seq=%d outcome=%s", r.Seq, outcome)
	return nil
}

// item: tag seq:uint32be proto-payload
func (self *Outbox) encode(r types.Reading) ([]byte, error) {
	payload, err := self.codec.Encode(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, 5, 5+len(payload))
	b[0] = outboxTagReading
	binary.BigEndian.PutUint32(b[1:], r.Seq)
	return append(b, payload...), nil
}

func (self *Outbox) decode(b []byte) (types.Reading, error) {
	if len(b) < 5 {
		return types.Reading{}, errors.Annotatef(ErrOutboxItem, "len=%d", len(b))
	}
	if b[0] != outboxTagReading {
		return types.Reading{}, errors.Annotatef(ErrOutboxItem, "tag=%d", b[0])
	}
	seq := binary.BigEndian.Uint32(b[1:5])
	r, err := self.codec.Decode(seq, b[5:])
	if err != nil {
		return types.Reading{}, errors.Annotatef(ErrOutboxItem, "seq=%d err=%v", seq, err)
	}
	return r, nil
}
