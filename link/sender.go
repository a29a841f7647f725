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

const (
	DefaultAckTimeout  = 5 * time.Second
	DefaultMaxAttempts = 3
)

type Outcome uint8

const (
	OutcomeNone Outcome = iota
	OutcomeAcked
	OutcomeAbandoned
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAcked:
		return "acked"
	case OutcomeAbandoned:
		return "abandoned"
	}
	return "none"
}

type deliveryStatus uint8

const (
	statusPending deliveryStatus = iota
	statusAcked
	statusAbandoned
)

// delivery is DeliveryRecord, lives from first transmission to ack or abandon.
type delivery struct {
	seq      uint32
	sentAt   time.Time
	attempts int
	status   deliveryStatus
	acked    chan struct{}
}

type SenderConfig struct {
	Peer        radio.Addr64
	AckTimeout  time.Duration
	MaxAttempts int
	MaxFrame    int
	Codec       Codec
}

type Sender struct {
	config SenderConfig
	radio  radio.Radio
	stat   *Stat
	log    *log2.Log

	mu      sync.Mutex // protects everything below
	lastSeq uint32
	hasLast bool
	pending map[uint32]*delivery
}

// NewSender does not subscribe to radio, route received frames to HandleFrame.
func NewSender(r radio.Radio, config SenderConfig, stat *Stat, log *log2.Log) (*Sender, error) {
	if r == nil {
		return nil, errors.NotValidf("code error sender radio=nil")
	}
	if config.AckTimeout <= 0 {
		config.AckTimeout = DefaultAckTimeout
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.MaxFrame <= 0 {
		config.MaxFrame = DefaultMaxFrame
	}
	if config.Codec == nil {
		config.Codec = ProtoCodec{}
	}
	if stat == nil {
		stat = new(Stat)
	}
	return &Sender{
		config:  config,
		radio:   r,
		stat:    stat,
		log:     log,
		pending: make(map[uint32]*delivery),
	}, nil
}

func (s *Sender) Stat() *Stat { return s.stat }

// Send blocks until reading is acked by peer or MaxAttempts transmissions got no ack.
// Abandoned is an outcome, not an error. Errors: ErrSeqNotIncreasing, encoding, ctx.
func (s *Sender) Send(ctx context.Context, r types.Reading) (Outcome, error) {
	payload, err := s.config.Codec.Encode(r)
	if err != nil {
		return OutcomeNone, errors.Annotatef(err, "seq=%d", r.Seq)
	}
	b, err := FrameMarshal(&Frame{Kind: KindData, Seq: r.Seq, Payload: payload}, s.config.MaxFrame)
	if err != nil {
		return OutcomeNone, errors.Annotatef(err, "seq=%d", r.Seq)
	}

	d, err := s.register(r.Seq)
	if err != nil {
		return OutcomeNone, err
	}
	defer s.forget(d)

	timer := time.NewTimer(s.config.AckTimeout)
	defer timer.Stop()
	for attempt := 1; attempt <= s.config.MaxAttempts; attempt++ {
		if s.isAcked(d) {
			s.stat.Acked.Add(1)
			return OutcomeAcked, nil
		}
		s.mu.Lock()
		d.attempts = attempt
		d.sentAt = time.Now()
		s.mu.Unlock()
		s.stat.Sent.Add(1)
		if attempt > 1 {
			s.stat.Retransmits.Add(1)
		}

		if err := s.radio.Send(ctx, s.config.Peer, b); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return OutcomeNone, ctxErr
			}
			// counts as attempt, ack window still paces next retransmit
			s.log.Errorf("link send seq=%d attempt=%d err=%v", r.Seq, attempt, err)
		} else {
			s.log.Debugf("link sent seq=%d attempt=%d len=%d", r.Seq, attempt, len(b))
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.config.AckTimeout)
		select {
		case <-d.acked:
			s.stat.Acked.Add(1)
			s.log.Debugf("link acked seq=%d attempt=%d", r.Seq, attempt)
			return OutcomeAcked, nil
		case <-timer.C:
			s.log.Debugf("link ack timeout seq=%d attempt=%d", r.Seq, attempt)
		case <-ctx.Done():
			return OutcomeNone, ctx.Err()
		}
	}

	s.mu.Lock()
	if d.status == statusAcked {
		// ack raced with last timeout
		s.mu.Unlock()
		s.stat.Acked.Add(1)
		return OutcomeAcked, nil
	}
	d.status = statusAbandoned
	s.mu.Unlock()
	s.stat.Abandoned.Add(1)
	s.log.Errorf("link seq=%d attempts=%d %v", r.Seq, s.config.MaxAttempts, ErrDeliveryAbandoned)
	return OutcomeAbandoned, nil
}

// HandleFrame is radio receive callback for sender side.
// Anything but valid ack from peer is ignored.
func (s *Sender) HandleFrame(from radio.Addr64, raw []byte) {
	f, err := FrameUnmarshal(raw)
	if err != nil {
		s.stat.Corrupt.Add(1)
		s.log.Debugf("link drop from=%s err=%v", from, err)
		return
	}
	if f.Kind != KindAck {
		s.log.Debugf("link ignore from=%s kind=%s seq=%d", from, f.Kind, f.Seq)
		return
	}
	if from != s.config.Peer {
		s.log.Debugf("link ignore ack from=%s peer=%s seq=%d", from, s.config.Peer, f.Seq)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.pending[f.Seq]
	if d == nil || d.status != statusPending {
		s.log.Debugf("link late ack seq=%d", f.Seq)
		return
	}
	d.status = statusAcked
	close(d.acked)
}

// Pending returns number of deliveries awaiting ack.
func (s *Sender) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Sender) register(seq uint32) (*delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasLast && seq <= s.lastSeq {
		return nil, errors.Annotatef(ErrSeqNotIncreasing, "seq=%d last=%d", seq, s.lastSeq)
	}
	s.lastSeq, s.hasLast = seq, true
	d := &delivery{seq: seq, status: statusPending, acked: make(chan struct{})}
	s.pending[seq] = d
	return d, nil
}

func (s *Sender) isAcked(d *delivery) bool {
	select {
	case <-d.acked:
		return true
	default:
		return false
	}
}

func (s *Sender) forget(d *delivery) {
	s.mu.Lock()
	delete(s.pending, d.seq)
	s.mu.Unlock()
}
