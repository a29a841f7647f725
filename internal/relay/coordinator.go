package relay

import (
	"context"
	"sync"
	"time"

	"github.com/agroiotec/soilrelay/internal/state"
	"github.com/agroiotec/soilrelay/internal/types"
	"github.com/agroiotec/soilrelay/link"
	"github.com/agroiotec/soilrelay/log2"
	"github.com/agroiotec/soilrelay/radio"
	"github.com/agroiotec/soilrelay/sink"
	"github.com/juju/errors"
)

// Persister is sink.Writer.
type Persister interface {
	Persist(ctx context.Context, r types.Reading, node string) (sink.Outcome, error)
}

type inboxItem struct {
	from radio.Addr64
	r    types.Reading
}

// Coordinator receives readings from routers and stores them.
// Radio reader hands novel readings to bounded inbox, main loop persists them.
// Reading is acked when it is in inbox, so inbox is drained before Run returns.
type Coordinator struct {
	g        *state.Global
	log      *log2.Log
	receiver *link.Receiver
	sink     Persister
	inbox    chan inboxItem

	drainTimeout time.Duration

	mu       sync.RWMutex
	stopping bool
}

// NewCoordinator sets radio receive callback.
func NewCoordinator(g *state.Global, r radio.Radio, w Persister, stat *link.Stat) (*Coordinator, error) {
	if w == nil {
		return nil, errors.NotValidf("code error coordinator sink=nil")
	}
	self := &Coordinator{
		g:     g,
		log:   g.Log,
		sink:  w,
		inbox: make(chan inboxItem, g.Config.InboxSize()),

		drainTimeout: g.Config.DrainTimeout(),
	}
	receiver, err := link.NewReceiver(r, g.Config.ReceiverConfig(), self.deliver, stat, linkLog(g))
	if err != nil {
		return nil, errors.Annotate(err, "coordinator")
	}
	self.receiver = receiver
	r.OnReceive(func(from radio.Addr64, b []byte) { receiver.OnMessage(from, b) })
	return self, nil
}

func (self *Coordinator) Receiver() *link.Receiver { return self.receiver }

func (self *Coordinator) deliver(from radio.Addr64, r types.Reading) bool {
	self.mu.RLock()
	defer self.mu.RUnlock()
	if self.stopping {
		return false
	}
	select {
	case self.inbox <- inboxItem{from: from, r: r}:
		return true
	default:
		return false
	}
}

// Run blocks until g.Alive is stopped, then stores everything accepted so far.
func (self *Coordinator) Run(ctx context.Context) error {
	if self.g.Alive.Add(1) {
		defer self.g.Alive.Done()
		self.loop(ctx)
	}

	self.mu.Lock()
	self.stopping = true
	self.mu.Unlock()
	self.drain()
	return nil
}

// drain stores readings acked but not yet persisted. Caller ctx is likely canceled
// by now, so whole drain gets own deadline.
func (self *Coordinator) drain() {
	n := len(self.inbox)
	if n == 0 {
		self.log.Infof("coordinator stopped")
		return
	}
	self.log.Infof("coordinator drain inbox=%d timeout=%v", n, self.drainTimeout)
	ctx, cancel := context.WithTimeout(context.Background(), self.drainTimeout)
	defer cancel()
	for {
		select {
		case item := <-self.inbox:
			if ctx.Err() != nil {
				lost := 1 + len(self.inbox)
				self.log.Errorf("coordinator drain timeout, lost readings=%d first seq=%d node=%s", lost, item.r.Seq, item.from.String())
				return
			}
			self.store(ctx, item)
		default:
			self.log.Infof("coordinator stopped")
			return
		}
	}
}

func (self *Coordinator) loop(ctx context.Context) {
	stopCh := self.g.Alive.StopChan()
	self.log.Infof("coordinator running inbox=%d", cap(self.inbox))
	for {
		select {
		case item := <-self.inbox:
			self.store(ctx, item)
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		}
	}
}

// store failures are per reading: logged, next reading proceeds.
func (self *Coordinator) store(ctx context.Context, item inboxItem) {
	node := item.from.String()
	out, err := self.sink.Persist(ctx, item.r, node)
	if err != nil {
		if errors.Cause(err) == sink.ErrSinkUnavailable {
			self.log.Errorf("coordinator seq=%d node=%s skipped err=%v", item.r.Seq, node, err)
		} else {
			self.log.Errorf("coordinator seq=%d node=%s err=%v", item.r.Seq, node, err)
		}
		return
	}
	self.log.Debugf("coordinator seq=%d node=%s outcome=%s", item.r.Seq, node, out)
	if out != sink.OutcomeStored {
		return
	}
	if err = self.g.Tele.Reading(node, item.r); err != nil {
		self.log.Errorf("coordinator tele seq=%d node=%s err=%v", item.r.Seq, node, err)
	}
}

func linkLog(g *state.Global) *log2.Log {
	l := g.Log.Tag("link")
	if g.Config.Link.LogDebug {
		l.SetLevel(log2.LDebug)
	}
	return l
}
