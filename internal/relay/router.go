package relay

import (
	"context"
	"time"

	"github.com/agroiotec/soilrelay/helpers"
	"github.com/agroiotec/soilrelay/internal/state"
	"github.com/agroiotec/soilrelay/internal/types"
	"github.com/agroiotec/soilrelay/link"
	"github.com/agroiotec/soilrelay/log2"
	"github.com/agroiotec/soilrelay/radio"
	"github.com/agroiotec/soilrelay/sensor"
	"github.com/juju/errors"
)

// Source is sensor.Adapter.
type Source interface {
	Capture(ctx context.Context) (types.Reading, error)
}

// Router captures readings on fixed cadence and forwards them to coordinator.
// Capture and transmit are decoupled by durable outbox, slow link does not delay sampling.
type Router struct {
	g        *state.Global
	log      *log2.Log
	source   Source
	sender   *link.Sender
	outbox   *Outbox
	interval time.Duration
}

// NewRouter takes ownership of outbox. Radio receive callback is set to sender.
func NewRouter(g *state.Global, source Source, r radio.Radio, outbox *Outbox, stat *link.Stat) (*Router, error) {
	peer, err := g.Config.Peer()
	if err != nil {
		return nil, errors.Annotate(err, "router")
	}
	sender, err := link.NewSender(r, g.Config.SenderConfig(peer), stat, linkLog(g))
	if err != nil {
		return nil, errors.Annotate(err, "router")
	}
	r.OnReceive(sender.HandleFrame)
	return &Router{
		g:        g,
		log:      g.Log,
		source:   source,
		sender:   sender,
		outbox:   outbox,
		interval: g.Config.Interval(),
	}, nil
}

func (self *Router) Sender() *link.Sender { return self.sender }

// CaptureOnce reads one sample into outbox.
// Per-reading failures are logged and returned, caller continues with next cycle.
func (self *Router) CaptureOnce(ctx context.Context) error {
	r, err := self.source.Capture(ctx)
	if err != nil {
		switch errors.Cause(err) {
		case sensor.ErrNoData:
			self.log.Debugf("router capture no data")
		case sensor.ErrMalformedSample:
			self.log.Errorf("router capture skip err=%v", err)
		default:
			if ctx.Err() == nil {
				self.log.Errorf("router capture err=%v", err)
			}
		}
		return err
	}
	self.log.Debugf("router captured %s", r.String())
	if err = self.outbox.Push(r); err != nil {
		self.log.Errorf("router seq=%d err=%v", r.Seq, err)
		return err
	}
	return nil
}

// Run blocks until g.Alive is stopped. Outbox is closed on return.
func (self *Router) Run(ctx context.Context) error {
	if !self.g.Alive.Add(1) {
		return self.outbox.Close()
	}
	defer self.g.Alive.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopCh := self.g.Alive.StopChan()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		self.outbox.Run(ctx, self.sender.Send)
	}()

	self.log.Infof("router running interval=%v", self.interval)
	for {
		_ = self.CaptureOnce(ctx)
		if !helpers.Sleep(self.interval, ctx.Done()) {
			break
		}
	}
	cancel()
	// worker may be blocked in Peek on empty queue, only Close wakes it
	err := self.outbox.Close()
	<-workerDone
	self.log.Infof("router stopped pending=%d", self.sender.Pending())
	return err
}
