// Package metrics exposes link and sink counters in Prometheus format.
// Counters are CounterFuncs reading expvar values, no second copy is kept.
package metrics

import (
	"context"
	"expvar"
	"net"
	"net/http"
	"time"

	"github.com/agroiotec/soilrelay/link"
	"github.com/agroiotec/soilrelay/log2"
	"github.com/agroiotec/soilrelay/radio"
	"github.com/agroiotec/soilrelay/sink"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Namespace = "soilrelay"

func counter(subsystem, name, help string, v *expvar.Int) prometheus.CounterFunc {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(v.Value()) })
}

// Register adds counters for non-nil stats to reg.
func Register(reg prometheus.Registerer, ls *link.Stat, ss *sink.Stat) error {
	cs := make([]prometheus.Collector, 0, 16)
	if ls != nil {
		cs = append(cs,
			counter("link", "frames_sent_total", "Data frames transmitted, including retransmits.", &ls.Sent),
			counter("link", "retransmits_total", "Data frames transmitted again after ack timeout.", &ls.Retransmits),
			counter("link", "acked_total", "Readings confirmed by receiver ack.", &ls.Acked),
			counter("link", "abandoned_total", "Readings dropped after max attempts.", &ls.Abandoned),
			counter("link", "frames_received_total", "Data frames received.", &ls.Received),
			counter("link", "delivered_total", "Readings handed to sink after dedup.", &ls.Delivered),
			counter("link", "duplicates_total", "Data frames with sequence already seen.", &ls.Duplicates),
			counter("link", "corrupt_total", "Frames discarded by checksum or format.", &ls.Corrupt),
			counter("link", "acks_sent_total", "Ack frames transmitted.", &ls.AcksSent),
			counter("link", "inbox_rejects_total", "Readings not acked because inbox was full.", &ls.InboxRejects),
		)
	}
	if ss != nil {
		cs = append(cs,
			counter("sink", "stored_total", "Rows inserted.", &ss.Stored),
			counter("sink", "duplicates_total", "Inserts ignored by primary key.", &ss.Duplicates),
			counter("sink", "unavailable_total", "Readings not stored because database failed twice.", &ss.Unavailable),
			counter("sink", "reconnects_total", "Write retries after database error.", &ss.Reconnects),
		)
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return errors.Annotate(err, "metrics register")
		}
	}
	return nil
}

func RegisterXBee(reg prometheus.Registerer, xs *radio.XBeeStat) error {
	for _, c := range []prometheus.Collector{
		counter("xbee", "bytes_in_total", "Bytes read from radio module UART.", &xs.BytesIn),
		counter("xbee", "bytes_out_total", "Bytes written to radio module UART.", &xs.BytesOut),
		counter("xbee", "bad_frames_total", "API frames discarded by checksum or format.", &xs.BadFrames),
		counter("xbee", "rx_dropped_total", "Received packets dropped on full callback queue.", &xs.RxDropped),
	} {
		if err := reg.Register(c); err != nil {
			return errors.Annotate(err, "metrics register")
		}
	}
	return nil
}

type Server struct {
	log  *log2.Log
	srv  *http.Server
	addr net.Addr
}

// Listen binds synchronously so address errors surface at startup,
// then serves /metrics and /debug/vars in background.
func Listen(listen string, g prometheus.Gatherer, log *log2.Log) (*Server, error) {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, errors.Annotatef(err, "metrics listen=%s", listen)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{ErrorLog: log}))
	mux.Handle("/debug/vars", expvar.Handler())
	self := &Server{
		log:  log,
		addr: ln.Addr(),
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
	go func() {
		if err := self.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics serve err=%v", err)
		}
	}()
	log.Infof("metrics listen=%s", self.addr)
	return self, nil
}

func (self *Server) Addr() string { return self.addr.String() }

func (self *Server) Close() error {
	if self == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return self.srv.Shutdown(ctx)
}
