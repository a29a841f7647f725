package link

// Values are modified atomically, but not consistently,
// i.e. it is possible to read Sent=1 Acked=1 Retransmits=0 while retransmit is in flight.

import (
	"expvar"
	"fmt"
)

type Stat struct {
	Sent         expvar.Int
	Retransmits  expvar.Int
	Acked        expvar.Int
	Abandoned    expvar.Int
	Received     expvar.Int
	Delivered    expvar.Int
	Duplicates   expvar.Int
	Corrupt      expvar.Int
	AcksSent     expvar.Int
	InboxRejects expvar.Int
}

func (s *Stat) String() string {
	return fmt.Sprintf(`{"sent":%d,"retransmits":%d,"acked":%d,"abandoned":%d,"received":%d,"delivered":%d,"duplicates":%d,"corrupt":%d,"acks_sent":%d,"inbox_rejects":%d}`,
		s.Sent.Value(), s.Retransmits.Value(), s.Acked.Value(), s.Abandoned.Value(),
		s.Received.Value(), s.Delivered.Value(), s.Duplicates.Value(), s.Corrupt.Value(),
		s.AcksSent.Value(), s.InboxRejects.Value())
}

// Publish exposes stat at /debug/vars. Panics if name is taken, call once per process.
func (s *Stat) Publish(name string) {
	expvar.Publish(name, expvar.Func(func() interface{} {
		return map[string]int64{
			"sent":          s.Sent.Value(),
			"retransmits":   s.Retransmits.Value(),
			"acked":         s.Acked.Value(),
			"abandoned":     s.Abandoned.Value(),
			"received":      s.Received.Value(),
			"delivered":     s.Delivered.Value(),
			"duplicates":    s.Duplicates.Value(),
			"corrupt":       s.Corrupt.Value(),
			"acks_sent":     s.AcksSent.Value(),
			"inbox_rejects": s.InboxRejects.Value(),
		}
	}))
}
