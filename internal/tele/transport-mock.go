package tele

import (
	"testing"
	"time"

	"github.com/agroiotec/soilrelay/log2"
)

type Message struct {
	Topic   string
	Payload []byte
}

// TransportMock is in-memory Transporter for tests of tele users.
type TransportMock struct {
	t      testing.TB
	Out    chan Message
	Fail   error
	closed bool
}

func NewTransportMock(t testing.TB, buffer int) *TransportMock {
	return &TransportMock{t: t, Out: make(chan Message, buffer)}
}

func (self *TransportMock) Init(log *log2.Log, config Config) error { return nil }

func (self *TransportMock) Publish(topic string, payload []byte, timeout time.Duration) error {
	if self.Fail != nil {
		return self.Fail
	}
	select {
	case self.Out <- Message{Topic: topic, Payload: payload}:
		self.t.Logf("mock delivered topic=%s payload=%s", topic, payload)
		return nil
	case <-time.After(timeout):
		self.t.Logf("mock network timeout")
		return ErrPublishTimeout
	}
}

func (self *TransportMock) Close() { self.closed = true }

func (self *TransportMock) Closed() bool { return self.closed }
