package tele

import (
	"time"

	"github.com/agroiotec/soilrelay/log2"
)

// Tele transport contract:
// - Init fails only with invalid config, ignores network errors
// - application may start without broker available
// - Publish delivers with QoS 1 within timeout or fails
type Transporter interface {
	Init(log *log2.Log, config Config) error
	Publish(topic string, payload []byte, timeout time.Duration) error
	Close()
}
