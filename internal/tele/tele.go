// Package tele mirrors stored readings to MQTT broker.
package tele

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/agroiotec/soilrelay/internal/types"
	"github.com/agroiotec/soilrelay/log2"
	"github.com/juju/errors"
)

const (
	DefaultNetworkTimeout = 30 * time.Second
	DefaultTopicPrefix    = "soilrelay"
)

type Config struct {
	Enabled        bool
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	KeepaliveSec   int
	NetworkTimeout time.Duration
	// paho outgoing message store, memory when empty
	StorePath string
	LogDebug  bool
}

func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Broker == "" {
		return errors.NotValidf("tele enabled but broker=empty")
	}
	if c.ClientID == "" {
		return errors.NotValidf("tele enabled but client_id=empty")
	}
	return nil
}

// Tele contract:
// - New fails only with invalid config, broker may be down
// - Reading blocks at most NetworkTimeout
// - failures are returned for logging, caller never depends on them
type Tele struct {
	config    Config
	log       *log2.Log
	transport Transporter
}

type readingMessage struct {
	Node     string `json:"node"`
	Seq      uint32 `json:"seq"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	Moisture int32  `json:"moisture"`
}

func New(log *log2.Log, config Config) (*Tele, error) {
	return NewWithTransporter(log, config, nil)
}

// NewWithTransporter is used by tests, nil means MQTT.
func NewWithTransporter(log *log2.Log, config Config, trans Transporter) (*Tele, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.TopicPrefix == "" {
		config.TopicPrefix = DefaultTopicPrefix
	}
	if config.NetworkTimeout <= 0 {
		config.NetworkTimeout = DefaultNetworkTimeout
	}
	self := &Tele{config: config, log: log, transport: trans}
	if !config.Enabled {
		return self, nil
	}
	if self.transport == nil { // production path
		self.transport = &transportMqtt{}
	}
	if config.LogDebug {
		self.log = log.Clone(log2.LDebug)
	}
	if err := self.transport.Init(self.log, config); err != nil {
		return nil, errors.Annotate(err, "tele transport")
	}
	return self, nil
}

func (self *Tele) Enabled() bool { return self != nil && self.config.Enabled }

func TopicReading(prefix, node string) string { return fmt.Sprintf("%s/%s/reading", prefix, node) }

// Reading publishes one stored reading. Noop when disabled.
func (self *Tele) Reading(node string, r types.Reading) error {
	if !self.Enabled() {
		return nil
	}
	payload, err := json.Marshal(readingMessage{
		Node:     node,
		Seq:      r.Seq,
		Date:     r.Date(),
		Time:     r.Time(),
		Moisture: r.Moisture,
	})
	if err != nil {
		return errors.Annotatef(err, "tele seq=%d", r.Seq)
	}
	topic := TopicReading(self.config.TopicPrefix, node)
	self.log.Debugf("tele publish topic=%s payload=%s", topic, payload)
	return errors.Annotatef(self.transport.Publish(topic, payload, self.config.NetworkTimeout), "tele seq=%d", r.Seq)
}

func (self *Tele) Close() {
	if self.Enabled() {
		self.transport.Close()
	}
}
