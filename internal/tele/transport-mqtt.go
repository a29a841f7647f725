package tele

import (
	"time"

	"github.com/agroiotec/soilrelay/helpers"
	"github.com/agroiotec/soilrelay/log2"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
)

var ErrPublishTimeout = errors.New("mqtt publish timeout")

type transportMqtt struct {
	log  *log2.Log
	m    mqtt.Client
	mopt *mqtt.ClientOptions
}

func (self *transportMqtt) Init(log *log2.Log, config Config) error {
	self.log = log
	mqttLog := log.Clone(log2.LInfo)
	mqttLog.SetPrefix("mqtt: ")
	mqtt.ERROR = mqttLog
	mqtt.CRITICAL = mqttLog
	mqtt.WARN = mqttLog
	if config.LogDebug {
		mqtt.DEBUG = mqttLog
	}

	self.mopt = mqttOptions(config).
		SetOnConnectHandler(self.onConnectHandler).
		SetConnectionLostHandler(self.connectLostHandler)
	self.m = mqtt.NewClient(self.mopt)
	// with ConnectRetry token completes on first success, do not wait
	if token := self.m.Connect(); token.Error() != nil {
		self.log.Errorf("mqtt connect err=%v", token.Error())
	}
	return nil
}

func mqttOptions(config Config) *mqtt.ClientOptions {
	keepAlive := helpers.IntSecondDefault(config.KeepaliveSec, 60*time.Second)
	retryInterval := helpers.IntSecondDefault(config.KeepaliveSec/2, 30*time.Second)
	opt := mqtt.NewClientOptions().
		AddBroker(config.Broker).
		SetClientID(config.ClientID).
		SetCleanSession(false).
		SetKeepAlive(keepAlive).
		SetPingTimeout(config.NetworkTimeout).
		SetConnectTimeout(config.NetworkTimeout).
		SetOrderMatters(false).
		SetConnectRetry(true).
		SetConnectRetryInterval(retryInterval).
		SetAutoReconnect(true)
	if config.Username != "" {
		opt.SetUsername(config.Username).SetPassword(config.Password)
	}
	if config.StorePath != "" {
		opt.SetStore(mqtt.NewFileStore(config.StorePath))
	}
	return opt
}

func (self *transportMqtt) Publish(topic string, payload []byte, timeout time.Duration) error {
	token := self.m.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(timeout) {
		return errors.Annotatef(ErrPublishTimeout, "topic=%s", topic)
	}
	return errors.Annotatef(token.Error(), "topic=%s", topic)
}

func (self *transportMqtt) Close() {
	self.m.Disconnect(250)
}

func (self *transportMqtt) connectLostHandler(c mqtt.Client, err error) {
	self.log.Infof("mqtt disconnect err=%v", err)
}

func (self *transportMqtt) onConnectHandler(c mqtt.Client) {
	self.log.Infof("mqtt connect broker=%s", self.mopt.Servers[0])
}
