package tele

import (
	"fmt"
	"testing"
	"time"

	"github.com/agroiotec/soilrelay/internal/types"
	"github.com/agroiotec/soilrelay/log2"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTeleReading(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	mock := NewTransportMock(t, 1)
	tl, err := NewWithTransporter(log, Config{Enabled: true, Broker: "tcp://127.0.0.1:1883", ClientID: "coord1", TopicPrefix: "farm", NetworkTimeout: 50 * time.Millisecond}, mock)
	require.NoError(t, err)

	r := types.Reading{CapturedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local), Moisture: 42, Seq: 7}
	require.NoError(t, tl.Reading("0013A20040A1B2C3", r))
	msg := <-mock.Out
	assert.Equal(t, "farm/0013A20040A1B2C3/reading", msg.Topic)
	assert.JSONEq(t, `{"node":"0013A20040A1B2C3","seq":7,"date":"2024-03-01","time":"10:00:00","moisture":42}`, string(msg.Payload))

	// buffer of 1 is empty again, fill it and expect timeout
	require.NoError(t, tl.Reading("n", r))
	err = tl.Reading("n", r)
	assert.Equal(t, ErrPublishTimeout, errors.Cause(err))

	mock.Fail = fmt.Errorf("not connected")
	assert.Error(t, tl.Reading("n", r))

	tl.Close()
	assert.True(t, mock.Closed())
}

func TestTeleDisabled(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	mock := NewTransportMock(t, 0)
	tl, err := NewWithTransporter(log, Config{}, mock)
	require.NoError(t, err)
	assert.False(t, tl.Enabled())
	assert.NoError(t, tl.Reading("n", types.Reading{}))
	tl.Close()
	assert.False(t, mock.Closed())

	var nilTele *Tele
	assert.NoError(t, nilTele.Reading("n", types.Reading{}))
}

func TestTeleConfigValidate(t *testing.T) {
	t.Parallel()
	_, err := New(nil, Config{Enabled: true})
	assert.True(t, errors.IsNotValid(err))
	_, err = New(nil, Config{Enabled: true, Broker: "tcp://x:1883"})
	assert.True(t, errors.IsNotValid(err))
}

func TestMqttOptions(t *testing.T) {
	t.Parallel()
	opt := mqttOptions(Config{
		Broker:         "tcp://broker.local:1883",
		ClientID:       "coord1",
		Username:       "relay",
		Password:       "secret",
		KeepaliveSec:   20,
		NetworkTimeout: 7 * time.Second,
	})
	require.Len(t, opt.Servers, 1)
	assert.Equal(t, "broker.local:1883", opt.Servers[0].Host)
	assert.Equal(t, "coord1", opt.ClientID)
	assert.Equal(t, "relay", opt.Username)
	assert.Equal(t, int64(20), opt.KeepAlive)
	assert.Equal(t, 7*time.Second, opt.ConnectTimeout)
	assert.Equal(t, 10*time.Second, opt.ConnectRetryInterval)
	assert.True(t, opt.ConnectRetry)
	assert.False(t, opt.CleanSession)
}
