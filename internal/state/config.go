package state

import (
	"path/filepath"
	"time"

	"github.com/agroiotec/soilrelay/helpers"
	"github.com/agroiotec/soilrelay/internal/tele"
	"github.com/agroiotec/soilrelay/link"
	"github.com/agroiotec/soilrelay/log2"
	"github.com/agroiotec/soilrelay/radio"
	"github.com/agroiotec/soilrelay/sensor"
	"github.com/agroiotec/soilrelay/sink"
	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
)

const (
	RoleRouter      = "router"
	RoleCoordinator = "coordinator"

	DefaultInterval     = 10 * time.Second
	DefaultInboxSize    = 64
	DefaultDrainTimeout = 10 * time.Second
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	LogDebug bool `hcl:"log_debug"`

	Persist struct {
		// sequencer state and default outbox location
		Root string `hcl:"root"`
	} `hcl:"persist"`

	Sensor struct {
		Path          string `hcl:"path"`
		Baud          int    `hcl:"baud"`
		ReadTimeoutMs int    `hcl:"read_timeout_ms"`
		SettleMs      int    `hcl:"settle_ms"`
		IntervalSec   int    `hcl:"interval_sec"`
	} `hcl:"sensor"`

	Radio struct {
		// xbee or ether (in-memory, bench only)
		Driver            string `hcl:"driver"`
		Path              string `hcl:"path"`
		Baud              int    `hcl:"baud"`
		Escaped           bool   `hcl:"escaped"`
		TxStatusTimeoutMs int    `hcl:"tx_status_timeout_ms"`
		// router: coordinator address, 16 hex digits
		Peer string `hcl:"peer"`
	} `hcl:"radio"`

	Link struct {
		AckTimeoutMs    int    `hcl:"ack_timeout_ms"`
		MaxAttempts     int    `hcl:"max_attempts"`
		MaxFrame        int    `hcl:"max_frame"`
		Codec           string `hcl:"codec"`
		InboxSize       int    `hcl:"inbox_size"`
		DrainTimeoutSec int    `hcl:"drain_timeout_sec"`
		LogDebug        bool   `hcl:"log_debug"`
	} `hcl:"link"`

	Outbox struct {
		Path string `hcl:"path"`
	} `hcl:"outbox"`

	Sink struct {
		Driver            string `hcl:"driver"`
		DSN               string `hcl:"dsn"`
		Table             string `hcl:"table"`
		CreateTable       bool   `hcl:"create_table"`
		ReconnectDelaySec int    `hcl:"reconnect_delay_sec"`
		WriteTimeoutSec   int    `hcl:"write_timeout_sec"`
	} `hcl:"sink"`

	Tele struct {
		Enable            bool   `hcl:"enable"`
		Broker            string `hcl:"broker"`
		ClientID          string `hcl:"client_id"`
		Username          string `hcl:"username"`
		Password          string `hcl:"password"`
		TopicPrefix       string `hcl:"topic_prefix"`
		KeepaliveSec      int    `hcl:"keepalive_sec"`
		NetworkTimeoutSec int    `hcl:"network_timeout_sec"`
		StorePath         string `hcl:"store_path"`
		LogDebug          bool   `hcl:"log_debug"`
	} `hcl:"tele"`

	Metrics struct {
		Listen string `hcl:"listen"`
	} `hcl:"metrics"`
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			*errs = append(*errs, errors.NotFoundf("config required name=%s path=%s", source.Name, norm))
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	if err = hcl.Unmarshal(bs, c); err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config unmarshal source=%s", source.Name))
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			*errs = append(*errs, errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name))
			continue
		}
		c.read(log, fs, include, errs)
	}
}

// ReadConfig merges sources in order, later values override earlier.
func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		return nil, errors.NotValidf("code error ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		if err := osfs.SetBase(dir); err != nil {
			return nil, err
		}
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}

// Validate reports all problems for given role at once.
func (c *Config) Validate(role string) error {
	errs := make([]error, 0, 8)
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	switch role {
	case RoleRouter:
		if c.Sensor.Path == "" {
			add(errors.NotValidf("config sensor.path=empty"))
		}
		if _, err := c.Peer(); err != nil {
			add(errors.Annotate(err, "config radio.peer"))
		}
	case RoleCoordinator:
		if c.Sink.Driver == "" {
			add(errors.NotValidf("config sink.driver=empty"))
		}
		if c.Sink.DSN == "" {
			add(errors.NotValidf("config sink.dsn=empty"))
		}
		tc := c.TeleConfig()
		add(tc.Validate())
	default:
		add(errors.NotValidf("role=%s", role))
	}

	switch c.Radio.Driver {
	case "", "xbee":
		if c.Radio.Path == "" {
			add(errors.NotValidf("config radio.path=empty"))
		}
	case "ether":
	default:
		add(errors.NotSupportedf("config radio.driver=%s", c.Radio.Driver))
	}
	if _, err := link.CodecByName(c.Link.Codec); err != nil {
		add(errors.Annotate(err, "config link.codec"))
	}
	if c.Link.MaxFrame != 0 && c.Link.MaxFrame <= link.FrameHeaderSize {
		add(errors.NotValidf("config link.max_frame=%d", c.Link.MaxFrame))
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) Peer() (radio.Addr64, error) { return radio.ParseAddr64(c.Radio.Peer) }

func (c *Config) Interval() time.Duration {
	return helpers.IntSecondDefault(c.Sensor.IntervalSec, DefaultInterval)
}

func (c *Config) InboxSize() int {
	if c.Link.InboxSize <= 0 {
		return DefaultInboxSize
	}
	return c.Link.InboxSize
}

// DrainTimeout bounds storing of accepted readings on coordinator shutdown.
func (c *Config) DrainTimeout() time.Duration {
	return helpers.IntSecondDefault(c.Link.DrainTimeoutSec, DefaultDrainTimeout)
}

// OutboxPath returns empty string when neither outbox.path nor persist.root is set.
func (c *Config) OutboxPath() string {
	if c.Outbox.Path != "" {
		return c.Outbox.Path
	}
	if c.Persist.Root != "" {
		return filepath.Join(c.Persist.Root, "outbox")
	}
	return ""
}

func (c *Config) SensorConfig() sensor.Config {
	return sensor.Config{
		Path:        c.Sensor.Path,
		Baud:        c.Sensor.Baud,
		ReadTimeout: helpers.IntMillisecondDefault(c.Sensor.ReadTimeoutMs, sensor.DefaultReadTimeout),
		Settle:      helpers.IntMillisecondDefault(c.Sensor.SettleMs, sensor.DefaultSettle),
	}
}

func (c *Config) XBeeConfig() radio.XBeeConfig {
	return radio.XBeeConfig{
		Path:            c.Radio.Path,
		Baud:            c.Radio.Baud,
		Escaped:         c.Radio.Escaped,
		TxStatusTimeout: helpers.IntMillisecondDefault(c.Radio.TxStatusTimeoutMs, radio.DefaultTxStatusTimeout),
		MaxPayload:      c.maxFrame(),
	}
}

func (c *Config) maxFrame() int {
	if c.Link.MaxFrame <= 0 {
		return link.DefaultMaxFrame
	}
	return c.Link.MaxFrame
}

func (c *Config) codec() link.Codec {
	codec, err := link.CodecByName(c.Link.Codec)
	if err != nil {
		// Validate reports it
		return link.ProtoCodec{}
	}
	return codec
}

func (c *Config) SenderConfig(peer radio.Addr64) link.SenderConfig {
	return link.SenderConfig{
		Peer:        peer,
		AckTimeout:  helpers.IntMillisecondDefault(c.Link.AckTimeoutMs, link.DefaultAckTimeout),
		MaxAttempts: c.Link.MaxAttempts,
		MaxFrame:    c.maxFrame(),
		Codec:       c.codec(),
	}
}

func (c *Config) ReceiverConfig() link.ReceiverConfig {
	return link.ReceiverConfig{
		MaxFrame: c.maxFrame(),
		Codec:    c.codec(),
	}
}

func (c *Config) SinkConfig() sink.Config {
	return sink.Config{
		Driver:         c.Sink.Driver,
		DSN:            c.Sink.DSN,
		Table:          c.Sink.Table,
		CreateTable:    c.Sink.CreateTable,
		ReconnectDelay: helpers.IntSecondDefault(c.Sink.ReconnectDelaySec, sink.DefaultReconnectDelay),
		WriteTimeout:   helpers.IntSecondDefault(c.Sink.WriteTimeoutSec, sink.DefaultWriteTimeout),
	}
}

func (c *Config) TeleConfig() tele.Config {
	return tele.Config{
		Enabled:        c.Tele.Enable,
		Broker:         c.Tele.Broker,
		ClientID:       c.Tele.ClientID,
		Username:       c.Tele.Username,
		Password:       c.Tele.Password,
		TopicPrefix:    c.Tele.TopicPrefix,
		KeepaliveSec:   c.Tele.KeepaliveSec,
		NetworkTimeout: helpers.IntSecondDefault(c.Tele.NetworkTimeoutSec, tele.DefaultNetworkTimeout),
		StorePath:      c.Tele.StorePath,
		LogDebug:       c.Tele.LogDebug,
	}
}
