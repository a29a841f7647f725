// Router role: sensor capture, outbox, link sender over radio.
package router

import (
	"context"
	"time"

	"github.com/agroiotec/soilrelay/cmd/soilrelay/subcmd"
	"github.com/agroiotec/soilrelay/helpers"
	"github.com/agroiotec/soilrelay/internal/relay"
	"github.com/agroiotec/soilrelay/internal/state"
	"github.com/agroiotec/soilrelay/link"
	"github.com/agroiotec/soilrelay/sensor"
	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
)

var Mod = subcmd.Mod{Name: state.RoleRouter, Short: "Read soil probe and transmit readings to coordinator", Main: Main}

func Main(ctx context.Context, config *state.Config) (err error) {
	g := state.GetGlobal(ctx)
	if err = g.Init(ctx, config, state.RoleRouter); err != nil {
		return err
	}

	// close order: source, radio, outbox, metrics
	var closers []func() error
	defer func() {
		if cerr := helpers.CloseAll(closers...); cerr != nil {
			g.Log.Errorf("router close err=%v", cerr)
		}
	}()

	seq, err := sensor.NewSequencer(config.Persist.Root, time.Now(), g.Log)
	if err != nil {
		return errors.Annotate(err, "sequencer")
	}
	adapter, err := sensor.Open(config.SensorConfig(), nil, seq, g.Log.Tag("sensor"))
	if err != nil {
		return err
	}
	closers = append(closers, adapter.Close)

	r, err := relay.OpenRadio(config, g.Log.Tag("radio"))
	if err != nil {
		return err
	}
	closers = append(closers, r.Close)

	outbox, err := relay.OpenOutbox(config.OutboxPath(), g.Log.Tag("outbox"))
	if err != nil {
		return err
	}
	closers = append(closers, outbox.Close)

	stat := new(link.Stat)
	stat.Publish("link")
	closeMetrics, err := subcmd.ServeMetrics(g, stat, nil, r)
	closers = append(closers, closeMetrics)
	if err != nil {
		return err
	}

	router, err := relay.NewRouter(g, adapter, r, outbox, stat)
	if err != nil {
		return err
	}

	subcmd.SdNotify(daemon.SdNotifyReady)
	g.Log.Infof("router init complete seq.last=%d", seq.Last())
	err = router.Run(ctx)
	subcmd.SdNotify(daemon.SdNotifyStopping)
	g.Log.Infof("router stat=%s", stat.String())
	return err
}
