// Coordinator role: link receiver over radio, sink writer, MQTT mirror.
package coordinator

import (
	"context"

	"github.com/agroiotec/soilrelay/cmd/soilrelay/subcmd"
	"github.com/agroiotec/soilrelay/helpers"
	"github.com/agroiotec/soilrelay/internal/relay"
	"github.com/agroiotec/soilrelay/internal/state"
	"github.com/agroiotec/soilrelay/link"
	"github.com/agroiotec/soilrelay/sink"
	"github.com/coreos/go-systemd/daemon"
)

var Mod = subcmd.Mod{Name: state.RoleCoordinator, Short: "Receive readings over radio and store them", Main: Main}

func Main(ctx context.Context, config *state.Config) (err error) {
	g := state.GetGlobal(ctx)
	// tele is connected by Init
	err = g.Init(ctx, config, state.RoleCoordinator)
	var closers []func() error
	closers = append(closers, func() error { g.Tele.Close(); return nil })
	defer func() {
		// reverse of open order, tele last
		for i, j := 0, len(closers)-1; i < j; i, j = i+1, j-1 {
			closers[i], closers[j] = closers[j], closers[i]
		}
		if cerr := helpers.CloseAll(closers...); cerr != nil {
			g.Log.Errorf("coordinator close err=%v", cerr)
		}
	}()
	if err != nil {
		return err
	}

	w, err := sink.Open(ctx, config.SinkConfig(), g.Log.Tag("sink"))
	if err != nil {
		return err
	}
	closers = append(closers, w.Close)

	r, err := relay.OpenRadio(config, g.Log.Tag("radio"))
	if err != nil {
		return err
	}
	closers = append(closers, r.Close)

	stat := new(link.Stat)
	stat.Publish("link")
	closeMetrics, err := subcmd.ServeMetrics(g, stat, w.Stat(), r)
	closers = append(closers, closeMetrics)
	if err != nil {
		return err
	}

	coord, err := relay.NewCoordinator(g, r, w, stat)
	if err != nil {
		return err
	}

	subcmd.SdNotify(daemon.SdNotifyReady)
	g.Log.Infof("coordinator init complete")
	err = coord.Run(ctx)
	subcmd.SdNotify(daemon.SdNotifyStopping)
	g.Log.Infof("coordinator link=%s sink=%s", stat.String(), w.Stat().String())
	return err
}
