// Sub-commands of soilrelay application, one per node role.
package subcmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/agroiotec/soilrelay/internal/state"
	state_new "github.com/agroiotec/soilrelay/internal/state/new"
	"github.com/agroiotec/soilrelay/link"
	"github.com/agroiotec/soilrelay/log2"
	"github.com/agroiotec/soilrelay/metrics"
	"github.com/agroiotec/soilrelay/radio"
	"github.com/agroiotec/soilrelay/sink"
	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

type Mod struct {
	Name  string
	Short string
	Main  func(context.Context, *state.Config) error
}

// Env is shared by all sub-commands, filled by root command flags.
type Env struct {
	ConfigPath   string
	BuildVersion string
	Log          *log2.Log
}

// Command wraps Mod: reads config, installs SIGINT/SIGTERM handler, runs Main.
func (m Mod) Command(env *Env) *cobra.Command {
	if m.Name == "" {
		panic("code error subcmd Mod.Name=empty")
	}
	return &cobra.Command{
		Use:   m.Name,
		Short: m.Short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := env.Log
			ctx, g := state_new.NewContext(log)
			g.BuildVersion = env.BuildVersion
			config, err := state.ReadConfig(log, state.NewOsFullReader(), env.ConfigPath)
			if err != nil {
				return errors.Annotatef(err, "config=%s", env.ConfigPath)
			}

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigs)
			go func() {
				select {
				case s := <-sigs:
					log.Infof("signal=%v stopping", s)
					SdNotify(daemon.SdNotifyStopping)
					g.Stop()
				case <-g.Alive.StopChan():
				}
			}()

			err = m.Main(ctx, config)
			g.Stop()
			g.Alive.Wait()
			return err
		},
	}
}

func SdNotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log2.NewStderr(log2.LError).Errorf("sdnotify: %s", errors.ErrorStack(err))
	}
	return ok
}

// ServeMetrics starts Prometheus endpoint when metrics.listen is set.
// Returned closer is never nil.
func ServeMetrics(g *state.Global, ls *link.Stat, ss *sink.Stat, r radio.Radio) (func() error, error) {
	noop := func() error { return nil }
	if g.Config.Metrics.Listen == "" {
		return noop, nil
	}
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg, ls, ss); err != nil {
		return noop, err
	}
	if x, ok := r.(*radio.XBee); ok {
		if err := metrics.RegisterXBee(reg, x.Stat()); err != nil {
			return noop, err
		}
	}
	srv, err := metrics.Listen(g.Config.Metrics.Listen, reg, g.Log.Tag("metrics"))
	if err != nil {
		return noop, err
	}
	return srv.Close, nil
}
