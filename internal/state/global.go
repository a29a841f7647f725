package state

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/agroiotec/soilrelay/internal/tele"
	"github.com/agroiotec/soilrelay/log2"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
)

type Global struct {
	Alive        *alive.Alive
	BuildVersion string
	Config       *Config
	Log          *log2.Log
	Tele         *tele.Tele
	// nil means MQTT, tests put tele.TransportMock here
	TeleTransport tele.Transporter
}

const ContextKey = "run/state-global"

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// If `Init` fails, consider `Global` is in broken state.
func (g *Global) Init(ctx context.Context, cfg *Config, role string) error {
	g.Config = cfg

	g.Log.Infof("build version=%s role=%s", g.BuildVersion, role)
	if g.BuildVersion == "unknown" || strings.HasSuffix(g.BuildVersion, "-dirty") {
		g.Log.Errorf("running development build version=%s", g.BuildVersion)
	}
	if cfg.LogDebug {
		g.Log.SetLevel(log2.LDebug)
	}

	if g.Config.Persist.Root == "" {
		g.Log.Errorf("config: persist.root=empty sequence and outbox will not survive restart")
	}
	g.Log.Debugf("config: persist.root=%s", g.Config.Persist.Root)

	if err := cfg.Validate(role); err != nil {
		return errors.Annotate(err, "config")
	}

	if role == RoleCoordinator {
		// Tele.Init gets g.Log clone, transport log level is independent
		t, err := tele.NewWithTransporter(g.Log.Clone(log2.LInfo), cfg.TeleConfig(), g.TeleTransport)
		if err != nil {
			return errors.Annotate(err, "tele init")
		}
		g.Tele = t
	}
	return nil
}

func (g *Global) MustInit(ctx context.Context, cfg *Config, role string) {
	err := g.Init(ctx, cfg, role)
	if err != nil {
		g.Fatal(err)
	}
}

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.Log.Error(err)
	}
}

func (g *Global) Fatal(err error, args ...interface{}) {
	if err != nil {
		g.Error(err, args...)
		g.StopWait(5 * time.Second)
		g.Log.Fatal(errors.ErrorStack(err))
		os.Exit(1)
	}
}

func (g *Global) Stop() {
	g.Alive.Stop()
}

func (g *Global) StopWait(timeout time.Duration) bool {
	g.Alive.Stop()
	select {
	case <-g.Alive.WaitChan():
		return true
	case <-time.After(timeout):
		return false
	}
}
