// Sorry, workaround to import cycles.
package state_new

import (
	"context"
	"os"
	"testing"

	"github.com/agroiotec/soilrelay/internal/state"
	"github.com/agroiotec/soilrelay/internal/tele"
	"github.com/agroiotec/soilrelay/log2"
	"github.com/temoto/alive/v2"
)

func NewContext(log *log2.Log) (context.Context, *state.Global) {
	if log == nil {
		panic("code error NewContext() log=nil")
	}

	g := &state.Global{
		Alive: alive.NewAlive(),
		Log:   log,
	}
	ctx := context.Background()
	ctx = context.WithValue(ctx, state.ContextKey, g)

	return ctx, g
}

// NewTestContext returns initialized Global with config parsed from confString.
// Tele goes to returned mock, even when tele.enable=true.
func NewTestContext(t testing.TB, role string, confString string) (context.Context, *state.Global, *tele.TransportMock) {
	fs := state.NewMockFullReader(map[string]string{
		"test-inline": confString,
	})

	var log *log2.Log
	if os.Getenv("soilrelay_test_log_stderr") == "1" {
		log = log2.NewStderr(log2.LDebug) // useful with panics
	} else {
		log = log2.NewTest(t, log2.LDebug)
	}
	log.SetFlags(log2.LTestFlags)
	ctx, g := NewContext(log)
	g.BuildVersion = "test"
	mock := tele.NewTransportMock(t, 16)
	g.TeleTransport = mock
	g.MustInit(ctx, state.MustReadConfig(log, fs, "test-inline"), role)

	return ctx, g, mock
}
