package relay

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/agroiotec/soilrelay/internal/state"
	state_new "github.com/agroiotec/soilrelay/internal/state/new"
	"github.com/agroiotec/soilrelay/internal/tele"
	"github.com/agroiotec/soilrelay/internal/types"
	"github.com/agroiotec/soilrelay/link"
	"github.com/agroiotec/soilrelay/radio"
	"github.com/agroiotec/soilrelay/sensor"
	"github.com/agroiotec/soilrelay/sink"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/spq"
)

const (
	routerAddr = radio.Addr64(0x0013A20040A1B2C3)
	coordAddr  = radio.Addr64(0x0013A20040000001)
)

var testCapturedAt = time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local)

const testRouterConfig = `
sensor { path = "/dev/mock" interval_sec = 3600 read_timeout_ms = 30 settle_ms = 5 }
radio { driver = "ether" peer = "0013A20040000001" }
link { ack_timeout_ms = 50 max_attempts = 3 }
`

type testRelay struct {
	ether  *radio.Ether
	uart   *sensor.MockUart
	rg     *state.Global
	cg     *state.Global
	router *Router
	coord  *Coordinator
	tele   *tele.TransportMock
	dsn    string
	rctx   context.Context
	cctx   context.Context
	rdone  chan struct{}
	cdone  chan struct{}
}

func newTestRelay(t testing.TB) *testRelay {
	tr := &testRelay{
		ether: radio.NewEther(),
		uart:  sensor.NewMockUart(),
		dsn:   filepath.Join(t.TempDir(), "readings.db"),
		rdone: make(chan struct{}),
		cdone: make(chan struct{}),
	}

	rctx, rg, _ := state_new.NewTestContext(t, state.RoleRouter, testRouterConfig)
	tr.rg = rg
	rg.Log.SetPrefix("router: ")
	seq, err := sensor.NewSequencer("", testCapturedAt, rg.Log)
	require.NoError(t, err)
	adapter, err := sensor.Open(rg.Config.SensorConfig(), tr.uart, seq, rg.Log)
	require.NoError(t, err)
	adapter.Clock = func() time.Time { return testCapturedAt }
	outbox, err := OpenOutbox("", rg.Log)
	require.NoError(t, err)
	tr.router, err = NewRouter(rg, adapter, tr.ether.Station(routerAddr), outbox, nil)
	require.NoError(t, err)

	cctx, cg, teleMock := state_new.NewTestContext(t, state.RoleCoordinator, fmt.Sprintf(`
radio { driver = "ether" }
sink { driver = "sqlite3" dsn = %q create_table = true }
tele { enable = true broker = "tcp://mock:1883" client_id = "test" }
`, tr.dsn))
	tr.cg = cg
	tr.tele = teleMock
	cg.Log.SetPrefix("coordinator: ")
	w, err := sink.Open(cctx, cg.Config.SinkConfig(), cg.Log)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	tr.coord, err = NewCoordinator(cg, tr.ether.Station(coordAddr), w, nil)
	require.NoError(t, err)

	tr.rctx, tr.cctx = rctx, cctx
	return tr
}

// start after sensor input and radio loss are scripted, first capture is immediate.
func (tr *testRelay) start(t testing.TB) {
	go func() {
		defer close(tr.rdone)
		assert.NoError(t, tr.router.Run(tr.rctx))
	}()
	go func() {
		defer close(tr.cdone)
		assert.NoError(t, tr.coord.Run(tr.cctx))
	}()
}

func (tr *testRelay) stop(t testing.TB) {
	tr.rg.Alive.Stop()
	waitDone(t, tr.rdone, "router")
	tr.cg.Alive.Stop()
	waitDone(t, tr.cdone, "coordinator")
	tr.rg.Alive.Wait()
	tr.cg.Alive.Wait()
}

func waitDone(t testing.TB, done <-chan struct{}, what string) {
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("%s did not stop", what)
	}
}

type testRow struct {
	seq      uint32
	node     string
	date     string
	time     string
	moisture int32
}

func (tr *testRelay) rows(t testing.TB) []testRow {
	db, err := sql.Open("sqlite3", tr.dsn)
	require.NoError(t, err)
	defer db.Close()
	rs, err := db.Query("SELECT seq, node, date, time, moisture FROM readings ORDER BY seq")
	require.NoError(t, err)
	defer rs.Close()
	result := []testRow{}
	for rs.Next() {
		var row testRow
		require.NoError(t, rs.Scan(&row.seq, &row.node, &row.date, &row.time, &row.moisture))
		result = append(result, row)
	}
	require.NoError(t, rs.Err())
	return result
}

// dropFirst loses first packet of given kind sent by from.
func dropFirst(from radio.Addr64, kind link.Kind) func(radio.Addr64, radio.Addr64, []byte) bool {
	var once sync.Once
	return func(f, to radio.Addr64, b []byte) bool {
		if f != from || len(b) < 3 || link.Kind(b[2]) != kind {
			return false
		}
		dropped := false
		once.Do(func() { dropped = true })
		return dropped
	}
}

func TestRelayFirstAckLost(t *testing.T) {
	t.Parallel()
	tr := newTestRelay(t)
	tr.ether.SetDrop(dropFirst(coordAddr, link.KindAck))
	tr.uart.Push([]byte("42\r\n"))
	tr.start(t)

	sstat := tr.router.Sender().Stat()
	require.Eventually(t, func() bool { return sstat.Acked.Value() == 1 }, 3*time.Second, 5*time.Millisecond)
	tr.stop(t)

	rstat := tr.coord.Receiver().Stat()
	assert.Equal(t, int64(2), sstat.Sent.Value())
	assert.Equal(t, int64(1), sstat.Retransmits.Value())
	assert.Equal(t, int64(2), rstat.AcksSent.Value())
	assert.Equal(t, int64(1), rstat.Delivered.Value())
	assert.Equal(t, int64(1), rstat.Duplicates.Value())

	rows := tr.rows(t)
	require.Len(t, rows, 1)
	assert.Equal(t, uint32(testCapturedAt.Unix())+1, rows[0].seq)
	assert.Equal(t, routerAddr.String(), rows[0].node)
	assert.Equal(t, "2024-03-01", rows[0].date)
	assert.Equal(t, "10:00:00", rows[0].time)
	assert.Equal(t, int32(42), rows[0].moisture)

	select {
	case m := <-tr.tele.Out:
		assert.Equal(t, "soilrelay/"+routerAddr.String()+"/reading", m.Topic)
		var pub map[string]interface{}
		require.NoError(t, json.Unmarshal(m.Payload, &pub))
		assert.Equal(t, float64(42), pub["moisture"])
		assert.Equal(t, "2024-03-01", pub["date"])
	default:
		t.Fatal("tele expected one message")
	}
	select {
	case m := <-tr.tele.Out:
		t.Fatalf("tele unexpected message=%s", m.Payload)
	default:
	}
}

func TestRelayAllLostAbandoned(t *testing.T) {
	t.Parallel()
	tr := newTestRelay(t)
	tr.ether.SetDrop(func(from, to radio.Addr64, b []byte) bool { return from == routerAddr })
	tr.uart.Push([]byte("17\n"))
	tr.start(t)

	sstat := tr.router.Sender().Stat()
	require.Eventually(t, func() bool { return sstat.Abandoned.Value() == 1 }, 3*time.Second, 5*time.Millisecond)
	tr.stop(t)

	assert.Equal(t, int64(3), sstat.Sent.Value())
	assert.Equal(t, int64(0), sstat.Acked.Value())
	assert.Equal(t, int64(0), tr.coord.Receiver().Stat().Received.Value())
	assert.Len(t, tr.rows(t), 0)
}

func TestRouterStopIdle(t *testing.T) {
	t.Parallel()
	ctx, g, _ := state_new.NewTestContext(t, state.RoleRouter, testRouterConfig)
	seq, err := sensor.NewSequencer("", testCapturedAt, g.Log)
	require.NoError(t, err)
	adapter, err := sensor.Open(g.Config.SensorConfig(), sensor.NewMockUart(), seq, g.Log)
	require.NoError(t, err)
	outbox, err := OpenOutbox("", g.Log)
	require.NoError(t, err)
	router, err := NewRouter(g, adapter, radio.NewEther().Station(routerAddr), outbox, nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, router.Run(ctx))
	}()
	// let capture fail with no data and worker block on empty outbox
	time.Sleep(100 * time.Millisecond)
	g.Alive.Stop()
	waitDone(t, done, "router with empty outbox")
	g.Alive.Wait()
	assert.Equal(t, spq.ErrClosed, outbox.q.Push([]byte{outboxTagReading}))
}

func TestRouterCapture(t *testing.T) {
	t.Parallel()
	ctx, g, _ := state_new.NewTestContext(t, state.RoleRouter, testRouterConfig)
	uart := sensor.NewMockUart()
	seq, err := sensor.NewSequencer("", testCapturedAt, g.Log)
	require.NoError(t, err)
	adapter, err := sensor.Open(g.Config.SensorConfig(), uart, seq, g.Log)
	require.NoError(t, err)
	outbox, err := OpenOutbox("", g.Log)
	require.NoError(t, err)
	defer outbox.Close()
	router, err := NewRouter(g, adapter, radio.NewEther().Station(routerAddr), outbox, nil)
	require.NoError(t, err)

	err = router.CaptureOnce(ctx)
	assert.Equal(t, sensor.ErrNoData, errors.Cause(err))

	uart.Push([]byte("wet\r\n"))
	err = router.CaptureOnce(ctx)
	assert.Equal(t, sensor.ErrMalformedSample, errors.Cause(err))
	// malformed sample does not consume sequence id
	assert.Equal(t, uint32(testCapturedAt.Unix()), seq.Last())

	uart.Push([]byte("  35.9\r\n"))
	require.NoError(t, router.CaptureOnce(ctx))
	assert.Equal(t, uint32(testCapturedAt.Unix())+1, seq.Last())

	got := make(chan types.Reading, 1)
	wctx, cancel := context.WithCancel(ctx)
	go outbox.Run(wctx, func(_ context.Context, r types.Reading) (link.Outcome, error) {
		got <- r
		cancel()
		return link.OutcomeAcked, nil
	})
	select {
	case r := <-got:
		assert.Equal(t, int32(35), r.Moisture)
		assert.Equal(t, seq.Last(), r.Seq)
	case <-time.After(3 * time.Second):
		t.Fatal("outbox did not deliver")
	}
}

type testPersister struct {
	mu    sync.Mutex
	fail  map[uint32]error
	calls []uint32
	// hang until ctx is done, like unreachable database
	hang bool
}

func (p *testPersister) Persist(ctx context.Context, r types.Reading, node string) (sink.Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, r.Seq)
	if p.hang {
		<-ctx.Done()
		return sink.OutcomeNone, ctx.Err()
	}
	if err := p.fail[r.Seq]; err != nil {
		return sink.OutcomeNone, err
	}
	return sink.OutcomeStored, nil
}

func (p *testPersister) Calls() []uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint32(nil), p.calls...)
}

func TestCoordinatorInbox(t *testing.T) {
	t.Parallel()
	ctx, g, teleMock := state_new.NewTestContext(t, state.RoleCoordinator, `
radio { driver = "ether" }
link { inbox_size = 2 }
sink { driver = "sqlite3" dsn = "unused" }
tele { enable = true broker = "tcp://mock:1883" client_id = "test" }
`)
	p := &testPersister{fail: map[uint32]error{
		11: errors.Annotate(sink.ErrSinkUnavailable, "test"),
	}}
	coord, err := NewCoordinator(g, radio.NewEther().Station(coordAddr), p, nil)
	require.NoError(t, err)

	r := types.Reading{CapturedAt: testCapturedAt, Moisture: 5}
	r.Seq = 11
	assert.True(t, coord.deliver(routerAddr, r))
	r.Seq = 12
	assert.True(t, coord.deliver(routerAddr, r))
	r.Seq = 13
	assert.False(t, coord.deliver(routerAddr, r), "inbox full")

	// stopped before Run, accepted readings are still stored
	g.Alive.Stop()
	require.NoError(t, coord.Run(ctx))
	assert.Equal(t, []uint32{11, 12}, p.Calls())
	r.Seq = 14
	assert.False(t, coord.deliver(routerAddr, r), "stopped")

	// failed seq=11 is not published
	require.Len(t, teleMock.Out, 1)
	m := <-teleMock.Out
	assert.Contains(t, string(m.Payload), `"seq":12`)
}

func TestOutboxDurable(t *testing.T) {
	t.Parallel()
	ctx, g, _ := state_new.NewTestContext(t, state.RoleRouter, testRouterConfig)
	path := filepath.Join(t.TempDir(), "outbox")

	outbox, err := OpenOutbox(path, g.Log)
	require.NoError(t, err)
	// corrupt item is dropped, next one proceeds
	require.NoError(t, outbox.q.Push([]byte{0xff, 1}))
	require.NoError(t, outbox.Push(types.Reading{CapturedAt: testCapturedAt, Moisture: 7, Seq: 1001}))
	require.NoError(t, outbox.Push(types.Reading{CapturedAt: testCapturedAt, Moisture: 8, Seq: 1002}))

	// first run: shutdown while 1001 is in flight
	inflight := make(chan uint32, 1)
	wctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		outbox.Run(wctx, func(ctx context.Context, r types.Reading) (link.Outcome, error) {
			inflight <- r.Seq
			<-ctx.Done()
			return link.OutcomeNone, ctx.Err()
		})
	}()
	assert.Equal(t, uint32(1001), <-inflight)
	cancel()
	<-done
	require.NoError(t, outbox.Close())

	// restart: both readings are still there in order
	outbox, err = OpenOutbox(path, g.Log)
	require.NoError(t, err)
	sent := make(chan types.Reading, 4)
	done = make(chan struct{})
	go func() {
		defer close(done)
		outbox.Run(ctx, func(_ context.Context, r types.Reading) (link.Outcome, error) {
			sent <- r
			return link.OutcomeAbandoned, nil
		})
	}()
	r1, r2 := <-sent, <-sent
	require.NoError(t, outbox.Close())
	<-done
	assert.Equal(t, uint32(1001), r1.Seq)
	assert.Equal(t, int32(7), r1.Moisture)
	assert.True(t, r1.CapturedAt.Equal(testCapturedAt))
	assert.Equal(t, uint32(1002), r2.Seq)
	assert.Len(t, sent, 0)
}

func TestCoordinatorDrainDeadline(t *testing.T) {
	t.Parallel()
	ctx, g, teleMock := state_new.NewTestContext(t, state.RoleCoordinator, `
radio { driver = "ether" }
link { inbox_size = 8 drain_timeout_sec = 1 }
sink { driver = "sqlite3" dsn = "unused" }
`)
	p := &testPersister{hang: true}
	coord, err := NewCoordinator(g, radio.NewEther().Station(coordAddr), p, nil)
	require.NoError(t, err)
	for seq := uint32(21); seq <= 25; seq++ {
		require.True(t, coord.deliver(routerAddr, types.Reading{CapturedAt: testCapturedAt, Seq: seq}))
	}

	g.Alive.Stop()
	started := time.Now()
	require.NoError(t, coord.Run(ctx))
	elapsed := time.Since(started)
	assert.True(t, elapsed >= time.Second, "elapsed=%v", elapsed)
	assert.True(t, elapsed < 3*time.Second, "elapsed=%v", elapsed)
	// one deadline for whole drain, not one per reading
	assert.Equal(t, []uint32{21}, p.Calls())
	assert.Len(t, teleMock.Out, 0)
}
