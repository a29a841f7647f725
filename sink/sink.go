// Package sink persists readings exactly once per (seq, node) in relational table.
package sink

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/agroiotec/soilrelay/helpers"
	"github.com/agroiotec/soilrelay/internal/types"
	"github.com/agroiotec/soilrelay/log2"
	"github.com/juju/errors"
)

const (
	DefaultReconnectDelay = 2 * time.Second
	DefaultWriteTimeout   = 5 * time.Second
)

var ErrSinkUnavailable = fmt.Errorf("sink unavailable")

type Outcome uint8

const (
	OutcomeNone Outcome = iota
	OutcomeStored
	OutcomeDuplicateIgnored
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStored:
		return "stored"
	case OutcomeDuplicateIgnored:
		return "duplicate"
	}
	return "none"
}

type Config struct {
	// database/sql driver: sqlite3, mysql, pgx
	Driver      string
	DSN         string
	Table       string
	CreateTable bool
	// wait before single retry after failed write
	ReconnectDelay time.Duration
	WriteTimeout   time.Duration
}

type Writer struct {
	config  Config
	db      *sql.DB
	dialect dialect
	log     *log2.Log
	stat    Stat
	backoff helpers.Backoff
}

// Open connects and checks database is reachable.
func Open(ctx context.Context, config Config, log *log2.Log) (*Writer, error) {
	if d, err := dialectFor(config.Driver, DefaultTable); err == nil && d.checkDSN != nil {
		if err = d.checkDSN(config.DSN); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open(config.Driver, config.DSN)
	if err != nil {
		return nil, errors.Annotatef(err, "sink open driver=%s", config.Driver)
	}
	w, err := New(db, config, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, w.config.WriteTimeout)
	defer cancel()
	if err = db.PingContext(pctx); err != nil {
		db.Close()
		return nil, errors.Annotatef(ErrSinkUnavailable, "ping driver=%s err=%v", config.Driver, err)
	}
	if config.CreateTable {
		if err = w.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return w, nil
}

// New takes ownership of db.
func New(db *sql.DB, config Config, log *log2.Log) (*Writer, error) {
	if config.Table == "" {
		config.Table = DefaultTable
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = DefaultReconnectDelay
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	d, err := dialectFor(config.Driver, config.Table)
	if err != nil {
		return nil, err
	}
	return &Writer{
		config:  config,
		db:      db,
		dialect: d,
		log:     log,
		backoff: helpers.Backoff{
			Min: config.ReconnectDelay,
			Max: 8 * config.ReconnectDelay,
			K:   2,
		},
	}, nil
}

func (w *Writer) Stat() *Stat { return &w.stat }

func (w *Writer) Close() error { return w.db.Close() }

func (w *Writer) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.config.WriteTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, w.dialect.createTable)
	return errors.Annotatef(err, "sink create table=%s", w.config.Table)
}

// Persist inserts reading unless row with same (seq, node) exists.
// Failed write is retried once after reconnect delay, then ErrSinkUnavailable.
func (w *Writer) Persist(ctx context.Context, r types.Reading, node string) (Outcome, error) {
	out, err := w.insert(ctx, r, node)
	if err == nil {
		w.backoff.Reset()
		return w.count(out), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return OutcomeNone, ctxErr
	}
	w.backoff.Failure()
	w.log.Errorf("sink seq=%d node=%s err=%v reconnect in %v", r.Seq, node, err, w.backoff.Next())
	w.stat.Reconnects.Add(1)
	if !sleepCtx(ctx, w.backoff.DelayBefore()) {
		return OutcomeNone, ctx.Err()
	}
	if out, err = w.insert(ctx, r, node); err == nil {
		w.backoff.Reset()
		return w.count(out), nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return OutcomeNone, ctxErr
	}
	w.stat.Unavailable.Add(1)
	return OutcomeNone, errors.Annotatef(ErrSinkUnavailable, "seq=%d node=%s err=%v", r.Seq, node, err)
}

func (w *Writer) count(out Outcome) Outcome {
	switch out {
	case OutcomeStored:
		w.stat.Stored.Add(1)
	case OutcomeDuplicateIgnored:
		w.stat.Duplicates.Add(1)
	}
	return out
}

// insert holds one pool connection for the duration of write.
func (w *Writer) insert(ctx context.Context, r types.Reading, node string) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, w.config.WriteTimeout)
	defer cancel()
	conn, err := w.db.Conn(ctx)
	if err != nil {
		return OutcomeNone, errors.Annotate(err, "conn")
	}
	defer conn.Close()
	res, err := conn.ExecContext(ctx, w.dialect.insert, int64(r.Seq), node, r.Date(), r.Time(), r.Moisture)
	if err != nil {
		return OutcomeNone, errors.Annotate(err, "insert")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return OutcomeNone, errors.Annotate(err, "rows affected")
	}
	if n == 0 {
		return OutcomeDuplicateIgnored, nil
	}
	return OutcomeStored, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	return helpers.Sleep(d, ctx.Done())
}
