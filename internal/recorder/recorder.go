// Package recorder persists the validated tick stream to Postgres in
// batches. Recording is an offline-analysis concern and must never slow
// the feed: a full buffer drops the oldest rows.
package recorder

import (
	"context"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ctp-md-gateway/internal/config"
	"ctp-md-gateway/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS market_ticks (
    symbol          TEXT        NOT NULL,
    exchange        TEXT        NOT NULL,
    ts              TIMESTAMPTZ NOT NULL,
    local_ts        TIMESTAMPTZ NOT NULL,
    last_price      NUMERIC     NOT NULL,
    volume          BIGINT      NOT NULL,
    turnover        NUMERIC     NOT NULL,
    open_interest   BIGINT      NOT NULL,
    bid_price_1     NUMERIC     NOT NULL,
    bid_volume_1    BIGINT      NOT NULL,
    ask_price_1     NUMERIC     NOT NULL,
    ask_volume_1    BIGINT      NOT NULL,
    status          TEXT        NOT NULL,
    gateway_name    TEXT        NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_market_ticks_symbol_ts ON market_ticks (symbol, ts);
`

const insertTick = `
INSERT INTO market_ticks (
    symbol, exchange, ts, local_ts, last_price, volume, turnover,
    open_interest, bid_price_1, bid_volume_1, ask_price_1, ask_volume_1,
    status, gateway_name
) VALUES (
    :symbol, :exchange, :ts, :local_ts, :last_price, :volume, :turnover,
    :open_interest, :bid_price_1, :bid_volume_1, :ask_price_1, :ask_volume_1,
    :status, :gateway_name
)`

// tickRow is the named-parameter shape for insertTick.
type tickRow struct {
	Symbol       string    `db:"symbol"`
	Exchange     string    `db:"exchange"`
	TS           time.Time `db:"ts"`
	LocalTS      time.Time `db:"local_ts"`
	LastPrice    string    `db:"last_price"`
	Volume       int64     `db:"volume"`
	Turnover     string    `db:"turnover"`
	OpenInterest int64     `db:"open_interest"`
	BidPrice1    string    `db:"bid_price_1"`
	BidVolume1   int64     `db:"bid_volume_1"`
	AskPrice1    string    `db:"ask_price_1"`
	AskVolume1   int64     `db:"ask_volume_1"`
	Status       string    `db:"status"`
	GatewayName  string    `db:"gateway_name"`
}

func newTickRow(t *model.Tick) tickRow {
	return tickRow{
		Symbol:       t.Symbol,
		Exchange:     t.Exchange,
		TS:           t.Timestamp.UTC(),
		LocalTS:      t.LocalTimestamp.UTC(),
		LastPrice:    t.LastPrice.String(),
		Volume:       t.Volume,
		Turnover:     t.Turnover.String(),
		OpenInterest: t.OpenInterest,
		BidPrice1:    t.BidPrice1.String(),
		BidVolume1:   t.BidVolume1,
		AskPrice1:    t.AskPrice1.String(),
		AskVolume1:   t.AskVolume1,
		Status:       t.Status.String(),
		GatewayName:  t.GatewayName,
	}
}

// Recorder buffers ticks and flushes them in transactions, either when
// the batch fills or on the flush timer.
type Recorder struct {
	db     *sqlx.DB
	logger zerolog.Logger

	batchSize int
	interval  time.Duration

	mu  sync.Mutex
	buf []tickRow

	quit chan struct{}
	done chan struct{}
}

// New opens the database, ensures the schema and starts the flush loop.
func New(cfg config.RecorderConfig) (*Recorder, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	r := &Recorder{
		db:        db,
		logger:    log.With().Str("component", "recorder").Logger(),
		batchSize: cfg.BatchSize,
		interval:  time.Duration(cfg.FlushInterval * float64(time.Second)),
		buf:       make([]tickRow, 0, cfg.BatchSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go r.loop()
	return r, nil
}

// Record buffers one tick. When the buffer exceeds twice the batch size
// the oldest rows are discarded; the feed outranks the archive.
func (r *Recorder) Record(tick *model.Tick) {
	row := newTickRow(tick)
	r.mu.Lock()
	r.buf = append(r.buf, row)
	if over := len(r.buf) - 2*r.batchSize; over > 0 {
		r.buf = r.buf[over:]
		r.mu.Unlock()
		r.logger.Warn().Int("dropped", over).Msg("Recorder buffer overflow, oldest rows discarded")
		return
	}
	full := len(r.buf) >= r.batchSize
	r.mu.Unlock()

	if full {
		r.flush()
	}
}

// TickSink adapts Record to the gateway callback signature.
func (r *Recorder) TickSink() func(*model.Tick) {
	return func(tick *model.Tick) { r.Record(tick) }
}

func (r *Recorder) loop() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.quit:
			r.flush()
			return
		case <-ticker.C:
			r.flush()
		}
	}
}

func (r *Recorder) flush() {
	r.mu.Lock()
	if len(r.buf) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.buf
	r.buf = make([]tickRow, 0, r.batchSize)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		r.logger.Error().Err(err).Int("rows", len(batch)).Msg("Recorder flush failed to begin")
		return
	}
	if _, err := tx.NamedExecContext(ctx, insertTick, batch); err != nil {
		tx.Rollback()
		r.logger.Error().Err(err).Int("rows", len(batch)).Msg("Recorder flush failed")
		return
	}
	if err := tx.Commit(); err != nil {
		r.logger.Error().Err(err).Int("rows", len(batch)).Msg("Recorder commit failed")
		return
	}
	r.logger.Debug().Int("rows", len(batch)).Msg("Recorder batch flushed")
}

// Close flushes the remaining buffer and closes the database.
func (r *Recorder) Close() error {
	close(r.quit)
	<-r.done
	return r.db.Close()
}
