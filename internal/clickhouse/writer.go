package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/fourmeme-hunter/internal/records"
)

const (
	EventsTable = "fourmeme_events"
	TradesTable = "fourmeme_trades"
)

var ErrWriterClosed = errors.New("writer is closed")

// FlushFunc receives one table's rows. Set via SetFlushHook to bypass the
// connection.
type FlushFunc func(ctx context.Context, table string, rows [][]any) error

// BatchWriter buffers event and trade records and flushes them to
// ClickHouse on an interval or once batchSize rows are pending. Writes
// never touch the network; a full batch wakes the flush loop.
type BatchWriter struct {
	client        *Client
	database      string
	batchSize     int
	flushInterval time.Duration

	mu       sync.Mutex
	eventBuf [][]any
	tradeBuf [][]any
	closed   bool
	hook     FlushFunc

	flushCount int64
	errorCount int64
	rowCount   int64

	kick chan struct{}
	wg   sync.WaitGroup
}

// WriterStats is a point-in-time view of the writer.
type WriterStats struct {
	Flushes       int64 `json:"flushes"`
	Errors        int64 `json:"errors"`
	Rows          int64 `json:"rows"`
	PendingEvents int   `json:"pending_events"`
	PendingTrades int   `json:"pending_trades"`
}

func NewBatchWriter(client *Client, database string, batchSize int, flushInterval time.Duration) *BatchWriter {
	if batchSize <= 0 {
		batchSize = 1000
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &BatchWriter{
		client:        client,
		database:      database,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		eventBuf:      make([][]any, 0, batchSize),
		tradeBuf:      make([][]any, 0, batchSize),
		kick:          make(chan struct{}, 1),
	}
}

// SetFlushHook replaces the ClickHouse insert. Used in tests.
func (w *BatchWriter) SetFlushHook(fn FlushFunc) {
	w.mu.Lock()
	w.hook = fn
	w.mu.Unlock()
}

func (w *BatchWriter) WriteEvent(_ context.Context, rec records.EventRecord) error {
	return w.add(true, []any{
		rec.Kind,
		rec.Variant,
		rec.Token,
		rec.Account,
		rec.Name,
		rec.Symbol,
		rec.Price.InexactFloat64(),
		rec.Amount.InexactFloat64(),
		rec.Cost.InexactFloat64(),
		rec.BlockNumber,
		rec.TxHash,
		uint32(rec.LogIndex),
		rec.Timestamp,
	})
}

func (w *BatchWriter) WriteTrade(_ context.Context, rec records.TradeRecord) error {
	return w.add(false, []any{
		rec.Action,
		rec.Token,
		rec.Symbol,
		rec.Price.InexactFloat64(),
		rec.Amount.InexactFloat64(),
		rec.BNB.InexactFloat64(),
		rec.PnL.InexactFloat64(),
		rec.Reason,
		rec.TxHash,
		rec.Timestamp,
	})
}

func (w *BatchWriter) add(event bool, row []any) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWriterClosed
	}
	if event {
		w.eventBuf = append(w.eventBuf, row)
	} else {
		w.tradeBuf = append(w.tradeBuf, row)
	}
	full := len(w.eventBuf)+len(w.tradeBuf) >= w.batchSize
	w.mu.Unlock()

	if full {
		select {
		case w.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Start runs the flush loop in the background until ctx is cancelled. The
// loop flushes once more on exit.
func (w *BatchWriter) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.flushInterval)
		defer ticker.Stop()

		log.Info().
			Int("batch_size", w.batchSize).
			Dur("flush_interval", w.flushInterval).
			Msg("clickhouse: batch writer started")

		for {
			select {
			case <-ctx.Done():
				if err := w.Flush(context.Background()); err != nil {
					log.Error().Err(err).Msg("clickhouse: final flush failed")
				}
				return
			case <-ticker.C:
			case <-w.kick:
			}
			if err := w.Flush(ctx); err != nil {
				log.Error().Err(err).Msg("clickhouse: flush failed")
			}
		}
	}()
}

// Flush writes all buffered rows. Rows of a failed table are dropped.
func (w *BatchWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	evs, trs, hook := w.eventBuf, w.tradeBuf, w.hook
	w.eventBuf = make([][]any, 0, w.batchSize)
	w.tradeBuf = make([][]any, 0, w.batchSize)
	w.mu.Unlock()

	if len(evs) == 0 && len(trs) == 0 {
		return nil
	}

	var firstErr error
	for _, b := range []struct {
		table string
		rows  [][]any
	}{{EventsTable, evs}, {TradesTable, trs}} {
		if len(b.rows) == 0 {
			continue
		}
		if err := w.insert(ctx, hook, w.tableName(b.table), b.rows); err != nil {
			log.Error().Err(err).Str("table", b.table).Int("count", len(b.rows)).Msg("clickhouse: insert failed")
			w.mu.Lock()
			w.errorCount++
			w.mu.Unlock()
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		w.mu.Lock()
		w.rowCount += int64(len(b.rows))
		w.mu.Unlock()
	}

	w.mu.Lock()
	w.flushCount++
	n := w.flushCount
	w.mu.Unlock()

	log.Debug().
		Int("events", len(evs)).
		Int("trades", len(trs)).
		Int64("total_flushes", n).
		Msg("clickhouse: batch flushed")
	return firstErr
}

func (w *BatchWriter) tableName(table string) string {
	if w.database == "" {
		return table
	}
	return w.database + "." + table
}

func (w *BatchWriter) insert(ctx context.Context, hook FlushFunc, table string, rows [][]any) error {
	if hook != nil {
		return hook(ctx, table, rows)
	}
	if w.client == nil {
		return fmt.Errorf("no clickhouse client for %s", table)
	}
	batch, err := w.client.Conn().PrepareBatch(ctx, "INSERT INTO "+table)
	if err != nil {
		return fmt.Errorf("prepare %s batch: %w", table, err)
	}
	for _, row := range rows {
		if err := batch.Append(row...); err != nil {
			return fmt.Errorf("append %s row: %w", table, err)
		}
	}
	return batch.Send()
}

// Close rejects further writes, waits for the flush loop and flushes what
// is left. The context passed to Start must be cancelled first.
func (w *BatchWriter) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	w.wg.Wait()
	err := w.Flush(context.Background())

	s := w.Stats()
	log.Info().
		Int64("total_flushes", s.Flushes).
		Int64("rows", s.Rows).
		Int64("errors", s.Errors).
		Msg("clickhouse: batch writer closed")
	return err
}

func (w *BatchWriter) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WriterStats{
		Flushes:       w.flushCount,
		Errors:        w.errorCount,
		Rows:          w.rowCount,
		PendingEvents: len(w.eventBuf),
		PendingTrades: len(w.tradeBuf),
	}
}
