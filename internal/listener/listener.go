// Package listener polls the TokenManager contract for logs, decodes them and
// dispatches each (tx, logIndex) at most once to registered handlers.
package listener

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/fourmeme-hunter/internal/chain"
	"github.com/nexus-trading/fourmeme-hunter/internal/events"
	"github.com/nexus-trading/fourmeme-hunter/internal/observability"
)

// Connection is what the listener needs from the connection manager.
type Connection interface {
	chain.Provider
	EnsureConnection(ctx context.Context) error
	MarkHead(n uint64)
}

// Handler consumes one decoded event. Errors and panics are logged and
// never stop the listener or other handlers.
type Handler func(ctx context.Context, ev events.Event) error

// Observer sees every decoded, non-duplicate event before the handlers.
type Observer func(ev events.Event)

// Config configures the listener.
type Config struct {
	Contract       common.Address
	PollInterval   time.Duration
	MaxBlockRange  uint64
	LookbackBlocks uint64
	StartBlock     uint64 // 0 = head minus LookbackBlocks
	ErrorDelay     time.Duration
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	DedupSize      int
	// DrainTimeout bounds how long an in-flight range keeps fetching after
	// ctx is cancelled.
	DrainTimeout time.Duration
}

func DefaultConfig(contract common.Address) Config {
	return Config{
		Contract:      contract,
		PollInterval:  3 * time.Second,
		MaxBlockRange: 50,
		ErrorDelay:    5 * time.Second,
		BaseBackoff:   500 * time.Millisecond,
		MaxBackoff:    8 * time.Second,
		DedupSize:     1000,
		DrainTimeout:  30 * time.Second,
	}
}

type Listener struct {
	cfg     Config
	conn    Connection
	decoder *events.Decoder
	dedup   *dedupCache
	metrics *observability.Metrics

	mu        sync.RWMutex
	handlers  map[events.Kind][]Handler
	observers []Observer

	lastBlock   atomic.Uint64
	initialized atomic.Bool

	processed    atomic.Int64
	duplicates   atomic.Int64
	unrecognized atomic.Int64
	splits       atomic.Int64
	skipped      atomic.Int64
	handlerErrs  atomic.Int64
}

func New(cfg Config, conn Connection, decoder *events.Decoder, metrics *observability.Metrics) *Listener {
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}
	if cfg.MaxBlockRange == 0 {
		cfg.MaxBlockRange = 50
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 8 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	return &Listener{
		cfg:      cfg,
		conn:     conn,
		decoder:  decoder,
		dedup:    newDedupCache(cfg.DedupSize),
		metrics:  metrics,
		handlers: make(map[events.Kind][]Handler),
	}
}

// Register adds a handler for kind. Handlers run in registration order.
func (l *Listener) Register(kind events.Kind, h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[kind] = append(l.handlers[kind], h)
}

// Observe adds an observer called for every dispatched event.
func (l *Listener) Observe(o Observer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, o)
}

// Run polls until ctx is cancelled. It returns nil on cancellation.
func (l *Listener) Run(ctx context.Context) error {
	log.Info().
		Str("contract", l.cfg.Contract.Hex()).
		Uint64("max_range", l.cfg.MaxBlockRange).
		Uint64("lookback", l.cfg.LookbackBlocks).
		Msg("listener: starting")

	for {
		if ctx.Err() != nil {
			log.Info().Uint64("last_block", l.lastBlock.Load()).Msg("listener: stopped")
			return nil
		}

		behind, err := l.PollOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Error().Err(err).Uint64("last_block", l.lastBlock.Load()).Msg("listener: poll failed")
			if cerr := l.conn.EnsureConnection(ctx); cerr != nil {
				log.Warn().Err(cerr).Msg("listener: connection check failed")
			}
			sleep(ctx, l.cfg.ErrorDelay)
			continue
		}
		if behind {
			continue
		}
		sleep(ctx, l.cfg.PollInterval)
	}
}

// PollOnce fetches at most one block range past the watermark and dispatches
// it. It reports whether the chain head is still ahead of the watermark.
func (l *Listener) PollOnce(ctx context.Context) (bool, error) {
	client, err := chain.Current(l.conn)
	if err != nil {
		return false, err
	}
	head, err := client.BlockNumber(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: block number: %v", chain.ErrConnectivity, err)
	}
	l.conn.MarkHead(head)

	if !l.initialized.Load() {
		l.lastBlock.Store(l.startWatermark(head))
		l.initialized.Store(true)
	}

	last := l.lastBlock.Load()
	if head <= last {
		return false, nil
	}

	from := last + 1
	to := head
	if to-from+1 > l.cfg.MaxBlockRange {
		to = from + l.cfg.MaxBlockRange - 1
	}

	logs, err := l.fetchRange(ctx, from, to)
	if err != nil {
		return false, err
	}
	l.dispatchAll(ctx, logs)

	l.lastBlock.Store(to)
	l.metrics.ListenerLastBlock.Set(float64(to))
	return to < head, nil
}

func (l *Listener) startWatermark(head uint64) uint64 {
	if l.cfg.StartBlock > 0 {
		return l.cfg.StartBlock - 1
	}
	if l.cfg.LookbackBlocks >= head {
		return 0
	}
	return head - l.cfg.LookbackBlocks
}

type rangeItem struct {
	from, to uint64
	attempt  int
}

// fetchRange returns the logs of [from, to] ordered by (block, logIndex).
// Rate-limited ranges are split in half, lower half first, after a capped
// exponential backoff; a single rate-limited block is skipped. Any other
// error aborts the whole range so the watermark does not advance.
//
// A range that has started is finished even if ctx is cancelled meanwhile,
// for at most DrainTimeout, so shutdown never drops a half-fetched range.
func (l *Listener) fetchRange(ctx context.Context, from, to uint64) ([]types.Log, error) {
	client, err := chain.Current(l.conn)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fetchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		log.Info().Uint64("from", from).Uint64("to", to).Msg("listener: finishing in-flight range before stop")
		time.AfterFunc(l.cfg.DrainTimeout, cancel)
	})
	defer stop()
	ctx = fetchCtx

	var out []types.Log
	work := []rangeItem{{from: from, to: to}}

	for len(work) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("filter logs %d-%d: drain timeout: %w", from, to, err)
		}
		item := work[len(work)-1]
		work = work[:len(work)-1]

		logs, err := client.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(item.from),
			ToBlock:   new(big.Int).SetUint64(item.to),
			Addresses: []common.Address{l.cfg.Contract},
		})
		if err == nil {
			out = append(out, logs...)
			continue
		}
		if !chain.IsRateLimited(err) {
			return nil, fmt.Errorf("filter logs %d-%d: %w", item.from, item.to, err)
		}

		if item.from == item.to {
			l.skipped.Add(1)
			l.metrics.BlocksSkipped.Inc()
			log.Warn().Err(err).Uint64("block", item.from).Msg("listener: block still rate limited, skipping")
			continue
		}

		l.splits.Add(1)
		l.metrics.RangeSplits.Inc()
		mid := item.from + (item.to-item.from)/2
		delay := l.backoff(item.attempt)
		log.Warn().
			Err(err).
			Uint64("from", item.from).
			Uint64("to", item.to).
			Dur("backoff", delay).
			Msg("listener: rate limited, splitting range")

		if !sleep(ctx, delay) {
			return nil, ctx.Err()
		}
		// Stack order: push upper half first so the lower half runs next.
		work = append(work,
			rangeItem{from: mid + 1, to: item.to, attempt: item.attempt + 1},
			rangeItem{from: item.from, to: mid, attempt: item.attempt + 1},
		)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].Index < out[j].Index
	})
	return out, nil
}

func (l *Listener) backoff(attempt int) time.Duration {
	d := l.cfg.BaseBackoff
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= l.cfg.MaxBackoff {
			return l.cfg.MaxBackoff
		}
	}
	return d
}

func (l *Listener) dispatchAll(ctx context.Context, logs []types.Log) {
	for _, raw := range logs {
		if raw.Removed {
			continue
		}
		ev, err := l.decoder.Decode(raw)
		if err != nil {
			l.unrecognized.Add(1)
			l.metrics.EventsUnknown.Inc()
			log.Warn().
				Err(err).
				Uint64("block", raw.BlockNumber).
				Str("tx", raw.TxHash.Hex()).
				Uint("log_index", raw.Index).
				Msg("listener: unrecognized event dropped")
			continue
		}
		if !l.dedup.Add(ev.Key()) {
			l.duplicates.Add(1)
			l.metrics.EventsDuplicate.Inc()
			log.Debug().Str("tx", ev.TxHash.Hex()).Uint("log_index", ev.LogIndex).Msg("listener: duplicate event skipped")
			continue
		}
		l.dispatch(ctx, ev)
	}
}

func (l *Listener) dispatch(ctx context.Context, ev events.Event) {
	l.mu.RLock()
	handlers := append([]Handler(nil), l.handlers[ev.Kind]...)
	observers := append([]Observer(nil), l.observers...)
	l.mu.RUnlock()

	l.processed.Add(1)
	l.metrics.EventsDecoded.WithLabelValues(ev.Kind.String()).Inc()

	for _, o := range observers {
		l.safeObserve(o, ev)
	}
	for _, h := range handlers {
		if err := l.safeHandle(ctx, h, ev); err != nil {
			l.handlerErrs.Add(1)
			l.metrics.HandlerFailures.WithLabelValues(ev.Kind.String()).Inc()
			log.Error().
				Err(err).
				Str("kind", ev.Kind.String()).
				Str("tx", ev.TxHash.Hex()).
				Msg("listener: handler failed")
		}
	}
}

var errHandlerPanic = errors.New("handler panic")

func (l *Listener) safeHandle(ctx context.Context, h Handler, ev events.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errHandlerPanic, r)
		}
	}()
	return h(ctx, ev)
}

func (l *Listener) safeObserve(o Observer, ev events.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("kind", ev.Kind.String()).Msg("listener: observer panic recovered")
		}
	}()
	o(ev)
}

// LastBlock is the highest block fully dispatched.
func (l *Listener) LastBlock() uint64 {
	return l.lastBlock.Load()
}

// ListenerStats is a snapshot of listener counters.
type ListenerStats struct {
	LastBlock      uint64 `json:"last_block"`
	Processed      int64  `json:"events_processed"`
	Duplicates     int64  `json:"duplicates"`
	Unrecognized   int64  `json:"unrecognized"`
	RangeSplits    int64  `json:"range_splits"`
	BlocksSkipped  int64  `json:"blocks_skipped"`
	HandlerErrors  int64  `json:"handler_errors"`
	DedupCacheSize int    `json:"dedup_cache_size"`
}

func (l *Listener) Stats() ListenerStats {
	return ListenerStats{
		LastBlock:      l.lastBlock.Load(),
		Processed:      l.processed.Load(),
		Duplicates:     l.duplicates.Load(),
		Unrecognized:   l.unrecognized.Load(),
		RangeSplits:    l.splits.Load(),
		BlocksSkipped:  l.skipped.Load(),
		HandlerErrors:  l.handlerErrs.Load(),
		DedupCacheSize: l.dedup.Len(),
	}
}

// sleep waits d or until ctx ends, reporting whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
