// Package coordinator wires decoded events to the trading pipeline:
// filter → trend tracker or scorer → risk → executor → position tracker.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/fourmeme-hunter/internal/events"
	"github.com/nexus-trading/fourmeme-hunter/internal/executor"
	"github.com/nexus-trading/fourmeme-hunter/internal/filter"
	"github.com/nexus-trading/fourmeme-hunter/internal/listener"
	"github.com/nexus-trading/fourmeme-hunter/internal/observability"
	"github.com/nexus-trading/fourmeme-hunter/internal/position"
	"github.com/nexus-trading/fourmeme-hunter/internal/records"
	"github.com/nexus-trading/fourmeme-hunter/internal/risk"
	"github.com/nexus-trading/fourmeme-hunter/internal/trend"
)

// Retry cooldowns after a buy attempt that did not go through.
var statusCooldown = map[string]time.Duration{
	executor.StatusNotLaunched: time.Second,
	executor.StatusZeroPrice:   500 * time.Millisecond,
	executor.StatusGraduated:   time.Hour,
	executor.StatusQueryFailed: time.Hour,
	executor.StatusNotFound:    time.Hour,
}

const (
	failCooldown   = 1500 * time.Millisecond
	revertCooldown = 5 * time.Second
	graduatedHold  = time.Hour
)

// Executor is the part of the trade executor the coordinator drives.
type Executor interface {
	CheckTokenStatus(ctx context.Context, token common.Address) executor.TokenStatus
	BuyToken(ctx context.Context, token common.Address, amount decimal.Decimal, opts executor.BuyOptions) (executor.TxResult, error)
	LastPrice(ctx context.Context, token common.Address) (decimal.Decimal, error)
	TokenBalance(ctx context.Context, token common.Address) (*big.Int, error)
	DryRun() bool
}

// EventSource is where handlers are registered, normally *listener.Listener.
type EventSource interface {
	Register(kind events.Kind, h listener.Handler)
	Observe(o listener.Observer)
}

type Config struct {
	BuyAmount      decimal.Decimal // BNB per buy
	BuyFeePct      decimal.Decimal // protocol fee charged on the buy
	ClusterEnabled bool            // false = collection only unless a scorer is set

	MinProbability     float64
	MinPredictedReturn float64
	WatchTTL           time.Duration // candidates older than this since launch are dropped

	PriceSyncInterval time.Duration
	ReconcileInterval time.Duration
	CheckInterval     time.Duration
}

func DefaultConfig() Config {
	return Config{
		BuyAmount:          decimal.RequireFromString("0.05"),
		BuyFeePct:          decimal.NewFromInt(1),
		ClusterEnabled:     true,
		MinProbability:     0.84,
		MinPredictedReturn: 50,
		WatchTTL:           10 * time.Minute,
		PriceSyncInterval:  5 * time.Second,
		ReconcileInterval:  time.Minute,
		CheckInterval:      10 * time.Second,
	}
}

// candidate is an accepted token that may still be bought.
type candidate struct {
	hist  *history
	added time.Time
	armed bool // a cluster signal is waiting on a cooldown
}

type Coordinator struct {
	config    Config
	filter    *filter.Filter
	trend     *trend.Tracker
	risk      *risk.Manager
	exec      Executor
	positions *position.Tracker
	sink      records.Sink
	scorer    Scorer
	metrics   *observability.Metrics
	now       func() time.Time

	buys sync.WaitGroup

	mu         sync.Mutex
	candidates map[common.Address]*candidate
	cooldowns  map[common.Address]time.Time
	inflight   map[common.Address]struct{}

	created     atomic.Int64
	accepted    atomic.Int64
	signals     atomic.Int64
	scored      atomic.Int64
	scorePassed atomic.Int64
	attempts    atomic.Int64
	submitted   atomic.Int64
	notReady    atomic.Int64
	failed      atomic.Int64
	denied      atomic.Int64
	graduated   atomic.Int64
	priceErrs   atomic.Int64
}

// New builds a coordinator. scorer may be nil; sink may be nil.
func New(cfg Config, f *filter.Filter, tr *trend.Tracker, rm *risk.Manager, exec Executor,
	positions *position.Tracker, sink records.Sink, scorer Scorer, metrics *observability.Metrics) *Coordinator {
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}
	if sink == nil {
		sink = records.MultiSink{}
	}
	if cfg.WatchTTL <= 0 {
		cfg.WatchTTL = 10 * time.Minute
	}
	return &Coordinator{
		config:     cfg,
		filter:     f,
		trend:      tr,
		risk:       rm,
		exec:       exec,
		positions:  positions,
		sink:       sink,
		scorer:     scorer,
		metrics:    metrics,
		now:        time.Now,
		candidates: make(map[common.Address]*candidate),
		cooldowns:  make(map[common.Address]time.Time),
		inflight:   make(map[common.Address]struct{}),
	}
}

// Attach registers the coordinator's handlers on src.
func (c *Coordinator) Attach(src EventSource) {
	src.Register(events.KindTokenCreate, c.OnTokenCreate)
	src.Register(events.KindTokenLaunched, c.OnTokenCreate)
	src.Register(events.KindTokenPurchase, c.OnTrade)
	src.Register(events.KindTokenSale, c.OnTrade)
	src.Register(events.KindTradeStop, c.OnTradeStop)
	src.Observe(c.RecordEvent)
}

// RecordEvent mirrors ev to the record sink.
func (c *Coordinator) RecordEvent(ev events.Event) {
	rec, ok := records.FromEvent(ev)
	if !ok {
		return
	}
	if err := c.sink.WriteEvent(context.Background(), rec); err != nil {
		log.Warn().Err(err).Str("token", rec.Token).Msg("coordinator: event record failed")
	}
}

// ---------------------------------------------------------------------------
// Event handlers
// ---------------------------------------------------------------------------

// OnTokenCreate filters a launch and, depending on mode, watches it for the
// scorer or feeds it to the trend tracker.
func (c *Coordinator) OnTokenCreate(ctx context.Context, ev events.Event) error {
	if ev.Create == nil {
		return nil
	}
	c.created.Add(1)
	info := tokenInfo(ev)

	res := c.filter.ShouldBuy(ctx, info)
	if !res.Accept {
		return nil
	}
	c.accepted.Add(1)

	c.mu.Lock()
	c.candidates[info.Token] = &candidate{hist: &history{info: info}, added: c.now()}
	c.mu.Unlock()

	if c.scorer != nil {
		log.Debug().Str("token", info.Token.Hex()).Str("symbol", info.Symbol).Msg("coordinator: watching for score")
		return nil
	}
	if !c.config.ClusterEnabled {
		log.Debug().Str("token", info.Token.Hex()).Msg("coordinator: cluster trading disabled, collecting only")
		return nil
	}

	hot, tokens := c.trend.AddToken(info.Token, info.Symbol)
	if !hot {
		return nil
	}
	c.signals.Add(int64(len(tokens)))
	c.metrics.ClusterSignals.Add(float64(len(tokens)))
	for _, token := range tokens {
		c.trigger(ctx, token, "cluster")
	}
	return nil
}

// OnTrade feeds the implied price to the position tracker and to the
// candidate's trade tape.
func (c *Coordinator) OnTrade(ctx context.Context, ev events.Event) error {
	if ev.Trade == nil {
		return nil
	}
	tr := ev.Trade
	price := tr.ImpliedPrice()
	if !price.IsPositive() {
		return nil
	}

	var err error
	if c.positions.Has(tr.Token) {
		if uerr := c.positions.OnPriceUpdate(ctx, tr.Token, price); uerr != nil {
			err = fmt.Errorf("price update %s: %w", tr.Token.Hex(), uerr)
		}
	}

	at := ev.DiscoveredAt
	if at.IsZero() {
		at = c.now()
	}

	c.mu.Lock()
	cand := c.candidates[tr.Token]
	if cand == nil {
		c.mu.Unlock()
		return err
	}
	cand.hist.add(ev.Kind == events.KindTokenPurchase, fill{
		at:      at,
		account: tr.Account,
		bnb:     events.FromWei(tr.Cost),
		price:   price,
	})
	armed := cand.armed
	var feats Features
	if c.scorer != nil {
		feats = cand.hist.features(c.now())
	}
	c.mu.Unlock()

	switch {
	case c.scorer != nil:
		c.score(ctx, tr.Token, feats)
	case armed:
		c.trigger(ctx, tr.Token, "retry")
	}
	return err
}

// OnTradeStop closes any position in a token that left the bonding curve.
func (c *Coordinator) OnTradeStop(ctx context.Context, ev events.Event) error {
	if ev.Stop == nil {
		return nil
	}
	token := ev.Stop.Token

	c.mu.Lock()
	delete(c.candidates, token)
	c.cooldowns[token] = c.now().Add(graduatedHold)
	c.mu.Unlock()

	if !c.positions.Has(token) {
		return nil
	}
	c.graduated.Add(1)
	log.Info().Str("token", token.Hex()).Msg("coordinator: token graduated, closing position")
	if err := c.positions.Close(ctx, token, decimal.Zero, position.ReasonGraduated); err != nil {
		return fmt.Errorf("close graduated %s: %w", token.Hex(), err)
	}
	return nil
}

func (c *Coordinator) score(ctx context.Context, token common.Address, f Features) {
	c.scored.Add(1)
	prob, ret := c.scorer.Score(f)
	l := log.Debug()
	pass := prob >= c.config.MinProbability && ret >= c.config.MinPredictedReturn
	if pass {
		l = log.Info()
		c.scorePassed.Add(1)
	}
	l.Str("token", token.Hex()).
		Float64("prob", prob).
		Float64("pred_return", ret).
		Float64("age_s", f.TimeSinceLaunch).
		Bool("pass", pass).
		Msg("coordinator: scored")
	if pass {
		c.trigger(ctx, token, "score")
	}
}

// ---------------------------------------------------------------------------
// Buying
// ---------------------------------------------------------------------------

// trigger reserves a risk slot and starts the buy in the background.
func (c *Coordinator) trigger(ctx context.Context, token common.Address, source string) {
	now := c.now()

	c.mu.Lock()
	cand := c.candidates[token]
	if cand == nil {
		c.mu.Unlock()
		return
	}
	if _, busy := c.inflight[token]; busy {
		c.mu.Unlock()
		return
	}
	if until, ok := c.cooldowns[token]; ok {
		if now.Before(until) {
			cand.armed = true
			c.mu.Unlock()
			log.Debug().Str("token", token.Hex()).Time("until", until).Msg("coordinator: buy cooling down")
			return
		}
		delete(c.cooldowns, token)
	}
	c.mu.Unlock()

	if c.positions.Has(token) {
		return
	}
	if ok, reason := c.risk.TryReserve(token, c.config.BuyAmount); !ok {
		c.denied.Add(1)
		c.mu.Lock()
		cand.armed = false
		c.mu.Unlock()
		log.Info().Str("token", token.Hex()).Str("source", source).Str("reason", reason).Msg("coordinator: buy denied by risk")
		return
	}

	c.mu.Lock()
	c.inflight[token] = struct{}{}
	info := cand.hist.info
	c.mu.Unlock()

	c.attempts.Add(1)
	c.buys.Add(1)
	go func() {
		defer c.buys.Done()
		defer func() {
			c.mu.Lock()
			delete(c.inflight, token)
			c.mu.Unlock()
		}()
		c.buy(ctx, info, source)
	}()
}

func (c *Coordinator) buy(ctx context.Context, info filter.TokenInfo, source string) {
	token := info.Token

	st := c.exec.CheckTokenStatus(ctx, token)
	if !st.Ready {
		c.notReady.Add(1)
		wait, ok := statusCooldown[st.Reason]
		if !ok {
			wait = time.Hour
		}
		c.backOff(token, wait)
		log.Warn().Str("token", token.Hex()).Str("symbol", info.Symbol).Str("reason", st.Reason).Dur("retry_in", wait).Msg("coordinator: token not ready")
		return
	}

	amount := c.config.BuyAmount
	res, err := c.exec.BuyToken(ctx, token, amount, executor.BuyOptions{ExpectedPrice: st.Price})
	switch {
	case err == nil:
	case errors.Is(err, executor.ErrTransactionUnknown) && res.TxHash != "":
		// The buy may still land; a pending position is backfilled by the
		// next trade or purged after the pending timeout.
		log.Warn().Str("token", token.Hex()).Str("tx", res.TxHash).Msg("coordinator: buy outcome unknown, tracking as pending")
	case errors.Is(err, executor.ErrTransactionReverted):
		c.failed.Add(1)
		c.backOff(token, revertCooldown)
		log.Error().Err(err).Str("token", token.Hex()).Msg("coordinator: buy reverted")
		return
	default:
		c.failed.Add(1)
		c.backOff(token, failCooldown)
		log.Error().Err(err).Str("token", token.Hex()).Msg("coordinator: buy failed")
		return
	}

	fee := amount.Mul(c.config.BuyFeePct).Div(decimal.NewFromInt(100))
	if _, err := c.positions.Open(ctx, token, info.Symbol, res.TxHash, amount, fee); err != nil {
		c.failed.Add(1)
		c.risk.Release(token)
		c.mu.Lock()
		delete(c.candidates, token)
		c.mu.Unlock()
		log.Error().Err(err).Str("token", token.Hex()).Str("tx", res.TxHash).Msg("coordinator: open position failed, risk slot released")
		return
	}
	c.submitted.Add(1)

	c.mu.Lock()
	delete(c.candidates, token)
	c.mu.Unlock()

	log.Info().
		Str("token", token.Hex()).
		Str("symbol", info.Symbol).
		Str("source", source).
		Str("amount_bnb", amount.String()).
		Str("quote", st.Price.String()).
		Str("tx", res.TxHash).
		Msg("coordinator: buy submitted")
}

// backOff releases the reserved slot and parks the token until the
// cooldown passes. The next trade event for it retries the buy.
func (c *Coordinator) backOff(token common.Address, wait time.Duration) {
	c.risk.Release(token)
	c.mu.Lock()
	c.cooldowns[token] = c.now().Add(wait)
	if cand := c.candidates[token]; cand != nil {
		cand.armed = true
	}
	c.mu.Unlock()
}

// Wait blocks until every in-flight buy has returned.
func (c *Coordinator) Wait() { c.buys.Wait() }

// ---------------------------------------------------------------------------
// Periodic loops
// ---------------------------------------------------------------------------

// SyncPrices pushes the helper's last price of every held token through the
// exit rules. It returns the number of tokens updated.
func (c *Coordinator) SyncPrices(ctx context.Context) int {
	updated := 0
	for _, token := range c.positions.Tokens() {
		price, err := c.exec.LastPrice(ctx, token)
		if err != nil {
			c.priceErrs.Add(1)
			log.Debug().Err(err).Str("token", token.Hex()).Msg("coordinator: price sync failed")
			continue
		}
		if !price.IsPositive() {
			continue
		}
		if err := c.positions.OnPriceUpdate(ctx, token, price); err != nil {
			log.Warn().Err(err).Str("token", token.Hex()).Msg("coordinator: synced price update failed")
		}
		updated++
	}
	return updated
}

func (c *Coordinator) RunPriceSync(ctx context.Context) {
	c.every(ctx, c.config.PriceSyncInterval, func() { c.SyncPrices(ctx) })
}

// RunReconcile drops positions whose wallet balance went to zero. Dry runs
// hold no tokens, so the loop does not start.
func (c *Coordinator) RunReconcile(ctx context.Context) {
	if c.exec.DryRun() {
		log.Info().Msg("coordinator: dry run, balance reconciliation disabled")
		return
	}
	c.every(ctx, c.config.ReconcileInterval, func() {
		if n := c.positions.Reconcile(ctx, c.exec); n > 0 {
			log.Warn().Int("removed", n).Msg("coordinator: reconciled positions with chain")
		}
	})
}

// RunHousekeeping purges stale pending buys, evaluates time stops and
// prunes the candidate, cooldown, creator and trend state.
func (c *Coordinator) RunHousekeeping(ctx context.Context) {
	c.every(ctx, c.config.CheckInterval, func() { c.Housekeep(ctx) })
}

func (c *Coordinator) Housekeep(ctx context.Context) {
	c.positions.CheckTimeouts(ctx)
	c.pruneCandidates()
	c.filter.CleanupCreatorHistory()
	c.trend.Prune()
}

func (c *Coordinator) pruneCandidates() int {
	now := c.now()
	removed := 0
	c.mu.Lock()
	defer c.mu.Unlock()
	for token, cand := range c.candidates {
		born := cand.hist.info.LaunchTime
		if born.IsZero() || born.After(cand.added) {
			born = cand.added
		}
		if now.Sub(born) > c.config.WatchTTL {
			if _, busy := c.inflight[token]; busy {
				continue
			}
			delete(c.candidates, token)
			removed++
		}
	}
	for token, until := range c.cooldowns {
		if now.After(until) {
			if _, ok := c.candidates[token]; !ok {
				delete(c.cooldowns, token)
			}
		}
	}
	return removed
}

func (c *Coordinator) every(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// ---------------------------------------------------------------------------
// Control plane
// ---------------------------------------------------------------------------

// Pause stops new entries. Open positions keep being managed.
func (c *Coordinator) Pause(reason string) { c.risk.Pause(reason) }

func (c *Coordinator) Resume() bool { return c.risk.Resume() }

// Kill stops buying for the life of the process and liquidates everything.
func (c *Coordinator) Kill(ctx context.Context) (int, error) {
	c.risk.Kill()
	return c.positions.CloseAll(ctx, position.ReasonKilled)
}

// Liquidate closes every position for shutdown.
func (c *Coordinator) Liquidate(ctx context.Context) (int, error) {
	return c.positions.CloseAll(ctx, position.ReasonShutdown)
}

// Stats is a snapshot of coordinator activity.
type Stats struct {
	TokensCreated int64 `json:"tokens_created"`
	Accepted      int64 `json:"accepted"`
	Signals       int64 `json:"cluster_signals"`
	Scored        int64 `json:"scored"`
	ScorePassed   int64 `json:"score_passed"`
	BuyAttempts   int64 `json:"buy_attempts"`
	BuysSubmitted int64 `json:"buys_submitted"`
	NotReady      int64 `json:"not_ready"`
	BuysFailed    int64 `json:"buys_failed"`
	RiskDenied    int64 `json:"risk_denied"`
	Graduated     int64 `json:"graduated_closes"`
	PriceErrors   int64 `json:"price_sync_errors"`
	Candidates    int   `json:"candidates"`
	Cooldowns     int   `json:"cooldowns"`
	InFlight      int   `json:"in_flight"`
	ScoringMode   bool  `json:"scoring_mode"`
}

func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	cands, cools, inflight := len(c.candidates), len(c.cooldowns), len(c.inflight)
	c.mu.Unlock()
	return Stats{
		TokensCreated: c.created.Load(),
		Accepted:      c.accepted.Load(),
		Signals:       c.signals.Load(),
		Scored:        c.scored.Load(),
		ScorePassed:   c.scorePassed.Load(),
		BuyAttempts:   c.attempts.Load(),
		BuysSubmitted: c.submitted.Load(),
		NotReady:      c.notReady.Load(),
		BuysFailed:    c.failed.Load(),
		RiskDenied:    c.denied.Load(),
		Graduated:     c.graduated.Load(),
		PriceErrors:   c.priceErrs.Load(),
		Candidates:    cands,
		Cooldowns:     cools,
		InFlight:      inflight,
		ScoringMode:   c.scorer != nil,
	}
}

func tokenInfo(ev events.Event) filter.TokenInfo {
	cr := ev.Create
	info := filter.TokenInfo{
		Token:       cr.Token,
		Creator:     cr.Creator,
		Name:        cr.Name,
		Symbol:      cr.Symbol,
		TotalSupply: events.FromWei(cr.TotalSupply),
		LaunchFee:   events.FromWei(cr.LaunchFee),
	}
	if cr.LaunchTime != nil && cr.LaunchTime.Sign() > 0 {
		info.LaunchTime = time.Unix(cr.LaunchTime.Int64(), 0)
	} else {
		info.LaunchTime = ev.DiscoveredAt
	}
	return info
}
