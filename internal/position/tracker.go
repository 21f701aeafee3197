package position

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/fourmeme-hunter/internal/executor"
	"github.com/nexus-trading/fourmeme-hunter/internal/observability"
	"github.com/nexus-trading/fourmeme-hunter/internal/records"
	"github.com/nexus-trading/fourmeme-hunter/internal/store"
)

var ErrPositionExists = errors.New("position already open")

// Seller executes sells. Amount is in token wei.
type Seller interface {
	SellToken(ctx context.Context, token common.Address, amount *big.Int) (executor.TxResult, error)
}

// BalanceReader reads the wallet's on-chain token balance.
type BalanceReader interface {
	TokenBalance(ctx context.Context, token common.Address) (*big.Int, error)
}

// RiskLedger is the part of the risk manager the tracker reports to.
type RiskLedger interface {
	RecordSell(token common.Address)
	RecordPnL(pnl decimal.Decimal)
	Release(token common.Address)
	Adopt(token common.Address, amount decimal.Decimal)
}

type nopLedger struct{}

func (nopLedger) RecordSell(common.Address)             {}
func (nopLedger) RecordPnL(decimal.Decimal)             {}
func (nopLedger) Release(common.Address)                {}
func (nopLedger) Adopt(common.Address, decimal.Decimal) {}

// entry guards one position. Lock order is entry.mu before Tracker.mu.
type entry struct {
	mu  sync.Mutex
	pos *Position
}

// Tracker owns all open positions.
type Tracker struct {
	config  Config
	seller  Seller
	risk    RiskLedger
	store   store.Store
	sink    records.Sink
	metrics *observability.Metrics
	now     func() time.Time

	mu        sync.RWMutex
	positions map[common.Address]*entry

	totalsMu sync.Mutex
	realized decimal.Decimal
	invested decimal.Decimal
	feesPaid decimal.Decimal

	filled       atomic.Int64
	closed       atomic.Int64
	wins         atomic.Int64
	losses       atomic.Int64
	sellFailures atomic.Int64
	purged       atomic.Int64
}

func New(cfg Config, seller Seller, risk RiskLedger, st store.Store, sink records.Sink, metrics *observability.Metrics) *Tracker {
	if risk == nil {
		risk = nopLedger{}
	}
	if st == nil {
		st = store.Nop{}
	}
	if sink == nil {
		sink = records.MultiSink{}
	}
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}
	if cfg.LogInterval <= 0 {
		cfg.LogInterval = 10 * time.Second
	}
	return &Tracker{
		config:    cfg,
		seller:    seller,
		risk:      risk,
		store:     st,
		sink:      sink,
		metrics:   metrics,
		now:       time.Now,
		positions: make(map[common.Address]*entry),
	}
}

// Open registers a submitted buy whose fill has not been seen yet. Prices
// stay zero until the first trade event for the token.
func (t *Tracker) Open(ctx context.Context, token common.Address, symbol, txHash string, invested, buyFee decimal.Decimal) (Position, error) {
	p := t.newPosition(token, symbol, txHash, invested, buyFee)
	p.Status = StatusPendingBuy
	if err := t.insert(ctx, p); err != nil {
		return Position{}, err
	}
	log.Info().
		Str("token", token.Hex()).
		Str("symbol", symbol).
		Str("tx", txHash).
		Str("invested", invested.String()).
		Msg("position: pending buy opened")
	return *p, nil
}

// OpenFilled registers a buy with a known fill.
func (t *Tracker) OpenFilled(ctx context.Context, token common.Address, symbol, txHash string, entryPrice, amount, invested, buyFee decimal.Decimal) (Position, error) {
	p := t.newPosition(token, symbol, txHash, invested, buyFee)
	now := t.now()
	p.Status = StatusHolding
	p.EntryPrice = entryPrice
	p.PeakPrice = entryPrice
	p.TotalAmount = amount
	p.Remaining = amount
	p.FilledAt = now
	if err := t.insert(ctx, p); err != nil {
		return Position{}, err
	}
	t.recordOpen(ctx, p)
	return *p, nil
}

func (t *Tracker) newPosition(token common.Address, symbol, txHash string, invested, buyFee decimal.Decimal) *Position {
	gas := t.config.GasPerTx
	return &Position{
		ID:        uuid.NewString(),
		Token:     token,
		Symbol:    symbol,
		BuyTxHash: txHash,
		Invested:  invested,
		BuyFee:    buyFee,
		TotalCost: invested.Add(buyFee).Add(gas),
		FeesPaid:  buyFee.Add(gas),
		OpenedAt:  t.now(),
	}
}

func (t *Tracker) insert(ctx context.Context, p *Position) error {
	t.mu.Lock()
	if _, ok := t.positions[p.Token]; ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPositionExists, p.Token.Hex())
	}
	t.positions[p.Token] = &entry{pos: p}
	n := len(t.positions)
	t.mu.Unlock()

	t.totalsMu.Lock()
	t.invested = t.invested.Add(p.TotalCost)
	t.feesPaid = t.feesPaid.Add(p.FeesPaid)
	t.saveTotalsLocked(ctx)
	t.totalsMu.Unlock()

	t.metrics.OpenPositions.Set(float64(n))
	t.save(ctx, p)
	return nil
}

// OnPriceUpdate applies an observed price and runs the exit rules. A failed
// sell is returned and leaves the position as it was, so the next update
// retries it.
func (t *Tracker) OnPriceUpdate(ctx context.Context, token common.Address, price decimal.Decimal) error {
	if !price.IsPositive() {
		return nil
	}
	e := t.lookup(token)
	if e == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.pos
	if p.Status == StatusClosed {
		return nil
	}

	now := t.now()
	p.LastPrice = price
	p.LastPriceAt = now
	if p.Status == StatusPendingBuy {
		t.backfill(ctx, p, price, now)
	}
	t.logPnL(p, price, now)

	err := t.evaluate(ctx, p, price, now)
	if p.Status != StatusClosed {
		t.save(ctx, p)
	}
	return err
}

// backfill turns a pending buy into a holding using the first fill price
// plus configured slippage.
func (t *Tracker) backfill(ctx context.Context, p *Position, price decimal.Decimal, now time.Time) {
	entryPrice := price.Mul(decimal.NewFromInt(1).Add(t.config.SlippagePct.Div(hundred)))
	amount := p.Invested.Div(entryPrice).Truncate(18)

	p.EntryPrice = entryPrice
	p.PeakPrice = entryPrice
	p.TotalAmount = amount
	p.Remaining = amount
	p.Status = StatusHolding
	p.FilledAt = now

	t.recordOpen(ctx, p)
}

func (t *Tracker) recordOpen(ctx context.Context, p *Position) {
	t.filled.Add(1)
	log.Info().
		Str("token", p.Token.Hex()).
		Str("symbol", p.Symbol).
		Str("entry_price", p.EntryPrice.String()).
		Str("amount", p.TotalAmount.StringFixed(2)).
		Str("invested", p.Invested.String()).
		Msg("position: filled")
	t.writeTrade(ctx, records.TradeRecord{
		Action:    records.ActionOpen,
		Token:     p.Token.Hex(),
		Symbol:    p.Symbol,
		Price:     p.EntryPrice,
		Amount:    p.TotalAmount,
		BNB:       p.Invested,
		TxHash:    p.BuyTxHash,
		Timestamp: p.FilledAt,
	})
}

func (t *Tracker) evaluate(ctx context.Context, p *Position, price decimal.Decimal, now time.Time) error {
	cfg := t.config
	held := now.Sub(p.OpenedAt)

	switch p.Status {
	case StatusHolding:
		pnl := p.PnLPct(price)
		switch {
		case pnl.LessThanOrEqual(cfg.StopLossPct):
			return t.sellAll(ctx, p, price, ReasonStopLoss)
		case pnl.GreaterThanOrEqual(cfg.TakeProfitPct):
			if !cfg.KeepMoonshot || cfg.TakeProfitSellPct.GreaterThanOrEqual(hundred) {
				return t.sellAll(ctx, p, price, ReasonTakeProfit)
			}
			return t.sellPartial(ctx, p, price, cfg.TakeProfitSellPct)
		case cfg.MaxHold > 0 && held > cfg.MaxHold:
			return t.sellAll(ctx, p, price, ReasonTimeStop)
		}

	case StatusPartialSold:
		if price.GreaterThan(p.PeakPrice) {
			p.PeakPrice = price
		}
		pnl := p.PnLPct(price)
		drawdown := decimal.Zero
		if p.PeakPrice.IsPositive() {
			drawdown = price.Sub(p.PeakPrice).Div(p.PeakPrice).Mul(hundred)
		}
		switch {
		case pnl.GreaterThanOrEqual(cfg.MoonshotProfitPct):
			return t.sellAll(ctx, p, price, ReasonMoonshotProfit)
		case drawdown.LessThanOrEqual(cfg.MoonshotStopLossPct):
			return t.sellAll(ctx, p, price, ReasonMoonshotDrawdown)
		case cfg.MoonshotMaxHold > 0 && held > cfg.MoonshotMaxHold:
			return t.sellAll(ctx, p, price, ReasonMoonshotTimeStop)
		}
	}
	return nil
}

// sellPartial sells pct percent of the remaining amount and keeps the rest
// under moonshot rules.
func (t *Tracker) sellPartial(ctx context.Context, p *Position, price, pct decimal.Decimal) error {
	amount := p.Remaining.Mul(pct).Div(hundred).Truncate(18)
	if !amount.IsPositive() {
		log.Warn().Str("token", p.Token.Hex()).Msg("position: partial sell amount is zero, skipping")
		return nil
	}

	res, sold, pnl, err := t.sell(ctx, p, amount, price, ReasonTakeProfit, false)
	if err != nil {
		return err
	}
	amount = sold

	p.Remaining = p.Remaining.Sub(amount)
	p.Status = StatusPartialSold
	p.FirstSellPrice = price
	p.PeakPrice = price

	log.Info().
		Str("token", p.Token.Hex()).
		Str("sold", amount.StringFixed(2)).
		Str("remaining", p.Remaining.StringFixed(2)).
		Str("pnl", pnl.StringFixed(6)).
		Msg("position: partial sell executed")

	t.writeTrade(ctx, records.TradeRecord{
		Action:    records.ActionPartial,
		Token:     p.Token.Hex(),
		Symbol:    p.Symbol,
		Price:     price,
		Amount:    amount,
		BNB:       amount.Mul(price),
		PnL:       pnl,
		Reason:    ReasonTakeProfit,
		TxHash:    res.TxHash,
		Timestamp: t.now(),
	})
	return nil
}

// sellAll liquidates the remainder and removes the position.
func (t *Tracker) sellAll(ctx context.Context, p *Position, price decimal.Decimal, reason string) error {
	amount := p.Remaining
	if !amount.IsPositive() {
		log.Warn().Str("token", p.Token.Hex()).Str("reason", reason).Msg("position: nothing left to sell, removing")
		t.finish(ctx, p, reason)
		t.risk.RecordSell(p.Token)
		return nil
	}

	res, sold, pnl, err := t.sell(ctx, p, amount, price, reason, true)
	if err != nil {
		return err
	}
	amount = sold

	p.Remaining = decimal.Zero
	if p.RealizedPnL.IsPositive() {
		t.wins.Add(1)
	} else if p.RealizedPnL.IsNegative() {
		t.losses.Add(1)
	}
	t.closed.Add(1)

	log.Info().
		Str("token", p.Token.Hex()).
		Str("symbol", p.Symbol).
		Str("reason", reason).
		Str("price", price.String()).
		Str("pnl", pnl.StringFixed(6)).
		Str("position_pnl", p.RealizedPnL.StringFixed(6)).
		Str("tx", res.TxHash).
		Msg("position: closed")

	t.writeTrade(ctx, records.TradeRecord{
		Action:    records.ActionClose,
		Token:     p.Token.Hex(),
		Symbol:    p.Symbol,
		Price:     price,
		Amount:    amount,
		BNB:       amount.Mul(price),
		PnL:       pnl,
		Reason:    reason,
		TxHash:    res.TxHash,
		Timestamp: t.now(),
	})

	t.finish(ctx, p, reason)
	t.risk.RecordSell(p.Token)
	return nil
}

// sell submits the order and books proceeds and fees on the amount the
// seller reports as sold, which may be below amount when the wallet holds
// less. The cost share follows the sold amount, or all of amount when final
// since the position leaves the book. Returns the sold amount. The position
// is untouched when the sell fails.
func (t *Tracker) sell(ctx context.Context, p *Position, amount, price decimal.Decimal, reason string, final bool) (executor.TxResult, decimal.Decimal, decimal.Decimal, error) {
	res, err := t.seller.SellToken(ctx, p.Token, toWei(amount))
	if err != nil {
		t.sellFailures.Add(1)
		log.Warn().Err(err).
			Str("token", p.Token.Hex()).
			Str("reason", reason).
			Str("amount", amount.String()).
			Msg("position: sell failed, will retry on next evaluation")
		return executor.TxResult{}, decimal.Zero, decimal.Zero, fmt.Errorf("sell %s: %w", reason, err)
	}

	sold := amount
	if res.Amount != nil {
		if got := fromWei(res.Amount); got.LessThan(amount) {
			log.Warn().
				Str("token", p.Token.Hex()).
				Str("requested", amount.String()).
				Str("sold", got.String()).
				Msg("position: sell clamped to wallet balance")
			sold = got
		}
	}
	costed := sold
	if final {
		costed = amount
	}

	proceeds := sold.Mul(price)
	fees := proceeds.Mul(t.config.SellFeePct).Div(hundred).Add(t.config.GasPerTx)
	pnl := proceeds.Sub(fees).Sub(p.CostShare(costed))

	p.Proceeds = p.Proceeds.Add(proceeds)
	p.FeesPaid = p.FeesPaid.Add(fees)
	p.RealizedPnL = p.RealizedPnL.Add(pnl)

	t.totalsMu.Lock()
	t.realized = t.realized.Add(pnl)
	t.feesPaid = t.feesPaid.Add(fees)
	realized := t.realized
	t.saveTotalsLocked(ctx)
	t.totalsMu.Unlock()

	t.risk.RecordPnL(pnl)
	t.metrics.PositionExits.WithLabelValues(reason).Inc()
	t.metrics.RealizedPnL.Set(realized.InexactFloat64())
	return res, sold, pnl, nil
}

// finish marks p closed and drops it from the active map and the store.
// Caller holds the entry lock.
func (t *Tracker) finish(ctx context.Context, p *Position, reason string) {
	p.Status = StatusClosed
	p.CloseReason = reason

	t.mu.Lock()
	if e, ok := t.positions[p.Token]; ok && e.pos == p {
		delete(t.positions, p.Token)
	}
	n := len(t.positions)
	t.mu.Unlock()

	t.metrics.OpenPositions.Set(float64(n))
	if err := t.store.Delete(ctx, p.Token.Hex()); err != nil {
		log.Warn().Err(err).Str("token", p.Token.Hex()).Msg("position: snapshot delete failed")
	}
}

// purge drops an unfilled buy and frees its risk slot. Daily counters keep
// the reservation.
func (t *Tracker) purge(ctx context.Context, p *Position, reason string) {
	t.finish(ctx, p, reason)
	t.risk.Release(p.Token)
	t.purged.Add(1)
	log.Info().
		Str("token", p.Token.Hex()).
		Str("reason", reason).
		Dur("age", t.now().Sub(p.OpenedAt)).
		Msg("position: unfilled buy removed")
}

// CheckTimeouts purges stale pending buys and runs the exit rules at the
// last known price, which is where time-stops fire when no trades arrive.
// Returns the number of purged pending buys.
func (t *Tracker) CheckTimeouts(ctx context.Context) int {
	purged := 0
	for _, e := range t.entries() {
		e.mu.Lock()
		p := e.pos
		now := t.now()
		switch p.Status {
		case StatusPendingBuy:
			if t.config.PendingTimeout > 0 && now.Sub(p.OpenedAt) > t.config.PendingTimeout {
				t.purge(ctx, p, ReasonPendingTimeout)
				purged++
			}
		case StatusHolding, StatusPartialSold:
			price := p.LastPrice
			if !price.IsPositive() {
				price = p.EntryPrice
			}
			if err := t.evaluate(ctx, p, price, now); err != nil {
				log.Warn().Err(err).Str("token", p.Token.Hex()).Msg("position: periodic exit failed")
			}
			if p.Status != StatusClosed {
				t.save(ctx, p)
			}
		}
		e.mu.Unlock()
	}
	return purged
}

// Close liquidates one position at price, or at the last known price when
// price is zero. Unfilled buys are removed without a trade.
func (t *Tracker) Close(ctx context.Context, token common.Address, price decimal.Decimal, reason string) error {
	e := t.lookup(token)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.pos
	switch p.Status {
	case StatusClosed:
		return nil
	case StatusPendingBuy:
		t.purge(ctx, p, reason)
		return nil
	}
	if !price.IsPositive() {
		price = p.LastPrice
	}
	if !price.IsPositive() {
		price = p.EntryPrice
	}
	return t.sellAll(ctx, p, price, reason)
}

// CloseAll force-liquidates every open position with reason.
func (t *Tracker) CloseAll(ctx context.Context, reason string) (int, error) {
	tokens := t.Tokens()
	if len(tokens) == 0 {
		return 0, nil
	}
	log.Warn().Int("positions", len(tokens)).Str("reason", reason).Msg("position: closing all positions")

	var errs []error
	closed := 0
	for _, token := range tokens {
		if err := t.Close(ctx, token, decimal.Zero, reason); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", token.Hex(), err))
			continue
		}
		closed++
	}
	return closed, errors.Join(errs...)
}

// Reconcile drops filled positions whose wallet balance is zero, e.g. sold
// outside this process or lost to an unknown sell receipt.
func (t *Tracker) Reconcile(ctx context.Context, reader BalanceReader) int {
	removed := 0
	for _, e := range t.entries() {
		e.mu.Lock()
		p := e.pos
		if p.Status != StatusHolding && p.Status != StatusPartialSold {
			e.mu.Unlock()
			continue
		}
		bal, err := reader.TokenBalance(ctx, p.Token)
		if err != nil {
			e.mu.Unlock()
			log.Warn().Err(err).Str("token", p.Token.Hex()).Msg("position: balance read failed")
			continue
		}
		if bal.Sign() == 0 {
			log.Warn().
				Str("token", p.Token.Hex()).
				Str("remaining", p.Remaining.String()).
				Msg("position: zero on-chain balance, removing")
			t.finish(ctx, p, ReasonReconciledNoFunds)
			t.risk.RecordSell(p.Token)
			t.metrics.PositionExits.WithLabelValues(ReasonReconciledNoFunds).Inc()
			removed++
		}
		e.mu.Unlock()
	}
	return removed
}

// Restore loads open positions and the running totals from the store and
// re-occupies the positions' risk slots. Without saved totals the invested
// and fee totals are seeded from the restored positions.
func (t *Tracker) Restore(ctx context.Context) (int, error) {
	snaps, err := t.store.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load positions: %w", err)
	}
	totals, haveTotals, err := t.store.LoadTotals(ctx)
	if err != nil {
		return 0, fmt.Errorf("load totals: %w", err)
	}

	var seedInvested, seedFees, seedRealized decimal.Decimal
	restored := 0
	t.mu.Lock()
	for _, s := range snaps {
		if Status(s.Status) == StatusClosed {
			continue
		}
		p := fromSnapshot(s)
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if _, ok := t.positions[p.Token]; ok {
			continue
		}
		t.positions[p.Token] = &entry{pos: p}
		t.risk.Adopt(p.Token, p.Invested)
		seedInvested = seedInvested.Add(p.TotalCost)
		seedFees = seedFees.Add(p.FeesPaid)
		seedRealized = seedRealized.Add(p.RealizedPnL)
		restored++
	}
	n := len(t.positions)
	t.mu.Unlock()

	t.totalsMu.Lock()
	if haveTotals {
		t.realized = t.realized.Add(totals.Realized)
		t.invested = t.invested.Add(totals.Invested)
		t.feesPaid = t.feesPaid.Add(totals.FeesPaid)
	} else {
		t.realized = t.realized.Add(seedRealized)
		t.invested = t.invested.Add(seedInvested)
		t.feesPaid = t.feesPaid.Add(seedFees)
	}
	realized, invested := t.realized, t.invested
	t.totalsMu.Unlock()

	t.metrics.OpenPositions.Set(float64(n))
	t.metrics.RealizedPnL.Set(realized.InexactFloat64())
	if restored > 0 || haveTotals {
		log.Info().
			Int("positions", restored).
			Bool("totals", haveTotals).
			Str("realized", realized.String()).
			Str("invested", invested.String()).
			Msg("position: restored from store")
	}
	return restored, nil
}

func (t *Tracker) lookup(token common.Address) *entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.positions[token]
}

func (t *Tracker) entries() []*entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*entry, 0, len(t.positions))
	for _, e := range t.positions {
		out = append(out, e)
	}
	return out
}

func (t *Tracker) Has(token common.Address) bool {
	return t.lookup(token) != nil
}

// Get returns a copy of the position for token.
func (t *Tracker) Get(token common.Address) (Position, bool) {
	e := t.lookup(token)
	if e == nil {
		return Position{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.pos, true
}

// Tokens lists tokens with an open position.
func (t *Tracker) Tokens() []common.Address {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]common.Address, 0, len(t.positions))
	for token := range t.positions {
		out = append(out, token)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hex() < out[j].Hex() })
	return out
}

// Positions returns copies of all open positions, oldest first.
func (t *Tracker) Positions() []Position {
	var out []Position
	for _, e := range t.entries() {
		e.mu.Lock()
		if e.pos.Status != StatusClosed {
			out = append(out, *e.pos)
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

func (t *Tracker) save(ctx context.Context, p *Position) {
	if err := t.store.Save(ctx, p.snapshot(t.now())); err != nil {
		log.Warn().Err(err).Str("token", p.Token.Hex()).Msg("position: snapshot save failed")
	}
}

// saveTotalsLocked persists the running totals. Caller holds totalsMu so
// writes reach the store in update order.
func (t *Tracker) saveTotalsLocked(ctx context.Context) {
	totals := store.Totals{
		Realized:  t.realized,
		Invested:  t.invested,
		FeesPaid:  t.feesPaid,
		UpdatedAt: t.now(),
	}
	if err := t.store.SaveTotals(ctx, totals); err != nil {
		log.Warn().Err(err).Msg("position: totals save failed")
	}
}

func (t *Tracker) writeTrade(ctx context.Context, rec records.TradeRecord) {
	if err := t.sink.WriteTrade(ctx, rec); err != nil {
		log.Warn().Err(err).Str("action", rec.Action).Str("token", rec.Token).Msg("position: trade record failed")
	}
}

// logPnL prints a throttled mark-to-market line for p.
func (t *Tracker) logPnL(p *Position, price decimal.Decimal, now time.Time) {
	if p.Status == StatusPendingBuy || now.Sub(p.LastLogAt) < t.config.LogInterval {
		return
	}
	p.LastLogAt = now
	log.Info().
		Str("token", p.Token.Hex()).
		Str("status", string(p.Status)).
		Str("price", price.String()).
		Str("pnl_pct", p.PnLPct(price).StringFixed(2)).
		Str("net_bnb", t.netValue(p, price).Sub(p.CostShare(p.Remaining)).StringFixed(5)).
		Msg("position: pnl update")
}

// netValue is what selling the remainder at price would return after fees.
func (t *Tracker) netValue(p *Position, price decimal.Decimal) decimal.Decimal {
	gross := p.Remaining.Mul(price)
	return gross.Sub(gross.Mul(t.config.SellFeePct).Div(hundred)).Sub(t.config.GasPerTx)
}

// TrackerStats summarises open and closed positions.
type TrackerStats struct {
	Active        int             `json:"active"`
	Pending       int             `json:"pending"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	Invested      decimal.Decimal `json:"invested"`
	FeesPaid      decimal.Decimal `json:"fees_paid"`
	Filled        int64           `json:"filled"`
	Closed        int64           `json:"closed"`
	Wins          int64           `json:"wins"`
	Losses        int64           `json:"losses"`
	WinRate       float64         `json:"win_rate"`
	SellFailures  int64           `json:"sell_failures"`
	Purged        int64           `json:"purged"`
}

// Stats values unrealized PnL at each position's last price against its
// remaining cost share.
func (t *Tracker) Stats() TrackerStats {
	s := TrackerStats{
		UnrealizedPnL: decimal.Zero,
		Filled:        t.filled.Load(),
		Closed:        t.closed.Load(),
		Wins:          t.wins.Load(),
		Losses:        t.losses.Load(),
		SellFailures:  t.sellFailures.Load(),
		Purged:        t.purged.Load(),
	}
	for _, p := range t.Positions() {
		s.Active++
		if p.Status == StatusPendingBuy {
			s.Pending++
			continue
		}
		if p.LastPrice.IsPositive() {
			s.UnrealizedPnL = s.UnrealizedPnL.Add(p.Remaining.Mul(p.LastPrice).Sub(p.CostShare(p.Remaining)))
		}
	}

	t.totalsMu.Lock()
	s.RealizedPnL = t.realized
	s.Invested = t.invested
	s.FeesPaid = t.feesPaid
	t.totalsMu.Unlock()

	s.TotalPnL = s.RealizedPnL.Add(s.UnrealizedPnL)
	if s.Closed > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Closed)
	}
	return s
}

func toWei(amount decimal.Decimal) *big.Int {
	return amount.Shift(18).BigInt()
}

func fromWei(amount *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(amount, -18)
}
