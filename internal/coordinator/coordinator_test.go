package coordinator

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-trading/fourmeme-hunter/internal/events"
	"github.com/nexus-trading/fourmeme-hunter/internal/executor"
	"github.com/nexus-trading/fourmeme-hunter/internal/filter"
	"github.com/nexus-trading/fourmeme-hunter/internal/listener"
	"github.com/nexus-trading/fourmeme-hunter/internal/position"
	"github.com/nexus-trading/fourmeme-hunter/internal/records"
	"github.com/nexus-trading/fourmeme-hunter/internal/risk"
	"github.com/nexus-trading/fourmeme-hunter/internal/trend"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeExec struct {
	mu       sync.Mutex
	status   map[common.Address]executor.TokenStatus
	prices   map[common.Address]decimal.Decimal
	buyErr   error
	buyHash  string
	checks   int
	bought   []common.Address
	dry      bool
	balances map[common.Address]*big.Int
	onBuy    func(token common.Address)
}

func newFakeExec() *fakeExec {
	return &fakeExec{
		status:   make(map[common.Address]executor.TokenStatus),
		prices:   make(map[common.Address]decimal.Decimal),
		balances: make(map[common.Address]*big.Int),
	}
}

func (f *fakeExec) CheckTokenStatus(_ context.Context, token common.Address) executor.TokenStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	if st, ok := f.status[token]; ok {
		return st
	}
	return executor.TokenStatus{Exists: true, Ready: true, Reason: executor.StatusReady, Price: decimal.RequireFromString("0.00000001")}
}

func (f *fakeExec) BuyToken(_ context.Context, token common.Address, _ decimal.Decimal, _ executor.BuyOptions) (executor.TxResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hash := f.buyHash
	if hash == "" {
		hash = fmt.Sprintf("0xbuy%d", len(f.bought)+1)
	}
	if f.buyErr != nil {
		return executor.TxResult{TxHash: hash}, f.buyErr
	}
	f.bought = append(f.bought, token)
	if f.onBuy != nil {
		f.onBuy(token)
	}
	return executor.TxResult{TxHash: hash, Confirmed: true}, nil
}

func (f *fakeExec) LastPrice(_ context.Context, token common.Address) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[token]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for %s", token.Hex())
	}
	return p, nil
}

func (f *fakeExec) TokenBalance(_ context.Context, token common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.balances[token]; ok {
		return b, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeExec) DryRun() bool { return f.dry }

func (f *fakeExec) setStatus(token common.Address, st executor.TokenStatus) {
	f.mu.Lock()
	f.status[token] = st
	f.mu.Unlock()
}

func (f *fakeExec) boughtCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bought)
}

func (f *fakeExec) checkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checks
}

type fakeSeller struct {
	mu    sync.Mutex
	sells []common.Address
}

func (s *fakeSeller) SellToken(_ context.Context, token common.Address, _ *big.Int) (executor.TxResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sells = append(s.sells, token)
	return executor.TxResult{TxHash: fmt.Sprintf("0xsell%d", len(s.sells)), Confirmed: true}, nil
}

func (s *fakeSeller) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sells)
}

type captureSink struct {
	mu     sync.Mutex
	events []records.EventRecord
	trades []records.TradeRecord
}

func (s *captureSink) WriteEvent(_ context.Context, r records.EventRecord) error {
	s.mu.Lock()
	s.events = append(s.events, r)
	s.mu.Unlock()
	return nil
}

func (s *captureSink) WriteTrade(_ context.Context, r records.TradeRecord) error {
	s.mu.Lock()
	s.trades = append(s.trades, r)
	s.mu.Unlock()
	return nil
}

func (s *captureSink) lastTrade() records.TradeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.trades) == 0 {
		return records.TradeRecord{}
	}
	return s.trades[len(s.trades)-1]
}

type fakeSource struct {
	handlers  map[events.Kind]int
	observers int
}

func (s *fakeSource) Register(kind events.Kind, _ listener.Handler) { s.handlers[kind]++ }
func (s *fakeSource) Observe(listener.Observer)                     { s.observers++ }

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type fixture struct {
	coord  *Coordinator
	exec   *fakeExec
	seller *fakeSeller
	sink   *captureSink
	risk   *risk.Manager
	pos    *position.Tracker
	clock  time.Time
}

func (f *fixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

func positionConfig() position.Config {
	cfg := position.DefaultConfig()
	cfg.SlippagePct = decimal.Zero
	cfg.GasPerTx = decimal.Zero
	cfg.SellFeePct = decimal.Zero
	return cfg
}

func newFixture(t *testing.T, mutate func(*Config), scorer Scorer) *fixture {
	t.Helper()

	fcfg := filter.DefaultConfig()
	fcfg.CheckCreator = false

	rm := risk.New(risk.Config{
		MaxDailyTrades:         10,
		MaxDailyInvestment:     decimal.NewFromInt(1),
		MaxConcurrentPositions: 5,
	}, nil)

	fx := &fixture{
		exec:   newFakeExec(),
		seller: &fakeSeller{},
		sink:   &captureSink{},
		risk:   rm,
		clock:  time.Now(),
	}
	fx.pos = position.New(positionConfig(), fx.seller, rm, nil, fx.sink, nil)

	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	fx.coord = New(cfg, filter.New(fcfg, nil, nil), trend.New(trend.DefaultConfig()), rm, fx.exec, fx.pos, fx.sink, scorer, nil)
	fx.coord.now = func() time.Time { return fx.clock }
	return fx
}

func addr(n int64) common.Address { return common.BigToAddress(big.NewInt(n)) }

func wei(s string) *big.Int { return events.ToWei(decimal.RequireFromString(s)) }

func createEvent(token common.Address, symbol string) events.Event {
	return events.Event{
		Kind:         events.KindTokenCreate,
		Variant:      "TokenCreate",
		DiscoveredAt: time.Now(),
		TxHash:       common.BytesToHash(token.Bytes()),
		Create: &events.TokenCreate{
			Creator:     addr(0xc0),
			Token:       token,
			Name:        symbol + " coin",
			Symbol:      symbol,
			TotalSupply: wei("1000000000"),
			LaunchTime:  big.NewInt(time.Now().Unix()),
			LaunchFee:   wei("0.02"),
		},
	}
}

// tradeEvent prices a trade at cost/amount BNB per token.
func tradeEvent(kind events.Kind, token, account common.Address, amount, cost string) events.Event {
	return events.Event{
		Kind:         kind,
		Variant:      kind.String(),
		DiscoveredAt: time.Now(),
		Trade: &events.Trade{
			Token:   token,
			Account: account,
			Amount:  wei(amount),
			Cost:    wei(cost),
			Fee:     big.NewInt(0),
		},
	}
}

// buy at 1e-8 BNB per token
func buyAt1(token common.Address) events.Event {
	return tradeEvent(events.KindTokenPurchase, token, addr(0xb1), "1000000", "0.01")
}

func (f *fixture) cluster(t *testing.T, tokens ...common.Address) {
	t.Helper()
	ctx := context.Background()
	for i, token := range tokens {
		require.NoError(t, f.coord.OnTokenCreate(ctx, createEvent(token, fmt.Sprintf("PEPE%d", i))))
	}
	f.coord.Wait()
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestAttachRegistersHandlers(t *testing.T) {
	fx := newFixture(t, nil, nil)
	src := &fakeSource{handlers: make(map[events.Kind]int)}
	fx.coord.Attach(src)

	assert.Equal(t, 1, src.handlers[events.KindTokenCreate])
	assert.Equal(t, 1, src.handlers[events.KindTokenPurchase])
	assert.Equal(t, 1, src.handlers[events.KindTokenSale])
	assert.Equal(t, 1, src.handlers[events.KindTradeStop])
	assert.Equal(t, 1, src.observers)
}

func TestClusterSignalBuysEveryToken(t *testing.T) {
	fx := newFixture(t, nil, nil)
	tokens := []common.Address{addr(1), addr(2), addr(3)}

	fx.cluster(t, tokens[:2]...)
	assert.Zero(t, fx.exec.boughtCount(), "no buy before the threshold")

	require.NoError(t, fx.coord.OnTokenCreate(context.Background(), createEvent(tokens[2], "PEPE2")))
	fx.coord.Wait()
	assert.Equal(t, 3, fx.exec.boughtCount())
	for _, token := range tokens {
		p, ok := fx.pos.Get(token)
		require.True(t, ok)
		assert.Equal(t, position.StatusPendingBuy, p.Status)
		assert.Equal(t, "0.0005", p.BuyFee.String())
	}
	assert.Equal(t, 3, fx.risk.ActiveCount())

	s := fx.coord.Stats()
	assert.Equal(t, int64(3), s.BuysSubmitted)
	assert.Zero(t, s.Candidates)
}

func TestFilterRejectStopsPipeline(t *testing.T) {
	fx := newFixture(t, nil, nil)
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, fx.coord.OnTokenCreate(context.Background(), createEvent(addr(i), "RUGPULL")))
	}
	fx.coord.Wait()

	assert.Zero(t, fx.exec.boughtCount())
	assert.Zero(t, fx.coord.Stats().Accepted)
	assert.Zero(t, fx.coord.trend.Stats().TokensSeen)
}

func TestClusterDisabledCollectsOnly(t *testing.T) {
	fx := newFixture(t, func(c *Config) { c.ClusterEnabled = false }, nil)
	fx.cluster(t, addr(1), addr(2), addr(3))

	assert.Zero(t, fx.exec.boughtCount())
	assert.Equal(t, 3, fx.coord.Stats().Candidates)
}

func TestNotReadyTokenRetriesAfterCooldown(t *testing.T) {
	fx := newFixture(t, nil, nil)
	late := addr(3)
	fx.exec.setStatus(late, executor.TokenStatus{Exists: true, Reason: executor.StatusNotLaunched})

	fx.cluster(t, addr(1), addr(2), late)
	assert.Equal(t, 2, fx.exec.boughtCount())
	assert.False(t, fx.risk.IsActive(late), "slot released")
	assert.Equal(t, int64(1), fx.coord.Stats().NotReady)

	// still cooling down
	fx.exec.setStatus(late, executor.TokenStatus{Exists: true, Ready: true, Reason: executor.StatusReady})
	require.NoError(t, fx.coord.OnTrade(context.Background(), buyAt1(late)))
	fx.coord.Wait()
	assert.Equal(t, 2, fx.exec.boughtCount())

	fx.advance(1100 * time.Millisecond)
	require.NoError(t, fx.coord.OnTrade(context.Background(), buyAt1(late)))
	fx.coord.Wait()
	assert.Equal(t, 3, fx.exec.boughtCount())
	assert.True(t, fx.pos.Has(late))
}

func TestGraduatedStatusParksForAnHour(t *testing.T) {
	fx := newFixture(t, nil, nil)
	done := addr(3)
	fx.exec.setStatus(done, executor.TokenStatus{Exists: true, Reason: executor.StatusGraduated})

	fx.cluster(t, addr(1), addr(2), done)
	checks := fx.exec.checkCount()

	fx.advance(30 * time.Minute)
	require.NoError(t, fx.coord.OnTrade(context.Background(), buyAt1(done)))
	fx.coord.Wait()
	assert.Equal(t, checks, fx.exec.checkCount(), "no status query during cooldown")
	assert.False(t, fx.pos.Has(done))
}

func TestRevertedBuyReleasesSlot(t *testing.T) {
	fx := newFixture(t, nil, nil)
	fx.exec.buyErr = fmt.Errorf("buy: %w", executor.ErrTransactionReverted)

	fx.cluster(t, addr(1), addr(2), addr(3))

	assert.Zero(t, fx.risk.ActiveCount())
	assert.Empty(t, fx.pos.Tokens())
	s := fx.coord.Stats()
	assert.Equal(t, int64(3), s.BuysFailed)
	assert.Equal(t, 3, s.Cooldowns)
}

func TestFailedPositionOpenReleasesSlot(t *testing.T) {
	fx := newFixture(t, nil, nil)
	taken := addr(1)
	// another path registers the token while the buy is in flight
	fx.exec.onBuy = func(token common.Address) {
		if token == taken {
			_, err := fx.pos.Open(context.Background(), token, "OTHER", "0xother", decimal.RequireFromString("0.01"), decimal.Zero)
			require.NoError(t, err)
		}
	}

	fx.cluster(t, addr(1), addr(2), addr(3))

	assert.Equal(t, 3, fx.exec.boughtCount())
	assert.Equal(t, 2, fx.risk.ActiveCount())
	assert.Equal(t, int64(1), fx.coord.Stats().BuysFailed)

	p, ok := fx.pos.Get(taken)
	require.True(t, ok)
	assert.Equal(t, "0xother", p.BuyTxHash)
}

func TestUnknownOutcomeTracksPending(t *testing.T) {
	fx := newFixture(t, nil, nil)
	fx.exec.buyErr = executor.ErrTransactionUnknown
	fx.exec.buyHash = "0xfeed"

	fx.cluster(t, addr(1), addr(2), addr(3))

	p, ok := fx.pos.Get(addr(1))
	require.True(t, ok)
	assert.Equal(t, position.StatusPendingBuy, p.Status)
	assert.Equal(t, "0xfeed", p.BuyTxHash)
}

func TestRiskDenialDisarms(t *testing.T) {
	fx := newFixture(t, nil, nil)
	fx.risk = risk.New(risk.Config{
		MaxDailyTrades:         10,
		MaxDailyInvestment:     decimal.NewFromInt(1),
		MaxConcurrentPositions: 2,
	}, nil)
	fx.coord.risk = fx.risk

	fx.cluster(t, addr(1), addr(2), addr(3))
	assert.Equal(t, 2, fx.exec.boughtCount())
	assert.Equal(t, int64(1), fx.coord.Stats().RiskDenied)

	require.NoError(t, fx.coord.OnTrade(context.Background(), buyAt1(addr(3))))
	fx.coord.Wait()
	assert.Equal(t, 2, fx.exec.boughtCount())
}

func TestTradeBackfillsAndTakesProfit(t *testing.T) {
	fx := newFixture(t, nil, nil)
	token := addr(1)
	fx.cluster(t, token, addr(2), addr(3))

	require.NoError(t, fx.coord.OnTrade(context.Background(), buyAt1(token)))
	p, _ := fx.pos.Get(token)
	assert.Equal(t, position.StatusHolding, p.Status)
	assert.Equal(t, "0.00000001", p.EntryPrice.String())

	// 3x entry = +200%
	require.NoError(t, fx.coord.OnTrade(context.Background(),
		tradeEvent(events.KindTokenSale, token, addr(0xb2), "1000000", "0.03")))
	p, _ = fx.pos.Get(token)
	assert.Equal(t, position.StatusPartialSold, p.Status)
	assert.Equal(t, 1, fx.seller.count())
	assert.Equal(t, records.ActionPartial, fx.sink.lastTrade().Action)
}

func TestTradeStopClosesAsGraduated(t *testing.T) {
	fx := newFixture(t, nil, nil)
	token := addr(1)
	fx.cluster(t, token, addr(2), addr(3))
	require.NoError(t, fx.coord.OnTrade(context.Background(), buyAt1(token)))

	stop := events.Event{Kind: events.KindTradeStop, Stop: &events.TradeStop{Token: token}}
	require.NoError(t, fx.coord.OnTradeStop(context.Background(), stop))

	assert.False(t, fx.pos.Has(token))
	assert.Equal(t, 1, fx.seller.count())
	last := fx.sink.lastTrade()
	assert.Equal(t, records.ActionClose, last.Action)
	assert.Equal(t, position.ReasonGraduated, last.Reason)
	assert.Equal(t, int64(1), fx.coord.Stats().Graduated)
}

func TestTradeStopWithoutPositionParksToken(t *testing.T) {
	fx := newFixture(t, func(c *Config) { c.ClusterEnabled = false }, nil)
	token := addr(9)
	require.NoError(t, fx.coord.OnTokenCreate(context.Background(), createEvent(token, "MOON")))

	stop := events.Event{Kind: events.KindTradeStop, Stop: &events.TradeStop{Token: token}}
	require.NoError(t, fx.coord.OnTradeStop(context.Background(), stop))

	s := fx.coord.Stats()
	assert.Zero(t, s.Candidates)
	assert.Equal(t, 1, s.Cooldowns)
	assert.Zero(t, s.Graduated)
}

func TestScorerGatesBuy(t *testing.T) {
	var seen []Features
	var mu sync.Mutex
	scorer := ScorerFunc(func(f Features) (float64, float64) {
		mu.Lock()
		seen = append(seen, f)
		mu.Unlock()
		if f.UniqueBuyers >= 2 {
			return 0.9, 60
		}
		return 0.2, 10
	})
	fx := newFixture(t, nil, scorer)
	token := addr(7)
	ctx := context.Background()

	require.NoError(t, fx.coord.OnTokenCreate(ctx, createEvent(token, "FROG")))
	require.NoError(t, fx.coord.OnTrade(ctx, tradeEvent(events.KindTokenPurchase, token, addr(0xa1), "1000000", "0.01")))
	fx.coord.Wait()
	assert.Zero(t, fx.exec.boughtCount())

	require.NoError(t, fx.coord.OnTrade(ctx, tradeEvent(events.KindTokenPurchase, token, addr(0xa2), "1000000", "0.02")))
	fx.coord.Wait()
	assert.Equal(t, 1, fx.exec.boughtCount())
	assert.True(t, fx.pos.Has(token))

	mu.Lock()
	require.Len(t, seen, 2)
	last := seen[1]
	mu.Unlock()
	assert.Equal(t, 2, last.TotalBuys)
	assert.InDelta(t, 0.03, last.TotalBuyVolume, 1e-12)
	assert.InDelta(t, 100, last.PriceChangePct, 1e-9)

	s := fx.coord.Stats()
	assert.True(t, s.ScoringMode)
	assert.Equal(t, int64(2), s.Scored)
	assert.Equal(t, int64(1), s.ScorePassed)
	assert.Zero(t, fx.coord.trend.Stats().TokensSeen)
}

func TestScorerNeedsBothThresholds(t *testing.T) {
	scorer := ScorerFunc(func(Features) (float64, float64) { return 0.95, 20 })
	fx := newFixture(t, nil, scorer)
	token := addr(7)

	require.NoError(t, fx.coord.OnTokenCreate(context.Background(), createEvent(token, "FROG")))
	require.NoError(t, fx.coord.OnTrade(context.Background(), buyAt1(token)))
	fx.coord.Wait()
	assert.Zero(t, fx.exec.boughtCount())
}

func TestSyncPricesDrivesExits(t *testing.T) {
	fx := newFixture(t, nil, nil)
	token := addr(1)
	fx.cluster(t, token, addr(2), addr(3))
	require.NoError(t, fx.coord.OnTrade(context.Background(), buyAt1(token)))

	fx.exec.prices[token] = decimal.RequireFromString("0.000000005")
	assert.Equal(t, 1, fx.coord.SyncPrices(context.Background()))

	assert.False(t, fx.pos.Has(token))
	assert.Equal(t, position.ReasonStopLoss, fx.sink.lastTrade().Reason)
	assert.Equal(t, int64(2), fx.coord.Stats().PriceErrors, "two tokens without a helper price")
}

func TestReconcileSkippedInDryRun(t *testing.T) {
	fx := newFixture(t, nil, nil)
	fx.exec.dry = true

	done := make(chan struct{})
	go func() {
		fx.coord.RunReconcile(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunReconcile should return immediately in dry run")
	}
}

func TestKillLiquidatesAndBlocksBuys(t *testing.T) {
	fx := newFixture(t, nil, nil)
	token := addr(1)
	fx.cluster(t, token, addr(2), addr(3))
	require.NoError(t, fx.coord.OnTrade(context.Background(), buyAt1(token)))

	n, err := fx.coord.Kill(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Empty(t, fx.pos.Tokens())
	assert.True(t, fx.risk.IsKilled())
	assert.Equal(t, position.ReasonKilled, fx.sink.lastTrade().Reason)

	fx.cluster(t, addr(4))
	assert.Equal(t, 3, fx.exec.boughtCount())
}

func TestPauseAndResume(t *testing.T) {
	fx := newFixture(t, nil, nil)
	fx.coord.Pause("ops")
	fx.cluster(t, addr(1), addr(2), addr(3))
	assert.Zero(t, fx.exec.boughtCount())

	assert.True(t, fx.coord.Resume())
	fx.cluster(t, addr(4))
	assert.Equal(t, 1, fx.exec.boughtCount(), "cluster still hot, new launch buys")
}

func TestRecordEventMirrorsSink(t *testing.T) {
	fx := newFixture(t, nil, nil)
	fx.coord.RecordEvent(createEvent(addr(1), "PEPE"))
	fx.coord.RecordEvent(events.Event{Kind: events.KindTokenPurchase2, Origin: &events.Origin{Origin: big.NewInt(1)}})

	fx.sink.mu.Lock()
	defer fx.sink.mu.Unlock()
	require.Len(t, fx.sink.events, 1)
	assert.Equal(t, records.KindLaunch, fx.sink.events[0].Kind)
}

func TestHousekeepPrunesCandidates(t *testing.T) {
	fx := newFixture(t, func(c *Config) { c.ClusterEnabled = false }, nil)
	fx.cluster(t, addr(1), addr(2))
	require.Equal(t, 2, fx.coord.Stats().Candidates)

	fx.advance(11 * time.Minute)
	fx.coord.Housekeep(context.Background())
	assert.Zero(t, fx.coord.Stats().Candidates)
}

func TestThresholdScorer(t *testing.T) {
	s := ThresholdScorer{MinUniqueBuyers: 3, MinBuyPressure: 0.6, MinVolume1m: 1, MinTrades: 5}

	prob, ret := s.Score(Features{UniqueBuyers: 5, BuyPressure: 0.8, Volume1m: 2, TotalBuys: 6, PriceChangePct: 42})
	assert.Equal(t, 1.0, prob)
	assert.Equal(t, 42.0, ret)

	prob, _ = s.Score(Features{UniqueBuyers: 5, BuyPressure: 0.4, TotalBuys: 6})
	assert.Equal(t, 0.5, prob)
}
