package filter

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-trading/fourmeme-hunter/internal/chain"
	"github.com/nexus-trading/fourmeme-hunter/internal/chain/chaintest"
	"github.com/nexus-trading/fourmeme-hunter/internal/events"
)

type fakeProber struct {
	txCount uint64
	balance decimal.Decimal
	err     error
	calls   int
}

func (p *fakeProber) CreatorProfile(ctx context.Context, creator common.Address) (uint64, decimal.Decimal, error) {
	p.calls++
	return p.txCount, p.balance, p.err
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestFilter(prober CreatorProber) (*Filter, *clock) {
	clk := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	f := New(DefaultConfig(), prober, nil)
	f.now = clk.now
	return f, clk
}

func goodProber() *fakeProber {
	return &fakeProber{txCount: 10, balance: decimal.NewFromInt(1)}
}

func addr(n int64) common.Address {
	return common.BigToAddress(big.NewInt(n))
}

func validToken() TokenInfo {
	return TokenInfo{
		Token:       addr(1),
		Creator:     addr(100),
		Name:        "Pepe Cash",
		Symbol:      "PEPEC",
		TotalSupply: decimal.NewFromInt(1_000_000_000),
		LaunchFee:   decimal.RequireFromString("0.05"),
	}
}

func TestShouldBuyAcceptsValidToken(t *testing.T) {
	f, _ := newTestFilter(goodProber())

	r := f.ShouldBuy(context.Background(), validToken())
	assert.True(t, r.Accept)
	assert.Equal(t, "Passed all filters", r.Reason)
	assert.Empty(t, r.Check)
}

func TestShouldBuyRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TokenInfo)
		check  string
		reason string
	}{
		{
			name:   "empty name",
			mutate: func(ti *TokenInfo) { ti.Name = "" },
			check:  CheckNameLength,
			reason: "Invalid name length: 0 (allowed: 1-50)",
		},
		{
			name:   "long symbol",
			mutate: func(ti *TokenInfo) { ti.Symbol = strings.Repeat("X", 21) },
			check:  CheckSymbolLength,
			reason: "Invalid symbol length: 21 (allowed: 1-20)",
		},
		{
			name:   "keyword in name is case insensitive",
			mutate: func(ti *TokenInfo) { ti.Name = "Super RUG Coin" },
			check:  CheckKeyword,
			reason: "Blacklisted keyword: rug",
		},
		{
			name:   "keyword in symbol",
			mutate: func(ti *TokenInfo) { ti.Symbol = "TESTX" },
			check:  CheckKeyword,
			reason: "Blacklisted keyword: test",
		},
		{
			name:   "supply too low",
			mutate: func(ti *TokenInfo) { ti.TotalSupply = decimal.NewFromInt(999_999) },
			check:  CheckSupplyMin,
		},
		{
			name:   "supply too high",
			mutate: func(ti *TokenInfo) { ti.TotalSupply = decimal.New(1, 16) },
			check:  CheckSupplyMax,
		},
		{
			name:   "low launch fee",
			mutate: func(ti *TokenInfo) { ti.LaunchFee = decimal.RequireFromString("0.005") },
			check:  CheckLiquidity,
			reason: "Low liquidity: 0.0050 BNB < 0.01 BNB",
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, _ := newTestFilter(goodProber())
			ti := validToken()
			ti.Creator = addr(int64(200 + i))
			tt.mutate(&ti)

			r := f.ShouldBuy(context.Background(), ti)
			assert.False(t, r.Accept)
			assert.Equal(t, tt.check, r.Check)
			if tt.reason != "" {
				assert.Equal(t, tt.reason, r.Reason)
			}
		})
	}
}

func TestUnknownSupplySkipsSupplyChecks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinLiquidityRatio = decimal.RequireFromString("0.000001")
	f := New(cfg, nil, nil)

	ti := validToken()
	ti.TotalSupply = events.FromWei(nil)
	r := f.ShouldBuy(context.Background(), ti)
	assert.True(t, r.Accept, r.Reason)

	// the remaining checks still apply
	ti = validToken()
	ti.Token = addr(2)
	ti.Creator = addr(101)
	ti.TotalSupply = decimal.Zero
	ti.LaunchFee = decimal.RequireFromString("0.005")
	r = f.ShouldBuy(context.Background(), ti)
	assert.False(t, r.Accept)
	assert.Equal(t, CheckLiquidity, r.Check)
}

func TestLiquidityRatio(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinLiquidityRatio = decimal.RequireFromString("0.000001")
	f := New(cfg, nil, nil)

	ti := validToken() // 0.05 / 1e9 = 5e-11
	r := f.ShouldBuy(context.Background(), ti)
	assert.False(t, r.Accept)
	assert.Equal(t, CheckLiquidityRatio, r.Check)
}

func TestBurstCreatorBlacklisted(t *testing.T) {
	f, clk := newTestFilter(goodProber())
	ctx := context.Background()

	first := validToken()
	require.True(t, f.ShouldBuy(ctx, first).Accept)

	clk.advance(2 * time.Minute)
	second := validToken()
	second.Token = addr(2)
	r := f.ShouldBuy(ctx, second)
	assert.False(t, r.Accept)
	assert.Equal(t, CheckCreatorBurst, r.Check)
	assert.True(t, f.IsBlacklisted(first.Creator))

	// Once blacklisted, the creator stays rejected well after the window.
	clk.advance(48 * time.Hour)
	third := validToken()
	third.Token = addr(3)
	r = f.ShouldBuy(ctx, third)
	assert.False(t, r.Accept)
	assert.Equal(t, CheckCreatorBlocked, r.Check)
}

func TestBatchCreatorBlacklisted(t *testing.T) {
	f, clk := newTestFilter(goodProber())
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		ti := validToken()
		ti.Token = addr(i)
		require.True(t, f.ShouldBuy(ctx, ti).Accept, "token %d", i)
		clk.advance(6 * time.Minute)
	}

	ti := validToken()
	ti.Token = addr(4)
	r := f.ShouldBuy(ctx, ti)
	assert.False(t, r.Accept)
	assert.Equal(t, CheckCreatorBatch, r.Check)
	assert.Equal(t, "Batch creator: 4 tokens in 24h", r.Reason)
}

func TestHistoryRecordedForRejectedTokens(t *testing.T) {
	f, clk := newTestFilter(goodProber())
	ctx := context.Background()

	// "SuperRug": the keyword check rejects it, but the creation still counts.
	rug := validToken()
	rug.Name = "SuperRug"
	rug.Symbol = "SRUG"
	r := f.ShouldBuy(ctx, rug)
	require.False(t, r.Accept)
	require.Equal(t, CheckKeyword, r.Check)

	clk.advance(time.Minute)
	next := validToken()
	next.Token = addr(2)
	r = f.ShouldBuy(ctx, next)
	assert.False(t, r.Accept)
	assert.Equal(t, CheckCreatorBurst, r.Check)

	clk.advance(time.Hour)
	later := validToken()
	later.Token = addr(3)
	r = f.ShouldBuy(ctx, later)
	assert.Equal(t, CheckCreatorBlocked, r.Check)
}

func TestKeywordCheckedBeforeLiquidity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BlacklistKeywords = []string{"rug"}
	f := New(cfg, nil, nil)

	ti := validToken()
	ti.Name = "SuperRug"
	ti.LaunchFee = decimal.RequireFromString("0.5")
	r := f.ShouldBuy(context.Background(), ti)
	assert.False(t, r.Accept)
	assert.Equal(t, "Blacklisted keyword: rug", r.Reason)

	ti.Token = addr(9)
	ti.Creator = addr(900)
	ti.LaunchFee = decimal.RequireFromString("0.001")
	r = f.ShouldBuy(context.Background(), ti)
	assert.Equal(t, CheckKeyword, r.Check)
}

func TestReputationProbe(t *testing.T) {
	ctx := context.Background()

	t.Run("new wallet", func(t *testing.T) {
		f, _ := newTestFilter(&fakeProber{txCount: 0, balance: decimal.NewFromInt(1)})
		r := f.ShouldBuy(ctx, validToken())
		assert.False(t, r.Accept)
		assert.Equal(t, "New wallet: 0 txs", r.Reason)
		assert.False(t, f.IsBlacklisted(validToken().Creator))
	})

	t.Run("low balance", func(t *testing.T) {
		f, _ := newTestFilter(&fakeProber{txCount: 5, balance: decimal.RequireFromString("0.001")})
		r := f.ShouldBuy(ctx, validToken())
		assert.False(t, r.Accept)
		assert.Equal(t, CheckCreatorProfile, r.Check)
	})

	t.Run("probe failure accepts", func(t *testing.T) {
		p := &fakeProber{err: errors.New("rpc down")}
		f, _ := newTestFilter(p)
		r := f.ShouldBuy(ctx, validToken())
		assert.True(t, r.Accept)
		assert.Equal(t, int64(1), f.Stats().ProbeErrors)
	})

	t.Run("creator checks disabled", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.CheckCreator = false
		p := &fakeProber{txCount: 0}
		f := New(cfg, p, nil)
		assert.True(t, f.ShouldBuy(ctx, validToken()).Accept)
		assert.Zero(t, p.calls)
	})
}

func TestCleanupCreatorHistory(t *testing.T) {
	f, clk := newTestFilter(nil)
	ctx := context.Background()

	f.ShouldBuy(ctx, validToken())
	other := validToken()
	other.Creator = addr(101)
	clk.advance(20 * time.Hour)
	f.ShouldBuy(ctx, other)

	clk.advance(5 * time.Hour)
	assert.Equal(t, 1, f.CleanupCreatorHistory())
	assert.Equal(t, 1, f.Stats().TrackedCreators)
}

func TestStats(t *testing.T) {
	f, _ := newTestFilter(goodProber())
	ctx := context.Background()

	f.ShouldBuy(ctx, validToken())
	bad := validToken()
	bad.Creator = addr(300)
	bad.Name = "scam token"
	f.ShouldBuy(ctx, bad)

	s := f.Stats()
	assert.Equal(t, int64(2), s.Checked)
	assert.Equal(t, int64(1), s.Accepted)
	assert.InDelta(t, 50.0, s.PassRate, 0.001)
	assert.Equal(t, int64(1), s.Rejections[CheckKeyword])
}

type staticProvider struct{ c chain.EthClient }

func (p staticProvider) Client() chain.EthClient { return p.c }

func TestChainProber(t *testing.T) {
	c := chaintest.New()
	creator := addr(100)
	c.Nonces[creator] = 7
	c.Balances[creator] = big.NewInt(2e17)

	txs, bal, err := NewChainProber(staticProvider{c}).CreatorProfile(context.Background(), creator)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), txs)
	assert.True(t, bal.Equal(decimal.RequireFromString("0.2")))

	_, _, err = NewChainProber(staticProvider{}).CreatorProfile(context.Background(), creator)
	assert.ErrorIs(t, err, chain.ErrNotConnected)
}
