// Package filter is the accept/reject gate for newly launched tokens.
package filter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/fourmeme-hunter/internal/observability"
)

// Check names, reported in Result.Check and the per-check counters.
const (
	CheckNameLength     = "name_length"
	CheckSymbolLength   = "symbol_length"
	CheckKeyword        = "keyword"
	CheckSupplyMin      = "supply_min"
	CheckSupplyMax      = "supply_max"
	CheckLiquidity      = "liquidity"
	CheckLiquidityRatio = "liquidity_ratio"
	CheckCreatorBlocked = "creator_blacklist"
	CheckCreatorBurst   = "creator_burst"
	CheckCreatorBatch   = "creator_batch"
	CheckCreatorProfile = "creator_reputation"
)

// Config configures the trade filter.
type Config struct {
	MinNameLength          int
	MaxNameLength          int
	MinSymbolLength        int
	MaxSymbolLength        int
	BlacklistKeywords      []string
	MinSupply              decimal.Decimal // token units
	MaxSupply              decimal.Decimal
	MinLiquidity           decimal.Decimal // launch fee, BNB
	MinLiquidityRatio      decimal.Decimal // launch fee / supply
	CheckCreator           bool
	MinCreatorInterval     time.Duration
	MaxTokensPerCreator24h int
	MinCreatorTxCount      uint64
	MinCreatorBalance      decimal.Decimal
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MinNameLength:          1,
		MaxNameLength:          50,
		MinSymbolLength:        1,
		MaxSymbolLength:        20,
		BlacklistKeywords:      []string{"scam", "rug", "test"},
		MinSupply:              decimal.NewFromInt(1_000_000),
		MaxSupply:              decimal.NewFromInt(1_000_000_000_000_000),
		MinLiquidity:           decimal.RequireFromString("0.01"),
		MinLiquidityRatio:      decimal.Zero,
		CheckCreator:           true,
		MinCreatorInterval:     5 * time.Minute,
		MaxTokensPerCreator24h: 3,
		MinCreatorTxCount:      1,
		MinCreatorBalance:      decimal.RequireFromString("0.01"),
	}
}

// TokenInfo is what the filter knows about a freshly created token.
type TokenInfo struct {
	Token       common.Address
	Creator     common.Address
	Name        string
	Symbol      string
	TotalSupply decimal.Decimal // token units
	LaunchFee   decimal.Decimal // BNB
	LaunchTime  time.Time
}

// Result is the filter decision. Rejections are expected outcomes, not errors.
type Result struct {
	Accept bool   `json:"accept"`
	Reason string `json:"reason"`
	Check  string `json:"check,omitempty"`
}

func reject(check, reason string) Result {
	return Result{Accept: false, Reason: reason, Check: check}
}

// CreatorProber reads on-chain reputation signals for a creator address.
type CreatorProber interface {
	CreatorProfile(ctx context.Context, creator common.Address) (txCount uint64, balance decimal.Decimal, err error)
}

type creation struct {
	at    time.Time
	token common.Address
}

// Filter applies the checks in a fixed order and stops at the first rejection.
type Filter struct {
	config   Config
	keywords []string
	prober   CreatorProber // nil disables the reputation probe
	metrics  *observability.Metrics
	now      func() time.Time

	creatorMu sync.Mutex
	history   map[common.Address][]creation
	blocked   map[common.Address]struct{}

	checked     atomic.Int64
	accepted    atomic.Int64
	checkCounts sync.Map // check name -> *atomic.Int64
	probeErrors atomic.Int64
}

func New(config Config, prober CreatorProber, metrics *observability.Metrics) *Filter {
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}
	keywords := make([]string, 0, len(config.BlacklistKeywords))
	for _, k := range config.BlacklistKeywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			keywords = append(keywords, k)
		}
	}
	return &Filter{
		config:   config,
		keywords: keywords,
		prober:   prober,
		metrics:  metrics,
		now:      time.Now,
		history:  make(map[common.Address][]creation),
		blocked:  make(map[common.Address]struct{}),
	}
}

// ShouldBuy runs every check. When creator checks are on, the creation is
// recorded in the creator's history before any check, whatever the outcome.
func (f *Filter) ShouldBuy(ctx context.Context, info TokenInfo) Result {
	f.checked.Add(1)

	if f.config.CheckCreator {
		f.recordCreation(info.Creator, info.Token)
	}

	r := f.evaluate(ctx, info)
	if r.Accept {
		f.accepted.Add(1)
		f.metrics.FilterDecisions.WithLabelValues("accept", "").Inc()
		log.Info().
			Str("token", info.Token.Hex()).
			Str("symbol", info.Symbol).
			Msg("filter: token accepted")
		return r
	}

	f.recordReject(r.Check)
	log.Info().
		Str("token", info.Token.Hex()).
		Str("symbol", info.Symbol).
		Str("check", r.Check).
		Str("reason", r.Reason).
		Msg("filter: token rejected")
	return r
}

func (f *Filter) evaluate(ctx context.Context, info TokenInfo) Result {
	c := f.config

	nameLen := len([]rune(info.Name))
	if nameLen < c.MinNameLength || nameLen > c.MaxNameLength {
		return reject(CheckNameLength, fmt.Sprintf("Invalid name length: %d (allowed: %d-%d)", nameLen, c.MinNameLength, c.MaxNameLength))
	}
	symLen := len([]rune(info.Symbol))
	if symLen < c.MinSymbolLength || symLen > c.MaxSymbolLength {
		return reject(CheckSymbolLength, fmt.Sprintf("Invalid symbol length: %d (allowed: %d-%d)", symLen, c.MinSymbolLength, c.MaxSymbolLength))
	}

	name := strings.ToLower(info.Name)
	symbol := strings.ToLower(info.Symbol)
	for _, kw := range f.keywords {
		if strings.Contains(name, kw) || strings.Contains(symbol, kw) {
			return reject(CheckKeyword, "Blacklisted keyword: "+kw)
		}
	}

	// Zero supply means unknown: legacy TokenLaunched events do not carry it.
	if info.TotalSupply.IsPositive() {
		if info.TotalSupply.LessThan(c.MinSupply) {
			return reject(CheckSupplyMin, fmt.Sprintf("Supply too low: %s < %s", info.TotalSupply.StringFixed(0), c.MinSupply.StringFixed(0)))
		}
		if info.TotalSupply.GreaterThan(c.MaxSupply) {
			return reject(CheckSupplyMax, fmt.Sprintf("Supply too high: %s > %s", info.TotalSupply.StringFixed(0), c.MaxSupply.StringFixed(0)))
		}
	} else {
		log.Debug().Str("token", info.Token.Hex()).Msg("filter: supply unknown, skipping supply checks")
	}

	if info.LaunchFee.LessThan(c.MinLiquidity) {
		return reject(CheckLiquidity, fmt.Sprintf("Low liquidity: %s BNB < %s BNB", info.LaunchFee.StringFixed(4), c.MinLiquidity.String()))
	}
	if info.TotalSupply.IsPositive() && c.MinLiquidityRatio.IsPositive() {
		ratio := info.LaunchFee.DivRound(info.TotalSupply, 18)
		if ratio.LessThan(c.MinLiquidityRatio) {
			return reject(CheckLiquidityRatio, fmt.Sprintf("Low liquidity ratio: %s < %s", ratio.String(), c.MinLiquidityRatio.String()))
		}
	}

	if !c.CheckCreator {
		return Result{Accept: true, Reason: "Passed all filters"}
	}
	return f.checkCreator(ctx, info.Creator)
}

func (f *Filter) checkCreator(ctx context.Context, creator common.Address) Result {
	c := f.config

	f.creatorMu.Lock()
	if _, ok := f.blocked[creator]; ok {
		f.creatorMu.Unlock()
		return reject(CheckCreatorBlocked, "Creator blacklisted: "+short(creator))
	}
	hist := f.history[creator]
	if n := len(hist); n >= 2 && hist[n-1].at.Sub(hist[n-2].at) < c.MinCreatorInterval {
		f.blocked[creator] = struct{}{}
		f.creatorMu.Unlock()
		return reject(CheckCreatorBurst, fmt.Sprintf("Rapid token creation: interval < %s", c.MinCreatorInterval))
	}
	if c.MaxTokensPerCreator24h > 0 && len(hist) > c.MaxTokensPerCreator24h {
		f.blocked[creator] = struct{}{}
		f.creatorMu.Unlock()
		return reject(CheckCreatorBatch, fmt.Sprintf("Batch creator: %d tokens in 24h", len(hist)))
	}
	f.creatorMu.Unlock()

	if f.prober == nil {
		return Result{Accept: true, Reason: "Passed all filters"}
	}

	txCount, balance, err := f.prober.CreatorProfile(ctx, creator)
	if err != nil {
		// A failed probe never rejects.
		f.probeErrors.Add(1)
		log.Warn().Err(err).Str("creator", creator.Hex()).Msg("filter: creator probe failed, accepting")
		return Result{Accept: true, Reason: "Passed all filters (creator probe skipped)"}
	}
	if txCount < c.MinCreatorTxCount {
		return reject(CheckCreatorProfile, fmt.Sprintf("New wallet: %d txs", txCount))
	}
	if balance.LessThan(c.MinCreatorBalance) {
		return reject(CheckCreatorProfile, fmt.Sprintf("Low balance: %s BNB", balance.StringFixed(4)))
	}
	return Result{Accept: true, Reason: "Passed all filters"}
}

// recordCreation appends to the creator's window, pruning entries older than 24h.
func (f *Filter) recordCreation(creator, token common.Address) {
	now := f.now()
	cutoff := now.Add(-24 * time.Hour)

	f.creatorMu.Lock()
	defer f.creatorMu.Unlock()

	hist := f.history[creator]
	kept := hist[:0]
	for _, h := range hist {
		if !h.at.Before(cutoff) {
			kept = append(kept, h)
		}
	}
	f.history[creator] = append(kept, creation{at: now, token: token})
}

// IsBlacklisted reports whether creator is permanently blocked.
func (f *Filter) IsBlacklisted(creator common.Address) bool {
	f.creatorMu.Lock()
	defer f.creatorMu.Unlock()
	_, ok := f.blocked[creator]
	return ok
}

// CleanupCreatorHistory drops creators with no creation inside the last 24h.
func (f *Filter) CleanupCreatorHistory() int {
	cutoff := f.now().Add(-24 * time.Hour)
	removed := 0

	f.creatorMu.Lock()
	defer f.creatorMu.Unlock()
	for addr, hist := range f.history {
		if len(hist) == 0 || hist[len(hist)-1].at.Before(cutoff) {
			delete(f.history, addr)
			removed++
		}
	}
	return removed
}

func (f *Filter) recordReject(check string) {
	val, _ := f.checkCounts.LoadOrStore(check, &atomic.Int64{})
	val.(*atomic.Int64).Add(1)
	f.metrics.FilterDecisions.WithLabelValues("reject", check).Inc()
}

// FilterStats reports filter activity.
type FilterStats struct {
	Checked             int64            `json:"checked"`
	Accepted            int64            `json:"accepted"`
	PassRate            float64          `json:"pass_rate_pct"`
	Rejections          map[string]int64 `json:"rejections"`
	TrackedCreators     int              `json:"tracked_creators"`
	BlacklistedCreators int              `json:"blacklisted_creators"`
	ProbeErrors         int64            `json:"probe_errors"`
}

func (f *Filter) Stats() FilterStats {
	checked := f.checked.Load()
	accepted := f.accepted.Load()
	passRate := 0.0
	if checked > 0 {
		passRate = float64(accepted) / float64(checked) * 100
	}
	counts := make(map[string]int64)
	f.checkCounts.Range(func(key, value any) bool {
		counts[key.(string)] = value.(*atomic.Int64).Load()
		return true
	})

	f.creatorMu.Lock()
	tracked, blocked := len(f.history), len(f.blocked)
	f.creatorMu.Unlock()

	return FilterStats{
		Checked:             checked,
		Accepted:            accepted,
		PassRate:            passRate,
		Rejections:          counts,
		TrackedCreators:     tracked,
		BlacklistedCreators: blocked,
		ProbeErrors:         f.probeErrors.Load(),
	}
}

func short(a common.Address) string {
	return a.Hex()[:10] + "..."
}
