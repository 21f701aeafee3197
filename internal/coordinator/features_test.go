package coordinator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/nexus-trading/fourmeme-hunter/internal/filter"
)

func TestHistoryFeatures(t *testing.T) {
	launch := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := launch.Add(6 * time.Minute)
	d := decimal.RequireFromString

	h := &history{info: filter.TokenInfo{
		Token:       addr(1),
		Name:        "Frog Coin",
		Symbol:      "FROG",
		TotalSupply: d("1000000000"),
		LaunchFee:   d("0.5"),
		LaunchTime:  launch,
	}}
	h.add(true, fill{at: launch.Add(30 * time.Second), account: addr(0xa1), bnb: d("1"), price: d("0.00000001")})
	h.add(true, fill{at: now.Add(-3 * time.Minute), account: addr(0xa2), bnb: d("2"), price: d("0.00000002")})
	h.add(true, fill{at: now.Add(-30 * time.Second), account: addr(0xa1), bnb: d("3"), price: d("0.00000004")})
	h.add(false, fill{at: now.Add(-10 * time.Second), account: addr(0xa3), bnb: d("2"), price: d("0.000000005")})

	f := h.features(now)

	assert.Equal(t, 9, f.NameLength)
	assert.Equal(t, 4, f.SymbolLength)
	assert.InDelta(t, 5e-10, f.LiquidityRatio, 1e-20)
	assert.InDelta(t, 360, f.TimeSinceLaunch, 1e-9)

	assert.Equal(t, 3, f.TotalBuys)
	assert.Equal(t, 1, f.TotalSells)
	assert.Equal(t, 2, f.UniqueBuyers)
	assert.Equal(t, 1, f.UniqueSellers)
	assert.InDelta(t, 6, f.TotalBuyVolume, 1e-12)
	assert.InDelta(t, 2, f.TotalSellVolume, 1e-12)
	assert.InDelta(t, 3, f.Volume1m, 1e-12)
	assert.InDelta(t, 5, f.Volume5m, 1e-12)

	assert.InDelta(t, 4e-8, f.CurrentPrice, 1e-20)
	assert.InDelta(t, 1e-8, f.FirstPrice, 1e-20)
	assert.InDelta(t, 300, f.PriceChangePct, 1e-9)
	assert.InDelta(t, 4e-8, f.MaxPrice, 1e-20)
	assert.InDelta(t, 5e-9, f.MinPrice, 1e-20)

	assert.InDelta(t, 0.75, f.BuyPressure, 1e-12)
	assert.InDelta(t, 2, f.AvgBuySize, 1e-12)
	assert.InDelta(t, 2, f.AvgSellSize, 1e-12)
	assert.InDelta(t, 4.0/6.0, f.TradeFrequency, 1e-12)
}

func TestHistoryFeaturesEmpty(t *testing.T) {
	h := &history{info: filter.TokenInfo{Symbol: "X"}}
	f := h.features(time.Now())

	assert.Equal(t, 0.5, f.BuyPressure)
	assert.Zero(t, f.TradeFrequency)
	assert.Zero(t, f.PriceChangePct)
	assert.Zero(t, f.TimeSinceLaunch)
}
