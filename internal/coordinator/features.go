package coordinator

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/fourmeme-hunter/internal/filter"
)

// Features is the vector handed to a Scorer. Volumes are BNB, prices BNB per
// token, durations seconds.
type Features struct {
	TotalSupply    float64 `json:"total_supply"`
	LaunchFee      float64 `json:"launch_fee"`
	LiquidityRatio float64 `json:"liquidity_ratio"`
	NameLength     int     `json:"name_length"`
	SymbolLength   int     `json:"symbol_length"`

	TimeSinceLaunch float64 `json:"time_since_launch"`

	TotalBuys       int     `json:"total_buys"`
	TotalSells      int     `json:"total_sells"`
	UniqueBuyers    int     `json:"unique_buyers"`
	UniqueSellers   int     `json:"unique_sellers"`
	TotalBuyVolume  float64 `json:"total_buy_volume"`
	TotalSellVolume float64 `json:"total_sell_volume"`
	Volume1m        float64 `json:"volume_1min"`
	Volume5m        float64 `json:"volume_5min"`

	CurrentPrice   float64 `json:"current_price"`
	FirstPrice     float64 `json:"first_price"`
	PriceChangePct float64 `json:"price_change_pct"`
	MaxPrice       float64 `json:"max_price"`
	MinPrice       float64 `json:"min_price"`

	BuyPressure    float64 `json:"buy_pressure"`
	AvgBuySize     float64 `json:"avg_buy_size"`
	AvgSellSize    float64 `json:"avg_sell_size"`
	TradeFrequency float64 `json:"trade_frequency"` // trades per minute since launch
}

type fill struct {
	at      time.Time
	account common.Address
	bnb     decimal.Decimal
	price   decimal.Decimal
}

// history is the observed trade tape of one candidate token.
type history struct {
	info  filter.TokenInfo
	buys  []fill
	sells []fill
}

func (h *history) add(buy bool, f fill) {
	if buy {
		h.buys = append(h.buys, f)
	} else {
		h.sells = append(h.sells, f)
	}
}

func (h *history) trades() int { return len(h.buys) + len(h.sells) }

// features derives the vector as of now. Current and first price come from
// buys only; min and max span both sides.
func (h *history) features(now time.Time) Features {
	info := h.info
	f := Features{
		TotalSupply:  info.TotalSupply.InexactFloat64(),
		LaunchFee:    info.LaunchFee.InexactFloat64(),
		NameLength:   len([]rune(info.Name)),
		SymbolLength: len([]rune(info.Symbol)),
		TotalBuys:    len(h.buys),
		TotalSells:   len(h.sells),
	}
	if info.TotalSupply.IsPositive() {
		f.LiquidityRatio = info.LaunchFee.Div(info.TotalSupply).InexactFloat64()
	}
	if !info.LaunchTime.IsZero() {
		f.TimeSinceLaunch = now.Sub(info.LaunchTime).Seconds()
	}

	buyers := make(map[common.Address]struct{})
	cut1m := now.Add(-time.Minute)
	cut5m := now.Add(-5 * time.Minute)
	buyVol, sellVol := decimal.Zero, decimal.Zero
	vol1m, vol5m := decimal.Zero, decimal.Zero
	var hi, lo decimal.Decimal
	seenPrice := false
	track := func(p decimal.Decimal) {
		if !seenPrice {
			hi, lo, seenPrice = p, p, true
			return
		}
		hi = decimal.Max(hi, p)
		lo = decimal.Min(lo, p)
	}

	for _, b := range h.buys {
		buyers[b.account] = struct{}{}
		buyVol = buyVol.Add(b.bnb)
		if !b.at.Before(cut1m) {
			vol1m = vol1m.Add(b.bnb)
		}
		if !b.at.Before(cut5m) {
			vol5m = vol5m.Add(b.bnb)
		}
		track(b.price)
	}
	sellers := make(map[common.Address]struct{})
	for _, s := range h.sells {
		sellers[s.account] = struct{}{}
		sellVol = sellVol.Add(s.bnb)
		track(s.price)
	}

	f.UniqueBuyers = len(buyers)
	f.UniqueSellers = len(sellers)
	f.TotalBuyVolume = buyVol.InexactFloat64()
	f.TotalSellVolume = sellVol.InexactFloat64()
	f.Volume1m = vol1m.InexactFloat64()
	f.Volume5m = vol5m.InexactFloat64()

	if n := len(h.buys); n > 0 {
		first, last := h.buys[0].price, h.buys[n-1].price
		f.FirstPrice = first.InexactFloat64()
		f.CurrentPrice = last.InexactFloat64()
		if first.IsPositive() {
			f.PriceChangePct = last.Sub(first).Div(first).Mul(decimal.NewFromInt(100)).InexactFloat64()
		}
	}
	if seenPrice {
		f.MaxPrice = hi.InexactFloat64()
		f.MinPrice = lo.InexactFloat64()
	}

	f.BuyPressure = 0.5
	if total := buyVol.Add(sellVol); total.IsPositive() {
		f.BuyPressure = buyVol.Div(total).InexactFloat64()
	}
	if f.TotalBuys > 0 {
		f.AvgBuySize = buyVol.Div(decimal.NewFromInt(int64(f.TotalBuys))).InexactFloat64()
	}
	if f.TotalSells > 0 {
		f.AvgSellSize = sellVol.Div(decimal.NewFromInt(int64(f.TotalSells))).InexactFloat64()
	}
	if f.TimeSinceLaunch > 0 {
		f.TradeFrequency = float64(h.trades()) / (f.TimeSinceLaunch / 60)
	}
	return f
}
