// Package position tracks open positions through their exit state machine:
// pending_buy → holding → partial_sold → closed.
package position

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/fourmeme-hunter/internal/store"
)

type Status string

const (
	StatusPendingBuy  Status = "pending_buy"
	StatusHolding     Status = "holding"
	StatusPartialSold Status = "partial_sold"
	StatusClosed      Status = "closed"
)

// Exit reasons.
const (
	ReasonStopLoss          = "STOP_LOSS"
	ReasonTakeProfit        = "TAKE_PROFIT"
	ReasonTimeStop          = "TIME_STOP"
	ReasonMoonshotProfit    = "MOONSHOT_PROFIT"
	ReasonMoonshotDrawdown  = "MOONSHOT_DRAWDOWN"
	ReasonMoonshotTimeStop  = "MOONSHOT_TIME_STOP"
	ReasonGraduated         = "GRADUATED"
	ReasonShutdown          = "APP_STOP_LIQUIDATION"
	ReasonKilled            = "KILL_SWITCH"
	ReasonPendingTimeout    = "PENDING_TIMEOUT"
	ReasonReconciledNoFunds = "RECONCILED_ZERO_BALANCE"
)

var hundred = decimal.NewFromInt(100)

// Config holds the exit strategy. Percentages are signed: StopLossPct and
// MoonshotStopLossPct are negative.
type Config struct {
	TakeProfitPct       decimal.Decimal
	TakeProfitSellPct   decimal.Decimal
	StopLossPct         decimal.Decimal
	MaxHold             time.Duration
	KeepMoonshot        bool
	MoonshotProfitPct   decimal.Decimal
	MoonshotStopLossPct decimal.Decimal
	MoonshotMaxHold     time.Duration

	PendingTimeout time.Duration
	SlippagePct    decimal.Decimal // applied to the first fill price of a pending buy
	GasPerTx       decimal.Decimal // BNB, charged on every buy and sell
	SellFeePct     decimal.Decimal // protocol fee on sell proceeds
	LogInterval    time.Duration   // PnL update log throttle per position
}

func DefaultConfig() Config {
	return Config{
		TakeProfitPct:       decimal.NewFromInt(200),
		TakeProfitSellPct:   decimal.NewFromInt(90),
		StopLossPct:         decimal.NewFromInt(-50),
		MaxHold:             5 * time.Minute,
		KeepMoonshot:        true,
		MoonshotProfitPct:   decimal.NewFromInt(500),
		MoonshotStopLossPct: decimal.NewFromInt(-30),
		MoonshotMaxHold:     24 * time.Hour,
		PendingTimeout:      5 * time.Minute,
		SlippagePct:         decimal.NewFromInt(15),
		GasPerTx:            decimal.RequireFromString("0.0015"),
		SellFeePct:          decimal.NewFromInt(1),
		LogInterval:         10 * time.Second,
	}
}

// Position is one token holding. Amounts are whole tokens (18 decimals
// normalised), prices are BNB per token.
type Position struct {
	ID        string         `json:"id"`
	Token     common.Address `json:"token"`
	Symbol    string         `json:"symbol,omitempty"`
	Status    Status         `json:"status"`
	BuyTxHash string         `json:"buy_tx_hash"`

	EntryPrice  decimal.Decimal `json:"entry_price"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Remaining   decimal.Decimal `json:"remaining"`
	Invested    decimal.Decimal `json:"invested"`
	BuyFee      decimal.Decimal `json:"buy_fee"`
	TotalCost   decimal.Decimal `json:"total_cost"` // invested + buy fee + gas

	PeakPrice      decimal.Decimal `json:"peak_price"`
	FirstSellPrice decimal.Decimal `json:"first_sell_price"`
	LastPrice      decimal.Decimal `json:"last_price"`
	LastPriceAt    time.Time       `json:"last_price_at"`
	LastLogAt      time.Time       `json:"-"`

	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Proceeds    decimal.Decimal `json:"proceeds"`
	FeesPaid    decimal.Decimal `json:"fees_paid"`
	CloseReason string          `json:"close_reason,omitempty"`

	OpenedAt time.Time `json:"opened_at"`
	FilledAt time.Time `json:"filled_at"`
}

// PnLPct is the gain of price over the entry price, in percent.
func (p *Position) PnLPct(price decimal.Decimal) decimal.Decimal {
	if !p.EntryPrice.IsPositive() {
		return decimal.Zero
	}
	return price.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(hundred)
}

// CostShare is the part of total cost attributable to amount.
func (p *Position) CostShare(amount decimal.Decimal) decimal.Decimal {
	if !p.TotalAmount.IsPositive() {
		return decimal.Zero
	}
	return p.TotalCost.Mul(amount).Div(p.TotalAmount)
}

func (p *Position) snapshot(now time.Time) store.Snapshot {
	return store.Snapshot{
		ID:             p.ID,
		Token:          p.Token.Hex(),
		Symbol:         p.Symbol,
		Status:         string(p.Status),
		BuyTxHash:      p.BuyTxHash,
		EntryPrice:     p.EntryPrice,
		Amount:         p.TotalAmount,
		Remaining:      p.Remaining,
		Invested:       p.Invested,
		BuyFee:         p.BuyFee,
		TotalCost:      p.TotalCost,
		LastPrice:      p.LastPrice,
		PeakPrice:      p.PeakPrice,
		FirstSellPrice: p.FirstSellPrice,
		RealizedPnL:    p.RealizedPnL,
		Proceeds:       p.Proceeds,
		FeesPaid:       p.FeesPaid,
		OpenedAt:       p.OpenedAt,
		FilledAt:       p.FilledAt,
		LastPriceAt:    p.LastPriceAt,
		UpdatedAt:      now,
	}
}

func fromSnapshot(s store.Snapshot) *Position {
	return &Position{
		ID:             s.ID,
		Token:          common.HexToAddress(s.Token),
		Symbol:         s.Symbol,
		Status:         Status(s.Status),
		BuyTxHash:      s.BuyTxHash,
		EntryPrice:     s.EntryPrice,
		TotalAmount:    s.Amount,
		Remaining:      s.Remaining,
		Invested:       s.Invested,
		BuyFee:         s.BuyFee,
		TotalCost:      s.TotalCost,
		LastPrice:      s.LastPrice,
		PeakPrice:      s.PeakPrice,
		FirstSellPrice: s.FirstSellPrice,
		RealizedPnL:    s.RealizedPnL,
		Proceeds:       s.Proceeds,
		FeesPaid:       s.FeesPaid,
		OpenedAt:       s.OpenedAt,
		FilledAt:       s.FilledAt,
		LastPriceAt:    s.LastPriceAt,
	}
}
