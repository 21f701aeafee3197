// Package store persists open position snapshots across restarts.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is the persisted state of one position.
type Snapshot struct {
	ID             string          `json:"id"`
	Token          string          `json:"token"`
	Symbol         string          `json:"symbol"`
	Status         string          `json:"status"`
	BuyTxHash      string          `json:"buy_tx_hash"`
	EntryPrice     decimal.Decimal `json:"entry_price"`
	Amount         decimal.Decimal `json:"amount"`
	Remaining      decimal.Decimal `json:"remaining"`
	Invested       decimal.Decimal `json:"invested"`
	BuyFee         decimal.Decimal `json:"buy_fee"`
	TotalCost      decimal.Decimal `json:"total_cost"`
	LastPrice      decimal.Decimal `json:"last_price"`
	PeakPrice      decimal.Decimal `json:"peak_price"`
	FirstSellPrice decimal.Decimal `json:"first_sell_price"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	Proceeds       decimal.Decimal `json:"proceeds"`
	FeesPaid       decimal.Decimal `json:"fees_paid"`
	OpenedAt       time.Time       `json:"opened_at"`
	FilledAt       time.Time       `json:"filled_at"`
	LastPriceAt    time.Time       `json:"last_price_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Totals is the tracker's running balance: realized PnL, cumulative cost of
// every buy and fees paid.
type Totals struct {
	Realized  decimal.Decimal `json:"realized"`
	Invested  decimal.Decimal `json:"invested"`
	FeesPaid  decimal.Decimal `json:"fees_paid"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store keeps one snapshot per token plus a single totals record.
type Store interface {
	Save(ctx context.Context, s Snapshot) error
	Delete(ctx context.Context, token string) error
	LoadAll(ctx context.Context) ([]Snapshot, error)
	SaveTotals(ctx context.Context, t Totals) error
	// LoadTotals reports false when no totals were ever saved.
	LoadTotals(ctx context.Context) (Totals, bool, error)
	Close() error
}

// Nop discards everything. Used when persistence is disabled.
type Nop struct{}

func (Nop) Save(context.Context, Snapshot) error        { return nil }
func (Nop) Delete(context.Context, string) error        { return nil }
func (Nop) LoadAll(context.Context) ([]Snapshot, error) { return nil, nil }
func (Nop) SaveTotals(context.Context, Totals) error    { return nil }
func (Nop) Close() error                                { return nil }

func (Nop) LoadTotals(context.Context) (Totals, bool, error) { return Totals{}, false, nil }

// Open returns the store for driver: file, postgres or none.
func Open(ctx context.Context, driver, path, dsn string) (Store, error) {
	switch driver {
	case "", "file":
		return OpenFile(path)
	case "postgres":
		return OpenPostgres(ctx, dsn)
	case "none":
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}
}
