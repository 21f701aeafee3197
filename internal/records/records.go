// Package records mirrors decoded chain events and position trades to
// downstream sinks (Kafka, ClickHouse, logs).
package records

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/fourmeme-hunter/internal/events"
)

// Event record kinds.
const (
	KindLaunch   = "launch"
	KindBuy      = "buy"
	KindSell     = "sell"
	KindGraduate = "graduate"
)

// Trade record actions.
const (
	ActionOpen    = "OPEN"
	ActionPartial = "PARTIAL"
	ActionClose   = "CLOSE"
)

// EventRecord is the flat form of a decoded bonding-curve log.
type EventRecord struct {
	Kind        string          `json:"kind"`
	Variant     string          `json:"variant"`
	Token       string          `json:"token"`
	Account     string          `json:"account,omitempty"`
	Name        string          `json:"name,omitempty"`
	Symbol      string          `json:"symbol,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Amount      decimal.Decimal `json:"amount"`
	Cost        decimal.Decimal `json:"cost"`
	BlockNumber uint64          `json:"block"`
	TxHash      string          `json:"tx"`
	LogIndex    uint            `json:"log_index"`
	Timestamp   time.Time       `json:"ts"`
}

// TradeRecord is written on every position open, partial sell and close.
type TradeRecord struct {
	Action    string          `json:"action"`
	Token     string          `json:"token"`
	Symbol    string          `json:"symbol,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	BNB       decimal.Decimal `json:"bnb"`
	PnL       decimal.Decimal `json:"pnl"`
	Reason    string          `json:"reason,omitempty"`
	TxHash    string          `json:"tx,omitempty"`
	Timestamp time.Time       `json:"ts"`
}

// FromEvent flattens ev. ok is false for kinds that carry no token
// (origin markers, liquidity notices).
func FromEvent(ev events.Event) (EventRecord, bool) {
	rec := EventRecord{
		Variant:     ev.Variant,
		BlockNumber: ev.BlockNumber,
		TxHash:      ev.TxHash.Hex(),
		LogIndex:    ev.LogIndex,
		Timestamp:   ev.DiscoveredAt,
	}
	switch {
	case ev.Create != nil:
		rec.Kind = KindLaunch
		rec.Token = ev.Create.Token.Hex()
		rec.Account = ev.Create.Creator.Hex()
		rec.Name = ev.Create.Name
		rec.Symbol = ev.Create.Symbol
		rec.Amount = events.FromWei(ev.Create.TotalSupply)
		rec.Cost = events.FromWei(ev.Create.LaunchFee)
	case ev.Trade != nil:
		rec.Kind = KindBuy
		if ev.Kind == events.KindTokenSale {
			rec.Kind = KindSell
		}
		rec.Token = ev.Trade.Token.Hex()
		rec.Account = ev.Trade.Account.Hex()
		rec.Price = events.FromWei(ev.Trade.Price)
		rec.Amount = events.FromWei(ev.Trade.Amount)
		rec.Cost = events.FromWei(ev.Trade.Cost)
	case ev.Stop != nil:
		rec.Kind = KindGraduate
		rec.Token = ev.Stop.Token.Hex()
	default:
		return EventRecord{}, false
	}
	return rec, true
}

// Sink receives records. Implementations must not block the caller on
// network I/O.
type Sink interface {
	WriteEvent(ctx context.Context, rec EventRecord) error
	WriteTrade(ctx context.Context, rec TradeRecord) error
}

// MultiSink fans records out to every sink. Errors are logged, never returned.
type MultiSink []Sink

func (m MultiSink) WriteEvent(ctx context.Context, rec EventRecord) error {
	for _, s := range m {
		if err := s.WriteEvent(ctx, rec); err != nil {
			log.Warn().Err(err).Str("kind", rec.Kind).Str("token", rec.Token).Msg("records: event sink failed")
		}
	}
	return nil
}

func (m MultiSink) WriteTrade(ctx context.Context, rec TradeRecord) error {
	for _, s := range m {
		if err := s.WriteTrade(ctx, rec); err != nil {
			log.Warn().Err(err).Str("action", rec.Action).Str("token", rec.Token).Msg("records: trade sink failed")
		}
	}
	return nil
}

// LogSink writes trade records to the structured log. Event records are
// only logged at debug.
type LogSink struct{}

func (LogSink) WriteEvent(_ context.Context, rec EventRecord) error {
	log.Debug().
		Str("kind", rec.Kind).
		Str("token", rec.Token).
		Str("symbol", rec.Symbol).
		Uint64("block", rec.BlockNumber).
		Msg("records: event")
	return nil
}

func (LogSink) WriteTrade(_ context.Context, rec TradeRecord) error {
	log.Info().
		Str("action", rec.Action).
		Str("token", rec.Token).
		Str("symbol", rec.Symbol).
		Str("price", rec.Price.String()).
		Str("amount", rec.Amount.String()).
		Str("bnb", rec.BNB.StringFixed(6)).
		Str("pnl", rec.PnL.StringFixed(6)).
		Str("reason", rec.Reason).
		Str("tx", rec.TxHash).
		Msg("records: trade")
	return nil
}
