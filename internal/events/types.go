// Package events turns raw four.meme TokenManager logs into typed events.
package events

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	// ErrDecodeMismatch means a log did not fit a candidate layout.
	ErrDecodeMismatch = errors.New("event decode mismatch")
	// ErrUnrecognized means no known variant or fallback layout matched.
	ErrUnrecognized = errors.New("unrecognized event")
)

// Kind tags the payload carried by an Event.
type Kind int

const (
	KindUnknown Kind = iota
	KindTokenCreate
	KindTokenPurchase
	KindTokenSale
	KindTokenPurchase2
	KindTokenSale2
	KindTradeStop
	KindLiquidityAdded
	KindTokenLaunched
	KindBondingProgress
)

func (k Kind) String() string {
	switch k {
	case KindTokenCreate:
		return "TokenCreate"
	case KindTokenPurchase:
		return "TokenPurchase"
	case KindTokenSale:
		return "TokenSale"
	case KindTokenPurchase2:
		return "TokenPurchase2"
	case KindTokenSale2:
		return "TokenSale2"
	case KindTradeStop:
		return "TradeStop"
	case KindLiquidityAdded:
		return "LiquidityAdded"
	case KindTokenLaunched:
		return "TokenLaunched"
	case KindBondingProgress:
		return "BondingProgress"
	default:
		return "Unknown"
	}
}

// IsTrade reports whether the kind carries a Trade payload.
func (k Kind) IsTrade() bool {
	return k == KindTokenPurchase || k == KindTokenSale
}

// Key identifies a log for deduplication.
type Key struct {
	TxHash   common.Hash
	LogIndex uint
}

// Event is a decoded log. Exactly one payload pointer is set, chosen by Kind.
type Event struct {
	Kind         Kind
	Variant      string // ABI variant or fallback layout that decoded the log
	Contract     common.Address
	BlockNumber  uint64
	TxHash       common.Hash
	LogIndex     uint
	DiscoveredAt time.Time

	Create    *TokenCreate
	Trade     *Trade
	Origin    *Origin
	Stop      *TradeStop
	Liquidity *LiquidityAdded
	Progress  *BondingProgress
}

func (e Event) Key() Key {
	return Key{TxHash: e.TxHash, LogIndex: e.LogIndex}
}

// Token returns the token the event concerns, or the zero address.
func (e Event) Token() common.Address {
	switch {
	case e.Create != nil:
		return e.Create.Token
	case e.Trade != nil:
		return e.Trade.Token
	case e.Stop != nil:
		return e.Stop.Token
	case e.Liquidity != nil:
		return e.Liquidity.Base
	case e.Progress != nil:
		return e.Progress.Token
	}
	return common.Address{}
}

// TokenCreate announces a new bonding-curve token. TokenLaunched (legacy)
// fills the same struct with TotalSupply and RequestID left nil.
type TokenCreate struct {
	Creator     common.Address
	Token       common.Address
	RequestID   *big.Int
	Name        string
	Symbol      string
	TotalSupply *big.Int // wei units (18 decimals)
	LaunchTime  *big.Int // unix seconds
	LaunchFee   *big.Int // wei
}

// Trade is a bonding-curve purchase or sale. Price, Offers and Funds are
// nil for layouts that do not carry them.
type Trade struct {
	Token   common.Address
	Account common.Address
	Price   *big.Int
	Amount  *big.Int // token wei
	Cost    *big.Int // BNB wei
	Fee     *big.Int // BNB wei
	Offers  *big.Int
	Funds   *big.Int
}

// ImpliedPrice is cost / amount in BNB per token, zero when amount is zero.
func (t Trade) ImpliedPrice() decimal.Decimal {
	if t.Amount == nil || t.Cost == nil || t.Amount.Sign() == 0 {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(t.Cost, 0).DivRound(decimal.NewFromBigInt(t.Amount, 0), 18)
}

// Origin is the companion record emitted beside a purchase or sale.
type Origin struct {
	Origin *big.Int
}

// TradeStop halts curve trading ahead of DEX migration. The legacy
// TokenGraduated event decodes into the same payload.
type TradeStop struct {
	Token common.Address
}

type LiquidityAdded struct {
	Base   common.Address
	Offers *big.Int
	Quote  common.Address
	Funds  *big.Int
}

type BondingProgress struct {
	Token     common.Address
	Progress  *big.Int
	MarketCap *big.Int
}

// FromWei converts an 18-decimal integer amount into a decimal.
func FromWei(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -18)
}

// ToWei converts a decimal amount into 18-decimal integer units, truncating.
func ToWei(d decimal.Decimal) *big.Int {
	return d.Shift(18).Truncate(0).BigInt()
}
