package events

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokenAddr   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	creatorAddr = common.HexToAddress("0x2222222222222222222222222222222222222222")
	buyerAddr   = common.HexToAddress("0x3333333333333333333333333333333333333333")
	rawTopic    = common.HexToHash("0x0a5575b3648bae2210cee56bf33254cc1ddfbc7bf637c0af2ac18b14fb1bae19")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func newTestDecoder() *Decoder {
	d := NewDecoder([]common.Hash{rawTopic}, nil)
	d.now = func() time.Time { return time.Unix(1700000000, 0) }
	return d
}

func TestDecodeTokenCreate(t *testing.T) {
	ev := TokenManagerEvents.Events["TokenCreate"]
	data, err := ev.Inputs.NonIndexed().Pack(
		creatorAddr, tokenAddr, big.NewInt(7), "Pepe Cash", "PEPEC",
		ether(1_000_000_000), big.NewInt(1700000000), big.NewInt(5e16),
	)
	require.NoError(t, err)

	l := types.Log{
		Topics:      []common.Hash{ev.ID},
		Data:        data,
		BlockNumber: 42,
		TxHash:      common.HexToHash("0xabc"),
		Index:       3,
	}
	got, err := newTestDecoder().Decode(l)
	require.NoError(t, err)

	assert.Equal(t, KindTokenCreate, got.Kind)
	assert.Equal(t, "TokenCreate", got.Variant)
	require.NotNil(t, got.Create)
	assert.Equal(t, creatorAddr, got.Create.Creator)
	assert.Equal(t, tokenAddr, got.Create.Token)
	assert.Equal(t, "Pepe Cash", got.Create.Name)
	assert.Equal(t, "PEPEC", got.Create.Symbol)
	assert.Equal(t, ether(1_000_000_000), got.Create.TotalSupply)
	assert.Equal(t, uint64(42), got.BlockNumber)
	assert.Equal(t, Key{TxHash: common.HexToHash("0xabc"), LogIndex: 3}, got.Key())
	assert.Equal(t, tokenAddr, got.Token())
	assert.Equal(t, int64(1700000000), got.DiscoveredAt.Unix())
}

func TestDecodeV2Purchase(t *testing.T) {
	ev := TokenManagerEvents.Events["TokenPurchase"]
	data, err := ev.Inputs.NonIndexed().Pack(
		tokenAddr, buyerAddr, big.NewInt(100), ether(1000), ether(1), big.NewInt(1e16),
		ether(500), ether(10),
	)
	require.NoError(t, err)

	got, err := newTestDecoder().Decode(types.Log{Topics: []common.Hash{ev.ID}, Data: data})
	require.NoError(t, err)

	assert.Equal(t, KindTokenPurchase, got.Kind)
	assert.Equal(t, "TokenPurchase", got.Variant)
	require.NotNil(t, got.Trade)
	assert.Equal(t, buyerAddr, got.Trade.Account)
	assert.Equal(t, big.NewInt(100), got.Trade.Price)
	assert.True(t, got.Trade.ImpliedPrice().Equal(decimal.RequireFromString("0.001")))
}

func TestDecodeVariantsShareTopic(t *testing.T) {
	// V1 (unindexed) and legacy (indexed) TokenPurchase hash to the same topic.
	v1 := TokenManagerV1Events.Events["TokenPurchase"]
	legacy := LegacyEvents.Events["TokenPurchase"]
	require.Equal(t, v1.ID, legacy.ID)

	d := newTestDecoder()

	t.Run("v1 unindexed", func(t *testing.T) {
		data, err := v1.Inputs.NonIndexed().Pack(tokenAddr, buyerAddr, ether(200), ether(2))
		require.NoError(t, err)
		got, err := d.Decode(types.Log{Topics: []common.Hash{v1.ID}, Data: data})
		require.NoError(t, err)
		assert.Equal(t, "TokenPurchaseV1", got.Variant)
		assert.Equal(t, tokenAddr, got.Trade.Token)
		assert.Nil(t, got.Trade.Price)
	})

	t.Run("legacy indexed", func(t *testing.T) {
		data, err := legacy.Inputs.NonIndexed().Pack(ether(2), ether(200))
		require.NoError(t, err)
		got, err := d.Decode(types.Log{
			Topics: []common.Hash{legacy.ID, common.BytesToHash(buyerAddr.Bytes()), common.BytesToHash(tokenAddr.Bytes())},
			Data:   data,
		})
		require.NoError(t, err)
		assert.Equal(t, "TokenPurchaseLegacy", got.Variant)
		assert.Equal(t, KindTokenPurchase, got.Kind)
		assert.Equal(t, tokenAddr, got.Trade.Token)
		assert.Equal(t, buyerAddr, got.Trade.Account)
		assert.True(t, got.Trade.ImpliedPrice().Equal(decimal.RequireFromString("0.01")))
	})
}

func TestDecodeTradeStopAndGraduated(t *testing.T) {
	d := newTestDecoder()

	stop := TokenManagerEvents.Events["TradeStop"]
	data, err := stop.Inputs.NonIndexed().Pack(tokenAddr)
	require.NoError(t, err)
	got, err := d.Decode(types.Log{Topics: []common.Hash{stop.ID}, Data: data})
	require.NoError(t, err)
	assert.Equal(t, KindTradeStop, got.Kind)
	assert.Equal(t, tokenAddr, got.Stop.Token)

	grad := LegacyEvents.Events["TokenGraduated"]
	data, err = grad.Inputs.NonIndexed().Pack(ether(30), creatorAddr)
	require.NoError(t, err)
	got, err = d.Decode(types.Log{Topics: []common.Hash{grad.ID, common.BytesToHash(tokenAddr.Bytes())}, Data: data})
	require.NoError(t, err)
	assert.Equal(t, KindTradeStop, got.Kind)
	assert.Equal(t, "TokenGraduated", got.Variant)
	assert.Equal(t, tokenAddr, got.Token())
}

func TestDecodeOriginAndLiquidity(t *testing.T) {
	d := newTestDecoder()

	p2 := TokenManagerEvents.Events["TokenPurchase2"]
	data, err := p2.Inputs.NonIndexed().Pack(big.NewInt(9))
	require.NoError(t, err)
	got, err := d.Decode(types.Log{Topics: []common.Hash{p2.ID}, Data: data})
	require.NoError(t, err)
	assert.Equal(t, KindTokenPurchase2, got.Kind)
	assert.Equal(t, big.NewInt(9), got.Origin.Origin)

	la := TokenManagerEvents.Events["LiquidityAdded"]
	data, err = la.Inputs.NonIndexed().Pack(tokenAddr, ether(1), creatorAddr, ether(2))
	require.NoError(t, err)
	got, err = d.Decode(types.Log{Topics: []common.Hash{la.ID}, Data: data})
	require.NoError(t, err)
	assert.Equal(t, KindLiquidityAdded, got.Kind)
	assert.Equal(t, tokenAddr, got.Liquidity.Base)
}

func words(vals ...*big.Int) []byte {
	out := make([]byte, 0, len(vals)*32)
	for _, v := range vals {
		out = append(out, common.LeftPadBytes(v.Bytes(), 32)...)
	}
	return out
}

func addrWord(a common.Address) *big.Int {
	return new(big.Int).SetBytes(a.Bytes())
}

func TestDecodeManualLayouts(t *testing.T) {
	d := newTestDecoder()

	tests := []struct {
		name    string
		log     types.Log
		variant string
	}{
		{
			name: "fully unindexed",
			log: types.Log{
				Topics: []common.Hash{rawTopic},
				Data:   words(addrWord(tokenAddr), addrWord(buyerAddr), ether(1000), ether(1), big.NewInt(1e16)),
			},
			variant: "manual-unindexed",
		},
		{
			name: "fully indexed",
			log: types.Log{
				Topics: []common.Hash{rawTopic, common.BytesToHash(tokenAddr.Bytes()), common.BytesToHash(buyerAddr.Bytes())},
				Data:   words(ether(1000), ether(1), big.NewInt(1e16)),
			},
			variant: "manual-indexed",
		},
		{
			name: "partially indexed",
			log: types.Log{
				Topics: []common.Hash{rawTopic, common.BytesToHash(tokenAddr.Bytes())},
				Data:   words(addrWord(buyerAddr), ether(1000), ether(1), big.NewInt(1e16)),
			},
			variant: "manual-partial",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Decode(tt.log)
			require.NoError(t, err)
			assert.Equal(t, KindTokenPurchase, got.Kind)
			assert.Equal(t, tt.variant, got.Variant)
			assert.Equal(t, tokenAddr, got.Trade.Token)
			assert.Equal(t, buyerAddr, got.Trade.Account)
			assert.Equal(t, ether(1000), got.Trade.Amount)
			assert.Equal(t, ether(1), got.Trade.Cost)
			assert.Equal(t, big.NewInt(1e16), got.Trade.Fee)
		})
	}
}

func TestDecodeUnrecognized(t *testing.T) {
	d := newTestDecoder()

	t.Run("unknown topic", func(t *testing.T) {
		_, err := d.Decode(types.Log{Topics: []common.Hash{common.HexToHash("0xdead")}})
		assert.ErrorIs(t, err, ErrUnrecognized)
	})

	t.Run("no topics", func(t *testing.T) {
		_, err := d.Decode(types.Log{})
		assert.ErrorIs(t, err, ErrUnrecognized)
	})

	t.Run("raw topic too short", func(t *testing.T) {
		_, err := d.Decode(types.Log{Topics: []common.Hash{rawTopic}, Data: words(ether(1), ether(2))})
		assert.ErrorIs(t, err, ErrUnrecognized)
	})

	t.Run("known topic wrong shape", func(t *testing.T) {
		stop := TokenManagerEvents.Events["TradeStop"]
		_, err := d.Decode(types.Log{Topics: []common.Hash{stop.ID}, Data: words(ether(1), ether(2))})
		assert.ErrorIs(t, err, ErrUnrecognized)
	})
}

func TestTopicsCoverVariantsAndRaw(t *testing.T) {
	d := newTestDecoder()
	topics := d.Topics()
	assert.Contains(t, topics, rawTopic)
	assert.Contains(t, topics, TokenManagerEvents.Events["TokenCreate"].ID)
	assert.Contains(t, topics, LegacyEvents.Events["TokenLaunched"].ID)
}

func TestWeiConversion(t *testing.T) {
	assert.True(t, FromWei(big.NewInt(5e16)).Equal(decimal.RequireFromString("0.05")))
	assert.Equal(t, big.NewInt(5e16), ToWei(decimal.RequireFromString("0.05")))
	assert.True(t, FromWei(nil).IsZero())
}
