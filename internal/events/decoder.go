package events

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const wordSize = 32

// variant is one known ABI layout for a topic hash.
type variant struct {
	name  string
	kind  Kind
	event abi.Event
	build func(e *Event, f map[string]any) error
}

// Decoder maps raw logs to typed events. It holds no mutable state; Decode
// is safe for concurrent use.
type Decoder struct {
	variants    map[common.Hash][]variant
	rawPurchase map[common.Hash]struct{}
	rawSale     map[common.Hash]struct{}
	now         func() time.Time
}

// NewDecoder builds a decoder that, beyond the known ABI variants, applies
// byte-offset extraction to logs whose topic0 is in rawPurchase or rawSale.
func NewDecoder(rawPurchase, rawSale []common.Hash) *Decoder {
	d := &Decoder{
		variants:    make(map[common.Hash][]variant),
		rawPurchase: make(map[common.Hash]struct{}),
		rawSale:     make(map[common.Hash]struct{}),
		now:         time.Now,
	}
	for _, h := range rawPurchase {
		d.rawPurchase[h] = struct{}{}
	}
	for _, h := range rawSale {
		d.rawSale[h] = struct{}{}
	}

	tm := TokenManagerEvents.Events
	d.add("TokenCreate", KindTokenCreate, tm["TokenCreate"], buildCreate)
	d.add("TokenPurchase", KindTokenPurchase, tm["TokenPurchase"], buildTrade)
	d.add("TokenSale", KindTokenSale, tm["TokenSale"], buildTrade)
	d.add("TokenPurchase2", KindTokenPurchase2, tm["TokenPurchase2"], buildOrigin)
	d.add("TokenSale2", KindTokenSale2, tm["TokenSale2"], buildOrigin)
	d.add("TradeStop", KindTradeStop, tm["TradeStop"], buildStop)
	d.add("LiquidityAdded", KindLiquidityAdded, tm["LiquidityAdded"], buildLiquidity)

	v1 := TokenManagerV1Events.Events
	d.add("TokenPurchaseV1", KindTokenPurchase, v1["TokenPurchase"], buildTrade)
	d.add("TokenSaleV1", KindTokenSale, v1["TokenSale"], buildTrade)

	lg := LegacyEvents.Events
	d.add("TokenLaunched", KindTokenLaunched, lg["TokenLaunched"], buildLaunched)
	d.add("BondingProgress", KindBondingProgress, lg["BondingProgress"], buildProgress)
	d.add("TokenGraduated", KindTradeStop, lg["TokenGraduated"], buildStop)
	d.add("TokenPurchaseLegacy", KindTokenPurchase, lg["TokenPurchase"], buildLegacyPurchase)

	return d
}

func (d *Decoder) add(name string, kind Kind, ev abi.Event, build func(*Event, map[string]any) error) {
	d.variants[ev.ID] = append(d.variants[ev.ID], variant{name: name, kind: kind, event: ev, build: build})
}

// Topics returns every topic0 the decoder can handle, for log filters.
func (d *Decoder) Topics() []common.Hash {
	out := make([]common.Hash, 0, len(d.variants)+len(d.rawPurchase)+len(d.rawSale))
	seen := make(map[common.Hash]struct{})
	appendOnce := func(h common.Hash) {
		if _, ok := seen[h]; !ok {
			seen[h] = struct{}{}
			out = append(out, h)
		}
	}
	for h := range d.variants {
		appendOnce(h)
	}
	for h := range d.rawPurchase {
		appendOnce(h)
	}
	for h := range d.rawSale {
		appendOnce(h)
	}
	return out
}

// Decode tries every known variant for the log's topic0, then the manual
// layouts for whitelisted raw topics. The result is ErrUnrecognized when
// nothing fits.
func (d *Decoder) Decode(l types.Log) (Event, error) {
	if len(l.Topics) == 0 {
		return Event{}, fmt.Errorf("%w: log without topics", ErrUnrecognized)
	}
	base := Event{
		Contract:     l.Address,
		BlockNumber:  l.BlockNumber,
		TxHash:       l.TxHash,
		LogIndex:     l.Index,
		DiscoveredAt: d.now(),
	}
	topic0 := l.Topics[0]

	var lastErr error
	for _, v := range d.variants[topic0] {
		ev := base
		if err := v.decode(&ev, l); err != nil {
			lastErr = err
			continue
		}
		return ev, nil
	}

	if _, ok := d.rawPurchase[topic0]; ok {
		return decodeManualTrade(base, KindTokenPurchase, l)
	}
	if _, ok := d.rawSale[topic0]; ok {
		return decodeManualTrade(base, KindTokenSale, l)
	}

	if lastErr != nil {
		return Event{}, fmt.Errorf("%w: topic %s: %v", ErrUnrecognized, topic0.Hex(), lastErr)
	}
	return Event{}, fmt.Errorf("%w: topic %s", ErrUnrecognized, topic0.Hex())
}

func (v variant) decode(ev *Event, l types.Log) error {
	var indexed abi.Arguments
	for _, in := range v.event.Inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		}
	}
	nonIndexed := v.event.Inputs.NonIndexed()

	if len(l.Topics)-1 != len(indexed) {
		return fmt.Errorf("%w: %s wants %d indexed topics, got %d", ErrDecodeMismatch, v.name, len(indexed), len(l.Topics)-1)
	}
	if static, ok := staticSize(nonIndexed); ok && len(l.Data) != static {
		return fmt.Errorf("%w: %s wants %d data bytes, got %d", ErrDecodeMismatch, v.name, static, len(l.Data))
	}

	fields := make(map[string]any, len(v.event.Inputs))
	if len(nonIndexed) > 0 {
		if err := nonIndexed.UnpackIntoMap(fields, l.Data); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrDecodeMismatch, v.name, err)
		}
	}
	if len(indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(fields, indexed, l.Topics[1:]); err != nil {
			return fmt.Errorf("%w: %s topics: %v", ErrDecodeMismatch, v.name, err)
		}
	}

	ev.Kind = v.kind
	ev.Variant = v.name
	return v.build(ev, fields)
}

// staticSize is the exact data length for argument lists without dynamic types.
func staticSize(args abi.Arguments) (int, bool) {
	size := 0
	for _, a := range args {
		switch a.Type.T {
		case abi.StringTy, abi.BytesTy, abi.SliceTy:
			return 0, false
		}
		size += wordSize
	}
	return size, true
}

// decodeManualTrade reads purchase/sale fields by byte offset, choosing the
// layout from the topic count:
//
//	1 topic  + >=5 words: token, account, amount, cost, fee
//	3 topics + >=3 words: topics token, account; data amount, cost, fee
//	2 topics + >=4 words: topic token; data account, amount, cost, fee
func decodeManualTrade(ev Event, kind Kind, l types.Log) (Event, error) {
	words := len(l.Data) / wordSize
	t := &Trade{}

	switch {
	case len(l.Topics) == 1 && words >= 5:
		t.Token = wordAddress(l.Data, 0)
		t.Account = wordAddress(l.Data, 1)
		t.Amount = wordInt(l.Data, 2)
		t.Cost = wordInt(l.Data, 3)
		t.Fee = wordInt(l.Data, 4)
		ev.Variant = "manual-unindexed"
	case len(l.Topics) == 3 && words >= 3:
		t.Token = common.BytesToAddress(l.Topics[1].Bytes())
		t.Account = common.BytesToAddress(l.Topics[2].Bytes())
		t.Amount = wordInt(l.Data, 0)
		t.Cost = wordInt(l.Data, 1)
		t.Fee = wordInt(l.Data, 2)
		ev.Variant = "manual-indexed"
	case len(l.Topics) == 2 && words >= 4:
		t.Token = common.BytesToAddress(l.Topics[1].Bytes())
		t.Account = wordAddress(l.Data, 0)
		t.Amount = wordInt(l.Data, 1)
		t.Cost = wordInt(l.Data, 2)
		t.Fee = wordInt(l.Data, 3)
		ev.Variant = "manual-partial"
	default:
		return Event{}, fmt.Errorf("%w: raw trade topic %s with %d topics and %d data words",
			ErrUnrecognized, l.Topics[0].Hex(), len(l.Topics), words)
	}

	ev.Kind = kind
	ev.Trade = t
	return ev, nil
}

func wordInt(data []byte, i int) *big.Int {
	return new(big.Int).SetBytes(data[i*wordSize : (i+1)*wordSize])
}

func wordAddress(data []byte, i int) common.Address {
	return common.BytesToAddress(data[i*wordSize : (i+1)*wordSize])
}

func fieldAddress(f map[string]any, name string) (common.Address, error) {
	v, ok := f[name].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%w: field %s is not an address", ErrDecodeMismatch, name)
	}
	return v, nil
}

func fieldInt(f map[string]any, name string) (*big.Int, error) {
	v, ok := f[name].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: field %s is not uint256", ErrDecodeMismatch, name)
	}
	return v, nil
}

func fieldString(f map[string]any, name string) (string, error) {
	v, ok := f[name].(string)
	if !ok {
		return "", fmt.Errorf("%w: field %s is not a string", ErrDecodeMismatch, name)
	}
	return v, nil
}

// fields collects typed values and remembers the first failure.
type fields struct {
	m   map[string]any
	err error
}

func (f *fields) addr(name string) common.Address {
	if f.err != nil {
		return common.Address{}
	}
	v, err := fieldAddress(f.m, name)
	f.err = err
	return v
}

func (f *fields) num(name string) *big.Int {
	if f.err != nil {
		return nil
	}
	v, err := fieldInt(f.m, name)
	f.err = err
	return v
}

func (f *fields) str(name string) string {
	if f.err != nil {
		return ""
	}
	v, err := fieldString(f.m, name)
	f.err = err
	return v
}

func buildCreate(e *Event, m map[string]any) error {
	f := fields{m: m}
	e.Create = &TokenCreate{
		Creator:     f.addr("creator"),
		Token:       f.addr("token"),
		RequestID:   f.num("requestId"),
		Name:        f.str("name"),
		Symbol:      f.str("symbol"),
		TotalSupply: f.num("totalSupply"),
		LaunchTime:  f.num("launchTime"),
		LaunchFee:   f.num("launchFee"),
	}
	return f.err
}

func buildLaunched(e *Event, m map[string]any) error {
	f := fields{m: m}
	e.Create = &TokenCreate{
		Creator:   f.addr("creator"),
		Token:     f.addr("token"),
		Name:      f.str("name"),
		Symbol:    f.str("symbol"),
		LaunchFee: f.num("initialLiquidity"),
	}
	return f.err
}

func buildTrade(e *Event, m map[string]any) error {
	f := fields{m: m}
	t := &Trade{
		Token:   f.addr("token"),
		Account: f.addr("account"),
		Amount:  f.num("amount"),
		Cost:    f.num("cost"),
	}
	// V2 layout carries the extra curve state.
	if _, ok := m["price"]; ok {
		t.Price = f.num("price")
		t.Fee = f.num("fee")
		t.Offers = f.num("offers")
		t.Funds = f.num("funds")
	}
	e.Trade = t
	return f.err
}

func buildLegacyPurchase(e *Event, m map[string]any) error {
	f := fields{m: m}
	e.Trade = &Trade{
		Token:   f.addr("token"),
		Account: f.addr("user"),
		Amount:  f.num("tokenAmount"),
		Cost:    f.num("bnbAmount"),
	}
	return f.err
}

func buildOrigin(e *Event, m map[string]any) error {
	f := fields{m: m}
	e.Origin = &Origin{Origin: f.num("origin")}
	return f.err
}

func buildStop(e *Event, m map[string]any) error {
	f := fields{m: m}
	e.Stop = &TradeStop{Token: f.addr("token")}
	return f.err
}

func buildLiquidity(e *Event, m map[string]any) error {
	f := fields{m: m}
	e.Liquidity = &LiquidityAdded{
		Base:   f.addr("base"),
		Offers: f.num("offers"),
		Quote:  f.addr("quote"),
		Funds:  f.num("funds"),
	}
	return f.err
}

func buildProgress(e *Event, m map[string]any) error {
	f := fields{m: m}
	e.Progress = &BondingProgress{
		Token:     f.addr("token"),
		Progress:  f.num("progress"),
		MarketCap: f.num("currentMarketCap"),
	}
	return f.err
}
