// Package executor builds, signs, submits and confirms four.meme trades.
package executor

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/fourmeme-hunter/internal/chain"
	"github.com/nexus-trading/fourmeme-hunter/internal/events"
	"github.com/nexus-trading/fourmeme-hunter/internal/observability"
)

var (
	// ErrTransactionReverted means the receipt came back with status 0.
	ErrTransactionReverted = errors.New("transaction reverted")
	// ErrTransactionUnknown means no receipt arrived before the timeout.
	// The transaction may still land and is never resubmitted.
	ErrTransactionUnknown = errors.New("transaction outcome unknown")
	// ErrNoBalance means the wallet holds none of the token being sold.
	ErrNoBalance = errors.New("no token balance")
)

// Token status reasons reported by CheckTokenStatus.
const (
	StatusReady       = "READY"
	StatusNotFound    = "NOT_FOUND"
	StatusNotLaunched = "NOT_LAUNCHED"
	StatusZeroPrice   = "ZERO_PRICE"
	StatusGraduated   = "GRADUATED"
	StatusQueryFailed = "QUERY_FAILED"
)

// Config configures the executor.
type Config struct {
	ChainID      int64
	PrivateKey   string // hex, with or without 0x
	DryRun       bool
	TokenManager common.Address
	Router       common.Address
	Helper       common.Address
	UseRouter    bool // buy through the router's buyMemeToken; false calls buyTokenAMAP directly

	SlippagePct         float64
	GasMultiplier       float64
	GasPriceFloorGwei   float64
	GasMarginPct        float64
	FallbackGasLimit    uint64
	ApproveGasLimit     uint64
	ReceiptTimeout      time.Duration
	ReceiptPoll         time.Duration
	ApprovalSettleDelay time.Duration
}

// DefaultConfig returns mainnet defaults in dry-run mode.
func DefaultConfig() Config {
	return Config{
		ChainID:             56,
		DryRun:              true,
		TokenManager:        common.HexToAddress("0x5c952063c7fc8610FFDB798152D69F0B9550762b"),
		Router:              common.HexToAddress("0xc205f591D395d59ad5bcB8bD824d8FA67ab4d15A"),
		Helper:              common.HexToAddress("0xF251F83e40a78868FcfA3FA4599Dad6494E46034"),
		UseRouter:           true,
		SlippagePct:         15,
		GasMultiplier:       1.3,
		GasMarginPct:        20,
		FallbackGasLimit:    500000,
		ApproveGasLimit:     100000,
		ReceiptTimeout:      30 * time.Second,
		ReceiptPoll:         time.Second,
		ApprovalSettleDelay: 3 * time.Second,
	}
}

// TokenStatus is the helper's view of whether a token can be traded now.
type TokenStatus struct {
	Exists     bool            `json:"exists"`
	Ready      bool            `json:"ready"`
	Price      decimal.Decimal `json:"price"` // BNB per token
	LaunchTime time.Time       `json:"launch_time"`
	Reason     string          `json:"reason"`
	Info       *TokenInfo      `json:"-"`
}

// BuyOptions tunes a single buy.
type BuyOptions struct {
	SkipConfirm   bool
	MinAmountOut  *big.Int        // token wei; computed from ExpectedPrice when nil
	ExpectedPrice decimal.Decimal // BNB per token, zero = no slippage bound
}

// TxResult describes a submitted transaction.
type TxResult struct {
	TxHash      string `json:"tx_hash"`
	Method      string `json:"method"`
	Confirmed   bool   `json:"confirmed"`
	GasUsed     uint64 `json:"gas_used"`
	BlockNumber uint64 `json:"block_number"`
	DryRun      bool   `json:"dry_run"`
	// Amount is the token wei a sell actually submitted after clamping to
	// the balance. Nil for buys and approvals.
	Amount *big.Int `json:"amount,omitempty"`
}

// call is one contract invocation on the submission path.
type call struct {
	side     string // buy|sell|approve
	method   string
	to       common.Address
	data     []byte
	value    *big.Int
	gasLimit uint64 // fixed limit, 0 estimates

	// alt is tried when estimation of the primary call reverts.
	alt *call
	// approveToken is granted to the token manager when estimation
	// reverts on an allowance check.
	approveToken *common.Address
}

// Executor owns the wallet and its nonce counter.
type Executor struct {
	config   Config
	provider chain.Provider
	metrics  *observability.Metrics
	key      *ecdsa.PrivateKey
	wallet   common.Address
	signer   types.Signer
	nonces   *NonceManager
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	// submitMu serializes estimate/sign/send so nonces go out in order.
	submitMu sync.Mutex

	buys      atomic.Int64
	sells     atomic.Int64
	approvals atomic.Int64
	reverted  atomic.Int64
	unknown   atomic.Int64
	failures  atomic.Int64
	fallbacks atomic.Int64
}

// New builds an executor. A private key is required unless DryRun is set.
func New(cfg Config, provider chain.Provider, metrics *observability.Metrics) (*Executor, error) {
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}
	if cfg.ReceiptPoll <= 0 {
		cfg.ReceiptPoll = time.Second
	}
	if cfg.GasMultiplier <= 0 {
		cfg.GasMultiplier = 1
	}
	if cfg.FallbackGasLimit == 0 {
		cfg.FallbackGasLimit = 500000
	}
	if cfg.ApproveGasLimit == 0 {
		cfg.ApproveGasLimit = 100000
	}

	e := &Executor{
		config:   cfg,
		provider: provider,
		metrics:  metrics,
		signer:   types.LatestSignerForChainID(big.NewInt(cfg.ChainID)),
		now:      time.Now,
		sleep:    sleepCtx,
	}

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("executor: parse private key: %w", err)
		}
		e.key = key
		e.wallet = crypto.PubkeyToAddress(key.PublicKey)
	} else if !cfg.DryRun {
		return nil, errors.New("executor: private key required when trading is enabled")
	}
	e.nonces = NewNonceManager(e.wallet)

	log.Info().
		Str("wallet", e.wallet.Hex()).
		Bool("dry_run", cfg.DryRun).
		Bool("router", cfg.UseRouter).
		Msg("executor: initialized")
	return e, nil
}

// Wallet returns the trading account address (zero in key-less dry run).
func (e *Executor) Wallet() common.Address { return e.wallet }

func (e *Executor) DryRun() bool { return e.config.DryRun }

// ---------------------------------------------------------------------------
// Read-only queries
// ---------------------------------------------------------------------------

// CheckTokenStatus asks the helper contract whether token is tradable now.
func (e *Executor) CheckTokenStatus(ctx context.Context, token common.Address) TokenStatus {
	info, err := e.tokenInfo(ctx, token)
	if err != nil {
		log.Debug().Err(err).Str("token", token.Hex()).Msg("executor: token info query failed")
		return TokenStatus{Reason: StatusQueryFailed}
	}

	st := TokenStatus{Info: info}
	if info.TokenManager == (common.Address{}) {
		st.Reason = StatusNotFound
		return st
	}
	st.Exists = true
	st.Price = events.FromWei(info.LastPrice)
	if info.LaunchTime != nil && info.LaunchTime.Sign() > 0 {
		st.LaunchTime = time.Unix(info.LaunchTime.Int64(), 0)
	}

	switch {
	case info.LiquidityAdded:
		st.Reason = StatusGraduated
	case !st.LaunchTime.IsZero() && st.LaunchTime.After(e.now()):
		st.Reason = StatusNotLaunched
	case info.LastPrice == nil || info.LastPrice.Sign() == 0:
		st.Reason = StatusZeroPrice
	default:
		st.Ready = true
		st.Reason = StatusReady
	}
	return st
}

// LastPrice returns the helper's last trade price in BNB per token.
func (e *Executor) LastPrice(ctx context.Context, token common.Address) (decimal.Decimal, error) {
	info, err := e.tokenInfo(ctx, token)
	if err != nil {
		return decimal.Zero, err
	}
	return events.FromWei(info.LastPrice), nil
}

func (e *Executor) tokenInfo(ctx context.Context, token common.Address) (*TokenInfo, error) {
	data, err := HelperABI.Pack("getTokenInfo", token)
	if err != nil {
		return nil, err
	}
	out, err := e.callView(ctx, e.config.Helper, data)
	if err != nil {
		return nil, err
	}
	var info TokenInfo
	if err := HelperABI.UnpackIntoInterface(&info, "getTokenInfo", out); err != nil {
		return nil, fmt.Errorf("unpack getTokenInfo: %w", err)
	}
	return &info, nil
}

// TokenBalance returns the wallet's balance of token in token wei.
func (e *Executor) TokenBalance(ctx context.Context, token common.Address) (*big.Int, error) {
	return e.erc20Uint(ctx, token, "balanceOf", e.wallet)
}

func (e *Executor) allowance(ctx context.Context, token common.Address) (*big.Int, error) {
	return e.erc20Uint(ctx, token, "allowance", e.wallet, e.config.TokenManager)
}

func (e *Executor) erc20Uint(ctx context.Context, token common.Address, method string, args ...any) (*big.Int, error) {
	data, err := ERC20ABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	out, err := e.callView(ctx, token, data)
	if err != nil {
		return nil, err
	}
	vals, err := ERC20ABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack %s: unexpected %T", method, vals[0])
	}
	return v, nil
}

func (e *Executor) callView(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	client, err := chain.Current(e.provider)
	if err != nil {
		return nil, err
	}
	return client.CallContract(ctx, ethereum.CallMsg{From: e.wallet, To: &to, Data: data}, nil)
}

// ---------------------------------------------------------------------------
// Trades
// ---------------------------------------------------------------------------

// BuyToken spends amount BNB on token.
func (e *Executor) BuyToken(ctx context.Context, token common.Address, amount decimal.Decimal, opts BuyOptions) (TxResult, error) {
	e.buys.Add(1)
	funds := events.ToWei(amount)
	minOut := e.minAmountOut(amount, opts)

	if e.config.DryRun {
		return e.dryRun("buy", token, amount.String()), nil
	}

	c, err := e.buyCall(token, funds, minOut)
	if err != nil {
		return TxResult{}, err
	}

	e.submitMu.Lock()
	hash, method, err := e.submit(ctx, c)
	e.submitMu.Unlock()
	if err != nil {
		e.recordFailure("buy")
		return TxResult{}, fmt.Errorf("buy %s: %w", token.Hex(), err)
	}

	log.Info().
		Str("token", token.Hex()).
		Str("amount_bnb", amount.String()).
		Str("method", method).
		Str("tx", hash.Hex()).
		Msg("executor: buy sent")

	res := TxResult{TxHash: hash.Hex(), Method: method}
	if opts.SkipConfirm {
		return res, nil
	}
	return e.confirm(ctx, "buy", res)
}

func (e *Executor) minAmountOut(amount decimal.Decimal, opts BuyOptions) *big.Int {
	if opts.MinAmountOut != nil {
		return opts.MinAmountOut
	}
	if !opts.ExpectedPrice.IsPositive() {
		return big.NewInt(0)
	}
	tokens := amount.Div(opts.ExpectedPrice)
	keep := decimal.NewFromInt(1).Sub(decimal.NewFromFloat(e.config.SlippagePct).Div(decimal.NewFromInt(100)))
	return events.ToWei(tokens.Mul(keep))
}

func (e *Executor) buyCall(token common.Address, funds, minOut *big.Int) (call, error) {
	amap, err := TokenManagerABI.Pack("buyTokenAMAP", token, funds, minOut)
	if err != nil {
		return call{}, err
	}
	direct := call{side: "buy", method: "buyTokenAMAP", to: e.config.TokenManager, data: amap, value: funds, approveToken: &token}
	if !e.config.UseRouter {
		return direct, nil
	}
	data, err := RouterABI.Pack("buyMemeToken", e.config.TokenManager, token, e.wallet, funds, minOut)
	if err != nil {
		return call{}, err
	}
	return call{side: "buy", method: "buyMemeToken", to: e.config.Router, data: data, value: funds, alt: &direct, approveToken: &token}, nil
}

// SellToken sells amount token wei. A nil amount sells the whole balance and
// an amount above the balance is clamped to it.
func (e *Executor) SellToken(ctx context.Context, token common.Address, amount *big.Int) (TxResult, error) {
	e.sells.Add(1)

	if e.config.DryRun {
		res := e.dryRun("sell", token, events.FromWei(amount).String())
		res.Amount = amount
		return res, nil
	}

	balance, err := e.TokenBalance(ctx, token)
	if err != nil {
		e.recordFailure("sell")
		return TxResult{}, fmt.Errorf("sell %s: balance: %w", token.Hex(), err)
	}
	if balance.Sign() == 0 {
		e.recordFailure("sell")
		return TxResult{}, fmt.Errorf("sell %s: %w", token.Hex(), ErrNoBalance)
	}
	if amount == nil || amount.Cmp(balance) > 0 {
		amount = balance
	}

	e.submitMu.Lock()
	hash, method, err := e.submitSell(ctx, token, amount)
	e.submitMu.Unlock()
	if err != nil {
		e.recordFailure("sell")
		return TxResult{}, fmt.Errorf("sell %s: %w", token.Hex(), err)
	}

	log.Info().
		Str("token", token.Hex()).
		Str("amount", events.FromWei(amount).String()).
		Str("method", method).
		Str("tx", hash.Hex()).
		Msg("executor: sell sent")

	return e.confirm(ctx, "sell", TxResult{TxHash: hash.Hex(), Method: method, Amount: amount})
}

// submitSell grants allowance when short, then sends the sell. Caller holds submitMu.
func (e *Executor) submitSell(ctx context.Context, token common.Address, amount *big.Int) (common.Hash, string, error) {
	allowed, err := e.allowance(ctx, token)
	if err != nil {
		return common.Hash{}, "", fmt.Errorf("allowance: %w", err)
	}
	if allowed.Cmp(amount) < 0 {
		if err := e.approve(ctx, token); err != nil {
			return common.Hash{}, "", err
		}
	}

	primary, err := TokenManagerABI.Pack("sellToken", token, amount)
	if err != nil {
		return common.Hash{}, "", err
	}
	alt, err := TokenManagerABI.Pack("saleToken", token, amount)
	if err != nil {
		return common.Hash{}, "", err
	}
	c := call{
		side: "sell", method: "sellToken", to: e.config.TokenManager, data: primary,
		alt: &call{side: "sell", method: "saleToken", to: e.config.TokenManager, data: alt},
	}
	return e.submit(ctx, c)
}

// approve grants the token manager an unlimited allowance, waits for the
// receipt, then the settle delay. Caller holds submitMu.
func (e *Executor) approve(ctx context.Context, token common.Address) error {
	data, err := ERC20ABI.Pack("approve", e.config.TokenManager, abiMaxUint256())
	if err != nil {
		return err
	}
	e.approvals.Add(1)
	hash, _, err := e.submit(ctx, call{side: "approve", method: "approve", to: token, data: data, gasLimit: e.config.ApproveGasLimit})
	if err != nil {
		return fmt.Errorf("approve: %w", err)
	}
	log.Info().Str("token", token.Hex()).Str("tx", hash.Hex()).Msg("executor: approval sent")

	if _, err := e.confirm(ctx, "approve", TxResult{TxHash: hash.Hex(), Method: "approve"}); err != nil {
		return fmt.Errorf("approve: %w", err)
	}
	return e.sleep(ctx, e.config.ApprovalSettleDelay)
}

// ---------------------------------------------------------------------------
// Submission path
// ---------------------------------------------------------------------------

// submit estimates gas, allocates a nonce, signs and sends c, returning the
// hash and the entry point actually used. Any failure resets the nonce
// counter. Caller holds submitMu.
func (e *Executor) submit(ctx context.Context, c call) (common.Hash, string, error) {
	client, err := chain.Current(e.provider)
	if err != nil {
		return common.Hash{}, c.method, err
	}

	gasPrice, err := e.gasPrice(ctx, client)
	if err != nil {
		e.nonces.Reset()
		return common.Hash{}, c.method, err
	}

	chosen, gas := e.resolveGas(ctx, client, c)

	nonce, err := e.nonces.Next(ctx, client)
	if err != nil {
		e.nonces.Reset()
		return common.Hash{}, chosen.method, err
	}

	value := chosen.value
	if value == nil {
		value = new(big.Int)
	}
	to := chosen.to
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    value,
		Data:     chosen.data,
	})
	signed, err := types.SignTx(tx, e.signer, e.key)
	if err != nil {
		e.nonces.Reset()
		return common.Hash{}, chosen.method, fmt.Errorf("sign: %w", err)
	}

	e.metrics.TxSubmitted.WithLabelValues(c.side).Inc()
	if err := client.SendTransaction(ctx, signed); err != nil {
		e.nonces.Reset()
		return common.Hash{}, chosen.method, fmt.Errorf("send %s: %w", chosen.method, err)
	}
	return signed.Hash(), chosen.method, nil
}

// resolveGas picks the call to send and its gas limit: primary estimate,
// then allowance grant and re-estimate, then the alternate entry point,
// then the fixed fallback limit.
func (e *Executor) resolveGas(ctx context.Context, client chain.EthClient, c call) (call, uint64) {
	if c.gasLimit > 0 {
		return c, c.gasLimit
	}

	gas, err := e.estimate(ctx, client, c)
	if err == nil {
		return c, gas
	}

	if c.approveToken != nil && isAllowanceRevert(err) {
		log.Warn().Err(err).Str("method", c.method).Msg("executor: estimate hit allowance, approving")
		if aerr := e.approve(ctx, *c.approveToken); aerr == nil {
			if gas, err = e.estimate(ctx, client, c); err == nil {
				return c, gas
			}
		} else {
			log.Warn().Err(aerr).Msg("executor: approval before re-estimate failed")
		}
	}

	if c.alt != nil {
		log.Warn().Err(err).Str("method", c.method).Str("alt", c.alt.method).Msg("executor: estimate reverted, trying alternate entry point")
		if gas, aerr := e.estimate(ctx, client, *c.alt); aerr == nil {
			e.fallbacks.Add(1)
			return *c.alt, gas
		}
		c = *c.alt
	}

	log.Warn().Err(err).Str("method", c.method).Uint64("gas", e.config.FallbackGasLimit).Msg("executor: estimate reverted, using fallback gas limit")
	return c, e.config.FallbackGasLimit
}

func (e *Executor) estimate(ctx context.Context, client chain.EthClient, c call) (uint64, error) {
	to := c.to
	gas, err := client.EstimateGas(ctx, ethereum.CallMsg{From: e.wallet, To: &to, Value: c.value, Data: c.data})
	if err != nil {
		return 0, err
	}
	margin := decimal.NewFromFloat(e.config.GasMarginPct).Div(decimal.NewFromInt(100))
	return decimal.NewFromInt(int64(gas)).Mul(decimal.NewFromInt(1).Add(margin)).Ceil().BigInt().Uint64(), nil
}

// gasPrice is the suggested price times the multiplier, floored by the
// configured gwei when set.
func (e *Executor) gasPrice(ctx context.Context, client chain.EthClient) (*big.Int, error) {
	suggested, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	price := decimal.NewFromBigInt(suggested, 0).Mul(decimal.NewFromFloat(e.config.GasMultiplier)).Truncate(0).BigInt()
	if e.config.GasPriceFloorGwei > 0 {
		floor := decimal.NewFromFloat(e.config.GasPriceFloorGwei).Shift(9).Truncate(0).BigInt()
		if price.Cmp(floor) < 0 {
			price = floor
		}
	}
	return price, nil
}

// confirm waits for the receipt of res.TxHash.
func (e *Executor) confirm(ctx context.Context, side string, res TxResult) (TxResult, error) {
	receipt, err := e.waitReceipt(ctx, common.HexToHash(res.TxHash))
	switch {
	case errors.Is(err, ErrTransactionUnknown):
		e.unknown.Add(1)
		e.metrics.TxOutcome.WithLabelValues(side, "unknown").Inc()
		log.Warn().Str("tx", res.TxHash).Str("side", side).Msg("executor: no receipt before timeout, outcome unknown")
		return res, err
	case err != nil:
		e.metrics.TxOutcome.WithLabelValues(side, "error").Inc()
		return res, err
	}

	res.GasUsed = receipt.GasUsed
	if receipt.BlockNumber != nil {
		res.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		e.reverted.Add(1)
		e.metrics.TxOutcome.WithLabelValues(side, "reverted").Inc()
		log.Error().Str("tx", res.TxHash).Str("side", side).Msg("executor: transaction reverted")
		return res, fmt.Errorf("%s %s: %w", side, res.TxHash, ErrTransactionReverted)
	}
	res.Confirmed = true
	e.metrics.TxOutcome.WithLabelValues(side, "success").Inc()
	log.Info().Str("tx", res.TxHash).Str("side", side).Uint64("gas_used", res.GasUsed).Msg("executor: transaction confirmed")
	return res, nil
}

func (e *Executor) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(e.config.ReceiptPoll)
	defer ticker.Stop()

	for {
		client, err := chain.Current(e.provider)
		if err == nil {
			receipt, rerr := client.TransactionReceipt(ctx, hash)
			if rerr == nil && receipt != nil {
				return receipt, nil
			}
			if rerr != nil && !errors.Is(rerr, ethereum.NotFound) && ctx.Err() == nil {
				log.Debug().Err(rerr).Str("tx", hash.Hex()).Msg("executor: receipt poll failed")
			}
		}
		select {
		case <-ctx.Done():
			return nil, ErrTransactionUnknown
		case <-ticker.C:
		}
	}
}

func (e *Executor) dryRun(side string, token common.Address, amount string) TxResult {
	id := "DRYRUN-" + side + "-" + uuid.NewString()[:8]
	log.Warn().
		Str("token", token.Hex()).
		Str("amount", amount).
		Str("tx", id).
		Msgf("executor: simulated %s (trading disabled)", side)
	e.metrics.TxOutcome.WithLabelValues(side, "dry_run").Inc()
	return TxResult{TxHash: id, Method: "dry_run", Confirmed: true, DryRun: true}
}

func (e *Executor) recordFailure(side string) {
	e.failures.Add(1)
	e.metrics.TxOutcome.WithLabelValues(side, "failed").Inc()
}

// ExecutorStats reports executor activity.
type ExecutorStats struct {
	Wallet    string `json:"wallet"`
	DryRun    bool   `json:"dry_run"`
	Buys      int64  `json:"buys"`
	Sells     int64  `json:"sells"`
	Approvals int64  `json:"approvals"`
	Reverted  int64  `json:"reverted"`
	Unknown   int64  `json:"unknown"`
	Failures  int64  `json:"failures"`
	Fallbacks int64  `json:"entry_point_fallbacks"`
	NextNonce uint64 `json:"next_nonce"`
	NonceSync bool   `json:"nonce_synced"`
}

func (e *Executor) Stats() ExecutorStats {
	next, known := e.nonces.Peek()
	return ExecutorStats{
		Wallet:    e.wallet.Hex(),
		DryRun:    e.config.DryRun,
		Buys:      e.buys.Load(),
		Sells:     e.sells.Load(),
		Approvals: e.approvals.Load(),
		Reverted:  e.reverted.Load(),
		Unknown:   e.unknown.Load(),
		Failures:  e.failures.Load(),
		Fallbacks: e.fallbacks.Load(),
		NextNonce: next,
		NonceSync: known,
	}
}

func isAllowanceRevert(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "allowance")
}

func abiMaxUint256() *big.Int {
	return new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
