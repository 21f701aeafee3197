// Package chaintest provides an in-memory chain.EthClient for tests.
package chaintest

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrNotImplemented is returned by hooks left nil.
var ErrNotImplemented = errors.New("chaintest: not implemented")

// Client is a scriptable EthClient. Every method delegates to the matching
// hook when set; otherwise it returns a zero value or ErrNotImplemented.
type Client struct {
	mu sync.Mutex

	Head           uint64
	Chain          *big.Int
	GasPrice       *big.Int
	Balances       map[common.Address]*big.Int
	Nonces         map[common.Address]uint64
	Sent           []*types.Transaction
	Receipts       map[common.Hash]*types.Receipt
	Closed         bool
	FilterLogsCall []ethereum.FilterQuery

	BlockNumberFn  func(ctx context.Context) (uint64, error)
	FilterLogsFn   func(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContractFn func(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	EstimateGasFn  func(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendFn         func(ctx context.Context, tx *types.Transaction) error
	ReceiptFn      func(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

func New() *Client {
	return &Client{
		Chain:    big.NewInt(56),
		GasPrice: big.NewInt(1_000_000_000),
		Balances: make(map[common.Address]*big.Int),
		Nonces:   make(map[common.Address]uint64),
		Receipts: make(map[common.Hash]*types.Receipt),
	}
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.Chain), nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	if c.BlockNumberFn != nil {
		return c.BlockNumberFn(ctx)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Head, nil
}

// SetHead moves the simulated chain head.
func (c *Client) SetHead(n uint64) {
	c.mu.Lock()
	c.Head = n
	c.mu.Unlock()
}

func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	c.FilterLogsCall = append(c.FilterLogsCall, q)
	c.mu.Unlock()
	if c.FilterLogsFn != nil {
		return c.FilterLogsFn(ctx, q)
	}
	return nil, nil
}

func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if c.CallContractFn != nil {
		return c.CallContractFn(ctx, msg)
	}
	return nil, ErrNotImplemented
}

func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if c.EstimateGasFn != nil {
		return c.EstimateGasFn(ctx, msg)
	}
	return 200000, nil
}

func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.GasPrice), nil
}

func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Nonces[account], nil
}

func (c *Client) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	return c.PendingNonceAt(ctx, account)
}

func (c *Client) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.Balances[account]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if c.SendFn != nil {
		if err := c.SendFn(ctx, tx); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Sent = append(c.Sent, tx)
	if _, ok := c.Receipts[tx.Hash()]; !ok {
		c.Receipts[tx.Hash()] = &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: tx.Hash(), GasUsed: tx.Gas()}
	}
	return nil
}

// SentTxs returns a copy of the transactions sent so far.
func (c *Client) SentTxs() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.Transaction, len(c.Sent))
	copy(out, c.Sent)
	return out
}

func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if c.ReceiptFn != nil {
		return c.ReceiptFn(ctx, txHash)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.Receipts[txHash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (c *Client) Close() {
	c.mu.Lock()
	c.Closed = true
	c.mu.Unlock()
}

// IsClosed reports whether Close was called.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Closed
}
