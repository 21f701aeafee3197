package chain

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrConnectivity is returned when the RPC endpoint cannot be reached.
	ErrConnectivity = errors.New("rpc connectivity")
	// ErrNotConnected is returned when no client handle is held.
	ErrNotConnected = errors.New("rpc not connected")
	// ErrRateLimited marks provider throttling and "range too large" rejections.
	ErrRateLimited = errors.New("rpc rate limited")
)

// EthClient is the subset of *ethclient.Client the hunter depends on.
// Tests substitute chaintest.Client.
type EthClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// Provider hands out the current client handle. Callers must not cache it
// across reconnects.
type Provider interface {
	Client() EthClient
}

// DialFunc opens a client for url.
type DialFunc func(ctx context.Context, url string) (EthClient, error)

// Dial is the production DialFunc.
func Dial(ctx context.Context, url string) (EthClient, error) {
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Current returns p's client or ErrNotConnected.
func Current(p Provider) (EthClient, error) {
	c := p.Client()
	if c == nil {
		return nil, ErrNotConnected
	}
	return c, nil
}

var rateLimitMarkers = []string{
	"429",
	"limit exceeded",
	"rate limit",
	"too many",
	"range",
	"-32005",
	"query returned more than",
}

// IsRateLimited reports whether err signals throttling or an oversized block range.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == -32005 {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
