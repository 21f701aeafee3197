package filter

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/fourmeme-hunter/internal/chain"
	"github.com/nexus-trading/fourmeme-hunter/internal/events"
)

// ChainProber reads a creator's confirmed nonce and BNB balance over RPC.
type ChainProber struct {
	provider chain.Provider
}

func NewChainProber(p chain.Provider) *ChainProber {
	return &ChainProber{provider: p}
}

func (p *ChainProber) CreatorProfile(ctx context.Context, creator common.Address) (uint64, decimal.Decimal, error) {
	client, err := chain.Current(p.provider)
	if err != nil {
		return 0, decimal.Zero, err
	}
	nonce, err := client.NonceAt(ctx, creator, nil)
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("creator nonce: %w", err)
	}
	bal, err := client.BalanceAt(ctx, creator, nil)
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("creator balance: %w", err)
	}
	return nonce, events.FromWei(bal), nil
}
