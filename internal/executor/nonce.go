package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
)

// NonceSource reads the account's pending nonce from the chain.
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceManager hands out sequential nonces for one account. After Reset the
// next allocation re-reads the pending nonce from the chain.
type NonceManager struct {
	account common.Address

	mu    sync.Mutex
	next  uint64
	known bool
}

func NewNonceManager(account common.Address) *NonceManager {
	return &NonceManager{account: account}
}

func (n *NonceManager) Next(ctx context.Context, src NonceSource) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.known {
		pending, err := src.PendingNonceAt(ctx, n.account)
		if err != nil {
			return 0, fmt.Errorf("pending nonce: %w", err)
		}
		n.next = pending
		n.known = true
		log.Debug().Uint64("nonce", pending).Msg("executor: nonce synced from chain")
	}
	v := n.next
	n.next++
	return v, nil
}

// Reset marks the local counter unknown.
func (n *NonceManager) Reset() {
	n.mu.Lock()
	n.known = false
	n.mu.Unlock()
}

// Peek returns the next nonce and whether it is known locally.
func (n *NonceManager) Peek() (uint64, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.next, n.known
}
