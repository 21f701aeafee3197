package chain

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/fourmeme-hunter/internal/observability"
)

// Config configures the connection manager.
type Config struct {
	RPCURL            string
	BaseRetryDelay    time.Duration
	MaxRetryDelay     time.Duration
	HeartbeatInterval time.Duration
	StallThreshold    time.Duration
	ProbeTimeout      time.Duration
}

// DefaultConfig returns the production timings.
func DefaultConfig(url string) Config {
	return Config{
		RPCURL:            url,
		BaseRetryDelay:    time.Second,
		MaxRetryDelay:     60 * time.Second,
		HeartbeatInterval: 60 * time.Second,
		StallThreshold:    300 * time.Second,
		ProbeTimeout:      5 * time.Second,
	}
}

// Manager owns the single RPC client handle and its liveness bookkeeping.
type Manager struct {
	cfg     Config
	dial    DialFunc
	metrics *observability.Metrics
	now     func() time.Time

	mu         sync.RWMutex
	client     EthClient
	lastAlive  time.Time
	lastHead   uint64
	lastHeadAt time.Time
	retries    int

	reconnectMu sync.Mutex
	reconnects  atomic.Int64
	stalled     atomic.Bool
}

// NewManager creates a disconnected manager. Call Connect before use.
func NewManager(cfg Config, dial DialFunc, metrics *observability.Metrics) *Manager {
	if dial == nil {
		dial = Dial
	}
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}
	if cfg.BaseRetryDelay <= 0 {
		cfg.BaseRetryDelay = time.Second
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = 60 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	return &Manager{
		cfg:     cfg,
		dial:    dial,
		metrics: metrics,
		now:     time.Now,
	}
}

// Client returns the current handle, or nil when disconnected.
func (m *Manager) Client() EthClient {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// Connect dials the endpoint and verifies it answers eth_blockNumber.
func (m *Manager) Connect(ctx context.Context) error {
	c, err := m.dial(ctx, m.cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrConnectivity, m.cfg.RPCURL, err)
	}
	head, err := m.probe(ctx, c)
	if err != nil {
		c.Close()
		return fmt.Errorf("%w: probe %s: %v", ErrConnectivity, m.cfg.RPCURL, err)
	}

	m.mu.Lock()
	old := m.client
	m.client = c
	m.lastAlive = m.now()
	m.mu.Unlock()
	if old != nil && old != c {
		old.Close()
	}
	m.MarkHead(head)

	log.Info().Str("rpc", m.cfg.RPCURL).Uint64("head", head).Msg("chain: connected")
	return nil
}

// EnsureConnection probes the current handle and reconnects if it is dead.
func (m *Manager) EnsureConnection(ctx context.Context) error {
	c := m.Client()
	if c != nil {
		head, err := m.probe(ctx, c)
		if err == nil {
			m.mu.Lock()
			m.lastAlive = m.now()
			m.mu.Unlock()
			m.MarkHead(head)
			return nil
		}
		log.Warn().Err(err).Msg("chain: liveness probe failed")
	}
	return m.Reconnect(ctx)
}

// Reconnect replaces the handle, retrying with delay min(base*2^(n-1), max)
// until it succeeds or ctx ends.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.reconnectMu.Lock()
	defer m.reconnectMu.Unlock()

	// Another caller may have reconnected while we waited on the lock.
	if c := m.Client(); c != nil {
		if _, err := m.probe(ctx, c); err == nil {
			return nil
		}
	}
	m.Disconnect()

	for attempt := 1; ; attempt++ {
		m.mu.Lock()
		m.retries = attempt
		m.mu.Unlock()

		err := m.Connect(ctx)
		if err == nil {
			m.mu.Lock()
			m.retries = 0
			m.mu.Unlock()
			m.reconnects.Add(1)
			m.metrics.RPCReconnects.Inc()
			log.Info().Int("attempts", attempt).Msg("chain: reconnected")
			return nil
		}

		delay := m.retryDelay(attempt)
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("chain: reconnect failed")

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: reconnect abandoned: %v", ErrConnectivity, ctx.Err())
		case <-time.After(delay):
		}
	}
}

func (m *Manager) retryDelay(attempt int) time.Duration {
	delay := m.cfg.BaseRetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.cfg.MaxRetryDelay {
			return m.cfg.MaxRetryDelay
		}
	}
	if delay > m.cfg.MaxRetryDelay {
		return m.cfg.MaxRetryDelay
	}
	return delay
}

// Disconnect releases the handle.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	c := m.client
	m.client = nil
	m.mu.Unlock()
	if c != nil {
		c.Close()
	}
}

// MarkHead records an observed chain head. Only forward progress refreshes
// the stall clock.
func (m *Manager) MarkHead(n uint64) {
	m.mu.Lock()
	advanced := n > m.lastHead
	if advanced {
		m.lastHead = n
		m.lastHeadAt = m.now()
	}
	m.mu.Unlock()
	if advanced {
		m.metrics.HeadBlock.Set(float64(n))
	}
}

// RunHeartbeat probes the connection every HeartbeatInterval and flags a stall
// when the head has not advanced within StallThreshold. A stall is only
// reported; recovery is left to EnsureConnection.
func (m *Manager) RunHeartbeat(ctx context.Context) {
	interval := m.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.EnsureConnection(ctx); err != nil {
				log.Error().Err(err).Msg("chain: heartbeat could not restore connection")
			}
			m.checkStall()
		}
	}
}

func (m *Manager) checkStall() bool {
	if m.cfg.StallThreshold <= 0 {
		return false
	}
	m.mu.RLock()
	lastHeadAt := m.lastHeadAt
	lastHead := m.lastHead
	m.mu.RUnlock()

	if lastHeadAt.IsZero() {
		return false
	}
	idle := m.now().Sub(lastHeadAt)
	stalled := idle > m.cfg.StallThreshold
	if stalled {
		log.Warn().
			Uint64("head", lastHead).
			Dur("idle", idle).
			Dur("threshold", m.cfg.StallThreshold).
			Msg("chain: no new blocks observed, rpc may be stalled")
		m.metrics.RPCStalled.Set(1)
	} else {
		m.metrics.RPCStalled.Set(0)
	}
	m.stalled.Store(stalled)
	return stalled
}

func (m *Manager) probe(ctx context.Context, c EthClient) (uint64, error) {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()
	start := time.Now()
	head, err := c.BlockNumber(pctx)
	m.metrics.RPCLatency.Observe(time.Since(start).Seconds())
	return head, err
}

// ConnStats is a snapshot of connection state.
type ConnStats struct {
	Connected  bool      `json:"connected"`
	RPCURL     string    `json:"rpc_url"`
	LastAlive  time.Time `json:"last_alive"`
	LastHead   uint64    `json:"last_head"`
	LastHeadAt time.Time `json:"last_head_at"`
	Retries    int       `json:"retries"`
	Reconnects int64     `json:"reconnects"`
	Stalled    bool      `json:"stalled"`
}

func (m *Manager) Stats() ConnStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ConnStats{
		Connected:  m.client != nil,
		RPCURL:     m.cfg.RPCURL,
		LastAlive:  m.lastAlive,
		LastHead:   m.lastHead,
		LastHeadAt: m.lastHeadAt,
		Retries:    m.retries,
		Reconnects: m.reconnects.Load(),
		Stalled:    m.stalled.Load(),
	}
}
