package risk

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/nexus-trading/fourmeme-hunter/internal/observability"
)

// Manager gates new buys against daily and concurrency ceilings.
//
// Kill and pause are checked before any ceiling:
// - kill_switch: permanent until restart
// - pause: reversible with Resume
type Manager struct {
	config  Config
	metrics *observability.Metrics
	now     func() time.Time

	mu            sync.Mutex
	day           string // UTC date of the current counters
	dailyTrades   int
	dailyInvested decimal.Decimal
	dailyPnL      decimal.Decimal
	active        map[common.Address]decimal.Decimal

	killed atomic.Bool
	paused atomic.Bool

	allowed atomic.Int64
	denied  atomic.Int64
}

// Config holds the risk ceilings.
type Config struct {
	MaxDailyTrades         int
	MaxDailyInvestment     decimal.Decimal // BNB
	MaxConcurrentPositions int
}

func New(cfg Config, metrics *observability.Metrics) *Manager {
	if metrics == nil {
		metrics = observability.NewMetrics(nil)
	}
	m := &Manager{
		config:  cfg,
		metrics: metrics,
		now:     time.Now,
		active:  make(map[common.Address]decimal.Decimal),
	}
	m.day = m.today()
	return m
}

func (m *Manager) today() string {
	return m.now().UTC().Format("2006-01-02")
}

// resetIfNewDay clears the daily counters once the UTC date advances. Caller holds mu.
func (m *Manager) resetIfNewDay() {
	today := m.today()
	if today == m.day {
		return
	}
	log.Info().
		Str("previous", m.day).
		Int("trades", m.dailyTrades).
		Str("invested", m.dailyInvested.String()).
		Msg("risk: daily counters reset")
	m.day = today
	m.dailyTrades = 0
	m.dailyInvested = decimal.Zero
	m.dailyPnL = decimal.Zero
}

// CanBuy reports whether a buy of amount BNB fits every ceiling.
func (m *Manager) CanBuy(amount decimal.Decimal) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canBuyLocked(amount)
}

func (m *Manager) canBuyLocked(amount decimal.Decimal) (bool, string) {
	if m.killed.Load() {
		return m.deny("kill_switch", "Kill switch active")
	}
	if m.paused.Load() {
		return m.deny("paused", "Trading paused")
	}

	m.resetIfNewDay()

	if m.dailyTrades >= m.config.MaxDailyTrades {
		return m.deny("daily_trades", fmt.Sprintf("Daily trade limit reached: %d/%d", m.dailyTrades, m.config.MaxDailyTrades))
	}
	if m.dailyInvested.Add(amount).GreaterThan(m.config.MaxDailyInvestment) {
		return m.deny("daily_investment", fmt.Sprintf("Daily investment limit: %s + %s > %s BNB",
			m.dailyInvested.String(), amount.String(), m.config.MaxDailyInvestment.String()))
	}
	if len(m.active) >= m.config.MaxConcurrentPositions {
		return m.deny("concurrent_positions", fmt.Sprintf("Max concurrent positions: %d/%d", len(m.active), m.config.MaxConcurrentPositions))
	}
	m.allowed.Add(1)
	return true, "OK"
}

func (m *Manager) deny(label, reason string) (bool, string) {
	m.denied.Add(1)
	m.metrics.RiskRejections.WithLabelValues(label).Inc()
	log.Debug().Str("reason", reason).Msg("risk: buy denied")
	return false, reason
}

// RecordBuy charges a buy against the daily counters and opens a slot.
func (m *Manager) RecordBuy(token common.Address, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordBuyLocked(token, amount)
}

func (m *Manager) recordBuyLocked(token common.Address, amount decimal.Decimal) {
	m.resetIfNewDay()
	m.dailyTrades++
	m.dailyInvested = m.dailyInvested.Add(amount)
	m.active[token] = m.active[token].Add(amount)
	log.Info().
		Str("token", token.Hex()).
		Str("amount", amount.String()).
		Int("daily_trades", m.dailyTrades).
		Int("active", len(m.active)).
		Msg("risk: buy recorded")
}

// TryReserve runs CanBuy and RecordBuy under one lock so concurrent
// signals cannot overshoot a ceiling.
func (m *Manager) TryReserve(token common.Address, amount decimal.Decimal) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[token]; ok {
		return m.deny("duplicate", "Position already open: "+token.Hex())
	}
	ok, reason := m.canBuyLocked(amount)
	if !ok {
		return false, reason
	}
	m.recordBuyLocked(token, amount)
	return true, reason
}

// Release undoes a reservation whose buy never filled. The daily trade and
// investment counters keep the attempt.
func (m *Manager) Release(token common.Address) {
	m.mu.Lock()
	delete(m.active, token)
	m.mu.Unlock()
}

// Adopt occupies a slot for a position restored after restart without
// charging today's counters.
func (m *Manager) Adopt(token common.Address, amount decimal.Decimal) {
	m.mu.Lock()
	m.active[token] = amount
	m.mu.Unlock()
}

// RecordSell frees the slot once a position is fully closed.
func (m *Manager) RecordSell(token common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[token]; !ok {
		return
	}
	delete(m.active, token)
	log.Info().Str("token", token.Hex()).Int("active", len(m.active)).Msg("risk: position released")
}

// RecordPnL adds realized profit or loss to today's total.
func (m *Manager) RecordPnL(pnl decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetIfNewDay()
	m.dailyPnL = m.dailyPnL.Add(pnl)
}

func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// IsActive reports whether token holds a slot.
func (m *Manager) IsActive(token common.Address) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[token]
	return ok
}

// Kill stops all new buys until restart.
func (m *Manager) Kill() {
	m.killed.Store(true)
	log.Error().Msg("risk: KILL SWITCH ACTIVATED, all buying stopped")
}

// Pause stops new buys. Open positions keep being managed.
func (m *Manager) Pause(reason string) {
	m.paused.Store(true)
	log.Warn().Str("reason", reason).Msg("risk: buying paused")
}

func (m *Manager) Resume() bool {
	if m.killed.Load() {
		log.Warn().Msg("risk: cannot resume, kill switch is active (requires restart)")
		return false
	}
	m.paused.Store(false)
	log.Info().Msg("risk: buying resumed")
	return true
}

func (m *Manager) IsKilled() bool { return m.killed.Load() }
func (m *Manager) IsPaused() bool { return m.paused.Load() }

// Stats is a snapshot of the risk state.
type Stats struct {
	Day                string   `json:"day"`
	DailyTrades        int      `json:"daily_trades"`
	MaxDailyTrades     int      `json:"max_daily_trades"`
	DailyInvested      string   `json:"daily_invested_bnb"`
	MaxDailyInvestment string   `json:"max_daily_investment_bnb"`
	DailyPnL           string   `json:"daily_pnl_bnb"`
	Active             []string `json:"active_positions"`
	MaxConcurrent      int      `json:"max_concurrent_positions"`
	Killed             bool     `json:"killed"`
	Paused             bool     `json:"paused"`
	Allowed            int64    `json:"allowed_total"`
	Denied             int64    `json:"denied_total"`
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetIfNewDay()

	active := make([]string, 0, len(m.active))
	for token := range m.active {
		active = append(active, token.Hex())
	}
	sort.Strings(active)

	return Stats{
		Day:                m.day,
		DailyTrades:        m.dailyTrades,
		MaxDailyTrades:     m.config.MaxDailyTrades,
		DailyInvested:      m.dailyInvested.String(),
		MaxDailyInvestment: m.config.MaxDailyInvestment.String(),
		DailyPnL:           m.dailyPnL.String(),
		Active:             active,
		MaxConcurrent:      m.config.MaxConcurrentPositions,
		Killed:             m.killed.Load(),
		Paused:             m.paused.Load(),
		Allowed:            m.allowed.Load(),
		Denied:             m.denied.Load(),
	}
}
