// Package trend detects bursts of similarly named token launches.
package trend

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
)

// Config configures the tracker.
type Config struct {
	PrefixLength int           // symbol prefix used as the bucket key
	Window       time.Duration // sliding window per bucket
	Threshold    int           // bucket size that flags a cluster
}

func DefaultConfig() Config {
	return Config{
		PrefixLength: 4,
		Window:       5 * time.Minute,
		Threshold:    3,
	}
}

type launch struct {
	at     time.Time
	token  common.Address
	symbol string
}

type bucket struct {
	launches  []launch
	triggered bool
}

// Tracker buckets launches by the upper-cased symbol prefix.
type Tracker struct {
	config Config
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	seen       atomic.Int64
	triggers   atomic.Int64
	increments atomic.Int64
}

func New(config Config) *Tracker {
	if config.PrefixLength <= 0 {
		config.PrefixLength = 4
	}
	if config.Threshold <= 0 {
		config.Threshold = 3
	}
	return &Tracker{
		config:  config,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// AddToken records a launch. When its bucket first reaches the threshold it
// returns every address in the bucket; while the bucket stays triggered each
// later launch returns just its own address.
func (t *Tracker) AddToken(token common.Address, symbol string) (bool, []common.Address) {
	t.seen.Add(1)

	key := prefix(symbol, t.config.PrefixLength)
	if key == "" {
		return false, nil
	}

	now := t.now()
	cutoff := now.Add(-t.config.Window)

	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.buckets[key]
	if b == nil {
		b = &bucket{}
		t.buckets[key] = b
	}

	kept := b.launches[:0]
	for _, l := range b.launches {
		if l.at.After(cutoff) {
			kept = append(kept, l)
		}
	}
	b.launches = kept
	if len(b.launches) < t.config.Threshold && b.triggered {
		b.triggered = false
		log.Debug().Str("prefix", key).Msg("trend: cluster cooled off")
	}

	b.launches = append(b.launches, launch{at: now, token: token, symbol: symbol})

	if len(b.launches) < t.config.Threshold {
		return false, nil
	}

	if b.triggered {
		t.increments.Add(1)
		return true, []common.Address{token}
	}

	b.triggered = true
	t.triggers.Add(1)
	batch := make([]common.Address, len(b.launches))
	symbols := make([]string, len(b.launches))
	for i, l := range b.launches {
		batch[i] = l.token
		symbols[i] = l.symbol
	}
	log.Info().
		Str("prefix", key).
		Int("size", len(batch)).
		Strs("symbols", symbols).
		Msg("trend: cluster triggered")
	return true, batch
}

// Prune drops launches outside the window and removes empty buckets.
func (t *Tracker) Prune() int {
	cutoff := t.now().Add(-t.config.Window)
	removed := 0

	t.mu.Lock()
	defer t.mu.Unlock()
	for key, b := range t.buckets {
		kept := b.launches[:0]
		for _, l := range b.launches {
			if l.at.After(cutoff) {
				kept = append(kept, l)
			}
		}
		b.launches = kept
		if len(kept) < t.config.Threshold {
			b.triggered = false
		}
		if len(kept) == 0 {
			delete(t.buckets, key)
			removed++
		}
	}
	return removed
}

// Reset forgets every bucket.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.buckets = make(map[string]*bucket)
	t.mu.Unlock()
}

// TrackerStats reports tracker activity.
type TrackerStats struct {
	TokensSeen  int64    `json:"tokens_seen"`
	Triggers    int64    `json:"triggers"`
	Incremental int64    `json:"incremental"`
	Buckets     int      `json:"buckets"`
	HotPrefixes []string `json:"hot_prefixes"`
}

func (t *Tracker) Stats() TrackerStats {
	t.mu.Lock()
	hot := make([]string, 0)
	for key, b := range t.buckets {
		if b.triggered {
			hot = append(hot, key)
		}
	}
	n := len(t.buckets)
	t.mu.Unlock()
	sort.Strings(hot)

	return TrackerStats{
		TokensSeen:  t.seen.Load(),
		Triggers:    t.triggers.Load(),
		Incremental: t.increments.Load(),
		Buckets:     n,
		HotPrefixes: hot,
	}
}

func prefix(symbol string, k int) string {
	r := []rune(strings.ToUpper(strings.TrimSpace(symbol)))
	if len(r) < k {
		return ""
	}
	return string(r[:k])
}
