package records

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/fourmeme-hunter/internal/bus"
)

const (
	DefaultEventTopic = "fourmeme.events"
	DefaultTradeTopic = "fourmeme.trades"
)

// Entry is one buffered trail record.
type Entry struct {
	Topic     string    `json:"topic"`
	Token     string    `json:"token"`
	Type      string    `json:"type"` // event kind or trade action
	Timestamp time.Time `json:"ts"`
	Value     any       `json:"value"`
}

// Trail publishes every record to Kafka keyed by token, and keeps the most
// recent entries in memory for the ops endpoint.
type Trail struct {
	producer   bus.Producer
	eventTopic string
	tradeTopic string

	mu      sync.Mutex
	entries []Entry
	maxBuf  int
}

// NewTrail creates a trail. Empty topics fall back to the defaults. Once
// maxBuf entries are held the oldest are discarded; 0 disables buffering.
func NewTrail(producer bus.Producer, eventTopic, tradeTopic string, maxBuf int) *Trail {
	if eventTopic == "" {
		eventTopic = DefaultEventTopic
	}
	if tradeTopic == "" {
		tradeTopic = DefaultTradeTopic
	}
	if maxBuf < 0 {
		maxBuf = 0
	}
	return &Trail{
		producer:   producer,
		eventTopic: eventTopic,
		tradeTopic: tradeTopic,
		entries:    make([]Entry, 0, maxBuf),
		maxBuf:     maxBuf,
	}
}

func (t *Trail) WriteEvent(ctx context.Context, rec EventRecord) error {
	t.record(ctx, Entry{
		Topic:     t.eventTopic,
		Token:     rec.Token,
		Type:      rec.Kind,
		Timestamp: rec.Timestamp,
		Value:     rec,
	})
	return nil
}

func (t *Trail) WriteTrade(ctx context.Context, rec TradeRecord) error {
	t.record(ctx, Entry{
		Topic:     t.tradeTopic,
		Token:     rec.Token,
		Type:      rec.Action,
		Timestamp: rec.Timestamp,
		Value:     rec,
	})
	return nil
}

// Query returns buffered entries for one token, oldest first.
func (t *Trail) Query(token string) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Entry
	for _, e := range t.entries {
		if e.Token == token {
			out = append(out, e)
		}
	}
	return out
}

// Trades returns up to limit of the most recent buffered trade entries,
// newest first. limit <= 0 returns all.
func (t *Trail) Trades(limit int) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Entry
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].Topic != t.tradeTopic {
			continue
		}
		out = append(out, t.entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (t *Trail) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Trail) record(ctx context.Context, e Entry) {
	t.mu.Lock()
	if t.maxBuf > 0 {
		if len(t.entries) >= t.maxBuf {
			copy(t.entries, t.entries[1:])
			t.entries[len(t.entries)-1] = e
		} else {
			t.entries = append(t.entries, e)
		}
	}
	t.mu.Unlock()

	if t.producer == nil {
		return
	}
	msg, err := bus.JSONMessage(e.Topic, e.Token, e.Type, e.Timestamp, e.Value)
	if err == nil {
		err = t.producer.Produce(ctx, msg)
	}
	if err != nil {
		log.Error().Err(err).
			Str("topic", e.Topic).
			Str("token", e.Token).
			Str("type", e.Type).
			Msg("records: publish failed")
	}
}
