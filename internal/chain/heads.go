package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// HeadSink receives observed block heights.
type HeadSink interface {
	MarkHead(n uint64)
}

// HeadMonitor follows eth_subscribe("newHeads") over a websocket endpoint and
// feeds the heights into a HeadSink. It is a liveness signal only; the
// listener keeps polling over HTTP whether or not this feed is up.
type HeadMonitor struct {
	url  string
	sink HeadSink

	mu   sync.Mutex
	conn *websocket.Conn

	headsRecv  atomic.Int64
	reconnects atomic.Int64
	connected  atomic.Bool
}

func NewHeadMonitor(url string, sink HeadSink) *HeadMonitor {
	return &HeadMonitor{url: url, sink: sink}
}

// Run blocks until ctx is cancelled, reconnecting with a doubling delay
// capped at 30s.
func (h *HeadMonitor) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("heads: run loop panic recovered")
		}
		h.disconnect()
	}()

	const (
		initialDelay = time.Second
		maxDelay     = 30 * time.Second
	)
	delay := initialDelay

	for {
		if ctx.Err() != nil {
			return
		}

		if err := h.connect(ctx); err != nil {
			h.reconnects.Add(1)
			log.Warn().Err(err).Dur("retry_in", delay).Msg("heads: connection failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
			continue
		}
		delay = initialDelay

		h.readLoop(ctx)
		h.disconnect()
	}
}

func (h *HeadMonitor) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, h.url, nil)
	if err != nil {
		return fmt.Errorf("heads: dial: %w", err)
	}

	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "eth_subscribe",
		"params":  []any{"newHeads"},
	}
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return fmt.Errorf("heads: subscribe: %w", err)
	}

	h.mu.Lock()
	h.conn = conn
	h.mu.Unlock()
	h.connected.Store(true)

	log.Info().Str("endpoint", h.url).Msg("heads: subscribed to newHeads")
	return nil
}

func (h *HeadMonitor) disconnect() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn != nil {
		h.conn.Close()
		h.conn = nil
	}
	h.connected.Store(false)
}

func (h *HeadMonitor) readLoop(ctx context.Context) {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return
	}

	// Unblock ReadMessage on shutdown.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Msg("heads: read error, reconnecting")
			}
			return
		}
		if n, ok := parseHeadNotification(message); ok {
			h.headsRecv.Add(1)
			h.sink.MarkHead(n)
		}
	}
}

// parseHeadNotification extracts the block number from an
// eth_subscription newHeads notification.
func parseHeadNotification(data []byte) (uint64, bool) {
	var msg struct {
		Method string `json:"method"`
		Params struct {
			Result struct {
				Number string `json:"number"`
			} `json:"result"`
		} `json:"params"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return 0, false
	}
	if msg.Method != "eth_subscription" || msg.Params.Result.Number == "" {
		return 0, false
	}
	n, err := hexutil.DecodeUint64(msg.Params.Result.Number)
	if err != nil {
		return 0, false
	}
	return n, true
}

// HeadStats is a snapshot of the websocket feed.
type HeadStats struct {
	Connected  bool  `json:"connected"`
	HeadsRecv  int64 `json:"heads_received"`
	Reconnects int64 `json:"reconnects"`
}

func (h *HeadMonitor) Stats() HeadStats {
	return HeadStats{
		Connected:  h.connected.Load(),
		HeadsRecv:  h.headsRecv.Load(),
		Reconnects: h.reconnects.Load(),
	}
}
