package chain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-trading/fourmeme-hunter/internal/chain/chaintest"
)

func testConfig() Config {
	return Config{
		RPCURL:            "http://rpc.test",
		BaseRetryDelay:    time.Millisecond,
		MaxRetryDelay:     4 * time.Millisecond,
		HeartbeatInterval: 10 * time.Millisecond,
		StallThreshold:    time.Minute,
		ProbeTimeout:      time.Second,
	}
}

func TestConnect(t *testing.T) {
	fake := chaintest.New()
	fake.SetHead(100)
	m := NewManager(testConfig(), func(ctx context.Context, url string) (EthClient, error) {
		return fake, nil
	}, nil)

	require.NoError(t, m.Connect(context.Background()))
	assert.Same(t, fake, m.Client())

	st := m.Stats()
	assert.True(t, st.Connected)
	assert.Equal(t, uint64(100), st.LastHead)
	assert.False(t, st.LastAlive.IsZero())
}

func TestConnectProbeFailure(t *testing.T) {
	fake := chaintest.New()
	fake.BlockNumberFn = func(ctx context.Context) (uint64, error) {
		return 0, errors.New("connection refused")
	}
	m := NewManager(testConfig(), func(ctx context.Context, url string) (EthClient, error) {
		return fake, nil
	}, nil)

	err := m.Connect(context.Background())
	require.ErrorIs(t, err, ErrConnectivity)
	assert.Nil(t, m.Client())
	assert.True(t, fake.IsClosed())
}

func TestEnsureConnectionReconnectsDeadHandle(t *testing.T) {
	var dials atomic.Int32
	dead := chaintest.New()
	dead.BlockNumberFn = func(ctx context.Context) (uint64, error) {
		return 0, errors.New("EOF")
	}
	alive := chaintest.New()
	alive.SetHead(7)

	m := NewManager(testConfig(), func(ctx context.Context, url string) (EthClient, error) {
		n := dials.Add(1)
		switch {
		case n == 1:
			return alive, nil
		case n < 4:
			return nil, errors.New("dial failed")
		default:
			return alive, nil
		}
	}, nil)
	require.NoError(t, m.Connect(context.Background()))

	// Swap in a dead handle as if the socket dropped.
	m.mu.Lock()
	m.client = dead
	m.mu.Unlock()

	require.NoError(t, m.EnsureConnection(context.Background()))
	assert.Same(t, alive, m.Client())
	assert.True(t, dead.IsClosed())
	assert.Equal(t, int64(1), m.Stats().Reconnects)
	assert.Equal(t, int32(4), dials.Load())
}

func TestReconnectHonorsContext(t *testing.T) {
	m := NewManager(testConfig(), func(ctx context.Context, url string) (EthClient, error) {
		return nil, errors.New("down")
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := m.Reconnect(ctx)
	require.ErrorIs(t, err, ErrConnectivity)
	assert.Greater(t, m.Stats().Retries, 1)
}

func TestRetryDelayCapped(t *testing.T) {
	m := NewManager(Config{BaseRetryDelay: time.Second, MaxRetryDelay: 60 * time.Second}, nil, nil)

	assert.Equal(t, time.Second, m.retryDelay(1))
	assert.Equal(t, 2*time.Second, m.retryDelay(2))
	assert.Equal(t, 32*time.Second, m.retryDelay(6))
	assert.Equal(t, 60*time.Second, m.retryDelay(7))
	assert.Equal(t, 60*time.Second, m.retryDelay(50))
}

func TestStallDetection(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	m := NewManager(testConfig(), nil, nil)
	m.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	assert.False(t, m.checkStall(), "no head observed yet")

	m.MarkHead(10)
	advance(30 * time.Second)
	assert.False(t, m.checkStall())

	// Same head again does not refresh the stall clock.
	m.MarkHead(10)
	advance(31 * time.Second)
	assert.True(t, m.checkStall())
	assert.True(t, m.Stats().Stalled)

	m.MarkHead(11)
	assert.False(t, m.checkStall())
}

func TestIsRateLimited(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", fmt.Errorf("wrap: %w", ErrRateLimited), true},
		{"http 429", rpc.HTTPError{StatusCode: 429, Status: "429 Too Many Requests"}, true},
		{"limit exceeded", errors.New("limit exceeded"), true},
		{"range", errors.New("block range is too wide"), true},
		{"too many results", errors.New("query returned more than 10000 results"), true},
		{"code in text", errors.New("json-rpc error -32005"), true},
		{"other", errors.New("execution reverted"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRateLimited(tt.err))
		})
	}
}

type headRecorder struct {
	mu    sync.Mutex
	heads []uint64
}

func (r *headRecorder) MarkHead(n uint64) {
	r.mu.Lock()
	r.heads = append(r.heads, n)
	r.mu.Unlock()
}

func (r *headRecorder) seen() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.heads...)
}

func TestHeadMonitorFeedsSink(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var req map[string]any
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":1,"result":"0xabc"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","method":"eth_subscription","params":{"subscription":"0xabc","result":{"number":"0x10"}}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","method":"eth_subscription","params":{"subscription":"0xabc","result":{"number":"0x11"}}}`))
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	rec := &headRecorder{}
	hm := NewHeadMonitor("ws"+strings.TrimPrefix(srv.URL, "http"), rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hm.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(rec.seen()) >= 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []uint64{16, 17}, rec.seen()[:2])

	cancel()
	<-done
}

func TestParseHeadNotification(t *testing.T) {
	n, ok := parseHeadNotification([]byte(`{"method":"eth_subscription","params":{"result":{"number":"0x1b4"}}}`))
	require.True(t, ok)
	assert.Equal(t, uint64(436), n)

	_, ok = parseHeadNotification([]byte(`{"id":1,"result":"0x1"}`))
	assert.False(t, ok)
	_, ok = parseHeadNotification([]byte(`not json`))
	assert.False(t, ok)
}
