package observability

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsExport(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.EventsDecoded.WithLabelValues("TokenCreate").Inc()
	m.EventsDecoded.WithLabelValues("TokenCreate").Inc()
	m.RPCStalled.Set(1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsDecoded.WithLabelValues("TokenCreate")))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `fourmeme_events_decoded_total{kind="TokenCreate"} 2`))
	assert.True(t, strings.Contains(body, "fourmeme_rpc_stalled 1"))
}

func TestMetricsNilRegistry(t *testing.T) {
	m := NewMetrics(nil)
	require.NotNil(t, m)
	m.TxSubmitted.WithLabelValues("buy").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TxSubmitted.WithLabelValues("buy")))
}

func TestHealthWorstStatusWins(t *testing.T) {
	hm := NewHealthMonitor()
	hm.Register("rpc", func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusHealthy}
	})
	hm.Register("listener", func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusDegraded, Message: "behind head"}
	})

	h := hm.Check(context.Background())
	assert.Equal(t, StatusDegraded, h.Status)
	require.Len(t, h.Components, 2)
	assert.Equal(t, "listener", h.Components[0].Name)
	assert.Equal(t, "rpc", h.Components[1].Name)

	hm.Register("store", func(ctx context.Context) ComponentHealth {
		return ComponentHealth{Status: StatusUnhealthy}
	})
	assert.Equal(t, StatusUnhealthy, hm.Check(context.Background()).Status)
}
