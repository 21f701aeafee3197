package observability

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ComponentStatus represents the health status of a component.
type ComponentStatus string

const (
	StatusHealthy   ComponentStatus = "healthy"
	StatusDegraded  ComponentStatus = "degraded"
	StatusUnhealthy ComponentStatus = "unhealthy"
)

// HealthCheck reports on one component.
type HealthCheck func(ctx context.Context) ComponentHealth

// ComponentHealth is the health report for a single component.
type ComponentHealth struct {
	Name    string          `json:"name"`
	Status  ComponentStatus `json:"status"`
	Message string          `json:"message,omitempty"`
	Details map[string]any  `json:"details,omitempty"`
}

// SystemHealth is the aggregate health of the process.
type SystemHealth struct {
	Status     ComponentStatus   `json:"status"`
	Components []ComponentHealth `json:"components"`
	Timestamp  time.Time         `json:"ts"`
	Uptime     string            `json:"uptime"`
}

// HealthMonitor runs registered checks on demand for the ops endpoint.
type HealthMonitor struct {
	mu        sync.RWMutex
	checks    map[string]HealthCheck
	startTime time.Time
}

func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{
		checks:    make(map[string]HealthCheck),
		startTime: time.Now(),
	}
}

// Register adds a named health check, replacing any check with the same name.
func (m *HealthMonitor) Register(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Check runs every check and folds them into the worst observed status.
func (m *HealthMonitor) Check(ctx context.Context) SystemHealth {
	m.mu.RLock()
	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	checks := make(map[string]HealthCheck, len(m.checks))
	for k, v := range m.checks {
		checks[k] = v
	}
	m.mu.RUnlock()
	sort.Strings(names)

	out := SystemHealth{
		Status:     StatusHealthy,
		Components: make([]ComponentHealth, 0, len(names)),
		Timestamp:  time.Now().UTC(),
		Uptime:     time.Since(m.startTime).Truncate(time.Second).String(),
	}
	for _, name := range names {
		h := checks[name](ctx)
		h.Name = name
		if severity(h.Status) > severity(out.Status) {
			out.Status = h.Status
		}
		out.Components = append(out.Components, h)
	}
	return out
}

func severity(s ComponentStatus) int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	default:
		return -1
	}
}
