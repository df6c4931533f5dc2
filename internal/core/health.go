package core

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// healthCheckTimeout bounds the whole check round. A check still running at
// the deadline is reported as timed out.
const healthCheckTimeout = 2 * time.Second

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

// HealthCheck checks one dependency the service cannot work without.
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

type componentStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Service    string                     `json:"service,omitempty"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// Pinger is satisfied by *pgxpool.Pool and db.MemoryStore.
type Pinger interface {
	Ping(ctx context.Context) error
}

type pingCheck struct {
	name string
	p    Pinger
}

// NewPingCheck reports a subsystem healthy when its Ping succeeds.
func NewPingCheck(name string, p Pinger) HealthCheck {
	return pingCheck{name: name, p: p}
}

func (p pingCheck) Name() string                    { return p.name }
func (p pingCheck) Check(ctx context.Context) error { return p.p.Ping(ctx) }

// runCheck never panics; a panicking check counts as unhealthy.
func runCheck(ctx context.Context, p HealthCheck) (st componentStatus) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			st = componentStatus{Status: statusUnhealthy, Message: fmt.Sprintf("check panicked: %v", rec)}
		}
		st.LatencyMS = time.Since(start).Milliseconds()
	}()
	if err := p.Check(ctx); err != nil {
		return componentStatus{Status: statusUnhealthy, Message: err.Error()}
	}
	return componentStatus{Status: statusHealthy}
}

// HandleHealth serves GET /health: 200 when every check passes, 503 otherwise.
// Checks run concurrently under healthCheckTimeout.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  statusHealthy,
		Service: s.Config.Service,
		Version: s.Config.Build.Version,
	}
	if len(s.HealthChecks) == 0 {
		JSON(w, r, http.StatusOK, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	// Each check owns one slot; nil means it had not finished at the deadline.
	var (
		mu    sync.Mutex
		slots = make([]*componentStatus, len(s.HealthChecks))
		wg    sync.WaitGroup
	)
	for i, check := range s.HealthChecks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st := runCheck(ctx, check)
			mu.Lock()
			slots[i] = &st
			mu.Unlock()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	resp.Components = make(map[string]componentStatus, len(slots))
	for i, check := range s.HealthChecks {
		st := componentStatus{Status: statusUnhealthy, Message: "health check timed out", LatencyMS: healthCheckTimeout.Milliseconds()}
		if slots[i] != nil {
			st = *slots[i]
		}
		if st.Status != statusHealthy {
			resp.Status = statusUnhealthy
		}
		resp.Components[check.Name()] = st
	}

	status := http.StatusOK
	if resp.Status != statusHealthy {
		status = http.StatusServiceUnavailable
	}
	JSON(w, r, status, resp)
}
