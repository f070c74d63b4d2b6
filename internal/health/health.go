// Package health implements the periodic service prober of spec.md
// section 4.5: a probe function per registered service, a bounded timeout,
// consecutive-failure tracking, and listener callbacks on state
// transition.
//
// The StatusChangeCallback shape is grounded on the teacher's
// health/interfaces.go; the teacher's aggregator body is a stub, while
// this package implements the per-service probing and transition
// bookkeeping. It keeps a status per service and computes no combined
// worst-state status across services.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/digitalbeing/core/internal/logging"
)

// Status is a single service's current health classification.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// Probe is a bounded health check for one service. It returns a non-nil
// error, or a result whose Healthy flag and Latency are evaluated against
// the registered threshold.
type Probe func(ctx context.Context) (healthy bool, latency time.Duration, err error)

// ServiceStatus is the monitor's current view of one registered service.
type ServiceStatus struct {
	Name                 string        `json:"name"`
	Healthy              bool          `json:"healthy"`
	LastLatency          time.Duration `json:"last_latency"`
	ConsecutiveFailures  int           `json:"consecutive_failures"`
	LastCheck            time.Time     `json:"last_check"`
}

// StatusChangeCallback is invoked whenever a service's health transitions.
type StatusChangeCallback func(ctx context.Context, name string, previous, current Status)

type registeredService struct {
	name             string
	probe            Probe
	latencyThreshold time.Duration
}

// Monitor periodically probes registered services and tracks their
// health, per spec.md section 4.5.
type Monitor struct {
	logger           logging.Logger
	interval         time.Duration
	failureThreshold int

	mu        sync.RWMutex
	services  map[string]*registeredService
	status    map[string]*ServiceStatus
	callbacks []StatusChangeCallback

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor constructs a Monitor with the given check interval and
// consecutive-failure threshold (default 30s / 3, per spec.md section 4.5).
func NewMonitor(interval time.Duration, failureThreshold int, logger logging.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	return &Monitor{
		logger:           logger,
		interval:         interval,
		failureThreshold: failureThreshold,
		services:         make(map[string]*registeredService),
		status:           make(map[string]*ServiceStatus),
	}
}

// Register adds a service to be probed, with its own latency threshold
// (probes are bounded to 2x this threshold per spec.md section 4.5).
func (m *Monitor) Register(name string, probe Probe, latencyThreshold time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[name] = &registeredService{name: name, probe: probe, latencyThreshold: latencyThreshold}
	m.status[name] = &ServiceStatus{Name: name, Healthy: true}
}

// OnStatusChange registers a listener invoked whenever a service's health
// flips.
func (m *Monitor) OnStatusChange(cb StatusChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Start launches the background probing loop. It is cancellable via
// Stop and does not leak its goroutine on shutdown.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.probeAll(ctx)
			}
		}
	}()
}

// Stop cancels the background loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.done != nil {
		<-m.done
	}
}

func (m *Monitor) probeAll(ctx context.Context) {
	m.mu.RLock()
	services := make([]*registeredService, 0, len(m.services))
	for _, s := range m.services {
		services = append(services, s)
	}
	m.mu.RUnlock()

	for _, s := range services {
		m.probeOne(ctx, s)
	}
}

func (m *Monitor) probeOne(ctx context.Context, s *registeredService) {
	timeout := 2 * s.latencyThreshold
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	healthyNow := false

	type probeResult struct {
		healthy bool
		latency time.Duration
		err     error
	}
	resultCh := make(chan probeResult, 1)
	go func() {
		h, lat, err := s.probe(probeCtx)
		resultCh <- probeResult{healthy: h, latency: lat, err: err}
	}()

	var result probeResult
	select {
	case <-probeCtx.Done():
		result = probeResult{healthy: false, latency: time.Since(start), err: probeCtx.Err()}
	case result = <-resultCh:
	}

	healthyNow = result.err == nil && result.healthy && result.latency <= s.latencyThreshold

	m.mu.Lock()
	st := m.status[s.name]
	previous := StatusHealthy
	if !st.Healthy {
		previous = StatusUnhealthy
	}
	st.LastLatency = result.latency
	st.LastCheck = time.Now()
	if healthyNow {
		st.ConsecutiveFailures = 0
		st.Healthy = true
	} else {
		st.ConsecutiveFailures++
		if st.ConsecutiveFailures >= m.failureThreshold {
			st.Healthy = false
		}
	}
	current := StatusHealthy
	if !st.Healthy {
		current = StatusUnhealthy
	}
	callbacks := make([]StatusChangeCallback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	if previous != current {
		if m.logger != nil {
			m.logger.Warn("health: service status changed", "service", s.name, "previous", previous, "current", current)
		}
		for _, cb := range callbacks {
			cb(ctx, s.name, previous, current)
		}
	}
}

// Snapshot returns the current status of every registered service.
func (m *Monitor) Snapshot() map[string]ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]ServiceStatus, len(m.status))
	for k, v := range m.status {
		out[k] = *v
	}
	return out
}

// IsHealthy reports whether name is currently healthy; unregistered
// services report unknown (false).
func (m *Monitor) IsHealthy(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.status[name]
	return ok && st.Healthy
}
