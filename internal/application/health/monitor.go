package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Probe checks one backend; nil means healthy
type Probe func(ctx context.Context) error

// Listener is called when a backend is probed
type Listener func(backend string, healthy bool)

// Status is the last probe result of a backend
type Status struct {
	Backend   string    `json:"backend"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Monitor monitors backend health
type Monitor struct {
	probes   map[string]Probe
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	mu        sync.RWMutex
	running   bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
	statuses  map[string]Status
	listeners []Listener
}

// NewMonitor creates a new health monitor. timeout bounds a single probe.
func NewMonitor(probes map[string]Probe, interval, timeout time.Duration, logger *zap.Logger) *Monitor {
	copied := make(map[string]Probe, len(probes))
	for name, p := range probes {
		copied[name] = p
	}
	return &Monitor{
		probes:   copied,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		stopCh:   make(chan struct{}),
		statuses: make(map[string]Status),
	}
}

// OnChange registers a listener for probe results; call before Start
func (m *Monitor) OnChange(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Start checks every backend once and then keeps checking in the background
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	m.CheckNow(ctx)

	m.wg.Add(1)
	go m.run(ctx)
}

// Stop stops the health monitor
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
}

// run is the main health monitoring loop
func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckNow(ctx)
		}
	}
}

// CheckNow probes every backend and notifies listeners
func (m *Monitor) CheckNow(ctx context.Context) {
	for _, name := range m.backends() {
		m.check(ctx, name, m.probes[name])
	}
}

func (m *Monitor) check(ctx context.Context, name string, probe Probe) {
	probeCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	status := Status{Backend: name, Healthy: true, CheckedAt: time.Now()}
	if err := probe(probeCtx); err != nil {
		status.Healthy = false
		status.Error = err.Error()
	}

	m.mu.Lock()
	previous, seen := m.statuses[name]
	m.statuses[name] = status
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	switch {
	case !status.Healthy && (!seen || previous.Healthy):
		m.logger.Warn("backend is unhealthy",
			zap.String("backend", name),
			zap.String("error", status.Error))
	case status.Healthy && seen && !previous.Healthy:
		m.logger.Info("backend recovered", zap.String("backend", name))
	default:
		m.logger.Debug("backend health check",
			zap.String("backend", name),
			zap.Bool("healthy", status.Healthy))
	}

	for _, l := range listeners {
		l(name, status.Healthy)
	}
}

func (m *Monitor) backends() []string {
	names := make([]string, 0, len(m.probes))
	for name := range m.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetStatus returns the last result of every probed backend, sorted by name
func (m *Monitor) GetStatus() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Status, 0, len(m.statuses))
	for _, s := range m.statuses {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Backend < out[j].Backend })
	return out
}

// IsHealthy returns true if every backend passed its last probe
func (m *Monitor) IsHealthy() bool {
	for _, s := range m.GetStatus() {
		if !s.Healthy {
			return false
		}
	}
	return true
}
