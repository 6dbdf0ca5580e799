// Package connectivity tracks whether the remote backend is reachable.
//
// A Monitor is an owned service: it is created explicitly, started and stopped by its
// owner, and publishes a single shared Status cell that subscribers observe.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ConnectForLife/vxnaid-sub000/internal/metrics"
)

// DefaultInterval is how often the backend is probed.
const DefaultInterval = 15 * time.Second

// probeTimeout bounds a single probe.
const probeTimeout = 5 * time.Second

// Pinger probes the backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Status is the last observed reachability.
type Status struct {
	Online    bool      `json:"online"`
	CheckedAt time.Time `json:"checked_at"`
	LastError string    `json:"last_error,omitempty"`
}

// Monitor periodically probes the backend and publishes state changes.
type Monitor struct {
	pinger   Pinger
	interval time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time

	mu     sync.RWMutex
	status Status
	subs   map[int]chan Status
	nextID int

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the probe interval.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithMetrics publishes the status as a gauge.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) { m.metrics = mt }
}

// WithClock overrides the clock used for CheckedAt.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// NewMonitor creates a stopped Monitor. The initial status is offline.
func NewMonitor(p Pinger, opts ...Option) *Monitor {
	m := &Monitor{
		pinger:   p,
		interval: DefaultInterval,
		now:      time.Now,
		subs:     make(map[int]chan Status),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start probes once and then keeps probing in the background until Stop or ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	slog.Info("Monitor.Start: starting connectivity monitor", "interval", m.interval)
	go m.run(ctx)
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)
	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Monitor.run: stopping")
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Stop stops probing and waits for the background goroutine to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Check probes the backend once and publishes the result.
func (m *Monitor) Check(ctx context.Context) Status {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	err := m.pinger.Ping(probeCtx)
	cancel()

	s := Status{Online: err == nil, CheckedAt: m.now()}
	if err != nil {
		s.LastError = err.Error()
	}
	m.set(s)
	return s
}

// Status returns the last observed status.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Online reports whether the last probe succeeded.
func (m *Monitor) Online() bool {
	return m.Status().Online
}

// Subscribe returns a channel receiving every online/offline transition, and a function
// that ends the subscription. A slow subscriber only sees the latest transition.
func (m *Monitor) Subscribe() (<-chan Status, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	ch := make(chan Status, 1)
	m.subs[id] = ch
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
		}
	}
}

func (m *Monitor) set(s Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := m.status.Online != s.Online || m.status.CheckedAt.IsZero()
	m.status = s
	m.metrics.SetOnline(s.Online)
	if !changed {
		return
	}
	slog.Info("Monitor.set: connectivity changed", "online", s.Online, "error", s.LastError)
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}
