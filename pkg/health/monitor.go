package health

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	emptyPoolInitialInterval = time.Second
	emptyPoolMaxInterval     = time.Minute
)

// Monitor keeps every network's pool fresh. Each network runs its own loop:
// a ticker on the configured probe interval, a faster exponential schedule
// while the pool is empty, and an immediate cycle on Trigger.
type Monitor struct {
	checker *Checker
	logger  *zap.Logger

	// RetryInitial and RetryMax bound the re-probe schedule of an empty pool.
	RetryInitial time.Duration
	RetryMax     time.Duration

	mu      sync.Mutex
	wake    map[string]chan struct{}
	running map[string]bool
}

func NewMonitor(c *Checker) *Monitor {
	return &Monitor{
		checker:      c,
		logger:       c.Logger,
		RetryInitial: emptyPoolInitialInterval,
		RetryMax:     emptyPoolMaxInterval,
		wake:         map[string]chan struct{}{},
		running:      map[string]bool{},
	}
}

// RunInitial performs one cycle for all networks in parallel and waits for them.
func (m *Monitor) RunInitial(ctx context.Context) {
	var wg sync.WaitGroup
	for _, name := range m.checker.Reg.Networks() {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			res, err := m.checker.RunHealthCheck(ctx, name)
			if err != nil {
				m.logger.Error("health_initial_failed", zap.String("network", name), zap.Error(err))
				return
			}
			m.logger.Info("health_initialized", zap.String("network", name), zap.Int("best_count", len(res.Ranked)))
		}(name)
	}
	wg.Wait()
}

// Run starts a loop for every registered network and returns immediately.
func (m *Monitor) Run(ctx context.Context) {
	for _, name := range m.checker.Reg.Networks() {
		m.Watch(ctx, name)
	}
}

// Watch starts the loop of one network unless it already runs.
func (m *Monitor) Watch(ctx context.Context, network string) {
	m.mu.Lock()
	if m.running[network] {
		m.mu.Unlock()
		return
	}
	m.running[network] = true
	wake := make(chan struct{}, 1)
	m.wake[network] = wake
	m.mu.Unlock()

	go m.loop(ctx, network, wake)
}

// Trigger requests an immediate cycle. Requests made while one is pending collapse.
func (m *Monitor) Trigger(network string) {
	m.mu.Lock()
	wake := m.wake[network]
	m.mu.Unlock()
	if wake == nil {
		return
	}
	select {
	case wake <- struct{}{}:
	default:
	}
}

func (m *Monitor) loop(ctx context.Context, network string, wake chan struct{}) {
	defer func() {
		m.mu.Lock()
		delete(m.running, network)
		delete(m.wake, network)
		m.mu.Unlock()
	}()

	interval := func() time.Duration {
		if cfg, ok := m.checker.Reg.Config(network); ok && cfg.ProbeInterval > 0 {
			return cfg.ProbeInterval
		}
		return 30 * time.Second
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.RetryInitial
	bo.MaxInterval = m.RetryMax
	bo.MaxElapsedTime = 0
	bo.Reset()

	next := interval()
	timer := time.NewTimer(next)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}

		res, err := m.checker.RunHealthCheck(ctx, network)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			m.logger.Error("health_cycle_failed", zap.String("network", network), zap.Error(err))
			next = bo.NextBackOff()
		case len(res.Ranked) == 0:
			next = bo.NextBackOff()
			m.logger.Warn("health_pool_empty", zap.String("network", network), zap.Duration("retry_in", next))
		default:
			bo.Reset()
			next = interval()
		}
		timer.Reset(next)
	}
}
