package health

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/deployd/pkg/log"
	"github.com/cuemby/deployd/pkg/metrics"
	"github.com/rs/zerolog"
)

// Monitor runs named checkers on an interval and publishes their status as
// process components, which drive /ready
type Monitor struct {
	config   Config
	mu       sync.RWMutex
	checkers map[string]Checker
	statuses map[string]*Status
	logger   zerolog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMonitor creates a monitor; zero fields of config take their defaults
func NewMonitor(config Config) *Monitor {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.Retries <= 0 {
		config.Retries = def.Retries
	}
	return &Monitor{
		config:   config,
		checkers: make(map[string]Checker),
		statuses: make(map[string]*Status),
		logger:   log.WithComponent("health"),
		stopCh:   make(chan struct{}),
	}
}

// Add registers checker under the component name
func (m *Monitor) Add(name string, checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = checker
	m.statuses[name] = NewStatus()
}

// Start runs every check once and then keeps checking until Stop
func (m *Monitor) Start() {
	m.CheckAll(context.Background())

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.CheckAll(context.Background())
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop stops the monitor
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
}

// CheckAll runs every checker once
func (m *Monitor) CheckAll(ctx context.Context) {
	m.mu.RLock()
	names := make([]string, 0, len(m.checkers))
	for name := range m.checkers {
		names = append(names, name)
	}
	m.mu.RUnlock()

	for _, name := range names {
		m.check(ctx, name)
	}
}

func (m *Monitor) check(ctx context.Context, name string) {
	m.mu.RLock()
	checker := m.checkers[name]
	m.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	result := checker.Check(checkCtx)
	cancel()

	m.mu.Lock()
	status := m.statuses[name]
	wasHealthy := status.Healthy
	status.Update(result, m.config)
	healthy := status.Healthy
	failures := status.ConsecutiveFailures
	m.mu.Unlock()

	metrics.UpdateComponent(name, healthy, result.Message)

	if wasHealthy && !healthy {
		m.logger.Error().
			Str("check", name).
			Int("failures", failures).
			Msg(result.Message)
	} else if !wasHealthy && healthy {
		m.logger.Info().Str("check", name).Msg("Dependency recovered")
	} else if !result.Healthy {
		m.logger.Warn().Str("check", name).Msg(result.Message)
	}
}

// Status returns a copy of the named component's status
func (m *Monitor) Status(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[name]
	if !ok {
		return Status{}, false
	}
	return *s, true
}
