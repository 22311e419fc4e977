package metrics

import (
	"sync"
	"time"

	"github.com/cuemby/deployd/pkg/log"
	"github.com/cuemby/deployd/pkg/types"
)

// FleetSource is the read side of storage the collector samples
type FleetSource interface {
	ListEnvironments() ([]*types.Environment, error)
	ListAgentsByEnv(envID string) ([]*types.AgentRecord, error)
}

// Collector samples fleet gauges from storage
type Collector struct {
	source   FleetSource
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCollector creates a new metrics collector
func NewCollector(source FleetSource, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		// Collect immediately on start
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop stops the collector and waits for a running collection to finish.
// It is safe to call more than once.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
}

// Collect samples the gauges once
func (c *Collector) Collect() {
	envs, err := c.source.ListEnvironments()
	if err != nil {
		log.Logger.Warn().Err(err).Msg("Failed to list environments for metrics")
		return
	}

	envCounts := make(map[types.EnvState]int)
	agentCounts := make(map[[2]string]int)

	for _, env := range envs {
		envCounts[env.State]++

		agents, err := c.source.ListAgentsByEnv(env.ID)
		if err != nil {
			continue
		}
		for _, agent := range agents {
			agentCounts[[2]string{string(agent.State), string(agent.Stage)}]++
		}
	}

	// Stale label sets would otherwise keep their last value
	EnvironmentsTotal.Reset()
	AgentsTotal.Reset()

	for state, count := range envCounts {
		EnvironmentsTotal.WithLabelValues(string(state)).Set(float64(count))
	}
	for key, count := range agentCounts {
		AgentsTotal.WithLabelValues(key[0], key[1]).Set(float64(count))
	}
}
