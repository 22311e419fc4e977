package ping

import (
	"context"

	"github.com/cuemby/deployd/pkg/lock"
	"github.com/cuemby/deployd/pkg/types"
)

// MaxParallel returns how many non-first-deploy hosts of env may deploy at
// once. When both limits are set the smaller wins. The result is at least 1
// and at most total when total is positive.
func MaxParallel(env *types.Environment, total, defaultMax int) int {
	n := defaultMax
	num := env.MaxParallel > 0
	pct := env.MaxParallelPct > 0

	switch {
	case num && pct:
		n = min(env.MaxParallel, total*env.MaxParallelPct/100)
	case num:
		n = env.MaxParallel
	case pct:
		n = total * env.MaxParallelPct / 100
	}

	if n <= 0 {
		return 1
	}
	if total > 0 && n > total {
		return total
	}
	return n
}

// deploying reports whether the agent holds a pacing seat
func deploying(a *types.AgentRecord) bool {
	if a.State == types.AgentStateStop {
		return true
	}
	return !a.FirstDeploy && a.Stage != types.StageServingBuild && a.State != types.AgentStatePausedByUser
}

// countAgents returns the number of non-first-deploy agents and of agents
// currently deploying
func countAgents(agents []*types.AgentRecord) (total, active int) {
	for _, a := range agents {
		if !a.FirstDeploy {
			total++
		}
		if deploying(a) {
			active++
		}
	}
	return total, active
}

// canDeploy decides whether a waiting candidate may start now. A first
// deploy always may. Otherwise the seat is checked, then checked again and
// taken under the environment's DEPLOY lock by writing the record.
func (h *Handler) canDeploy(ctx context.Context, env *types.Environment, record *types.AgentRecord) bool {
	logger := h.logger.With().Str("host_id", record.HostID).Str("env_id", env.ID).Logger()

	if record.FirstDeploy {
		if err := h.store.UpsertAgent(record); err != nil {
			logger.Error().Err(err).Msg("Failed to record first deploy")
			return false
		}
		return true
	}

	agents, err := h.store.ListAgentsByEnv(env.ID)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to count deploying agents")
		return false
	}
	total, active := countAgents(agents)
	threshold := MaxParallel(env, total, h.defaultMaxParallel)
	if active >= threshold {
		logger.Debug().Int("active", active).Int("max_parallel", threshold).Msg("Too many agents deploying")
		return false
	}

	release, err := h.locker.TryLock(ctx, lock.DeployLockName(env.ID))
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to lock environment for pacing")
		return false
	}
	defer release()

	agents, err = h.store.ListAgentsByEnv(env.ID)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to count deploying agents")
		return false
	}
	if _, active = countAgents(agents); active >= threshold {
		logger.Debug().Int("active", active).Int("max_parallel", threshold).Msg("Too many agents deploying")
		return false
	}

	if err := h.store.UpsertAgent(record); err != nil {
		logger.Error().Err(err).Msg("Failed to take deploy seat")
		return false
	}
	return true
}
