package goal

import (
	"sort"

	"github.com/cuemby/deployd/pkg/types"
)

// InstallCandidate is an instruction the host could be given next
type InstallCandidate struct {
	// Env is the environment the instruction is for
	Env *types.Environment
	// NeedWait is true when the host is idle for this environment, so
	// starting it has to respect the environment's pacing limits
	NeedWait bool
	// Record replaces the report-derived agent record if the candidate is chosen
	Record *types.AgentRecord
	// Report is the host's report, nil when the host did not report the environment
	Report *types.PingReport
	// Case names the classification rule that produced the candidate
	Case string
}

// Priority returns the numeric urgency of the candidate, lower first
func (c *InstallCandidate) Priority() int {
	env := c.Env
	if env.DeployType == "" {
		return types.PriorityNormal.Value()
	}

	// System level deploys ignore hotfix and rollback boosts
	if env.SystemPriority != nil {
		return *env.SystemPriority
	}

	// A first deploy always uses the configured priority
	if c.Record != nil && c.Record.FirstDeploy {
		return env.Priority.Value()
	}

	switch env.DeployType {
	case types.DeployTypeHotfix:
		return types.HotfixPriorityValue
	case types.DeployTypeRollback:
		return types.RollbackPriorityValue
	default:
		return env.Priority.Value()
	}
}

func (c *InstallCandidate) stopping() bool {
	return c.Record != nil && c.Record.State == types.AgentStateStop
}

// UninstallCandidate tells a host to drop an environment it no longer belongs to
type UninstallCandidate struct {
	Record *types.AgentRecord
	Report *types.PingReport
	// Env is the retired environment when it could still be resolved
	Env *types.Environment
}

// sortKey orders install candidates
type sortKey struct {
	stop     bool
	priority int
	needWait bool
}

func keyOf(c *InstallCandidate) sortKey {
	return sortKey{
		stop:     c.stopping(),
		priority: c.Priority(),
		needWait: c.NeedWait,
	}
}

// less reports whether k goes before o.
// STOP candidates go first, and among them the higher priority value leads.
// Everything else is ordered by ascending priority value, then candidates
// that do not need to wait go before those that do.
func (k sortKey) less(o sortKey) bool {
	if k.stop != o.stop {
		return k.stop
	}

	if k.priority != o.priority {
		if k.stop {
			return k.priority > o.priority
		}
		return k.priority < o.priority
	}

	return !k.needWait && o.needWait
}

// sortCandidates orders candidates in place. Candidates with equal keys
// keep their relative order.
func sortCandidates(candidates []*InstallCandidate) {
	if len(candidates) < 2 {
		return
	}
	keys := make(map[*InstallCandidate]sortKey, len(candidates))
	for _, c := range candidates {
		keys[c] = keyOf(c)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return keys[candidates[i]].less(keys[candidates[j]])
	})
}
