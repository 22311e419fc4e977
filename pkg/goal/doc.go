/*
Package goal computes what a host agent should do next for every environment
it belongs to.

The goal package is the decision core of deployd. Every ping from a host is
turned into an Input, analyzed once, and the Result tells the ping handler
which agent records to write, which records to drop, and which instructions
the host may run. The handler then applies pacing and picks a single
instruction; goal itself never writes anything.

# Architecture

An Analyst joins three views of one host by environment id:

	┌──────────────────────────── PING ─────────────────────────────┐
	│                                                                │
	│   Environments        Reports              Agent records       │
	│   (host's envs)       (sent in ping)       (previous ping)     │
	│        │                   │                     │             │
	│        └──────────┬────────┴──────────┬──────────┘             │
	│                   │    join by envID  │                        │
	│            ┌──────▼───────────────────▼──────┐                 │
	│            │            Analyst              │                 │
	│            │  - resolve stray records        │                 │
	│            │  - translate rollback aliases   │                 │
	│            │  - classify each environment    │                 │
	│            │  - sort install candidates      │                 │
	│            └──────┬──────────────────────────┘                 │
	│                   │                                            │
	│            ┌──────▼──────┐                                     │
	│            │   Result    │──► ping handler (pacing, response)  │
	│            └─────────────┘                                     │
	└────────────────────────────────────────────────────────────────┘

Analyze returns:

  - NeedUpdateAgents: report-derived agent records that changed
  - ErrorMessages: the error text carried by updated reports
  - NeedDeleteAgentEnvIDs: records of environments the host no longer knows
  - InstallCandidates: instructions the host could run, most urgent first
  - UninstallCandidates: environments the host must drop
  - Skipped: environments left alone because a lookup failed

Analyze does no I/O except through the Lookup it was built with, which is
used to resolve rollback aliases and the environments of stray agent records.

# Core Components

Analyst:
  - Holds the Lookup, a clock and a component logger
  - Safe for concurrent use; all per-ping state lives in a pass

pass:
  - One Analyze call
  - Resolves environments that only appear in agent records
  - Walks environment ids in sorted order so results are stable

classify:
  - Pure function from an observation to an action
  - Returns the name of the rule that fired, carried on the candidate

InstallCandidate / UninstallCandidate:
  - What the ping handler may send back
  - InstallCandidate carries the agent record to write if it is chosen

# Classification

Every environment is classified on its own:

	no environment           → uninstall (report) or delete record (no report)
	environment, no deploy   → nothing
	env on hold              → nothing, unless this is the host's first deploy
	agent PAUSED_BY_USER     → nothing
	agent STOP               → STOPPING, then STOPPED
	deploy changed / reset   → restart at PRE_DOWNLOAD
	stage succeeded          → next stage
	fatal failure            → PAUSED_BY_SYSTEM, nothing
	retryable failure        → repeat stage
	no report                → install at PRE_DOWNLOAD

Rules are checked top to bottom and the first match wins. A user pause is
checked before a deploy change, so an agent paused by an operator stays
paused even when the environment has moved on to a new deploy.

A host's first deploy of an environment is recognised when the host has no
agent record for any environment with the same name. A
first deploy ignores holds and uses the environment's configured priority.

# Ordering

Install candidates are sorted by a key of (stopping, priority, needWait):

	stopping first
	  └─ lower priority value first
	       └─ candidates that need no pacing first

Priority is the environment's configured priority, replaced by a hotfix or
rollback boost once the host is past its first deploy, and overridden
entirely by a system priority. Ties keep environment id order.

# Lookup Failures

A lookup error never fails the whole ping. When resolving a rollback alias
fails, only that environment is skipped. When resolving the environment of a
stray agent record fails, the record is kept and every environment the host
has no agent record for is skipped too: a renamed environment could otherwise
look like a first deploy and bypass pacing. storage.ErrNotFound is not a
failure; it means the record really is stray.

Skipped environments still have their report-derived record written.

# Usage

Analyzing one ping:

	analyst := goal.NewAnalyst(store)

	result := analyst.Analyze(goal.Input{
		HostID:       host.ID,
		HostName:     host.Name,
		Environments: envs,    // map[envID]*types.Environment
		Reports:      reports, // map[envID]*types.PingReport
		Agents:       agents,  // map[envID]*types.AgentRecord
	})

	for envID, record := range result.NeedUpdateAgents {
		if err := store.UpsertAgent(record); err != nil {
			return fmt.Errorf("failed to update agent %s: %w", envID, err)
		}
	}

	if len(result.InstallCandidates) > 0 {
		next := result.InstallCandidates[0]
		// apply pacing when next.NeedWait is set
	}

Testing with a fixed clock:

	now := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	analyst := goal.NewAnalyst(lookup, goal.WithClock(func() time.Time { return now }))

# Design Patterns

Stateless Analysis:
  - The Analyst keeps nothing between pings
  - Everything it needs arrives in Input or through Lookup
  - Two pings from the same host give the same Result for the same data

Separation of Concerns:
  - goal decides, ping paces and writes, storage persists
  - Pacing needs locks and counts across hosts, so it stays out of here

# Monitoring Metrics

  - deployd_analyze_duration_seconds: time spent in one Analyze call
  - deployd_goal_candidates_total{kind}: install and uninstall candidates
  - deployd_goal_skipped_envs_total: environments skipped on lookup failure

# See Also

  - pkg/ping for pacing and the response sent back to the host
  - pkg/types for agent states and deploy stages
*/
package goal
