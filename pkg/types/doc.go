/*
Package types defines the data model shared by the deployd engines.

The model has three layers:

  - Desired configuration: Environment, Deploy, Build, BuildTag, PromotePolicy
  - Observed state: PingReport, sent by a host on every check-in
  - Control plane memory: AgentRecord, one per (host, environment) pair

# Taxonomy

Stages, states and statuses are closed string enums. Their behavior lives
next to them in states.go so every engine classifies them the same way:

	PRE_DOWNLOAD → DOWNLOADING → POST_DOWNLOAD → STAGING →
	PRE_RESTART → RESTARTING → POST_RESTART → SERVING_BUILD

	STOPPING → STOPPED

DeployStage.Next returns the single successor of a stage. Terminal stages
return themselves.

AgentStatus is split into a retryable class (SCRIPT_FAILED,
RETRYABLE_AGENT_FAILED), which repeats the current stage, and a fatal class
(AGENT_FAILED, SCRIPT_TIMEOUT, TOO_MANY_RETRY, RUNTIME_MISMATCH), which pauses
the agent with PAUSED_BY_SYSTEM. Every other status is informational.

# Priorities

DeployPriority.Value ranks environments, lower first:

	HIGHER=10  HIGH=20  NORMAL=30  LOW=40  LOWER=50

Hotfixes rank at HotfixPriorityValue (-10) and rollbacks at
RollbackPriorityValue (0) unless the host is on its first deploy for the
environment. Environment.SystemPriority overrides all of these.
*/
package types
