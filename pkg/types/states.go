package types

// Priority values. Lower is more urgent.
const (
	priorityHigherValue = 10
	priorityHighValue   = 20
	priorityNormalValue = 30
	priorityLowValue    = 40
	priorityLowerValue  = 50
)

// Hotfix and rollback jump ahead of every configured priority but stay
// behind system priorities, which callers set explicitly.
const (
	HotfixPriorityValue   = priorityHigherValue - 20
	RollbackPriorityValue = priorityHigherValue - 10
)

// Value returns the numeric rank of the priority. Unknown values rank as NORMAL.
func (p DeployPriority) Value() int {
	switch p {
	case PriorityHigher:
		return priorityHigherValue
	case PriorityHigh:
		return priorityHighValue
	case PriorityLow:
		return priorityLowValue
	case PriorityLower:
		return priorityLowerValue
	default:
		return priorityNormalValue
	}
}

var stageTransitions = map[DeployStage]DeployStage{
	StageUnknown:      StagePreDownload,
	StagePreDownload:  StageDownloading,
	StageDownloading:  StagePostDownload,
	StagePostDownload: StageStaging,
	StageStaging:      StagePreRestart,
	StagePreRestart:   StageRestarting,
	StageRestarting:   StagePostRestart,
	StagePostRestart:  StageServingBuild,
	StageStopping:     StageStopped,
}

// FirstStage is where every fresh install starts
const FirstStage = StagePreDownload

// Next returns the pipeline successor of s. Terminal stages return themselves.
func (s DeployStage) Next() DeployStage {
	if next, ok := stageTransitions[s]; ok {
		return next
	}
	return s
}

// IsTerminal reports whether no stage follows s
func (s DeployStage) IsTerminal() bool {
	return s == StageServingBuild || s == StageStopped
}

// IsFatal reports whether the status auto-pauses the agent
func (s AgentStatus) IsFatal() bool {
	switch s {
	case StatusAgentFailed, StatusScriptTimeout, StatusTooManyRetry, StatusRuntimeMismatch:
		return true
	}
	return false
}

// IsRetryable reports whether the status means "repeat the current stage"
func (s AgentStatus) IsRetryable() bool {
	switch s {
	case StatusScriptFailed, StatusRetryableAgentFailed:
		return true
	}
	return false
}

// IsReset reports whether the agent was asked to start its pipeline over
func (s AgentState) IsReset() bool {
	return s == AgentStateReset || s == AgentStateResetBySystem
}

// OpCode maps a deploy type to the instruction sent to hosts
func (t DeployType) OpCode() OpCode {
	switch t {
	case DeployTypeRollback:
		return OpCodeRollback
	case DeployTypeRestart:
		return OpCodeRestart
	case DeployTypeStop:
		return OpCodeStop
	default:
		return OpCodeDeploy
	}
}

// IsFinal reports whether the deploy can no longer change
func (s DeployState) IsFinal() bool {
	return s == DeployStateSucceeded || s == DeployStateAborted
}

// IsFinal reports whether acceptance has concluded
func (s AcceptanceStatus) IsFinal() bool {
	switch s {
	case AcceptanceAccepted, AcceptanceRejected, AcceptanceTerminated:
		return true
	}
	return false
}

// IsDeployable reports whether new instructions may be issued for the environment
func (s EnvState) IsDeployable() bool {
	return s == EnvStateNormal
}
