package goal

import (
	"github.com/cuemby/deployd/pkg/types"
)

// action is what one (environment, report, agent record) triple asks for
type action int

const (
	actionNone         action = iota
	actionStop                // Start graceful shutdown at STOPPING
	actionNextStop            // STOPPING finished, move to STOPPED
	actionRepeatStop          // Keep asking for STOPPING
	actionInstallNew          // Start the pipeline over at PRE_DOWNLOAD
	actionNextStage           // Advance one stage
	actionRepeatStage         // Repeat the reported stage
	actionUninstall           // Host must drop an environment it no longer belongs to
	actionDeleteRecord        // Agent record with neither environment nor report
)

func (a action) String() string {
	switch a {
	case actionStop:
		return "stop"
	case actionNextStop:
		return "next-stop"
	case actionRepeatStop:
		return "repeat-stop"
	case actionInstallNew:
		return "install-new"
	case actionNextStage:
		return "next-stage"
	case actionRepeatStage:
		return "repeat-stage"
	case actionUninstall:
		return "uninstall"
	case actionDeleteRecord:
		return "delete-record"
	default:
		return "none"
	}
}

// observation is the flattened view of one environment on one host.
// proposedState is the agent state derived from the report (see proposeState).
type observation struct {
	hasEnv        bool
	envHasDeploy  bool
	envDeployable bool
	firstDeploy   bool

	hasReport    bool
	reportStage  types.DeployStage
	reportStatus types.AgentStatus

	hasAgent   bool
	agentState types.AgentState
	agentStage types.DeployStage

	deployChanged bool
	proposedState types.AgentState
}

// classify maps an observation onto an action. The second value is a short
// label of the rule that fired, used for logging and tests.
func classify(o observation) (action, string) {
	if o.hasEnv && !o.envHasDeploy {
		return actionNone, "env-without-deploy"
	}

	if o.hasEnv && !o.envDeployable && !o.firstDeploy {
		return actionNone, "env-on-hold"
	}

	if o.hasAgent && o.agentState == types.AgentStatePausedByUser {
		return actionNone, "paused-by-user"
	}

	if o.hasAgent && o.agentState == types.AgentStateStop {
		if o.agentStage == types.StageStopped {
			return actionNone, "stopped"
		}
		if o.hasEnv {
			switch {
			case o.agentStage != types.StageStopping:
				return actionStop, "stop"
			case !o.hasReport:
				return actionNone, "stopping-without-report"
			case o.reportStatus.IsFatal():
				return actionNone, "stop-failed"
			case o.reportStatus == types.StatusSucceeded:
				return actionNextStop, "stop-succeeded"
			default:
				return actionRepeatStop, "stopping"
			}
		}
	}

	if o.hasEnv && o.hasReport {
		switch {
		case o.deployChanged:
			return actionInstallNew, "new-deploy"
		case o.proposedState.IsReset():
			return actionInstallNew, "reset"
		case o.reportStage == types.StageServingBuild:
			return actionNone, "serving"
		case o.reportStatus == types.StatusSucceeded:
			return actionNextStage, "next-stage"
		case o.proposedState == types.AgentStatePausedBySystem:
			return actionNone, "paused-by-system"
		default:
			return actionRepeatStage, "repeat-stage"
		}
	}

	if o.hasEnv {
		return actionInstallNew, "no-report"
	}

	if o.hasReport {
		return actionUninstall, "retired-env"
	}

	if o.hasAgent {
		return actionDeleteRecord, "obsolete-record"
	}

	return actionNone, "empty"
}

// proposeState is the agent state to record from a report when the
// environment is not chosen as the host's next goal.
func proposeState(status types.AgentStatus, agent *types.AgentRecord) types.AgentState {
	if agent != nil {
		switch {
		case agent.State == types.AgentStateStop:
			if agent.Stage == types.StageStopping && status.IsFatal() {
				return types.AgentStatePausedBySystem
			}
			return types.AgentStateStop
		case agent.State == types.AgentStatePausedByUser:
			return types.AgentStatePausedByUser
		case agent.State.IsReset():
			return agent.State
		}
	}

	if status == types.StatusSucceeded {
		return types.AgentStateNormal
	}

	if status.IsFatal() {
		return types.AgentStatePausedBySystem
	}

	if agent != nil {
		return agent.State
	}
	return types.AgentStateNormal
}
