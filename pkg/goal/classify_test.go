package goal

import (
	"testing"

	"github.com/cuemby/deployd/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	live := observation{hasEnv: true, envHasDeploy: true, envDeployable: true}

	with := func(mods ...func(*observation)) observation {
		o := live
		for _, m := range mods {
			m(&o)
		}
		return o
	}
	report := func(stage types.DeployStage, status types.AgentStatus, proposed types.AgentState) func(*observation) {
		return func(o *observation) {
			o.hasReport = true
			o.reportStage = stage
			o.reportStatus = status
			o.proposedState = proposed
		}
	}
	agent := func(state types.AgentState, stage types.DeployStage) func(*observation) {
		return func(o *observation) {
			o.hasAgent = true
			o.agentState = state
			o.agentStage = stage
		}
	}

	tests := []struct {
		name   string
		obs    observation
		action action
		label  string
	}{
		{
			name:   "nothing known",
			obs:    observation{},
			action: actionNone,
			label:  "empty",
		},
		{
			name:   "environment without deploy",
			obs:    observation{hasEnv: true},
			action: actionNone,
			label:  "env-without-deploy",
		},
		{
			name:   "environment on hold",
			obs:    with(func(o *observation) { o.envDeployable = false }),
			action: actionNone,
			label:  "env-on-hold",
		},
		{
			name: "environment on hold, first deploy",
			obs: with(func(o *observation) {
				o.envDeployable = false
				o.firstDeploy = true
			}),
			action: actionInstallNew,
			label:  "no-report",
		},
		{
			name: "paused by user",
			obs: with(agent(types.AgentStatePausedByUser, types.StagePreRestart),
				report(types.StagePreRestart, types.StatusSucceeded, types.AgentStatePausedByUser)),
			action: actionNone,
			label:  "paused-by-user",
		},
		{
			name:   "stop from serving",
			obs:    with(agent(types.AgentStateStop, types.StageServingBuild)),
			action: actionStop,
			label:  "stop",
		},
		{
			name:   "stopping without report",
			obs:    with(agent(types.AgentStateStop, types.StageStopping)),
			action: actionNone,
			label:  "stopping-without-report",
		},
		{
			name: "stopping failed",
			obs: with(agent(types.AgentStateStop, types.StageStopping),
				report(types.StageStopping, types.StatusAgentFailed, types.AgentStatePausedBySystem)),
			action: actionNone,
			label:  "stop-failed",
		},
		{
			name: "stopping succeeded",
			obs: with(agent(types.AgentStateStop, types.StageStopping),
				report(types.StageStopping, types.StatusSucceeded, types.AgentStateStop)),
			action: actionNextStop,
			label:  "stop-succeeded",
		},
		{
			name: "stopping in progress",
			obs: with(agent(types.AgentStateStop, types.StageStopping),
				report(types.StageStopping, types.StatusUnknown, types.AgentStateStop)),
			action: actionRepeatStop,
			label:  "stopping",
		},
		{
			name:   "stopped",
			obs:    with(agent(types.AgentStateStop, types.StageStopped)),
			action: actionNone,
			label:  "stopped",
		},
		{
			name: "new deploy overrides system pause",
			obs: with(agent(types.AgentStatePausedBySystem, types.StagePreRestart),
				report(types.StagePreRestart, types.StatusTooManyRetry, types.AgentStatePausedBySystem),
				func(o *observation) { o.deployChanged = true }),
			action: actionInstallNew,
			label:  "new-deploy",
		},
		{
			name: "reset",
			obs: with(agent(types.AgentStateReset, types.StagePreRestart),
				report(types.StagePreRestart, types.StatusScriptTimeout, types.AgentStateReset)),
			action: actionInstallNew,
			label:  "reset",
		},
		{
			name: "reset by system",
			obs: with(agent(types.AgentStateResetBySystem, types.StagePreRestart),
				report(types.StagePreRestart, types.StatusScriptTimeout, types.AgentStateResetBySystem)),
			action: actionInstallNew,
			label:  "reset",
		},
		{
			name:   "serving",
			obs:    with(report(types.StageServingBuild, types.StatusSucceeded, types.AgentStateNormal)),
			action: actionNone,
			label:  "serving",
		},
		{
			name:   "stage succeeded",
			obs:    with(report(types.StageStaging, types.StatusSucceeded, types.AgentStateNormal)),
			action: actionNextStage,
			label:  "next-stage",
		},
		{
			name:   "fatal failure",
			obs:    with(report(types.StageStaging, types.StatusScriptTimeout, types.AgentStatePausedBySystem)),
			action: actionNone,
			label:  "paused-by-system",
		},
		{
			name:   "retryable failure",
			obs:    with(report(types.StageStaging, types.StatusScriptFailed, types.AgentStateNormal)),
			action: actionRepeatStage,
			label:  "repeat-stage",
		},
		{
			name:   "stage in progress",
			obs:    with(report(types.StageDownloading, types.StatusUnknown, types.AgentStateNormal)),
			action: actionRepeatStage,
			label:  "repeat-stage",
		},
		{
			name:   "no report",
			obs:    live,
			action: actionInstallNew,
			label:  "no-report",
		},
		{
			name:   "retired environment",
			obs:    observation{hasReport: true, reportStage: types.StageServingBuild},
			action: actionUninstall,
			label:  "retired-env",
		},
		{
			name:   "obsolete record",
			obs:    observation{hasAgent: true, agentState: types.AgentStateNormal},
			action: actionDeleteRecord,
			label:  "obsolete-record",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			act, label := classify(tt.obs)
			assert.Equal(t, tt.action, act, "action was %s", act)
			assert.Equal(t, tt.label, label)
		})
	}
}

func TestProposeState(t *testing.T) {
	agent := func(state types.AgentState, stage types.DeployStage) *types.AgentRecord {
		return &types.AgentRecord{State: state, Stage: stage}
	}

	tests := []struct {
		name   string
		status types.AgentStatus
		agent  *types.AgentRecord
		want   types.AgentState
	}{
		{"no record, success", types.StatusSucceeded, nil, types.AgentStateNormal},
		{"no record, fatal", types.StatusAgentFailed, nil, types.AgentStatePausedBySystem},
		{"no record, retryable", types.StatusScriptFailed, nil, types.AgentStateNormal},
		{"paused by system, success", types.StatusSucceeded, agent(types.AgentStatePausedBySystem, types.StageStaging), types.AgentStateNormal},
		{"paused by system, retryable", types.StatusScriptFailed, agent(types.AgentStatePausedBySystem, types.StageStaging), types.AgentStatePausedBySystem},
		{"paused by user, success", types.StatusSucceeded, agent(types.AgentStatePausedByUser, types.StageStaging), types.AgentStatePausedByUser},
		{"reset, fatal", types.StatusScriptTimeout, agent(types.AgentStateReset, types.StageStaging), types.AgentStateReset},
		{"stop, success", types.StatusSucceeded, agent(types.AgentStateStop, types.StageServingBuild), types.AgentStateStop},
		{"stopping, fatal", types.StatusScriptTimeout, agent(types.AgentStateStop, types.StageStopping), types.AgentStatePausedBySystem},
		{"unreachable, in progress", types.StatusUnknown, agent(types.AgentStateUnreachable, types.StageStaging), types.AgentStateUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, proposeState(tt.status, tt.agent))
		})
	}
}
