package goal

import (
	"github.com/cuemby/deployd/pkg/types"
)

// recordFromReport builds a complete agent record from a report, so it can be
// upserted whether or not the host already had one.
func (p *pass) recordFromReport(report *types.PingReport, agent *types.AgentRecord) *types.AgentRecord {
	r := &types.AgentRecord{
		HostID:         p.in.HostID,
		HostName:       p.in.HostName,
		EnvID:          report.EnvID,
		DeployID:       report.DeployID,
		Stage:          report.Stage,
		State:          proposeState(report.Status, agent),
		Status:         report.Status,
		LastErrNo:      report.ErrorCode,
		FailCount:      report.FailCount,
		StartDate:      p.now,
		StageStartDate: p.now,
		LastUpdate:     p.now,
		LastOperator:   SystemOperator,
	}

	// Without a record the host is not treated as a first deploy
	if agent != nil {
		r.FirstDeploy = agent.FirstDeploy
		r.FirstDeployTime = agent.FirstDeployTime
		if !agent.StartDate.IsZero() {
			r.StartDate = agent.StartDate
		}
		if agent.Stage == report.Stage && agent.DeployID == report.DeployID && !agent.StageStartDate.IsZero() {
			r.StageStartDate = agent.StageStartDate
		}
	}

	if report.Stage == types.StageServingBuild {
		if r.FirstDeploy {
			r.FirstDeployTime = p.now
		}
		r.FirstDeploy = false
	}

	return r
}

// newRecord builds the record of a fresh install from the first stage
func (p *pass) newRecord(env *types.Environment, agent *types.AgentRecord) *types.AgentRecord {
	r := &types.AgentRecord{
		HostID:         p.in.HostID,
		HostName:       p.in.HostName,
		EnvID:          env.ID,
		DeployID:       env.DeployID,
		Stage:          types.FirstStage,
		State:          types.AgentStateNormal,
		Status:         types.StatusUnknown,
		FirstDeploy:    p.isFirstDeploy(agent, env),
		StartDate:      p.now,
		StageStartDate: p.now,
		LastUpdate:     p.now,
		LastOperator:   SystemOperator,
	}
	if agent != nil {
		r.FirstDeployTime = agent.FirstDeployTime
	}
	return r
}

// stopRecord builds the record that starts a graceful shutdown
func (p *pass) stopRecord(env *types.Environment, agent *types.AgentRecord) *types.AgentRecord {
	return &types.AgentRecord{
		HostID:          p.in.HostID,
		HostName:        p.in.HostName,
		EnvID:           env.ID,
		DeployID:        env.DeployID,
		Stage:           types.StageStopping,
		State:           types.AgentStateStop,
		Status:          types.StatusUnknown,
		FirstDeploy:     agent.FirstDeploy,
		FirstDeployTime: agent.FirstDeployTime,
		StartDate:       p.now,
		StageStartDate:  p.now,
		LastUpdate:      p.now,
		LastOperator:    SystemOperator,
	}
}

// resetOutcome clears the result of the previous stage on a record about to
// start a new one
func (p *pass) resetOutcome(r *types.AgentRecord) {
	r.Status = types.StatusUnknown
	r.LastErrNo = 0
	r.FailCount = 0
	r.StageStartDate = p.now
	r.LastUpdate = p.now
	r.LastOperator = SystemOperator
}

// recordChanged reports whether writing update over orig would change
// anything the engine reads back. Timestamps are ignored.
func recordChanged(orig, update *types.AgentRecord) bool {
	if orig == nil || update == nil {
		return true
	}
	return orig.HostID != update.HostID ||
		orig.DeployID != update.DeployID ||
		orig.EnvID != update.EnvID ||
		orig.FailCount != update.FailCount ||
		orig.Status != update.Status ||
		orig.LastErrNo != update.LastErrNo ||
		orig.State != update.State ||
		orig.Stage != update.Stage ||
		orig.FirstDeploy != update.FirstDeploy
}
