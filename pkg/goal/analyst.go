package goal

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/deployd/pkg/log"
	"github.com/cuemby/deployd/pkg/storage"
	"github.com/cuemby/deployd/pkg/types"
	"github.com/rs/zerolog"
)

// SystemOperator is recorded as the last operator of records written by the engine
const SystemOperator = "SYSTEM"

// Lookup resolves records outside the host's own view
type Lookup interface {
	GetDeploy(id string) (*types.Deploy, error)
	GetEnvironment(id string) (*types.Environment, error)
}

// Input is one host's current view, every map keyed by environment id
type Input struct {
	HostID       string
	HostName     string
	Environments map[string]*types.Environment
	Reports      map[string]*types.PingReport
	Agents       map[string]*types.AgentRecord
}

// Result holds the actions computed for one host
type Result struct {
	// NeedUpdateAgents are report-derived agent records that changed
	NeedUpdateAgents map[string]*types.AgentRecord
	// ErrorMessages are the error messages carried by updated reports
	ErrorMessages map[string]string
	// NeedDeleteAgentEnvIDs are environments whose agent record is obsolete, sorted
	NeedDeleteAgentEnvIDs []string
	// InstallCandidates are ordered, most urgent first
	InstallCandidates []*InstallCandidate
	// UninstallCandidates are ordered by environment id
	UninstallCandidates []*UninstallCandidate
	// Skipped are environments whose action could not be computed because a
	// lookup failed; their report-derived record is still in NeedUpdateAgents
	Skipped []string
}

// Analyst computes what each host should do next
type Analyst struct {
	lookup Lookup
	now    func() time.Time
	logger zerolog.Logger
}

// Option configures an Analyst
type Option func(*Analyst)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(a *Analyst) {
		a.now = now
	}
}

// NewAnalyst creates an Analyst. lookup may be nil when no environment on the
// host can need it.
func NewAnalyst(lookup Lookup, opts ...Option) *Analyst {
	a := &Analyst{
		lookup: lookup,
		now:    time.Now,
		logger: log.WithComponent("goal"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze runs one reconciliation pass for a host. It never mutates its input.
func (a *Analyst) Analyze(in Input) *Result {
	p := &pass{
		analyst:          a,
		in:               in,
		now:              a.now(),
		logger:           a.logger.With().Str("host_id", in.HostID).Logger(),
		existingEnvs:     make(map[string]*types.Environment),
		existingEnvNames: make(map[string]bool),
		unresolved:       make(map[string]bool),
		result: &Result{
			NeedUpdateAgents: make(map[string]*types.AgentRecord),
			ErrorMessages:    make(map[string]string),
		},
	}

	p.resolveExistingEnvs()

	for _, envID := range p.envIDs() {
		p.process(envID)
	}

	sortCandidates(p.result.InstallCandidates)
	sort.Strings(p.result.NeedDeleteAgentEnvIDs)

	return p.result
}

// pass is the state of one Analyze call
type pass struct {
	analyst *Analyst
	in      Input
	now     time.Time
	logger  zerolog.Logger

	// Environments of every agent record on the host, and their names
	existingEnvs     map[string]*types.Environment
	existingEnvNames map[string]bool
	// Records whose environment could not be read. While any exist, first
	// deploys on this host cannot be told apart from renames.
	unresolved map[string]bool

	result *Result
}

func (p *pass) resolveExistingEnvs() {
	for envID := range p.in.Agents {
		env := p.in.Environments[envID]
		if env == nil {
			if p.analyst.lookup == nil {
				continue
			}
			found, err := p.analyst.lookup.GetEnvironment(envID)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				p.logger.Error().Err(err).Str("env_id", envID).Msg("Failed to resolve environment of agent record")
				p.unresolved[envID] = true
				continue
			}
			env = found
		}
		if env == nil {
			continue
		}
		p.existingEnvs[envID] = env
		p.existingEnvNames[env.Name] = true
	}
}

func (p *pass) envIDs() []string {
	seen := make(map[string]bool)
	for id := range p.in.Environments {
		seen[id] = true
	}
	for id := range p.in.Reports {
		seen[id] = true
	}
	for id := range p.in.Agents {
		seen[id] = true
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// isFirstDeploy reports whether the host is on its first deploy for env.
// A host without a record is only new if no other record it has belongs to an
// environment with the same name, which covers environment renames.
func (p *pass) isFirstDeploy(agent *types.AgentRecord, env *types.Environment) bool {
	if agent == nil {
		return !p.existingEnvNames[env.Name]
	}
	return agent.FirstDeploy
}

func (p *pass) process(envID string) {
	env := p.in.Environments[envID]
	agent := p.in.Agents[envID]

	var report *types.PingReport
	if r := p.in.Reports[envID]; r != nil {
		c := *r
		if c.EnvID == "" {
			c.EnvID = envID
		}
		report = &c
	}

	logger := p.logger.With().Str("env_id", envID).Logger()

	var update *types.AgentRecord
	if report != nil {
		if err := p.translateRollbackAlias(env, report, agent); err != nil {
			logger.Error().Err(err).Msg("Failed to resolve rollback alias, skipping environment")
			p.result.Skipped = append(p.result.Skipped, envID)
			p.recordUpdate(envID, agent, p.recordFromReport(report, agent))
			return
		}
		update = p.recordFromReport(report, agent)
	}

	if p.unresolved[envID] || (len(p.unresolved) > 0 && env != nil && agent == nil) {
		logger.Error().Msg("Environment lookup failed on this host, skipping environment")
		p.result.Skipped = append(p.result.Skipped, envID)
		if update != nil {
			p.recordUpdate(envID, agent, update)
		}
		return
	}

	obs := observation{
		hasEnv:    env != nil,
		hasReport: report != nil,
		hasAgent:  agent != nil,
	}
	if env != nil {
		obs.envHasDeploy = env.HasDeploy()
		obs.envDeployable = env.State.IsDeployable()
		obs.firstDeploy = p.isFirstDeploy(agent, env)
	}
	if report != nil {
		obs.reportStage = report.Stage
		obs.reportStatus = report.Status
		obs.proposedState = update.State
		if env != nil {
			obs.deployChanged = env.DeployID != report.DeployID
		}
	}
	if agent != nil {
		obs.agentState = agent.State
		obs.agentStage = agent.Stage
	}

	act, label := classify(obs)
	logger.Debug().Str("case", label).Str("action", act.String()).Msg("Classified environment")

	switch act {
	case actionStop:
		p.addInstall(env, false, p.stopRecord(env, agent), report, label)

	case actionNextStop:
		next := update.Clone()
		next.State = types.AgentStateStop
		next.Stage = agent.Stage.Next()
		p.resetOutcome(next)
		p.addInstall(env, false, next, report, label)

	case actionRepeatStop:
		p.addInstall(env, false, agent.Clone(), report, label)

	case actionInstallNew:
		p.addInstall(env, p.newInstallNeedsWait(report, agent), p.newRecord(env, agent), report, label)

	case actionNextStage:
		next := update.Clone()
		next.Stage = report.Stage.Next()
		next.State = types.AgentStateNormal
		p.resetOutcome(next)
		p.addInstall(env, false, next, report, label)

	case actionRepeatStage:
		retry := update.Clone()
		if report.Status.IsRetryable() {
			retry.FailCount = nextFailCount(report, agent)
		}
		p.addInstall(env, false, retry, report, label)

	case actionUninstall:
		update.State = types.AgentStateDelete
		p.result.UninstallCandidates = append(p.result.UninstallCandidates, &UninstallCandidate{
			Record: update.Clone(),
			Report: report,
			Env:    p.existingEnvs[envID],
		})

	case actionDeleteRecord:
		logger.Warn().Msg("Agent record is obsolete, deleting it")
		p.result.NeedDeleteAgentEnvIDs = append(p.result.NeedDeleteAgentEnvIDs, envID)
	}

	if update != nil {
		p.recordUpdate(envID, agent, update)
		if _, ok := p.result.NeedUpdateAgents[envID]; ok && report.ErrorMessage != "" {
			p.result.ErrorMessages[envID] = report.ErrorMessage
		}
	}
}

// translateRollbackAlias rewrites the report when the host runs the content a
// rollback deploy points back to, so the rest of the pass treats it as running
// the rollback deploy itself.
func (p *pass) translateRollbackAlias(env *types.Environment, report *types.PingReport, agent *types.AgentRecord) error {
	if env == nil || !env.HasDeploy() || env.DeployID == report.DeployID {
		return nil
	}
	if env.DeployType != types.DeployTypeRollback {
		return nil
	}
	if agent != nil && agent.State == types.AgentStateStop {
		return nil
	}
	if p.analyst.lookup == nil {
		return fmt.Errorf("no lookup to resolve deploy %s", env.DeployID)
	}

	deploy, err := p.analyst.lookup.GetDeploy(env.DeployID)
	if err != nil {
		return fmt.Errorf("failed to get deploy %s: %w", env.DeployID, err)
	}
	if deploy == nil {
		return fmt.Errorf("deploy not found: %s", env.DeployID)
	}

	if deploy.Alias != "" && deploy.Alias == report.DeployID {
		p.logger.Debug().
			Str("env_id", env.ID).
			Str("reported_deploy", report.DeployID).
			Str("deploy_id", env.DeployID).
			Msg("Reported deploy is the rollback alias")
		report.DeployID = env.DeployID
		report.DeployAlias = deploy.Alias
	}
	return nil
}

func (p *pass) addInstall(env *types.Environment, needWait bool, record *types.AgentRecord, report *types.PingReport, label string) {
	p.result.InstallCandidates = append(p.result.InstallCandidates, &InstallCandidate{
		Env:      env,
		NeedWait: needWait,
		Record:   record,
		Report:   report,
		Case:     label,
	})
}

func (p *pass) recordUpdate(envID string, agent, update *types.AgentRecord) {
	if !recordChanged(agent, update) {
		return
	}
	p.result.NeedUpdateAgents[envID] = update
}

// newInstallNeedsWait decides whether a fresh install has to wait for pacing.
// A host that reports or is recorded mid-pipeline is already deploying.
func (p *pass) newInstallNeedsWait(report *types.PingReport, agent *types.AgentRecord) bool {
	if report == nil {
		return agent == nil || agent.Stage == types.StageServingBuild
	}
	if report.Stage != types.StageServingBuild {
		return false
	}
	return agent == nil || agent.Stage == types.StageServingBuild
}

func nextFailCount(report *types.PingReport, agent *types.AgentRecord) int {
	next := 1
	if agent != nil {
		next = agent.FailCount + 1
	}
	if report.FailCount > next {
		return report.FailCount
	}
	return next
}
