package ping

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/deployd/pkg/config"
	"github.com/cuemby/deployd/pkg/events"
	"github.com/cuemby/deployd/pkg/goal"
	"github.com/cuemby/deployd/pkg/lock"
	"github.com/cuemby/deployd/pkg/log"
	"github.com/cuemby/deployd/pkg/metrics"
	"github.com/cuemby/deployd/pkg/storage"
	"github.com/cuemby/deployd/pkg/types"
	"github.com/rs/zerolog"
)

// Request is what a host sends on every ping
type Request struct {
	HostID   string
	HostName string
	HostIP   string
	Reports  []*types.PingReport
}

// Goal is the instruction for one environment
type Goal struct {
	DeployID    string            `yaml:"deployId"`
	DeployAlias string            `yaml:"deployAlias,omitempty"`
	DeployType  types.DeployType  `yaml:"deployType,omitempty"`
	EnvID       string            `yaml:"envId"`
	EnvName     string            `yaml:"envName,omitempty"`
	StageName   string            `yaml:"stageName,omitempty"`
	Stage       types.DeployStage `yaml:"stage"`
	FirstDeploy bool              `yaml:"firstDeploy"`
	// Build is attached when the host is told to download
	Build *types.Build `yaml:"build,omitempty"`
}

// Response is the single instruction returned to a host
type Response struct {
	OpCode types.OpCode `yaml:"opCode"`
	Goal   *Goal        `yaml:"goal,omitempty"`
}

// Handler answers host pings
type Handler struct {
	store              storage.Store
	locker             lock.Locker
	broker             *events.Broker
	analyst            *goal.Analyst
	defaultMaxParallel int
	now                func() time.Time
	logger             zerolog.Logger
}

// Option configures a Handler
type Option func(*Handler)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

// WithBroker publishes agent events on b
func WithBroker(b *events.Broker) Option {
	return func(h *Handler) {
		h.broker = b
	}
}

// NewHandler creates a ping Handler
func NewHandler(store storage.Store, locker lock.Locker, cfg config.PingConfig, opts ...Option) *Handler {
	h := &Handler{
		store:              store,
		locker:             locker,
		defaultMaxParallel: cfg.DefaultMaxParallel,
		now:                time.Now,
		logger:             log.WithComponent("ping"),
	}
	if h.defaultMaxParallel <= 0 {
		h.defaultMaxParallel = 1
	}
	for _, opt := range opts {
		opt(h)
	}
	h.analyst = goal.NewAnalyst(store, goal.WithClock(h.now))
	return h
}

// Ping records what the host reported and returns what it should do next
func (h *Handler) Ping(ctx context.Context, req *Request) (*Response, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PingDuration)

	if req.HostID == "" {
		return nil, fmt.Errorf("ping without host id")
	}
	logger := h.logger.With().Str("host_id", req.HostID).Logger()

	host, err := h.touchHost(req)
	if err != nil {
		return nil, err
	}

	in, err := h.loadInput(host, req)
	if err != nil {
		return nil, err
	}

	analyzeTimer := metrics.NewTimer()
	res := h.analyst.Analyze(in)
	analyzeTimer.ObserveDuration(metrics.AnalyzeDuration)

	metrics.CandidatesTotal.WithLabelValues("install").Add(float64(len(res.InstallCandidates)))
	metrics.CandidatesTotal.WithLabelValues("uninstall").Add(float64(len(res.UninstallCandidates)))
	metrics.AnalyzeSkippedTotal.Add(float64(len(res.Skipped)))

	updates := make(map[string]*types.AgentRecord, len(res.NeedUpdateAgents))
	for envID, record := range res.NeedUpdateAgents {
		updates[envID] = record
	}

	resp, err := h.chooseInstall(ctx, host, res.InstallCandidates, updates)
	if err != nil {
		return nil, err
	}

	for _, envID := range res.NeedDeleteAgentEnvIDs {
		h.deleteAgent(host.ID, envID)
	}

	h.updateAgents(in.Agents, updates, res.ErrorMessages)

	if resp == nil && len(res.UninstallCandidates) > 0 {
		resp = deleteResponse(res.UninstallCandidates[0])
		ev := events.NewEvent(events.EventAgentUninstalling, resp.Goal.EnvID, "Host told to uninstall environment")
		ev.HostID = host.ID
		h.broker.Publish(ev)
	}
	if resp == nil {
		resp = &Response{OpCode: types.OpCodeNoop}
	}

	metrics.PingsTotal.WithLabelValues(string(resp.OpCode)).Inc()

	event := logger.Info().Str("opcode", string(resp.OpCode))
	if resp.Goal != nil {
		event = event.Str("env_id", resp.Goal.EnvID).
			Str("deploy_id", resp.Goal.DeployID).
			Str("stage", string(resp.Goal.Stage))
	}
	event.Msg("Answered ping")

	return resp, nil
}

// touchHost records the ping on the host, registering hosts seen for the first time
func (h *Handler) touchHost(req *Request) (*types.Host, error) {
	host, err := h.store.GetHost(req.HostID)
	if errors.Is(err, storage.ErrNotFound) {
		host = &types.Host{ID: req.HostID}
		h.logger.Info().Str("host_id", req.HostID).Str("host_name", req.HostName).Msg("Registering new host")
	} else if err != nil {
		return nil, fmt.Errorf("failed to get host: %w", err)
	}

	if req.HostName != "" {
		host.Name = req.HostName
	}
	if req.HostIP != "" {
		host.IP = req.HostIP
	}
	host.LastPing = h.now()

	if err := h.store.UpdateHost(host); err != nil {
		return nil, fmt.Errorf("failed to update host: %w", err)
	}
	return host, nil
}

// loadInput joins the host's environments, reports and agent records by environment id
func (h *Handler) loadInput(host *types.Host, req *Request) (goal.Input, error) {
	in := goal.Input{
		HostID:       host.ID,
		HostName:     host.Name,
		Environments: make(map[string]*types.Environment),
		Reports:      make(map[string]*types.PingReport),
		Agents:       make(map[string]*types.AgentRecord),
	}

	for _, envID := range host.EnvIDs {
		env, err := h.store.GetEnvironment(envID)
		if errors.Is(err, storage.ErrNotFound) {
			h.logger.Warn().Str("host_id", host.ID).Str("env_id", envID).Msg("Host belongs to an unknown environment")
			continue
		}
		if err != nil {
			return in, fmt.Errorf("failed to get environment %s: %w", envID, err)
		}
		in.Environments[envID] = env
	}

	for _, report := range req.Reports {
		if report == nil || report.EnvID == "" {
			continue
		}
		in.Reports[report.EnvID] = report
	}

	agents, err := h.store.ListAgentsByHost(host.ID)
	if err != nil {
		return in, fmt.Errorf("failed to list agents of host %s: %w", host.ID, err)
	}
	for _, agent := range agents {
		in.Agents[agent.EnvID] = agent
	}

	return in, nil
}

// chooseInstall walks the candidates most urgent first and returns the first
// one the host may run. The chosen record replaces the report-derived one.
func (h *Handler) chooseInstall(ctx context.Context, host *types.Host, candidates []*goal.InstallCandidate, updates map[string]*types.AgentRecord) (*Response, error) {
	logger := h.logger.With().Str("host_id", host.ID).Logger()

	for _, c := range candidates {
		if c.NeedWait {
			if !h.canDeploy(ctx, c.Env, c.Record) {
				if c.Record.FirstDeploy {
					logger.Debug().Str("env_id", c.Env.ID).Msg("Host has to wait for its first deploy")
					return nil, nil
				}
				logger.Debug().Str("env_id", c.Env.ID).Msg("Host has to wait, trying next environment")
				continue
			}
		}

		updates[c.Env.ID] = c.Record
		resp, err := h.installResponse(c)
		if err != nil {
			return nil, err
		}

		ev := events.NewEvent(events.EventAgentInstruction, c.Env.ID, c.Case)
		ev.HostID = host.ID
		ev.Metadata["opcode"] = string(resp.OpCode)
		ev.Metadata["stage"] = string(resp.Goal.Stage)
		h.broker.Publish(ev)
		return resp, nil
	}
	return nil, nil
}

func (h *Handler) installResponse(c *goal.InstallCandidate) (*Response, error) {
	env, record, report := c.Env, c.Record, c.Report

	resp := &Response{OpCode: env.DeployType.OpCode()}
	if record.State == types.AgentStateStop && record.Stage == types.StageStopping {
		resp.OpCode = types.OpCodeStop
	}

	g := &Goal{
		DeployID:    env.DeployID,
		DeployType:  env.DeployType,
		EnvID:       env.ID,
		EnvName:     env.Name,
		StageName:   env.Stage,
		Stage:       record.Stage,
		FirstDeploy: record.FirstDeploy,
	}
	// The host knows the rollback by the deploy it re-installs
	if report != nil && report.DeployAlias != "" {
		g.DeployID = report.DeployAlias
		g.DeployAlias = env.DeployID
	}

	if record.Stage == types.StageDownloading {
		build, err := h.buildOf(g.DeployID)
		if err != nil {
			return nil, err
		}
		g.Build = build
	}

	resp.Goal = g
	return resp, nil
}

func (h *Handler) buildOf(deployID string) (*types.Build, error) {
	deploy, err := h.store.GetDeploy(deployID)
	if err != nil {
		return nil, fmt.Errorf("failed to get deploy %s: %w", deployID, err)
	}
	build, err := h.store.GetBuild(deploy.BuildID)
	if err != nil {
		return nil, fmt.Errorf("failed to get build %s: %w", deploy.BuildID, err)
	}
	return build, nil
}

func deleteResponse(c *goal.UninstallCandidate) *Response {
	g := &Goal{}
	if c.Report != nil {
		g.EnvID = c.Report.EnvID
		g.DeployID = c.Report.DeployID
		g.Stage = c.Report.Stage
	}
	if c.Env != nil {
		g.DeployType = c.Env.DeployType
		g.EnvName = c.Env.Name
		g.StageName = c.Env.Stage
	}
	return &Response{OpCode: types.OpCodeDelete, Goal: g}
}

func (h *Handler) deleteAgent(hostID, envID string) {
	if err := h.store.DeleteAgent(hostID, envID); err != nil {
		h.logger.Error().Err(err).Str("host_id", hostID).Str("env_id", envID).Msg("Failed to delete agent record")
		return
	}
	h.logger.Info().Str("host_id", hostID).Str("env_id", envID).Msg("Deleted agent record")

	ev := events.NewEvent(events.EventAgentDeleted, envID, "Agent record deleted")
	ev.HostID = hostID
	h.broker.Publish(ev)
}

// updateAgents persists records one by one; a failed write is logged and the
// rest still go through.
func (h *Handler) updateAgents(previous, updates map[string]*types.AgentRecord, errorMessages map[string]string) {
	for envID, record := range updates {
		logger := h.logger.With().Str("host_id", record.HostID).Str("env_id", envID).Logger()

		if err := h.store.UpsertAgent(record); err != nil {
			logger.Error().Err(err).Msg("Failed to update agent record")
			continue
		}

		if record.LastErrNo != 0 {
			logger.Warn().
				Int("error_code", record.LastErrNo).
				Str("error", errorMessages[envID]).
				Msg("Agent reported an error")
		}

		prev := previous[envID]
		if record.State == types.AgentStatePausedBySystem && (prev == nil || prev.State != types.AgentStatePausedBySystem) {
			logger.Warn().Str("stage", string(record.Stage)).Msg("Agent paused by system")
			ev := events.NewEvent(events.EventAgentPaused, envID, errorMessages[envID])
			ev.HostID = record.HostID
			ev.Metadata["stage"] = string(record.Stage)
			h.broker.Publish(ev)
		}
	}
}
