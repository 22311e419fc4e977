package promoter

import (
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/deployd/pkg/log"
	"github.com/cuemby/deployd/pkg/storage"
	"github.com/cuemby/deployd/pkg/types"
	"github.com/rs/zerolog"
)

// Source is the read side of storage a promotion evaluation needs
type Source interface {
	GetEnvironmentByStage(name, stage string) (*types.Environment, error)
	GetDeploy(id string) (*types.Deploy, error)
	ListBuilds(name, branch string, after, before time.Time, limit int) ([]*types.Build, error)
	ListDeploysByEnv(envID string, after, before time.Time, limit int) ([]*types.Deploy, error)
	GetBuildTag(buildID string) (*types.BuildTag, error)
}

// Defaults for Evaluator
const (
	DefaultBufferWindow  = 5 * time.Minute
	DefaultMaxCandidates = 100
)

// Evaluator decides what an environment should be promoted to. It never writes.
type Evaluator struct {
	source        Source
	now           func() time.Time
	buffer        time.Duration
	maxCandidates int
	logger        zerolog.Logger
}

// EvaluatorOption configures an Evaluator
type EvaluatorOption func(*Evaluator)

// WithClock replaces time.Now
func WithClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) {
		e.now = now
	}
}

// WithBufferWindow sets how long after a cron fire promotion stays allowed
func WithBufferWindow(d time.Duration) EvaluatorOption {
	return func(e *Evaluator) {
		if d > 0 {
			e.buffer = d
		}
	}
}

// WithMaxCandidates caps how many builds or deploys one evaluation reads
func WithMaxCandidates(n int) EvaluatorOption {
	return func(e *Evaluator) {
		if n > 0 {
			e.maxCandidates = n
		}
	}
}

// NewEvaluator creates an Evaluator reading from source
func NewEvaluator(source Source, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		source:        source,
		now:           time.Now,
		buffer:        DefaultBufferWindow,
		maxCandidates: DefaultMaxCandidates,
		logger:        log.WithComponent("promoter"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// endTime is the newest publish or start time a candidate may have
func endTime(now time.Time, policy *types.PromotePolicy) time.Time {
	if policy.Delay > 0 {
		return now.Add(-time.Duration(policy.Delay) * time.Minute)
	}
	return now
}

func queueSize(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// ComputePromoteBuildResult decides whether env should move to a newer
// build. current is env's current deploy, nil when it has none.
func (e *Evaluator) ComputePromoteBuildResult(env *types.Environment, current *types.Deploy, size int, policy *types.PromotePolicy) (*Result, error) {
	now := e.now()
	size = queueSize(size)

	// Only builds published after the current deploy started are considered
	var start time.Time
	if current != nil {
		start = current.StartDate
	}

	end := endTime(now, policy)
	if end.Before(start) {
		return resultOf(ResultNoAvailableBuild), nil
	}

	builds, err := e.source.ListBuilds(env.BuildName, env.Branch, start, end, e.maxCandidates)
	if err != nil {
		return nil, fmt.Errorf("failed to list builds of %s: %w", env.BuildName, err)
	}

	candidates := make([]*types.Build, 0, len(builds))
	for _, b := range builds {
		bad, err := e.isBadBuild(b.ID)
		if err != nil {
			return nil, err
		}
		if bad {
			e.logger.Debug().Str("env_id", env.ID).Str("build_id", b.ID).Msg("Skipping bad build")
			continue
		}
		candidates = append(candidates, b)
	}

	if len(candidates) < size {
		return resultOf(ResultNoAvailableBuild), nil
	}

	if policy.Schedule == "" {
		return &Result{Code: ResultPromoteBuild, BuildID: candidates[0].ID}, nil
	}

	times := make([]time.Time, len(candidates))
	for i, b := range candidates {
		times[i] = b.PublishDate
	}
	idx, code, err := e.scheduledCandidate(env, policy, now, times)
	if err != nil {
		return nil, err
	}
	switch {
	case code != "":
		return resultOf(code), nil
	case idx < 0:
		return resultOf(ResultNoAvailableBuild), nil
	}
	return &Result{Code: ResultPromoteBuild, BuildID: candidates[idx].ID}, nil
}

// ComputePromoteDeployResult decides whether env should adopt a deploy of
// its predecessor environment.
func (e *Evaluator) ComputePromoteDeployResult(env *types.Environment, current *types.Deploy, size int, policy *types.PromotePolicy) (*Result, error) {
	now := e.now()
	size = queueSize(size)

	pred, err := e.source.GetEnvironmentByStage(env.Name, policy.PredStage)
	if errors.Is(err, storage.ErrNotFound) {
		e.logger.Warn().Str("env_id", env.ID).Str("pred_stage", policy.PredStage).Msg("Predecessor environment does not exist")
		return resultOf(ResultNoPredEnvironment), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get predecessor %s/%s: %w", env.Name, policy.PredStage, err)
	}
	if !pred.HasDeploy() {
		return resultOf(ResultNoPredEnvironmentDeploy), nil
	}

	start, err := e.currentDeployStart(current, pred)
	if err != nil {
		return nil, err
	}

	end := endTime(now, policy)
	if end.Before(start) {
		return resultOf(ResultNoCandidateWithinDelayPeriod), nil
	}

	deploys, err := e.source.ListDeploysByEnv(pred.ID, start, end, e.maxCandidates)
	if err != nil {
		return nil, fmt.Errorf("failed to list deploys of %s: %w", pred.ID, err)
	}

	candidates := make([]*types.Deploy, 0, len(deploys))
	for _, d := range deploys {
		if d.AcceptanceStatus != types.AcceptanceAccepted {
			continue
		}
		bad, err := e.isBadBuild(d.BuildID)
		if err != nil {
			return nil, err
		}
		if bad {
			continue
		}
		candidates = append(candidates, d)
	}

	if len(candidates) < size {
		return resultOf(ResultNoCandidateWithinDelayPeriod), nil
	}

	pick := candidates[0]
	if policy.Schedule != "" {
		times := make([]time.Time, len(candidates))
		for i, d := range candidates {
			times[i] = d.StartDate
		}
		idx, code, err := e.scheduledCandidate(env, policy, now, times)
		if err != nil {
			return nil, err
		}
		switch {
		case code != "":
			return resultOf(code), nil
		case idx < 0:
			return resultOf(ResultNoRegularDeployWithinDelayPeriod), nil
		}
		pick = candidates[idx]
	}

	return &Result{Code: ResultPromoteDeploy, BuildID: pick.BuildID, PredDeploy: pick}, nil
}

// currentDeployStart is the time after which predecessor deploys are new.
// When the current deploy was promoted from the predecessor, that is the
// start of the source deploy, otherwise the start of the current deploy.
func (e *Evaluator) currentDeployStart(current *types.Deploy, pred *types.Environment) (time.Time, error) {
	if current == nil {
		return time.Time{}, nil
	}
	if current.FromDeploy == "" {
		return current.StartDate, nil
	}

	from, err := e.source.GetDeploy(current.FromDeploy)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get source deploy %s: %w", current.FromDeploy, err)
	}
	if from.EnvID != pred.ID {
		e.logger.Info().
			Str("deploy_id", current.ID).
			Str("from_env", from.EnvID).
			Msg("Current deploy was not promoted from the predecessor, using its own start date")
		return current.StartDate, nil
	}
	return from.StartDate, nil
}

// scheduledCandidate applies the cron schedule to candidate times sorted
// oldest first. It returns a non-empty code when now is outside the
// promotion window, otherwise the index of the oldest candidate that was due
// at the last fire time, or -1.
func (e *Evaluator) scheduledCandidate(env *types.Environment, policy *types.PromotePolicy, now time.Time, times []time.Time) (int, ResultCode, error) {
	sched, err := ParseSchedule(policy.Schedule)
	if err != nil {
		return -1, "", err
	}

	fire, inWindow := sched.Window(now, e.buffer)
	if !inWindow {
		e.logger.Debug().
			Str("env_id", env.ID).
			Str("schedule", policy.Schedule).
			Time("last_fire", fire).
			Msg("Outside of the promotion window")
		return -1, ResultNotInScheduledTime, nil
	}

	delay := time.Duration(policy.Delay) * time.Minute
	for i, t := range times {
		if !t.Add(delay).After(fire) {
			return i, "", nil
		}
	}
	return -1, "", nil
}

func (e *Evaluator) isBadBuild(buildID string) (bool, error) {
	if buildID == "" {
		return false, nil
	}
	tag, err := e.source.GetBuildTag(buildID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get tag of build %s: %w", buildID, err)
	}
	return tag.Value == types.TagBadBuild, nil
}
