package promoter

import (
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/cuemby/deployd/pkg/storage"
	"github.com/cuemby/deployd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSource is an in-memory Source
type memSource struct {
	envs    map[string]*types.Environment
	deploys map[string]*types.Deploy
	builds  map[string]*types.Build
	tags    map[string]*types.BuildTag
	listErr error
}

func newMemSource() *memSource {
	return &memSource{
		envs:    make(map[string]*types.Environment),
		deploys: make(map[string]*types.Deploy),
		builds:  make(map[string]*types.Build),
		tags:    make(map[string]*types.BuildTag),
	}
}

func (m *memSource) GetEnvironmentByStage(name, stage string) (*types.Environment, error) {
	for _, e := range m.envs {
		if e.Name == name && e.Stage == stage {
			return e, nil
		}
	}
	return nil, fmt.Errorf("environment %w: %s/%s", storage.ErrNotFound, name, stage)
}

func (m *memSource) GetDeploy(id string) (*types.Deploy, error) {
	if d, ok := m.deploys[id]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("deploy %w: %s", storage.ErrNotFound, id)
}

func (m *memSource) ListBuilds(name, branch string, after, before time.Time, limit int) ([]*types.Build, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*types.Build
	for _, b := range m.builds {
		if b.Name == name && (branch == "" || b.Branch == branch) &&
			b.PublishDate.After(after) && !b.PublishDate.After(before) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublishDate.Before(out[j].PublishDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memSource) ListDeploysByEnv(envID string, after, before time.Time, limit int) ([]*types.Deploy, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*types.Deploy
	for _, d := range m.deploys {
		if d.EnvID == envID && d.StartDate.After(after) && !d.StartDate.After(before) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memSource) GetBuildTag(buildID string) (*types.BuildTag, error) {
	if t, ok := m.tags[buildID]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("build tag %w: %s", storage.ErrNotFound, buildID)
}

func (m *memSource) addBuild(id string, published time.Time) *types.Build {
	b := &types.Build{ID: id, Name: "api", Branch: "main", PublishDate: published}
	m.builds[id] = b
	return b
}

func (m *memSource) addDeploy(id, envID, buildID string, started time.Time, status types.AcceptanceStatus) *types.Deploy {
	d := &types.Deploy{
		ID:               id,
		EnvID:            envID,
		BuildID:          buildID,
		Type:             types.DeployTypeRegular,
		State:            types.DeployStateSucceeded,
		AcceptanceStatus: status,
		StartDate:        started,
	}
	m.deploys[id] = d
	return d
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func buildEnv() *types.Environment {
	return &types.Environment{ID: "env-prod", Name: "api", Stage: "prod", BuildName: "api", Branch: "main", State: types.EnvStateNormal}
}

func buildPolicy() *types.PromotePolicy {
	return &types.PromotePolicy{EnvID: "env-prod", Type: types.PromoteTypeAuto, PredStage: types.BuildStage, QueueSize: 1}
}

var evalNow = time.Date(2022, 7, 4, 12, 0, 0, 0, time.UTC)

func TestPromoteBuildNoBuild(t *testing.T) {
	src := newMemSource()
	e := NewEvaluator(src, WithClock(fixedClock(evalNow)))

	res, err := e.ComputePromoteBuildResult(buildEnv(), nil, 1, buildPolicy())
	require.NoError(t, err)
	assert.Equal(t, ResultNoAvailableBuild, res.Code)
	assert.False(t, res.Promotes())
}

func TestPromoteBuildOneBuild(t *testing.T) {
	src := newMemSource()
	src.addBuild("b1", evalNow.Add(-time.Hour))
	e := NewEvaluator(src, WithClock(fixedClock(evalNow)))

	res, err := e.ComputePromoteBuildResult(buildEnv(), nil, 1, buildPolicy())
	require.NoError(t, err)
	assert.Equal(t, ResultPromoteBuild, res.Code)
	assert.Equal(t, "b1", res.BuildID)
	assert.Nil(t, res.PredDeploy)
}

func TestPromoteBuildSkipsBadBuild(t *testing.T) {
	src := newMemSource()
	src.addBuild("bad", evalNow.Add(-2*time.Hour))
	src.addBuild("good", evalNow.Add(-time.Hour))
	src.tags["bad"] = &types.BuildTag{BuildID: "bad", Value: types.TagBadBuild}
	e := NewEvaluator(src, WithClock(fixedClock(evalNow)))

	res, err := e.ComputePromoteBuildResult(buildEnv(), nil, 1, buildPolicy())
	require.NoError(t, err)
	assert.Equal(t, ResultPromoteBuild, res.Code)
	assert.Equal(t, "good", res.BuildID)
}

func TestPromoteBuildGoodTagIsNotBad(t *testing.T) {
	src := newMemSource()
	src.addBuild("b1", evalNow.Add(-time.Hour))
	src.tags["b1"] = &types.BuildTag{BuildID: "b1", Value: types.TagGoodBuild}
	e := NewEvaluator(src, WithClock(fixedClock(evalNow)))

	res, err := e.ComputePromoteBuildResult(buildEnv(), nil, 1, buildPolicy())
	require.NoError(t, err)
	assert.Equal(t, "b1", res.BuildID)
}

func TestPromoteBuildOnlyNewerThanCurrent(t *testing.T) {
	src := newMemSource()
	src.addBuild("old", evalNow.Add(-3*time.Hour))
	src.addBuild("current", evalNow.Add(-2*time.Hour))
	current := src.addDeploy("d1", "env-prod", "current", evalNow.Add(-2*time.Hour), types.AcceptanceAccepted)
	e := NewEvaluator(src, WithClock(fixedClock(evalNow)))

	res, err := e.ComputePromoteBuildResult(buildEnv(), current, 1, buildPolicy())
	require.NoError(t, err)
	assert.Equal(t, ResultNoAvailableBuild, res.Code)

	src.addBuild("new", evalNow.Add(-time.Hour))
	res, err = e.ComputePromoteBuildResult(buildEnv(), current, 1, buildPolicy())
	require.NoError(t, err)
	assert.Equal(t, ResultPromoteBuild, res.Code)
	assert.Equal(t, "new", res.BuildID)
}

func TestPromoteBuildAfterCurrentDeployStart(t *testing.T) {
	src := newMemSource()
	src.addBuild("deployed", evalNow.Add(-5*time.Hour))
	src.addBuild("skipped", evalNow.Add(-3*time.Hour))
	current := src.addDeploy("d1", "env-prod", "deployed", evalNow.Add(-time.Hour), types.AcceptanceAccepted)
	e := NewEvaluator(src, WithClock(fixedClock(evalNow)))

	// Newer than the deployed build, but published before the deploy started
	res, err := e.ComputePromoteBuildResult(buildEnv(), current, 1, buildPolicy())
	require.NoError(t, err)
	assert.Equal(t, ResultNoAvailableBuild, res.Code)

	src.addBuild("next", evalNow.Add(-30*time.Minute))
	res, err = e.ComputePromoteBuildResult(buildEnv(), current, 1, buildPolicy())
	require.NoError(t, err)
	assert.Equal(t, ResultPromoteBuild, res.Code)
	assert.Equal(t, "next", res.BuildID)
}

func TestPromoteBuildPicksOldest(t *testing.T) {
	src := newMemSource()
	src.addBuild("b2", evalNow.Add(-time.Hour))
	src.addBuild("b1", evalNow.Add(-2*time.Hour))
	src.addBuild("b3", evalNow.Add(-30*time.Minute))
	e := NewEvaluator(src, WithClock(fixedClock(evalNow)))

	res, err := e.ComputePromoteBuildResult(buildEnv(), nil, 1, buildPolicy())
	require.NoError(t, err)
	assert.Equal(t, "b1", res.BuildID)
}

func TestPromoteBuildQueueSize(t *testing.T) {
	src := newMemSource()
	src.addBuild("b1", evalNow.Add(-2*time.Hour))
	src.addBuild("b2", evalNow.Add(-time.Hour))
	e := NewEvaluator(src, WithClock(fixedClock(evalNow)))

	res, err := e.ComputePromoteBuildResult(buildEnv(), nil, 3, buildPolicy())
	require.NoError(t, err)
	assert.Equal(t, ResultNoAvailableBuild, res.Code)

	src.addBuild("b3", evalNow.Add(-30*time.Minute))
	res, err = e.ComputePromoteBuildResult(buildEnv(), nil, 3, buildPolicy())
	require.NoError(t, err)
	assert.Equal(t, ResultPromoteBuild, res.Code)
	assert.Equal(t, "b1", res.BuildID)

	// Zero means one
	res, err = e.ComputePromoteBuildResult(buildEnv(), nil, 0, buildPolicy())
	require.NoError(t, err)
	assert.Equal(t, ResultPromoteBuild, res.Code)
}

func TestPromoteBuildDelay(t *testing.T) {
	src := newMemSource()
	src.addBuild("b1", evalNow.Add(-6*time.Minute))
	e := NewEvaluator(src, WithClock(fixedClock(evalNow)))
	policy := buildPolicy()
	policy.Delay = 10

	res, err := e.ComputePromoteBuildResult(buildEnv(), nil, 1, policy)
	require.NoError(t, err)
	assert.Equal(t, ResultNoAvailableBuild, res.Code)

	src.addBuild("b0", evalNow.Add(-11*time.Minute))
	res, err = e.ComputePromoteBuildResult(buildEnv(), nil, 1, policy)
	require.NoError(t, err)
	assert.Equal(t, "b0", res.BuildID)
}

func TestPromoteBuildBufferWindow(t *testing.T) {
	day := time.Date(2022, 7, 4, 0, 0, 0, 0, time.UTC)
	src := newMemSource()
	src.addBuild("b1", day.Add(9*time.Hour))

	policy := buildPolicy()
	policy.Schedule = "0 0 10 * * ?"

	tests := []struct {
		name string
		now  time.Time
		want ResultCode
	}{
		{"after build, before fire", day.Add(9*time.Hour + time.Minute), ResultNotInScheduledTime},
		{"just before fire", day.Add(10*time.Hour - time.Millisecond), ResultNotInScheduledTime},
		{"at fire", day.Add(10 * time.Hour), ResultPromoteBuild},
		{"end of buffer", day.Add(10*time.Hour + time.Minute - time.Millisecond), ResultPromoteBuild},
		{"after buffer", day.Add(10*time.Hour + time.Minute), ResultNotInScheduledTime},
		{"next day", day.Add(34 * time.Hour), ResultPromoteBuild},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEvaluator(src, WithClock(fixedClock(tt.now)), WithBufferWindow(time.Minute))
			res, err := e.ComputePromoteBuildResult(buildEnv(), nil, 1, policy)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Code)
			if tt.want == ResultPromoteBuild {
				assert.Equal(t, "b1", res.BuildID)
			}
		})
	}
}

func TestPromoteBuildScheduledNeedsBuildBeforeFire(t *testing.T) {
	day := time.Date(2022, 7, 4, 0, 0, 0, 0, time.UTC)
	src := newMemSource()
	// Published after the 10:00 fire, inside the window
	src.addBuild("late", day.Add(10*time.Hour+10*time.Second))

	policy := buildPolicy()
	policy.Schedule = "0 0 10 * * ?"
	e := NewEvaluator(src, WithClock(fixedClock(day.Add(10*time.Hour+30*time.Second))), WithBufferWindow(time.Minute))

	res, err := e.ComputePromoteBuildResult(buildEnv(), nil, 1, policy)
	require.NoError(t, err)
	assert.Equal(t, ResultNoAvailableBuild, res.Code)
}

func TestPromoteBuildInvalidSchedule(t *testing.T) {
	src := newMemSource()
	src.addBuild("b1", evalNow.Add(-time.Hour))
	policy := buildPolicy()
	policy.Schedule = "whenever"
	e := NewEvaluator(src, WithClock(fixedClock(evalNow)))

	_, err := e.ComputePromoteBuildResult(buildEnv(), nil, 1, policy)
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}

func TestPromoteBuildListError(t *testing.T) {
	src := newMemSource()
	src.listErr = errors.New("disk on fire")
	e := NewEvaluator(src, WithClock(fixedClock(evalNow)))

	_, err := e.ComputePromoteBuildResult(buildEnv(), nil, 1, buildPolicy())
	assert.ErrorContains(t, err, "disk on fire")
}

func deployPolicy() *types.PromotePolicy {
	return &types.PromotePolicy{EnvID: "env-prod", Type: types.PromoteTypeAuto, PredStage: "beta", QueueSize: 1}
}

func withPred(src *memSource) *types.Environment {
	pred := &types.Environment{ID: "env-beta", Name: "api", Stage: "beta", State: types.EnvStateNormal}
	src.envs[pred.ID] = pred
	return pred
}

func TestPromoteDeployNoPredEnvironment(t *testing.T) {
	src := newMemSource()
	e := NewEvaluator(src, WithClock(fixedClock(evalNow)))

	res, err := e.ComputePromoteDeployResult(buildEnv(), nil, 1, deployPolicy())
	require.NoError(t, err)
	assert.Equal(t, ResultNoPredEnvironment, res.Code)
}

func TestPromoteDeployNoPredDeploy(t *testing.T) {
	src := newMemSource()
	withPred(src)
	e := NewEvaluator(src, WithClock(fixedClock(evalNow)))

	res, err := e.ComputePromoteDeployResult(buildEnv(), nil, 1, deployPolicy())
	require.NoError(t, err)
	assert.Equal(t, ResultNoPredEnvironmentDeploy, res.Code)
}

func TestPromoteDeployDelay(t *testing.T) {
	src := newMemSource()
	pred := withPred(src)
	src.addDeploy("p1", pred.ID, "b1", evalNow.Add(-6*time.Minute), types.AcceptanceAccepted)
	pred.DeployID = "p1"

	policy := deployPolicy()
	policy.Delay = 10
	e := NewEvaluator(src, WithClock(fixedClock(evalNow)))

	res, err := e.ComputePromoteDeployResult(buildEnv(), nil, 1, policy)
	require.NoError(t, err)
	assert.Equal(t, ResultNoCandidateWithinDelayPeriod, res.Code)

	src.deploys["p1"].StartDate = evalNow.Add(-11 * time.Minute)
	res, err = e.ComputePromoteDeployResult(buildEnv(), nil, 1, policy)
	require.NoError(t, err)
	assert.Equal(t, ResultPromoteDeploy, res.Code)
	assert.Equal(t, "b1", res.BuildID)
	require.NotNil(t, res.PredDeploy)
	assert.Equal(t, "p1", res.PredDeploy.ID)
}

func TestPromoteDeployOnlyAcceptedGoodDeploys(t *testing.T) {
	src := newMemSource()
	pred := withPred(src)
	src.addDeploy("p1", pred.ID, "b1", evalNow.Add(-4*time.Hour), types.AcceptanceRejected)
	src.addDeploy("p2", pred.ID, "b2", evalNow.Add(-3*time.Hour), types.AcceptanceAccepted)
	src.addDeploy("p3", pred.ID, "b3", evalNow.Add(-2*time.Hour), types.AcceptanceAccepted)
	src.addDeploy("p4", pred.ID, "b4", evalNow.Add(-time.Hour), types.AcceptancePendingAccept)
	src.tags["b2"] = &types.BuildTag{BuildID: "b2", Value: types.TagBadBuild}
	pred.DeployID = "p4"
	e := NewEvaluator(src, WithClock(fixedClock(evalNow)))

	res, err := e.ComputePromoteDeployResult(buildEnv(), nil, 1, deployPolicy())
	require.NoError(t, err)
	assert.Equal(t, ResultPromoteDeploy, res.Code)
	assert.Equal(t, "p3", res.PredDeploy.ID)
}

func TestPromoteDeploySinceSourceDeploy(t *testing.T) {
	src := newMemSource()
	pred := withPred(src)
	src.addDeploy("p1", pred.ID, "b1", evalNow.Add(-3*time.Hour), types.AcceptanceAccepted)
	pred.DeployID = "p1"

	// prod was promoted from p1 an hour later
	current := src.addDeploy("d1", "env-prod", "b1", evalNow.Add(-2*time.Hour), types.AcceptanceAccepted)
	current.FromDeploy = "p1"
	e := NewEvaluator(src, WithClock(fixedClock(evalNow)))

	res, err := e.ComputePromoteDeployResult(buildEnv(), current, 1, deployPolicy())
	require.NoError(t, err)
	assert.Equal(t, ResultNoCandidateWithinDelayPeriod, res.Code)

	// A newer beta deploy started before prod's own deploy still qualifies
	src.addDeploy("p2", pred.ID, "b2", evalNow.Add(-150*time.Minute), types.AcceptanceAccepted)
	pred.DeployID = "p2"
	res, err = e.ComputePromoteDeployResult(buildEnv(), current, 1, deployPolicy())
	require.NoError(t, err)
	assert.Equal(t, ResultPromoteDeploy, res.Code)
	assert.Equal(t, "p2", res.PredDeploy.ID)
}

func TestPromoteDeployCurrentFromOtherEnv(t *testing.T) {
	src := newMemSource()
	pred := withPred(src)
	src.addDeploy("x1", "env-other", "b0", evalNow.Add(-5*time.Hour), types.AcceptanceAccepted)
	src.addDeploy("p1", pred.ID, "b1", evalNow.Add(-150*time.Minute), types.AcceptanceAccepted)
	pred.DeployID = "p1"

	current := src.addDeploy("d1", "env-prod", "b0", evalNow.Add(-2*time.Hour), types.AcceptanceAccepted)
	current.FromDeploy = "x1"
	e := NewEvaluator(src, WithClock(fixedClock(evalNow)))

	// Falls back to the current deploy's own start, which is after p1
	res, err := e.ComputePromoteDeployResult(buildEnv(), current, 1, deployPolicy())
	require.NoError(t, err)
	assert.Equal(t, ResultNoCandidateWithinDelayPeriod, res.Code)
}

func TestPromoteDeployScheduled(t *testing.T) {
	day := time.Date(2022, 7, 4, 0, 0, 0, 0, time.UTC)
	src := newMemSource()
	pred := withPred(src)
	src.addDeploy("late", pred.ID, "b2", day.Add(10*time.Hour+10*time.Second), types.AcceptanceAccepted)
	pred.DeployID = "late"

	policy := deployPolicy()
	policy.Schedule = "0 0 10 * * ?"
	e := NewEvaluator(src, WithClock(fixedClock(day.Add(10*time.Hour+30*time.Second))), WithBufferWindow(time.Minute))

	res, err := e.ComputePromoteDeployResult(buildEnv(), nil, 1, policy)
	require.NoError(t, err)
	assert.Equal(t, ResultNoRegularDeployWithinDelayPeriod, res.Code)

	src.addDeploy("early", pred.ID, "b1", day.Add(9*time.Hour), types.AcceptanceAccepted)
	res, err = e.ComputePromoteDeployResult(buildEnv(), nil, 1, policy)
	require.NoError(t, err)
	assert.Equal(t, ResultPromoteDeploy, res.Code)
	assert.Equal(t, "early", res.PredDeploy.ID)

	e = NewEvaluator(src, WithClock(fixedClock(day.Add(11*time.Hour))), WithBufferWindow(time.Minute))
	res, err = e.ComputePromoteDeployResult(buildEnv(), nil, 1, policy)
	require.NoError(t, err)
	assert.Equal(t, ResultNotInScheduledTime, res.Code)
}
