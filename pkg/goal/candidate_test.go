package goal

import (
	"testing"

	"github.com/cuemby/deployd/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestInstallCandidatePriority(t *testing.T) {
	system := 5

	tests := []struct {
		name        string
		env         types.Environment
		firstDeploy bool
		want        int
	}{
		{
			name: "no deploy type",
			env:  types.Environment{Priority: types.PriorityHigher},
			want: types.PriorityNormal.Value(),
		},
		{
			name: "regular uses configured priority",
			env:  types.Environment{DeployType: types.DeployTypeRegular, Priority: types.PriorityLow},
			want: types.PriorityLow.Value(),
		},
		{
			name: "hotfix boost",
			env:  types.Environment{DeployType: types.DeployTypeHotfix, Priority: types.PriorityLow},
			want: types.HotfixPriorityValue,
		},
		{
			name: "rollback boost",
			env:  types.Environment{DeployType: types.DeployTypeRollback, Priority: types.PriorityLow},
			want: types.RollbackPriorityValue,
		},
		{
			name:        "first deploy ignores boost",
			env:         types.Environment{DeployType: types.DeployTypeHotfix, Priority: types.PriorityLow},
			firstDeploy: true,
			want:        types.PriorityLow.Value(),
		},
		{
			name:        "system priority wins",
			env:         types.Environment{DeployType: types.DeployTypeHotfix, Priority: types.PriorityLow, SystemPriority: &system},
			firstDeploy: true,
			want:        5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := tt.env
			c := &InstallCandidate{Env: &env, Record: &types.AgentRecord{FirstDeploy: tt.firstDeploy}}
			assert.Equal(t, tt.want, c.Priority())
		})
	}
}

func TestSortKeyLess(t *testing.T) {
	tests := []struct {
		name string
		a, b sortKey
		want bool
	}{
		{"stop before normal", sortKey{stop: true, priority: 50}, sortKey{priority: 10}, true},
		{"normal after stop", sortKey{priority: 10}, sortKey{stop: true, priority: 50}, false},
		{"stop higher value first", sortKey{stop: true, priority: 40}, sortKey{stop: true, priority: 20}, true},
		{"lower value first", sortKey{priority: 10}, sortKey{priority: 20}, true},
		{"no wait before wait", sortKey{priority: 30}, sortKey{priority: 30, needWait: true}, true},
		{"wait after no wait", sortKey{priority: 30, needWait: true}, sortKey{priority: 30}, false},
		{"equal keys", sortKey{priority: 30}, sortKey{priority: 30}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.less(tt.b))
		})
	}
}

func TestSortCandidatesStable(t *testing.T) {
	mk := func(id string, p types.DeployPriority, needWait bool) *InstallCandidate {
		return &InstallCandidate{
			Env:      &types.Environment{ID: id, DeployType: types.DeployTypeRegular, Priority: p},
			NeedWait: needWait,
			Record:   &types.AgentRecord{State: types.AgentStateNormal},
		}
	}

	candidates := []*InstallCandidate{
		mk("a", types.PriorityNormal, true),
		mk("b", types.PriorityNormal, false),
		mk("c", types.PriorityNormal, true),
		mk("d", types.PriorityHigh, true),
		mk("e", types.PriorityNormal, false),
	}

	sortCandidates(candidates)
	assert.Equal(t, []string{"d", "b", "e", "a", "c"}, candidateEnvIDs(candidates))
}
