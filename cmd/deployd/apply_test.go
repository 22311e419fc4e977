package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/deployd/pkg/config"
	"github.com/cuemby/deployd/pkg/lock"
	"github.com/cuemby/deployd/pkg/ping"
	"github.com/cuemby/deployd/pkg/storage"
	"github.com/cuemby/deployd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fleetFixture = `kind: Environment
metadata:
  name: env-1
spec:
  name: api
  stage: prod
  deployId: d1
  deployType: REGULAR
  maxParallel: 2
  systemPriority: 5
---
kind: Build
metadata:
  name: b1
spec:
  name: api
  branch: main
  artifactUrl: s3://builds/api/b1.tgz
  publishDate: "2026-01-02T09:00:00Z"
---
kind: Deploy
metadata:
  name: d1
spec:
  envId: env-1
  buildId: b1
  startDate: "2026-01-02T09:30:00Z"
---
kind: Host
metadata:
  name: h1
spec:
  ip: 10.0.0.1
  envIds: [env-1]
---
kind: PromotePolicy
metadata:
  name: env-1
spec:
  type: AUTO
  schedule: "0 0 10 * * ?"
  delay: 30
---
kind: Report
metadata:
  name: env-1
spec:
  deployId: d1
  stage: SERVING_BUILD
  status: SUCCEEDED
`

func writeFixture(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func newTestStore(t *testing.T) *storage.BoltStore {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestReadResources(t *testing.T) {
	resources, err := readResources(writeFixture(t, fleetFixture))
	require.NoError(t, err)
	require.Len(t, resources, 6)

	assert.Equal(t, "Environment", resources[0].Kind)
	assert.Equal(t, "env-1", resources[0].Metadata.Name)
	assert.Equal(t, "Report", resources[5].Kind)
}

func TestReadResourcesErrors(t *testing.T) {
	_, err := readResources(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = readResources(writeFixture(t, "kind: [unterminated"))
	assert.Error(t, err)
}

func TestApplyResources(t *testing.T) {
	store := newTestStore(t)

	resources, err := readResources(writeFixture(t, fleetFixture))
	require.NoError(t, err)

	reports, err := applyResources(store, resources, io.Discard)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "env-1", reports[0].EnvID)
	assert.Equal(t, types.StageServingBuild, reports[0].Stage)

	env, err := store.GetEnvironment("env-1")
	require.NoError(t, err)
	assert.Equal(t, "api", env.Name)
	assert.Equal(t, types.EnvStateNormal, env.State)
	assert.Equal(t, 2, env.MaxParallel)
	require.NotNil(t, env.SystemPriority)
	assert.Equal(t, 5, *env.SystemPriority)

	build, err := store.GetBuild("b1")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC), build.PublishDate.UTC())

	deploy, err := store.GetDeploy("d1")
	require.NoError(t, err)
	assert.Equal(t, types.DeployTypeRegular, deploy.Type)
	assert.Equal(t, types.DeployStateRunning, deploy.State)

	host, err := store.GetHost("h1")
	require.NoError(t, err)
	assert.Equal(t, "h1", host.Name)
	assert.True(t, host.BelongsTo("env-1"))

	policy, err := store.GetPromotePolicy("env-1")
	require.NoError(t, err)
	assert.Equal(t, types.PromoteTypeAuto, policy.Type)
	assert.Equal(t, types.BuildStage, policy.PredStage)
	assert.Equal(t, 30, policy.Delay)
	assert.Equal(t, 1, policy.QueueSize)
}

func TestApplyResourceErrors(t *testing.T) {
	store := newTestStore(t)

	tests := []struct {
		name     string
		resource *Resource
	}{
		{"unknown kind", &Resource{Kind: "Service", Metadata: ResourceMetadata{Name: "x"}}},
		{"environment without name", &Resource{Kind: "Environment"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := applyResources(store, []*Resource{tt.resource}, io.Discard)
			assert.Error(t, err)
		})
	}
}

func TestFixturePing(t *testing.T) {
	store := newTestStore(t)

	resources, err := readResources(writeFixture(t, fleetFixture))
	require.NoError(t, err)
	reports, err := applyResources(store, resources, io.Discard)
	require.NoError(t, err)

	h := ping.NewHandler(store, lock.NewLocalLocker(), config.Default().Ping)
	resp, err := h.Ping(context.Background(), &ping.Request{HostID: "h1", Reports: reports})
	require.NoError(t, err)
	assert.Equal(t, types.OpCodeNoop, resp.OpCode)

	agent, err := store.GetAgent("h1", "env-1")
	require.NoError(t, err)
	assert.Equal(t, types.StageServingBuild, agent.Stage)
}

func TestHelpers(t *testing.T) {
	spec := map[string]interface{}{
		"s":     "value",
		"n":     3,
		"f":     2.0,
		"b":     true,
		"list":  []interface{}{"a", 1},
		"when":  "2026-01-02T10:00:00Z",
		"bad":   "yesterday",
		"stamp": time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	assert.Equal(t, "value", getString(spec, "s", ""))
	assert.Equal(t, "d", getString(spec, "missing", "d"))
	assert.Equal(t, 3, getInt(spec, "n", 0))
	assert.Equal(t, 2, getInt(spec, "f", 0))
	assert.Equal(t, 7, getInt(spec, "s", 7))
	assert.Nil(t, getIntPtr(spec, "missing"))
	assert.Equal(t, 3, *getIntPtr(spec, "n"))
	assert.True(t, getBool(spec, "b", false))
	assert.True(t, getBool(spec, "missing", true))
	assert.Equal(t, []string{"a", "1"}, getStrings(spec, "list"))
	assert.Nil(t, getStrings(spec, "missing"))
	assert.Equal(t, 2026, getTime(spec, "when").Year())
	assert.True(t, getTime(spec, "bad").IsZero())
	assert.Equal(t, 2026, getTime(spec, "stamp").Year())
}
