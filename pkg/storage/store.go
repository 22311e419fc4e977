package storage

import (
	"errors"
	"time"

	"github.com/cuemby/deployd/pkg/types"
)

// ErrNotFound is wrapped by every lookup of a missing record
var ErrNotFound = errors.New("not found")

// Store defines the interface for deploy state storage
type Store interface {
	// Environments
	CreateEnvironment(env *types.Environment) error
	GetEnvironment(id string) (*types.Environment, error)
	GetEnvironmentByStage(name, stage string) (*types.Environment, error)
	ListEnvironments() ([]*types.Environment, error)
	UpdateEnvironment(env *types.Environment) error
	DeleteEnvironment(id string) error

	// Deploys
	CreateDeploy(deploy *types.Deploy) error
	GetDeploy(id string) (*types.Deploy, error)
	// ListDeploysByEnv returns deploys started in (after, before], oldest first
	ListDeploysByEnv(envID string, after, before time.Time, limit int) ([]*types.Deploy, error)
	UpdateDeploy(deploy *types.Deploy) error

	// Builds
	CreateBuild(build *types.Build) error
	GetBuild(id string) (*types.Build, error)
	// ListBuilds returns builds of name (and branch, when set) published in
	// (after, before], oldest first
	ListBuilds(name, branch string, after, before time.Time, limit int) ([]*types.Build, error)
	TagBuild(tag *types.BuildTag) error
	GetBuildTag(buildID string) (*types.BuildTag, error)

	// Hosts
	CreateHost(host *types.Host) error
	GetHost(id string) (*types.Host, error)
	ListHostsByEnv(envID string) ([]*types.Host, error)
	UpdateHost(host *types.Host) error

	// Agents, keyed by (host, environment)
	UpsertAgent(agent *types.AgentRecord) error
	GetAgent(hostID, envID string) (*types.AgentRecord, error)
	ListAgentsByHost(hostID string) ([]*types.AgentRecord, error)
	ListAgentsByEnv(envID string) ([]*types.AgentRecord, error)
	DeleteAgent(hostID, envID string) error

	// Promotion policies, keyed by environment id
	SavePromotePolicy(policy *types.PromotePolicy) error
	GetPromotePolicy(envID string) (*types.PromotePolicy, error)
	ListPromotePolicies() ([]*types.PromotePolicy, error)

	// Utility
	Close() error
}
