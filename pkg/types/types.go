package types

import (
	"time"
)

// Environment is one deployable stage of a service (for example "api/prod")
type Environment struct {
	ID         string
	Name       string // Service identity shared by all stages
	Stage      string
	DeployID   string // Empty until the first deploy
	DeployType DeployType
	State      EnvState
	Priority   DeployPriority

	// SystemPriority overrides every other priority rule when set
	SystemPriority *int

	// Pacing
	MaxParallel    int // Absolute number of hosts deploying at once (0 = unset)
	MaxParallelPct int // Percentage of hosts deploying at once (0 = unset)
	StuckThreshold int // Seconds before a stage is considered stuck
	SuccessRatio   int // Percentage of hosts that must succeed

	// Build selection for auto promotion
	BuildName string
	Branch    string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasDeploy reports whether the environment points at a deploy
func (e *Environment) HasDeploy() bool {
	return e.DeployID != ""
}

// Deploy is one rollout of a build to an environment
type Deploy struct {
	ID               string
	EnvID            string
	BuildID          string
	Type             DeployType
	State            DeployState
	AcceptanceStatus AcceptanceStatus
	FromDeploy       string // Deploy this one was promoted or rolled back from
	Alias            string // Deploy id whose content this deploy re-installs
	Description      string
	Operator         string
	StartDate        time.Time
	LastUpdate       time.Time
}

// Build is an immutable published artifact
type Build struct {
	ID          string
	Name        string
	ArtifactURL string
	Branch      string
	Commit      string
	CommitDate  time.Time
	PublishDate time.Time
}

// BuildTag marks a build, currently only as good or bad
type BuildTag struct {
	BuildID   string
	Value     TagValue
	Comment   string
	CreatedAt time.Time
}

// TagValue is the verdict carried by a build tag
type TagValue string

const (
	TagBadBuild  TagValue = "BAD_BUILD"
	TagGoodBuild TagValue = "GOOD_BUILD"
)

// AgentRecord is the control plane's last known state for one (host, environment) pair
type AgentRecord struct {
	HostID          string
	HostName        string
	EnvID           string
	DeployID        string
	Stage           DeployStage
	State           AgentState
	Status          AgentStatus
	LastErrNo       int
	FailCount       int
	FirstDeploy     bool
	FirstDeployTime time.Time // Zero until the first deploy reaches SERVING_BUILD
	StartDate       time.Time
	StageStartDate  time.Time
	LastUpdate      time.Time
	LastOperator    string
}

// Key returns the storage key of the record
func (a *AgentRecord) Key() string {
	return AgentKey(a.HostID, a.EnvID)
}

// AgentKey builds the (host, environment) key used to address agent records
func AgentKey(hostID, envID string) string {
	return hostID + "/" + envID
}

// Clone returns a copy of the record
func (a *AgentRecord) Clone() *AgentRecord {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// Host is a machine running the deploy agent
type Host struct {
	ID       string
	Name     string
	IP       string
	EnvIDs   []string // Environments the host belongs to
	LastPing time.Time
}

// BelongsTo reports whether the host is a member of envID
func (h *Host) BelongsTo(envID string) bool {
	for _, id := range h.EnvIDs {
		if id == envID {
			return true
		}
	}
	return false
}

// PingReport is what a host observes about itself for one environment
type PingReport struct {
	EnvID        string
	DeployID     string
	DeployAlias  string // Set when DeployID was translated from a rollback alias
	Stage        DeployStage
	Status       AgentStatus
	ErrorCode    int
	ErrorMessage string
	FailCount    int
}

// PromotePolicy controls automatic promotion for one environment
type PromotePolicy struct {
	EnvID         string
	Type          PromoteType
	PredStage     string // Upstream stage name, or BuildStage / empty to promote builds
	Schedule      string // Cron expression, empty for no schedule
	Delay         int    // Minutes
	QueueSize     int
	DisablePolicy PromoteDisablePolicy
	FailPolicy    PromoteFailPolicy
	LastOperator  string
	LastUpdate    time.Time
}

// BuildStage is the predecessor stage name meaning "promote from new builds"
const BuildStage = "BUILD"

// PromotesBuilds reports whether the policy promotes builds rather than upstream deploys
func (p *PromotePolicy) PromotesBuilds() bool {
	return p.PredStage == "" || p.PredStage == BuildStage
}

// PromoteType selects manual or automatic promotion
type PromoteType string

const (
	PromoteTypeManual PromoteType = "MANUAL"
	PromoteTypeAuto   PromoteType = "AUTO"
)

// PromoteDisablePolicy says whether a manual deploy turns auto promotion off
type PromoteDisablePolicy string

const (
	PromoteDisableManual PromoteDisablePolicy = "MANUAL"
	PromoteDisableAuto   PromoteDisablePolicy = "AUTO"
)

// PromoteFailPolicy selects what happens when the current deploy failed
type PromoteFailPolicy string

const (
	PromoteFailContinue PromoteFailPolicy = "CONTINUE"
	PromoteFailDisable  PromoteFailPolicy = "DISABLE"
	PromoteFailRollback PromoteFailPolicy = "ROLLBACK"
)

// EnvState is the operator controlled state of an environment
type EnvState string

const (
	EnvStateNormal   EnvState = "NORMAL"
	EnvStatePaused   EnvState = "PAUSED"
	EnvStateDisabled EnvState = "DISABLED"
)

// DeployType is the kind of rollout
type DeployType string

const (
	DeployTypeRegular  DeployType = "REGULAR"
	DeployTypeHotfix   DeployType = "HOTFIX"
	DeployTypeRollback DeployType = "ROLLBACK"
	DeployTypeRestart  DeployType = "RESTART"
	DeployTypeStop     DeployType = "STOP"
)

// DeployState is the lifecycle state of a deploy
type DeployState string

const (
	DeployStateRunning    DeployState = "RUNNING"
	DeployStateFailing    DeployState = "FAILING"
	DeployStateSucceeding DeployState = "SUCCEEDING"
	DeployStateSucceeded  DeployState = "SUCCEEDED"
	DeployStateAborted    DeployState = "ABORTED"
)

// AcceptanceStatus is the outcome of post-deploy acceptance
type AcceptanceStatus string

const (
	AcceptancePendingDeploy AcceptanceStatus = "PENDING_DEPLOY"
	AcceptanceOutstanding   AcceptanceStatus = "OUTSTANDING"
	AcceptancePendingAccept AcceptanceStatus = "PENDING_ACCEPT"
	AcceptanceAccepted      AcceptanceStatus = "ACCEPTED"
	AcceptanceRejected      AcceptanceStatus = "REJECTED"
	AcceptanceTerminated    AcceptanceStatus = "TERMINATED"
)

// DeployStage is one step of the per-deploy pipeline
type DeployStage string

const (
	StageUnknown      DeployStage = "UNKNOWN"
	StagePreDownload  DeployStage = "PRE_DOWNLOAD"
	StageDownloading  DeployStage = "DOWNLOADING"
	StagePostDownload DeployStage = "POST_DOWNLOAD"
	StageStaging      DeployStage = "STAGING"
	StagePreRestart   DeployStage = "PRE_RESTART"
	StageRestarting   DeployStage = "RESTARTING"
	StagePostRestart  DeployStage = "POST_RESTART"
	StageServingBuild DeployStage = "SERVING_BUILD"
	StageStopping     DeployStage = "STOPPING"
	StageStopped      DeployStage = "STOPPED"
)

// AgentState gates what the control plane may ask of an agent
type AgentState string

const (
	AgentStateNormal         AgentState = "NORMAL"
	AgentStatePausedBySystem AgentState = "PAUSED_BY_SYSTEM"
	AgentStatePausedByUser   AgentState = "PAUSED_BY_USER"
	AgentStateReset          AgentState = "RESET"
	AgentStateResetBySystem  AgentState = "RESET_BY_SYSTEM"
	AgentStateDelete         AgentState = "DELETE"
	AgentStateUnreachable    AgentState = "UNREACHABLE"
	AgentStateStop           AgentState = "STOP"
)

// AgentStatus is the outcome of the last attempted stage
type AgentStatus string

const (
	StatusSucceeded            AgentStatus = "SUCCEEDED"
	StatusUnknown              AgentStatus = "UNKNOWN"
	StatusAgentFailed          AgentStatus = "AGENT_FAILED"
	StatusRetryableAgentFailed AgentStatus = "RETRYABLE_AGENT_FAILED"
	StatusScriptFailed         AgentStatus = "SCRIPT_FAILED"
	StatusAbortedByService     AgentStatus = "ABORTED_BY_SERVICE"
	StatusScriptTimeout        AgentStatus = "SCRIPT_TIMEOUT"
	StatusTooManyRetry         AgentStatus = "TOO_MANY_RETRY"
	StatusRuntimeMismatch      AgentStatus = "RUNTIME_MISMATCH"
	StatusAbortedByServer      AgentStatus = "ABORTED_BY_SERVER"
)

// DeployPriority ranks environments; a lower value is more urgent
type DeployPriority string

const (
	PriorityHigher DeployPriority = "HIGHER"
	PriorityHigh   DeployPriority = "HIGH"
	PriorityNormal DeployPriority = "NORMAL"
	PriorityLow    DeployPriority = "LOW"
	PriorityLower  DeployPriority = "LOWER"
)

// OpCode is the instruction sent back to a host
type OpCode string

const (
	OpCodeNoop     OpCode = "NOOP"
	OpCodeDeploy   OpCode = "DEPLOY"
	OpCodeRestart  OpCode = "RESTART"
	OpCodeDelete   OpCode = "DELETE"
	OpCodeRollback OpCode = "ROLLBACK"
	OpCodeStop     OpCode = "STOP"
)
