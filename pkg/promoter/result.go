package promoter

import (
	"github.com/cuemby/deployd/pkg/types"
)

// ResultCode is the outcome of one promotion evaluation
type ResultCode string

const (
	ResultPromoteBuild                     ResultCode = "PromoteBuild"
	ResultPromoteDeploy                    ResultCode = "PromoteDeploy"
	ResultNoAvailableBuild                 ResultCode = "NoAvailableBuild"
	ResultNotInScheduledTime               ResultCode = "NotInScheduledTime"
	ResultNoPredEnvironment                ResultCode = "NoPredEnvironment"
	ResultNoPredEnvironmentDeploy          ResultCode = "NoPredEnvironmentDeploy"
	ResultNoCandidateWithinDelayPeriod     ResultCode = "NoCandidateWithinDelayPeriod"
	ResultNoRegularDeployWithinDelayPeriod ResultCode = "NoRegularDeployWithinDelayPeriod"

	// Outcomes of ProcessOnce that stop before any candidate is evaluated
	ResultEnvNotActive       ResultCode = "EnvNotActive"
	ResultManualPolicy       ResultCode = "ManualPolicy"
	ResultDeployNotRetirable ResultCode = "DeployNotRetirable"
	ResultFailPolicyApplied  ResultCode = "FailPolicyApplied"
	ResultPromoteRaced       ResultCode = "PromoteRaced"
)

// Result describes what a promotion evaluation decided
type Result struct {
	Code ResultCode
	// BuildID is the build to deploy, set for PromoteBuild and PromoteDeploy
	BuildID string
	// PredDeploy is the upstream deploy to promote, set for PromoteDeploy
	PredDeploy *types.Deploy
	// DeployID is the deploy created when the promotion was written
	DeployID string
}

// Promotes reports whether the result asks for a new deploy
func (r *Result) Promotes() bool {
	return r.Code == ResultPromoteBuild || r.Code == ResultPromoteDeploy
}

func resultOf(code ResultCode) *Result {
	return &Result{Code: code}
}
