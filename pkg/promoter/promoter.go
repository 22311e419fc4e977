package promoter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/deployd/pkg/config"
	"github.com/cuemby/deployd/pkg/events"
	"github.com/cuemby/deployd/pkg/lock"
	"github.com/cuemby/deployd/pkg/log"
	"github.com/cuemby/deployd/pkg/metrics"
	"github.com/cuemby/deployd/pkg/storage"
	"github.com/cuemby/deployd/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// OperatorName is recorded on every deploy and policy change the promoter writes
const OperatorName = "AutoPromoter"

// Promoter periodically promotes every auto-promoting environment
type Promoter struct {
	store   storage.Store
	locker  lock.Locker
	broker  *events.Broker
	eval    *Evaluator
	cfg     config.PromoterConfig
	limiter *rate.Limiter
	now     func() time.Time
	logger  zerolog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Promoter
type Option func(*Promoter)

// WithPromoterClock replaces time.Now for both the promoter and its evaluator
func WithPromoterClock(now func() time.Time) Option {
	return func(p *Promoter) {
		p.now = now
		p.eval.now = now
	}
}

// WithBroker publishes promotion events on b
func WithBroker(b *events.Broker) Option {
	return func(p *Promoter) {
		p.broker = b
	}
}

// NewPromoter creates a Promoter. broker may be nil.
func NewPromoter(store storage.Store, locker lock.Locker, cfg config.PromoterConfig, opts ...Option) *Promoter {
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 600
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	p := &Promoter{
		store:  store,
		locker: locker,
		eval: NewEvaluator(store,
			WithBufferWindow(cfg.BufferWindow),
			WithMaxCandidates(cfg.MaxCandidates)),
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1),
		now:     time.Now,
		logger:  log.WithComponent("promoter"),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Evaluator returns the evaluator the promoter decides with
func (p *Promoter) Evaluator() *Evaluator {
	return p.eval
}

// Start begins the promotion loop
func (p *Promoter) Start() {
	p.wg.Add(1)
	go p.run()
}

// Stop stops the promotion loop and waits for the current batch
func (p *Promoter) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	p.wg.Wait()
}

func (p *Promoter) run() {
	defer p.wg.Done()

	interval := p.cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-p.stopCh
		cancel()
	}()

	for {
		select {
		case <-ticker.C:
			if err := p.ProcessBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Error().Err(err).Msg("Promotion batch failed")
			}
		case <-p.stopCh:
			return
		}
	}
}

// ProcessBatch evaluates every auto-promoting environment once. An error for
// one environment is logged and never stops the others.
func (p *Promoter) ProcessBatch(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PromoteBatchDuration)

	policies, err := p.store.ListPromotePolicies()
	if err != nil {
		return fmt.Errorf("failed to list promote policies: %w", err)
	}

	var envIDs []string
	for _, policy := range policies {
		if policy.Type == types.PromoteTypeAuto {
			envIDs = append(envIDs, policy.EnvID)
		}
	}
	if len(envIDs) == 0 {
		p.logger.Debug().Msg("No environment to promote")
		return nil
	}
	sort.Strings(envIDs)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	for _, envID := range envIDs {
		envID := envID
		if err := p.limiter.Wait(gctx); err != nil {
			break
		}
		g.Go(func() error {
			res, err := p.ProcessOnce(gctx, envID)
			if err != nil {
				metrics.PromoteErrorsTotal.Inc()
				p.logger.Error().Err(err).Str("env_id", envID).Msg("Failed to process environment")
				return nil
			}
			metrics.PromoteResultsTotal.WithLabelValues(string(res.Code)).Inc()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ProcessOnce evaluates one environment and writes the promotion it decides on
func (p *Promoter) ProcessOnce(ctx context.Context, envID string) (*Result, error) {
	logger := p.logger.With().Str("env_id", envID).Logger()

	env, err := p.store.GetEnvironment(envID)
	if errors.Is(err, storage.ErrNotFound) {
		return resultOf(ResultEnvNotActive), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get environment: %w", err)
	}
	if env.State != types.EnvStateNormal {
		logger.Info().Str("state", string(env.State)).Msg("Environment is not active, skipping")
		return resultOf(ResultEnvNotActive), nil
	}

	policy, err := p.store.GetPromotePolicy(envID)
	if errors.Is(err, storage.ErrNotFound) {
		return resultOf(ResultManualPolicy), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get promote policy: %w", err)
	}
	if policy.Type != types.PromoteTypeAuto {
		return resultOf(ResultManualPolicy), nil
	}

	var current *types.Deploy
	if env.HasDeploy() {
		current, err = p.store.GetDeploy(env.DeployID)
		if err != nil {
			return nil, fmt.Errorf("failed to get current deploy: %w", err)
		}
	}

	if !retirable(current) {
		logger.Debug().Msg("Current deploy is not ready to be retired")
		return resultOf(ResultDeployNotRetirable), nil
	}

	if failed(current) && policy.FailPolicy != "" && policy.FailPolicy != types.PromoteFailContinue {
		if err := p.handleFailedDeploy(ctx, env, current, policy); err != nil {
			return nil, err
		}
		return resultOf(ResultFailPolicyApplied), nil
	}

	var res *Result
	if policy.PromotesBuilds() {
		res, err = p.eval.ComputePromoteBuildResult(env, current, policy.QueueSize, policy)
	} else {
		res, err = p.eval.ComputePromoteDeployResult(env, current, policy.QueueSize, policy)
	}
	if err != nil {
		return nil, err
	}

	logger.Info().Str("result", string(res.Code)).Msg("Promotion evaluated")

	if !res.Promotes() {
		return res, nil
	}

	deployID, err := p.safePromote(ctx, env, res)
	if err != nil {
		return nil, err
	}
	if deployID == "" {
		return resultOf(ResultPromoteRaced), nil
	}
	res.DeployID = deployID
	return res, nil
}

// retirable reports whether the current deploy may be replaced
func retirable(current *types.Deploy) bool {
	if current == nil {
		return true
	}
	if current.State.IsFinal() {
		return false
	}
	if current.AcceptanceStatus.IsFinal() {
		return true
	}
	return current.State == types.DeployStateFailing
}

// failed reports whether the current deploy was rejected or is failing
func failed(current *types.Deploy) bool {
	if current == nil {
		return false
	}
	return current.AcceptanceStatus == types.AcceptanceRejected || current.State == types.DeployStateFailing
}

func (p *Promoter) handleFailedDeploy(ctx context.Context, env *types.Environment, current *types.Deploy, policy *types.PromotePolicy) error {
	logger := p.logger.With().Str("env_id", env.ID).Str("deploy_id", current.ID).Logger()

	if policy.FailPolicy == types.PromoteFailRollback {
		logger.Info().Msg("Current deploy failed, rolling back and disabling auto promote")
		if err := p.rollback(ctx, env, current); err != nil {
			return err
		}
	} else {
		logger.Info().Msg("Current deploy failed, disabling auto promote")
	}

	return p.disable(env, policy)
}

func (p *Promoter) disable(env *types.Environment, policy *types.PromotePolicy) error {
	policy.Type = types.PromoteTypeManual
	policy.LastOperator = OperatorName
	policy.LastUpdate = p.now()
	if err := p.store.SavePromotePolicy(policy); err != nil {
		return fmt.Errorf("failed to disable auto promote: %w", err)
	}

	p.broker.Publish(events.NewEvent(events.EventPromoteDisabled, env.ID, "Auto promote disabled after a failed deploy"))
	return nil
}

// rollback points env back at the content of its last succeeded deploy
func (p *Promoter) rollback(ctx context.Context, env *types.Environment, current *types.Deploy) error {
	now := p.now()

	deploys, err := p.store.ListDeploysByEnv(env.ID, time.Time{}, now, 0)
	if err != nil {
		return fmt.Errorf("failed to list deploys: %w", err)
	}

	var target *types.Deploy
	for i := len(deploys) - 1; i >= 0; i-- {
		if deploys[i].ID != current.ID && deploys[i].State == types.DeployStateSucceeded {
			target = deploys[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("no succeeded deploy to roll back to in environment %s", env.ID)
	}

	release, err := p.locker.TryLock(ctx, lock.PromoteLockName(env.ID))
	if err != nil {
		return fmt.Errorf("failed to lock environment for rollback: %w", err)
	}
	defer release()

	deploy := &types.Deploy{
		ID:               uuid.New().String(),
		EnvID:            env.ID,
		BuildID:          target.BuildID,
		Type:             types.DeployTypeRollback,
		State:            types.DeployStateRunning,
		AcceptanceStatus: types.AcceptancePendingDeploy,
		FromDeploy:       target.ID,
		Alias:            target.ID,
		Description:      fmt.Sprintf("Auto rollback to deploy %s", target.ID),
		Operator:         OperatorName,
		StartDate:        now,
		LastUpdate:       now,
	}
	if err := p.writeDeploy(env.ID, deploy); err != nil {
		return err
	}

	ev := events.NewEvent(events.EventDeployRolledBack, env.ID, deploy.Description)
	ev.Metadata["deploy_id"] = deploy.ID
	p.broker.Publish(ev)
	return nil
}

// safePromote writes the promotion under the environment's promote lock. It
// returns an empty id without error when another writer got there first.
func (p *Promoter) safePromote(ctx context.Context, env *types.Environment, res *Result) (string, error) {
	logger := p.logger.With().Str("env_id", env.ID).Logger()

	release, err := p.locker.TryLock(ctx, lock.PromoteLockName(env.ID))
	if errors.Is(err, lock.ErrNotAcquired) {
		logger.Info().Msg("Another promotion holds the lock, bailing out")
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to lock environment: %w", err)
	}
	defer release()

	fresh, err := p.store.GetEnvironment(env.ID)
	if err != nil {
		return "", fmt.Errorf("failed to re-read environment: %w", err)
	}
	if fresh.DeployID != env.DeployID {
		logger.Info().
			Str("expected_deploy", env.DeployID).
			Str("actual_deploy", fresh.DeployID).
			Msg("Environment deploy changed while evaluating, bailing out")
		return "", nil
	}

	now := p.now()
	deploy := &types.Deploy{
		ID:               uuid.New().String(),
		EnvID:            env.ID,
		BuildID:          res.BuildID,
		Type:             types.DeployTypeRegular,
		State:            types.DeployStateRunning,
		AcceptanceStatus: types.AcceptancePendingDeploy,
		Operator:         OperatorName,
		StartDate:        now,
		LastUpdate:       now,
	}
	if res.PredDeploy != nil {
		deploy.FromDeploy = res.PredDeploy.ID
		deploy.Description = fmt.Sprintf("Auto promote deploy %s", res.PredDeploy.ID)
	} else {
		deploy.Description = fmt.Sprintf("Auto promote build %s", res.BuildID)
	}

	if err := p.writeDeploy(env.ID, deploy); err != nil {
		return "", err
	}

	logger.Info().Str("deploy_id", deploy.ID).Str("build_id", deploy.BuildID).Msg(deploy.Description)

	ev := events.NewEvent(events.EventDeployPromoted, env.ID, deploy.Description)
	ev.Metadata["deploy_id"] = deploy.ID
	ev.Metadata["build_id"] = deploy.BuildID
	p.broker.Publish(ev)

	return deploy.ID, nil
}

// writeDeploy stores deploy and points the environment at it. The caller
// holds the environment's promote lock.
func (p *Promoter) writeDeploy(envID string, deploy *types.Deploy) error {
	env, err := p.store.GetEnvironment(envID)
	if err != nil {
		return fmt.Errorf("failed to get environment: %w", err)
	}

	if err := p.store.CreateDeploy(deploy); err != nil {
		return fmt.Errorf("failed to create deploy: %w", err)
	}

	env.DeployID = deploy.ID
	env.DeployType = deploy.Type
	env.UpdatedAt = deploy.StartDate
	if err := p.store.UpdateEnvironment(env); err != nil {
		return fmt.Errorf("failed to update environment deploy: %w", err)
	}
	return nil
}
