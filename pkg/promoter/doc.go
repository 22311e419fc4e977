/*
Package promoter moves environments to newer content without an operator.

Every environment with an AUTO promote policy is evaluated on a fixed
interval. A policy either promotes builds, picking builds published after the
current deploy started, or promotes deploys, picking ACCEPTED deploys of the
predecessor stage of the same service. Builds tagged BAD_BUILD never qualify.

# Architecture

The package splits reading from writing:

	┌──────────────────────────── PROMOTER ────────────────────────────┐
	│                                                                    │
	│   ticker (Interval)                                                │
	│        │                                                           │
	│   ┌────▼──────────────┐    rate limiter + errgroup (Concurrency)   │
	│   │   ProcessBatch    │─────────────┬──────────────┬───────────    │
	│   └───────────────────┘             │              │               │
	│                              ┌──────▼─────┐  ┌─────▼──────┐        │
	│                              │ProcessOnce │  │ProcessOnce │  ...   │
	│                              └──────┬─────┘  └────────────┘        │
	│                                     │                              │
	│          ┌──────────────────────────┼────────────────────┐         │
	│          │                          │                    │         │
	│   ┌──────▼───────┐          ┌───────▼───────┐    ┌───────▼──────┐  │
	│   │  FailPolicy  │          │   Evaluator   │    │ safePromote  │  │
	│   │ disable or   │          │ (read only)   │───►│ PROMOTE lock │  │
	│   │ roll back    │          └───────────────┘    │ deploy write │  │
	│   └──────────────┘                               └──────────────┘  │
	└────────────────────────────────────────────────────────────────────┘

# Core Components

Promoter:
  - Owns the loop, the lock client and the event broker
  - Evaluates environments in id order, bounded by Concurrency
  - Paces evaluations with RatePerMinute
  - Logs an error for one environment and moves on to the next

Evaluator:
  - Reads builds, deploys, tags and environments through Source
  - Never writes; safe to call from the analyze command
  - Returns a Result whose Code names the decision

Schedule:
  - Cron expression with an optional leading seconds field
  - LastFire and Window answer "may we promote right now"

# Evaluation

Before any candidate is read, ProcessOnce checks, in order:

	environment missing or not NORMAL      → EnvNotActive
	no policy or MANUAL policy             → ManualPolicy
	current deploy not accepted or failing → DeployNotRetirable
	current deploy failed, FailPolicy set  → FailPolicyApplied

The Evaluator then considers the candidates published or started in
(start, now-delay], where start is the current deploy's start time:

	fewer than QueueSize candidates     → NoAvailableBuild / NoCandidateWithinDelayPeriod
	no schedule                         → oldest candidate
	schedule, outside the buffer window → NotInScheduledTime
	schedule, inside the window         → oldest candidate due at the last fire time

The buffer window is [lastFire, lastFire+buffer). Schedules use cron syntax
with an optional leading seconds field, so "0 0 10 * * ?" fires daily at 10:00.

For deploy promotion, when the current deploy was itself promoted from the
predecessor, start is the source deploy's start time instead. A schedule
that fires before any ACCEPTED deploy was due gives
NoRegularDeployWithinDelayPeriod.

# Writing

The Promoter writes a decision under the environment's PROMOTE lock and only
if the environment still points at the deploy the decision was based on:

 1. TryLock the PROMOTE lock; if another writer holds it, bail out
 2. Re-read the environment
 3. If its deploy changed since evaluation, bail out (PromoteRaced)
 4. Create the deploy and point the environment at it
 5. Publish a deploy.promoted event

When the current deploy failed, the policy's FailPolicy decides:

	CONTINUE  → evaluate as usual
	DISABLE   → switch the policy to MANUAL
	ROLLBACK  → deploy the last succeeded deploy's build, then switch to MANUAL

# Usage

Running the loop:

	p := promoter.NewPromoter(store, locker, cfg.Promoter,
		promoter.WithBroker(broker))
	p.Start()
	defer p.Stop()

Promoting once, for cron jobs or the promote command:

	p := promoter.NewPromoter(store, locker, cfg.Promoter)
	if err := p.ProcessBatch(ctx); err != nil {
		return fmt.Errorf("failed to run promotion batch: %w", err)
	}

Evaluating without writing:

	res, err := p.Evaluator().ComputePromoteBuildResult(env, current, policy.QueueSize, policy)
	if err != nil {
		return err
	}
	if res.Promotes() {
		fmt.Printf("would deploy build %s\n", res.BuildID)
	}

# Design Patterns

Optimistic Writes:
  - Evaluation runs without a lock
  - The lock only covers the re-check and the write
  - Losing a race is a normal outcome, not an error

Isolation:
  - One environment never blocks or fails another
  - Errors are counted in deployd_promote_errors_total and logged

# Monitoring Metrics

  - deployd_promote_results_total{result}: outcomes per result code
  - deployd_promote_errors_total: environments that failed to evaluate
  - deployd_promote_batch_duration_seconds: time spent in one batch

# Troubleshooting

Environment never promotes:
  - Check the policy is AUTO and the environment is NORMAL
  - Check QueueSize; that many candidates must exist after the current deploy started
  - With a schedule, the loop interval must be shorter than the buffer window

Promotion stopped after a failure:
  - A DISABLE or ROLLBACK FailPolicy switched the policy to MANUAL
  - Look for a promote.disabled event

# See Also

  - pkg/lock for the PROMOTE lock
  - pkg/events for promotion events
*/
package promoter
