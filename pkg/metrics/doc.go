/*
Package metrics provides Prometheus metrics and health endpoints for deployd.

Metrics are package-level collectors registered with the default registry in
init, so any package can record without plumbing:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PingDuration)

	metrics.PromoteResultsTotal.WithLabelValues(string(res.Code)).Inc()

# Metrics

Ping and goal analysis:

	deployd_pings_total{opcode}             counter
	deployd_ping_duration_seconds           histogram
	deployd_analyze_duration_seconds        histogram
	deployd_goal_candidates_total{kind}     counter (install, uninstall, delete)
	deployd_goal_skipped_envs_total         counter

Promotion:

	deployd_promote_results_total{result}   counter
	deployd_promote_errors_total            counter
	deployd_promote_batch_duration_seconds  histogram

Fleet gauges, sampled by Collector from storage:

	deployd_environments_total{state}
	deployd_agents_total{state,stage}

# Health

HealthHandler, ReadyHandler and LivenessHandler serve /health, /ready and
/live. Components report themselves with RegisterComponent and
UpdateComponent. The process is ready once every component named by
SetCriticalComponents (storage by default) is registered and healthy.

GetHealth is unhealthy when a critical component fails and degraded when only
other components do; a degraded process still answers 200.
*/
package metrics
