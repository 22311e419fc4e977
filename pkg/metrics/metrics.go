package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Fleet metrics
	EnvironmentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "deployd_environments_total",
			Help: "Total number of environments by state",
		},
		[]string{"state"},
	)

	AgentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "deployd_agents_total",
			Help: "Total number of agent records by state and stage",
		},
		[]string{"state", "stage"},
	)

	// Ping metrics
	PingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployd_pings_total",
			Help: "Total number of host pings by returned op code",
		},
		[]string{"opcode"},
	)

	PingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deployd_ping_duration_seconds",
			Help:    "Time taken to handle a host ping in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	AnalyzeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deployd_analyze_duration_seconds",
			Help:    "Time taken by one goal analysis pass in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
	)

	CandidatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployd_goal_candidates_total",
			Help: "Total number of candidates produced by goal analysis by kind",
		},
		[]string{"kind"},
	)

	AnalyzeSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deployd_goal_skipped_envs_total",
			Help: "Total number of environments skipped because a lookup failed",
		},
	)

	// Promoter metrics
	PromoteResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployd_promote_results_total",
			Help: "Total number of promotion evaluations by result",
		},
		[]string{"result"},
	)

	PromoteErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deployd_promote_errors_total",
			Help: "Total number of promotion evaluations that failed",
		},
	)

	PromoteBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deployd_promote_batch_duration_seconds",
			Help:    "Time taken to evaluate all auto-promoting environments in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(EnvironmentsTotal)
	prometheus.MustRegister(AgentsTotal)
	prometheus.MustRegister(PingsTotal)
	prometheus.MustRegister(PingDuration)
	prometheus.MustRegister(AnalyzeDuration)
	prometheus.MustRegister(CandidatesTotal)
	prometheus.MustRegister(AnalyzeSkippedTotal)
	prometheus.MustRegister(PromoteResultsTotal)
	prometheus.MustRegister(PromoteErrorsTotal)
	prometheus.MustRegister(PromoteBatchDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
