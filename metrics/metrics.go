// Package metrics holds the pipeline's Prometheus collectors. Exposed on
// /metrics by the HTTP layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ContributionsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asl_contributions_submitted_total",
		Help: "Contributions accepted for evaluation.",
	})

	EvaluationVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asl_evaluation_verdicts_total",
		Help: "Terminal evaluation outcomes by verdict (approved, rejected_quality, rejected_system).",
	}, []string{"verdict"})

	RewardAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asl_reward_attempts_total",
		Help: "Reward attempt status transitions by kind and status.",
	}, []string{"kind", "status"})
)
