package runner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rulesEvaluated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradewatch",
		Name:      "rules_evaluated_total",
		Help:      "Rules evaluated, by category and rule.",
	}, []string{"category", "rule"})

	rulesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradewatch",
		Name:      "rules_skipped_total",
		Help:      "Rules skipped because a required table was absent.",
	}, []string{"category", "rule"})

	ruleFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradewatch",
		Name:      "rule_failures_total",
		Help:      "Rules that returned a non-skippable error.",
	}, []string{"category", "rule"})

	alertsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradewatch",
		Name:      "alerts_emitted_total",
		Help:      "Alerts emitted, by category and severity.",
	}, []string{"category", "severity"})
)
