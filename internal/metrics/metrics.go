package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TicksTotal counts scheduler ticks by outcome (ok, skipped, failed).
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "valiax",
		Subsystem: "scheduler",
		Name:      "ticks_total",
		Help:      "Scheduler ticks by outcome",
	}, []string{"outcome"})

	DueRules = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "valiax",
		Subsystem: "scheduler",
		Name:      "due_rules",
		Help:      "Rules found due in the latest tick",
	})

	DispatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "valiax",
		Subsystem: "dispatch",
		Name:      "requests_total",
		Help:      "Dispatch calls by transport and status",
	}, []string{"transport", "status"})

	ExpiredRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "valiax",
		Subsystem: "scheduler",
		Name:      "expired_runs_total",
		Help:      "Open runs marked timeout after exceeding the stale threshold",
	})

	RuleRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "valiax",
		Subsystem: "runner",
		Name:      "rule_runs_total",
		Help:      "Rule executions by final status",
	}, []string{"status"})

	RuleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "valiax",
		Subsystem: "runner",
		Name:      "rule_duration_seconds",
		Help:      "Rule execution latency in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"status"})

	DeferredRulesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "valiax",
		Subsystem: "runner",
		Name:      "deferred_rules_total",
		Help:      "Rules not accepted because a run was already in flight",
	})

	InFlightRules = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "valiax",
		Subsystem: "runner",
		Name:      "in_flight_rules",
		Help:      "Rules currently executing on this runner",
	})

	ViolationsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "valiax",
		Subsystem: "recorder",
		Name:      "violations_reported_total",
		Help:      "Offending rows reported by completed runs",
	})
)
