package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements metrics.Collector for Prometheus.
type PrometheusCollector struct {
	filesIngested        *prometheus.CounterVec
	transactionsIngested *prometheus.CounterVec
	runOutcomes          *prometheus.CounterVec
	stageLatency         *prometheus.HistogramVec
	invalidTransactions  *prometheus.CounterVec
	excludedBranches     *prometheus.CounterVec
	storeBusy            prometheus.Counter
}

func NewPrometheusCollector(namespace string) *PrometheusCollector {
	return &PrometheusCollector{
		filesIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_ingested_total",
				Help:      "SLIP files ingested by direction and result",
			},
			[]string{"direction", "success"},
		),
		transactionsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_ingested_total",
				Help:      "Transaction records ingested by direction",
			},
			[]string{"direction"},
		),
		runOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recreation_runs_total",
				Help:      "Outward recreation runs by final state and halt reason",
			},
			[]string{"state", "reason"},
		),
		stageLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Recreation pipeline stage latency",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"stage"},
		),
		invalidTransactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invalid_transactions_total",
				Help:      "Outward transactions kept out of a released file, by reason",
			},
			[]string{"reason"},
		),
		excludedBranches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "excluded_branches_total",
				Help:      "Branches kept out of a released file, by reason",
			},
			[]string{"reason"},
		),
		storeBusy: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_busy_total",
				Help:      "Operations that gave up on a busy store",
			},
		),
	}
}

// Register registers all metrics with the given Prometheus registry.
func (pc *PrometheusCollector) Register(registry *prometheus.Registry) error {
	collectors := []prometheus.Collector{
		pc.filesIngested,
		pc.transactionsIngested,
		pc.runOutcomes,
		pc.stageLatency,
		pc.invalidTransactions,
		pc.excludedBranches,
		pc.storeBusy,
	}
	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

func (pc *PrometheusCollector) RecordFileIngested(direction string, success bool, transactions int) {
	pc.filesIngested.WithLabelValues(direction, strconv.FormatBool(success)).Inc()
	if success {
		pc.transactionsIngested.WithLabelValues(direction).Add(float64(transactions))
	}
}

func (pc *PrometheusCollector) RecordRunOutcome(state string, reason string) {
	pc.runOutcomes.WithLabelValues(state, reason).Inc()
}

func (pc *PrometheusCollector) RecordStageDuration(stage string, duration time.Duration) {
	pc.stageLatency.WithLabelValues(stage).Observe(duration.Seconds())
}

func (pc *PrometheusCollector) RecordInvalidTransaction(reason string) {
	pc.invalidTransactions.WithLabelValues(reason).Inc()
}

func (pc *PrometheusCollector) RecordExcludedBranch(reason string) {
	pc.excludedBranches.WithLabelValues(reason).Inc()
}

func (pc *PrometheusCollector) RecordStoreBusy() {
	pc.storeBusy.Inc()
}
