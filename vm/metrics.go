package vm

import (
	"github.com/govm-net/kernel/core"
	"github.com/govm-net/kernel/security"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// transactionsTotal counts executed transactions by outcome
	transactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kernel",
			Subsystem: "engine",
			Name:      "transactions_total",
			Help:      "Total number of executed transactions by outcome",
		},
		[]string{"outcome"},
	)

	// transactionErrorsTotal counts failed transactions by error kind
	transactionErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kernel",
			Subsystem: "engine",
			Name:      "transaction_errors_total",
			Help:      "Total number of failed transactions by error kind",
		},
		[]string{"kind"},
	)

	// costUnitsConsumed observes the cost units of each transaction
	costUnitsConsumed = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kernel",
		Subsystem: "engine",
		Name:      "cost_units_consumed",
		Help:      "Cost units consumed per transaction",
		Buckets:   prometheus.ExponentialBuckets(10_000, 4, 10), // 10k ~ 2.6G
	})

	// invocationDepth is the deepest call of the last transaction
	invocationDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kernel",
		Subsystem: "engine",
		Name:      "invocation_depth",
		Help:      "Deepest invocation of the last executed transaction",
	})

	// substatesCommitted counts substate updates written to the store
	substatesCommitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kernel",
		Subsystem: "engine",
		Name:      "substates_committed_total",
		Help:      "Total number of substate updates committed to the store",
	})
)

func init() {
	prometheus.MustRegister(
		transactionsTotal,
		transactionErrorsTotal,
		costUnitsConsumed,
		invocationDepth,
		substatesCommitted,
	)
}

// recordMetrics updates the engine metrics from a receipt
func recordMetrics(r *Receipt) {
	transactionsTotal.WithLabelValues(r.Outcome.String()).Inc()
	if r.ErrorKind != core.KindNone {
		transactionErrorsTotal.WithLabelValues(string(r.ErrorKind)).Inc()
	}
	if r.Fee != nil {
		costUnitsConsumed.Observe(float64(r.Fee.TotalCostUnitsConsumed))
	}
	invocationDepth.Set(float64(maxDepth(r.Trace)))
	if r.StateUpdates != nil {
		substatesCommitted.Add(float64(r.StateUpdates.Len()))
	}
}

func maxDepth(traces []*security.CallTrace) int {
	deepest := 0
	for _, t := range traces {
		if t.Depth > deepest {
			deepest = t.Depth
		}
		if d := maxDepth(t.Children); d > deepest {
			deepest = d
		}
	}
	return deepest
}
