/*

Prometheus collectors for the engine. Registered on the default registry and
served by the web server at /metrics.

*/

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProtectionsSold = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parapet",
		Name:      "protections_sold_total",
		Help:      "Protections sold, including renewals.",
	}, []string{"pool"})

	PremiumCollected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parapet",
		Name:      "premium_collected_total",
		Help:      "Premium paid into pools, in underlying units.",
	}, []string{"pool"})

	PremiumAccrued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parapet",
		Name:      "premium_accrued_total",
		Help:      "Premium recognized as earned, in underlying units.",
	}, []string{"pool"})

	CapitalLocked = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parapet",
		Name:      "capital_locked_total",
		Help:      "Seller capital locked against late loans, in underlying units.",
	}, []string{"pool"})

	LoanDefaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parapet",
		Name:      "loan_defaults_total",
		Help:      "Loans that reached the Defaulted state.",
	}, []string{"pool"})

	PoolCapital = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "parapet",
		Name:      "pool_capital",
		Help:      "Current seller capital per pool, in underlying units.",
	}, []string{"pool"})

	PoolLeverageRatio = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "parapet",
		Name:      "pool_leverage_ratio",
		Help:      "Current leverage ratio per pool.",
	}, []string{"pool"})

	AssessmentRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "parapet",
		Name:      "assessment_runs_total",
		Help:      "Batch assessment runs executed.",
	})
)
