// monitor/metrics.go
package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	evaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zone_recovery_evaluations_total",
		Help: "Zone recovery evaluations by outcome (hedged, idle, rejected, error).",
	}, []string{"symbol", "outcome"})

	hedgesExecutedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zone_recovery_hedges_executed_total",
		Help: "Hedge orders filled by the zone recovery engine.",
	}, []string{"symbol"})

	gateRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zone_recovery_gate_rejections_total",
		Help: "Admission gate rejections.",
	}, []string{"symbol"})

	debtNibblesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zone_recovery_debt_nibbles_total",
		Help: "Successful toxic-debt partial closes.",
	})

	tithePoolGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zone_recovery_tithe_pool_dollars",
		Help: "Current bad-bank tithe pool balance.",
	})

	toxicAssetsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zone_recovery_toxic_assets",
		Help: "Frozen buckets currently held by the bad bank.",
	})
)
