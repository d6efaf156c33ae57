package masskick

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var kickedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "groupguard_masskick_kicked_total",
	Help: "Number of members removed by kickall sweeps",
})

var failuresTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "groupguard_masskick_failures_total",
	Help: "Number of kicks that failed during kickall sweeps",
})

var sweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "groupguard_masskick_sweeps_total",
	Help: "Number of kickall sweeps, by outcome",
}, []string{"outcome"})
