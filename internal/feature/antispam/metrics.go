package antispam

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "groupguard_antispam_actions_total",
	Help: "Number of anti-spam actions taken, by action",
}, []string{"action"})

var errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "groupguard_antispam_errors_total",
	Help: "Number of swallowed anti-spam failures, by operation",
}, []string{"op"})
