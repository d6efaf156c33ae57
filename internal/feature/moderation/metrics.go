package moderation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "groupguard_moderation_commands_total",
	Help: "Number of moderation commands handled, by command and result",
}, []string{"command", "result"})
