// Package obs exposes the service's Prometheus metrics.
package obs

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DispatchMatched counts inbound units that matched at least one
	// listener, by dispatch kind (message or event).
	DispatchMatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgate_dispatch_matched_total",
			Help: "Inbound units matched by at least one listener.",
		},
		[]string{"kind"},
	)

	// HandlersInvoked counts individual handler invocations.
	HandlersInvoked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgate_handlers_invoked_total",
			Help: "Plugin handler invocations.",
		},
		[]string{"kind"},
	)

	// ChallengesIssued counts login challenges by trigger.
	ChallengesIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgate_challenges_issued_total",
			Help: "Login challenge links issued.",
		},
		[]string{"reason"},
	)

	// LoginAttempts counts web login attempts by outcome.
	LoginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgate_login_attempts_total",
			Help: "Web login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// PendingChallenges tracks outstanding challenge links.
	PendingChallenges = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatgate_pending_challenges",
		Help: "Outstanding unconsumed challenge links.",
	})
)

var initOnce sync.Once

// Init registers the collectors. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(DispatchMatched, HandlersInvoked, ChallengesIssued, LoginAttempts, PendingChallenges)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}
