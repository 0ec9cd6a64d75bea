package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Operational counters. The per-application statistics live on the store
// record; these are the process-level mirror.
var (
	ExchangeSteps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appauth_exchange_steps_total",
			Help: "Token exchange steps by outcome.",
		},
		[]string{"step", "outcome"},
	)

	Authorizations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "appauth_authorizations_total",
			Help: "Composite-credential authorization attempts by outcome.",
		},
		[]string{"outcome"},
	)

	IssuanceExhausted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "appauth_issuance_exhausted_total",
			Help: "Credential issuances that ran out of retry attempts.",
		},
	)
)

func init() {
	prometheus.MustRegister(ExchangeSteps, Authorizations, IssuanceExhausted)
}

// Handler serves the prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
