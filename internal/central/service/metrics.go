package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	loginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "centralid_logins_total",
			Help: "Login attempts by outcome",
		},
		[]string{"outcome"},
	)

	migrationAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "centralid_migration_attempts_total",
			Help: "Opportunistic migration attempts",
		},
	)

	migrationSuccesses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "centralid_migration_successes_total",
			Help: "Opportunistic migrations that created a global identity",
		},
	)

	tokenExchanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "centralid_token_exchanges_total",
			Help: "One-time token exchanges by outcome",
		},
		[]string{"outcome"},
	)

	fanOutOmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "centralid_fanout_site_omissions_total",
			Help: "Sites omitted from fan-out queries because they were unreachable",
		},
		[]string{"site"},
	)
)
