// Package monitoring exposes prometheus counters for the reward paths.
// The /metrics route in api/server.go serves them.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SignupsTotal counts successful account creations.
	SignupsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coinledger_signups_total",
		Help: "Successful account creations",
	})

	// GrantsTotal counts credited rewards by kind: referral, task, click,
	// legacy_add.
	GrantsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinledger_grants_total",
		Help: "Credited rewards by kind",
	}, []string{"kind"})

	// GrantRejectionsTotal counts rewards rejected by an idempotency rule.
	GrantRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinledger_grant_rejections_total",
		Help: "Rewards rejected as duplicates, by kind",
	}, []string{"kind"})
)
