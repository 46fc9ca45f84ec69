package tokens

import (
	"github.com/go-account-tokens/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values.
const (
	outcomeIssued       = "issued"
	outcomeNotifyFailed = "notify_failed"
	outcomeSuccess      = "success"
	outcomeNotFound     = "not_found"
	outcomeExpired      = "expired"
	outcomeMismatch     = "mismatch"
	outcomeApplyFailed  = "apply_failed"
	outcomeError        = "error"
)

var (
	tokensIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "account_tokens_issued_total",
			Help: "Token issuance attempts by purpose and outcome",
		},
		[]string{"purpose", "outcome"},
	)
	tokensRedeemed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "account_tokens_redeemed_total",
			Help: "Token redemption attempts by purpose and outcome",
		},
		[]string{"purpose", "outcome"},
	)
	tokensSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "account_tokens_swept_total",
			Help: "Expired token records removed by the sweeper",
		},
	)
)

// RegisterMetrics registers the token metrics with reg. Panics on duplicate registration.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(tokensIssued, tokensRedeemed, tokensSwept)
}

func recordIssue(p domain.Purpose, outcome string) {
	tokensIssued.WithLabelValues(string(p), outcome).Inc()
}

func recordRedeem(p domain.Purpose, outcome string) {
	tokensRedeemed.WithLabelValues(string(p), outcome).Inc()
}
