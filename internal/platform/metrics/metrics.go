package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	IdentitiesCreated  prometheus.Counter
	CredentialsIssued  *prometheus.CounterVec
	CredentialsRevoked *prometheus.CounterVec

	RecordsAppended    *prometheus.CounterVec
	ChainVerifications prometheus.Counter
	BrokenLinksFound   prometheus.Counter
	ColdChainAlerts    prometheus.Counter

	ConsentsGranted    *prometheus.CounterVec
	ConsentsRevoked    prometheus.Counter
	ConsentCheckPassed *prometheus.CounterVec
	ConsentCheckFailed *prometheus.CounterVec

	TokensIssued   prometheus.Counter
	TokensRedeemed prometheus.Counter
	TokenFailures  *prometheus.CounterVec

	AppendLatency prometheus.Histogram
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		IdentitiesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_identities_created_total",
			Help: "Total number of identities created",
		}),
		CredentialsIssued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_credentials_issued_total",
			Help: "Total number of credentials issued",
		}, []string{"type"}),
		CredentialsRevoked: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_credentials_revoked_total",
			Help: "Total number of credentials revoked",
		}, []string{"type"}),
		RecordsAppended: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_records_appended_total",
			Help: "Total number of ledger records appended",
		}, []string{"event_type"}),
		ChainVerifications: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_chain_verifications_total",
			Help: "Total number of chain integrity verifications performed",
		}),
		BrokenLinksFound: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_broken_links_found_total",
			Help: "Total number of broken chain links detected",
		}),
		ColdChainAlerts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_cold_chain_alerts_total",
			Help: "Total number of cold chain break alerts raised",
		}),
		ConsentsGranted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_consents_granted_total",
			Help: "Total number of consent rules granted",
		}, []string{"purpose"}),
		ConsentsRevoked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_consents_revoked_total",
			Help: "Total number of consent rules revoked",
		}),
		ConsentCheckPassed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_consent_check_passed_total",
			Help: "Total number of consent authorization checks that passed",
		}, []string{"purpose"}),
		ConsentCheckFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_consent_check_failed_total",
			Help: "Total number of consent authorization checks that failed",
		}, []string{"purpose"}),
		TokensIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_sharing_tokens_issued_total",
			Help: "Total number of sharing tokens issued",
		}),
		TokensRedeemed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "custodia_sharing_tokens_redeemed_total",
			Help: "Total number of sharing tokens redeemed",
		}),
		TokenFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_sharing_token_failures_total",
			Help: "Total number of sharing token redemption failures",
		}, []string{"reason"}),
		AppendLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "custodia_ledger_append_latency_seconds",
			Help:    "Latency of ledger appends in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
