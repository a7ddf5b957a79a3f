// Package metrics holds the domain Prometheus collectors of the media pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Upload outcomes.
const (
	OutcomeUploaded          = "uploaded"
	OutcomeQuotaDenied       = "quota_denied"
	OutcomeCapacityExhausted = "capacity_exhausted"
	OutcomeFailed            = "failed"
)

var (
	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testforge_media_uploads_total",
			Help: "Image uploads by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	uploadedBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testforge_media_uploaded_bytes_total",
			Help: "Optimized bytes stored by provider",
		},
		[]string{"provider"},
	)

	quotaDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testforge_media_quota_denials_total",
			Help: "Uploads rejected by the quota guard by reason code",
		},
		[]string{"code"},
	)

	capacityExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "testforge_media_capacity_exhausted_total",
			Help: "Uploads for which no storage account had room",
		},
	)

	providerErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testforge_media_provider_errors_total",
			Help: "Failed storage backend calls by provider and operation",
		},
		[]string{"provider", "operation"},
	)

	compensatingDeletesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testforge_media_compensating_deletes_total",
			Help: "Remote deletes issued after a failed commit, by result",
		},
		[]string{"result"},
	)

	accountDriftBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "testforge_storage_account_drift_bytes",
			Help: "Provider-reported storage minus the local mirror, per account",
		},
		[]string{"account", "provider"},
	)

	resetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "testforge_usage_resets_total",
			Help: "Records whose monthly counters were reset",
		},
		[]string{"kind"},
	)
)

// Upload records a finished upload attempt.
func Upload(provider, outcome string, bytes int64) {
	if provider == "" {
		provider = "none"
	}
	uploadsTotal.WithLabelValues(provider, outcome).Inc()
	if outcome == OutcomeUploaded {
		uploadedBytesTotal.WithLabelValues(provider).Add(float64(bytes))
	}
}

// QuotaDenied records a quota guard denial.
func QuotaDenied(code string) {
	quotaDenialsTotal.WithLabelValues(code).Inc()
	uploadsTotal.WithLabelValues("none", OutcomeQuotaDenied).Inc()
}

// CapacityExhausted records an upload with no eligible storage account.
func CapacityExhausted() {
	capacityExhaustedTotal.Inc()
	uploadsTotal.WithLabelValues("none", OutcomeCapacityExhausted).Inc()
}

// ProviderError records a failed backend call.
func ProviderError(provider, op string) {
	providerErrorsTotal.WithLabelValues(provider, op).Inc()
}

// CompensatingDelete records the result of a cleanup delete.
func CompensatingDelete(ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	compensatingDeletesTotal.WithLabelValues(result).Inc()
}

// AccountDrift exports the difference between provider and local storage usage.
func AccountDrift(account, provider string, drift int64) {
	accountDriftBytes.WithLabelValues(account, provider).Set(float64(drift))
}

// Reset records how many accounts and organizations a monthly reset touched.
func Reset(accounts, organizations int) {
	resetsTotal.WithLabelValues("account").Add(float64(accounts))
	resetsTotal.WithLabelValues("organization").Add(float64(organizations))
}
