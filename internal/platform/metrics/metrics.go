package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	CertificatesIssued  prometheus.Counter
	CertificatesRevoked prometheus.Counter

	// VerificationsBySource counts resolved verifications labelled by the
	// source that answered: ledger or store.
	VerificationsBySource *prometheus.CounterVec

	VerificationsNotFound prometheus.Counter
	LedgerUnavailable     prometheus.Counter
	DivergencesDetected   *prometheus.CounterVec
	AuditEventsDropped    prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		CertificatesIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "certifychain_certificates_issued_total",
			Help: "Total number of certificates written to the ledger",
		}),
		CertificatesRevoked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "certifychain_certificates_revoked_total",
			Help: "Total number of certificates revoked on the ledger",
		}),
		VerificationsBySource: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "certifychain_verifications_total",
			Help: "Total number of verification resolutions by answering source",
		}, []string{"source"}),
		VerificationsNotFound: promauto.NewCounter(prometheus.CounterOpts{
			Name: "certifychain_verifications_not_found_total",
			Help: "Total number of verification lookups that matched nothing",
		}),
		LedgerUnavailable: promauto.NewCounter(prometheus.CounterOpts{
			Name: "certifychain_ledger_unavailable_total",
			Help: "Total number of ledger calls that failed on connectivity",
		}),
		DivergencesDetected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "certifychain_divergences_detected_total",
			Help: "Total number of cross-source divergences recorded, by kind",
		}, []string{"kind"}),
		AuditEventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "certifychain_audit_events_dropped_total",
			Help: "Total number of verification events dropped on a full queue",
		}),
	}
}

func (m *Metrics) IncrementIssued() {
	if m != nil {
		m.CertificatesIssued.Inc()
	}
}

func (m *Metrics) IncrementRevoked() {
	if m != nil {
		m.CertificatesRevoked.Inc()
	}
}

func (m *Metrics) IncrementVerification(source string) {
	if m != nil {
		m.VerificationsBySource.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) IncrementVerificationNotFound() {
	if m != nil {
		m.VerificationsNotFound.Inc()
	}
}

func (m *Metrics) IncrementLedgerUnavailable() {
	if m != nil {
		m.LedgerUnavailable.Inc()
	}
}

func (m *Metrics) IncrementDivergence(kind string) {
	if m != nil {
		m.DivergencesDetected.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncrementAuditDropped() {
	if m != nil {
		m.AuditEventsDropped.Inc()
	}
}
