// Package revocation coordinates ledger-first revocation with the off-chain
// narrative update. Ledger revocation is irreversible; the off-chain side is
// retried or reported as divergent, never rolled back.
package revocation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"certifychain/internal/domain"
	"certifychain/internal/ledger"
	"certifychain/internal/platform/metrics"
	"certifychain/internal/store"
	dErrors "certifychain/pkg/domain-errors"
)

const (
	maxWriteAttempts = 3
	retryBackoff     = 500 * time.Millisecond
)

// Status reports how far the revocation got.
type Status string

const (
	// StatusRevoked: ledger and off-chain both reflect the revocation.
	StatusRevoked Status = "revoked"
	// StatusPartial: the ledger revocation confirmed but the off-chain update
	// failed. Verification still reports the certificate revoked because the
	// ledger flag wins.
	StatusPartial Status = "partial"
	// StatusAlreadyRevoked: the certificate was revoked before this call.
	// Off-chain timestamps are untouched.
	StatusAlreadyRevoked Status = "already-revoked"
)

// Result is the outcome of one revocation.
type Result struct {
	CertificateID string `json:"certificateId"`
	TxRef         string `json:"transactionRef,omitempty"`
	Status        Status `json:"status"`
}

// Service is the revocation coordinator.
type Service struct {
	chain       ledger.Client
	certs       store.CertificateStore
	divergences store.DivergenceStore
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	now         func() time.Time
	backoff     time.Duration
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithBackoff(d time.Duration) Option {
	return func(s *Service) { s.backoff = d }
}

// New constructs the coordinator.
func New(chain ledger.Client, certs store.CertificateStore, divergences store.DivergenceStore, opts ...Option) *Service {
	s := &Service{
		chain:       chain,
		certs:       certs,
		divergences: divergences,
		logger:      slog.Default(),
		tracer:      otel.Tracer("certifychain/revocation"),
		now:         time.Now,
		backoff:     retryBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Revoke revokes certificateID on behalf of the issuing institution. reason
// is free text recorded off-chain only; the ledger knows nothing but the
// validity flip.
func (s *Service) Revoke(ctx context.Context, inst domain.Institution, certificateID, reason string) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "revocation.Revoke")
	defer span.End()

	certificateID = strings.TrimSpace(certificateID)
	if certificateID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "certificate id is required")
	}

	row, rowErr := s.certs.FindByCertificateID(ctx, certificateID)
	if rowErr == nil && row.InstitutionID != inst.ID {
		// Ownership is checked before the no-op path so authorization wins
		// over idempotency.
		return nil, dErrors.New(dErrors.CodeForbidden, "not authorized to revoke this certificate")
	}
	// Off-chain already revoked: a repeat request is a no-op success and the
	// original timestamp stands.
	if rowErr == nil && row.IsRevoked {
		return &Result{CertificateID: certificateID, Status: StatusAlreadyRevoked}, nil
	}
	if rowErr != nil && !errors.Is(rowErr, store.ErrNotFound) {
		return nil, dErrors.Wrap(rowErr, dErrors.CodeInternal, "failed to load certificate")
	}

	receipt, err := s.submit(ctx, inst, certificateID)
	switch {
	case err == nil:
		s.metrics.IncrementRevoked()
	case errors.Is(err, ledger.ErrAlreadyRevoked):
		// Revoked on the ledger by an earlier, partially applied call. Finish
		// the off-chain side now instead of surfacing an error.
		s.logger.InfoContext(ctx, "ledger already revoked, completing off-chain record",
			"certificate_id", certificateID,
		)
	case errors.Is(err, ledger.ErrNotFound):
		return nil, dErrors.New(dErrors.CodeNotFound, "certificate does not exist")
	case errors.Is(err, ledger.ErrNotAuthorized):
		return nil, dErrors.New(dErrors.CodeForbidden, "not authorized to revoke this certificate")
	case errors.Is(err, ledger.ErrUnavailable):
		s.metrics.IncrementLedgerUnavailable()
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger unavailable")
	default:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "ledger revocation failed")
	}

	result := &Result{CertificateID: certificateID, Status: StatusRevoked}
	if receipt != nil {
		result.TxRef = receipt.TxHash
	}

	if err := s.certs.MarkRevoked(ctx, certificateID, strings.TrimSpace(reason), s.now().UTC()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Nothing off-chain to update; the reconcile scan will pick up the
			// missing row. The ledger revocation stands.
			s.logger.WarnContext(ctx, "revoked certificate has no off-chain record",
				"certificate_id", certificateID,
			)
			return result, nil
		}
		s.recordDivergence(ctx, certificateID,
			"ledger revocation confirmed but off-chain update failed: "+err.Error())
		s.logger.ErrorContext(ctx, "off-chain revocation update failed after ledger confirmation",
			"certificate_id", certificateID,
			"error", err,
		)
		result.Status = StatusPartial
	}
	return result, nil
}

func (s *Service) submit(ctx context.Context, inst domain.Institution, certificateID string) (*ledger.TxReceipt, error) {
	var lastErr error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ledger.ErrUnavailable
			case <-time.After(s.backoff):
			}
		}
		receipt, err := s.chain.RevokeCertificate(ctx, inst.Address, certificateID)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ledger.ErrUnavailable) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (s *Service) recordDivergence(ctx context.Context, certificateID, detail string) {
	s.metrics.IncrementDivergence(string(domain.DivergenceRevocationMissing))
	div := domain.Divergence{
		ID:            uuid.New(),
		CertificateID: certificateID,
		Kind:          domain.DivergenceRevocationMissing,
		Detail:        detail,
		DetectedAt:    s.now().UTC(),
	}
	if err := s.divergences.Append(ctx, div); err != nil {
		s.logger.ErrorContext(ctx, "failed to record divergence",
			"certificate_id", certificateID,
			"error", err,
		)
	}
}
