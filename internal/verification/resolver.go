// Package verification resolves a certificate identifier against both
// sources and merges the answer under the ledger-precedence policy: the
// ledger's validity flag wins whenever the ledger answered, and the off-chain
// store alone serves a degraded, explicitly tagged fallback.
package verification

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"certifychain/internal/domain"
	"certifychain/internal/ledger"
	"certifychain/internal/platform/metrics"
	"certifychain/internal/store"
	dErrors "certifychain/pkg/domain-errors"
	"certifychain/pkg/requestcontext"
)

// ledgerTimeout caps the ledger read so a stalled chain degrades to the
// store-verified path instead of blocking the caller.
const ledgerTimeout = 5 * time.Second

// Result is the merged verification answer.
type Result struct {
	CertificateID   string          `json:"certificateId"`
	Source          domain.TrustTag `json:"source"`
	Trusted         bool            `json:"blockchainVerified"`
	Valid           bool            `json:"isValid"`
	StudentName     string          `json:"studentName,omitempty"`
	CourseName      string          `json:"courseName,omitempty"`
	IssueDate       time.Time       `json:"issueDate,omitzero"`
	InstitutionName string          `json:"institutionName,omitempty"`
	IssuerAddress   string          `json:"issuerAddress,omitempty"`
	TxRef           string          `json:"blockchainTx,omitempty"`
	RevocationReason string         `json:"revocationReason,omitempty"`
	RevocationDate  *time.Time      `json:"revocationDate,omitempty"`
}

// EventRecorder accepts audit events without blocking the resolution.
type EventRecorder interface {
	Enqueue(event domain.VerificationEvent)
}

// Service is the verification resolver.
type Service struct {
	chain       ledger.Client
	certs       store.CertificateStore
	students    store.StudentStore
	divergences store.DivergenceStore
	recorder    EventRecorder
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	now         func() time.Time
	timeout     time.Duration
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithRecorder(r EventRecorder) Option {
	return func(s *Service) { s.recorder = r }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLedgerTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// New constructs the resolver.
func New(chain ledger.Client, certs store.CertificateStore, students store.StudentStore, divergences store.DivergenceStore, opts ...Option) *Service {
	s := &Service{
		chain:       chain,
		certs:       certs,
		students:    students,
		divergences: divergences,
		logger:      slog.Default(),
		tracer:      otel.Tracer("certifychain/verification"),
		now:         time.Now,
		timeout:     ledgerTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Verify resolves certificateID. Both sources are queried in parallel; the
// answer is best effort and only fails when neither source knows the
// identifier or the off-chain fallback itself errors.
func (s *Service) Verify(ctx context.Context, certificateID string, method domain.VerificationMethod) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "verification.Verify")
	defer span.End()

	certificateID = strings.TrimSpace(certificateID)
	if certificateID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "certificate id is required")
	}

	var (
		onChain   *ledger.Certificate
		ledgerErr error
		row       domain.Certificate
		rowErr    error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lctx, cancel := context.WithTimeout(gctx, s.timeout)
		defer cancel()
		onChain, ledgerErr = s.chain.VerifyCertificate(lctx, certificateID)
		if ledgerErr != nil && lctx.Err() != nil {
			ledgerErr = ledger.ErrUnavailable
		}
		return nil
	})
	g.Go(func() error {
		row, rowErr = s.certs.FindByCertificateID(gctx, certificateID)
		return nil
	})
	_ = g.Wait()

	switch {
	case ledgerErr == nil:
		return s.ledgerResult(ctx, certificateID, onChain, row, rowErr, method), nil
	case errors.Is(ledgerErr, ledger.ErrNotFound):
		// The ledger answered authoritatively that the id does not exist;
		// the off-chain row, if any, still serves as a degraded fallback.
	case errors.Is(ledgerErr, ledger.ErrUnavailable):
		s.metrics.IncrementLedgerUnavailable()
		s.logger.WarnContext(ctx, "ledger unreachable, falling back to off-chain store",
			"certificate_id", certificateID,
		)
	default:
		s.metrics.IncrementLedgerUnavailable()
		s.logger.ErrorContext(ctx, "unexpected ledger error, falling back to off-chain store",
			"certificate_id", certificateID,
			"error", ledgerErr,
		)
	}

	return s.storeResult(ctx, certificateID, row, rowErr, method)
}

// ledgerResult merges the authoritative ledger snapshot with off-chain
// enrichment. Enrichment failures never fail the verification.
func (s *Service) ledgerResult(ctx context.Context, certificateID string, onChain *ledger.Certificate, row domain.Certificate, rowErr error, method domain.VerificationMethod) *Result {
	result := &Result{
		CertificateID:   certificateID,
		Source:          domain.TrustLedger,
		Trusted:         true,
		Valid:           onChain.IsValid,
		StudentName:     onChain.StudentName,
		CourseName:      onChain.CourseName,
		IssueDate:       onChain.IssueDate,
		InstitutionName: onChain.InstitutionName,
		IssuerAddress:   onChain.IssuerAddress.Hex(),
	}

	switch {
	case rowErr == nil:
		result.TxRef = row.TxRef
		result.RevocationReason = row.RevocationReason
		result.RevocationDate = row.RevocationDate
		if row.IsRevoked == onChain.IsValid {
			// Both sources answered and disagree on revocation. The ledger
			// flag already won above; record the mismatch for an operator.
			s.reportMismatch(ctx, certificateID, onChain.IsValid, row.IsRevoked)
		}
	case errors.Is(rowErr, store.ErrNotFound):
		// Ledger-only certificate (failed off-chain write); serve ledger
		// facts with the supplementary fields empty.
	default:
		s.logger.WarnContext(ctx, "off-chain enrichment failed",
			"certificate_id", certificateID,
			"error", rowErr,
		)
	}

	s.metrics.IncrementVerification("ledger")
	s.record(ctx, certificateID, domain.TrustLedger, method)
	return result
}

// storeResult serves the off-chain fallback with the degraded trust tag.
func (s *Service) storeResult(ctx context.Context, certificateID string, row domain.Certificate, rowErr error, method domain.VerificationMethod) (*Result, error) {
	if rowErr != nil {
		if errors.Is(rowErr, store.ErrNotFound) {
			s.metrics.IncrementVerificationNotFound()
			return nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
		}
		return nil, dErrors.Wrap(rowErr, dErrors.CodeInternal, "failed to load certificate")
	}

	result := &Result{
		CertificateID:    certificateID,
		Source:           domain.TrustStore,
		Trusted:          false,
		Valid:            !row.IsRevoked,
		CourseName:       row.CourseName,
		IssueDate:        row.IssueDate,
		TxRef:            row.TxRef,
		RevocationReason: row.RevocationReason,
		RevocationDate:   row.RevocationDate,
	}
	if student, err := s.students.FindByID(ctx, row.StudentID); err == nil {
		result.StudentName = student.Name
	}

	s.metrics.IncrementVerification("store")
	s.record(ctx, certificateID, domain.TrustStore, method)
	return result, nil
}

func (s *Service) reportMismatch(ctx context.Context, certificateID string, ledgerValid, storeRevoked bool) {
	exists, err := s.divergences.Exists(ctx, certificateID, domain.DivergenceStatusMismatch)
	if err == nil && exists {
		return
	}
	s.metrics.IncrementDivergence(string(domain.DivergenceStatusMismatch))
	s.logger.WarnContext(ctx, "revocation status mismatch between ledger and store",
		"certificate_id", certificateID,
		"ledger_valid", ledgerValid,
		"store_revoked", storeRevoked,
	)
	div := domain.Divergence{
		ID:            uuid.New(),
		CertificateID: certificateID,
		Kind:          domain.DivergenceStatusMismatch,
		Detail:        "ledger and off-chain store disagree on revocation status",
		DetectedAt:    s.now().UTC(),
	}
	if err := s.divergences.Append(ctx, div); err != nil {
		s.logger.ErrorContext(ctx, "failed to record divergence",
			"certificate_id", certificateID,
			"error", err,
		)
	}
}

// record enqueues the audit event. It never blocks and never fails the
// resolution.
func (s *Service) record(ctx context.Context, certificateID string, source domain.TrustTag, method domain.VerificationMethod) {
	if s.recorder == nil {
		return
	}
	s.recorder.Enqueue(domain.VerificationEvent{
		ID:            uuid.New(),
		CertificateID: certificateID,
		Method:        method,
		SourceAddr:    requestcontext.ClientIP(ctx),
		Source:        source,
		OccurredAt:    s.now().UTC(),
	})
}
