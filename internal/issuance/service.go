// Package issuance coordinates the two-phase certificate write: ledger first,
// off-chain second. A confirmed ledger write is permanent; the off-chain side
// is never rolled back, only reported as divergent when it fails.
package issuance

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
	// maxIDAttempts bounds identifier regeneration on ledger collisions.
	maxIDAttempts = 5
	// maxWriteAttempts bounds retries of a ledger write on connectivity
	// failures. Deterministic rejections are never retried.
	maxWriteAttempts = 3

	retryBackoff = 500 * time.Millisecond
)

// ErrIDGenerationExhausted reports that every generated identifier collided.
var ErrIDGenerationExhausted = dErrors.New(dErrors.CodeConflict, "certificate identifier generation exhausted")

// Status reports how far the two-phase write got.
type Status string

const (
	// StatusConfirmed: ledger and off-chain both hold the certificate.
	StatusConfirmed Status = "confirmed"
	// StatusPartial: the ledger write confirmed but the off-chain write
	// failed. The certificate is valid; its metadata is missing until an
	// operator reconciles the recorded divergence.
	StatusPartial Status = "partial"
)

// Request is one certificate to issue.
type Request struct {
	StudentName  string    `json:"studentName"`
	StudentEmail string    `json:"studentEmail"`
	CourseName   string    `json:"courseName"`
	IssueDate    time.Time `json:"issueDate,omitzero"`
}

// Validate checks the request fields.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.StudentName) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "studentName is required")
	}
	if email := strings.TrimSpace(r.StudentEmail); email == "" || !strings.Contains(email, "@") {
		return dErrors.New(dErrors.CodeInvalidInput, "studentEmail must be a valid email address")
	}
	if strings.TrimSpace(r.CourseName) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "courseName is required")
	}
	return nil
}

// Result is the outcome of one issuance.
type Result struct {
	CertificateID string `json:"certificateId"`
	TxRef         string `json:"transactionRef"`
	Status        Status `json:"status"`
}

// Deliverer sends the issued certificate to the student. Failures only log;
// delivery never rolls back issuance.
type Deliverer interface {
	Deliver(ctx context.Context, cert domain.Certificate, student domain.Student) error
}

// Service is the issuance coordinator.
type Service struct {
	chain       ledger.Client
	students    store.StudentStore
	certs       store.CertificateStore
	divergences store.DivergenceStore
	gen         *Generator
	deliverer   Deliverer
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

func WithDeliverer(d Deliverer) Option {
	return func(s *Service) { s.deliverer = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
		s.gen = NewGenerator(now)
	}
}

// WithBackoff overrides the connectivity retry pause. Tests set it to zero.
func WithBackoff(d time.Duration) Option {
	return func(s *Service) { s.backoff = d }
}

// New constructs the coordinator.
func New(chain ledger.Client, students store.StudentStore, certs store.CertificateStore, divergences store.DivergenceStore, opts ...Option) *Service {
	s := &Service{
		chain:       chain,
		students:    students,
		certs:       certs,
		divergences: divergences,
		gen:         NewGenerator(nil),
		logger:      slog.Default(),
		tracer:      otel.Tracer("certifychain/issuance"),
		now:         time.Now,
		backoff:     retryBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue runs the two-phase write for one certificate on behalf of the
// authenticated institution.
func (s *Service) Issue(ctx context.Context, inst domain.Institution, req Request) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "issuance.Issue")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	student, err := s.resolveStudent(ctx, req)
	if err != nil {
		return nil, err
	}

	certificateID, receipt, err := s.writeLedger(ctx, inst, req)
	if err != nil {
		return nil, err
	}
	s.metrics.IncrementIssued()

	issueDate := req.IssueDate
	if issueDate.IsZero() {
		issueDate = s.now().UTC()
	}
	cert := domain.Certificate{
		ID:            uuid.New(),
		CertificateID: certificateID,
		StudentID:     student.ID,
		InstitutionID: inst.ID,
		CourseName:    strings.TrimSpace(req.CourseName),
		IssueDate:     issueDate,
		TxRef:         receipt.TxHash,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.certs.Save(ctx, cert); err != nil {
		// The ledger write is permanent. Record the divergence and report a
		// partial result; the identifier stays reserved.
		s.recordDivergence(ctx, certificateID, domain.DivergenceStoreMissing,
			"ledger write "+receipt.TxHash+" confirmed but off-chain insert failed: "+err.Error())
		s.logger.ErrorContext(ctx, "off-chain certificate write failed after ledger confirmation",
			"certificate_id", certificateID,
			"tx", receipt.TxHash,
			"error", err,
		)
		return &Result{CertificateID: certificateID, TxRef: receipt.TxHash, Status: StatusPartial}, nil
	}

	s.deliver(ctx, cert, student)

	return &Result{CertificateID: certificateID, TxRef: receipt.TxHash, Status: StatusConfirmed}, nil
}

// BatchItem is one outcome of a batch run. Err and Result are mutually
// exclusive.
type BatchItem struct {
	Index  int     `json:"index"`
	Result *Result `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// IssueBatch processes requests sequentially with independent per-item
// outcomes. One item's failure never aborts the rest.
func (s *Service) IssueBatch(ctx context.Context, inst domain.Institution, reqs []Request) []BatchItem {
	ctx, span := s.tracer.Start(ctx, "issuance.IssueBatch")
	defer span.End()

	items := make([]BatchItem, 0, len(reqs))
	for i, req := range reqs {
		item := BatchItem{Index: i}
		result, err := s.Issue(ctx, inst, req)
		if err != nil {
			item.Error = err.Error()
		} else {
			item.Result = result
		}
		items = append(items, item)
	}
	return items
}

func (s *Service) resolveStudent(ctx context.Context, req Request) (domain.Student, error) {
	email := strings.ToLower(strings.TrimSpace(req.StudentEmail))
	name := strings.TrimSpace(req.StudentName)

	student, err := s.students.FindByEmail(ctx, email)
	if err == nil {
		// Same email, newer name: refresh the display name.
		if student.Name != name {
			if err := s.students.UpdateName(ctx, student.ID, name); err != nil {
				return domain.Student{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update student")
			}
			student.Name = name
		}
		return student, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.Student{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up student")
	}

	student = domain.Student{
		ID:        uuid.New(),
		Name:      name,
		Email:     email,
		CreatedAt: s.now().UTC(),
	}
	if err := s.students.Save(ctx, student); err != nil {
		// A concurrent issuance may have created the row between lookup and
		// insert; reread on conflict.
		if errors.Is(err, store.ErrConflict) {
			return s.students.FindByEmail(ctx, email)
		}
		return domain.Student{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create student")
	}
	return student, nil
}

// writeLedger submits the issue transaction, regenerating the identifier on
// duplicate rejections and retrying connectivity failures a bounded number of
// times.
func (s *Service) writeLedger(ctx context.Context, inst domain.Institution, req Request) (string, *ledger.TxReceipt, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		certificateID, err := s.gen.Next()
		if err != nil {
			return "", nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate certificate identifier")
		}

		receipt, err := s.submit(ctx, inst, certificateID, req)
		switch {
		case err == nil:
			return certificateID, receipt, nil
		case errors.Is(err, ledger.ErrDuplicateID):
			s.logger.WarnContext(ctx, "certificate identifier collision, regenerating",
				"certificate_id", certificateID,
				"attempt", attempt+1,
			)
			continue
		case errors.Is(err, ledger.ErrNotRegistered):
			return "", nil, dErrors.New(dErrors.CodeForbidden, "institution is not registered on the ledger")
		case errors.Is(err, ledger.ErrNotAuthorized):
			return "", nil, dErrors.Wrap(err, dErrors.CodeForbidden, "ledger rejected the write for this caller")
		case errors.Is(err, ledger.ErrUnavailable):
			s.metrics.IncrementLedgerUnavailable()
			return "", nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger unavailable")
		default:
			return "", nil, dErrors.Wrap(err, dErrors.CodeInternal, "ledger write failed")
		}
	}
	return "", nil, ErrIDGenerationExhausted
}

func (s *Service) submit(ctx context.Context, inst domain.Institution, certificateID string, req Request) (*ledger.TxReceipt, error) {
	var lastErr error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ledger.ErrUnavailable
			case <-time.After(s.backoff):
			}
		}
		receipt, err := s.chain.IssueCertificate(ctx, inst.Address, certificateID,
			strings.TrimSpace(req.StudentName), strings.TrimSpace(req.CourseName))
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

func (s *Service) recordDivergence(ctx context.Context, certificateID string, kind domain.DivergenceKind, detail string) {
	s.metrics.IncrementDivergence(string(kind))
	div := domain.Divergence{
		ID:            uuid.New(),
		CertificateID: certificateID,
		Kind:          kind,
		Detail:        detail,
		DetectedAt:    s.now().UTC(),
	}
	if err := s.divergences.Append(ctx, div); err != nil {
		s.logger.ErrorContext(ctx, "failed to record divergence",
			"certificate_id", certificateID,
			"kind", kind,
			"error", err,
		)
	}
}

func (s *Service) deliver(ctx context.Context, cert domain.Certificate, student domain.Student) {
	if s.deliverer == nil {
		return
	}
	if err := s.deliverer.Deliver(ctx, cert, student); err != nil {
		s.logger.WarnContext(ctx, "certificate delivery failed",
			"certificate_id", cert.CertificateID,
			"student_email", student.Email,
			"error", err,
		)
	}
}
