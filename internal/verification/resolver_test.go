package verification

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certifychain/internal/domain"
	"certifychain/internal/ledger"
	"certifychain/internal/store"
	dErrors "certifychain/pkg/domain-errors"
)

var issuerAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")

const certID = "CERT-TEST-000001"

type captureRecorder struct {
	events []domain.VerificationEvent
}

func (r *captureRecorder) Enqueue(event domain.VerificationEvent) {
	r.events = append(r.events, event)
}

type fixture struct {
	svc         *Service
	chain       *ledger.StateMachine
	certs       *store.MemoryCertificateStore
	students    *store.MemoryStudentStore
	divergences *store.MemoryDivergenceStore
	recorder    *captureRecorder
	studentID   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	chain := ledger.NewStateMachine(nil)
	_, err := chain.RegisterInstitution(ctx, issuerAddr, "Tech University", "admin@techu.edu")
	require.NoError(t, err)
	_, err = chain.IssueCertificate(ctx, issuerAddr, certID, "Jane Doe", "Data Science")
	require.NoError(t, err)

	f := &fixture{
		chain:       chain,
		certs:       store.NewMemoryCertificateStore(),
		students:    store.NewMemoryStudentStore(),
		divergences: store.NewMemoryDivergenceStore(),
		recorder:    &captureRecorder{},
		studentID:   uuid.New(),
	}
	require.NoError(t, f.students.Save(ctx, domain.Student{
		ID:    f.studentID,
		Name:  "Jane Doe",
		Email: "jane@example.com",
	}))
	require.NoError(t, f.certs.Save(ctx, domain.Certificate{
		ID:            uuid.New(),
		CertificateID: certID,
		StudentID:     f.studentID,
		InstitutionID: uuid.New(),
		CourseName:    "Data Science",
		IssueDate:     time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		TxRef:         "0xabc123",
	}))

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	f.svc = New(chain, f.certs, f.students, f.divergences,
		WithLogger(logger), WithRecorder(f.recorder))
	return f
}

func TestVerifyLedgerAuthoritative(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Verify(context.Background(), certID, domain.VerificationMethodUI)
	require.NoError(t, err)

	assert.Equal(t, domain.TrustLedger, result.Source)
	assert.True(t, result.Trusted)
	assert.True(t, result.Valid)
	assert.Equal(t, "Jane Doe", result.StudentName)
	assert.Equal(t, "Data Science", result.CourseName)
	assert.Equal(t, "Tech University", result.InstitutionName)
	assert.Equal(t, issuerAddr.Hex(), result.IssuerAddress)
	// Off-chain overlay.
	assert.Equal(t, "0xabc123", result.TxRef)

	require.Len(t, f.recorder.events, 1)
	assert.Equal(t, certID, f.recorder.events[0].CertificateID)
	assert.Equal(t, domain.TrustLedger, f.recorder.events[0].Source)
	assert.Equal(t, domain.VerificationMethodUI, f.recorder.events[0].Method)
}

func TestVerifyLedgerOnlyCertificate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Issued on the ledger, never written off-chain.
	const orphan = "CERT-ORPHAN-000001"
	_, err := f.chain.IssueCertificate(ctx, issuerAddr, orphan, "Bob Smith", "Physics")
	require.NoError(t, err)

	result, err := f.svc.Verify(ctx, orphan, domain.VerificationMethodAPI)
	require.NoError(t, err)
	assert.Equal(t, domain.TrustLedger, result.Source)
	assert.Equal(t, "Bob Smith", result.StudentName)
	assert.Empty(t, result.TxRef)
	assert.Empty(t, result.RevocationReason)
}

func TestVerifyMismatchRecordsDivergence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Revoked on the ledger; the off-chain row still shows active.
	_, err := f.chain.RevokeCertificate(ctx, issuerAddr, certID)
	require.NoError(t, err)

	result, err := f.svc.Verify(ctx, certID, domain.VerificationMethodUI)
	require.NoError(t, err)
	// Ledger precedence: the certificate reports revoked.
	assert.Equal(t, domain.TrustLedger, result.Source)
	assert.False(t, result.Valid)

	divs, err := f.divergences.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, divs, 1)
	assert.Equal(t, domain.DivergenceStatusMismatch, divs[0].Kind)

	// A second verification does not duplicate the record.
	_, err = f.svc.Verify(ctx, certID, domain.VerificationMethodUI)
	require.NoError(t, err)
	divs, err = f.divergences.List(ctx, true)
	require.NoError(t, err)
	assert.Len(t, divs, 1)
}

// downLedger fails every read on connectivity.
type downLedger struct {
	ledger.Client
}

func (l downLedger) VerifyCertificate(ctx context.Context, id string) (*ledger.Certificate, error) {
	return nil, ledger.ErrUnavailable
}

func TestVerifyFallsBackWhenLedgerDown(t *testing.T) {
	f := newFixture(t)
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	svc := New(downLedger{f.chain}, f.certs, f.students, f.divergences,
		WithLogger(logger), WithRecorder(f.recorder))

	result, err := svc.Verify(context.Background(), certID, domain.VerificationMethodAPI)
	require.NoError(t, err)

	// Degraded trust is explicit, never presented as chain-verified.
	assert.Equal(t, domain.TrustStore, result.Source)
	assert.False(t, result.Trusted)
	assert.True(t, result.Valid)
	assert.Equal(t, "Jane Doe", result.StudentName)
	assert.Equal(t, "Data Science", result.CourseName)

	require.Len(t, f.recorder.events, 1)
	assert.Equal(t, domain.TrustStore, f.recorder.events[0].Source)
}

func TestVerifyFallbackUsesStoredRevocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.certs.MarkRevoked(ctx, certID, "cheating", time.Now().UTC()))

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	svc := New(downLedger{f.chain}, f.certs, f.students, f.divergences, WithLogger(logger))

	result, err := svc.Verify(ctx, certID, domain.VerificationMethodUI)
	require.NoError(t, err)
	assert.Equal(t, domain.TrustStore, result.Source)
	assert.False(t, result.Valid)
	assert.Equal(t, "cheating", result.RevocationReason)
}

func TestVerifyNotFoundInBothSources(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Verify(context.Background(), "CERT-MISSING-XYZ", domain.VerificationMethodUI)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	assert.Empty(t, f.recorder.events)
}

func TestVerifyLedgerNotFoundStillFallsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Off-chain row without a ledger counterpart. The ledger's NotFound is
	// authoritative about the ledger, not about the record's existence.
	const storeOnly = "CERT-STOREONLY-01"
	require.NoError(t, f.certs.Save(ctx, domain.Certificate{
		ID:            uuid.New(),
		CertificateID: storeOnly,
		StudentID:     f.studentID,
		CourseName:    "History",
	}))

	result, err := f.svc.Verify(ctx, storeOnly, domain.VerificationMethodUI)
	require.NoError(t, err)
	assert.Equal(t, domain.TrustStore, result.Source)
	assert.False(t, result.Trusted)
}

// brokenCertStore fails reads with a non-NotFound error.
type brokenCertStore struct {
	store.CertificateStore
}

func (s brokenCertStore) FindByCertificateID(ctx context.Context, certificateID string) (domain.Certificate, error) {
	return domain.Certificate{}, errors.New("connection reset")
}

func TestVerifyEnrichmentFailureDoesNotFailLedgerResult(t *testing.T) {
	f := newFixture(t)
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	svc := New(f.chain, brokenCertStore{f.certs}, f.students, f.divergences, WithLogger(logger))

	result, err := svc.Verify(context.Background(), certID, domain.VerificationMethodUI)
	require.NoError(t, err)
	assert.Equal(t, domain.TrustLedger, result.Source)
	assert.Equal(t, "Jane Doe", result.StudentName)
	assert.Empty(t, result.TxRef)
}

func TestVerifyEmptyID(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Verify(context.Background(), "  ", domain.VerificationMethodUI)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}
