package issuance

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
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

type fixture struct {
	svc         *Service
	chain       *ledger.StateMachine
	students    *store.MemoryStudentStore
	certs       *store.MemoryCertificateStore
	divergences *store.MemoryDivergenceStore
	inst        domain.Institution
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	chain := ledger.NewStateMachine(nil)
	_, err := chain.RegisterInstitution(context.Background(), issuerAddr, "Tech University", "admin@techu.edu")
	require.NoError(t, err)

	f := &fixture{
		chain:       chain,
		students:    store.NewMemoryStudentStore(),
		certs:       store.NewMemoryCertificateStore(),
		divergences: store.NewMemoryDivergenceStore(),
		inst: domain.Institution{
			ID:      uuid.New(),
			Address: issuerAddr,
			Name:    "Tech University",
			Email:   "admin@techu.edu",
		},
	}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	opts = append([]Option{WithLogger(logger), WithBackoff(0)}, opts...)
	f.svc = New(chain, f.students, f.certs, f.divergences, opts...)
	return f
}

func validRequest() Request {
	return Request{
		StudentName:  "Jane Doe",
		StudentEmail: "jane@example.com",
		CourseName:   "Data Science",
	}
}

func TestIssueHappyPath(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Issue(context.Background(), f.inst, validRequest())
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, result.Status)
	assert.True(t, strings.HasPrefix(result.CertificateID, "CERT-"))
	assert.NotEmpty(t, result.TxRef)

	// Ledger holds the issuance snapshot.
	onChain, err := f.chain.VerifyCertificate(context.Background(), result.CertificateID)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", onChain.StudentName)
	assert.Equal(t, "Tech University", onChain.InstitutionName)
	assert.True(t, onChain.IsValid)

	// Off-chain row links student and institution and carries the tx ref.
	row, err := f.certs.FindByCertificateID(context.Background(), result.CertificateID)
	require.NoError(t, err)
	assert.Equal(t, f.inst.ID, row.InstitutionID)
	assert.Equal(t, result.TxRef, row.TxRef)
	assert.False(t, row.IsRevoked)

	student, err := f.students.FindByEmail(context.Background(), "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, student.ID, row.StudentID)
}

func TestIssueValidation(t *testing.T) {
	f := newFixture(t)

	for _, req := range []Request{
		{StudentEmail: "jane@example.com", CourseName: "Math"},
		{StudentName: "Jane", CourseName: "Math"},
		{StudentName: "Jane", StudentEmail: "not-an-email", CourseName: "Math"},
		{StudentName: "Jane", StudentEmail: "jane@example.com"},
	} {
		_, err := f.svc.Issue(context.Background(), f.inst, req)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput), "request %+v", req)
	}
}

func TestIssueReusesStudentAndRefreshesName(t *testing.T) {
	f := newFixture(t)

	first, err := f.svc.Issue(context.Background(), f.inst, validRequest())
	require.NoError(t, err)

	renamed := validRequest()
	renamed.StudentName = "Jane A. Doe"
	renamed.CourseName = "Machine Learning"
	second, err := f.svc.Issue(context.Background(), f.inst, renamed)
	require.NoError(t, err)

	student, err := f.students.FindByEmail(context.Background(), "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Jane A. Doe", student.Name)

	row1, err := f.certs.FindByCertificateID(context.Background(), first.CertificateID)
	require.NoError(t, err)
	row2, err := f.certs.FindByCertificateID(context.Background(), second.CertificateID)
	require.NoError(t, err)
	assert.Equal(t, row1.StudentID, row2.StudentID)
}

func TestIssueNotRegistered(t *testing.T) {
	f := newFixture(t)
	stranger := f.inst
	stranger.Address = common.HexToAddress("0x2222222222222222222222222222222222222222")

	_, err := f.svc.Issue(context.Background(), stranger, validRequest())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
}

// flakyLedger wraps a Client and injects scripted failures into
// IssueCertificate.
type flakyLedger struct {
	ledger.Client
	failures []error
	calls    int
	ids      []string
}

func (l *flakyLedger) IssueCertificate(ctx context.Context, caller common.Address, id, studentName, courseName string) (*ledger.TxReceipt, error) {
	l.calls++
	l.ids = append(l.ids, id)
	if len(l.failures) > 0 {
		err := l.failures[0]
		l.failures = l.failures[1:]
		if err != nil {
			return nil, err
		}
	}
	return l.Client.IssueCertificate(ctx, caller, id, studentName, courseName)
}

func TestIssueRetriesOnDuplicateID(t *testing.T) {
	f := newFixture(t)
	flaky := &flakyLedger{Client: f.chain, failures: []error{ledger.ErrDuplicateID, ledger.ErrDuplicateID}}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	svc := New(flaky, f.students, f.certs, f.divergences, WithLogger(logger), WithBackoff(0))

	result, err := svc.Issue(context.Background(), f.inst, validRequest())
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, result.Status)
	assert.Equal(t, 3, flaky.calls)

	// Every collision produced a fresh identifier.
	seen := map[string]bool{}
	for _, id := range flaky.ids {
		assert.False(t, seen[id], "identifier %s was reused", id)
		seen[id] = true
	}
}

func TestIssueIDGenerationExhausted(t *testing.T) {
	f := newFixture(t)
	failures := make([]error, maxIDAttempts)
	for i := range failures {
		failures[i] = ledger.ErrDuplicateID
	}
	flaky := &flakyLedger{Client: f.chain, failures: failures}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	svc := New(flaky, f.students, f.certs, f.divergences, WithLogger(logger), WithBackoff(0))

	_, err := svc.Issue(context.Background(), f.inst, validRequest())
	require.ErrorIs(t, err, ErrIDGenerationExhausted)
	assert.Equal(t, maxIDAttempts, flaky.calls)
}

func TestIssueRetriesConnectivityThenSucceeds(t *testing.T) {
	f := newFixture(t)
	flaky := &flakyLedger{Client: f.chain, failures: []error{ledger.ErrUnavailable, ledger.ErrUnavailable}}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	svc := New(flaky, f.students, f.certs, f.divergences, WithLogger(logger), WithBackoff(0))

	result, err := svc.Issue(context.Background(), f.inst, validRequest())
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, result.Status)
	assert.Equal(t, maxWriteAttempts, flaky.calls)
}

func TestIssueLedgerUnavailable(t *testing.T) {
	f := newFixture(t)
	failures := make([]error, maxWriteAttempts)
	for i := range failures {
		failures[i] = ledger.ErrUnavailable
	}
	flaky := &flakyLedger{Client: f.chain, failures: failures}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	svc := New(flaky, f.students, f.certs, f.divergences, WithLogger(logger), WithBackoff(0))

	_, err := svc.Issue(context.Background(), f.inst, validRequest())
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))

	// Nothing was written off-chain and no divergence recorded: the ledger
	// write never confirmed.
	divs, err := f.divergences.List(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, divs)
}

// failingCertStore rejects every Save.
type failingCertStore struct {
	store.CertificateStore
}

func (s failingCertStore) Save(ctx context.Context, cert domain.Certificate) error {
	return errors.New("connection reset")
}

func TestIssuePartialOnStoreFailure(t *testing.T) {
	f := newFixture(t)
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	svc := New(f.chain, f.students, failingCertStore{f.certs}, f.divergences, WithLogger(logger), WithBackoff(0))

	result, err := svc.Issue(context.Background(), f.inst, validRequest())
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, result.Status)
	assert.NotEmpty(t, result.TxRef)

	// The certificate is live on the ledger despite the off-chain miss.
	onChain, err := f.chain.VerifyCertificate(context.Background(), result.CertificateID)
	require.NoError(t, err)
	assert.True(t, onChain.IsValid)

	divs, err := f.divergences.List(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, divs, 1)
	assert.Equal(t, result.CertificateID, divs[0].CertificateID)
	assert.Equal(t, domain.DivergenceStoreMissing, divs[0].Kind)
}

type recordingDeliverer struct {
	calls int
	err   error
}

func (d *recordingDeliverer) Deliver(ctx context.Context, cert domain.Certificate, student domain.Student) error {
	d.calls++
	return d.err
}

func TestIssueDeliveryFailureDoesNotAffectResult(t *testing.T) {
	deliverer := &recordingDeliverer{err: errors.New("smtp down")}
	f := newFixture(t, WithDeliverer(deliverer))

	result, err := f.svc.Issue(context.Background(), f.inst, validRequest())
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, result.Status)
	assert.Equal(t, 1, deliverer.calls)
}

func TestIssueBatchIndependentItems(t *testing.T) {
	f := newFixture(t)

	reqs := []Request{
		validRequest(),
		{StudentName: "No Email", CourseName: "History"},
		{StudentName: "Bob Smith", StudentEmail: "bob@example.com", CourseName: "Physics"},
	}
	items := f.svc.IssueBatch(context.Background(), f.inst, reqs)
	require.Len(t, items, 3)

	assert.NotNil(t, items[0].Result)
	assert.Empty(t, items[0].Error)

	assert.Nil(t, items[1].Result)
	assert.NotEmpty(t, items[1].Error)

	assert.NotNil(t, items[2].Result)
	assert.Equal(t, StatusConfirmed, items[2].Result.Status)
}

// nthFailCertStore rejects exactly one Save, counted in call order.
type nthFailCertStore struct {
	store.CertificateStore
	failOn int
	calls  int
}

func (s *nthFailCertStore) Save(ctx context.Context, cert domain.Certificate) error {
	s.calls++
	if s.calls == s.failOn {
		return errors.New("connection reset")
	}
	return s.CertificateStore.Save(ctx, cert)
}

func TestIssueBatchSecondItemStoreFailure(t *testing.T) {
	f := newFixture(t)
	certs := &nthFailCertStore{CertificateStore: f.certs, failOn: 2}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	svc := New(f.chain, f.students, certs, f.divergences, WithLogger(logger), WithBackoff(0))

	reqs := []Request{
		{StudentName: "Jane Doe", StudentEmail: "jane@example.com", CourseName: "Data Science"},
		{StudentName: "Bob Smith", StudentEmail: "bob@example.com", CourseName: "Physics"},
		{StudentName: "Ada King", StudentEmail: "ada@example.com", CourseName: "Mathematics"},
	}
	items := svc.IssueBatch(context.Background(), f.inst, reqs)
	require.Len(t, items, 3)

	require.NotNil(t, items[0].Result)
	assert.Equal(t, StatusConfirmed, items[0].Result.Status)

	// The middle item confirmed on the ledger, missed the store, and is
	// reported partial rather than failing the batch.
	require.NotNil(t, items[1].Result)
	assert.Equal(t, StatusPartial, items[1].Result.Status)
	assert.Empty(t, items[1].Error)

	require.NotNil(t, items[2].Result)
	assert.Equal(t, StatusConfirmed, items[2].Result.Status)

	onChain, err := f.chain.VerifyCertificate(context.Background(), items[1].Result.CertificateID)
	require.NoError(t, err)
	assert.True(t, onChain.IsValid)

	divs, err := f.divergences.List(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, divs, 1)
	assert.Equal(t, items[1].Result.CertificateID, divs[0].CertificateID)
	assert.Equal(t, domain.DivergenceStoreMissing, divs[0].Kind)

	// No identifier was reused across items.
	ids := map[string]struct{}{}
	for _, item := range items {
		ids[item.Result.CertificateID] = struct{}{}
	}
	assert.Len(t, ids, 3)
}

func TestGeneratorFormat(t *testing.T) {
	fixed := time.Date(2024, 1, 10, 9, 30, 0, 0, time.UTC)
	gen := NewGenerator(func() time.Time { return fixed })

	id, err := gen.Next()
	require.NoError(t, err)

	parts := strings.Split(id, "-")
	require.Len(t, parts, 3)
	assert.Equal(t, "CERT", parts[0])
	assert.Equal(t, strings.ToUpper(strconv36(fixed.UnixMilli())), parts[1])
	assert.Len(t, parts[2], 6)
	assert.Equal(t, strings.ToUpper(id), id)

	other, err := gen.Next()
	require.NoError(t, err)
	assert.NotEqual(t, id, other)
}

func strconv36(v int64) string {
	const digits = "0123456789abcdefghijklmnopqrstuvwxyz"
	if v == 0 {
		return "0"
	}
	var out []byte
	for v > 0 {
		out = append([]byte{digits[v%36]}, out...)
		v /= 36
	}
	return string(out)
}
