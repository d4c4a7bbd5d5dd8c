package institution

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certifychain/internal/domain"
	"certifychain/internal/ledger"
	"certifychain/internal/store"
	dErrors "certifychain/pkg/domain-errors"
)

var walletAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")

type fixture struct {
	svc          *Service
	chain        *ledger.StateMachine
	institutions *store.MemoryInstitutionStore
	certs        *store.MemoryCertificateStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		chain:        ledger.NewStateMachine(nil),
		institutions: store.NewMemoryInstitutionStore(),
		certs:        store.NewMemoryCertificateStore(),
	}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	f.svc = New(f.chain, f.institutions, f.certs, WithLogger(logger))
	return f
}

func TestRegisterHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inst, err := f.svc.Register(ctx, walletAddr, "Tech University", "admin@techu.edu")
	require.NoError(t, err)
	assert.Equal(t, walletAddr, inst.Address)
	assert.Equal(t, "Tech University", inst.Name)

	onChain, err := f.chain.InstitutionDetails(ctx, walletAddr)
	require.NoError(t, err)
	assert.True(t, onChain.Registered)
	assert.Equal(t, "Tech University", onChain.Name)

	row, err := f.institutions.FindByAddress(ctx, walletAddr)
	require.NoError(t, err)
	assert.Equal(t, inst.ID, row.ID)
}

func TestRegisterTwiceRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, walletAddr, "Tech University", "admin@techu.edu")
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, walletAddr, "Other Name", "other@techu.edu")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))

	// First registration facts stand.
	onChain, err := f.chain.InstitutionDetails(ctx, walletAddr)
	require.NoError(t, err)
	assert.Equal(t, "Tech University", onChain.Name)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Register(context.Background(), walletAddr, "", "admin@techu.edu")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = f.svc.Register(context.Background(), walletAddr, "Tech University", "not-an-email")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestProfileBackfillsFromLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Registered on the ledger only, e.g. the off-chain write of an earlier
	// run failed.
	_, err := f.chain.RegisterInstitution(ctx, walletAddr, "Tech University", "admin@techu.edu")
	require.NoError(t, err)

	inst, err := f.svc.Profile(ctx, walletAddr)
	require.NoError(t, err)
	assert.Equal(t, "Tech University", inst.Name)

	// The backfilled row persists.
	row, err := f.institutions.FindByAddress(ctx, walletAddr)
	require.NoError(t, err)
	assert.Equal(t, inst.ID, row.ID)
}

func TestProfileUnknownWallet(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Profile(context.Background(), walletAddr)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestUpdateContactIsOffChainOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, walletAddr, "Tech University", "admin@techu.edu")
	require.NoError(t, err)

	updated, err := f.svc.UpdateContact(ctx, walletAddr, "Tech University (Main Campus)", "")
	require.NoError(t, err)
	assert.Equal(t, "Tech University (Main Campus)", updated.Name)
	assert.Equal(t, "admin@techu.edu", updated.Email)

	// The ledger registration fact never changes.
	onChain, err := f.chain.InstitutionDetails(ctx, walletAddr)
	require.NoError(t, err)
	assert.Equal(t, "Tech University", onChain.Name)
}

func TestCertificatesListsOwnRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inst, err := f.svc.Register(ctx, walletAddr, "Tech University", "admin@techu.edu")
	require.NoError(t, err)

	require.NoError(t, f.certs.Save(ctx, domain.Certificate{
		ID:            uuid.New(),
		CertificateID: "CERT-1",
		InstitutionID: inst.ID,
		StudentID:     uuid.New(),
		CourseName:    "Data Science",
	}))
	require.NoError(t, f.certs.Save(ctx, domain.Certificate{
		ID:            uuid.New(),
		CertificateID: "CERT-OTHER",
		InstitutionID: uuid.New(),
		StudentID:     uuid.New(),
		CourseName:    "History",
	}))

	rows, err := f.svc.Certificates(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "CERT-1", rows[0].CertificateID)
}
