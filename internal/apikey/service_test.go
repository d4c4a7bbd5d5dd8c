package apikey

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certifychain/internal/domain"
	"certifychain/internal/store"
	dErrors "certifychain/pkg/domain-errors"
)

func newService(t *testing.T) (*Service, *store.MemoryAPIKeyStore) {
	t.Helper()
	keys := store.NewMemoryAPIKeyStore()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	return New(keys, WithLogger(logger)), keys
}

func TestCreateReturnsPlaintextOnce(t *testing.T) {
	svc, keys := newService(t)
	instID := uuid.New()

	created, err := svc.Create(context.Background(), instID, "CI pipeline", []domain.Permission{domain.PermissionVerify, domain.PermissionIssue})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(created.Plaintext, "ck_"))
	assert.Equal(t, created.Plaintext[:11], created.Key.Prefix)
	assert.True(t, created.Key.Active)

	// Storage holds hash and fingerprint, never the plaintext.
	stored, err := keys.FindByID(context.Background(), created.Key.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.SecretHash)
	assert.NotEqual(t, created.Plaintext, stored.SecretHash)
	assert.Len(t, stored.Fingerprint, 32)
}

func TestCreateRejectsBadInput(t *testing.T) {
	svc, _ := newService(t)
	instID := uuid.New()

	_, err := svc.Create(context.Background(), instID, "", []domain.Permission{domain.PermissionVerify})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = svc.Create(context.Background(), instID, "no perms", nil)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = svc.Create(context.Background(), instID, "bad perm", []domain.Permission{"admin"})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestAuthenticateRoundTrip(t *testing.T) {
	svc, _ := newService(t)
	instID := uuid.New()

	created, err := svc.Create(context.Background(), instID, "reader", []domain.Permission{domain.PermissionVerify})
	require.NoError(t, err)

	key, err := svc.Authenticate(context.Background(), created.Plaintext)
	require.NoError(t, err)
	assert.Equal(t, created.Key.ID, key.ID)
	assert.Equal(t, instID, key.InstitutionID)
	assert.True(t, key.Allows(domain.PermissionVerify))
	assert.False(t, key.Allows(domain.PermissionRevoke))
}

func TestAuthenticateUnknownAndInactiveIndistinguishable(t *testing.T) {
	svc, _ := newService(t)
	instID := uuid.New()

	created, err := svc.Create(context.Background(), instID, "to disable", []domain.Permission{domain.PermissionIssue})
	require.NoError(t, err)

	_, unknownErr := svc.Authenticate(context.Background(), "ck_does-not-exist")
	require.Error(t, unknownErr)
	assert.True(t, dErrors.HasCode(unknownErr, dErrors.CodeInvalidCredential))

	require.NoError(t, svc.SetActive(context.Background(), instID, created.Key.ID, false))
	_, inactiveErr := svc.Authenticate(context.Background(), created.Plaintext)
	require.Error(t, inactiveErr)
	assert.True(t, dErrors.HasCode(inactiveErr, dErrors.CodeInvalidCredential))

	// The caller-visible message must not reveal which case applied.
	assert.Equal(t, unknownErr.Error(), inactiveErr.Error())
}

func TestToggleTakesEffectImmediately(t *testing.T) {
	svc, _ := newService(t)
	instID := uuid.New()

	created, err := svc.Create(context.Background(), instID, "ops", []domain.Permission{domain.PermissionRevoke})
	require.NoError(t, err)

	require.NoError(t, svc.SetActive(context.Background(), instID, created.Key.ID, false))
	_, err = svc.Authenticate(context.Background(), created.Plaintext)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidCredential))

	require.NoError(t, svc.SetActive(context.Background(), instID, created.Key.ID, true))
	_, err = svc.Authenticate(context.Background(), created.Plaintext)
	assert.NoError(t, err)
}

func TestAuthenticateUpdatesLastUsed(t *testing.T) {
	keys := store.NewMemoryAPIKeyStore()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := New(keys, WithLogger(logger), WithClock(func() time.Time { return fixed }))

	created, err := svc.Create(context.Background(), uuid.New(), "tracked", []domain.Permission{domain.PermissionVerify})
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), created.Plaintext)
	require.NoError(t, err)

	stored, err := keys.FindByID(context.Background(), created.Key.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastUsedAt)
	assert.Equal(t, fixed, *stored.LastUsedAt)
}

func TestOwnershipHidesForeignKeys(t *testing.T) {
	svc, _ := newService(t)
	owner := uuid.New()
	other := uuid.New()

	created, err := svc.Create(context.Background(), owner, "owned", []domain.Permission{domain.PermissionVerify})
	require.NoError(t, err)

	err = svc.SetActive(context.Background(), other, created.Key.ID, false)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))

	err = svc.Delete(context.Background(), other, created.Key.ID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))

	// The owner still can.
	require.NoError(t, svc.Delete(context.Background(), owner, created.Key.ID))
	_, err = svc.Authenticate(context.Background(), created.Plaintext)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidCredential))
}
