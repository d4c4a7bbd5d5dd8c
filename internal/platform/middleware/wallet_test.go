package middleware

import (
	"bytes"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"certifychain/internal/ledger"
	"certifychain/internal/platform/middleware/mocks"
	"certifychain/pkg/requestcontext"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func signHeaders(t *testing.T, key *ecdsa.PrivateKey, ts int64, addV27 bool) http.Header {
	t.Helper()
	hash := accounts.TextHash([]byte(AuthMessage(ts)))
	sig, err := crypto.Sign(hash, key)
	require.NoError(t, err)
	if addV27 {
		sig[crypto.RecoveryIDOffset] += 27
	}
	h := http.Header{}
	h.Set(headerWalletAddress, crypto.PubkeyToAddress(key.PublicKey).Hex())
	h.Set(headerWalletSignature, hexutil.Encode(sig))
	h.Set(headerWalletTimestamp, strconv.FormatInt(ts, 10))
	return h
}

func walletRequest(t *testing.T, key *ecdsa.PrivateKey, ts int64, addV27 bool) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/institutions/me", nil)
	req.Header = signHeaders(t, key, ts, addV27)
	return req
}

func TestWalletAuthAcceptsValidSignature(t *testing.T) {
	ctrl := gomock.NewController(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	registry := mocks.NewMockInstitutionRegistry(ctrl)
	registry.EXPECT().InstitutionDetails(gomock.Any(), addr).
		Return(&ledger.Institution{Name: "Tech University", Registered: true}, nil).
		Times(2)

	auth := NewWalletAuthenticator(registry, testLogger())
	var seen common.Address
	handler := auth.RequireWallet(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestcontext.WalletAddress(r.Context())
	}))

	// Both V encodings (0/1 raw recovery id and the 27/28 wallet form) must
	// verify.
	for _, addV27 := range []bool{false, true} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, walletRequest(t, key, time.Now().Unix(), addV27))
		assert.Equal(t, http.StatusOK, rec.Code, "addV27=%v", addV27)
		assert.Equal(t, addr, seen)
	}
}

func TestWalletAuthMissingHeaders(t *testing.T) {
	ctrl := gomock.NewController(t)
	auth := NewWalletAuthenticator(mocks.NewMockInstitutionRegistry(ctrl), testLogger())
	handler := auth.RequireWallet(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/institutions/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "unauthenticated")
}

func TestWalletAuthRejectsWrongAddress(t *testing.T) {
	ctrl := gomock.NewController(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	auth := NewWalletAuthenticator(mocks.NewMockInstitutionRegistry(ctrl), testLogger())
	handler := auth.RequireWallet(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := walletRequest(t, key, time.Now().Unix(), false)
	req.Header.Set(headerWalletAddress, "0x2222222222222222222222222222222222222222")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_credential")
}

func TestWalletAuthRejectsStaleTimestamp(t *testing.T) {
	ctrl := gomock.NewController(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	auth := NewWalletAuthenticator(mocks.NewMockInstitutionRegistry(ctrl), testLogger())
	handler := auth.RequireWallet(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	stale := time.Now().Add(-signatureWindow - time.Minute).Unix()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, walletRequest(t, key, stale, false))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWalletAuthRejectsTamperedSignature(t *testing.T) {
	ctrl := gomock.NewController(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	auth := NewWalletAuthenticator(mocks.NewMockInstitutionRegistry(ctrl), testLogger())
	handler := auth.RequireWallet(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	// Signature over a different timestamp than the header claims.
	ts := time.Now().Unix()
	req := walletRequest(t, key, ts, false)
	req.Header.Set(headerWalletTimestamp, fmt.Sprintf("%d", ts-30))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWalletAuthUnregisteredInstitution(t *testing.T) {
	ctrl := gomock.NewController(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	registry := mocks.NewMockInstitutionRegistry(ctrl)
	registry.EXPECT().InstitutionDetails(gomock.Any(), addr).
		Return(&ledger.Institution{Registered: false}, nil)

	auth := NewWalletAuthenticator(registry, testLogger())
	handler := auth.RequireWallet(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, walletRequest(t, key, time.Now().Unix(), false))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWalletSignatureOnlySkipsRegistrationCheck(t *testing.T) {
	ctrl := gomock.NewController(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	// No InstitutionDetails expectation: the registration endpoint must not
	// consult the registry.
	registry := mocks.NewMockInstitutionRegistry(ctrl)
	auth := NewWalletAuthenticator(registry, testLogger())

	called := false
	handler := auth.RequireWalletSignature(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, walletRequest(t, key, time.Now().Unix(), true))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
}
