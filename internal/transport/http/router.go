// Package httptransport is the thin HTTP layer. Handlers decode, delegate to
// services, and encode; business rules live in the service packages.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"certifychain/internal/apikey"
	"certifychain/internal/domain"
	"certifychain/internal/issuance"
	"certifychain/internal/platform/middleware"
	"certifychain/internal/revocation"
	"certifychain/internal/store"
	"certifychain/internal/verification"
)

// Verifier resolves certificates.
type Verifier interface {
	Verify(ctx context.Context, certificateID string, method domain.VerificationMethod) (*verification.Result, error)
}

// Issuer runs the two-phase issuance write.
type Issuer interface {
	Issue(ctx context.Context, inst domain.Institution, req issuance.Request) (*issuance.Result, error)
	IssueBatch(ctx context.Context, inst domain.Institution, reqs []issuance.Request) []issuance.BatchItem
}

// Revoker runs the two-phase revocation write.
type Revoker interface {
	Revoke(ctx context.Context, inst domain.Institution, certificateID, reason string) (*revocation.Result, error)
}

// InstitutionService manages issuer onboarding and profile access.
type InstitutionService interface {
	Register(ctx context.Context, addr common.Address, name, email string) (*domain.Institution, error)
	Profile(ctx context.Context, addr common.Address) (*domain.Institution, error)
	ByID(ctx context.Context, id uuid.UUID) (*domain.Institution, error)
	UpdateContact(ctx context.Context, addr common.Address, name, email string) (*domain.Institution, error)
	Certificates(ctx context.Context, institutionID uuid.UUID) ([]domain.Certificate, error)
}

// KeyManager manages API keys for an institution.
type KeyManager interface {
	Create(ctx context.Context, institutionID uuid.UUID, label string, permissions []domain.Permission) (*apikey.CreatedKey, error)
	List(ctx context.Context, institutionID uuid.UUID) ([]domain.APIKey, error)
	SetActive(ctx context.Context, institutionID, id uuid.UUID, active bool) error
	Delete(ctx context.Context, institutionID, id uuid.UUID) error
}

// Handler holds the wired services.
type Handler struct {
	verifier     Verifier
	issuer       Issuer
	revoker      Revoker
	institutions InstitutionService
	keys         KeyManager
	divergences  store.DivergenceStore
	walletAuth   *middleware.WalletAuthenticator
	keyAuth      middleware.KeyAuthenticator
	logger       *slog.Logger

	// publicBaseURL prefixes the verification links in issuance responses.
	publicBaseURL string

	// operatorToken gates the /internal routes; empty disables them.
	operatorToken string
}

type Config struct {
	Verifier      Verifier
	Issuer        Issuer
	Revoker       Revoker
	Institutions  InstitutionService
	Keys          KeyManager
	Divergences   store.DivergenceStore
	WalletAuth    *middleware.WalletAuthenticator
	KeyAuth       middleware.KeyAuthenticator
	Logger        *slog.Logger
	PublicBaseURL string
	OperatorToken string
}

func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		verifier:      cfg.Verifier,
		issuer:        cfg.Issuer,
		revoker:       cfg.Revoker,
		institutions:  cfg.Institutions,
		keys:          cfg.Keys,
		divergences:   cfg.Divergences,
		walletAuth:    cfg.WalletAuth,
		keyAuth:       cfg.KeyAuth,
		logger:        logger,
		publicBaseURL: cfg.PublicBaseURL,
		operatorToken: cfg.OperatorToken,
	}
}

// Register wires all routes onto the router.
func (h *Handler) Register(r chi.Router) {
	r.Use(middleware.Recovery(h.logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(h.logger))

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Public verification.
	r.Get("/certificates/{id}", h.handlePublicVerify)

	// Programmatic surface, API-key authenticated with per-route permission.
	r.Route("/api/v1", func(r chi.Router) {
		r.With(middleware.RequireAPIKey(h.keyAuth, domain.PermissionVerify, h.logger)).
			Get("/certificates", h.handleAPIVerify)
		r.With(middleware.RequireAPIKey(h.keyAuth, domain.PermissionIssue, h.logger)).
			Post("/certificates", h.handleAPIIssue)
		r.With(middleware.RequireAPIKey(h.keyAuth, domain.PermissionRevoke, h.logger)).
			Post("/certificates/{id}/revoke", h.handleAPIRevoke)
	})

	// Interactive surface, wallet authenticated. Registration only verifies
	// the signature; everything else also requires ledger registration.
	r.Route("/institutions", func(r chi.Router) {
		r.With(h.walletAuth.RequireWalletSignature).
			Post("/register", h.handleRegister)

		r.Group(func(r chi.Router) {
			r.Use(h.walletAuth.RequireWallet)
			r.Get("/me", h.handleProfile)
			r.Patch("/me", h.handleUpdateContact)
			r.Get("/certificates", h.handleListCertificates)
			r.Post("/certificates", h.handleWalletIssue)
			r.Post("/certificates/batch", h.handleWalletIssueBatch)
			r.Post("/certificates/{id}/revoke", h.handleWalletRevoke)
			r.Post("/api-keys", h.handleCreateKey)
			r.Get("/api-keys", h.handleListKeys)
			r.Patch("/api-keys/{id}", h.handleToggleKey)
			r.Delete("/api-keys/{id}", h.handleDeleteKey)
		})
	})

	// Operator view of partially applied writes. Resolving one silences the
	// resolver and the reconcile scan for that certificate, so both routes
	// sit behind the operator token.
	r.Route("/internal", func(r chi.Router) {
		r.Use(middleware.RequireOperator(h.operatorToken, h.logger))
		r.Get("/divergences", h.handleListDivergences)
		r.Post("/divergences/{id}/resolve", h.handleResolveDivergence)
	})
}
