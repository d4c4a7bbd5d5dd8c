// Package institution manages issuer onboarding: the ledger registration plus
// the mutable off-chain profile. The registration fact lives on the ledger
// and is immutable; the off-chain name/email copy is display-only and may be
// edited without touching the chain.
package institution

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"certifychain/internal/domain"
	"certifychain/internal/ledger"
	"certifychain/internal/store"
	dErrors "certifychain/pkg/domain-errors"
)

// Service orchestrates institution registration and profile access.
type Service struct {
	chain        ledger.Client
	institutions store.InstitutionStore
	certs        store.CertificateStore
	logger       *slog.Logger
	now          func() time.Time
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New constructs a Service.
func New(chain ledger.Client, institutions store.InstitutionStore, certs store.CertificateStore, opts ...Option) *Service {
	s := &Service{
		chain:        chain,
		institutions: institutions,
		certs:        certs,
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register writes the registration to the ledger and mirrors it off-chain.
// A second registration for the same address is rejected, not a no-op.
func (s *Service) Register(ctx context.Context, addr common.Address, name, email string) (*domain.Institution, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "name is required")
	}
	if email == "" || !strings.Contains(email, "@") {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "email must be a valid email address")
	}

	if _, err := s.chain.RegisterInstitution(ctx, addr, name, email); err != nil {
		switch {
		case errors.Is(err, ledger.ErrAlreadyRegistered):
			return nil, dErrors.New(dErrors.CodeConflict, "institution already registered")
		case errors.Is(err, ledger.ErrNotAuthorized):
			return nil, dErrors.Wrap(err, dErrors.CodeForbidden, "ledger rejected the registration for this caller")
		case errors.Is(err, ledger.ErrUnavailable):
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger unavailable")
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "ledger registration failed")
		}
	}

	inst := domain.Institution{
		ID:        uuid.New(),
		Address:   addr,
		Name:      name,
		Email:     email,
		CreatedAt: s.now().UTC(),
	}
	if err := s.institutions.Save(ctx, inst); err != nil {
		// A crashed earlier run may have registered on the ledger without
		// the off-chain row, or vice versa; reuse the existing row.
		if errors.Is(err, store.ErrConflict) {
			existing, ferr := s.institutions.FindByAddress(ctx, addr)
			if ferr == nil {
				return &existing, nil
			}
		}
		s.logger.ErrorContext(ctx, "off-chain institution write failed after ledger registration",
			"address", addr.Hex(),
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "registration partially applied")
	}

	s.logger.InfoContext(ctx, "institution registered",
		"institution_id", inst.ID,
		"address", addr.Hex(),
	)
	return &inst, nil
}

// Profile loads the off-chain row for an authenticated wallet. When the
// ledger holds a registration without an off-chain mirror, the row is
// backfilled from the ledger facts.
func (s *Service) Profile(ctx context.Context, addr common.Address) (*domain.Institution, error) {
	inst, err := s.institutions.FindByAddress(ctx, addr)
	if err == nil {
		return &inst, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load institution")
	}

	onChain, lerr := s.chain.InstitutionDetails(ctx, addr)
	if lerr != nil || !onChain.Registered {
		return nil, dErrors.New(dErrors.CodeNotFound, "institution not found")
	}
	inst = domain.Institution{
		ID:        uuid.New(),
		Address:   addr,
		Name:      onChain.Name,
		Email:     onChain.Email,
		CreatedAt: s.now().UTC(),
	}
	if serr := s.institutions.Save(ctx, inst); serr != nil {
		s.logger.WarnContext(ctx, "failed to backfill institution row",
			"address", addr.Hex(),
			"error", serr,
		)
	}
	return &inst, nil
}

// ByID loads the off-chain row by primary key. Used by the API-key path,
// where authentication yields the institution id rather than the wallet.
func (s *Service) ByID(ctx context.Context, id uuid.UUID) (*domain.Institution, error) {
	inst, err := s.institutions.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "institution not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load institution")
	}
	return &inst, nil
}

// UpdateContact edits the display-only copy. The ledger registration is
// untouched.
func (s *Service) UpdateContact(ctx context.Context, addr common.Address, name, email string) (*domain.Institution, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" && email == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "nothing to update")
	}
	if email != "" && !strings.Contains(email, "@") {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "email must be a valid email address")
	}

	inst, err := s.Profile(ctx, addr)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = inst.Name
	}
	if email == "" {
		email = inst.Email
	}
	if err := s.institutions.UpdateContact(ctx, inst.ID, name, email); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update institution")
	}
	inst.Name = name
	inst.Email = email
	return inst, nil
}

// Certificates lists the institution's off-chain certificate rows.
func (s *Service) Certificates(ctx context.Context, institutionID uuid.UUID) ([]domain.Certificate, error) {
	rows, err := s.certs.ListByInstitution(ctx, institutionID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list certificates")
	}
	return rows, nil
}
