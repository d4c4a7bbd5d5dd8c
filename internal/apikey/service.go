// Package apikey manages programmatic credentials: creation, listing,
// activation toggles, deletion, and per-request authentication.
package apikey

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"certifychain/internal/apikey/secrets"
	"certifychain/internal/domain"
	"certifychain/internal/store"
	dErrors "certifychain/pkg/domain-errors"
)

// plaintextPrefix marks keys from this system in caller configuration.
const plaintextPrefix = "ck_"

// Store is the persistence surface the service needs.
type Store interface {
	Save(ctx context.Context, key domain.APIKey) error
	FindByFingerprint(ctx context.Context, fingerprint []byte) (domain.APIKey, error)
	FindByID(ctx context.Context, id uuid.UUID) (domain.APIKey, error)
	ListByInstitution(ctx context.Context, institutionID uuid.UUID) ([]domain.APIKey, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	Delete(ctx context.Context, id uuid.UUID) error
	TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Service orchestrates API key management and authentication.
type Service struct {
	keys   Store
	logger *slog.Logger
	now    func() time.Time
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New constructs a Service.
func New(keys Store, opts ...Option) *Service {
	s := &Service{keys: keys, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreatedKey carries the one-time plaintext alongside the stored record.
// The plaintext is never persisted and never shown again.
type CreatedKey struct {
	Key       domain.APIKey
	Plaintext string
}

// Create mints a key for the institution. The returned plaintext is the only
// copy; storage keeps the bcrypt hash and the SHA-256 fingerprint.
func (s *Service) Create(ctx context.Context, institutionID uuid.UUID, label string, permissions []domain.Permission) (*CreatedKey, error) {
	label = strings.TrimSpace(label)

	secret, err := secrets.Generate()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate key material")
	}
	plaintext := plaintextPrefix + secret

	hash, err := secrets.Hash(plaintext)
	if err != nil {
		return nil, err
	}

	key, err := domain.NewAPIKey(
		uuid.New(),
		institutionID,
		label,
		plaintext[:len(plaintextPrefix)+8],
		hash,
		secrets.Fingerprint(plaintext),
		permissions,
		s.now().UTC(),
	)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeInvalidInput, err.Error())
		}
		return nil, err
	}

	if err := s.keys.Save(ctx, *key); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store api key")
	}

	s.logger.InfoContext(ctx, "api key created",
		"key_id", key.ID,
		"institution_id", institutionID,
		"permissions", key.Permissions,
	)
	return &CreatedKey{Key: *key, Plaintext: plaintext}, nil
}

// Authenticate resolves a raw key to its record. Unknown, inactive, and
// mismatched keys all fail with the same invalid_credential code so callers
// cannot probe which keys exist. Nothing is cached: an activation toggle is
// visible on the very next request.
func (s *Service) Authenticate(ctx context.Context, rawKey string) (domain.APIKey, error) {
	key, err := s.keys.FindByFingerprint(ctx, secrets.Fingerprint(rawKey))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.APIKey{}, dErrors.New(dErrors.CodeInvalidCredential, "invalid API key")
		}
		return domain.APIKey{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up api key")
	}
	if !key.Active {
		return domain.APIKey{}, dErrors.New(dErrors.CodeInvalidCredential, "invalid API key")
	}
	if err := secrets.Verify(rawKey, key.SecretHash); err != nil {
		return domain.APIKey{}, dErrors.New(dErrors.CodeInvalidCredential, "invalid API key")
	}

	// Usage tracking is best effort; a write failure must not block the call.
	if err := s.keys.TouchLastUsed(ctx, key.ID, s.now().UTC()); err != nil {
		s.logger.WarnContext(ctx, "failed to update api key last_used_at",
			"key_id", key.ID,
			"error", err,
		)
	}
	return key, nil
}

// List returns the institution's keys, hashes excluded by the domain type's
// JSON tags.
func (s *Service) List(ctx context.Context, institutionID uuid.UUID) ([]domain.APIKey, error) {
	keys, err := s.keys.ListByInstitution(ctx, institutionID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list api keys")
	}
	return keys, nil
}

// SetActive toggles a key owned by the institution. Keys of other
// institutions report not_found rather than forbidden so ownership cannot be
// probed by ID.
func (s *Service) SetActive(ctx context.Context, institutionID, id uuid.UUID, active bool) error {
	if err := s.requireOwnership(ctx, institutionID, id); err != nil {
		return err
	}
	if err := s.keys.SetActive(ctx, id, active); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update api key")
	}
	s.logger.InfoContext(ctx, "api key toggled", "key_id", id, "active", active)
	return nil
}

// Delete removes a key owned by the institution.
func (s *Service) Delete(ctx context.Context, institutionID, id uuid.UUID) error {
	if err := s.requireOwnership(ctx, institutionID, id); err != nil {
		return err
	}
	if err := s.keys.Delete(ctx, id); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete api key")
	}
	s.logger.InfoContext(ctx, "api key deleted", "key_id", id)
	return nil
}

func (s *Service) requireOwnership(ctx context.Context, institutionID, id uuid.UUID) error {
	key, err := s.keys.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "api key not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load api key")
	}
	if key.InstitutionID != institutionID {
		return dErrors.New(dErrors.CodeNotFound, "api key not found")
	}
	return nil
}
