// Package store holds the off-chain record store: mutable relational storage
// for the metadata that does not belong on the ledger. Stores are
// interface-driven so unit tests use the in-memory implementations and
// production wires Postgres, without rewiring business code.
package store

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"certifychain/internal/domain"
)

type InstitutionStore interface {
	Save(ctx context.Context, inst domain.Institution) error
	FindByAddress(ctx context.Context, addr common.Address) (domain.Institution, error)
	FindByID(ctx context.Context, id uuid.UUID) (domain.Institution, error)
	// UpdateContact changes the display-only name/email copy. The ledger
	// registration is immutable; this never propagates on-chain.
	UpdateContact(ctx context.Context, id uuid.UUID, name, email string) error
	List(ctx context.Context) ([]domain.Institution, error)
}

type StudentStore interface {
	Save(ctx context.Context, student domain.Student) error
	FindByEmail(ctx context.Context, email string) (domain.Student, error)
	FindByID(ctx context.Context, id uuid.UUID) (domain.Student, error)
	UpdateName(ctx context.Context, id uuid.UUID, name string) error
}

type CertificateStore interface {
	Save(ctx context.Context, cert domain.Certificate) error
	FindByCertificateID(ctx context.Context, certificateID string) (domain.Certificate, error)
	Exists(ctx context.Context, certificateID string) (bool, error)
	// MarkRevoked sets the revocation narrative once. Calling it on an
	// already revoked row is a no-op that preserves the original timestamp.
	MarkRevoked(ctx context.Context, certificateID, reason string, revokedAt time.Time) error
	ListByInstitution(ctx context.Context, institutionID uuid.UUID) ([]domain.Certificate, error)
}

type APIKeyStore interface {
	Save(ctx context.Context, key domain.APIKey) error
	FindByFingerprint(ctx context.Context, fingerprint []byte) (domain.APIKey, error)
	FindByID(ctx context.Context, id uuid.UUID) (domain.APIKey, error)
	ListByInstitution(ctx context.Context, institutionID uuid.UUID) ([]domain.APIKey, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	Delete(ctx context.Context, id uuid.UUID) error
	TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error
}

// VerificationStore is append-only; events are never mutated or deleted.
type VerificationStore interface {
	Append(ctx context.Context, event domain.VerificationEvent) error
	ListByCertificate(ctx context.Context, certificateID string) ([]domain.VerificationEvent, error)
}

// DivergenceStore records detected cross-source inconsistencies for operator
// follow-up. Append-only aside from the manual resolved flag.
type DivergenceStore interface {
	Append(ctx context.Context, div domain.Divergence) error
	// Exists reports whether this divergence was ever recorded, resolved or
	// not, so detectors do not reopen what an operator closed.
	Exists(ctx context.Context, certificateID string, kind domain.DivergenceKind) (bool, error)
	List(ctx context.Context, unresolvedOnly bool) ([]domain.Divergence, error)
	Resolve(ctx context.Context, id uuid.UUID) error
}
