package domain

import (
	"time"

	"github.com/google/uuid"
)

// TrustTag indicates which source produced a verification result.
type TrustTag string

const (
	// TrustLedger means the ledger answered and its validity flag is
	// authoritative for the result.
	TrustLedger TrustTag = "ledger-verified"
	// TrustStore means the ledger was unreachable or had no record and the
	// result was built from the off-chain store alone. Degraded trust.
	TrustStore TrustTag = "store-verified"
)

// Certificate is the off-chain record. The ledger owns the immutable issuance
// facts and the validity flag; this row owns the mutable supplement:
// revocation narrative, contact linkage, and the tx reference.
type Certificate struct {
	ID               uuid.UUID  `json:"id"`
	CertificateID    string     `json:"certificate_id"`
	StudentID        uuid.UUID  `json:"student_id"`
	InstitutionID    uuid.UUID  `json:"institution_id"`
	CourseName       string     `json:"course_name"`
	IssueDate        time.Time  `json:"issue_date"`
	TxRef            string     `json:"blockchain_tx"`
	IsRevoked        bool       `json:"is_revoked"`
	RevocationReason string     `json:"revocation_reason,omitempty"`
	RevocationDate   *time.Time `json:"revocation_date,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// VerificationMethod records how a verification request arrived.
type VerificationMethod string

const (
	VerificationMethodUI  VerificationMethod = "ui"
	VerificationMethodAPI VerificationMethod = "api"
)

// VerificationEvent is an append-only audit record of one resolution. Never
// mutated or deleted.
type VerificationEvent struct {
	ID            uuid.UUID          `json:"id"`
	CertificateID string             `json:"certificate_id"`
	Method        VerificationMethod `json:"verification_method"`
	SourceAddr    string             `json:"ip_address"`
	Source        TrustTag           `json:"source"`
	OccurredAt    time.Time          `json:"occurred_at"`
}

// DivergenceKind classifies a detected cross-source inconsistency.
type DivergenceKind string

const (
	// DivergenceStoreMissing: certificate confirmed on the ledger but absent
	// off-chain (failed step 3 of issuance, or found by the reconcile scan).
	DivergenceStoreMissing DivergenceKind = "store-missing"
	// DivergenceRevocationMissing: revoked on the ledger but the off-chain
	// row still shows active.
	DivergenceRevocationMissing DivergenceKind = "revocation-missing"
	// DivergenceStatusMismatch: both sources reachable and disagreeing on
	// revocation status at verification time.
	DivergenceStatusMismatch DivergenceKind = "status-mismatch"
)

// Divergence is an operator-facing record of a partially applied write. It is
// reported, never auto-healed; the identifier stays reserved either way.
type Divergence struct {
	ID            uuid.UUID      `json:"id"`
	CertificateID string         `json:"certificate_id"`
	Kind          DivergenceKind `json:"kind"`
	Detail        string         `json:"detail,omitempty"`
	DetectedAt    time.Time      `json:"detected_at"`
	Resolved      bool           `json:"resolved"`
}
