// Package ledger defines the authoritative, append-only registry of
// institutions and certificates. Implementations enforce the state machines
// absent → issued → revoked (per certificate) and unregistered → registered
// (per institution address); both terminal states are irreversible.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Deterministic ledger errors. None of these are retryable except
// ErrDuplicateID during identifier generation, which the issuance coordinator
// handles by generating a fresh identifier.
var (
	ErrAlreadyRegistered = errors.New("institution already registered")
	ErrNotRegistered     = errors.New("institution not registered")
	ErrDuplicateID       = errors.New("certificate id already exists")
	ErrNotFound          = errors.New("certificate does not exist")
	ErrNotAuthorized     = errors.New("not authorized to revoke this certificate")
	ErrAlreadyRevoked    = errors.New("certificate already revoked")

	// ErrUnavailable wraps connectivity failures: the ledger could not be
	// reached at all, as opposed to answering with a deterministic rejection.
	// Reads fall back to the off-chain store; writes retry a bounded number
	// of times.
	ErrUnavailable = errors.New("ledger unavailable")
)

// Certificate is the immutable snapshot recorded at issuance plus the current
// validity flag. InstitutionName is frozen at issuance time and intentionally
// decoupled from later institution renames.
type Certificate struct {
	StudentName     string
	CourseName      string
	IssueDate       time.Time
	IssuerAddress   common.Address
	InstitutionName string
	IsValid         bool
}

// Institution is the registration fact for a wallet address.
type Institution struct {
	Name       string
	Email      string
	Registered bool
}

// TxReceipt references a confirmed ledger write.
type TxReceipt struct {
	TxHash      string
	BlockNumber uint64
}

// Client is the five-operation contract surface plus per-institution
// enumeration. Write operations block until the transaction is confirmed;
// that confirmation is the only cross-store ordering guarantee the
// coordinators get.
type Client interface {
	// RegisterInstitution transitions caller from unregistered to registered.
	// A second call fails with ErrAlreadyRegistered; it is not a no-op.
	RegisterInstitution(ctx context.Context, caller common.Address, name, email string) (*TxReceipt, error)

	// IssueCertificate creates id in state issued with validity true,
	// snapshotting the caller institution's name. Fails with ErrNotRegistered
	// or ErrDuplicateID.
	IssueCertificate(ctx context.Context, caller common.Address, id, studentName, courseName string) (*TxReceipt, error)

	// RevokeCertificate flips validity to false. Only the original issuer may
	// revoke; revocation is irreversible. Fails with ErrNotFound,
	// ErrNotAuthorized, or ErrAlreadyRevoked.
	RevokeCertificate(ctx context.Context, caller common.Address, id string) (*TxReceipt, error)

	// VerifyCertificate returns the issuance snapshot plus current validity.
	// Read-only. Fails with ErrNotFound.
	VerifyCertificate(ctx context.Context, id string) (*Certificate, error)

	// InstitutionDetails returns the registration fact for an address. For an
	// unknown address it returns a zero Institution with Registered false.
	InstitutionDetails(ctx context.Context, addr common.Address) (*Institution, error)

	// CertificateCount returns how many certificates the institution has
	// issued, and CertificateAt the identifier at the given issuance-ordered
	// index. Used by the reconcile scan.
	CertificateCount(ctx context.Context, addr common.Address) (int, error)
	CertificateAt(ctx context.Context, addr common.Address, index int) (string, error)
}
