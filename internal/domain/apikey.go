package domain

import (
	"time"

	"github.com/google/uuid"

	dErrors "certifychain/pkg/domain-errors"
)

// Permission is a capability granted to an API key.
type Permission string

const (
	PermissionVerify Permission = "verify"
	PermissionIssue  Permission = "issue"
	PermissionRevoke Permission = "revoke"
)

func (p Permission) IsValid() bool {
	switch p {
	case PermissionVerify, PermissionIssue, PermissionRevoke:
		return true
	}
	return false
}

// APIKey is a programmatic credential owned by an institution.
//
// Invariants:
//   - Label is non-empty and at most 128 characters
//   - Permissions is a non-empty subset of {verify, issue, revoke}
//   - SecretHash holds a bcrypt hash; the plaintext is shown exactly once
//   - Fingerprint is the SHA-256 of the plaintext, used for lookup
//   - Active toggles take effect on the next request; nothing is cached
type APIKey struct {
	ID            uuid.UUID    `json:"id"`
	InstitutionID uuid.UUID    `json:"institution_id"`
	Label         string       `json:"label"`
	Prefix        string       `json:"key_prefix"`
	SecretHash    string       `json:"-"`
	Fingerprint   []byte       `json:"-"`
	Permissions   []Permission `json:"permissions"`
	Active        bool         `json:"is_active"`
	CreatedAt     time.Time    `json:"created_at"`
	LastUsedAt    *time.Time   `json:"last_used_at,omitempty"`
}

// NewAPIKey validates invariants and builds an active key.
func NewAPIKey(id, institutionID uuid.UUID, label, prefix, secretHash string, fingerprint []byte, permissions []Permission, now time.Time) (*APIKey, error) {
	if label == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "api key label cannot be empty")
	}
	if len(label) > 128 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "api key label must be 128 characters or less")
	}
	if len(permissions) == 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "permissions cannot be empty")
	}
	for _, p := range permissions {
		if !p.IsValid() {
			return nil, dErrors.Newf(dErrors.CodeInvariantViolation, "invalid permission %q", p)
		}
	}
	return &APIKey{
		ID:            id,
		InstitutionID: institutionID,
		Label:         label,
		Prefix:        prefix,
		SecretHash:    secretHash,
		Fingerprint:   fingerprint,
		Permissions:   permissions,
		Active:        true,
		CreatedAt:     now,
	}, nil
}

// Allows reports whether the key grants the permission.
func (k *APIKey) Allows(p Permission) bool {
	for _, granted := range k.Permissions {
		if granted == p {
			return true
		}
	}
	return false
}
