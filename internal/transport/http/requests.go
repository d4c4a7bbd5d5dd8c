package httptransport

import (
	"strings"

	"certifychain/internal/domain"
	dErrors "certifychain/pkg/domain-errors"
)

type registerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (r *registerRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "name is required")
	}
	if email := strings.TrimSpace(r.Email); email == "" || !strings.Contains(email, "@") {
		return dErrors.New(dErrors.CodeInvalidInput, "email must be a valid email address")
	}
	return nil
}

type updateContactRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

type createKeyRequest struct {
	Label       string   `json:"label"`
	Permissions []string `json:"permissions"`
}

func (r *createKeyRequest) Validate() error {
	if strings.TrimSpace(r.Label) == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "label is required")
	}
	if len(r.Permissions) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "permissions are required")
	}
	for _, p := range r.Permissions {
		if !domain.Permission(p).IsValid() {
			return dErrors.Newf(dErrors.CodeInvalidInput, "unknown permission %q", p)
		}
	}
	return nil
}

func (r *createKeyRequest) permissions() []domain.Permission {
	out := make([]domain.Permission, 0, len(r.Permissions))
	for _, p := range r.Permissions {
		out = append(out, domain.Permission(p))
	}
	return out
}

type toggleKeyRequest struct {
	Active *bool `json:"is_active"`
}

func (r *toggleKeyRequest) Validate() error {
	if r.Active == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "is_active is required")
	}
	return nil
}
