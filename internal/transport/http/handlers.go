package httptransport

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"certifychain/internal/domain"
	"certifychain/internal/issuance"
	"certifychain/internal/store"
	dErrors "certifychain/pkg/domain-errors"
	"certifychain/pkg/platform/httputil"
	"certifychain/pkg/requestcontext"
)

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- verification ---

func (h *Handler) handlePublicVerify(w http.ResponseWriter, r *http.Request) {
	result, err := h.verifier.Verify(r.Context(), chi.URLParam(r, "id"), domain.VerificationMethodUI)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleAPIVerify(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "query parameter id is required"))
		return
	}
	result, err := h.verifier.Verify(r.Context(), id, domain.VerificationMethodAPI)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// --- issuance ---

type issueResponse struct {
	CertificateID   string `json:"certificateId"`
	TransactionRef  string `json:"transactionRef"`
	Status          string `json:"status"`
	VerificationURL string `json:"verificationUrl"`
}

func (h *Handler) issueFor(w http.ResponseWriter, r *http.Request, inst *domain.Institution) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[issuance.Request](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	result, err := h.issuer.Issue(ctx, *inst, req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, issueResponse{
		CertificateID:   result.CertificateID,
		TransactionRef:  result.TxRef,
		Status:          string(result.Status),
		VerificationURL: h.publicBaseURL + "/certificates/" + result.CertificateID,
	})
}

func (h *Handler) handleAPIIssue(w http.ResponseWriter, r *http.Request) {
	inst, err := h.institutions.ByID(r.Context(), requestcontext.InstitutionID(r.Context()))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.issueFor(w, r, inst)
}

func (h *Handler) handleWalletIssue(w http.ResponseWriter, r *http.Request) {
	inst, err := h.institutions.Profile(r.Context(), requestcontext.WalletAddress(r.Context()))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.issueFor(w, r, inst)
}

func (h *Handler) handleWalletIssueBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inst, err := h.institutions.Profile(ctx, requestcontext.WalletAddress(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	body, ok := httputil.DecodeAndPrepare[struct {
		Certificates []issuance.Request `json:"certificates"`
	}](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	reqs := body.Certificates
	if len(reqs) == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "certificates must not be empty"))
		return
	}
	items := h.issuer.IssueBatch(ctx, *inst, reqs)
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"results": items})
}

// --- revocation ---

func (h *Handler) revokeFor(w http.ResponseWriter, r *http.Request, inst *domain.Institution) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[revokeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	result, err := h.revoker.Revoke(ctx, *inst, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleAPIRevoke(w http.ResponseWriter, r *http.Request) {
	inst, err := h.institutions.ByID(r.Context(), requestcontext.InstitutionID(r.Context()))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.revokeFor(w, r, inst)
}

func (h *Handler) handleWalletRevoke(w http.ResponseWriter, r *http.Request) {
	inst, err := h.institutions.Profile(r.Context(), requestcontext.WalletAddress(r.Context()))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.revokeFor(w, r, inst)
}

// --- institutions ---

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[registerRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	inst, err := h.institutions.Register(ctx, requestcontext.WalletAddress(ctx), req.Name, req.Email)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, inst)
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	inst, err := h.institutions.Profile(r.Context(), requestcontext.WalletAddress(r.Context()))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, inst)
}

func (h *Handler) handleUpdateContact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[updateContactRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	inst, err := h.institutions.UpdateContact(ctx, requestcontext.WalletAddress(ctx), req.Name, req.Email)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, inst)
}

func (h *Handler) handleListCertificates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inst, err := h.institutions.Profile(ctx, requestcontext.WalletAddress(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	certs, err := h.institutions.Certificates(ctx, inst.ID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"certificates": certs})
}

// --- api keys ---

type keyCreatedResponse struct {
	domain.APIKey
	// Key is the plaintext, returned exactly once at creation.
	Key string `json:"key"`
}

func (h *Handler) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inst, err := h.institutions.Profile(ctx, requestcontext.WalletAddress(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[createKeyRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	created, err := h.keys.Create(ctx, inst.ID, req.Label, req.permissions())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, keyCreatedResponse{APIKey: created.Key, Key: created.Plaintext})
}

func (h *Handler) handleListKeys(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inst, err := h.institutions.Profile(ctx, requestcontext.WalletAddress(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	keys, err := h.keys.List(ctx, inst.ID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"api_keys": keys})
}

func (h *Handler) keyID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "malformed key id"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) handleToggleKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inst, err := h.institutions.Profile(ctx, requestcontext.WalletAddress(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	id, ok := h.keyID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[toggleKeyRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := h.keys.SetActive(ctx, inst.ID, id, *req.Active); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inst, err := h.institutions.Profile(ctx, requestcontext.WalletAddress(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	id, ok := h.keyID(w, r)
	if !ok {
		return
	}
	if err := h.keys.Delete(ctx, inst.ID, id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- divergences ---

func (h *Handler) handleListDivergences(w http.ResponseWriter, r *http.Request) {
	unresolvedOnly := r.URL.Query().Get("unresolved") == "true"
	divs, err := h.divergences.List(r.Context(), unresolvedOnly)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list divergences"))
		return
	}
	if divs == nil {
		divs = []domain.Divergence{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"divergences": divs})
}

func (h *Handler) handleResolveDivergence(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "malformed divergence id"))
		return
	}
	if err := h.divergences.Resolve(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "divergence not found"))
			return
		}
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve divergence"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
