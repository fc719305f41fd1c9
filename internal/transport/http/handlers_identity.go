package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"custodia/internal/identity/models"
	id "custodia/pkg/domain"
)

type createIdentityRequest struct {
	RoleHint string `json:"roleHint"`
}

type createIdentityResponse struct {
	Document *models.Document `json:"document"`
	// Private keys appear exactly once, in this response.
	AuthenticationKey []byte `json:"authenticationKey"`
	KeyAgreementKey   []byte `json:"keyAgreementKey"`
}

func (h *Handler) handleIdentityCreate(w http.ResponseWriter, r *http.Request) {
	var req createIdentityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	doc, keys, err := h.identity.Create(r.Context(), req.RoleHint)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createIdentityResponse{
		Document:          doc,
		AuthenticationKey: keys.Authentication,
		KeyAgreementKey:   keys.KeyAgreement,
	})
}

func (h *Handler) handleIdentityResolve(w http.ResponseWriter, r *http.Request) {
	did, err := id.ParseDID(chi.URLParam(r, "did"))
	if err != nil {
		writeError(w, err)
		return
	}
	doc, err := h.identity.Resolve(r.Context(), did)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) handleIdentityChallenge(w http.ResponseWriter, r *http.Request) {
	did, err := id.ParseDID(chi.URLParam(r, "did"))
	if err != nil {
		writeError(w, err)
		return
	}
	challenge, err := h.identity.NewChallenge(r.Context(), did)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"nonce":     challenge.Nonce,
		"expiresAt": challenge.ExpiresAt,
	})
}

type updateIdentityRequest struct {
	AddServices          []models.ServiceEndpoint `json:"addServices,omitempty"`
	RemoveServiceIDs     []string                 `json:"removeServiceIds,omitempty"`
	NewAuthenticationKey []byte                   `json:"newAuthenticationKey,omitempty"`
	NewKeyAgreementKey   []byte                   `json:"newKeyAgreementKey,omitempty"`
	// Signature is the controller's signature over the pending challenge nonce.
	Signature []byte `json:"signature"`
}

func (h *Handler) handleIdentityUpdate(w http.ResponseWriter, r *http.Request) {
	did, err := id.ParseDID(chi.URLParam(r, "did"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req updateIdentityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	patch := models.Patch{
		AddServices:          req.AddServices,
		RemoveServiceIDs:     req.RemoveServiceIDs,
		NewAuthenticationKey: req.NewAuthenticationKey,
		NewKeyAgreementKey:   req.NewKeyAgreementKey,
	}
	doc, err := h.identity.Update(r.Context(), did, patch, req.Signature)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}
