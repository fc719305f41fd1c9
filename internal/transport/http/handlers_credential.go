package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"custodia/internal/credential/models"
	credentialservice "custodia/internal/credential/service"
	id "custodia/pkg/domain"
)

type issueCredentialRequest struct {
	Issuer    string        `json:"issuer"`
	Subject   string        `json:"subject"`
	Type      string        `json:"type"`
	Claims    models.Claims `json:"claims"`
	ExpiresAt *time.Time    `json:"expiresAt,omitempty"`
	IssuerKey []byte        `json:"issuerKey"`
}

func (h *Handler) handleCredentialIssue(w http.ResponseWriter, r *http.Request) {
	var req issueCredentialRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	issuer, err := id.ParseDID(req.Issuer)
	if err != nil {
		writeError(w, err)
		return
	}
	subject, err := id.ParseDID(req.Subject)
	if err != nil {
		writeError(w, err)
		return
	}

	credential, err := h.credentials.Issue(r.Context(), credentialservice.IssueRequest{
		Issuer:    issuer,
		Subject:   subject,
		Type:      req.Type,
		Claims:    req.Claims,
		ExpiresAt: req.ExpiresAt,
		IssuerKey: req.IssuerKey,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, credential)
}

func (h *Handler) handleCredentialVerify(w http.ResponseWriter, r *http.Request) {
	credentialID, err := id.ParseCredentialID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := h.credentials.Verify(r.Context(), credentialID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type revokeCredentialRequest struct {
	IssuerKey []byte `json:"issuerKey"`
}

func (h *Handler) handleCredentialRevoke(w http.ResponseWriter, r *http.Request) {
	credentialID, err := id.ParseCredentialID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req revokeCredentialRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.credentials.Revoke(r.Context(), credentialID, req.IssuerKey); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

type createPresentationRequest struct {
	Holder        string   `json:"holder"`
	CredentialIDs []string `json:"credentialIds"`
	Challenge     string   `json:"challenge"`
	Domain        string   `json:"domain"`
	HolderKey     []byte   `json:"holderKey"`
}

func (h *Handler) handlePresentationCreate(w http.ResponseWriter, r *http.Request) {
	var req createPresentationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	holder, err := id.ParseDID(req.Holder)
	if err != nil {
		writeError(w, err)
		return
	}
	credentialIDs := make([]id.CredentialID, 0, len(req.CredentialIDs))
	for _, raw := range req.CredentialIDs {
		cid, err := id.ParseCredentialID(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		credentialIDs = append(credentialIDs, cid)
	}

	presentation, err := h.credentials.CreatePresentation(r.Context(), credentialservice.PresentationRequest{
		Holder:        holder,
		CredentialIDs: credentialIDs,
		Challenge:     req.Challenge,
		Domain:        req.Domain,
		HolderKey:     req.HolderKey,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, presentation)
}

func (h *Handler) handlePresentationVerify(w http.ResponseWriter, r *http.Request) {
	var presentation models.Presentation
	if err := decodeJSON(r, &presentation); err != nil {
		writeError(w, err)
		return
	}
	result, err := h.credentials.VerifyPresentation(r.Context(), &presentation)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
