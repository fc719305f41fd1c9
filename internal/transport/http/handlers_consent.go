package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"custodia/internal/consent/models"
	consentservice "custodia/internal/consent/service"
	id "custodia/pkg/domain"
)

type grantConsentRequest struct {
	Grantor     string             `json:"grantor"`
	Grantee     string             `json:"grantee"`
	Purpose     string             `json:"purpose"`
	RecordTypes []string           `json:"recordTypes"`
	ExpiresAt   *time.Time         `json:"expiresAt,omitempty"`
	UsageCap    int                `json:"usageCap,omitempty"`
	Window      *models.TimeWindow `json:"window,omitempty"`
}

func (h *Handler) handleConsentGrant(w http.ResponseWriter, r *http.Request) {
	var req grantConsentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	grantee, err := id.ParseDID(req.Grantee)
	if err != nil {
		writeError(w, err)
		return
	}

	rule, err := h.consent.Grant(r.Context(), consentservice.GrantRequest{
		Grantor:     req.Grantor,
		Grantee:     grantee,
		Purpose:     req.Purpose,
		RecordTypes: req.RecordTypes,
		ExpiresAt:   req.ExpiresAt,
		UsageCap:    req.UsageCap,
		Window:      req.Window,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

type revokeConsentRequest struct {
	Caller string `json:"caller"`
}

func (h *Handler) handleConsentRevoke(w http.ResponseWriter, r *http.Request) {
	consentID, err := id.ParseConsentID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req revokeConsentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.consent.Revoke(r.Context(), req.Caller, consentID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
