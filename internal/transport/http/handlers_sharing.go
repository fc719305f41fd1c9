package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	sharingservice "custodia/internal/sharing/service"
	id "custodia/pkg/domain"
)

type issueTokenRequest struct {
	Grantor   string   `json:"grantor"`
	Grantee   string   `json:"grantee"`
	RecordIDs []string `json:"recordIds"`
	TTLHours  int      `json:"ttlHours,omitempty"`
	SingleUse bool     `json:"singleUse,omitempty"`
}

func (h *Handler) handleTokenIssue(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	grantor, err := id.ParseDID(req.Grantor)
	if err != nil {
		writeError(w, err)
		return
	}
	grantee, err := id.ParseDID(req.Grantee)
	if err != nil {
		writeError(w, err)
		return
	}
	recordIDs := make([]id.RecordID, 0, len(req.RecordIDs))
	for _, raw := range req.RecordIDs {
		rid, err := id.ParseRecordID(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		recordIDs = append(recordIDs, rid)
	}

	token, compact, err := h.sharing.Issue(r.Context(), sharingservice.IssueRequest{
		Grantor:   grantor,
		Grantee:   grantee,
		RecordIDs: recordIDs,
		TTL:       time.Duration(req.TTLHours) * time.Hour,
		SingleUse: req.SingleUse,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":   token,
		"compact": compact,
	})
}

type redeemTokenRequest struct {
	Requester string `json:"requester"`
	Compact   string `json:"compact,omitempty"`
}

func (h *Handler) handleTokenRedeem(w http.ResponseWriter, r *http.Request) {
	tokenID, err := id.ParseTokenID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req redeemTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	requester, err := id.ParseDID(req.Requester)
	if err != nil {
		writeError(w, err)
		return
	}

	redemption, err := h.sharing.Redeem(r.Context(), tokenID, requester)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redemption)
}

func (h *Handler) handleTokenRedeemCompact(w http.ResponseWriter, r *http.Request) {
	var req redeemTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	requester, err := id.ParseDID(req.Requester)
	if err != nil {
		writeError(w, err)
		return
	}

	redemption, err := h.sharing.RedeemCompact(r.Context(), req.Compact, requester)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redemption)
}
