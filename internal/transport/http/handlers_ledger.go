package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"custodia/internal/ledger/models"
	ledgerservice "custodia/internal/ledger/service"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

type appendRecordRequest struct {
	Type     string            `json:"type"`
	Payload  []byte            `json:"payload"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Actor    string            `json:"actor"`
	Seal     bool              `json:"seal,omitempty"`
	SealKey  []byte            `json:"sealKey,omitempty"`
}

func (h *Handler) handleLedgerAppend(w http.ResponseWriter, r *http.Request) {
	subject := id.SubjectKey(chi.URLParam(r, "subject"))
	var req appendRecordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	actor, err := id.ParseDID(req.Actor)
	if err != nil {
		writeError(w, err)
		return
	}

	record, err := h.ledger.Append(r.Context(), ledgerservice.AppendRequest{
		Subject:  subject,
		Type:     req.Type,
		Payload:  req.Payload,
		Metadata: req.Metadata,
		Actor:    actor,
		Seal:     req.Seal,
		SealKey:  req.SealKey,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (h *Handler) handleLedgerRead(w http.ResponseWriter, r *http.Request) {
	subject := id.SubjectKey(chi.URLParam(r, "subject"))
	query := r.URL.Query()

	accessor, err := id.ParseDID(query.Get("accessor"))
	if err != nil {
		writeError(w, err)
		return
	}

	filters := models.Filters{}
	if types, ok := query["type"]; ok {
		filters.Types = types
	}
	if raw := query.Get("from"); raw != "" {
		if filters.From, err = time.Parse(time.RFC3339, raw); err != nil {
			writeError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid from timestamp"))
			return
		}
	}
	if raw := query.Get("to"); raw != "" {
		if filters.To, err = time.Parse(time.RFC3339, raw); err != nil {
			writeError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid to timestamp"))
			return
		}
	}

	req := ledgerservice.ReadRequest{
		Subject:      subject,
		Accessor:     accessor,
		AccessorRole: query.Get("role"),
		Purpose:      query.Get("purpose"),
		Filters:      filters,
	}
	if raw := query.Get("consentRef"); raw != "" {
		consentID, err := id.ParseConsentID(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		req.ConsentRef = &consentID
	}

	records, err := h.ledger.Read(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) handleLedgerVerify(w http.ResponseWriter, r *http.Request) {
	subject := id.SubjectKey(chi.URLParam(r, "subject"))
	report, err := h.ledger.VerifyChain(r.Context(), subject)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
