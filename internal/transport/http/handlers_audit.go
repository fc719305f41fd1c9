package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"custodia/internal/audit"
	dErrors "custodia/pkg/domain-errors"
)

func (h *Handler) handleAuditList(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")
	query := r.URL.Query()

	filter := audit.Filter{Accessor: query.Get("accessor")}
	var err error
	if raw := query.Get("from"); raw != "" {
		if filter.From, err = time.Parse(time.RFC3339, raw); err != nil {
			writeError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid from timestamp"))
			return
		}
	}
	if raw := query.Get("to"); raw != "" {
		if filter.To, err = time.Parse(time.RFC3339, raw); err != nil {
			writeError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid to timestamp"))
			return
		}
	}

	events, err := h.auditor.List(r.Context(), subject, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
