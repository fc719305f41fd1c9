package httptransport

import (
	"errors"
	"net/http"

	dErrors "custodia/pkg/domain-errors"
)

// writeError centralizes domain error translation to HTTP responses so every
// handler emits the same JSON error envelope.
func writeError(w http.ResponseWriter, err error) {
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		response := map[string]string{"error": string(domainErr.Code)}
		if domainErr.Message != "" {
			response["error_description"] = domainErr.Message
		}
		writeJSON(w, codeToStatus(domainErr.Code), response)
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": string(dErrors.CodeInternal),
	})
}

func codeToStatus(code dErrors.Code) int {
	switch code {
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeInvalidInput, dErrors.CodeInvariantViolation:
		return http.StatusBadRequest
	case dErrors.CodeConflict, dErrors.CodeAlreadyRevoked, dErrors.CodeTokenUsed:
		return http.StatusConflict
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeAccessDenied, dErrors.CodeTokenMismatch:
		return http.StatusForbidden
	case dErrors.CodeExpired, dErrors.CodeTokenExpired, dErrors.CodeRevoked:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
