// Package httptransport is the thin HTTP layer. Handlers decode, delegate to
// domain services, and encode; business logic stays in the services.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"custodia/internal/audit"
	consentservice "custodia/internal/consent/service"
	credentialservice "custodia/internal/credential/service"
	identityservice "custodia/internal/identity/service"
	ledgerservice "custodia/internal/ledger/service"
	"custodia/internal/platform/middleware"
	sharingservice "custodia/internal/sharing/service"
	"custodia/pkg/requesttime"
)

// Handler bundles the domain services behind the HTTP surface.
type Handler struct {
	logger      *slog.Logger
	identity    *identityservice.Service
	credentials *credentialservice.Service
	ledger      *ledgerservice.Service
	consent     *consentservice.Service
	sharing     *sharingservice.Service
	auditor     *audit.Publisher
}

func NewHandler(
	logger *slog.Logger,
	identity *identityservice.Service,
	credentials *credentialservice.Service,
	ledger *ledgerservice.Service,
	consent *consentservice.Service,
	sharing *sharingservice.Service,
	auditor *audit.Publisher,
) *Handler {
	return &Handler{
		logger:      logger,
		identity:    identity,
		credentials: credentials,
		ledger:      ledger,
		consent:     consent,
		sharing:     sharing,
		auditor:     auditor,
	}
}

// NewRouter wires all public endpoints with the shared middleware stack.
func NewRouter(h *Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(middleware.ContentTypeJSON)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/identities", func(r chi.Router) {
		r.Post("/", h.handleIdentityCreate)
		r.Get("/{did}", h.handleIdentityResolve)
		r.Post("/{did}/challenges", h.handleIdentityChallenge)
		r.Patch("/{did}", h.handleIdentityUpdate)
	})

	r.Route("/credentials", func(r chi.Router) {
		r.Post("/", h.handleCredentialIssue)
		r.Get("/{id}/verification", h.handleCredentialVerify)
		r.Post("/{id}/revocation", h.handleCredentialRevoke)
	})
	r.Post("/presentations", h.handlePresentationCreate)
	r.Post("/presentations/verification", h.handlePresentationVerify)

	r.Route("/ledgers/{subject}", func(r chi.Router) {
		r.Post("/records", h.handleLedgerAppend)
		r.Get("/records", h.handleLedgerRead)
		r.Get("/integrity", h.handleLedgerVerify)
	})

	r.Route("/consents", func(r chi.Router) {
		r.Post("/", h.handleConsentGrant)
		r.Post("/{id}/revocation", h.handleConsentRevoke)
	})

	r.Route("/tokens", func(r chi.Router) {
		r.Post("/", h.handleTokenIssue)
		r.Post("/{id}/redemption", h.handleTokenRedeem)
		r.Post("/redemption", h.handleTokenRedeemCompact)
	})

	r.Get("/subjects/{subject}/audit", h.handleAuditList)

	return r
}
