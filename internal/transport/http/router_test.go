package httptransport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"custodia/internal/audit"
	consentservice "custodia/internal/consent/service"
	consentstore "custodia/internal/consent/store"
	credentialservice "custodia/internal/credential/service"
	credentialstore "custodia/internal/credential/store"
	identityservice "custodia/internal/identity/service"
	identitystore "custodia/internal/identity/store"
	ledgerservice "custodia/internal/ledger/service"
	ledgerstore "custodia/internal/ledger/store"
	"custodia/internal/platform/crypto"
	"custodia/internal/platform/logger"
	sharingservice "custodia/internal/sharing/service"
	sharingstore "custodia/internal/sharing/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := logger.New()
	signer := crypto.NewEd25519Signer()
	sealer := crypto.NewChaChaSealer()
	auditor := audit.NewPublisher(audit.NewInMemoryStore())

	identitySvc := identityservice.NewService(identitystore.New(), identitystore.NewChallengeStore(), signer)
	credentialSvc := credentialservice.NewService(
		credentialstore.New(), identitySvc, signer,
		credentialservice.Policy{AllowSelfIssuance: true},
		credentialservice.WithAuditor(auditor),
	)
	consentSvc := consentservice.NewService(consentstore.New(), consentservice.WithAuditor(auditor))
	ledgerSvc := ledgerservice.NewService(
		ledgerstore.New(), crypto.NewSHA256Hasher(), sealer, consentSvc,
		ledgerservice.WithAuditor(auditor),
	)
	sharingSvc := sharingservice.NewService(
		sharingstore.New(), ledgerSvc, sealer, []byte("router-test-key"),
		sharingservice.WithAuditor(auditor),
	)

	handler := NewHandler(log, identitySvc, credentialSvc, ledgerSvc, consentSvc, sharingSvc, auditor)
	server := httptest.NewServer(NewRouter(handler, log))
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url string, body any, wantStatus int, out any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, wantStatus, resp.StatusCode)
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
}

type identityResponse struct {
	Document struct {
		ID string `json:"id"`
	} `json:"document"`
	AuthenticationKey []byte `json:"authenticationKey"`
}

func TestEndToEndFlow(t *testing.T) {
	server := newTestServer(t)
	base := server.URL

	// Establish two identities.
	var patient, doctor identityResponse
	doJSON(t, http.MethodPost, base+"/identities", map[string]string{"roleHint": "patient"}, http.StatusCreated, &patient)
	doJSON(t, http.MethodPost, base+"/identities", map[string]string{"roleHint": "doctor"}, http.StatusCreated, &doctor)

	var resolved map[string]any
	doJSON(t, http.MethodGet, base+"/identities/"+patient.Document.ID, nil, http.StatusOK, &resolved)
	require.Equal(t, patient.Document.ID, resolved["id"])

	// The doctor issues a license credential about itself and it verifies.
	var credential struct {
		ID string `json:"id"`
	}
	doJSON(t, http.MethodPost, base+"/credentials", map[string]any{
		"issuer":    doctor.Document.ID,
		"subject":   doctor.Document.ID,
		"type":      "MedicalLicense",
		"claims":    map[string]any{"specialty": "cardiology"},
		"issuerKey": doctor.AuthenticationKey,
	}, http.StatusCreated, &credential)

	var verdict struct {
		Valid bool `json:"valid"`
	}
	doJSON(t, http.MethodGet, base+"/credentials/"+credential.ID+"/verification", nil, http.StatusOK, &verdict)
	require.True(t, verdict.Valid)

	// The patient appends a record to their chain.
	var record struct {
		ID   string `json:"id"`
		Hash string `json:"hash"`
	}
	doJSON(t, http.MethodPost, base+"/ledgers/"+patient.Document.ID+"/records", map[string]any{
		"type":    "lab_result",
		"payload": []byte(`{"hb":13.5}`),
		"actor":   patient.Document.ID,
	}, http.StatusCreated, &record)
	require.NotEmpty(t, record.Hash)

	// Self-read succeeds; a stranger is denied until consent exists.
	var records []map[string]any
	doJSON(t, http.MethodGet,
		base+"/ledgers/"+patient.Document.ID+"/records?accessor="+patient.Document.ID+"&purpose=self",
		nil, http.StatusOK, &records)
	require.Len(t, records, 1)

	denied := base + "/ledgers/" + patient.Document.ID + "/records?accessor=" + doctor.Document.ID + "&purpose=treatment"
	doJSON(t, http.MethodGet, denied, nil, http.StatusForbidden, nil)

	doJSON(t, http.MethodPost, base+"/consents", map[string]any{
		"grantor":     patient.Document.ID,
		"grantee":     doctor.Document.ID,
		"purpose":     "treatment",
		"recordTypes": []string{"lab_result"},
	}, http.StatusCreated, nil)

	// A consent scoped to lab results authorizes reads asking for that type;
	// an unscoped read still fails closed.
	doJSON(t, http.MethodGet, denied+"&type=lab_result", nil, http.StatusOK, &records)
	require.Len(t, records, 1)
	doJSON(t, http.MethodGet, denied, nil, http.StatusForbidden, nil)

	// The chain verifies clean.
	var report struct {
		Valid           bool `json:"valid"`
		BrokenLinkCount int  `json:"brokenLinkCount"`
		Total           int  `json:"total"`
	}
	doJSON(t, http.MethodGet, base+"/ledgers/"+patient.Document.ID+"/integrity", nil, http.StatusOK, &report)
	require.True(t, report.Valid)
	require.Zero(t, report.BrokenLinkCount)

	// Share the record via a single-use token.
	var issued struct {
		Token struct {
			ID string `json:"id"`
		} `json:"token"`
		Compact string `json:"compact"`
	}
	doJSON(t, http.MethodPost, base+"/tokens", map[string]any{
		"grantor":   patient.Document.ID,
		"grantee":   doctor.Document.ID,
		"recordIds": []string{record.ID},
		"singleUse": true,
	}, http.StatusCreated, &issued)
	require.NotEmpty(t, issued.Compact)

	redeemBody := map[string]string{"requester": doctor.Document.ID}
	var redemption struct {
		Records []map[string]any `json:"records"`
	}
	doJSON(t, http.MethodPost, base+"/tokens/"+issued.Token.ID+"/redemption", redeemBody, http.StatusOK, &redemption)
	require.Len(t, redemption.Records, 1)

	// Second redemption of a single-use token conflicts.
	doJSON(t, http.MethodPost, base+"/tokens/"+issued.Token.ID+"/redemption", redeemBody, http.StatusConflict, nil)

	// The audit trail recorded reads and the redemption.
	var events []map[string]any
	doJSON(t, http.MethodGet, base+"/subjects/"+patient.Document.ID+"/audit", nil, http.StatusOK, &events)
	require.NotEmpty(t, events)

	// Revocation is terminal and visible to the next verification.
	doJSON(t, http.MethodPost, base+"/credentials/"+credential.ID+"/revocation",
		map[string]any{"issuerKey": doctor.AuthenticationKey}, http.StatusOK, nil)
	doJSON(t, http.MethodGet, base+"/credentials/"+credential.ID+"/verification", nil, http.StatusOK, &verdict)
	require.False(t, verdict.Valid)
}

func TestHealthz(t *testing.T) {
	server := newTestServer(t)
	var status map[string]string
	doJSON(t, http.MethodGet, server.URL+"/healthz", nil, http.StatusOK, &status)
	require.Equal(t, "ok", status["status"])
}
