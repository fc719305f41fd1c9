package service

import (
	"context"
	"log/slog"
	"time"

	"custodia/internal/audit"
	"custodia/internal/credential/models"
	"custodia/internal/credential/store"
	identitymodels "custodia/internal/identity/models"
	"custodia/internal/platform/crypto"
	"custodia/internal/platform/metrics"
	"custodia/internal/platform/notify"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/requesttime"
)

// Resolver looks up DID documents for proof verification.
type Resolver interface {
	Resolve(ctx context.Context, did id.DID) (*identitymodels.Document, error)
}

// Policy gates issuance decisions that vary by deployment.
type Policy struct {
	// AllowSelfIssuance permits issuer == subject (self-attested provider
	// licenses). Configurable rather than hardcoded.
	AllowSelfIssuance bool
}

// IssueRequest carries the inputs for credential issuance.
type IssueRequest struct {
	Issuer    id.DID
	Subject   id.DID
	Type      string
	Claims    models.Claims
	ExpiresAt *time.Time
	// IssuerKey is the issuer's private signing key, supplied per call; the
	// authority holds no key custody.
	IssuerKey []byte
}

// PresentationRequest carries the inputs for presentation creation.
type PresentationRequest struct {
	Holder        id.DID
	CredentialIDs []id.CredentialID
	Challenge     string
	Domain        string
	HolderKey     []byte
}

// Option configures the credential service.
type Option func(*Service)

// Service is the credential authority: it issues, verifies, and revokes
// credentials, and assembles holder presentations. Proofs are genuine
// asymmetric signatures over the canonical document.
type Service struct {
	store    store.Store
	resolver Resolver
	signer   crypto.Signer
	policy   Policy
	auditor  *audit.Publisher
	notifier notify.Publisher
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewService(st store.Store, resolver Resolver, signer crypto.Signer, policy Policy, opts ...Option) *Service {
	svc := &Service{
		store:    st,
		resolver: resolver,
		signer:   signer,
		policy:   policy,
		notifier: notify.NopPublisher{},
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// WithAuditor sets the audit publisher.
func WithAuditor(a *audit.Publisher) Option {
	return func(s *Service) { s.auditor = a }
}

// WithNotifier sets the notification collaborator.
func WithNotifier(n notify.Publisher) Option {
	return func(s *Service) { s.notifier = n }
}

// WithMetrics sets the metrics instance.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger instance.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// Issue signs a new credential with the issuer's key and persists it.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*models.Credential, error) {
	if req.Issuer.IsNil() || req.Subject.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "issuer and subject required")
	}
	if req.Type == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "credential type required")
	}
	if req.Claims == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "claims cannot be nil")
	}
	if req.Issuer == req.Subject && !s.policy.AllowSelfIssuance {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "self-issuance disabled by policy")
	}

	issuerDoc, err := s.resolver.Resolve(ctx, req.Issuer)
	if err != nil {
		return nil, err
	}

	now := requesttime.Now(ctx)
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "expiration must be in the future")
	}

	credential := &models.Credential{
		ID:        id.NewCredentialID(),
		Type:      req.Type,
		Issuer:    req.Issuer,
		Subject:   req.Subject,
		Claims:    req.Claims,
		IssuedAt:  now,
		ExpiresAt: req.ExpiresAt,
	}

	proof, err := s.signAsOwner(ctx, issuerDoc, req.IssuerKey, credential, now)
	if err != nil {
		return nil, err
	}
	credential.Proof = proof

	if err := s.store.Save(ctx, credential); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store credential")
	}

	if s.metrics != nil {
		s.metrics.CredentialsIssued.WithLabelValues(req.Type).Inc()
	}
	s.notifier.Publish(notify.Event{
		Name:    notify.EventCredentialIssued,
		Subject: req.Subject.String(),
		Actor:   req.Issuer.String(),
		At:      now,
		Fields:  map[string]any{"credentialId": credential.ID.String(), "type": req.Type},
	})
	s.emitAudit(ctx, audit.Event{
		Timestamp: now,
		Subject:   req.Subject.String(),
		Accessor:  req.Issuer.String(),
		Action:    audit.ActionCredentialIssued,
		GrantRef:  credential.ID.String(),
		Decision:  audit.DecisionAllowed,
	})

	return credential, nil
}

// Verify checks proof, expiration, and revocation independently.
// Cryptographic failures are reported, never downgraded.
func (s *Service) Verify(ctx context.Context, credentialID id.CredentialID) (models.VerifyResult, error) {
	credential, err := s.store.FindByID(ctx, credentialID)
	if err != nil {
		return models.VerifyResult{}, err
	}

	result := models.VerifyResult{
		NotRevoked: !credential.Revoked,
	}

	now := requesttime.Now(ctx)
	result.NotExpired = credential.ExpiresAt == nil || now.Before(*credential.ExpiresAt)

	result.ProofValid = s.proofValid(ctx, credential)
	result.Valid = result.ProofValid && result.NotExpired && result.NotRevoked
	return result, nil
}

// Revoke marks a credential revoked after the caller proves control of the
// issuer key. The transition is terminal.
func (s *Service) Revoke(ctx context.Context, credentialID id.CredentialID, issuerKey []byte) error {
	credential, err := s.store.FindByID(ctx, credentialID)
	if err != nil {
		return err
	}

	issuerDoc, err := s.resolver.Resolve(ctx, credential.Issuer)
	if err != nil {
		return err
	}
	if err := s.proveKeyControl(issuerDoc, issuerKey); err != nil {
		return err
	}

	now := requesttime.Now(ctx)
	if err := s.store.MarkRevoked(ctx, credentialID, now); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.CredentialsRevoked.WithLabelValues(credential.Type).Inc()
	}
	s.notifier.Publish(notify.Event{
		Name:    notify.EventCredentialRevoked,
		Subject: credential.Subject.String(),
		Actor:   credential.Issuer.String(),
		At:      now,
		Fields:  map[string]any{"credentialId": credentialID.String()},
	})
	s.emitAudit(ctx, audit.Event{
		Timestamp: now,
		Subject:   credential.Subject.String(),
		Accessor:  credential.Issuer.String(),
		Action:    audit.ActionCredentialRevoked,
		GrantRef:  credentialID.String(),
		Decision:  audit.DecisionAllowed,
	})
	if s.logger != nil {
		s.logger.Info("credential revoked", "credential_id", credentialID.String())
	}
	return nil
}

// CreatePresentation bundles credentials with a holder proof binding
// challenge and domain.
func (s *Service) CreatePresentation(ctx context.Context, req PresentationRequest) (*models.Presentation, error) {
	if req.Holder.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "holder required")
	}
	if len(req.CredentialIDs) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "at least one credential required")
	}

	holderDoc, err := s.resolver.Resolve(ctx, req.Holder)
	if err != nil {
		return nil, err
	}

	// Every referenced credential must exist before bundling.
	for _, cid := range req.CredentialIDs {
		if _, err := s.store.FindByID(ctx, cid); err != nil {
			return nil, err
		}
	}

	now := requesttime.Now(ctx)
	presentation := &models.Presentation{
		ID:            id.NewCredentialID(),
		Holder:        req.Holder,
		CredentialIDs: req.CredentialIDs,
		Challenge:     req.Challenge,
		Domain:        req.Domain,
		CreatedAt:     now,
	}

	proof, err := s.signAsOwner(ctx, holderDoc, req.HolderKey, presentation, now)
	if err != nil {
		return nil, err
	}
	presentation.Proof = proof
	return presentation, nil
}

// VerifyPresentation checks the holder proof, then verifies each bundled
// credential independently.
func (s *Service) VerifyPresentation(ctx context.Context, presentation *models.Presentation) (models.PresentationResult, error) {
	if presentation == nil || presentation.Proof == nil {
		return models.PresentationResult{}, dErrors.New(dErrors.CodeInvalidInput, "presentation proof required")
	}

	holderDoc, err := s.resolver.Resolve(ctx, presentation.Holder)
	if err != nil {
		return models.PresentationResult{}, err
	}

	result := models.PresentationResult{
		Credentials: make(map[id.CredentialID]models.VerifyResult, len(presentation.CredentialIDs)),
	}

	canonical, err := presentation.CanonicalBytes()
	if err != nil {
		return models.PresentationResult{}, err
	}
	holderKey, _, err := holderDoc.AuthenticationKey()
	if err != nil {
		return models.PresentationResult{}, err
	}
	result.HolderProofValid = s.signer.Verify(holderKey, canonical, presentation.Proof.SignatureValue)

	result.AllCredentialsValid = len(presentation.CredentialIDs) > 0
	for _, cid := range presentation.CredentialIDs {
		verdict, err := s.Verify(ctx, cid)
		if err != nil {
			return models.PresentationResult{}, err
		}
		result.Credentials[cid] = verdict
		if !verdict.Valid {
			result.AllCredentialsValid = false
		}
	}

	result.Valid = result.HolderProofValid && result.AllCredentialsValid
	return result, nil
}

// canonicalDocument is anything with a deterministic signing form.
type canonicalDocument interface {
	CanonicalBytes() ([]byte, error)
}

// signAsOwner signs doc with privateKey and confirms the signature verifies
// against the owner's registered authentication key. This proves the caller
// controls the registered key without ever comparing private key bytes.
func (s *Service) signAsOwner(ctx context.Context, ownerDoc *identitymodels.Document, privateKey []byte, doc canonicalDocument, now time.Time) (*id.Proof, error) {
	canonical, err := doc.CanonicalBytes()
	if err != nil {
		return nil, err
	}
	signature, err := s.signer.Sign(privateKey, canonical)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "signing failed")
	}
	publicKey, methodRef, err := ownerDoc.AuthenticationKey()
	if err != nil {
		return nil, err
	}
	if !s.signer.Verify(publicKey, canonical, signature) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "key does not match registered authentication key")
	}
	return &id.Proof{
		Algorithm:          s.signer.Algorithm(),
		CreatedAt:          now,
		VerificationMethod: methodRef,
		SignatureValue:     signature,
	}, nil
}

// proveKeyControl verifies the supplied private key controls the owner's
// registered authentication key via an internal sign/verify round trip.
func (s *Service) proveKeyControl(ownerDoc *identitymodels.Document, privateKey []byte) error {
	probe := []byte("custodia:key-control:" + ownerDoc.ID.String())
	signature, err := s.signer.Sign(privateKey, probe)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnauthorized, "signing failed")
	}
	publicKey, _, err := ownerDoc.AuthenticationKey()
	if err != nil {
		return err
	}
	if !s.signer.Verify(publicKey, probe, signature) {
		return dErrors.New(dErrors.CodeUnauthorized, "caller does not control issuer key")
	}
	return nil
}

func (s *Service) proofValid(ctx context.Context, credential *models.Credential) bool {
	if credential.Proof == nil {
		return false
	}
	issuerDoc, err := s.resolver.Resolve(ctx, credential.Issuer)
	if err != nil {
		return false
	}
	publicKey, _, err := issuerDoc.AuthenticationKey()
	if err != nil {
		return false
	}
	canonical, err := credential.CanonicalBytes()
	if err != nil {
		return false
	}
	return s.signer.Verify(publicKey, canonical, credential.Proof.SignatureValue)
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Emit(ctx, event); err != nil && s.logger != nil {
		s.logger.Error("failed to emit audit event", "action", event.Action, "error", err)
	}
}
