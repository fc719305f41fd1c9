package service

import (
	"context"
	"crypto/rand"
	"log/slog"
	"time"

	"custodia/internal/identity/models"
	"custodia/internal/identity/store"
	"custodia/internal/platform/crypto"
	"custodia/internal/platform/metrics"
	"custodia/internal/platform/notify"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/requesttime"
)

const (
	challengeTTL    = 5 * time.Minute
	challengeLength = 32

	keyTypeEd25519 = "Ed25519VerificationKey2020"
)

// Option configures the identity service.
type Option func(*Service)

// Service is the identity registry: it mints DIDs, resolves documents, and
// applies self-authenticated updates. Ownership is proven by signing a
// short-lived challenge nonce, never by comparing private key bytes.
type Service struct {
	store      store.Store
	challenges store.ChallengeStore
	signer     crypto.Signer
	notifier   notify.Publisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewService(docs store.Store, challenges store.ChallengeStore, signer crypto.Signer, opts ...Option) *Service {
	svc := &Service{
		store:      docs,
		challenges: challenges,
		signer:     signer,
		notifier:   notify.NopPublisher{},
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
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

// Create mints a new DID with one authentication key and one key-agreement
// key. The private halves are returned once and never stored.
func (s *Service) Create(ctx context.Context, roleHint string) (*models.Document, *models.KeyMaterial, error) {
	authPair, err := s.signer.Generate()
	if err != nil {
		return nil, nil, err
	}
	agreementPair, err := s.signer.Generate()
	if err != nil {
		return nil, nil, err
	}

	did := id.NewDID()
	now := requesttime.Now(ctx)
	doc := &models.Document{
		ID:       did,
		RoleHint: roleHint,
		VerificationMethods: []models.VerificationMethod{
			{
				ID:        did.String() + "#keys-1",
				Type:      keyTypeEd25519,
				Purpose:   models.PurposeAuthentication,
				PublicKey: authPair.Public,
				Created:   now,
			},
			{
				ID:        did.String() + "#keys-2",
				Type:      keyTypeEd25519,
				Purpose:   models.PurposeKeyAgreement,
				PublicKey: agreementPair.Public,
				Created:   now,
			},
		},
		Services: []models.ServiceEndpoint{},
		Created:  now,
		Updated:  now,
	}

	if err := s.store.Save(ctx, doc); err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store identity")
	}

	if s.metrics != nil {
		s.metrics.IdentitiesCreated.Inc()
	}
	s.notifier.Publish(notify.Event{
		Name:    notify.EventIdentityCreated,
		Subject: did.String(),
		At:      now,
		Fields:  map[string]any{"roleHint": roleHint},
	})
	if s.logger != nil {
		s.logger.Info("identity created", "did", did.String(), "role_hint", roleHint)
	}

	keys := &models.KeyMaterial{
		Authentication: authPair.Private,
		KeyAgreement:   agreementPair.Private,
	}
	return doc, keys, nil
}

// Resolve returns the document for a DID.
func (s *Service) Resolve(ctx context.Context, did id.DID) (*models.Document, error) {
	if did.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "DID required")
	}
	return s.store.FindByDID(ctx, did)
}

// NewChallenge issues a single-use nonce the controller must sign to
// authenticate an update. Issuing a new challenge replaces any pending one.
func (s *Service) NewChallenge(ctx context.Context, did id.DID) (models.Challenge, error) {
	if _, err := s.store.FindByDID(ctx, did); err != nil {
		return models.Challenge{}, err
	}

	nonce := make([]byte, challengeLength)
	if _, err := rand.Read(nonce); err != nil {
		return models.Challenge{}, dErrors.Wrap(err, dErrors.CodeInternal, "nonce generation failed")
	}

	challenge := models.Challenge{
		DID:       did,
		Nonce:     nonce,
		ExpiresAt: requesttime.Now(ctx).Add(challengeTTL),
	}
	if err := s.challenges.Put(ctx, challenge); err != nil {
		return models.Challenge{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store challenge")
	}
	return challenge, nil
}

// Update applies a patch after verifying the caller signed the pending
// challenge nonce with the document's authentication key.
func (s *Service) Update(ctx context.Context, did id.DID, patch models.Patch, signature []byte) (*models.Document, error) {
	if patch.IsEmpty() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "empty patch")
	}

	doc, err := s.store.FindByDID(ctx, did)
	if err != nil {
		return nil, err
	}

	challenge, err := s.challenges.Take(ctx, did)
	if err != nil {
		return nil, err
	}

	publicKey, _, err := doc.AuthenticationKey()
	if err != nil {
		return nil, err
	}
	if !s.signer.Verify(publicKey, challenge.Nonce, signature) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "challenge signature verification failed")
	}

	now := requesttime.Now(ctx)
	applyPatch(doc, patch, now)
	doc.Updated = now

	if err := s.store.Update(ctx, doc); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update identity")
	}
	if s.logger != nil {
		s.logger.Info("identity updated", "did", did.String())
	}
	return doc, nil
}

func applyPatch(doc *models.Document, patch models.Patch, now time.Time) {
	if len(patch.RemoveServiceIDs) > 0 {
		remove := make(map[string]bool, len(patch.RemoveServiceIDs))
		for _, id := range patch.RemoveServiceIDs {
			remove[id] = true
		}
		kept := doc.Services[:0]
		for _, svc := range doc.Services {
			if !remove[svc.ID] {
				kept = append(kept, svc)
			}
		}
		doc.Services = kept
	}
	doc.Services = append(doc.Services, patch.AddServices...)

	if len(patch.NewAuthenticationKey) > 0 {
		rotateKey(doc, models.PurposeAuthentication, patch.NewAuthenticationKey, now)
	}
	if len(patch.NewKeyAgreementKey) > 0 {
		rotateKey(doc, models.PurposeKeyAgreement, patch.NewKeyAgreementKey, now)
	}
}

func rotateKey(doc *models.Document, purpose string, publicKey []byte, now time.Time) {
	for i, vm := range doc.VerificationMethods {
		if vm.Purpose == purpose {
			doc.VerificationMethods[i].PublicKey = publicKey
			doc.VerificationMethods[i].Created = now
			return
		}
	}
}
