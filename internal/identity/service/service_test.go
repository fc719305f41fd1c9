package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custodia/internal/identity/models"
	"custodia/internal/identity/store"
	"custodia/internal/platform/crypto"
	"custodia/internal/platform/notify"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/requesttime"
)

type ServiceSuite struct {
	suite.Suite
	signer  crypto.Ed25519Signer
	service *Service
	bus     *notify.Bus
}

func (s *ServiceSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.signer = crypto.NewEd25519Signer()
	s.bus = notify.NewBus(16, logger)
	s.service = NewService(
		store.New(),
		store.NewChallengeStore(),
		s.signer,
		WithNotifier(s.bus),
		WithLogger(logger),
	)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) TestCreateAndResolve() {
	events := s.bus.Subscribe()
	ctx := context.Background()

	doc, keys, err := s.service.Create(ctx, "practitioner")
	s.Require().NoError(err)
	s.Require().NotNil(keys)
	s.NotEmpty(keys.Authentication)
	s.NotEmpty(keys.KeyAgreement)
	s.Len(doc.VerificationMethods, 2)
	s.Empty(doc.Services)
	s.Equal(doc.Created, doc.Updated)

	resolved, err := s.service.Resolve(ctx, doc.ID)
	s.Require().NoError(err)
	s.Equal(doc.ID, resolved.ID)

	authKey, ref, err := resolved.AuthenticationKey()
	s.Require().NoError(err)
	s.NotEmpty(authKey)
	s.Contains(ref, "#keys-1")

	event := <-events
	s.Equal(notify.EventIdentityCreated, event.Name)
	s.Equal(doc.ID.String(), event.Subject)
}

func (s *ServiceSuite) TestResolve_NotFound() {
	_, err := s.service.Resolve(context.Background(), "did:custodia:missing")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestUpdate_ChallengeResponse() {
	ctx := context.Background()
	doc, keys, err := s.service.Create(ctx, "patient")
	s.Require().NoError(err)

	challenge, err := s.service.NewChallenge(ctx, doc.ID)
	s.Require().NoError(err)

	signature, err := s.signer.Sign(keys.Authentication, challenge.Nonce)
	s.Require().NoError(err)

	patch := models.Patch{
		AddServices: []models.ServiceEndpoint{
			{ID: doc.ID.String() + "#hl7", Type: "FHIREndpoint", Endpoint: "https://records.example/fhir"},
		},
	}
	updated, err := s.service.Update(ctx, doc.ID, patch, signature)
	s.Require().NoError(err)
	s.Len(updated.Services, 1)
	s.True(updated.Updated.After(updated.Created) || updated.Updated.Equal(updated.Created))
}

func (s *ServiceSuite) TestUpdate_WrongKeyRejected() {
	ctx := context.Background()
	doc, _, err := s.service.Create(ctx, "patient")
	s.Require().NoError(err)

	challenge, err := s.service.NewChallenge(ctx, doc.ID)
	s.Require().NoError(err)

	// Sign with a key the registry never saw.
	intruder, err := s.signer.Generate()
	s.Require().NoError(err)
	signature, err := s.signer.Sign(intruder.Private, challenge.Nonce)
	s.Require().NoError(err)

	patch := models.Patch{RemoveServiceIDs: []string{"anything"}}
	_, err = s.service.Update(ctx, doc.ID, patch, signature)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *ServiceSuite) TestUpdate_ChallengeSingleUse() {
	ctx := context.Background()
	doc, keys, err := s.service.Create(ctx, "patient")
	s.Require().NoError(err)

	challenge, err := s.service.NewChallenge(ctx, doc.ID)
	s.Require().NoError(err)
	signature, err := s.signer.Sign(keys.Authentication, challenge.Nonce)
	s.Require().NoError(err)

	patch := models.Patch{AddServices: []models.ServiceEndpoint{{ID: "svc-1", Type: "t", Endpoint: "e"}}}
	_, err = s.service.Update(ctx, doc.ID, patch, signature)
	s.Require().NoError(err)

	// Replaying the same signed challenge must fail: the nonce was consumed.
	_, err = s.service.Update(ctx, doc.ID, patch, signature)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestUpdate_ExpiredChallenge() {
	ctx := context.Background()
	doc, keys, err := s.service.Create(ctx, "patient")
	s.Require().NoError(err)

	challenge, err := s.service.NewChallenge(ctx, doc.ID)
	s.Require().NoError(err)
	signature, err := s.signer.Sign(keys.Authentication, challenge.Nonce)
	s.Require().NoError(err)

	late := requesttime.WithTime(ctx, time.Now().Add(10*time.Minute))
	patch := models.Patch{AddServices: []models.ServiceEndpoint{{ID: "svc-1", Type: "t", Endpoint: "e"}}}
	_, err = s.service.Update(late, doc.ID, patch, signature)
	s.True(dErrors.HasCode(err, dErrors.CodeExpired))
}

func (s *ServiceSuite) TestUpdate_KeyRotation() {
	ctx := context.Background()
	doc, keys, err := s.service.Create(ctx, "patient")
	s.Require().NoError(err)

	next, err := s.signer.Generate()
	s.Require().NoError(err)

	challenge, err := s.service.NewChallenge(ctx, doc.ID)
	s.Require().NoError(err)
	signature, err := s.signer.Sign(keys.Authentication, challenge.Nonce)
	s.Require().NoError(err)

	_, err = s.service.Update(ctx, doc.ID, models.Patch{NewAuthenticationKey: next.Public}, signature)
	s.Require().NoError(err)

	// The old key can no longer authenticate updates.
	challenge, err = s.service.NewChallenge(ctx, doc.ID)
	s.Require().NoError(err)
	oldSig, err := s.signer.Sign(keys.Authentication, challenge.Nonce)
	s.Require().NoError(err)
	_, err = s.service.Update(ctx, doc.ID, models.Patch{RemoveServiceIDs: []string{"x"}}, oldSig)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	// The rotated key can.
	challenge, err = s.service.NewChallenge(ctx, doc.ID)
	s.Require().NoError(err)
	newSig, err := s.signer.Sign(next.Private, challenge.Nonce)
	s.Require().NoError(err)
	_, err = s.service.Update(ctx, doc.ID, models.Patch{RemoveServiceIDs: []string{"x"}}, newSig)
	s.NoError(err)
}
