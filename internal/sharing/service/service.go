// Package service implements the sharing token service: time-boxed,
// optionally single-use bearer capabilities over a fixed record set. A token
// is itself the authorization; redemption bypasses consent evaluation.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"custodia/internal/audit"
	ledgermodels "custodia/internal/ledger/models"
	"custodia/internal/platform/crypto"
	"custodia/internal/platform/metrics"
	"custodia/internal/sharing/models"
	"custodia/internal/sharing/store"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/requesttime"
)

const (
	defaultTokenTTL = 24 * time.Hour
	accessPurpose   = "sharing_token"

	failureMismatch = "mismatch"
	failureExpired  = "expired"
	failureUsed     = "used"
)

// LedgerPort is the slice of the ledger engine the token service needs:
// fetching the referenced records and logging the access.
type LedgerPort interface {
	FindRecords(ctx context.Context, recordIDs []id.RecordID) ([]*ledgermodels.Record, error)
	LogAccess(ctx context.Context, record *ledgermodels.Record, entry ledgermodels.AccessEntry) error
}

// IssueRequest carries the inputs for a new sharing token.
type IssueRequest struct {
	Grantor   id.DID
	Grantee   id.DID
	RecordIDs []id.RecordID
	TTL       time.Duration
	SingleUse bool
}

// Redemption is the result of a successful token redemption.
type Redemption struct {
	Token   *models.Token          `json:"token"`
	Records []*ledgermodels.Record `json:"records"`
}

// Option configures the sharing service.
type Option func(*Service)

// Service issues and redeems sharing tokens.
type Service struct {
	store      store.Store
	ledger     LedgerPort
	sealer     crypto.Sealer
	signingKey []byte
	auditor    *audit.Publisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	defaultTTL time.Duration
}

// NewService constructs the sharing service. signingKey signs the compact
// transport encoding of issued tokens.
func NewService(st store.Store, ledger LedgerPort, sealer crypto.Sealer, signingKey []byte, opts ...Option) *Service {
	svc := &Service{
		store:      st,
		ledger:     ledger,
		sealer:     sealer,
		signingKey: signingKey,
		defaultTTL: defaultTokenTTL,
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

// WithMetrics sets the metrics instance.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger instance.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithDefaultTTL overrides the validity window applied when a request has none.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.defaultTTL = ttl
		}
	}
}

// Issue mints a token over the grantor's records. The compact form is a
// signed JWT suitable for out-of-band transport to the grantee.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*models.Token, string, error) {
	if req.Grantor.IsNil() || req.Grantee.IsNil() {
		return nil, "", dErrors.New(dErrors.CodeInvalidInput, "grantor and grantee required")
	}
	if len(req.RecordIDs) == 0 {
		return nil, "", dErrors.New(dErrors.CodeInvalidInput, "at least one record required")
	}

	// Only the owner of a record may share it through a token.
	records, err := s.ledger.FindRecords(ctx, req.RecordIDs)
	if err != nil {
		return nil, "", err
	}
	for _, record := range records {
		if record.Subject.String() != req.Grantor.String() {
			return nil, "", dErrors.New(dErrors.CodeUnauthorized, "grantor does not own record "+record.ID.String())
		}
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	now := requesttime.Now(ctx)
	tokenID := id.NewTokenID()

	// The ephemeral key is derived, not stored raw: the HKDF secret is
	// discarded after issuance, and the info binds the key to this token.
	secret, err := s.sealer.NewKey()
	if err != nil {
		return nil, "", err
	}
	ephemeralKey, err := s.sealer.DeriveKey(secret, []byte("custodia:token:"+tokenID.String()))
	if err != nil {
		return nil, "", err
	}

	token := &models.Token{
		ID:           tokenID,
		Grantor:      req.Grantor,
		Grantee:      req.Grantee,
		RecordIDs:    req.RecordIDs,
		IssuedAt:     now,
		ExpiresAt:    now.Add(ttl),
		SingleUse:    req.SingleUse,
		EphemeralKey: ephemeralKey,
	}
	if err := s.store.Save(ctx, token); err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to store token")
	}

	compact, err := s.encodeCompact(token)
	if err != nil {
		return nil, "", err
	}

	if s.metrics != nil {
		s.metrics.TokensIssued.Inc()
	}
	return token, compact, nil
}

// Redeem validates the token for the requester and returns the referenced
// records. A single-use token is consumed atomically: under concurrent
// redemption attempts exactly one caller succeeds.
func (s *Service) Redeem(ctx context.Context, tokenID id.TokenID, requester id.DID) (*Redemption, error) {
	token, err := s.store.FindByID(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	now := requesttime.Now(ctx)
	if requester != token.Grantee {
		s.countFailure(failureMismatch)
		s.auditRedemption(ctx, token, requester, now, audit.DecisionDenied, "requester is not the grantee")
		return nil, dErrors.New(dErrors.CodeTokenMismatch, "token was issued to a different recipient")
	}
	if token.Expired(now) {
		s.countFailure(failureExpired)
		s.auditRedemption(ctx, token, requester, now, audit.DecisionDenied, "token expired")
		return nil, dErrors.New(dErrors.CodeTokenExpired, "token expired")
	}
	if token.SingleUse {
		if err := s.store.MarkUsed(ctx, tokenID, now); err != nil {
			if dErrors.HasCode(err, dErrors.CodeTokenUsed) {
				s.countFailure(failureUsed)
				s.auditRedemption(ctx, token, requester, now, audit.DecisionDenied, "token already used")
			}
			return nil, err
		}
		token.Used = true
		token.UsedAt = &now
	}

	records, err := s.ledger.FindRecords(ctx, token.RecordIDs)
	if err != nil {
		return nil, err
	}
	entry := ledgermodels.AccessEntry{
		Accessor:   requester,
		AccessedAt: now,
		Purpose:    accessPurpose,
		GrantRef:   token.ID.String(),
	}
	for _, record := range records {
		if err := s.ledger.LogAccess(ctx, record, entry); err != nil {
			return nil, err
		}
	}

	if s.metrics != nil {
		s.metrics.TokensRedeemed.Inc()
	}
	s.auditRedemption(ctx, token, requester, now, audit.DecisionAllowed, "")
	return &Redemption{Token: token, Records: records}, nil
}

// RedeemCompact verifies the signed transport encoding, then redeems the
// embedded token for the requester.
func (s *Service) RedeemCompact(ctx context.Context, compact string, requester id.DID) (*Redemption, error) {
	claims := jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(compact, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "unexpected signing method")
		}
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		// Expiry is checked against the stored token so the caller gets the
		// precise token_expired code rather than a generic parse failure.
		jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid token encoding")
	}
	tokenID, err := id.ParseTokenID(claims.ID)
	if err != nil {
		return nil, err
	}
	return s.Redeem(ctx, tokenID, requester)
}

func (s *Service) encodeCompact(token *models.Token) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        token.ID.String(),
		Issuer:    token.Grantor.String(),
		Audience:  jwt.ClaimStrings{token.Grantee.String()},
		IssuedAt:  jwt.NewNumericDate(token.IssuedAt),
		ExpiresAt: jwt.NewNumericDate(token.ExpiresAt),
	}
	compact, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode token")
	}
	return compact, nil
}

func (s *Service) countFailure(reason string) {
	if s.metrics != nil {
		s.metrics.TokenFailures.WithLabelValues(reason).Inc()
	}
}

func (s *Service) auditRedemption(ctx context.Context, token *models.Token, requester id.DID, at time.Time, decision, reason string) {
	if s.auditor == nil {
		return
	}
	event := audit.Event{
		Timestamp: at,
		Subject:   token.Grantor.String(),
		Accessor:  requester.String(),
		Action:    audit.ActionTokenRedeemed,
		Purpose:   accessPurpose,
		GrantRef:  token.ID.String(),
		Decision:  decision,
		Reason:    reason,
	}
	if err := s.auditor.Emit(ctx, event); err != nil && s.logger != nil {
		s.logger.Error("failed to emit audit event", "action", event.Action, "error", err)
	}
}
