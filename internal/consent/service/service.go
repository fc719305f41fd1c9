package service

import (
	"context"
	"log/slog"
	"time"

	"custodia/internal/audit"
	"custodia/internal/consent/models"
	"custodia/internal/consent/store"
	"custodia/internal/platform/metrics"
	"custodia/internal/platform/notify"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/requesttime"
)

const defaultConsentTTL = 365 * 24 * time.Hour

// GrantRequest carries the inputs for a new consent rule.
type GrantRequest struct {
	Grantor     string
	Grantee     id.DID
	Purpose     string
	RecordTypes []string
	ExpiresAt   *time.Time
	UsageCap    int
	Window      *models.TimeWindow
}

// Option configures the consent service.
type Option func(*Service)

// Service stores and evaluates consent rules gating ledger reads. Rules are
// subject-authored, terminal on revocation, and evaluated fail-closed.
type Service struct {
	store      store.Store
	auditor    *audit.Publisher
	notifier   notify.Publisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	defaultTTL time.Duration
}

func NewService(st store.Store, opts ...Option) *Service {
	svc := &Service{
		store:      st,
		notifier:   notify.NopPublisher{},
		defaultTTL: defaultConsentTTL,
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

// WithDefaultTTL overrides the expiry applied when a grant has none.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.defaultTTL = ttl
		}
	}
}

// Grant creates a subject-authored consent rule.
func (s *Service) Grant(ctx context.Context, req GrantRequest) (*models.Rule, error) {
	now := requesttime.Now(ctx)

	rule, err := models.NewRule(id.NewConsentID(), req.Grantor, req.Grantee, req.Purpose, req.RecordTypes, now)
	if err != nil {
		return nil, err
	}
	rule.UsageCap = req.UsageCap
	rule.Window = req.Window
	if req.ExpiresAt != nil {
		if !req.ExpiresAt.After(now) {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "expiration must be in the future")
		}
		rule.ExpiresAt = req.ExpiresAt
	} else {
		expiry := now.Add(s.defaultTTL)
		rule.ExpiresAt = &expiry
	}

	if err := s.store.Save(ctx, rule); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store consent rule")
	}

	if s.metrics != nil {
		s.metrics.ConsentsGranted.WithLabelValues(req.Purpose).Inc()
	}
	s.notifier.Publish(notify.Event{
		Name:    notify.EventConsentGranted,
		Subject: req.Grantor,
		Actor:   req.Grantee.String(),
		At:      now,
		Fields:  map[string]any{"consentId": rule.ID.String(), "purpose": req.Purpose},
	})
	s.emitAudit(ctx, audit.Event{
		Timestamp: now,
		Subject:   req.Grantor,
		Accessor:  req.Grantee.String(),
		Action:    audit.ActionConsentGranted,
		Purpose:   req.Purpose,
		GrantRef:  rule.ID.String(),
		Decision:  audit.DecisionAllowed,
	})

	return rule, nil
}

// Revoke terminally revokes a rule. Only the grantor may revoke.
func (s *Service) Revoke(ctx context.Context, caller string, consentID id.ConsentID) error {
	rule, err := s.store.FindByID(ctx, consentID)
	if err != nil {
		return err
	}
	if rule.Grantor != caller {
		return dErrors.New(dErrors.CodeUnauthorized, "only the grantor may revoke consent")
	}

	now := requesttime.Now(ctx)
	if err := s.store.Revoke(ctx, consentID, now); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.ConsentsRevoked.Inc()
	}
	s.notifier.Publish(notify.Event{
		Name:    notify.EventConsentRevoked,
		Subject: rule.Grantor,
		At:      now,
		Fields:  map[string]any{"consentId": consentID.String()},
	})
	s.emitAudit(ctx, audit.Event{
		Timestamp: now,
		Subject:   rule.Grantor,
		Accessor:  rule.Grantee.String(),
		Action:    audit.ActionConsentRevoked,
		Purpose:   rule.Purpose,
		GrantRef:  consentID.String(),
		Decision:  audit.DecisionAllowed,
	})
	return nil
}

// Authorize evaluates whether accessor may read the requested record types
// from subject's data for purpose. Self-access is always authorized.
// Searching rules is side-effect-free; usage counters are only consumed via
// Consume, where the caller names a specific rule.
func (s *Service) Authorize(ctx context.Context, subject string, accessor id.DID, purpose string, recordTypes []string) (bool, error) {
	if accessor.String() == subject {
		return true, nil
	}

	rules, err := s.store.ListByGrantor(ctx, subject)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load consent rules")
	}

	now := requesttime.Now(ctx)
	for _, rule := range rules {
		if rule.Authorizes(accessor, purpose, recordTypes, now) {
			s.countCheck(purpose, true)
			return true, nil
		}
	}

	s.countCheck(purpose, false)
	return false, nil
}

// Consume authorizes against one explicitly named rule and increments its
// usage counter on success.
func (s *Service) Consume(ctx context.Context, consentID id.ConsentID, accessor id.DID, purpose string, recordTypes []string) (bool, error) {
	rule, err := s.store.FindByID(ctx, consentID)
	if err != nil {
		return false, err
	}

	now := requesttime.Now(ctx)
	if !rule.Authorizes(accessor, purpose, recordTypes, now) {
		s.countCheck(purpose, false)
		return false, nil
	}

	// The snapshot check above can race with other consumers of the same
	// rule; the store re-checks the cap and increments under its own lock.
	if err := s.store.ConsumeUsage(ctx, consentID); err != nil {
		if dErrors.HasCode(err, dErrors.CodeAccessDenied) {
			s.countCheck(purpose, false)
			return false, nil
		}
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to consume consent usage")
	}
	s.countCheck(purpose, true)
	return true, nil
}

func (s *Service) countCheck(purpose string, passed bool) {
	if s.metrics == nil {
		return
	}
	if passed {
		s.metrics.ConsentCheckPassed.WithLabelValues(purpose).Inc()
	} else {
		s.metrics.ConsentCheckFailed.WithLabelValues(purpose).Inc()
	}
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Emit(ctx, event); err != nil && s.logger != nil {
		s.logger.Error("failed to emit audit event", "action", event.Action, "error", err)
	}
}
