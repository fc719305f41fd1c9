package service

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"custodia/internal/audit"
	"custodia/internal/ledger/models"
	"custodia/internal/ledger/store"
	"custodia/internal/platform/crypto"
	"custodia/internal/platform/metrics"
	"custodia/internal/platform/notify"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	keyedsync "custodia/pkg/platform/sync"
	"custodia/pkg/requesttime"
)

const tracerName = "custodia/ledger"

// ConsentAuthorizer gates non-self reads. Evaluation fails closed.
type ConsentAuthorizer interface {
	Authorize(ctx context.Context, subject string, accessor id.DID, purpose string, recordTypes []string) (bool, error)
	Consume(ctx context.Context, consentID id.ConsentID, accessor id.DID, purpose string, recordTypes []string) (bool, error)
}

// ColdChainBounds is the acceptance band for custody temperature readings.
type ColdChainBounds struct {
	Min float64
	Max float64
}

// AppendRequest carries the inputs for a ledger append.
type AppendRequest struct {
	Subject  id.SubjectKey
	Type     string
	Payload  []byte
	Metadata map[string]string
	Actor    id.DID
	// Seal encrypts the payload before hashing. SealKey is required when set;
	// the hash then covers the ciphertext, so integrity verification never
	// needs the key.
	Seal    bool
	SealKey []byte
}

// ReadRequest carries the inputs for an authorized ledger read.
type ReadRequest struct {
	Subject      id.SubjectKey
	Accessor     id.DID
	AccessorRole string
	Purpose      string
	Filters      models.Filters
	// ConsentRef names a specific consent rule to consume. When nil, rules
	// are searched without incrementing any usage counter.
	ConsentRef *id.ConsentID
}

// Option configures the ledger service.
type Option func(*Service)

// Service is the generic append-only hash-chained ledger engine. The same
// engine backs patient record chains and pharmaceutical custody chains;
// appends to one subject's chain are serialized, chains for different
// subjects proceed in parallel.
type Service struct {
	store     store.Store
	hasher    crypto.Hasher
	sealer    crypto.Sealer
	consent   ConsentAuthorizer
	auditor   *audit.Publisher
	notifier  notify.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
	locks     *keyedsync.ShardedMutex
	coldChain ColdChainBounds
}

func NewService(st store.Store, hasher crypto.Hasher, sealer crypto.Sealer, consent ConsentAuthorizer, opts ...Option) *Service {
	svc := &Service{
		store:     st,
		hasher:    hasher,
		sealer:    sealer,
		consent:   consent,
		notifier:  notify.NopPublisher{},
		tracer:    otel.Tracer(tracerName),
		locks:     keyedsync.NewShardedMutex(),
		coldChain: ColdChainBounds{Min: 2, Max: 8},
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

// WithColdChainBounds overrides the custody temperature acceptance band.
func WithColdChainBounds(bounds ColdChainBounds) Option {
	return func(s *Service) { s.coldChain = bounds }
}

// Append adds a record to the subject's chain. The write is serialized per
// subject so the previous-hash link and timestamp ordering are preserved
// under concurrent callers.
func (s *Service) Append(ctx context.Context, req AppendRequest) (*models.Record, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.append",
		trace.WithAttributes(attribute.String("ledger.subject", req.Subject.String())))
	defer span.End()

	if req.Subject.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "subject key required")
	}
	if req.Type == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "event type required")
	}
	if req.Actor.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "actor required")
	}
	if req.Seal && len(req.SealKey) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "seal key required when sealing")
	}

	start := time.Now()
	s.locks.Lock(req.Subject.String())
	record, err := s.appendLocked(ctx, req)
	s.locks.Unlock(req.Subject.String())
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordsAppended.WithLabelValues(req.Type).Inc()
		s.metrics.AppendLatency.Observe(time.Since(start).Seconds())
	}
	s.notifier.Publish(notify.Event{
		Name:    notify.EventRecordAppended,
		Subject: req.Subject.String(),
		Actor:   req.Actor.String(),
		At:      record.Timestamp,
		Fields:  map[string]any{"recordId": record.ID.String(), "type": req.Type},
	})
	s.emitAudit(ctx, audit.Event{
		Timestamp: record.Timestamp,
		Subject:   req.Subject.String(),
		RecordID:  record.ID.String(),
		Accessor:  req.Actor.String(),
		Action:    audit.ActionRecordAppended,
		Decision:  audit.DecisionAllowed,
	})

	// Synchronous anomaly check for custody chains: an out-of-range
	// temperature raises an alert record on the parallel alerts chain.
	if breach, reading := s.coldChainBreach(req); breach {
		if err := s.raiseColdChainAlert(ctx, req, record, reading); err != nil && s.logger != nil {
			s.logger.Error("failed to raise cold chain alert",
				"subject", req.Subject.String(),
				"error", err,
			)
		}
	}

	return record, nil
}

func (s *Service) appendLocked(ctx context.Context, req AppendRequest) (*models.Record, error) {
	head, err := s.store.Head(ctx, req.Subject)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load chain head")
	}

	payload := req.Payload
	if req.Seal {
		payload, err = s.sealer.Seal(req.SealKey, req.Payload)
		if err != nil {
			return nil, err
		}
	}

	now := requesttime.Now(ctx)
	previousHash := ""
	if head != nil {
		previousHash = head.Hash
		// Chain timestamps are non-decreasing even if the wall clock skews.
		if now.Before(head.Timestamp) {
			now = head.Timestamp
		}
	}

	record := &models.Record{
		ID:           id.NewRecordID(),
		Subject:      req.Subject,
		Type:         req.Type,
		Payload:      payload,
		Sealed:       req.Seal,
		Metadata:     req.Metadata,
		Actor:        req.Actor,
		PreviousHash: previousHash,
		Timestamp:    now,
	}
	record.Hash = s.hasher.Sum([]byte(record.CanonicalString()))

	if err := s.store.Insert(ctx, record); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to insert record")
	}
	return record, nil
}

// Read returns the subject's records visible to the accessor. Self-access is
// unconditional; anything else requires a consent rule. Denial fails closed
// with CodeAccessDenied, and every returned record gets an access entry.
func (s *Service) Read(ctx context.Context, req ReadRequest) ([]*models.Record, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.read",
		trace.WithAttributes(
			attribute.String("ledger.subject", req.Subject.String()),
			attribute.String("ledger.accessor", req.Accessor.String()),
		))
	defer span.End()

	if req.Subject.IsNil() || req.Accessor.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "subject and accessor required")
	}

	authorized, grantRef, err := s.authorize(ctx, req)
	if err != nil {
		return nil, err
	}
	now := requesttime.Now(ctx)
	if !authorized {
		s.emitAudit(ctx, audit.Event{
			Timestamp: now,
			Subject:   req.Subject.String(),
			Accessor:  req.Accessor.String(),
			Action:    audit.ActionAccessDenied,
			Purpose:   req.Purpose,
			Decision:  audit.DecisionDenied,
			Reason:    "no matching consent rule",
		})
		return nil, dErrors.New(dErrors.CodeAccessDenied, "access denied")
	}

	records, err := s.store.ListBySubject(ctx, req.Subject)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list records")
	}

	filtered := records[:0:0]
	for _, record := range records {
		if req.Filters.Matches(record) {
			filtered = append(filtered, record)
		}
	}

	entry := models.AccessEntry{
		Accessor:   req.Accessor,
		Role:       req.AccessorRole,
		AccessedAt: now,
		Purpose:    req.Purpose,
		GrantRef:   grantRef,
	}
	for _, record := range filtered {
		if err := s.store.AppendAccessEntry(ctx, record.ID, entry); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to log access")
		}
		record.AccessLog = append(record.AccessLog, entry)
		s.emitAudit(ctx, audit.Event{
			Timestamp:    now,
			Subject:      req.Subject.String(),
			RecordID:     record.ID.String(),
			Accessor:     req.Accessor.String(),
			AccessorRole: req.AccessorRole,
			Action:       audit.ActionRecordRead,
			Purpose:      req.Purpose,
			GrantRef:     grantRef,
			Decision:     audit.DecisionAllowed,
		})
	}

	return filtered, nil
}

func (s *Service) authorize(ctx context.Context, req ReadRequest) (bool, string, error) {
	if req.Accessor.String() == req.Subject.String() {
		return true, "", nil
	}
	if s.consent == nil {
		// No consent engine wired: fail closed for non-self access.
		return false, "", nil
	}
	if req.ConsentRef != nil {
		ok, err := s.consent.Consume(ctx, *req.ConsentRef, req.Accessor, req.Purpose, req.Filters.Types)
		if err != nil {
			return false, "", err
		}
		return ok, req.ConsentRef.String(), nil
	}
	ok, err := s.consent.Authorize(ctx, req.Subject.String(), req.Accessor, req.Purpose, req.Filters.Types)
	return ok, "", err
}

// VerifyChain walks one subject's chain pairwise, recomputing each record's
// hash and checking the previous-hash link and timestamp ordering. Read-only:
// mismatches are reported, never repaired.
func (s *Service) VerifyChain(ctx context.Context, subject id.SubjectKey) (models.IntegrityReport, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.verify_chain",
		trace.WithAttributes(attribute.String("ledger.subject", subject.String())))
	defer span.End()

	records, err := s.store.ListBySubject(ctx, subject)
	if err != nil {
		return models.IntegrityReport{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list records")
	}

	report := models.IntegrityReport{Subject: subject, Total: len(records)}
	for i, record := range records {
		broken := false

		if recomputed := s.hasher.Sum([]byte(record.CanonicalString())); recomputed != record.Hash {
			broken = true
		}
		if i == 0 {
			if record.PreviousHash != "" {
				broken = true
			}
		} else {
			prev := records[i-1]
			if record.PreviousHash != prev.Hash {
				broken = true
			}
			if record.Timestamp.Before(prev.Timestamp) {
				broken = true
			}
		}

		if broken {
			report.BrokenLinks++
		}
	}
	report.Valid = report.BrokenLinks == 0

	if s.metrics != nil {
		s.metrics.ChainVerifications.Inc()
		if report.BrokenLinks > 0 {
			s.metrics.BrokenLinksFound.Add(float64(report.BrokenLinks))
		}
	}
	if !report.Valid && s.logger != nil {
		s.logger.Error("chain integrity violation detected",
			"subject", subject.String(),
			"broken_links", report.BrokenLinks,
			"total", report.Total,
		)
	}
	return report, nil
}

// VerifyAll verifies multiple subjects concurrently. Chains are independent,
// so verification parallelizes naturally.
func (s *Service) VerifyAll(ctx context.Context, subjects ...id.SubjectKey) ([]models.IntegrityReport, error) {
	reports := make([]models.IntegrityReport, len(subjects))
	g, ctx := errgroup.WithContext(ctx)
	for i, subject := range subjects {
		g.Go(func() error {
			report, err := s.VerifyChain(ctx, subject)
			if err != nil {
				return err
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// FindRecords loads specific records by id. Used by the sharing token
// service, where the token itself is the authorization.
func (s *Service) FindRecords(ctx context.Context, recordIDs []id.RecordID) ([]*models.Record, error) {
	records := make([]*models.Record, 0, len(recordIDs))
	for _, rid := range recordIDs {
		record, err := s.store.FindByID(ctx, rid)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// LogAccess appends an access entry to a record and mirrors it to the audit
// trail. Used for token-authorized reads that bypass consent evaluation.
func (s *Service) LogAccess(ctx context.Context, record *models.Record, entry models.AccessEntry) error {
	if err := s.store.AppendAccessEntry(ctx, record.ID, entry); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to log access")
	}
	record.AccessLog = append(record.AccessLog, entry)
	s.emitAudit(ctx, audit.Event{
		Timestamp:    entry.AccessedAt,
		Subject:      record.Subject.String(),
		RecordID:     record.ID.String(),
		Accessor:     entry.Accessor.String(),
		AccessorRole: entry.Role,
		Action:       audit.ActionRecordRead,
		Purpose:      entry.Purpose,
		GrantRef:     entry.GrantRef,
		Decision:     audit.DecisionAllowed,
	})
	return nil
}

// Unseal decrypts a sealed record payload with the subject's seal key.
func (s *Service) Unseal(record *models.Record, key []byte) ([]byte, error) {
	if !record.Sealed {
		return record.Payload, nil
	}
	return s.sealer.Open(key, record.Payload)
}

func (s *Service) coldChainBreach(req AppendRequest) (bool, float64) {
	if !isCustodyEvent(req.Type) {
		return false, 0
	}
	raw, ok := req.Metadata[models.MetadataTemperature]
	if !ok {
		return false, 0
	}
	reading, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return false, 0
	}
	return reading < s.coldChain.Min || reading > s.coldChain.Max, reading
}

func (s *Service) raiseColdChainAlert(ctx context.Context, req AppendRequest, trigger *models.Record, reading float64) error {
	alertSubject := models.AlertSubject(req.Subject)

	s.locks.Lock(alertSubject.String())
	alert, err := s.appendLocked(ctx, AppendRequest{
		Subject: alertSubject,
		Type:    models.EventColdChainBreak,
		Payload: []byte(`{"reading":` + strconv.FormatFloat(reading, 'f', -1, 64) + `}`),
		Metadata: map[string]string{
			"triggerRecord": trigger.ID.String(),
			"custodyEvent":  req.Type,
		},
		Actor: req.Actor,
	})
	s.locks.Unlock(alertSubject.String())
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.ColdChainAlerts.Inc()
	}
	s.notifier.Publish(notify.Event{
		Name:    notify.EventColdChainAlert,
		Subject: req.Subject.String(),
		Actor:   req.Actor.String(),
		At:      alert.Timestamp,
		Fields: map[string]any{
			"reading":       reading,
			"min":           s.coldChain.Min,
			"max":           s.coldChain.Max,
			"triggerRecord": trigger.ID.String(),
		},
	})
	if s.logger != nil {
		s.logger.Warn("cold chain break detected",
			"subject", req.Subject.String(),
			"reading", reading,
		)
	}
	return nil
}

func isCustodyEvent(eventType string) bool {
	switch eventType {
	case models.EventManufactured, models.EventPackaged, models.EventShipped,
		models.EventReceived, models.EventDispensed, models.EventAdministered:
		return true
	}
	return false
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Emit(ctx, event); err != nil && s.logger != nil {
		s.logger.Error("failed to emit audit event", "action", event.Action, "error", err)
	}
}
