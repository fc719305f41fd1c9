package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	consentservice "custodia/internal/consent/service"
	consentstore "custodia/internal/consent/store"
	"custodia/internal/ledger/models"
	"custodia/internal/ledger/store"
	"custodia/internal/ledger/store/mocks"
	"custodia/internal/platform/crypto"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

const (
	patientSubject = "did:custodia:patient-1"
	batchSubject   = "BATCH-2026-0042"
	purposeCare    = "treatment"
)

type ServiceSuite struct {
	suite.Suite
	service *Service
	store   *store.InMemoryStore
	consent *consentservice.Service
	patient id.DID
}

func (s *ServiceSuite) SetupTest() {
	s.store = store.New()
	s.consent = consentservice.NewService(consentstore.New())
	s.service = NewService(s.store, crypto.NewSHA256Hasher(), crypto.NewChaChaSealer(), s.consent)
	s.patient = id.DID(patientSubject)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) append(subject id.SubjectKey, eventType string, payload string) *models.Record {
	record, err := s.service.Append(context.Background(), AppendRequest{
		Subject: subject,
		Type:    eventType,
		Payload: []byte(payload),
		Actor:   s.patient,
	})
	s.Require().NoError(err)
	return record
}

func (s *ServiceSuite) TestAppend_Validation() {
	_, err := s.service.Append(context.Background(), AppendRequest{
		Type:  "lab_result",
		Actor: s.patient,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput), "missing subject must be rejected")

	_, err = s.service.Append(context.Background(), AppendRequest{
		Subject: id.SubjectKey(patientSubject),
		Actor:   s.patient,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput), "missing event type must be rejected")

	_, err = s.service.Append(context.Background(), AppendRequest{
		Subject: id.SubjectKey(patientSubject),
		Type:    "lab_result",
		Actor:   s.patient,
		Seal:    true,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput), "sealing without a key must be rejected")
}

func (s *ServiceSuite) TestAppend_ChainsLinks() {
	subject := id.SubjectKey(patientSubject)

	first := s.append(subject, "lab_result", `{"hb":13.5}`)
	second := s.append(subject, "prescription", `{"drug":"amoxicillin"}`)
	third := s.append(subject, "visit_note", `{"note":"follow-up"}`)

	s.Empty(first.PreviousHash, "genesis record has no previous hash")
	s.Equal(first.Hash, second.PreviousHash)
	s.Equal(second.Hash, third.PreviousHash)
	s.False(third.Timestamp.Before(second.Timestamp))

	report, err := s.service.VerifyChain(context.Background(), subject)
	s.Require().NoError(err)
	s.True(report.Valid)
	s.Zero(report.BrokenLinks)
	s.Equal(3, report.Total)
}

func (s *ServiceSuite) TestAppend_ConcurrentSameSubject() {
	subject := id.SubjectKey(patientSubject)
	const writers = 16

	errs := make(chan error, writers)
	var wg sync.WaitGroup
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.Append(context.Background(), AppendRequest{
				Subject: subject,
				Type:    "observation",
				Payload: []byte(`{"bp":"120/80"}`),
				Actor:   s.patient,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}

	report, err := s.service.VerifyChain(context.Background(), subject)
	s.Require().NoError(err)
	s.True(report.Valid, "concurrent appends to one subject must still form a valid chain")
	s.Equal(writers, report.Total)
}

func (s *ServiceSuite) TestVerifyChain_DetectsTamper() {
	subject := id.SubjectKey(patientSubject)
	s.append(subject, "lab_result", `{"hb":13.5}`)
	target := s.append(subject, "lab_result", `{"hb":14.1}`)
	s.append(subject, "lab_result", `{"hb":12.9}`)

	s.Require().True(s.store.Tamper(target.ID, []byte(`{"hb":9.9}`)))

	report, err := s.service.VerifyChain(context.Background(), subject)
	s.Require().NoError(err)
	s.False(report.Valid)
	s.GreaterOrEqual(report.BrokenLinks, 1, "a retroactive edit must surface as at least one broken link")
	s.Equal(3, report.Total)
}

func (s *ServiceSuite) TestRead_SelfAccessUnconditional() {
	subject := id.SubjectKey(patientSubject)
	s.append(subject, "lab_result", `{"hb":13.5}`)

	records, err := s.service.Read(context.Background(), ReadRequest{
		Subject:  subject,
		Accessor: s.patient,
		Purpose:  "self",
	})
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Len(records[0].AccessLog, 1, "every returned record gets an access entry")
	s.Equal(s.patient, records[0].AccessLog[0].Accessor)
}

func (s *ServiceSuite) TestRead_DeniedWithoutConsent() {
	subject := id.SubjectKey(patientSubject)
	s.append(subject, "lab_result", `{"hb":13.5}`)

	_, err := s.service.Read(context.Background(), ReadRequest{
		Subject:  subject,
		Accessor: id.NewDID(),
		Purpose:  purposeCare,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeAccessDenied))
}

func (s *ServiceSuite) TestRead_WithConsentAndFilters() {
	ctx := context.Background()
	subject := id.SubjectKey(patientSubject)
	doctor := id.NewDID()

	s.append(subject, "lab_result", `{"hb":13.5}`)
	s.append(subject, "prescription", `{"drug":"amoxicillin"}`)

	_, err := s.consent.Grant(ctx, consentservice.GrantRequest{
		Grantor:     patientSubject,
		Grantee:     doctor,
		Purpose:     purposeCare,
		RecordTypes: []string{"lab_result"},
	})
	s.Require().NoError(err)

	records, err := s.service.Read(ctx, ReadRequest{
		Subject:      subject,
		Accessor:     doctor,
		AccessorRole: "doctor",
		Purpose:      purposeCare,
		Filters:      models.Filters{Types: []string{"lab_result"}},
	})
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal("lab_result", records[0].Type)
	s.Require().Len(records[0].AccessLog, 1)
	s.Equal(purposeCare, records[0].AccessLog[0].Purpose)
	s.Equal("doctor", records[0].AccessLog[0].Role)

	// The consent covers lab results only; asking for everything is denied.
	_, err = s.service.Read(ctx, ReadRequest{
		Subject:  subject,
		Accessor: doctor,
		Purpose:  purposeCare,
		Filters:  models.Filters{Types: []string{"lab_result", "prescription"}},
	})
	s.True(dErrors.HasCode(err, dErrors.CodeAccessDenied))
}

func (s *ServiceSuite) TestRead_ConsumesNamedRule() {
	ctx := context.Background()
	subject := id.SubjectKey(patientSubject)
	doctor := id.NewDID()

	s.append(subject, "lab_result", `{"hb":13.5}`)

	rule, err := s.consent.Grant(ctx, consentservice.GrantRequest{
		Grantor:     patientSubject,
		Grantee:     doctor,
		Purpose:     purposeCare,
		RecordTypes: []string{"lab_result"},
		UsageCap:    1,
	})
	s.Require().NoError(err)

	records, err := s.service.Read(ctx, ReadRequest{
		Subject:    subject,
		Accessor:   doctor,
		Purpose:    purposeCare,
		Filters:    models.Filters{Types: []string{"lab_result"}},
		ConsentRef: &rule.ID,
	})
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal(rule.ID.String(), records[0].AccessLog[0].GrantRef)

	// The cap was consumed by the named-rule read.
	_, err = s.service.Read(ctx, ReadRequest{
		Subject:    subject,
		Accessor:   doctor,
		Purpose:    purposeCare,
		Filters:    models.Filters{Types: []string{"lab_result"}},
		ConsentRef: &rule.ID,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeAccessDenied))
}

func (s *ServiceSuite) TestAppend_SealedPayload() {
	sealer := crypto.NewChaChaSealer()
	key, err := sealer.NewKey()
	s.Require().NoError(err)

	subject := id.SubjectKey(patientSubject)
	record, err := s.service.Append(context.Background(), AppendRequest{
		Subject: subject,
		Type:    "genomic_report",
		Payload: []byte(`{"marker":"BRCA1"}`),
		Actor:   s.patient,
		Seal:    true,
		SealKey: key,
	})
	s.Require().NoError(err)
	s.True(record.Sealed)
	s.NotContains(string(record.Payload), "BRCA1")

	// Verification works on ciphertext; no key needed.
	report, err := s.service.VerifyChain(context.Background(), subject)
	s.Require().NoError(err)
	s.True(report.Valid)

	plaintext, err := s.service.Unseal(record, key)
	s.Require().NoError(err)
	s.JSONEq(`{"marker":"BRCA1"}`, string(plaintext))
}

func (s *ServiceSuite) TestColdChain_BreachRaisesAlert() {
	ctx := context.Background()
	subject := id.SubjectKey(batchSubject)
	manufacturer := id.NewDID()

	// In-range reading: no alert.
	_, err := s.service.Append(ctx, AppendRequest{
		Subject:  subject,
		Type:     models.EventShipped,
		Payload:  []byte(`{"carrier":"coldtrans"}`),
		Metadata: map[string]string{models.MetadataTemperature: "4.5"},
		Actor:    manufacturer,
	})
	s.Require().NoError(err)

	alerts, err := s.store.ListBySubject(ctx, models.AlertSubject(subject))
	s.Require().NoError(err)
	s.Empty(alerts)

	// Out-of-range reading raises an alert on the parallel chain.
	trigger, err := s.service.Append(ctx, AppendRequest{
		Subject:  subject,
		Type:     models.EventReceived,
		Payload:  []byte(`{"site":"pharmacy-12"}`),
		Metadata: map[string]string{models.MetadataTemperature: "12.3"},
		Actor:    manufacturer,
	})
	s.Require().NoError(err)

	alerts, err = s.store.ListBySubject(ctx, models.AlertSubject(subject))
	s.Require().NoError(err)
	s.Require().Len(alerts, 1)
	s.Equal(models.EventColdChainBreak, alerts[0].Type)
	s.Equal(trigger.ID.String(), alerts[0].Metadata["triggerRecord"])

	// The custody chain itself stays intact and alert-free.
	report, err := s.service.VerifyChain(ctx, subject)
	s.Require().NoError(err)
	s.True(report.Valid)
	s.Equal(2, report.Total)
}

func (s *ServiceSuite) TestColdChain_NonCustodyEventIgnored() {
	ctx := context.Background()
	subject := id.SubjectKey(patientSubject)

	_, err := s.service.Append(ctx, AppendRequest{
		Subject:  subject,
		Type:     "lab_result",
		Payload:  []byte(`{"hb":13.5}`),
		Metadata: map[string]string{models.MetadataTemperature: "40.1"},
		Actor:    s.patient,
	})
	s.Require().NoError(err)

	alerts, err := s.store.ListBySubject(ctx, models.AlertSubject(subject))
	s.Require().NoError(err)
	s.Empty(alerts, "temperature metadata on non-custody events is inert")
}

func (s *ServiceSuite) TestVerifyAll() {
	ctx := context.Background()
	first := id.SubjectKey(patientSubject)
	second := id.SubjectKey(batchSubject)

	s.append(first, "lab_result", `{"hb":13.5}`)
	tampered := s.append(second, models.EventManufactured, `{"lot":"A1"}`)
	s.Require().True(s.store.Tamper(tampered.ID, []byte(`{"lot":"B2"}`)))

	reports, err := s.service.VerifyAll(ctx, first, second)
	s.Require().NoError(err)
	s.Require().Len(reports, 2)
	s.True(reports[0].Valid)
	s.False(reports[1].Valid)
}

func TestAppend_StoreFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	svc := NewService(st, crypto.NewSHA256Hasher(), crypto.NewChaChaSealer(), nil)

	subject := id.SubjectKey(patientSubject)
	st.EXPECT().Head(gomock.Any(), subject).Return(nil, nil)
	st.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(dErrors.New(dErrors.CodeInternal, "db down"))

	_, err := svc.Append(context.Background(), AppendRequest{
		Subject: subject,
		Type:    "lab_result",
		Payload: []byte(`{}`),
		Actor:   id.DID(patientSubject),
	})
	if !dErrors.HasCode(err, dErrors.CodeInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestAppend_TimestampNeverRegresses(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	svc := NewService(st, crypto.NewSHA256Hasher(), crypto.NewChaChaSealer(), nil)

	subject := id.SubjectKey(patientSubject)
	future := time.Now().Add(time.Hour)
	head := &models.Record{
		ID:        id.NewRecordID(),
		Subject:   subject,
		Type:      "lab_result",
		Hash:      "abc",
		Timestamp: future,
	}
	st.EXPECT().Head(gomock.Any(), subject).Return(head, nil)
	st.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(nil)

	record, err := svc.Append(context.Background(), AppendRequest{
		Subject: subject,
		Type:    "lab_result",
		Payload: []byte(`{}`),
		Actor:   id.DID(patientSubject),
	})
	if err != nil {
		t.Fatal(err)
	}
	if record.Timestamp.Before(head.Timestamp) {
		t.Fatalf("timestamp regressed: %v < %v", record.Timestamp, head.Timestamp)
	}
}
