package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custodia/internal/audit"
	ledgerservice "custodia/internal/ledger/service"
	ledgerstore "custodia/internal/ledger/store"
	"custodia/internal/platform/crypto"
	"custodia/internal/sharing/store"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/requesttime"
)

type ServiceSuite struct {
	suite.Suite
	service *Service
	ledger  *ledgerservice.Service
	auditor *audit.Publisher
	patient id.DID
	doctor  id.DID
}

func (s *ServiceSuite) SetupTest() {
	s.patient = id.NewDID()
	s.doctor = id.NewDID()
	s.auditor = audit.NewPublisher(audit.NewInMemoryStore())
	s.ledger = ledgerservice.NewService(
		ledgerstore.New(), crypto.NewSHA256Hasher(), crypto.NewChaChaSealer(), nil,
		ledgerservice.WithAuditor(s.auditor),
	)
	s.service = NewService(
		store.New(), s.ledger, crypto.NewChaChaSealer(), []byte("test-signing-key"),
		WithAuditor(s.auditor),
	)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) appendRecord() id.RecordID {
	record, err := s.ledger.Append(context.Background(), ledgerservice.AppendRequest{
		Subject: id.SubjectKey(s.patient.String()),
		Type:    "lab_result",
		Payload: []byte(`{"hb":13.5}`),
		Actor:   s.patient,
	})
	s.Require().NoError(err)
	return record.ID
}

func (s *ServiceSuite) issue(singleUse bool, recordIDs ...id.RecordID) (*tokenAndCompact, error) {
	token, compact, err := s.service.Issue(context.Background(), IssueRequest{
		Grantor:   s.patient,
		Grantee:   s.doctor,
		RecordIDs: recordIDs,
		SingleUse: singleUse,
	})
	if err != nil {
		return nil, err
	}
	return &tokenAndCompact{token.ID, compact}, nil
}

type tokenAndCompact struct {
	id      id.TokenID
	compact string
}

func (s *ServiceSuite) TestIssue_Validation() {
	_, _, err := s.service.Issue(context.Background(), IssueRequest{
		Grantee:   s.doctor,
		RecordIDs: []id.RecordID{id.NewRecordID()},
	})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput), "missing grantor must be rejected")

	_, _, err = s.service.Issue(context.Background(), IssueRequest{
		Grantor: s.patient,
		Grantee: s.doctor,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput), "empty record set must be rejected")
}

func (s *ServiceSuite) TestIssue_OwnershipEnforced() {
	recordID := s.appendRecord()

	_, _, err := s.service.Issue(context.Background(), IssueRequest{
		Grantor:   id.NewDID(),
		Grantee:   s.doctor,
		RecordIDs: []id.RecordID{recordID},
	})
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized), "only the record owner may share it")

	_, _, err = s.service.Issue(context.Background(), IssueRequest{
		Grantor:   s.patient,
		Grantee:   s.doctor,
		RecordIDs: []id.RecordID{id.NewRecordID()},
	})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestRedeem_ReturnsRecordsAndLogsAccess() {
	recordID := s.appendRecord()
	issued, err := s.issue(false, recordID)
	s.Require().NoError(err)

	redemption, err := s.service.Redeem(context.Background(), issued.id, s.doctor)
	s.Require().NoError(err)
	s.Require().Len(redemption.Records, 1)
	s.Equal(recordID, redemption.Records[0].ID)
	s.Require().Len(redemption.Records[0].AccessLog, 1)
	s.Equal(issued.id.String(), redemption.Records[0].AccessLog[0].GrantRef)
	s.NotEmpty(redemption.Token.EphemeralKey)

	events, err := s.auditor.List(context.Background(), s.patient.String(), audit.Filter{})
	s.Require().NoError(err)
	var redeemed bool
	for _, e := range events {
		if e.Action == audit.ActionTokenRedeemed && e.Decision == audit.DecisionAllowed {
			redeemed = true
		}
	}
	s.True(redeemed, "successful redemption must land in the audit trail")
}

func (s *ServiceSuite) TestRedeem_RecipientMismatch() {
	recordID := s.appendRecord()
	issued, err := s.issue(false, recordID)
	s.Require().NoError(err)

	_, err = s.service.Redeem(context.Background(), issued.id, id.NewDID())
	s.True(dErrors.HasCode(err, dErrors.CodeTokenMismatch))
}

func (s *ServiceSuite) TestRedeem_Expiry() {
	recordID := s.appendRecord()
	issued, err := s.issue(false, recordID)
	s.Require().NoError(err)

	late := requesttime.WithTime(context.Background(), time.Now().Add(25*time.Hour))
	_, err = s.service.Redeem(late, issued.id, s.doctor)
	s.True(dErrors.HasCode(err, dErrors.CodeTokenExpired))
}

func (s *ServiceSuite) TestRedeem_SingleUse() {
	recordID := s.appendRecord()
	issued, err := s.issue(true, recordID)
	s.Require().NoError(err)

	_, err = s.service.Redeem(context.Background(), issued.id, s.doctor)
	s.Require().NoError(err)

	_, err = s.service.Redeem(context.Background(), issued.id, s.doctor)
	s.True(dErrors.HasCode(err, dErrors.CodeTokenUsed))
}

func (s *ServiceSuite) TestRedeem_ConcurrentSingleWinner() {
	recordID := s.appendRecord()
	issued, err := s.issue(true, recordID)
	s.Require().NoError(err)

	const attempts = 16
	var wins, used atomic.Int32
	var wg sync.WaitGroup
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.Redeem(context.Background(), issued.id, s.doctor)
			switch {
			case err == nil:
				wins.Add(1)
			case dErrors.HasCode(err, dErrors.CodeTokenUsed):
				used.Add(1)
			default:
				s.T().Errorf("unexpected redemption error: %v", err)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load(), "exactly one concurrent redemption succeeds")
	s.Equal(int32(attempts-1), used.Load())
}

func (s *ServiceSuite) TestRedeemCompact() {
	recordID := s.appendRecord()
	issued, err := s.issue(false, recordID)
	s.Require().NoError(err)

	redemption, err := s.service.RedeemCompact(context.Background(), issued.compact, s.doctor)
	s.Require().NoError(err)
	s.Len(redemption.Records, 1)

	// A token signed with a different key is rejected before any lookup.
	other := NewService(store.New(), s.ledger, crypto.NewChaChaSealer(), []byte("other-key"))
	_, err = other.RedeemCompact(context.Background(), issued.compact, s.doctor)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}
