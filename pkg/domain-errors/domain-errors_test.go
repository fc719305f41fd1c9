package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

// DomainErrorsSuite tests the domain error primitives.
//
// These are core error primitives used at every trust boundary. Unit tests
// ensure invariants like "wrapped domain errors preserve original code" and
// "errors.Is matches by code" are maintained.
type DomainErrorsSuite struct {
	suite.Suite
}

func TestDomainErrorsSuite(t *testing.T) {
	suite.Run(t, new(DomainErrorsSuite))
}

func (s *DomainErrorsSuite) TestErrorInterface() {
	s.Run("returns message when present", func() {
		err := &Error{Code: CodeNotFound, Message: "credential not found"}
		s.Equal("credential not found", err.Error())
	})

	s.Run("returns code when message is empty", func() {
		err := &Error{Code: CodeTokenExpired}
		s.Equal("token_expired", err.Error())
	})
}

func (s *DomainErrorsSuite) TestUnwrap() {
	inner := errors.New("connection refused")
	err := Wrap(inner, CodeInternal, "store failure")
	s.ErrorIs(err, inner)
}

func (s *DomainErrorsSuite) TestIsMatchesByCode() {
	err := New(CodeAccessDenied, "no consent rule matched")
	s.True(errors.Is(err, &Error{Code: CodeAccessDenied}))
	s.False(errors.Is(err, &Error{Code: CodeUnauthorized}))
}

func (s *DomainErrorsSuite) TestWrapPreservesOriginalCode() {
	inner := New(CodeTokenUsed, "token already redeemed")
	wrapped := Wrap(inner, CodeInternal, "redemption failed")
	s.True(HasCode(wrapped, CodeTokenUsed), "wrapping must not overwrite domain codes")
}

func (s *DomainErrorsSuite) TestHasCode() {
	err := fmt.Errorf("outer: %w", New(CodeChainIntegrity, "hash mismatch at index 2"))
	s.True(HasCode(err, CodeChainIntegrity))
	s.False(HasCode(err, CodeNotFound))
	s.False(HasCode(errors.New("plain"), CodeNotFound))
}
