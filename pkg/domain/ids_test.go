package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "custodia/pkg/domain-errors"
)

func TestNewDID(t *testing.T) {
	d := NewDID()
	assert.True(t, len(d) > len(DIDPrefix))
	assert.False(t, d.IsNil())

	parsed, err := ParseDID(d.String())
	require.NoError(t, err)
	assert.Equal(t, d, parsed)
}

func TestParseDID_Invalid(t *testing.T) {
	_, err := ParseDID("")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = ParseDID("not-a-did")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestParseTokenID(t *testing.T) {
	id := NewTokenID()
	parsed, err := ParseTokenID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseTokenID("garbage")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestIsNil(t *testing.T) {
	assert.True(t, RecordID(uuid.Nil).IsNil())
	assert.False(t, NewRecordID().IsNil())
	assert.True(t, SubjectKey("").IsNil())
}
