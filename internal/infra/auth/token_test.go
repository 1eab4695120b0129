package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sokochat/internal/domain/chat"
)

func TestIssueValidateRoundTrip(t *testing.T) {
	tokens := Tokens{Secret: []byte("test-secret"), TTL: time.Hour}

	signed, err := tokens.Issue(chat.UserID(42))
	require.NoError(t, err)

	claims, err := tokens.Validate(signed)
	require.NoError(t, err)
	assert.Equal(t, "42", claims.UserID)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	signed, err := Tokens{Secret: []byte("right"), TTL: time.Hour}.Issue(7)
	require.NoError(t, err)

	_, err = Tokens{Secret: []byte("wrong")}.Validate(signed)
	assert.Error(t, err)
}

func TestViewerIDParsesWithoutVerification(t *testing.T) {
	signed, err := Tokens{Secret: []byte("whatever"), TTL: time.Hour}.Issue(3)
	require.NoError(t, err)

	viewer, err := ViewerID(signed)
	require.NoError(t, err)
	assert.Equal(t, chat.UserID(3), viewer)
}

func TestViewerIDRejectsGarbage(t *testing.T) {
	_, err := ViewerID("definitely-not-a-jwt")
	assert.Error(t, err)
}
