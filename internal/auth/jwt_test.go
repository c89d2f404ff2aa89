package auth

import (
	"testing"
	"time"

	apperrors "github.com/aihub/chat-backend/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_RoundTrip(t *testing.T) {
	v, err := NewVerifier("test-secret", "chat", time.Hour)
	require.NoError(t, err)

	token, err := v.Issue(7)
	require.NoError(t, err)

	claims, err := v.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, uint(7), claims.UserID)
	assert.Equal(t, "7", claims.Subject)

	userID, err := v.Authenticate("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, uint(7), userID)
}

func TestVerifier_Rejects(t *testing.T) {
	v, err := NewVerifier("test-secret", "chat", time.Hour)
	require.NoError(t, err)

	other, err := NewVerifier("other-secret", "chat", time.Hour)
	require.NoError(t, err)
	forged, err := other.Issue(7)
	require.NoError(t, err)

	wrongIssuer, err := NewVerifier("test-secret", "someone-else", time.Hour)
	require.NoError(t, err)
	foreign, err := wrongIssuer.Issue(7)
	require.NoError(t, err)

	expiredSigner, err := NewVerifier("test-secret", "chat", time.Hour)
	require.NoError(t, err)
	expiredSigner.ttl = -time.Hour
	expired, err := expiredSigner.Issue(7)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		msg    string
	}{
		{"empty header", "", "Authentication required"},
		{"basic scheme", "Basic dXNlcjpwYXNz", "Authentication required"},
		{"wrong secret", "Bearer " + forged, "Invalid access token"},
		{"wrong issuer", "Bearer " + foreign, "Invalid access token"},
		{"expired", "Bearer " + expired, "Access token has expired"},
		{"garbage", "Bearer not-a-jwt", "Invalid access token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Authenticate(tt.header)
			require.Error(t, err)
			appErr := apperrors.GetAppError(err)
			assert.Equal(t, apperrors.ErrCodeUnauthorized, appErr.Code)
			assert.Equal(t, tt.msg, appErr.Message)
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc", "abc", false},
		{"bearer abc", "abc", false},
		{"  Bearer   abc  ", "abc", false},
		{"Bearer ", "", true},
		{"abc", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, err := BearerToken(tt.header)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewVerifier_EmptySecret(t *testing.T) {
	_, err := NewVerifier("", "chat", time.Hour)
	assert.Error(t, err)
}
