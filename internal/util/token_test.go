package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToken(t *testing.T) {
	token, err := GenerateToken(42, "secret", time.Hour)
	require.NoError(t, err)

	id, err := ValidateToken(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, uint(42), id)

	tests := []struct {
		name   string
		token  string
		secret string
	}{
		{"wrong_secret", token, "other"},
		{"garbage", "not-a-token", "secret"},
		{"empty", "", "secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateToken(tt.token, tt.secret)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestExpiredToken(t *testing.T) {
	token, err := GenerateToken(1, "secret", -time.Minute)
	require.NoError(t, err)

	_, err = ValidateToken(token, "secret")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
