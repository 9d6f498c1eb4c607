package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(Config{Duration: time.Hour})
	assert.ErrorIs(t, err, ErrEmptySecretKey)
	_, err = NewService(Config{SecretKey: "short", Duration: time.Hour})
	assert.ErrorIs(t, err, ErrWeakSecretKey)
	_, err = NewService(Config{SecretKey: testSecret})
	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestJWTService_GenerateAndValidate(t *testing.T) {
	s, err := NewService(Config{SecretKey: testSecret, Duration: time.Hour})
	require.NoError(t, err)

	tok, err := s.GenerateToken("dispatcher-1", "acme", []int64{7, 9}, RoleOperator)
	require.NoError(t, err)

	claims, err := s.ValidateToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "dispatcher-1", claims.Subject)
	assert.Equal(t, "acme", claims.Tenant)
	assert.Equal(t, []int64{7, 9}, claims.Cities)
	assert.True(t, claims.CanOperate())

	_, err = s.GenerateToken("x", "", nil, RoleViewer)
	assert.ErrorIs(t, err, ErrMissingTenant)
}

func TestJWTService_ExpiredAndInvalid(t *testing.T) {
	s, err := NewService(Config{SecretKey: testSecret, Duration: time.Minute})
	require.NoError(t, err)
	issued := time.Now()
	s.now = func() time.Time { return issued }
	tok, err := s.GenerateToken("bob", "acme", nil, RoleViewer)
	require.NoError(t, err)

	s.now = func() time.Time { return issued.Add(2 * time.Minute) }
	claims, err := s.ValidateToken(tok)
	assert.Nil(t, claims)
	assert.ErrorIs(t, err, ErrExpiredToken)

	claims, err = s.ValidateToken("not-a-token")
	assert.Nil(t, claims)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewService(Config{SecretKey: testSecret + "x", Duration: time.Minute})
	require.NoError(t, err)
	_, err = other.ValidateToken(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTService_RejectsTokenWithoutTenant(t *testing.T) {
	s, err := NewService(Config{SecretKey: testSecret, Duration: time.Hour})
	require.NoError(t, err)

	raw := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Role: RoleViewer,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	tok, err := raw.SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = s.ValidateToken(tok)
	assert.ErrorIs(t, err, ErrMissingTenant)
}
