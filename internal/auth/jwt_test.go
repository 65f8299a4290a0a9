package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opina/server/internal/model"
)

func TestJWTService_SignAndVerify(t *testing.T) {
	svc := NewJWTService("test-secret", time.Hour)
	user := model.User{ID: 42, Email: "alice@example.com", IsAdmin: true}

	token, err := svc.Sign(user)
	require.NoError(t, err)

	claims, err := svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.True(t, claims.IsAdmin)
	assert.False(t, claims.IsSuperAdmin)
	assert.Equal(t, "42", claims.Subject)

	id := claims.Identity()
	assert.Equal(t, Identity{ID: 42, Email: "alice@example.com", IsAdmin: true}, id)
}

func TestJWTService_Expired(t *testing.T) {
	svc := NewJWTService("test-secret", time.Hour)
	issued := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return issued }

	token, err := svc.Sign(model.User{ID: 1, Email: "a@b.c"})
	require.NoError(t, err)

	svc.now = func() time.Time { return issued.Add(59 * time.Minute) }
	_, err = svc.VerifyToken(token)
	require.NoError(t, err)

	svc.now = func() time.Time { return issued.Add(2 * time.Hour) }
	_, err = svc.VerifyToken(token)
	assert.Error(t, err)
}

func TestJWTService_WrongSecret(t *testing.T) {
	token, err := NewJWTService("secret-a", time.Hour).Sign(model.User{ID: 1})
	require.NoError(t, err)

	_, err = NewJWTService("secret-b", time.Hour).VerifyToken(token)
	assert.Error(t, err)
}

func TestJWTService_RejectsNonHMAC(t *testing.T) {
	claims := &JWTClaims{UserID: 1, RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewJWTService("secret", time.Hour).VerifyToken(raw)
	assert.Error(t, err)
}

func TestJWTService_RejectsMissingUserID(t *testing.T) {
	svc := NewJWTService("secret", time.Hour)
	claims := &JWTClaims{Email: "x@y.z", RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = svc.VerifyToken(raw)
	assert.Error(t, err)
}

func TestJWTService_Garbage(t *testing.T) {
	_, err := NewJWTService("secret", time.Hour).VerifyToken("not.a.token")
	assert.Error(t, err)
}
