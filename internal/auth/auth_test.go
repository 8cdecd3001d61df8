package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/docnt/docnt/internal/model"
)

var testUser = &model.User{ID: "u-1", Email: "prof@example.com", Name: "Prof", Role: model.UserRoleTeacher}

func TestIssueVerify(t *testing.T) {
	iss, err := NewIssuer("secret", 0)
	require.NoError(t, err)
	require.Equal(t, DefaultTTL, iss.TTL())

	token, exp, err := iss.Issue(testUser)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(DefaultTTL), exp, 5*time.Second)

	claims, err := iss.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "u-1", claims.UserID())
	require.Equal(t, "prof@example.com", claims.Email)
	require.Equal(t, model.UserRoleTeacher, claims.Role)
	require.NotEmpty(t, claims.ID)
}

func TestVerifyRejects(t *testing.T) {
	iss, err := NewIssuer("secret", time.Hour)
	require.NoError(t, err)
	token, _, err := iss.Issue(testUser)
	require.NoError(t, err)

	other, err := NewIssuer("other-secret", time.Hour)
	require.NoError(t, err)
	_, err = other.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = iss.Verify("not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)

	iss.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = iss.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsNoneAlg(t *testing.T) {
	iss, err := NewIssuer("secret", time.Hour)
	require.NoError(t, err)

	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "u-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = iss.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	_, err := NewIssuer("", 0)
	require.Error(t, err)
}
