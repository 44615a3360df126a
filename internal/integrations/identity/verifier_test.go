package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"persona-chat/internal/domain"
)

const testProject = "persona-chat-test"

func newSigningKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func signToken(t *testing.T, key *rsa.PrivateKey, method jwt.SigningMethod, claims Claims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return tok
}

func validClaims() Claims {
	now := time.Now()
	return Claims{
		Email: "riley@example.com",
		Name:  "Riley",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://securetoken.google.com/" + testProject,
			Audience:  jwt.ClaimStrings{testProject},
			Subject:   "u1",
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

func newTestVerifier(t *testing.T, key *rsa.PrivateKey) *Verifier {
	t.Helper()
	v, err := NewVerifierWithKeyfunc(func(*jwt.Token) (any, error) { return &key.PublicKey, nil }, testProject)
	require.NoError(t, err)
	return v
}

func TestNewVerifierWithKeyfunc_Validation(t *testing.T) {
	_, err := NewVerifierWithKeyfunc(nil, testProject)
	require.Error(t, err)
	_, err = NewVerifierWithKeyfunc(func(*jwt.Token) (any, error) { return nil, nil }, " ")
	require.Error(t, err)
}

func TestVerify_ValidToken(t *testing.T) {
	key := newSigningKey(t)
	v := newTestVerifier(t, key)

	id, err := v.Verify(signToken(t, key, jwt.SigningMethodRS256, validClaims()))
	require.NoError(t, err)
	require.Equal(t, domain.Identity{ID: "u1", DisplayName: "Riley", Email: "riley@example.com"}, id)
}

func TestVerify_Rejections(t *testing.T) {
	key := newSigningKey(t)
	other := newSigningKey(t)
	v := newTestVerifier(t, key)

	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "https://securetoken.google.com/another-project"

	wrongAudience := validClaims()
	wrongAudience.Audience = jwt.ClaimStrings{"another-project"}

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	noExpiry := validClaims()
	noExpiry.ExpiresAt = nil

	noSubject := validClaims()
	noSubject.Subject = ""

	cases := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.jwt"},
		{"wrong issuer", signToken(t, key, jwt.SigningMethodRS256, wrongIssuer)},
		{"wrong audience", signToken(t, key, jwt.SigningMethodRS256, wrongAudience)},
		{"expired", signToken(t, key, jwt.SigningMethodRS256, expired)},
		{"no expiry", signToken(t, key, jwt.SigningMethodRS256, noExpiry)},
		{"no subject", signToken(t, key, jwt.SigningMethodRS256, noSubject)},
		{"other key", signToken(t, other, jwt.SigningMethodRS256, validClaims())},
		{"disallowed method", signToken(t, key, jwt.SigningMethodRS512, validClaims())},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(tc.token)
			require.Error(t, err)
			require.Equal(t, domain.ErrorUnauthenticated, domain.CodeOf(err))
		})
	}
}
