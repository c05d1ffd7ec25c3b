package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWT_IssueValidateRoundTrip(t *testing.T) {
	svc := NewJWTService("secret", 1)
	p := Principal{UserID: uuid.New(), Email: "op@example.com", Role: RoleOperator}

	tok, err := svc.Issue(p)
	require.NoError(t, err)

	got, err := svc.Principal(tok)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	claims, err := svc.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, Issuer, claims.Issuer)
	assert.Equal(t, p.UserID.String(), claims.Subject)
}

func TestJWT_IssueRequiresPrincipal(t *testing.T) {
	svc := NewJWTService("secret", 1)
	_, err := svc.Issue(Principal{Role: RoleAdmin})
	assert.ErrorIs(t, err, ErrNoPrincipal)
	_, err = svc.Issue(Principal{UserID: uuid.New()})
	assert.ErrorIs(t, err, ErrNoPrincipal)
}

func TestJWT_Expired(t *testing.T) {
	svc := NewJWTService("secret", 1)
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	tok, err := svc.Issue(Principal{UserID: uuid.New(), Role: RoleAdmin})
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.Validate(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWT_RejectsForeignTokens(t *testing.T) {
	svc := NewJWTService("secret", 1)
	claims := func(issuer string) Claims {
		return Claims{
			UserID: uuid.New(),
			Role:   RoleAdmin,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    issuer,
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
	}
	sign := func(m jwt.SigningMethod, c Claims, key interface{}) string {
		s, err := jwt.NewWithClaims(m, c).SignedString(key)
		require.NoError(t, err)
		return s
	}
	noExpiry := claims(Issuer)
	noExpiry.ExpiresAt = nil

	tests := map[string]string{
		"other secret": sign(jwt.SigningMethodHS256, claims(Issuer), []byte("other")),
		"other issuer": sign(jwt.SigningMethodHS256, claims("someone-else"), []byte("secret")),
		"HS512":        sign(jwt.SigningMethodHS512, claims(Issuer), []byte("secret")),
		"alg none":     sign(jwt.SigningMethodNone, claims(Issuer), jwt.UnsafeAllowNoneSignatureType),
		"no expiry":    sign(jwt.SigningMethodHS256, noExpiry, []byte("secret")),
		"garbage":      "not.a.token",
	}
	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Validate(tok)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestJWT_RejectsEmptyPrincipal(t *testing.T) {
	svc := NewJWTService("secret", 1)
	c := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    Issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = svc.Validate(tok)
	assert.ErrorIs(t, err, ErrNoPrincipal)
}

func TestPrincipal_IsStaff(t *testing.T) {
	assert.True(t, Principal{Role: RoleAdmin}.IsStaff())
	assert.True(t, Principal{Role: RoleOperator}.IsStaff())
	assert.False(t, Principal{Role: RoleViewer}.IsStaff())
	assert.False(t, Principal{}.IsStaff())
}
