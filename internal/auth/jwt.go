package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer is stamped on every token this service issues and required on every token it accepts.
const Issuer = "recording-reconciler"

var (
	ErrInvalidToken = errors.New("invalid token")
	// ErrNoPrincipal is returned for a well-signed token that names no user or role.
	ErrNoPrincipal = errors.New("token carries no principal")
)

// Claims carries a Principal inside a signed token.
type Claims struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email,omitempty"`
	Role   string    `json:"role"`
	jwt.RegisteredClaims
}

// JWTService issues and validates HS256 principal tokens. Login lives elsewhere; this
// service only turns a token into a Principal and back.
type JWTService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTService creates a JWT service. expireHours <= 0 defaults to 24.
func NewJWTService(secret string, expireHours int) *JWTService {
	if expireHours <= 0 {
		expireHours = 24
	}
	return &JWTService{
		secret: []byte(secret),
		ttl:    time.Duration(expireHours) * time.Hour,
		now:    time.Now,
	}
}

// Issue signs a token for p. Used by operator tooling and tests.
func (s *JWTService) Issue(p Principal) (string, error) {
	if p.IsZero() || p.Role == "" {
		return "", ErrNoPrincipal
	}
	now := s.now()
	claims := Claims{
		UserID: p.UserID,
		Email:  p.Email,
		Role:   p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   p.UserID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Validate parses a token and returns its claims. Any parse, signature, expiry or
// issuer failure is reported as ErrInvalidToken.
func (s *JWTService) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == uuid.Nil || claims.Role == "" {
		return nil, ErrNoPrincipal
	}
	return claims, nil
}

// Principal validates a token and returns the caller it names.
func (s *JWTService) Principal(tokenString string) (Principal, error) {
	claims, err := s.Validate(tokenString)
	if err != nil {
		return Principal{}, err
	}
	return PrincipalFromClaims(claims), nil
}
