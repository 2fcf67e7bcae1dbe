package jwttoken

import (
	"errors"
	"time"

	dErrors "govportal/pkg/domain-errors"
	"govportal/pkg/session"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims represents the JWT claims for portal access tokens. Role and
// location are issued by the identity provider and become the session.
type Claims struct {
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	District string `json:"district,omitempty"`
	Ward     string `json:"ward,omitempty"`
	jwt.RegisteredClaims
}

// Session converts the claims into the explicit viewer value.
func (c *Claims) Session() (session.Session, error) {
	role, err := session.ParseRole(c.Role)
	if err != nil {
		return session.Session{}, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid role claim")
	}
	return session.Session{
		ActorID:  c.UserID,
		Role:     role,
		District: c.District,
		Ward:     c.Ward,
	}, nil
}

// JWTService handles JWT creation and validation
type JWTService struct {
	signingKey []byte
	issuer     string
	audience   string
	now        func() time.Time
}

func NewJWTService(signingKey string, issuer string, audience string) *JWTService {
	return &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		now:        time.Now,
	}
}

// GenerateAccessToken signs a token for sess. The portal does not issue
// tokens in production; this exists for development logins and tests.
func (s *JWTService) GenerateAccessToken(sess session.Session, expiresIn time.Duration) (string, error) {
	now := s.now()
	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:   sess.ActorID,
		Role:     sess.Role.String(),
		District: sess.District,
		Ward:     sess.Ward,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			Subject:   sess.ActorID,
			ID:        uuid.NewString(),
		},
	})

	signedToken, err := newToken.SignedString(s.signingKey)
	if err != nil {
		return "", err
	}
	return signedToken, nil
}

func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithTimeFunc(s.now),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	if claims.UserID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing user_id claim")
	}

	return claims, nil
}
