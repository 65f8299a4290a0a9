package auth

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/opina/server/internal/model"
)

// Identity is the caller established from a bearer credential
type Identity struct {
	ID           int64
	Email        string
	IsAdmin      bool
	IsSuperAdmin bool
}

// JWTClaims represents the bearer token claims
type JWTClaims struct {
	UserID       int64  `json:"id"`
	Email        string `json:"email"`
	IsAdmin      bool   `json:"est_admin"`
	IsSuperAdmin bool   `json:"est_super_admin"`
	jwt.RegisteredClaims
}

// Identity returns the caller described by the claims.
func (c *JWTClaims) Identity() Identity {
	return Identity{ID: c.UserID, Email: c.Email, IsAdmin: c.IsAdmin, IsSuperAdmin: c.IsSuperAdmin}
}

// JWTService handles JWT token operations
type JWTService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTService creates a new JWT service issuing tokens valid for ttl
func NewJWTService(secret string, ttl time.Duration) *JWTService {
	return &JWTService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Sign creates a token carrying the user's id, e-mail and role flags
func (s *JWTService) Sign(u model.User) (string, error) {
	now := s.now()
	claims := &JWTClaims{
		UserID:       u.ID,
		Email:        u.Email,
		IsAdmin:      u.IsAdmin,
		IsSuperAdmin: u.IsSuperAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(u.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// VerifyToken verifies and parses a JWT token
func (s *JWTService) VerifyToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid || claims.UserID == 0 {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}
