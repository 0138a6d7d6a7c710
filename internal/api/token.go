package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/terra-clan/proctor-engine/internal/models"
)

const tokenIssuer = "proctor-engine"

// Role carried by candidate tokens
const RoleCandidate = "candidate"

var errInvalidToken = errors.New("invalid token")

// Claims identify a candidate taking assessments
type Claims struct {
	Sub   string `json:"sub"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Candidate returns the identity carried by the claims
func (c *Claims) Candidate() models.Candidate {
	return models.Candidate{ID: c.Sub, Name: c.Name, Email: c.Email}
}

// TokenService issues and verifies HS256 candidate tokens
type TokenService struct {
	hmac []byte
	now  func() time.Time
}

// NewTokenService creates a token service for the shared secret
func NewTokenService(secret string) *TokenService {
	return &TokenService{hmac: []byte(secret), now: time.Now}
}

// Issue signs a candidate token valid for ttl and returns its expiry
func (s *TokenService) Issue(candidate models.Candidate, ttl time.Duration) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(ttl)
	claims := &Claims{
		Sub:   candidate.ID,
		Name:  candidate.Name,
		Email: candidate.Email,
		Role:  RoleCandidate,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   candidate.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.hmac)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse verifies a token and returns its claims
func (s *TokenService) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.hmac, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errInvalidToken
	}
	if claims.Sub == "" || claims.Role != RoleCandidate {
		return nil, fmt.Errorf("%w: not a candidate token", errInvalidToken)
	}
	return claims, nil
}
