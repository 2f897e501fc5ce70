package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/circlehub/newsletter/internal/config"
)

// ErrTokenSecretMissing is returned when no operator token secret is configured
var ErrTokenSecretMissing = errors.New("operator token secret is not configured")

// TokenService issues and validates operator bearer tokens. Operators are the
// people running campaigns from the admin console or CLI.
type TokenService struct {
	cfg    config.OperatorConfig
	secret []byte
}

// OperatorClaims represents the claims in an operator token.
type OperatorClaims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

// IssuedToken is an operator token together with its lifetime.
type IssuedToken struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType"`
	ExpiresIn   int       `json:"expiresIn"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// NewTokenService creates a new TokenService
func NewTokenService(cfg config.OperatorConfig) (*TokenService, error) {
	if cfg.TokenSecret == "" {
		return nil, ErrTokenSecretMissing
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 12 * time.Hour
	}
	return &TokenService{cfg: cfg, secret: []byte(cfg.TokenSecret)}, nil
}

// Issue signs a new operator token for the given operator ID.
func (s *TokenService) Issue(operatorID, name string) (*IssuedToken, error) {
	now := time.Now()
	expiry := now.Add(s.cfg.TokenTTL)

	claims := OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   operatorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
			ID:        uuid.New().String(),
		},
		Name: name,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign operator token: %w", err)
	}

	return &IssuedToken{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.cfg.TokenTTL.Seconds()),
		ExpiresAt:   expiry.UTC(),
	}, nil
}

// Validate parses an operator token and returns its claims.
func (s *TokenService) Validate(tokenString string) (*OperatorClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &OperatorClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*OperatorClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}

// GenerateToken returns a random 32-byte token encoded as hex. Used for
// subscription confirmation links.
func GenerateToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// HashToken creates a SHA-256 hash of a token for secure storage.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
