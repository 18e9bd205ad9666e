package server

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ApprovalSigner mints and verifies the signed tokens embedded in approval
// links. The JWT wraps the wait token ID so links can be handed to reviewers
// without exposing raw database identifiers, and expire on their own.
type ApprovalSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewApprovalSigner creates a signer. ttl bounds link validity independently
// of the wait token's own expiry.
func NewApprovalSigner(secret string, ttl time.Duration) *ApprovalSigner {
	return &ApprovalSigner{secret: []byte(secret), ttl: ttl}
}

type approvalClaims struct {
	TokenID string `json:"token_id"`
	jwt.RegisteredClaims
}

// Sign wraps a wait token ID in a signed, expiring JWT.
func (s *ApprovalSigner) Sign(tokenID uuid.UUID) (string, error) {
	now := time.Now()
	claims := approvalClaims{
		TokenID: tokenID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "prospecta",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("server: sign approval token: %w", err)
	}
	return signed, nil
}

// Verify validates a signed approval token and returns the wait token ID.
func (s *ApprovalSigner) Verify(signed string) (uuid.UUID, error) {
	var claims approvalClaims
	_, err := jwt.ParseWithClaims(signed, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer("prospecta"), jwt.WithExpirationRequired())
	if err != nil {
		return uuid.Nil, fmt.Errorf("server: verify approval token: %w", err)
	}
	id, err := uuid.Parse(claims.TokenID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("server: approval token id: %w", err)
	}
	return id, nil
}
