package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Operator roles carried in the token.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleAuditor  = "auditor"
)

func validRole(role string) bool {
	switch role {
	case RoleAdmin, RoleOperator, RoleAuditor:
		return true
	default:
		return false
	}
}

// Issuer is stamped on every token this service mints and required on every
// token it accepts.
const Issuer = "casino-wallet-core"

const clockLeeway = 30 * time.Second

type Claims struct {
	UserID  uuid.UUID
	Role    string
	TokenID string
}

type tokenClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// GenerateToken mints an operator token. Operators have no login flow in
// this service; tokens come from cmd/tokengen or an upstream identity
// provider sharing the secret.
func GenerateToken(userID uuid.UUID, role string, secret string, expiry time.Duration) (string, error) {
	if !validRole(role) {
		return "", fmt.Errorf("GenerateToken: unknown role %q", role)
	}
	now := time.Now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   userID.String(),
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		UserID: userID.String(),
		Role:   role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("GenerateToken: %w", err)
	}
	return signed, nil
}

func ValidateToken(tokenString string, secret string) (*Claims, error) {
	var tc tokenClaims
	_, err := jwt.ParseWithClaims(tokenString, &tc,
		func(*jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockLeeway),
	)
	if err != nil {
		return nil, fmt.Errorf("ValidateToken: %w", err)
	}

	userID, err := uuid.Parse(tc.UserID)
	if err != nil {
		return nil, fmt.Errorf("ValidateToken: invalid user_id in token: %w", err)
	}
	if tc.Subject != "" && tc.Subject != tc.UserID {
		return nil, fmt.Errorf("ValidateToken: subject %q does not match user_id", tc.Subject)
	}
	if !validRole(tc.Role) {
		return nil, fmt.Errorf("ValidateToken: unknown role %q", tc.Role)
	}

	return &Claims{
		UserID:  userID,
		Role:    tc.Role,
		TokenID: tc.ID,
	}, nil
}
