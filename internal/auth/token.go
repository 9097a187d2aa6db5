package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ms-restaurant/internal/models"
)

var (
	ErrMissingToken = errors.New("token is missing")
	ErrInvalidToken = errors.New("invalid token")
)

// Identity is what a verified token says about its bearer.
type Identity struct {
	UserID string
	Role   models.Role
}

func (i Identity) Actor() models.Actor {
	return models.Actor{UserID: i.UserID, Role: i.Role}
}

// Verifier checks a raw bearer token.
type Verifier interface {
	Verify(ctx context.Context, raw string) (*Identity, error)
}

// ExtractTokenFromRequest reads the bearer token from the Authorization
// header, or from the token query parameter for browser websockets and
// event streams that cannot set headers.
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", fmt.Errorf("%w: authorization header format must be 'Bearer {token}'", ErrInvalidToken)
		}
		return parts[1], nil
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t, nil
	}
	return "", ErrMissingToken
}

// Claims carried by tokens this service issues.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// HMACVerifier validates HS256 tokens signed with a shared secret.
type HMACVerifier struct {
	Secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{Secret: []byte(secret)}
}

func (v *HMACVerifier) Verify(_ context.Context, raw string) (*Identity, error) {
	if raw == "" {
		return nil, ErrMissingToken
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return v.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return identityFromClaims(claims.Subject, claims.Role)
}

// IssueToken signs an HS256 token for a user. Used by the floor client in
// development and by tests.
func IssueToken(secret, userID string, role models.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func identityFromClaims(sub, role string) (*Identity, error) {
	if sub == "" {
		return nil, fmt.Errorf("%w: subject claim not found in token", ErrInvalidToken)
	}
	r, ok := models.ParseRole(role)
	if !ok {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, role)
	}
	return &Identity{UserID: sub, Role: r}, nil
}
