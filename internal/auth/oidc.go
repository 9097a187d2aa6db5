package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"ms-restaurant/internal/models"
)

// OIDCVerifier validates tokens issued by an OpenID Connect provider.
// The role is read from RoleClaim, which may be a dotted path such as
// "realm_access.roles" and may hold a string or a list.
type OIDCVerifier struct {
	verifier  *oidc.IDTokenVerifier
	RoleClaim string
}

func NewOIDCVerifier(ctx context.Context, issuer, roleClaim string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("create OIDC provider: %w", err)
	}
	// SkipClientIDCheck → no client ID required
	verifier := provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
	if roleClaim == "" {
		roleClaim = "role"
	}
	return &OIDCVerifier{verifier: verifier, RoleClaim: roleClaim}, nil
}

func (v *OIDCVerifier) Verify(ctx context.Context, raw string) (*Identity, error) {
	if raw == "" {
		return nil, ErrMissingToken
	}
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: failed to parse claims", ErrInvalidToken)
	}
	return identityFromClaims(idToken.Subject, roleFromClaims(claims, v.RoleClaim))
}

// roleFromClaims returns the first known role found at path.
func roleFromClaims(claims map[string]any, path string) string {
	var cur any = claims
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[part]
	}
	switch v := cur.(type) {
	case string:
		return v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				if _, known := models.ParseRole(s); known {
					return s
				}
			}
		}
	}
	return ""
}
