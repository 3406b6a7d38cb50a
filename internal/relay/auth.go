package relay

import (
	"context"
	"fmt"
)

// Authorizer is the auth collaborator: key validation at handshake and
// per-request authorization. Billing and quota accounting live behind
// this interface, outside the relay core.
type Authorizer interface {
	ValidateKey(ctx context.Context, apiKey string) error
	Authorize(ctx context.Context, apiKey, clientID string) error
}

// StoreAuthorizer validates keys against the SQLite key store. Client
// ownership is enforced by the dispatcher against the registries, so
// Authorize only re-checks the key itself.
type StoreAuthorizer struct {
	Store *Store
}

func (a StoreAuthorizer) ValidateKey(ctx context.Context, apiKey string) error {
	if a.Store == nil {
		return fmt.Errorf("no key store configured")
	}
	return a.Store.ValidateAPIKey(apiKey)
}

func (a StoreAuthorizer) Authorize(ctx context.Context, apiKey, clientID string) error {
	return a.ValidateKey(ctx, apiKey)
}

// authenticateToken resolves a WS handshake token to an API key. The
// token is either a signed peer JWT (issued by POST /auth/token) or the
// API key itself.
func (s *Server) authenticateToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("missing token")
	}
	if s.jwtSecret != nil {
		if claims, err := ValidatePeerJWT(s.jwtSecret, token); err == nil {
			if err := s.Auth.ValidateKey(ctx, claims.APIKey); err != nil {
				return "", err
			}
			return claims.APIKey, nil
		}
	}
	if err := s.Auth.ValidateKey(ctx, token); err != nil {
		return "", err
	}
	return token, nil
}
