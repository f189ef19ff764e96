// oidc.go resolves bearer tokens issued by an external OpenID Connect IdP.
// The service never runs an authorization code flow itself; it only verifies
// ID tokens that the documentation platform's front end already obtained.
package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCResolver verifies ID tokens against a single issuer and audience.
type OIDCResolver struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCResolver runs OIDC discovery against the issuer and builds the
// token verifier. The context bounds the discovery request.
func NewOIDCResolver(ctx context.Context, issuerURL, clientID string) (*OIDCResolver, error) {
	if issuerURL == "" {
		return nil, fmt.Errorf("OIDC issuer URL is required")
	}
	if clientID == "" {
		return nil, fmt.Errorf("OIDC client ID is required")
	}

	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	return &OIDCResolver{
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

// Resolve implements CurrentUserResolver. The IdP subject is the user id.
func (r *OIDCResolver) Resolve(ctx context.Context, bearerToken string) (string, error) {
	idToken, err := r.verifier.Verify(ctx, bearerToken)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if idToken.Subject == "" {
		return "", fmt.Errorf("%w: token carries no subject", ErrUnauthenticated)
	}
	return idToken.Subject, nil
}
