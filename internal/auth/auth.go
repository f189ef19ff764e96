// Package auth resolves bearer tokens to user identities. The HTTP surface
// never manages sessions itself; it trusts tokens minted by the platform's
// session layer (HS256 JWTs) or by an external IdP (OIDC ID tokens).
package auth

import (
	"context"
	"errors"
)

// ErrUnauthenticated indicates a bearer token that is missing, malformed,
// expired, or signed by an unknown party.
var ErrUnauthenticated = errors.New("unauthenticated")

// CurrentUserResolver turns a raw bearer token into a user id. Implementations
// must return ErrUnauthenticated (possibly wrapped) for any token they cannot
// positively verify.
type CurrentUserResolver interface {
	Resolve(ctx context.Context, bearerToken string) (userID string, err error)
}
