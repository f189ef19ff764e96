package credentials

import "errors"

var (
	// ErrNotConnected indicates the user has no stored connection for the
	// requested provider.
	ErrNotConnected = errors.New("no provider connection for user")

	// ErrConnectionNotFound indicates a referenced connection id does not
	// exist or belongs to another user. The two cases are deliberately
	// indistinguishable to the caller.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrTokenRefreshFailed indicates a stale access token could not be
	// refreshed. The stored connection is left untouched.
	ErrTokenRefreshFailed = errors.New("provider token refresh failed")
)
