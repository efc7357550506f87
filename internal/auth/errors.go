// Package auth issues and verifies the credentials used by players: signed
// access tokens, persisted refresh tokens, and bcrypt password hashes.
package auth

import "errors"

// Sentinel errors returned by the token service. Callers match them with
// errors.Is; store failures are wrapped with ErrStoreUnavailable.
var (
	ErrTokenInvalid     = errors.New("token invalid")
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenNotFound    = errors.New("refresh token not found")
	ErrStoreUnavailable = errors.New("token store unavailable")
)
