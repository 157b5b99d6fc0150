// ABOUTME: Sentinel errors for authentication and account provisioning
// ABOUTME: Transports map these to 401/409 without leaking detail

package auth

import "errors"

var (
	// ErrInvalidCredentials covers both an unknown username and a wrong
	// password so callers cannot tell which part failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUnauthorized is returned when the admin check for provisioning fails.
	ErrUnauthorized = errors.New("unauthorized")

	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenMissing = errors.New("missing token")

	// ErrUsernameTaken is returned when provisioning collides with an existing account.
	ErrUsernameTaken = errors.New("username already taken")

	// ErrMissingAgentID is returned when a session request names no agent.
	ErrMissingAgentID = errors.New("agent id is required")

	// ErrSecretTooShort is returned when the signing secret is below MinSecretLength.
	ErrSecretTooShort = errors.New("jwt secret too short")
)
