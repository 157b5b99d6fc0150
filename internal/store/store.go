// ABOUTME: Credential store interface and data types for beacon-gateway
// ABOUTME: Defines Credential and the CredentialStore contract used by the auth guard

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested credential does not exist
var ErrNotFound = errors.New("not found")

// ErrUsernameExists is returned when inserting a credential whose username is taken
var ErrUsernameExists = errors.New("username already exists")

// ErrUnavailable is returned when the backing store cannot serve a request.
// Callers treat it as a request-level failure.
var ErrUnavailable = errors.New("credential store unavailable")

// Credential is a username with its bcrypt password hash.
// Credentials are never mutated once created.
type Credential struct {
	Username     string
	PasswordHash []byte
	CreatedAt    time.Time
}

// CredentialStore holds username -> password-hash records.
type CredentialStore interface {
	// GetCredential returns ErrNotFound if the username is unknown.
	GetCredential(ctx context.Context, username string) (*Credential, error)

	// CreateCredential inserts cred only if its username is absent.
	// Returns ErrUsernameExists without modifying the store otherwise.
	CreateCredential(ctx context.Context, cred *Credential) error

	// CountCredentials reports the number of stored credentials.
	CountCredentials(ctx context.Context) (int, error)

	// Close releases any resources held by the store
	Close() error
}
