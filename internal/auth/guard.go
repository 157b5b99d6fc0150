// ABOUTME: AuthGuard issues session tokens, validates bearer tokens, and provisions accounts
// ABOUTME: Password checks use bcrypt against the credential store

package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/beacon-gateway/internal/store"
)

const (
	// DefaultTokenTTL is the session lifetime when none is configured.
	DefaultTokenTTL = time.Hour

	// DefaultAdminUsername is the distinguished admin identity.
	DefaultAdminUsername = "admin"

	// generatedPasswordBytes is the entropy of generated passwords.
	generatedPasswordBytes = 32
)

// dummyHash is compared against when the username is unknown so the
// response time does not reveal whether the account exists.
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// TokenStatus is the outcome of validating a bearer token.
type TokenStatus int

const (
	TokenMissing TokenStatus = iota
	TokenValid
	TokenExpired
	TokenInvalid
)

func (s TokenStatus) String() string {
	switch s {
	case TokenMissing:
		return "missing"
	case TokenValid:
		return "valid"
	case TokenExpired:
		return "expired"
	case TokenInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// TokenResult carries the status and, when valid, the subject and claims.
type TokenResult struct {
	Status  TokenStatus
	Subject string
	Claims  *Claims
}

// Err maps the status onto the auth sentinel errors. Valid returns nil.
func (r TokenResult) Err() error {
	switch r.Status {
	case TokenValid:
		return nil
	case TokenExpired:
		return ErrTokenExpired
	case TokenMissing:
		return ErrTokenMissing
	default:
		return ErrTokenInvalid
	}
}

// Account is the result of provisioning. Password is the plaintext and is
// only ever returned here.
type Account struct {
	Username string
	Password string
}

// GuardConfig configures a Guard.
type GuardConfig struct {
	Store         store.CredentialStore
	Tokens        *JWTVerifier
	AdminUsername string
	TokenTTL      time.Duration
	BcryptCost    int
	Logger        *slog.Logger
}

// Guard gates session creation, account provisioning and protected requests.
// It keeps no state beyond the credential store.
type Guard struct {
	store         store.CredentialStore
	tokens        *JWTVerifier
	adminUsername string
	tokenTTL      time.Duration
	bcryptCost    int
	logger        *slog.Logger
}

// NewGuard creates a Guard, filling defaults for zero config values.
func NewGuard(cfg GuardConfig) (*Guard, error) {
	if cfg.Store == nil {
		return nil, errors.New("auth: credential store is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("auth: token verifier is required")
	}
	if cfg.AdminUsername == "" {
		cfg.AdminUsername = DefaultAdminUsername
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Guard{
		store:         cfg.Store,
		tokens:        cfg.Tokens,
		adminUsername: cfg.AdminUsername,
		tokenTTL:      cfg.TokenTTL,
		bcryptCost:    cfg.BcryptCost,
		logger:        cfg.Logger.With("component", "auth"),
	}, nil
}

// AdminUsername returns the distinguished admin identity.
func (g *Guard) AdminUsername() string {
	return g.adminUsername
}

// IssueSession checks username/password and returns a signed token for
// the agent. Unknown user and wrong password both yield ErrInvalidCredentials.
func (g *Guard) IssueSession(ctx context.Context, username, password, agentID string) (string, error) {
	if strings.TrimSpace(agentID) == "" {
		return "", ErrMissingAgentID
	}

	if err := g.checkPassword(ctx, username, password); err != nil {
		return "", err
	}

	token, err := g.tokens.Generate(username, agentID, g.tokenTTL)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}

	g.logger.Info("session issued", "username", username, "agent_id", agentID)
	return token, nil
}

// CreateAccount provisions a credential after verifying the admin's
// credentials. An empty username or password is generated.
func (g *Guard) CreateAccount(ctx context.Context, adminUser, adminPass, username, password string) (*Account, error) {
	if err := g.checkPassword(ctx, adminUser, adminPass); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			g.logger.Warn("auth failure", "reason", "admin credentials rejected", "op", "create_account")
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if adminUser != g.adminUsername {
		g.logger.Warn("auth failure", "reason", "not admin", "op", "create_account", "username", adminUser)
		return nil, ErrUnauthorized
	}

	if username == "" {
		username = generateUsername()
	}
	if password == "" {
		generated, err := generateSecureToken(generatedPasswordBytes)
		if err != nil {
			return nil, fmt.Errorf("generating password: %w", err)
		}
		password = generated
	}

	if err := g.insert(ctx, username, password); err != nil {
		return nil, err
	}

	g.logger.Info("account created", "username", username, "by", adminUser)
	return &Account{Username: username, Password: password}, nil
}

// EnsureAdmin creates the admin credential if it does not exist yet.
// Returns true when a credential was created.
func (g *Guard) EnsureAdmin(ctx context.Context, password string) (bool, error) {
	if password == "" {
		return false, errors.New("admin password is required")
	}
	err := g.insert(ctx, g.adminUsername, password)
	if errors.Is(err, ErrUsernameTaken) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	g.logger.Info("admin credential created", "username", g.adminUsername)
	return true, nil
}

// ValidateToken classifies a raw bearer token.
func (g *Guard) ValidateToken(raw string) TokenResult {
	if raw == "" {
		return TokenResult{Status: TokenMissing}
	}

	claims, err := g.tokens.Verify(raw)
	switch {
	case err == nil:
		return TokenResult{Status: TokenValid, Subject: claims.Subject, Claims: claims}
	case errors.Is(err, ErrTokenExpired):
		return TokenResult{Status: TokenExpired}
	case errors.Is(err, ErrTokenMissing):
		return TokenResult{Status: TokenMissing}
	default:
		return TokenResult{Status: TokenInvalid}
	}
}

// ValidateHeader classifies an Authorization header value. No header is
// TokenMissing; anything other than a Bearer token is TokenInvalid.
func (g *Guard) ValidateHeader(header string) TokenResult {
	if strings.TrimSpace(header) == "" {
		return TokenResult{Status: TokenMissing}
	}
	token, ok := ParseBearer(header)
	if !ok {
		return TokenResult{Status: TokenInvalid}
	}
	return g.ValidateToken(token)
}

// checkPassword verifies a username/password pair in constant time with
// respect to whether the username exists.
func (g *Guard) checkPassword(ctx context.Context, username, password string) error {
	if username == "" {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return ErrInvalidCredentials
	}

	cred, err := g.store.GetCredential(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return ErrInvalidCredentials
		}
		g.logger.Error("credential lookup failed", "error", err)
		return asUnavailable(err)
	}

	if err := bcrypt.CompareHashAndPassword(cred.PasswordHash, []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

func (g *Guard) insert(ctx context.Context, username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), g.bcryptCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	err = g.store.CreateCredential(ctx, &store.Credential{
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	})
	if errors.Is(err, store.ErrUsernameExists) {
		return fmt.Errorf("%w: %s", ErrUsernameTaken, username)
	}
	if err != nil {
		g.logger.Error("credential insert failed", "error", err)
		return asUnavailable(err)
	}
	return nil
}

// asUnavailable makes sure any store failure satisfies errors.Is(err, store.ErrUnavailable).
func asUnavailable(err error) error {
	if errors.Is(err, store.ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
}

// generateUsername returns a short random account name.
func generateUsername() string {
	return "agent-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

// generateSecureToken creates a cryptographically secure random token.
func generateSecureToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
