// Package auth gates access to the gateway.
//
// # Credentials
//
// Accounts are username/password pairs stored as bcrypt hashes in a
// store.CredentialStore. Lookups for unknown usernames still run a bcrypt
// comparison against a dummy hash so timing does not reveal which accounts
// exist.
//
// One username is distinguished as the admin (default "admin"). Only the
// admin may provision new accounts:
//
//	acct, err := guard.CreateAccount(ctx, "admin", adminPass, "", "")
//
// Empty username or password are generated; the plaintext password is
// returned once and never stored.
//
// # Sessions
//
// IssueSession exchanges valid credentials plus an agent id for an HS256
// JWT carrying the username as subject and the agent id as the agent_id
// claim. Tokens expire after auth.token_ttl (default one hour).
//
// # Token validation
//
// ValidateToken and ValidateHeader classify a token as one of
// TokenMissing, TokenValid, TokenExpired or TokenInvalid. The
// distinction matters to callers: only an expired token is reported to
// the client with a body, everything else is a bare 401.
//
// RequireBearer wraps HTTP handlers and UnaryInterceptor wraps gRPC
// services with the same rules.
package auth
