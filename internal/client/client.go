// ABOUTME: HTTP client for the beacon-gateway session, provisioning and metrics routes
// ABOUTME: Used by beacon-admin and fake-agent

package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/2389/beacon-gateway/internal/auth"
	"github.com/2389/beacon-gateway/internal/codec"
)

var (
	// ErrUnauthorized is returned for a 401 response.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConflict is returned for a 409 response.
	ErrConflict = errors.New("conflict")
	// ErrTokenExpired is returned when the gateway reports the bearer token expired.
	ErrTokenExpired = errors.New("token expired")
)

const defaultTimeout = 10 * time.Second

// StatusError is a non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway returned %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("gateway returned %d: %s", e.Code, e.Message)
}

// Is lets errors.Is match the sentinel for the status.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Code == http.StatusUnauthorized
	case ErrConflict:
		return e.Code == http.StatusConflict
	case ErrTokenExpired:
		return e.Code == http.StatusUnauthorized && e.Message == "token expired"
	}
	return false
}

// Account is a provisioned agent credential.
type Account struct {
	Username string
	Password string
}

// Client talks to one gateway HTTP transport.
type Client struct {
	baseURL string
	http    *http.Client
	codec   codec.Codec
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithCodec selects the body encoding.
func WithCodec(cd codec.Codec) Option {
	return func(c *Client) { c.codec = cd }
}

// New returns a client for baseURL, e.g. "http://localhost:8080" or
// "http://gw:8080/beacon" when the transport has a path prefix.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		codec:   codec.JSON,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateUser provisions an agent credential using the admin's Basic
// credentials. Empty username or password lets the gateway generate them.
func (c *Client) CreateUser(ctx context.Context, adminUser, adminPass, username, password string) (*Account, error) {
	body := map[string]any{}
	if username != "" {
		body["username"] = username
	}
	if password != "" {
		body["password"] = password
	}

	resp, err := c.do(ctx, "/user", auth.BasicHeader(adminUser, adminPass), body)
	if err != nil {
		return nil, err
	}
	acct := &Account{}
	acct.Username, _ = resp["username"].(string)
	acct.Password, _ = resp["password"].(string)
	if acct.Username == "" || acct.Password == "" {
		return nil, errors.New("gateway response missing username or password")
	}
	return acct, nil
}

// OpenSession exchanges agent credentials for a bearer token bound to agentID.
func (c *Client) OpenSession(ctx context.Context, username, password, agentID string) (string, error) {
	resp, err := c.do(ctx, "/session", auth.BasicHeader(username, password), map[string]any{"agent-id": agentID})
	if err != nil {
		return "", err
	}
	token, _ := resp["token"].(string)
	if token == "" {
		return "", errors.New("gateway response missing token")
	}
	return token, nil
}

// Publish submits one metrics payload and returns the message id the
// gateway assigned or acknowledged.
func (c *Client) Publish(ctx context.Context, token string, fields map[string]any) (string, error) {
	resp, err := c.do(ctx, "/metrics", "Bearer "+token, fields)
	if err != nil {
		return "", err
	}
	id, _ := resp["id"].(string)
	return id, nil
}

// Health returns nil when GET /health answers 200.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

func (c *Client) do(ctx context.Context, path, authorization string, body map[string]any) (map[string]any, error) {
	data, err := c.codec.Encode(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", c.codec.ContentType())
	req.Header.Set("Accept", c.codec.ContentType())
	req.Header.Set("Authorization", authorization)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var decoded map[string]any
	if len(raw) > 0 {
		cd, cerr := codec.ForContentType(resp.Header.Get("Content-Type"))
		if cerr == nil {
			decoded, _ = cd.Decode(raw)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := decoded["error"].(string)
		return nil, &StatusError{Code: resp.StatusCode, Message: msg}
	}
	return decoded, nil
}
