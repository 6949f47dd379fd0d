package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/tidwall/gjson"

	"github.com/and161185/petmem/internal/convert"
)

// AuthResult is the normalised outcome of any auth endpoint.
type AuthResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
	UserID       uuid.UUID
	Email        string
	DisplayName  string
	// ConfirmationPending is set when sign-up succeeded but no token was
	// issued because the address must be confirmed first.
	ConfirmationPending bool
	ConfirmationSentAt  time.Time
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
}

type signUpRequest struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Data     map[string]any `json:"data,omitempty"`
}

type emailRequest struct {
	Email string `json:"email"`
}

// Gateway is the app's own API server. The primary and the alternate
// deployment are two Gateway values with different base URLs.
type Gateway struct {
	name string
	base string
	x    Executor
}

// NewGateway creates a gateway client; name is used in logs only.
func NewGateway(name, baseURL string, x Executor) *Gateway {
	return &Gateway{name: name, base: baseURL, x: x}
}

// Name returns the gateway label.
func (g *Gateway) Name() string { return g.name }

// Configured reports whether a base URL is set.
func (g *Gateway) Configured() bool { return g != nil && g.base != "" }

// Login calls POST /auth/login.
func (g *Gateway) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	return g.auth(ctx, http.MethodPost, "/auth/login", credentials{Email: email, Password: password}, "")
}

// Register calls POST /auth/register; the gateway answers 201.
func (g *Gateway) Register(ctx context.Context, email, password, displayName string) (*AuthResult, error) {
	return g.auth(ctx, http.MethodPost, "/auth/register", registerRequest{Email: email, Password: password, DisplayName: displayName}, "")
}

// Validate calls GET /auth/validate with the bearer token. Any non-200 is an error.
func (g *Gateway) Validate(ctx context.Context, token string) (*AuthResult, error) {
	res, err := g.auth(ctx, http.MethodGet, "/auth/validate", nil, token)
	if err != nil {
		return nil, err
	}
	if res.AccessToken == "" {
		res.AccessToken = token
	}
	return res, nil
}

// ResetPassword calls POST /auth/reset-password.
func (g *Gateway) ResetPassword(ctx context.Context, email string) error {
	_, err := g.call(ctx, http.MethodPost, "/auth/reset-password", emailRequest{Email: email}, "")
	return err
}

// Logout calls POST /auth/logout.
func (g *Gateway) Logout(ctx context.Context, token string) error {
	_, err := g.call(ctx, http.MethodPost, "/auth/logout", nil, token)
	return err
}

func (g *Gateway) auth(ctx context.Context, method, path string, body any, token string) (*AuthResult, error) {
	raw, err := g.call(ctx, method, path, body, token)
	if err != nil {
		return nil, err
	}
	return parseAuth(raw)
}

func (g *Gateway) call(ctx context.Context, method, path string, body any, token string) ([]byte, error) {
	req, err := newRequest(method, joinURL(g.base, path), body, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.x.Execute(ctx, req, token)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", g.name, path, err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, fmt.Errorf("%s %s: %w", g.name, path, err)
	}
	// 201 on register, 200/204 elsewhere
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return nil, fmt.Errorf("%s %s: unexpected status %d", g.name, path, resp.StatusCode)
	}
	return resp.Body, nil
}

// Direct is the hosted auth provider reached without the gateway.
type Direct struct {
	base string
	x    Executor
}

// NewDirect creates a client for the provider's /auth/v1 API.
func NewDirect(baseURL string, x Executor) *Direct {
	return &Direct{base: baseURL, x: x}
}

// SignInWithPassword calls POST /auth/v1/token?grant_type=password.
func (d *Direct) SignInWithPassword(ctx context.Context, email, password string) (*AuthResult, error) {
	raw, err := d.call(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", credentials{Email: email, Password: password}, "")
	if err != nil {
		return nil, err
	}
	return parseAuth(raw)
}

// SignUp calls POST /auth/v1/signup. A result without token but with a
// confirmation timestamp is reported as ConfirmationPending.
func (d *Direct) SignUp(ctx context.Context, email, password, displayName string) (*AuthResult, error) {
	req := signUpRequest{Email: email, Password: password}
	if displayName != "" {
		req.Data = map[string]any{"display_name": displayName}
	}
	raw, err := d.call(ctx, http.MethodPost, "/auth/v1/signup", req, "")
	if err != nil {
		return nil, err
	}
	return parseAuth(raw)
}

// GetUser calls GET /auth/v1/user.
func (d *Direct) GetUser(ctx context.Context, token string) (*AuthResult, error) {
	raw, err := d.call(ctx, http.MethodGet, "/auth/v1/user", nil, token)
	if err != nil {
		return nil, err
	}
	res, err := parseAuth(raw)
	if err != nil {
		return nil, err
	}
	res.AccessToken = token
	return res, nil
}

// Logout calls POST /auth/v1/logout.
func (d *Direct) Logout(ctx context.Context, token string) error {
	_, err := d.call(ctx, http.MethodPost, "/auth/v1/logout", nil, token)
	return err
}

// Recover calls POST /auth/v1/recover.
func (d *Direct) Recover(ctx context.Context, email string) error {
	_, err := d.call(ctx, http.MethodPost, "/auth/v1/recover", emailRequest{Email: email}, "")
	return err
}

func (d *Direct) call(ctx context.Context, method, path string, body any, token string) ([]byte, error) {
	req, err := newRequest(method, joinURL(d.base, path), body, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.x.Execute(ctx, req, token)
	if err != nil {
		return nil, fmt.Errorf("direct %s: %w", path, err)
	}
	if err := checkResponse(resp); err != nil {
		return nil, fmt.Errorf("direct %s: %w", path, err)
	}
	return resp.Body, nil
}

func first(body []byte, paths ...string) gjson.Result {
	for _, p := range paths {
		if r := gjson.GetBytes(body, p); r.Exists() && r.Type != gjson.Null && r.String() != "" {
			return r
		}
	}
	return gjson.Result{}
}

// parseAuth accepts the gateway shape {user:{...}, access_token, expires_in},
// the provider shape {access_token, refresh_token, user:{...}} and a bare user object.
func parseAuth(body []byte) (*AuthResult, error) {
	if len(body) == 0 {
		return &AuthResult{}, nil
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("auth response: invalid json")
	}

	res := &AuthResult{
		AccessToken:  first(body, "access_token", "session.access_token", "data.session.access_token").String(),
		RefreshToken: first(body, "refresh_token", "session.refresh_token", "data.session.refresh_token").String(),
		Email:        first(body, "user.email", "data.user.email", "email").String(),
		DisplayName: first(body,
			"user.display_name", "user.user_metadata.display_name",
			"data.user.display_name", "display_name", "user_metadata.display_name").String(),
	}
	if exp := first(body, "expires_in", "session.expires_in"); exp.Exists() {
		res.ExpiresIn = time.Duration(exp.Int()) * time.Second
	}

	id, err := convert.ParseUUID(first(body, "user.id", "data.user.id", "id").String())
	if err != nil {
		return nil, fmt.Errorf("auth response: %w", err)
	}
	res.UserID = id

	if sent := first(body, "confirmation_sent_at", "user.confirmation_sent_at"); sent.Exists() {
		t, err := convert.ParseTime(sent.String())
		if err != nil {
			return nil, fmt.Errorf("auth response: %w", err)
		}
		res.ConfirmationSentAt = t
	}
	res.ConfirmationPending = res.AccessToken == "" && !res.ConfirmationSentAt.IsZero()
	return res, nil
}
