package roster

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/rs/zerolog"

	"github.com/schoolops/rollcall/pkg/client"
	"github.com/schoolops/rollcall/pkg/log"
)

// Authenticator performs the roster service's multi-step handshake
// (resolve tenant, resolve user identity, obtain bearer token) and acts
// as the TokenSource for the gateway's client. Refresh re-runs only the
// token-acquisition step with the cached tenant and identity; a full
// re-handshake is never needed within a process lifetime.
type Authenticator struct {
	api      *client.Client
	username string
	password string

	mu       sync.Mutex
	tenantID string
	userID   string
	token    string

	logger zerolog.Logger
}

// NewAuthenticator creates an authenticator for the roster service at
// baseURL. Authenticate must be called before the first Token use.
func NewAuthenticator(baseURL, username, password string, opts ...client.Option) *Authenticator {
	return &Authenticator{
		api:      client.New("roster-auth", baseURL, client.StaticToken(""), opts...),
		username: username,
		password: password,
		logger:   log.WithComponent("roster-auth"),
	}
}

type tenantResponse struct {
	TenantID string `json:"tenant_id"`
}

type identityResponse struct {
	UserID string `json:"user_id"`
}

type tokenRequest struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Authenticate runs the full handshake. A 404 on any step or rejected
// credentials surface as AuthError.
func (a *Authenticator) Authenticate(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var tenant tenantResponse
	err := a.api.Get(ctx, "/api/v1/tenants/lookup", url.Values{"username": {a.username}}, &tenant)
	if err != nil {
		return authErr("tenant lookup", err)
	}

	var identity identityResponse
	err = a.api.Get(ctx, "/api/v1/tenants/"+tenant.TenantID+"/identity",
		url.Values{"username": {a.username}}, &identity)
	if err != nil {
		return authErr("identity lookup", err)
	}

	a.tenantID = tenant.TenantID
	a.userID = identity.UserID

	token, err := a.acquireToken(ctx)
	if err != nil {
		return err
	}
	a.token = token

	a.logger.Info().Str("tenant", a.tenantID).Msg("authenticated with roster service")
	return nil
}

// Token returns the current bearer token
func (a *Authenticator) Token(_ context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token == "" {
		return "", fmt.Errorf("not authenticated: call Authenticate first")
	}
	return a.token, nil
}

// Refresh re-acquires a bearer token with the cached tenant and identity
func (a *Authenticator) Refresh(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tenantID == "" || a.userID == "" {
		return "", fmt.Errorf("not authenticated: call Authenticate first")
	}
	token, err := a.acquireToken(ctx)
	if err != nil {
		return "", err
	}
	a.token = token
	a.logger.Info().Msg("roster token refreshed")
	return token, nil
}

// acquireToken runs the token-acquisition step. Callers hold a.mu.
func (a *Authenticator) acquireToken(ctx context.Context) (string, error) {
	var resp tokenResponse
	err := a.api.Post(ctx, "/api/v1/auth/token", tokenRequest{
		TenantID: a.tenantID,
		UserID:   a.userID,
		Username: a.username,
		Password: a.password,
	}, &resp)
	if err != nil {
		return "", authErr("token acquisition", err)
	}
	return resp.Token, nil
}

// authErr maps handshake failures to AuthError: a 404 means the tenant
// or user does not exist, a 401/403 means the credentials were rejected.
// Transport and other upstream failures pass through unchanged.
func authErr(step string, err error) error {
	var upstream *client.UpstreamError
	if errors.As(err, &upstream) {
		switch upstream.Status {
		case http.StatusNotFound, http.StatusUnauthorized, http.StatusForbidden:
			return &client.AuthError{Err: fmt.Errorf("%s failed: %w", step, err)}
		}
	}
	var auth *client.AuthError
	if errors.As(err, &auth) {
		return &client.AuthError{Err: fmt.Errorf("%s failed: %w", step, auth.Err)}
	}
	return fmt.Errorf("%s failed: %w", step, err)
}
