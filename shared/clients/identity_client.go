package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"planify-backend/shared/config"
	"planify-backend/shared/database/models"
)

// IdentityClient talks to the identity authority's admin API (Keycloak-compatible).
// The authority stores a flat per-account role set; this client only adds and removes
// role flags and manages accounts, it knows nothing about organizations.
//
// All calls go through the resilience policy: bounded retry with exponential backoff,
// fail-fast once the circuit breaker opens.
type IdentityClient struct {
	baseURL      string
	realm        string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	policy       *ResiliencePolicy

	mu          sync.Mutex
	adminToken  string
	tokenExpiry time.Time
	tokenGroup  singleflight.Group
}

// NewIdentityClient creates an identity client from the loaded configuration.
func NewIdentityClient() *IdentityClient {
	cfg := config.GetConfig()
	policy := NewResiliencePolicy(
		"identity-authority",
		cfg.GetAuthorityMaxRetries(),
		cfg.GetAuthorityBreakerFailures(),
		time.Duration(cfg.GetAuthorityBreakerResetSeconds())*time.Second,
	)
	return NewIdentityClientWith(cfg.AuthorityURL, cfg.AuthorityRealm, cfg.AuthorityClientID, cfg.AuthorityClientSecret,
		time.Duration(cfg.GetAuthorityTimeoutSeconds())*time.Second, policy)
}

// NewIdentityClientWith creates an identity client with explicit settings.
func NewIdentityClientWith(baseURL, realm, clientID, clientSecret string, timeout time.Duration, policy *ResiliencePolicy) *IdentityClient {
	return &IdentityClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		realm:        realm,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		policy: policy,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type roleRepresentation struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AssignRole adds a role flag to the account. Assigning an already-held role is a no-op:
// the authority's conflict response is absorbed as success.
func (ic *IdentityClient) AssignRole(ctx context.Context, authID string, role models.Role) error {
	return ic.policy.Execute(ctx, func(ctx context.Context) error {
		token, err := ic.getAdminToken(ctx)
		if err != nil {
			return err
		}

		rep, err := ic.getRole(ctx, token, role)
		if err != nil {
			return err
		}

		mappingURL := fmt.Sprintf("%s/admin/realms/%s/users/%s/role-mappings/realm", ic.baseURL, ic.realm, authID)
		status, err := ic.doJSON(ctx, http.MethodPost, mappingURL, token, []roleRepresentation{*rep}, nil)
		if err != nil {
			return err
		}
		if status == http.StatusConflict {
			// Role already present on the account.
			return nil
		}
		if status < 200 || status >= 300 {
			return &AuthorityError{Op: "assign role", StatusCode: status}
		}
		log.Printf("Assigned role %s to account %s", role, authID)
		return nil
	})
}

// RemoveRole removes a role flag from the account. Removing an absent role is a no-op.
func (ic *IdentityClient) RemoveRole(ctx context.Context, authID string, role models.Role) error {
	return ic.policy.Execute(ctx, func(ctx context.Context) error {
		token, err := ic.getAdminToken(ctx)
		if err != nil {
			return err
		}

		rep, err := ic.getRole(ctx, token, role)
		if err != nil {
			return err
		}

		mappingURL := fmt.Sprintf("%s/admin/realms/%s/users/%s/role-mappings/realm", ic.baseURL, ic.realm, authID)
		status, err := ic.doJSON(ctx, http.MethodDelete, mappingURL, token, []roleRepresentation{*rep}, nil)
		if err != nil {
			return err
		}
		if status == http.StatusNotFound {
			// Role was not mapped; nothing to revoke.
			return nil
		}
		if status < 200 || status >= 300 {
			return &AuthorityError{Op: "remove role", StatusCode: status}
		}
		log.Printf("Removed role %s from account %s", role, authID)
		return nil
	})
}

// CreateUser registers a new enabled account and returns its authority id.
func (ic *IdentityClient) CreateUser(ctx context.Context, username, email, firstName, lastName string) (string, error) {
	var authID string
	err := ic.policy.Execute(ctx, func(ctx context.Context) error {
		token, err := ic.getAdminToken(ctx)
		if err != nil {
			return err
		}

		body := map[string]interface{}{
			"username":  username,
			"email":     email,
			"firstName": firstName,
			"lastName":  lastName,
			"enabled":   true,
		}
		usersURL := fmt.Sprintf("%s/admin/realms/%s/users", ic.baseURL, ic.realm)

		req, err := newJSONRequest(ctx, http.MethodPost, usersURL, token, body)
		if err != nil {
			return &AuthorityError{Op: "create user", Err: err}
		}
		resp, err := ic.httpClient.Do(req)
		if err != nil {
			return &AuthorityError{Op: "create user", Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &AuthorityError{Op: "create user", StatusCode: resp.StatusCode}
		}

		location := resp.Header.Get("Location")
		if idx := strings.LastIndex(location, "/"); idx >= 0 {
			authID = location[idx+1:]
		}
		if authID == "" {
			return &AuthorityError{Op: "create user", Err: fmt.Errorf("missing Location header")}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	log.Printf("Created authority account %s for username %s", authID, username)
	return authID, nil
}

// SetPassword sets a permanent password on the account.
func (ic *IdentityClient) SetPassword(ctx context.Context, authID, password string) error {
	return ic.policy.Execute(ctx, func(ctx context.Context) error {
		token, err := ic.getAdminToken(ctx)
		if err != nil {
			return err
		}

		body := map[string]interface{}{
			"type":      "password",
			"value":     password,
			"temporary": false,
		}
		pwdURL := fmt.Sprintf("%s/admin/realms/%s/users/%s/reset-password", ic.baseURL, ic.realm, authID)
		status, err := ic.doJSON(ctx, http.MethodPut, pwdURL, token, body, nil)
		if err != nil {
			return err
		}
		if status < 200 || status >= 300 {
			return &AuthorityError{Op: "set password", StatusCode: status}
		}
		return nil
	})
}

// UpdateUser applies partial account updates (e.g. emailVerified).
func (ic *IdentityClient) UpdateUser(ctx context.Context, authID string, updates map[string]interface{}) error {
	return ic.policy.Execute(ctx, func(ctx context.Context) error {
		token, err := ic.getAdminToken(ctx)
		if err != nil {
			return err
		}

		updateURL := fmt.Sprintf("%s/admin/realms/%s/users/%s", ic.baseURL, ic.realm, authID)
		status, err := ic.doJSON(ctx, http.MethodPut, updateURL, token, updates, nil)
		if err != nil {
			return err
		}
		if status < 200 || status >= 300 {
			return &AuthorityError{Op: "update user", StatusCode: status}
		}
		return nil
	})
}

// getRole resolves the realm-level role representation by name.
func (ic *IdentityClient) getRole(ctx context.Context, token string, role models.Role) (*roleRepresentation, error) {
	roleURL := fmt.Sprintf("%s/admin/realms/%s/roles/%s", ic.baseURL, ic.realm, string(role))

	var rep roleRepresentation
	status, err := ic.doJSON(ctx, http.MethodGet, roleURL, token, nil, &rep)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &AuthorityError{Op: "get role", StatusCode: status}
	}
	return &rep, nil
}

// getAdminToken returns a cached service-account token, fetching a fresh one shortly
// before the previous token expires. The mutex only guards the cached fields; the
// token-endpoint round trip itself runs outside the lock, deduplicated through
// singleflight so concurrent callers share one fetch.
func (ic *IdentityClient) getAdminToken(ctx context.Context) (string, error) {
	if token, ok := ic.cachedAdminToken(); ok {
		return token, nil
	}

	result, err, _ := ic.tokenGroup.Do("admin-token", func() (interface{}, error) {
		// Another caller may have refreshed while we waited on the group.
		if token, ok := ic.cachedAdminToken(); ok {
			return token, nil
		}

		tr, err := ic.fetchAdminToken(ctx)
		if err != nil {
			return "", err
		}

		ic.mu.Lock()
		ic.adminToken = tr.AccessToken
		ic.tokenExpiry = tokenExpiry(tr)
		ic.mu.Unlock()
		return tr.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// cachedAdminToken returns the cached token when it is still comfortably valid.
func (ic *IdentityClient) cachedAdminToken() (string, bool) {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	if ic.adminToken != "" && time.Now().Before(ic.tokenExpiry.Add(-30*time.Second)) {
		return ic.adminToken, true
	}
	return "", false
}

// fetchAdminToken performs the client-credentials grant against the token endpoint.
func (ic *IdentityClient) fetchAdminToken(ctx context.Context) (tokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", ic.clientID)
	form.Set("client_secret", ic.clientSecret)

	tokenURL := fmt.Sprintf("%s/realms/master/protocol/openid-connect/token", ic.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return tokenResponse{}, &AuthorityError{Op: "admin token", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ic.httpClient.Do(req)
	if err != nil {
		return tokenResponse{}, &AuthorityError{Op: "admin token", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return tokenResponse{}, &AuthorityError{Op: "admin token", StatusCode: resp.StatusCode}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return tokenResponse{}, &AuthorityError{Op: "admin token", Err: err}
	}
	if tr.AccessToken == "" {
		return tokenResponse{}, &AuthorityError{Op: "admin token", Err: fmt.Errorf("empty access token")}
	}
	return tr, nil
}

// tokenExpiry prefers the token's own exp claim over the advertised expires_in.
func tokenExpiry(tr tokenResponse) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tr.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	if tr.ExpiresIn > 0 {
		return time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return time.Now().Add(time.Minute)
}

// doJSON performs a JSON request and optionally decodes the response body into out.
func (ic *IdentityClient) doJSON(ctx context.Context, method, rawURL, token string, body interface{}, out interface{}) (int, error) {
	req, err := newJSONRequest(ctx, method, rawURL, token, body)
	if err != nil {
		return 0, &AuthorityError{Op: method + " " + rawURL, Err: err}
	}
	resp, err := ic.httpClient.Do(req)
	if err != nil {
		return 0, &AuthorityError{Op: method + " " + rawURL, Err: err}
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, &AuthorityError{Op: method + " " + rawURL, Err: err}
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, nil
}

func newJSONRequest(ctx context.Context, method, rawURL, token string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewBuffer(jsonData)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
