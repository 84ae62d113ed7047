package keycloak

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.pilab.hu/idbridge/domain"
)

const defaultTimeout = 15 * time.Second

// Client executes the raw HTTP calls against Keycloak: token grants,
// userinfo lookups and authenticated admin requests. It is stateless; token
// caching lives in AdminTokenSource.
type Client struct {
	endpoints *Endpoints
	http      *http.Client
}

// NewClient creates a Client. A nil httpClient gets a bounded default so a
// slow Keycloak cannot hold request workers forever.
func NewClient(endpoints *Endpoints, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{endpoints: endpoints, http: httpClient}
}

// Endpoints exposes the URL builder, mainly for collaborators that assemble
// redirect URLs.
func (c *Client) Endpoints() *Endpoints { return c.endpoints }

// TokenRequest posts a form grant to the given token URL and decodes the
// token response. Transport failures, non-2xx statuses and malformed bodies
// all surface as *domain.RequestError.
func (c *Client) TokenRequest(ctx context.Context, op, tokenURL string, form url.Values) (*domain.TokenSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &domain.RequestError{Op: op, Body: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.RequestError{Op: op, Body: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &domain.RequestError{Op: op, Status: resp.StatusCode, Body: string(body)}
	}

	var tokens domain.TokenSet
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return nil, &domain.RequestError{Op: op, Status: resp.StatusCode, Body: fmt.Sprintf("decoding token response: %v", err)}
	}
	return &tokens, nil
}

// PasswordGrant performs a resource-owner password grant as an end user.
func (c *Client) PasswordGrant(ctx context.Context, username, password string) (*domain.TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("client_id", c.endpoints.ClientID)
	form.Set("scope", "openid email profile")
	if c.endpoints.HasClientSecret() {
		form.Set("client_secret", c.endpoints.ClientSecret)
	}
	form.Set("username", username)
	form.Set("password", password)
	return c.TokenRequest(ctx, "password grant", c.endpoints.Token(), form)
}

// ExchangeCode redeems an authorization code from the social login flow.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*domain.TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", c.endpoints.ClientID)
	form.Set("code", code)
	form.Set("redirect_uri", c.endpoints.RedirectURI)
	if c.endpoints.HasClientSecret() {
		form.Set("client_secret", c.endpoints.ClientSecret)
	}
	return c.TokenRequest(ctx, "code exchange", c.endpoints.Token(), form)
}

// UserInfo introspects an access token via the userinfo endpoint.
func (c *Client) UserInfo(ctx context.Context, accessToken string) (*domain.UserInfo, error) {
	const op = "userinfo"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints.UserInfo(), nil)
	if err != nil {
		return nil, &domain.RequestError{Op: op, Body: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.RequestError{Op: op, Body: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &domain.RequestError{Op: op, Status: resp.StatusCode, Body: string(body)}
	}

	var info domain.UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, &domain.RequestError{Op: op, Status: resp.StatusCode, Body: fmt.Sprintf("decoding userinfo response: %v", err)}
	}
	return &info, nil
}

// Do performs an authenticated admin request with an optional JSON body.
// The caller owns the response and must close its body; non-2xx statuses are
// the caller's to interpret since several admin paths treat 404 or 409 as
// regular outcomes.
func (c *Client) Do(ctx context.Context, op, method, rawURL, bearer string, body any) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, &domain.RequestError{Op: op, Body: fmt.Sprintf("marshaling request body: %v", err)}
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return nil, &domain.RequestError{Op: op, Body: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.RequestError{Op: op, Body: err.Error()}
	}
	return resp, nil
}

// readError drains the response into a RequestError for non-2xx admin calls.
func readError(op string, resp *http.Response) *domain.RequestError {
	body, _ := io.ReadAll(resp.Body)
	return &domain.RequestError{Op: op, Status: resp.StatusCode, Body: string(body)}
}
