package keycloak

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"go.pilab.hu/idbridge/domain"
)

const (
	// adminClientID is the fixed public client Keycloak ships for admin
	// password grants.
	adminClientID = "admin-cli"

	// tokenExpirySkew is subtracted from expires_in so a token is refreshed
	// before it can expire mid-request.
	tokenExpirySkew = 30 * time.Second
)

// AdminTokenSource owns the single cached service-account token used for all
// admin REST calls. It is the only cross-request mutable state in the core;
// the write lock around the refresh guarantees concurrent callers trigger at
// most one token request.
type AdminTokenSource struct {
	client   *Client
	username string
	password string

	mu     sync.RWMutex
	token  string
	expiry time.Time
}

// NewAdminTokenSource creates a lazily-initialized token source; no request
// is made until the first Token call.
func NewAdminTokenSource(client *Client, username, password string) *AdminTokenSource {
	return &AdminTokenSource{client: client, username: username, password: password}
}

// Token returns the cached admin token, refreshing it when the safety margin
// has passed. Failures surface as domain.ErrProviderUnavailable; retrying is
// the caller's policy.
func (s *AdminTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	if s.token != "" && time.Now().Before(s.expiry) {
		token := s.token
		s.mu.RUnlock()
		return token, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another caller may have refreshed while we waited for the write lock.
	if s.token != "" && time.Now().Before(s.expiry) {
		return s.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("client_id", adminClientID)
	form.Set("username", s.username)
	form.Set("password", s.password)

	tokens, err := s.client.TokenRequest(ctx, "admin token", s.client.endpoints.AdminToken(), form)
	if err != nil {
		log.Error().Err(err).Msg("Failed to obtain admin token")
		return "", fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}

	s.token = tokens.AccessToken
	s.expiry = time.Now().Add(time.Duration(tokens.ExpiresIn)*time.Second - tokenExpirySkew)
	log.Debug().Time("expires_at", s.expiry).Msg("Admin token refreshed")

	return s.token, nil
}
