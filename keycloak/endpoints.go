package keycloak

import (
	"fmt"
	"net/url"
	"strings"
)

// Endpoints derives every Keycloak URL this system talks to from the base
// URL and realm. Admin tokens are always issued by the master realm.
type Endpoints struct {
	BaseURL               string
	Realm                 string
	ClientID              string
	ClientSecret          string
	RedirectURI           string
	PostLogoutRedirectURI string
	IdpHint               string
}

// NewEndpoints normalizes the base URL (no trailing slash).
func NewEndpoints(e Endpoints) *Endpoints {
	e.BaseURL = strings.TrimSuffix(e.BaseURL, "/")
	return &e
}

func (e *Endpoints) realmURL(suffix string) string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/%s", e.BaseURL, e.Realm, suffix)
}

func (e *Endpoints) Token() string    { return e.realmURL("token") }
func (e *Endpoints) Auth() string     { return e.realmURL("auth") }
func (e *Endpoints) Logout() string   { return e.realmURL("logout") }
func (e *Endpoints) UserInfo() string { return e.realmURL("userinfo") }

// AdminToken is the master-realm token endpoint used for admin-cli grants.
func (e *Endpoints) AdminToken() string {
	return fmt.Sprintf("%s/realms/master/protocol/openid-connect/token", e.BaseURL)
}

// AdminUsers is the user collection of the admin REST API.
func (e *Endpoints) AdminUsers() string {
	return fmt.Sprintf("%s/admin/realms/%s/users", e.BaseURL, e.Realm)
}

// AdminUser addresses a single user resource.
func (e *Endpoints) AdminUser(id string) string {
	return e.AdminUsers() + "/" + url.PathEscape(id)
}

// AdminFederatedIdentity addresses the federated-identity sub-resource,
// optionally scoped to one provider.
func (e *Endpoints) AdminFederatedIdentity(id, provider string) string {
	u := e.AdminUser(id) + "/federated-identity"
	if provider != "" {
		u += "/" + url.PathEscape(provider)
	}
	return u
}

func (e *Endpoints) HasClientSecret() bool {
	return strings.TrimSpace(e.ClientSecret) != ""
}

// SocialAuthURL builds the browser redirect that starts the social login
// flow, hinting Keycloak to skip its own login page.
func (e *Endpoints) SocialAuthURL() string {
	q := url.Values{}
	q.Set("client_id", e.ClientID)
	q.Set("redirect_uri", e.RedirectURI)
	q.Set("response_type", "code")
	q.Set("scope", "openid profile email")
	q.Set("kc_idp_hint", e.IdpHint)
	return e.Auth() + "?" + q.Encode()
}

// LogoutURL builds the front-channel logout redirect for the given id token.
func (e *Endpoints) LogoutURL(idToken string) string {
	q := url.Values{}
	q.Set("id_token_hint", idToken)
	q.Set("post_logout_redirect_uri", e.PostLogoutRedirectURI)
	return e.Logout() + "?" + q.Encode()
}
