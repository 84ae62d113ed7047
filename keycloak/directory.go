package keycloak

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"go.pilab.hu/idbridge/domain"
)

// Directory provides CRUD over Keycloak user records, obtaining an admin
// token per call through the shared AdminTokenSource.
type Directory struct {
	client *Client
	tokens *AdminTokenSource
}

// NewDirectory creates a Directory backed by the given client and token source.
func NewDirectory(client *Client, tokens *AdminTokenSource) *Directory {
	return &Directory{client: client, tokens: tokens}
}

// CreateUser creates an enabled, email-verified directory user and returns
// its new id. When password is non-empty a non-temporary password credential
// is attached. The id is taken from the Location header, falling back to a
// lookup by email; domain.ErrUserCreationFailed if both paths miss.
func (d *Directory) CreateUser(ctx context.Context, username, email, firstName, lastName string, attributes map[string][]string, password string) (string, error) {
	const op = "create user"

	token, err := d.tokens.Token(ctx)
	if err != nil {
		return "", err
	}

	user := domain.DirectoryUser{
		Username:      username,
		Email:         email,
		FirstName:     firstName,
		LastName:      lastName,
		Enabled:       true,
		EmailVerified: true,
		Attributes:    attributes,
	}
	if password != "" {
		user.Credentials = []domain.Credential{{Type: "password", Value: password, Temporary: false}}
	}

	resp, err := d.client.Do(ctx, op, http.MethodPost, d.client.endpoints.AdminUsers(), token, user)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", readError(op, resp)
	}

	if location := resp.Header.Get("Location"); location != "" {
		parts := strings.Split(location, "/")
		if id := parts[len(parts)-1]; id != "" {
			log.Info().Str("email", email).Str("id", id).Msg("Directory user created")
			return id, nil
		}
	}

	// Some proxies strip the Location header; the record still exists.
	created, err := d.GetUserByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if created == nil {
		return "", domain.ErrUserCreationFailed
	}
	log.Info().Str("email", email).Str("id", created.ID).Msg("Directory user created (id recovered by email lookup)")
	return created.ID, nil
}

// GetUserByID fetches a user record; absence returns (nil, nil).
func (d *Directory) GetUserByID(ctx context.Context, id string) (*domain.DirectoryUser, error) {
	const op = "get user by id"

	token, err := d.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := d.client.Do(ctx, op, http.MethodGet, d.client.endpoints.AdminUser(id), token, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, readError(op, resp)
	}

	var user domain.DirectoryUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, &domain.RequestError{Op: op, Status: resp.StatusCode, Body: err.Error()}
	}
	return &user, nil
}

// GetUserByEmail does an exact-match email filter; absence returns (nil, nil).
func (d *Directory) GetUserByEmail(ctx context.Context, email string) (*domain.DirectoryUser, error) {
	return d.findOne(ctx, "get user by email", "email", email, func(u *domain.DirectoryUser) bool {
		return strings.EqualFold(u.Email, email)
	})
}

// GetUserByUsername does an exact-match username filter; absence returns (nil, nil).
func (d *Directory) GetUserByUsername(ctx context.Context, username string) (*domain.DirectoryUser, error) {
	return d.findOne(ctx, "get user by username", "username", username, func(u *domain.DirectoryUser) bool {
		return strings.EqualFold(u.Username, username)
	})
}

func (d *Directory) findOne(ctx context.Context, op, param, value string, match func(*domain.DirectoryUser) bool) (*domain.DirectoryUser, error) {
	token, err := d.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set(param, value)
	q.Set("exact", "true")

	resp, err := d.client.Do(ctx, op, http.MethodGet, d.client.endpoints.AdminUsers()+"?"+q.Encode(), token, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readError(op, resp)
	}

	var users []domain.DirectoryUser
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return nil, &domain.RequestError{Op: op, Status: resp.StatusCode, Body: err.Error()}
	}

	for i := range users {
		if match(&users[i]) {
			return &users[i], nil
		}
	}
	return nil, nil
}

// UpdateAttributes merges newAttributes into the user's existing attribute
// map and writes the full record back. Keycloak's user PUT replaces the whole
// representation, so every original field is echoed to avoid erasing it.
func (d *Directory) UpdateAttributes(ctx context.Context, id string, newAttributes map[string][]string) error {
	const op = "update attributes"

	user, err := d.GetUserByID(ctx, id)
	if err != nil {
		return &domain.AttributeSyncError{UserID: id, Cause: err}
	}
	if user == nil {
		return &domain.AttributeSyncError{UserID: id, Cause: domain.ErrUserNotFound}
	}

	if user.Attributes == nil {
		user.Attributes = make(map[string][]string, len(newAttributes))
	}
	for k, v := range newAttributes {
		user.Attributes[k] = v
	}

	token, err := d.tokens.Token(ctx)
	if err != nil {
		return &domain.AttributeSyncError{UserID: id, Cause: err}
	}

	resp, err := d.client.Do(ctx, op, http.MethodPut, d.client.endpoints.AdminUser(id), token, user)
	if err != nil {
		return &domain.AttributeSyncError{UserID: id, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return &domain.AttributeSyncError{UserID: id, Cause: readError(op, resp)}
	}

	log.Info().Str("id", id).Str("username", user.Username).Msg("Directory user attributes updated")
	return nil
}

// DeleteUser removes a directory user. A 404 is treated as already deleted.
func (d *Directory) DeleteUser(ctx context.Context, id string) error {
	const op = "delete user"

	token, err := d.tokens.Token(ctx)
	if err != nil {
		return err
	}

	resp, err := d.client.Do(ctx, op, http.MethodDelete, d.client.endpoints.AdminUser(id), token, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return readError(op, resp)
	}

	log.Info().Str("id", id).Msg("Directory user deleted")
	return nil
}

// LinkIdentity attaches a federated identity to a directory user. Linking is
// idempotent per provider on the Keycloak side.
func (d *Directory) LinkIdentity(ctx context.Context, id, provider, externalUserID, externalUsername string) error {
	const op = "link federated identity"

	token, err := d.tokens.Token(ctx)
	if err != nil {
		return err
	}

	body := domain.FederatedIdentity{Provider: provider, UserID: externalUserID, Username: externalUsername}

	resp, err := d.client.Do(ctx, op, http.MethodPost, d.client.endpoints.AdminFederatedIdentity(id, provider), token, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return readError(op, resp)
	}

	log.Info().Str("id", id).Str("provider", provider).Msg("Federated identity linked")
	return nil
}

// UnlinkIdentity removes a federated identity link from a directory user.
func (d *Directory) UnlinkIdentity(ctx context.Context, id, provider string) error {
	const op = "unlink federated identity"

	token, err := d.tokens.Token(ctx)
	if err != nil {
		return err
	}

	resp, err := d.client.Do(ctx, op, http.MethodDelete, d.client.endpoints.AdminFederatedIdentity(id, provider), token, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return readError(op, resp)
	}
	return nil
}

// FederatedIdentities lists the federated identity links of a user. Absence
// is not exceptional: any failure is logged and yields an empty list.
func (d *Directory) FederatedIdentities(ctx context.Context, id string) []domain.FederatedIdentity {
	const op = "get federated identities"

	token, err := d.tokens.Token(ctx)
	if err != nil {
		log.Error().Err(err).Str("id", id).Msg("Failed to fetch federated identities")
		return nil
	}

	resp, err := d.client.Do(ctx, op, http.MethodGet, d.client.endpoints.AdminFederatedIdentity(id, ""), token, nil)
	if err != nil {
		log.Error().Err(err).Str("id", id).Msg("Failed to fetch federated identities")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Error().Err(readError(op, resp)).Str("id", id).Msg("Failed to fetch federated identities")
		return nil
	}

	var identities []domain.FederatedIdentity
	if err := json.NewDecoder(resp.Body).Decode(&identities); err != nil {
		log.Error().Err(err).Str("id", id).Msg("Failed to decode federated identities")
		return nil
	}
	return identities
}
