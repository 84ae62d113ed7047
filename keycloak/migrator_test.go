package keycloak

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/idbridge/domain"
)

// fakeAdmin is a minimal in-memory stand-in for the Keycloak admin user API,
// just enough surface for the migration protocol.
type fakeAdmin struct {
	users      map[string]*domain.DirectoryUser
	identities map[string][]domain.FederatedIdentity
	nextID     string
	failLinks  bool

	deletes atomic.Int32
	creates atomic.Int32
}

func newFakeAdmin(nextID string) *fakeAdmin {
	return &fakeAdmin{
		users:      map[string]*domain.DirectoryUser{},
		identities: map[string][]domain.FederatedIdentity{},
		nextID:     nextID,
	}
}

func (f *fakeAdmin) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/realms/master/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": "admin-token", "expires_in": 300})
	})
	mux.HandleFunc("/admin/realms/test/users", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			username := r.URL.Query().Get("username")
			var matches []domain.DirectoryUser
			for _, u := range f.users {
				if u.Username == username {
					matches = append(matches, *u)
				}
			}
			json.NewEncoder(w).Encode(matches)
		case http.MethodPost:
			f.creates.Add(1)
			var user domain.DirectoryUser
			require.NoError(t, json.NewDecoder(r.Body).Decode(&user))
			user.ID = f.nextID
			f.users[user.ID] = &user
			w.Header().Set("Location", "/admin/realms/test/users/"+user.ID)
			w.WriteHeader(http.StatusCreated)
		}
	})
	mux.HandleFunc("/admin/realms/test/users/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/admin/realms/test/users/")
		parts := strings.Split(rest, "/")
		id := parts[0]

		user, ok := f.users[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		if len(parts) == 1 {
			switch r.Method {
			case http.MethodGet:
				json.NewEncoder(w).Encode(user)
			case http.MethodDelete:
				f.deletes.Add(1)
				delete(f.users, id)
				delete(f.identities, id)
				w.WriteHeader(http.StatusNoContent)
			}
			return
		}

		// federated-identity sub-resource
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(f.identities[id])
		case http.MethodPost:
			if f.failLinks {
				http.Error(w, "boom", http.StatusInternalServerError)
				return
			}
			var link domain.FederatedIdentity
			require.NoError(t, json.NewDecoder(r.Body).Decode(&link))
			link.Provider = parts[2]
			f.identities[id] = append(f.identities[id], link)
			w.WriteHeader(http.StatusNoContent)
		}
	})
	return mux
}

func newTestMigrator(t *testing.T, fake *fakeAdmin) *Migrator {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	endpoints := NewEndpoints(Endpoints{BaseURL: srv.URL, Realm: "test"})
	client := NewClient(endpoints, srv.Client())
	return NewMigrator(NewDirectory(client, NewAdminTokenSource(client, "admin", "admin")))
}

func TestMigrator_NoOpWhenUsernameMatches(t *testing.T) {
	fake := newFakeAdmin("kc-new")
	fake.users["kc-1"] = &domain.DirectoryUser{ID: "kc-1", Username: "12345678900", Email: "ana@x.com"}
	migrator := newTestMigrator(t, fake)

	id, err := migrator.MigrateUsername(context.Background(), "kc-1", "12345678900")
	require.NoError(t, err)
	assert.Equal(t, "kc-1", id)
	assert.Equal(t, int32(0), fake.deletes.Load())
	assert.Equal(t, int32(0), fake.creates.Load())
}

func TestMigrator_UserNotFound(t *testing.T) {
	migrator := newTestMigrator(t, newFakeAdmin("kc-new"))

	_, err := migrator.MigrateUsername(context.Background(), "kc-missing", "12345678900")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestMigrator_UsernameConflict(t *testing.T) {
	fake := newFakeAdmin("kc-new")
	fake.users["kc-1"] = &domain.DirectoryUser{ID: "kc-1", Username: "ana@x.com", Email: "ana@x.com"}
	fake.users["kc-2"] = &domain.DirectoryUser{ID: "kc-2", Username: "12345678900", Email: "other@x.com"}
	migrator := newTestMigrator(t, fake)

	_, err := migrator.MigrateUsername(context.Background(), "kc-1", "12345678900")
	assert.ErrorIs(t, err, domain.ErrUsernameConflict)
	assert.Equal(t, int32(0), fake.deletes.Load())
}

func TestMigrator_FullMigration(t *testing.T) {
	fake := newFakeAdmin("kc-new")
	fake.users["kc-1"] = &domain.DirectoryUser{
		ID:        "kc-1",
		Username:  "ana@x.com",
		Email:     "ana@x.com",
		FirstName: "Ana",
		LastName:  "Silva",
		Attributes: map[string][]string{
			"document": {"12345678900"},
		},
	}
	fake.identities["kc-1"] = []domain.FederatedIdentity{
		{Provider: "google", UserID: "g-1", Username: "ana"},
		{Provider: "github", UserID: "gh-1", Username: "anasilva"},
	}
	migrator := newTestMigrator(t, fake)

	newID, err := migrator.MigrateUsername(context.Background(), "kc-1", "12345678900")
	require.NoError(t, err)
	assert.Equal(t, "kc-new", newID)

	// Old account gone, replacement carries the snapshot forward.
	assert.NotContains(t, fake.users, "kc-1")
	created := fake.users["kc-new"]
	require.NotNil(t, created)
	assert.Equal(t, "12345678900", created.Username)
	assert.Equal(t, "ana@x.com", created.Email)
	assert.Equal(t, "Ana", created.FirstName)
	assert.Equal(t, "Silva", created.LastName)
	assert.Equal(t, []string{"12345678900"}, created.Attributes["document"])
	assert.Empty(t, created.Credentials)

	// The federated identity set survives the migration.
	assert.ElementsMatch(t, []domain.FederatedIdentity{
		{Provider: "google", UserID: "g-1", Username: "ana"},
		{Provider: "github", UserID: "gh-1", Username: "anasilva"},
	}, fake.identities["kc-new"])
}

func TestMigrator_LinkFailureDoesNotFailMigration(t *testing.T) {
	fake := newFakeAdmin("kc-new")
	fake.users["kc-1"] = &domain.DirectoryUser{ID: "kc-1", Username: "ana@x.com", Email: "ana@x.com"}
	fake.identities["kc-1"] = []domain.FederatedIdentity{
		{Provider: "google", UserID: "g-1", Username: "ana"},
	}
	fake.failLinks = true
	migrator := newTestMigrator(t, fake)

	newID, err := migrator.MigrateUsername(context.Background(), "kc-1", "12345678900")
	require.NoError(t, err)
	assert.Equal(t, "kc-new", newID)
	assert.Contains(t, fake.users, "kc-new")
}
