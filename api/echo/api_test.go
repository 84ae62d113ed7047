package echo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/idbridge/domain"
	"go.pilab.hu/idbridge/keycloak"
	"go.pilab.hu/idbridge/services"
)

type stubExchanger struct {
	grant func(username, password string) (*domain.TokenSet, error)
}

func (s *stubExchanger) PasswordGrant(ctx context.Context, username, password string) (*domain.TokenSet, error) {
	return s.grant(username, password)
}

func (s *stubExchanger) ExchangeCode(ctx context.Context, code string) (*domain.TokenSet, error) {
	return nil, &domain.RequestError{Op: "code exchange", Status: 400, Body: "unexpected"}
}

func (s *stubExchanger) UserInfo(ctx context.Context, accessToken string) (*domain.UserInfo, error) {
	return nil, &domain.RequestError{Op: "userinfo", Status: 401, Body: "unexpected"}
}

type stubRepo struct {
	domain.ProfileRepository
	bySubject map[string]*domain.Profile
	byEmail   map[string]*domain.Profile
}

func (s *stubRepo) FindBySubjectID(ctx context.Context, subjectID string) (*domain.Profile, error) {
	if p, ok := s.bySubject[subjectID]; ok {
		return p, nil
	}
	return nil, domain.ErrProfileNotFound
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*domain.Profile, error) {
	if p, ok := s.byEmail[email]; ok {
		return p, nil
	}
	return nil, domain.ErrProfileNotFound
}

func signedToken(t *testing.T, sub string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   sub,
		"email": "ana@x.com",
		"name":  "Ana Silva",
	})
	signed, err := token.SignedString([]byte("test-key"))
	require.NoError(t, err)
	return signed
}

func newTestAPI(t *testing.T, exchanger services.TokenExchanger, repo domain.ProfileRepository) *API {
	t.Helper()
	endpoints := keycloak.NewEndpoints(keycloak.Endpoints{
		BaseURL:  "http://localhost:8080",
		Realm:    "test",
		ClientID: "test-app",
		IdpHint:  "google",
	})
	identity := services.NewIdentityService(exchanger, nil, nil, repo, endpoints)
	profiles := services.NewProfileService(repo)
	return NewAPI(identity, profiles, nil)
}

func TestLoginHandler_Success(t *testing.T) {
	exchanger := &stubExchanger{grant: func(username, password string) (*domain.TokenSet, error) {
		assert.Equal(t, "12345678900", username)
		return &domain.TokenSet{AccessToken: signedToken(t, "kc-1"), TokenType: "Bearer"}, nil
	}}
	repo := &stubRepo{
		bySubject: map[string]*domain.Profile{"kc-1": {SubjectID: "kc-1", Document: "12345678900"}},
	}
	api := newTestAPI(t, exchanger, repo)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"username":"12345678900","password":"p@ss1"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	require.NoError(t, api.LoginHandler(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"access_token"`)
	assert.Contains(t, rec.Body.String(), `"is_first_login":true`)
}

func TestLoginHandler_InvalidCredentials(t *testing.T) {
	exchanger := &stubExchanger{grant: func(username, password string) (*domain.TokenSet, error) {
		return nil, &domain.RequestError{Op: "password grant", Status: 401, Body: "invalid_grant"}
	}}
	api := newTestAPI(t, exchanger, &stubRepo{})

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"username":"12345678900","password":"wrong"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	err := api.LoginHandler(e.NewContext(req, rec))
	require.Error(t, err)
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestLoginHandler_MissingFields(t *testing.T) {
	api := newTestAPI(t, &stubExchanger{}, &stubRepo{})

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	err := api.LoginHandler(e.NewContext(req, rec))
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)
}

func TestSocialURLHandler(t *testing.T) {
	api := newTestAPI(t, &stubExchanger{}, &stubRepo{})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/auth/url", nil)
	rec := httptest.NewRecorder()

	require.NoError(t, api.SocialURLHandler(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kc_idp_hint=google")
	assert.Contains(t, rec.Body.String(), "response_type=code")
}

func TestLogoutHandler(t *testing.T) {
	api := newTestAPI(t, &stubExchanger{}, &stubRepo{})

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/auth/logout",
		strings.NewReader(`{"id_token":"idt-1"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	require.NoError(t, api.LogoutHandler(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)
	assert.Contains(t, rec.Body.String(), "id_token_hint=idt-1")
}

func TestHTTPErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{domain.ErrInvalidCredentials, http.StatusUnauthorized},
		{domain.ErrProfileNotFound, http.StatusNotFound},
		{domain.ErrUserNotFound, http.StatusNotFound},
		{domain.ErrEmailTaken, http.StatusConflict},
		{domain.ErrDocumentTaken, http.StatusConflict},
		{domain.ErrDocumentConflict, http.StatusConflict},
		{domain.ErrUsernameConflict, http.StatusConflict},
		{domain.ErrDocumentRequired, http.StatusBadRequest},
		{domain.ErrProviderUnavailable, http.StatusBadGateway},
		{&domain.RequestError{Op: "x", Status: 500, Body: "y"}, http.StatusBadGateway},
		{assert.AnError, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		var httpErr *echo.HTTPError
		require.ErrorAs(t, httpError(tc.err), &httpErr)
		assert.Equal(t, tc.status, httpErr.Code, "error %v", tc.err)
	}
}
