package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/idbridge/domain"
)

type stubFetcher struct {
	calls atomic.Int32
	info  *domain.UserInfo
	err   error
}

func (s *stubFetcher) UserInfo(ctx context.Context, accessToken string) (*domain.UserInfo, error) {
	s.calls.Add(1)
	return s.info, s.err
}

func doRequest(t *testing.T, auth *Authenticator, header string) (*httptest.ResponseRecorder, *domain.UserInfo) {
	t.Helper()
	e := echo.New()
	var seen *domain.UserInfo
	handler := auth.Middleware()(func(c echo.Context) error {
		seen = UserInfoFromContext(c)
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(echo.HeaderAuthorization, header)
	}
	rec := httptest.NewRecorder()
	if err := handler(e.NewContext(req, rec)); err != nil {
		var httpErr *echo.HTTPError
		require.ErrorAs(t, err, &httpErr)
		rec.Code = httpErr.Code
	}
	return rec, seen
}

func TestAuthenticator_ValidToken(t *testing.T) {
	fetcher := &stubFetcher{info: &domain.UserInfo{Sub: "kc-1", Email: "ana@x.com"}}
	auth := NewAuthenticator(fetcher, time.Minute)

	rec, seen := doRequest(t, auth, "Bearer token-1")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "kc-1", seen.Sub)
}

func TestAuthenticator_CachesIntrospection(t *testing.T) {
	fetcher := &stubFetcher{info: &domain.UserInfo{Sub: "kc-1"}}
	auth := NewAuthenticator(fetcher, time.Minute)

	for i := 0; i < 3; i++ {
		rec, _ := doRequest(t, auth, "Bearer token-1")
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, int32(1), fetcher.calls.Load())
}

func TestAuthenticator_MissingHeader(t *testing.T) {
	auth := NewAuthenticator(&stubFetcher{}, time.Minute)

	rec, _ := doRequest(t, auth, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticator_RejectedToken(t *testing.T) {
	fetcher := &stubFetcher{err: &domain.RequestError{Op: "userinfo", Status: 401, Body: "expired"}}
	auth := NewAuthenticator(fetcher, time.Minute)

	rec, _ := doRequest(t, auth, "Bearer bad-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
