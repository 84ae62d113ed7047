package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/idbridge/domain"
)

const userInfoContextKey = "auth_user_info"

// UserInfoFetcher introspects a bearer token against the identity provider.
type UserInfoFetcher interface {
	UserInfo(ctx context.Context, accessToken string) (*domain.UserInfo, error)
}

// Authenticator guards routes with bearer-token introspection, caching the
// resolved identity briefly so a burst of requests with the same token does
// not hammer the provider's userinfo endpoint.
type Authenticator struct {
	idp   UserInfoFetcher
	cache *ttlcache.Cache[string, *domain.UserInfo]
}

// NewAuthenticator creates an Authenticator with the given introspection TTL.
func NewAuthenticator(idp UserInfoFetcher, ttl time.Duration) *Authenticator {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *domain.UserInfo](ttl),
		ttlcache.WithDisableTouchOnHit[string, *domain.UserInfo](),
	)
	go cache.Start()

	return &Authenticator{idp: idp, cache: cache}
}

// Middleware rejects requests without a valid bearer token and stores the
// resolved identity on the echo context.
func (a *Authenticator) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			info, err := a.resolve(c.Request().Context(), token)
			if err != nil {
				log.Debug().Err(err).Msg("Bearer token introspection failed")
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			c.Set(userInfoContextKey, info)
			return next(c)
		}
	}
}

func (a *Authenticator) resolve(ctx context.Context, token string) (*domain.UserInfo, error) {
	if item := a.cache.Get(token); item != nil {
		return item.Value(), nil
	}

	info, err := a.idp.UserInfo(ctx, token)
	if err != nil {
		return nil, err
	}

	a.cache.Set(token, info, ttlcache.DefaultTTL)
	return info, nil
}

// UserInfoFromContext returns the identity the middleware resolved, or nil on
// unguarded routes.
func UserInfoFromContext(c echo.Context) *domain.UserInfo {
	info, _ := c.Get(userInfoContextKey).(*domain.UserInfo)
	return info
}
