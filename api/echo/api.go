package echo

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/idbridge/domain"
	"go.pilab.hu/idbridge/middleware"
	"go.pilab.hu/idbridge/services"
)

const birthDateLayout = "2006-01-02"

// API wires the identity and profile services into HTTP routes.
type API struct {
	identity *services.IdentityService
	profiles *services.ProfileService
	auth     *middleware.Authenticator
}

func NewAPI(identity *services.IdentityService, profiles *services.ProfileService, auth *middleware.Authenticator) *API {
	return &API{identity: identity, profiles: profiles, auth: auth}
}

// RegisterRoutes registers the auth endpoints and the guarded customer API.
func (a *API) RegisterRoutes(e *echo.Echo) {
	e.GET("/auth/url", a.SocialURLHandler)
	e.POST("/auth/login", a.LoginHandler)
	e.POST("/auth/register", a.RegisterHandler)
	e.POST("/auth/token", a.TokenHandler)
	e.POST("/auth/logout", a.LogoutHandler)
	e.GET("/auth/user-info", a.UserInfoHandler)

	customers := e.Group("/api/customers", a.auth.Middleware())
	customers.GET("", a.ListCustomersHandler)
	customers.GET("/:id", a.GetCustomerHandler)
	customers.GET("/by-email/:email", a.GetCustomerByEmailHandler)
	customers.GET("/by-keycloak/:subjectID", a.GetCustomerBySubjectHandler)
	customers.POST("", a.CreateCustomerHandler)
	customers.PUT("/:id", a.UpdateCustomerHandler)
	customers.PATCH("/update-info/:subjectID", a.UpdateCustomerInfoHandler)
	customers.DELETE("/:id", a.DeleteCustomerHandler)
}

// SocialURLHandler returns the redirect that starts the social login flow.
func (a *API) SocialURLHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"authUrl": a.identity.SocialLoginURL()})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginHandler performs a password login with a document number or email.
func (a *API) LoginHandler(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Username == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "username and password are required")
	}

	result, err := a.identity.Login(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, result)
}

type registerRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Document  string `json:"document"`
	BirthDate string `json:"birthDate"`
	Password  string `json:"password"`
}

// RegisterHandler creates a new account and returns the auto-login result.
func (a *API) RegisterHandler(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Email == "" || req.Password == "" || req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name, email and password are required")
	}

	birthDate, err := parseBirthDate(req.BirthDate)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "birthDate must be formatted as "+birthDateLayout)
	}

	result, err := a.identity.Register(c.Request().Context(), services.RegisterRequest{
		Name:      req.Name,
		Email:     req.Email,
		Document:  req.Document,
		BirthDate: birthDate,
		Password:  req.Password,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, result)
}

// TokenHandler redeems a social login authorization code.
func (a *API) TokenHandler(c echo.Context) error {
	var req struct {
		Code string `json:"code"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "code is required")
	}

	result, err := a.identity.ExchangeCode(c.Request().Context(), req.Code)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// LogoutHandler builds the front-channel logout redirect. It always answers
// 200; the browser performs the actual logout by following the URL.
func (a *API) LogoutHandler(c echo.Context) error {
	var req struct {
		IDToken string `json:"id_token"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusOK, map[string]any{"success": false, "error": "invalid request body"})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":   true,
		"logoutUrl": a.identity.LogoutURL(req.IDToken),
	})
}

// UserInfoHandler resolves the caller's identity from the Authorization header.
func (a *API) UserInfoHandler(c echo.Context) error {
	bearer := c.Request().Header.Get(echo.HeaderAuthorization)
	if bearer == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
	}

	info, err := a.identity.UserInfo(c.Request().Context(), bearer)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	return c.JSON(http.StatusOK, info)
}

func (a *API) ListCustomersHandler(c echo.Context) error {
	profiles, err := a.profiles.List(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, profiles)
}

func (a *API) GetCustomerHandler(c echo.Context) error {
	profile, err := a.profiles.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, profile)
}

func (a *API) GetCustomerByEmailHandler(c echo.Context) error {
	profile, err := a.profiles.GetByEmail(c.Request().Context(), c.Param("email"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, profile)
}

func (a *API) GetCustomerBySubjectHandler(c echo.Context) error {
	profile, err := a.profiles.GetBySubjectID(c.Request().Context(), c.Param("subjectID"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, profile)
}

func (a *API) CreateCustomerHandler(c echo.Context) error {
	var profile domain.Profile
	if err := c.Bind(&profile); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if profile.Email == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email is required")
	}

	created, err := a.profiles.Create(c.Request().Context(), &profile)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (a *API) UpdateCustomerHandler(c echo.Context) error {
	var update services.ProfileUpdate
	if err := c.Bind(&update); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	profile, err := a.profiles.Update(c.Request().Context(), c.Param("id"), update)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, profile)
}

type updateInfoRequest struct {
	Document  string `json:"document"`
	BirthDate string `json:"birthDate"`
}

// UpdateCustomerInfoHandler completes a profile after a first login: document
// and birth date, keyed by the caller's directory subject id.
func (a *API) UpdateCustomerInfoHandler(c echo.Context) error {
	var req updateInfoRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	birthDate, err := parseBirthDate(req.BirthDate)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "birthDate must be formatted as "+birthDateLayout)
	}

	profile, err := a.identity.UpdateProfileInfo(c.Request().Context(), c.Param("subjectID"), req.Document, birthDate)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, profile)
}

func (a *API) DeleteCustomerHandler(c echo.Context) error {
	if err := a.identity.DeleteProfile(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func parseBirthDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(birthDateLayout, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// httpError maps service errors onto HTTP statuses. Unknown errors are logged
// and reported as opaque 500s.
func httpError(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidCredentials):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrProfileNotFound), errors.Is(err, domain.ErrUserNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrEmailTaken),
		errors.Is(err, domain.ErrDocumentTaken),
		errors.Is(err, domain.ErrDocumentConflict),
		errors.Is(err, domain.ErrSubjectTaken),
		errors.Is(err, domain.ErrUsernameConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrDocumentRequired):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrProviderUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	var reqErr *domain.RequestError
	if errors.As(err, &reqErr) {
		log.Error().Err(err).Msg("Identity provider request failed")
		return echo.NewHTTPError(http.StatusBadGateway, "identity provider request failed")
	}

	log.Error().Err(err).Msg("Unhandled service error")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}
