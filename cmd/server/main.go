package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	echoapi "go.pilab.hu/idbridge/api/echo"
	"go.pilab.hu/idbridge/config"
	"go.pilab.hu/idbridge/keycloak"
	applog "go.pilab.hu/idbridge/log"
	"go.pilab.hu/idbridge/middleware"
	"go.pilab.hu/idbridge/mongodb"
	"go.pilab.hu/idbridge/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	applog.Setup(cfg.LogLevel, cfg.LogPretty)
	log.Info().
		Str("http_port", cfg.HTTPPort).
		Str("mongo_db_name", cfg.MongoDBName).
		Str("keycloak_url", cfg.KeycloakURL).
		Str("keycloak_realm", cfg.KeycloakRealm).
		Msg("Starting idbridge server")

	ctx := context.Background()
	if err := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize MongoDB connection")
	}
	defer func() {
		if err := mongodb.Disconnect(context.Background()); err != nil {
			log.Error().Err(err).Msg("Failed to disconnect from MongoDB")
		}
	}()

	profileRepo, err := mongodb.NewProfileRepository(ctx, mongodb.GetDB())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize ProfileRepository")
	}

	endpoints := keycloak.NewEndpoints(keycloak.Endpoints{
		BaseURL:               cfg.KeycloakURL,
		Realm:                 cfg.KeycloakRealm,
		ClientID:              cfg.KeycloakClientID,
		ClientSecret:          cfg.KeycloakClientSecret,
		RedirectURI:           cfg.RedirectURI,
		PostLogoutRedirectURI: cfg.PostLogoutRedirectURI,
		IdpHint:               cfg.IdpHint,
	})

	httpClient := &http.Client{Timeout: time.Duration(cfg.HTTPClientTimeoutSec) * time.Second}
	kcClient := keycloak.NewClient(endpoints, httpClient)
	tokenSource := keycloak.NewAdminTokenSource(kcClient, cfg.AdminUsername, cfg.AdminPassword)
	directory := keycloak.NewDirectory(kcClient, tokenSource)
	migrator := keycloak.NewMigrator(directory)

	identityService := services.NewIdentityService(kcClient, directory, migrator, profileRepo, endpoints)
	profileService := services.NewProfileService(profileRepo)
	authenticator := middleware.NewAuthenticator(kcClient, time.Duration(cfg.UserInfoCacheTTLSec)*time.Second)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(echomw.CORS())

	e.GET("/healthz", func(c echo.Context) error {
		if err := mongodb.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	api := echoapi.NewAPI(identityService, profileService, authenticator)
	api.RegisterRoutes(e)

	go func() {
		if err := e.Start(":" + cfg.HTTPPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()
	log.Info().Str("port", cfg.HTTPPort).Msg("HTTP server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	log.Info().Msg("Server stopped")
}
