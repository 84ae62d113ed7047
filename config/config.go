package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the identity bridge.
// Tags use mapstructure for Viper unmarshalling and env variable binding.
type Config struct {
	HTTPPort    string `mapstructure:"HTTP_PORT"`
	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	LogPretty   bool   `mapstructure:"LOG_PRETTY"`

	// Keycloak connection and realm settings.
	KeycloakURL           string `mapstructure:"KEYCLOAK_URL"`
	KeycloakRealm         string `mapstructure:"KEYCLOAK_REALM"`
	KeycloakClientID      string `mapstructure:"KEYCLOAK_CLIENT_ID"`
	KeycloakClientSecret  string `mapstructure:"KEYCLOAK_CLIENT_SECRET"`
	RedirectURI           string `mapstructure:"KEYCLOAK_REDIRECT_URI"`
	PostLogoutRedirectURI string `mapstructure:"KEYCLOAK_POST_LOGOUT_REDIRECT_URI"`
	IdpHint               string `mapstructure:"KEYCLOAK_IDP_HINT"`
	AdminUsername         string `mapstructure:"KEYCLOAK_ADMIN_USERNAME"`
	AdminPassword         string `mapstructure:"KEYCLOAK_ADMIN_PASSWORD"`

	// Outbound HTTP timeout in seconds for all Keycloak calls.
	HTTPClientTimeoutSec int `mapstructure:"HTTP_CLIENT_TIMEOUT_SEC"`

	// TTL in seconds for the bearer-introspection cache in the auth middleware.
	UserInfoCacheTTLSec int `mapstructure:"USERINFO_CACHE_TTL_SEC"`
}

// LoadConfig reads configuration from file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("/etc/idbridge/")
	v.AddConfigPath("$HOME/.idbridge")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8090")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/idbridge_dev")
	v.SetDefault("MONGO_DB_NAME", "idbridge_dev")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("KEYCLOAK_URL", "http://localhost:8080")
	v.SetDefault("KEYCLOAK_REALM", "poc-ecommerce")
	v.SetDefault("KEYCLOAK_CLIENT_ID", "poc-ecommerce-app")
	v.SetDefault("KEYCLOAK_CLIENT_SECRET", "")
	v.SetDefault("KEYCLOAK_REDIRECT_URI", "http://localhost:4200/auth/callback")
	v.SetDefault("KEYCLOAK_POST_LOGOUT_REDIRECT_URI", "http://localhost:4200/login")
	v.SetDefault("KEYCLOAK_IDP_HINT", "google")
	v.SetDefault("KEYCLOAK_ADMIN_USERNAME", "admin")
	v.SetDefault("KEYCLOAK_ADMIN_PASSWORD", "admin")
	v.SetDefault("HTTP_CLIENT_TIMEOUT_SEC", 15)
	v.SetDefault("USERINFO_CACHE_TTL_SEC", 60)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env vars apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &cfg, nil
}
