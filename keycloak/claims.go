package keycloak

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims is the claim subset the login flow reads from a freshly
// issued access token.
type AccessClaims struct {
	Subject           string
	Email             string
	Name              string
	PreferredUsername string
}

// DecodeAccessClaims decodes a JWT payload without verifying its signature.
// The login path only ever decodes tokens it just received from the token
// endpoint over the configured connection, so the issuer is trusted by
// construction; resource servers validating inbound bearer tokens must not
// use this.
func DecodeAccessClaims(accessToken string) (*AccessClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return nil, fmt.Errorf("decoding access token: %w", err)
	}

	out := &AccessClaims{
		Email:             stringClaim(claims, "email"),
		Name:              stringClaim(claims, "name"),
		PreferredUsername: stringClaim(claims, "preferred_username"),
	}
	out.Subject, _ = claims.GetSubject()
	return out, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}
