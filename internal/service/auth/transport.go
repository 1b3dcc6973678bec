package auth

import (
	"net/http"

	"github.com/modooboard/authcore/internal/logger"
)

// Transport attributes for carrying the tokens. Kept here as plain data so
// every handler and client uses the same names
const (
	BearerScheme = "Bearer"

	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
)

// CookiePolicy are the security attributes for the token cookies
type CookiePolicy struct {
	Path     string
	HTTPOnly bool
	Secure   bool
	SameSite http.SameSite
}

// CookiePolicyFor returns the attributes for the environment.
// Production serves the frontend from another origin, so the cookies must be
// Secure with SameSite=None. Local development runs over plain http where
// SameSite=None would be dropped by the browser
func CookiePolicyFor(environment string) CookiePolicy {
	if environment == logger.EnvProduction {
		return CookiePolicy{
			Path:     "/",
			HTTPOnly: true,
			Secure:   true,
			SameSite: http.SameSiteNoneMode,
		}
	}

	return CookiePolicy{
		Path:     "/",
		HTTPOnly: true,
		Secure:   false,
		SameSite: http.SameSiteLaxMode,
	}
}
