// Package auth resolves the external identity of the caller behind an HTTP request.
package auth

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultSessionCookieName is the cookie the identity provider's frontend SDK writes.
	DefaultSessionCookieName = "__session"

	bearerPrefix = "Bearer "
)

// CallerResolver returns the external id of the authenticated caller, or an error when the
// request carries no valid session.
type CallerResolver interface {
	ResolveCaller(r *http.Request) (string, error)
}

// SessionClaims mirrors the session token payload issued by the identity provider.
type SessionClaims struct {
	SessionID       string `json:"sid,omitempty"`
	AuthorizedParty string `json:"azp,omitempty"`
	jwt.RegisteredClaims
}

// ExternalID returns the provider user id carried in the subject claim.
func (c SessionClaims) ExternalID() string {
	return strings.TrimSpace(c.Subject)
}

// extractSessionToken prefers an Authorization bearer token and falls back to the cookie.
func extractSessionToken(r *http.Request, cookieName string) string {
	if r == nil {
		return ""
	}
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, bearerPrefix) {
		if token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix)); token != "" {
			return token
		}
	}
	cookie, err := r.Cookie(cookieName)
	if err != nil || cookie == nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}
