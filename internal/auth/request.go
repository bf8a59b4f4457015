package auth

import (
	"net/http"
	"net/url"
)

// TokenCookie carries the session token for browser clients.
// Other clients send the same value in the "token" header.
const TokenCookie = "token"

// RequestToken returns the session token of the request, if any.
func RequestToken(r *http.Request) string {
	if token := r.Header.Get("token"); token != "" {
		return token
	}
	if c, err := r.Cookie(TokenCookie); err == nil {
		return c.Value
	}
	return ""
}

// SameOrigin reports whether a browser request comes from a page this
// server served. Requests without Origin and Referer come from non-browser
// clients and pass.
func SameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = r.Header.Get("Referer")
	}
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}
