// Package identity resolves the key that scopes rate limits and conversation
// history for a request.
package identity

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Source tells how an identity was established.
type Source string

const (
	SourceUser Source = "user"
	SourceIP   Source = "ip"
)

// Identity is a resolved caller.
type Identity struct {
	ID     string
	Source Source
}

// Key returns the storage key, "user:<id>" or "ip:<address>".
func (i Identity) Key() string {
	return string(i.Source) + ":" + i.ID
}

// UserID returns the authenticated user id, or "" for anonymous callers.
func (i Identity) UserID() string {
	if i.Source == SourceUser {
		return i.ID
	}
	return ""
}

// Claims are the bearer token claims the gateway reads. Session issuers put
// the user id in either "uid" or the standard subject.
type Claims struct {
	UserID string `json:"uid,omitempty"`
	jwt.RegisteredClaims
}

// Resolver maps requests to identities.
type Resolver struct {
	secret []byte
}

// NewResolver creates a Resolver that verifies HS256 bearer tokens with
// secret. With an empty secret every caller is identified by IP.
func NewResolver(secret string) *Resolver {
	return &Resolver{secret: []byte(secret)}
}

// Resolve returns the user identity from a valid bearer token, otherwise the
// client IP.
func (r *Resolver) Resolve(req *http.Request) Identity {
	if uid, err := r.userFromBearer(req.Header.Get("Authorization")); err == nil {
		return Identity{ID: uid, Source: SourceUser}
	}
	return Identity{ID: ClientIP(req), Source: SourceIP}
}

var errNoUser = errors.New("no user in token")

func (r *Resolver) userFromBearer(header string) (string, error) {
	if len(r.secret) == 0 {
		return "", errNoUser
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return "", errNoUser
	}

	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", errNoUser
	}
	if claims.UserID != "" {
		return claims.UserID, nil
	}
	if claims.Subject != "" {
		return claims.Subject, nil
	}
	return "", errNoUser
}

// ClientIP returns the caller address, preferring proxy headers.
func ClientIP(req *http.Request) string {
	if ip := strings.TrimSpace(req.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(req.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if fwd := req.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
