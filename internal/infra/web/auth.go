// File: internal/infra/web/auth.go
package web

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// sessionCookie carries the admin token for browser clients; API clients
// send it as a Bearer header instead.
const sessionCookie = "paywall_admin"

// AuthManager mints and checks the short-lived JWT sessions guarding the
// admin endpoints. There is a single admin identity, so the claims carry
// nothing beyond the registered set.
type AuthManager struct {
	secret []byte
	secure bool // Secure cookie flag, off in dev
	ttl    time.Duration
}

func NewAuthManager(secret string, secure bool, ttl time.Duration) *AuthManager {
	return &AuthManager{secret: []byte(secret), secure: secure, ttl: ttl}
}

type AdminClaims struct {
	jwt.RegisteredClaims
}

// Mint signs a fresh session token, sets it as the session cookie and
// returns it for Bearer use.
func (a *AuthManager) Mint(w http.ResponseWriter) (string, error) {
	now := time.Now()
	claims := AdminClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "paywall-admin",
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    signed,
		Path:     "/",
		MaxAge:   int(a.ttl.Seconds()),
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteStrictMode,
	})
	return signed, nil
}

// ParseFromRequest accepts the token from an Authorization: Bearer header
// or from the session cookie, in that order.
func (a *AuthManager) ParseFromRequest(r *http.Request) (*AdminClaims, error) {
	if hdr := r.Header.Get("Authorization"); hdr != "" {
		scheme, tok, ok := strings.Cut(hdr, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return a.parse(strings.TrimSpace(tok))
		}
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return a.parse(c.Value)
	}
	return nil, errors.New("missing token")
}

func (a *AuthManager) parse(tok string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	tkn, err := jwt.ParseWithClaims(tok, claims,
		func(*jwt.Token) (any, error) { return a.secret, nil },
		// the key is an HMAC secret; any other alg in the header is forgery
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tkn.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
