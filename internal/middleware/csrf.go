package middleware

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
)

type contextKey string

const CSRFTokenKey contextKey = "csrf_token"

const (
	csrfCookie = "csrf_token"
	csrfHeader = "X-CSRF-Token"
)

func GenerateToken() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// TokenFromContext returns the token CSRF stored for the request.
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(CSRFTokenKey).(string)
	return token
}

// CSRF applies double-submit protection to browser sessions. A request that
// carries the token cookie must echo it in the X-CSRF-Token header on unsafe
// methods. Requests without the cookie (integration clients) are passed
// through, and a fresh cookie is only issued on safe methods.
func CSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if cookie, err := r.Cookie(csrfCookie); err == nil {
			token = cookie.Value
		}

		if !safeMethod(r.Method) {
			if token != "" {
				sent := r.Header.Get(csrfHeader)
				if subtle.ConstantTimeCompare([]byte(sent), []byte(token)) != 1 {
					http.Error(w, "Invalid CSRF Token", http.StatusForbidden)
					return
				}
			}
		} else if token == "" {
			token = GenerateToken()
			http.SetCookie(w, &http.Cookie{
				Name:     csrfCookie,
				Value:    token,
				Path:     "/",
				SameSite: http.SameSiteStrictMode,
			})
		}

		ctx := context.WithValue(r.Context(), CSRFTokenKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func safeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
