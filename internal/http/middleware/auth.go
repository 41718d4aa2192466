// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements bearer-token authentication. RequireAuth resolves the
// caller from an access token and stores the user ID in the Gin context under
// "userID", which the rate limiter, the idempotency validator and every
// handler read, and adds user_id to the request-scoped logger.
//
// Token sources, in order:
//   - Authorization: Bearer <token>
//   - the access_token cookie
//
// Requests without a valid token are rejected with 401 and the standard error
// envelope.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// UserIDKey is the Gin context key holding the authenticated user ID.
	UserIDKey = "userID"
	// AccessTokenCookie is the cookie consulted when no Authorization header
	// is present.
	AccessTokenCookie = "access_token"
)

// TokenVerifier resolves an access token to the user it was issued for.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// RequireAuth rejects requests that do not carry a valid access token and
// stashes the resolved user ID for downstream handlers.
func RequireAuth(v TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := BearerToken(c)
		if tok == "" {
			unauthorized(c, "missing access token")
			return
		}
		uid, err := v.Verify(tok)
		if err != nil || uid == "" {
			unauthorized(c, "invalid or expired access token")
			return
		}
		c.Set(UserIDKey, uid)
		enrichLogger(c, "user_id", uid)
		c.Next()
	}
}

// BearerToken extracts the raw token from the Authorization header or, when
// absent, from the access_token cookie. It returns "" when neither is set.
func BearerToken(c *gin.Context) string {
	if h := strings.TrimSpace(c.GetHeader("Authorization")); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	if ck, err := c.Cookie(AccessTokenCookie); err == nil {
		return strings.TrimSpace(ck)
	}
	return ""
}

// UserID returns the authenticated user ID stored by RequireAuth.
func UserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

func unauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="chat"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       "unauthorized",
		"message":    msg,
	})
}
