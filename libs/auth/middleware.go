package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

const ContextUserIDKey = "user_id"

// ErrUnknownCredential is returned by resolvers for keys that map to no user.
var ErrUnknownCredential = errors.New("unknown credential")

// KeyResolver maps an API key to the owning user id.
type KeyResolver interface {
	ResolveAPIKey(ctx context.Context, key string) (string, error)
}

type KeyResolverFunc func(ctx context.Context, key string) (string, error)

func (f KeyResolverFunc) ResolveAPIKey(ctx context.Context, key string) (string, error) {
	return f(ctx, key)
}

// Middleware authenticates "TOKEN <api key>" through resolver and
// "Bearer <jwt>" against secret. Either scheme may be disabled by passing
// nil.
func Middleware(secret []byte, resolver KeyResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		scheme, credential := SplitAuthorization(c.GetHeader("Authorization"))
		var userID string
		switch {
		case scheme == SchemeToken && resolver != nil:
			id, err := resolver.ResolveAPIKey(c.Request.Context(), credential)
			if err != nil {
				if !errors.Is(err, ErrUnknownCredential) {
					_ = c.Error(err)
				}
				abortUnauthorized(c, "invalid api key")
				return
			}
			userID = id
		case scheme == SchemeBearer && len(secret) > 0:
			claims, err := ParseJWT(credential, secret)
			if err != nil || claims.Subject == "" {
				abortUnauthorized(c, "invalid token")
				return
			}
			userID = claims.Subject
		default:
			abortUnauthorized(c, "missing credentials")
			return
		}

		c.Set(ContextUserIDKey, userID)
		c.Next()
	}
}

// AdminMiddleware accepts only "TOKEN <adminToken>". A missing header is
// 401, any other credential 403.
func AdminMiddleware(adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		scheme, credential := SplitAuthorization(c.GetHeader("Authorization"))
		if scheme == "" {
			abortUnauthorized(c, "missing credentials")
			return
		}
		if adminToken == "" || scheme != SchemeToken ||
			subtle.ConstantTimeCompare([]byte(credential), []byte(adminToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": "FORBIDDEN", "message": "admin credentials required"})
			return
		}
		c.Next()
	}
}

// UserID returns the id set by Middleware.
func UserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(ContextUserIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": message})
}
