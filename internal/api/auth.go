package api

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/Temur101/dictionary/internal/errors"
)

const userIDKey = "user_id"

// Auth validates the HS256 bearer token and resolves the owning user from
// its subject claim.
func Auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || raw == "" {
			abortError(c, errors.New(errors.CodeUnauthenticated,
				errors.WithMessagef("missing bearer token")))
			return
		}

		token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			abortError(c, errors.New(errors.CodeUnauthenticated, errors.WithCause(err)))
			return
		}

		sub, err := token.Claims.GetSubject()
		if err != nil || sub == "" {
			abortError(c, errors.New(errors.CodeUnauthenticated,
				errors.WithMessagef("token has no subject")))
			return
		}

		c.Set(userIDKey, sub)
		c.Next()
	}
}

func userID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
