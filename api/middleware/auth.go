package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	userIDKey        = "auth.userId"
	authenticatedKey = "auth.authenticated"
)

var errMissingToken = errors.New("missing token")

// Claims are the JWT claims accepted on requests. The subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	issuer string
}

// NewAuthenticator returns an authenticator for secret. With an empty secret
// every request stays anonymous.
func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

// Parse validates a bearer token and returns its subject.
func (a *Authenticator) Parse(token string) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("authentication is not configured")
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &Claims{}
	tkn, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !tkn.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

func bearer(r *http.Request) (string, error) {
	hdr := r.Header.Get("Authorization")
	if hdr == "" {
		return "", errMissingToken
	}
	if len(hdr) < 7 || !strings.EqualFold(hdr[:7], "bearer ") {
		return "", errors.New("authorization is not a bearer token")
	}
	return strings.TrimSpace(hdr[7:]), nil
}

// Middleware marks the request authenticated when a valid token is present.
// Anonymous requests pass through. A token that is present but invalid is
// refused with 401.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, err := bearer(c.Request)
		if errors.Is(err, errMissingToken) {
			c.Next()
			return
		}
		if err == nil {
			var sub string
			if sub, err = a.Parse(tok); err == nil {
				c.Set(userIDKey, sub)
				c.Set(authenticatedKey, true)
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthenticated",
			"message": err.Error(),
		})
	}
}

// Identity returns the user set by the auth middleware.
func Identity(c *gin.Context) (userID string, authenticated bool) {
	return c.GetString(userIDKey), c.GetBool(authenticatedKey)
}
