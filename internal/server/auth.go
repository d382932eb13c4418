package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	appconfig "github.com/mohammad-safakhou/deepresearch/config"
)

// authMiddleware validates requests against the configured credentials.
// Two forms are accepted on the Authorization header: a static bearer
// token matching one of the bcrypt hashes in server.auth_tokens, or a
// JWT signed with server.jwt_secret. Returns nil when neither is
// configured, which disables auth entirely.
func authMiddleware(cfg appconfig.ServerConfig) echo.MiddlewareFunc {
	if len(cfg.AuthTokens) == 0 && cfg.JWTSecret == "" {
		return nil
	}
	secret := []byte(cfg.JWTSecret)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tok := extractToken(c)
			if tok == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
			}
			if principal, ok := matchStaticToken(cfg.AuthTokens, tok); ok {
				c.Set("principal", principal)
				return next(c)
			}
			if len(secret) > 0 {
				if sub, ok := verifyJWT(tok, secret); ok {
					c.Set("principal", sub)
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
	}
}

func extractToken(c echo.Context) string {
	if h := c.Request().Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return h[len("Bearer "):]
	}
	if ck, err := c.Cookie("auth"); err == nil {
		return ck.Value
	}
	return ""
}

func matchStaticToken(hashes map[string]string, tok string) (string, bool) {
	for principal, hash := range hashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(tok)) == nil {
			return principal, true
		}
	}
	return "", false
}

func verifyJWT(tok string, secret []byte) (string, bool) {
	parsed, err := jwt.Parse(tok,
		func(t *jwt.Token) (interface{}, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return "", false
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", false
	}
	sub, _ := claims["sub"].(string)
	return sub, sub != ""
}

// SignJWT issues a signed token for the given subject. Used by the CLI
// to mint tokens for local testing.
func SignJWT(subject string, secret []byte, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
