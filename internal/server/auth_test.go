package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	appconfig "github.com/mohammad-safakhou/deepresearch/config"
)

func authTestServer(t *testing.T, cfg appconfig.ServerConfig) *echo.Echo {
	t.Helper()
	e := echo.New()
	g := e.Group("/api")
	if mw := authMiddleware(cfg); mw != nil {
		g.Use(mw)
	}
	g.GET("/ping", func(c echo.Context) error {
		principal, _ := c.Get("principal").(string)
		return c.String(http.StatusOK, principal)
	})
	return e
}

func doGet(e *echo.Echo, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAuthDisabledWhenUnconfigured(t *testing.T) {
	e := authTestServer(t, appconfig.ServerConfig{})
	if rec := doGet(e, ""); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want open access", rec.Code)
	}
}

func TestAuthStaticToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret-token"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	cfg := appconfig.ServerConfig{AuthTokens: map[string]string{"ci": string(hash)}}
	e := authTestServer(t, cfg)

	if rec := doGet(e, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: status = %d", rec.Code)
	}
	if rec := doGet(e, "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: status = %d", rec.Code)
	}
	rec := doGet(e, "s3cret-token")
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d", rec.Code)
	}
	if rec.Body.String() != "ci" {
		t.Fatalf("principal = %q", rec.Body.String())
	}
}

func TestAuthJWT(t *testing.T) {
	secret := []byte("test-secret")
	cfg := appconfig.ServerConfig{JWTSecret: string(secret)}
	e := authTestServer(t, cfg)

	signed, err := SignJWT("user-1", secret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	rec := doGet(e, signed)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid jwt: status = %d", rec.Code)
	}
	if rec.Body.String() != "user-1" {
		t.Fatalf("principal = %q", rec.Body.String())
	}

	expired, err := SignJWT("user-1", secret, -time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if rec := doGet(e, expired); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expired jwt: status = %d", rec.Code)
	}

	other, _ := SignJWT("user-1", []byte("other-secret"), time.Hour)
	if rec := doGet(e, other); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret: status = %d", rec.Code)
	}
}
