package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testKey = []byte("test-signing-key")

func signToken(t *testing.T, claims *Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(testKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func defaultClaims() *Claims {
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "https://auth.example.com",
			Audience:  jwt.ClaimStrings{"cliniguard"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role:           "doctor",
		ClinicID:       "clinic-1",
		ProfessionalID: "prof-9",
		SessionID:      "sess-1",
	}
}

func runMiddleware(t *testing.T, mw echo.MiddlewareFunc, authHeader string) (*httptest.ResponseRecorder, error, echo.Context) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var handled echo.Context
	handler := func(c echo.Context) error {
		handled = c
		return c.String(http.StatusOK, "ok")
	}
	err := mw(handler)(c)
	return rec, err, handled
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	mw := JWTMiddleware(JWTConfig{
		Issuer:     "https://auth.example.com",
		Audience:   "cliniguard",
		SigningKey: testKey,
	})

	token := signToken(t, defaultClaims())
	_, err, handled := runMiddleware(t, mw, "Bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := handled.Request().Context()
	if UserIDFromContext(ctx) != "user-1" {
		t.Errorf("expected user-1, got %q", UserIDFromContext(ctx))
	}
	if RoleFromContext(ctx) != "doctor" {
		t.Errorf("expected doctor, got %q", RoleFromContext(ctx))
	}
	if ClinicIDFromContext(ctx) != "clinic-1" {
		t.Errorf("expected clinic-1, got %q", ClinicIDFromContext(ctx))
	}
	if ProfessionalIDFromContext(ctx) != "prof-9" {
		t.Errorf("expected prof-9, got %q", ProfessionalIDFromContext(ctx))
	}
	if SessionIDFromContext(ctx) != "sess-1" {
		t.Errorf("expected sess-1, got %q", SessionIDFromContext(ctx))
	}
}

func TestJWTMiddleware_RejectsMissingHeader(t *testing.T) {
	mw := JWTMiddleware(JWTConfig{SigningKey: testKey})
	_, err, _ := runMiddleware(t, mw, "")
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestJWTMiddleware_RejectsMalformedHeader(t *testing.T) {
	mw := JWTMiddleware(JWTConfig{SigningKey: testKey})
	for _, h := range []string{"Basic abc", "Bearer", "just-a-token"} {
		_, err, _ := runMiddleware(t, mw, h)
		httpErr, ok := err.(*echo.HTTPError)
		if !ok || httpErr.Code != http.StatusUnauthorized {
			t.Errorf("header %q: expected 401, got %v", h, err)
		}
	}
}

func TestJWTMiddleware_RejectsWrongKey(t *testing.T) {
	claims := defaultClaims()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte("other-key"))
	if err != nil {
		t.Fatal(err)
	}

	mw := JWTMiddleware(JWTConfig{SigningKey: testKey})
	_, mwErr, _ := runMiddleware(t, mw, "Bearer "+s)
	httpErr, ok := mwErr.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong key, got %v", mwErr)
	}
}

func TestJWTMiddleware_RejectsExpiredToken(t *testing.T) {
	claims := defaultClaims()
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	mw := JWTMiddleware(JWTConfig{SigningKey: testKey})
	_, err, _ := runMiddleware(t, mw, "Bearer "+signToken(t, claims))
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %v", err)
	}
}

func TestJWTMiddleware_RejectsWrongIssuer(t *testing.T) {
	claims := defaultClaims()
	claims.Issuer = "https://rogue.example.com"

	mw := JWTMiddleware(JWTConfig{
		Issuer:     "https://auth.example.com",
		SigningKey: testKey,
	})
	_, err, _ := runMiddleware(t, mw, "Bearer "+signToken(t, claims))
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong issuer, got %v", err)
	}
}

func TestDevAuthMiddleware_GrantsDefaultIdentity(t *testing.T) {
	_, err, handled := runMiddleware(t, DevAuthMiddleware(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := handled.Request().Context()
	if UserIDFromContext(ctx) != "dev-user" || RoleFromContext(ctx) != "admin" {
		t.Errorf("expected dev admin identity, got %q / %q", UserIDFromContext(ctx), RoleFromContext(ctx))
	}
}

func TestRequireRole(t *testing.T) {
	e := echo.New()

	run := func(role string, allowed ...string) error {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		if role != "" {
			ctx := context.WithValue(req.Context(), UserRoleKey, role)
			c.SetRequest(req.WithContext(ctx))
		}
		handler := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
		return RequireRole(allowed...)(handler)(c)
	}

	if err := run("admin", "admin", "clinic_admin"); err != nil {
		t.Errorf("expected admin allowed, got %v", err)
	}
	err := run("doctor", "admin", "clinic_admin")
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusForbidden {
		t.Errorf("expected 403 for doctor, got %v", err)
	}
	err = run("", "admin")
	if err == nil {
		t.Error("expected 403 for missing role")
	}
}
