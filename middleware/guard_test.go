package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	goRotate "github.com/MrEthical07/goRotate"
)

func newEngine(t *testing.T) *goRotate.Engine {
	t.Helper()

	cfg := goRotate.DefaultConfig()
	cfg.Token.SigningMethod = "hs256"
	cfg.Token.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Store.Backend = "memory"

	engine, err := goRotate.New().
		WithConfig(cfg).
		WithPermissions("profile:read", "users:manage").
		WithRoles(
			goRotate.Role{Name: "USER", Permissions: []string{"profile:read"}},
			goRotate.Role{Name: "ADMIN", Includes: []string{"USER"}, Permissions: []string{"users:manage"}},
		).
		WithRoleSource(goRotate.StaticRoles{
			"alice": {"USER"},
			"root":  {"ADMIN"},
		}).
		Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

func serve(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGuardAndRequirePermissions(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()

	var seen *goRotate.AuthResult
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = AuthResultFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := Guard(engine)(RequirePermissions("users:manage")(final))

	require.Equal(t, http.StatusUnauthorized, serve(h, "").Code)
	require.Equal(t, http.StatusUnauthorized, serve(h, "not-a-jwt").Code)

	user, err := engine.IssueForLogin(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, serve(h, user.AccessToken).Code)

	admin, err := engine.IssueForLogin(ctx, "root")
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, serve(h, admin.AccessToken).Code)
	require.NotNil(t, seen)
	require.Equal(t, "root", seen.Principal)
	require.True(t, seen.Can("profile:read", "users:manage"))

	// Logout revokes the family, so the still-unexpired access token stops working.
	require.NoError(t, engine.RevokeSession(ctx, admin.RefreshToken))
	require.Equal(t, http.StatusUnauthorized, serve(h, admin.AccessToken).Code)
}

func TestGuardNilEngine(t *testing.T) {
	h := Guard(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	require.Equal(t, http.StatusUnauthorized, serve(h, "x").Code)
}

func TestRequirePermissionsOutsideGuard(t *testing.T) {
	h := RequirePermissions("profile:read")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	require.Equal(t, http.StatusUnauthorized, serve(h, "").Code)
}
