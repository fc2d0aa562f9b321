package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nstepanenko/webstore/internal/middleware"
	"github.com/nstepanenko/webstore/internal/models"
	"github.com/nstepanenko/webstore/internal/repo"
	"github.com/nstepanenko/webstore/internal/service"
)

type mailRecorder struct {
	verifyTokens []string
	resetTokens  []string
}

func (m *mailRecorder) SendVerificationEmail(ctx context.Context, to, token string) error {
	m.verifyTokens = append(m.verifyTokens, token)
	return nil
}

func (m *mailRecorder) SendResetPasswordEmail(ctx context.Context, to, token string) error {
	m.resetTokens = append(m.resetTokens, token)
	return nil
}

func (m *mailRecorder) SendWelcomeEmail(ctx context.Context, to, name string) error {
	return nil
}

type serverEnv struct {
	e    *echo.Echo
	rp   *repo.GormRepo
	mail *mailRecorder
}

func newServerEnv(t *testing.T) *serverEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))

	rp := &repo.GormRepo{DB: db}
	mail := &mailRecorder{}
	secret := []byte("test-jwt-secret")

	authSvc := &service.AuthService{
		Repo:          rp,
		Notifier:      mail,
		JWTSecret:     secret,
		RefreshSecret: []byte("test-refresh-secret"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
		SingleUseTTL:  30 * time.Minute,
	}

	e := echo.New()
	Register(e, &Deps{
		Auth:    &AuthHTTP{Svc: authSvc},
		Users:   &UserHTTP{Svc: &service.UserService{Repo: rp, Auth: authSvc}},
		Catalog: &CatalogHTTP{Svc: &service.CatalogService{Repo: rp}},
		Orders:  &OrderHTTP{Svc: &service.OrderService{Repo: rp}},
		AuthMW:  middleware.NewAuth(rp, secret),
	})

	return &serverEnv{e: e, rp: rp, mail: mail}
}

type request struct {
	method  string
	path    string
	body    any
	bearer  string
	cookies []*http.Cookie
}

func (env *serverEnv) do(t *testing.T, r request) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if r.body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(r.body))
	}

	req := httptest.NewRequest(r.method, r.path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if r.bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+r.bearer)
	}
	for _, c := range r.cookies {
		req.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (env *serverEnv) register(t *testing.T, email, password string) (accessToken string, refreshCookie *http.Cookie) {
	t.Helper()

	rec := env.do(t, request{method: http.MethodPost, path: "/register", body: echo.Map{
		"email": email, "name": "Test", "password": password,
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	access, ok := body["access"].(map[string]any)
	require.True(t, ok)
	token, _ := access["token"].(string)
	require.NotEmpty(t, token)

	refresh := cookieNamed(rec, "refreshToken")
	require.NotNil(t, refresh)
	return token, refresh
}

func TestRegisterEndpoint(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t)

	rec := env.do(t, request{method: http.MethodPost, path: "/register", body: echo.Map{
		"email": "a@x.com", "name": "Alice", "password": "abc12345",
	}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	user, ok := body["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a@x.com", user["email"])
	assert.Equal(t, false, user["is_email_verified"])
	assert.NotContains(t, user, "password_hash")

	assert.NotNil(t, cookieNamed(rec, "accessToken"))
	assert.NotNil(t, cookieNamed(rec, "refreshToken"))

	// Duplicate registration conflicts.
	rec = env.do(t, request{method: http.MethodPost, path: "/register", body: echo.Map{
		"email": "a@x.com", "name": "Alice", "password": "abc12345",
	}})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, request{method: http.MethodPost, path: "/register", body: echo.Map{
		"email": "b@x.com", "name": "Bob", "password": "short",
	}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginEndpoint(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t)
	env.register(t, "a@x.com", "abc12345")

	rec := env.do(t, request{method: http.MethodPost, path: "/login", body: echo.Map{
		"email": "a@x.com", "password": "wrong-password",
	}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	wrongPassBody := rec.Body.String()

	rec = env.do(t, request{method: http.MethodPost, path: "/login", body: echo.Map{
		"email": "nobody@x.com", "password": "abc12345",
	}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, wrongPassBody, rec.Body.String())

	rec = env.do(t, request{method: http.MethodPost, path: "/login", body: echo.Map{
		"email": "a@x.com", "password": "abc12345",
	}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, cookieNamed(rec, "refreshToken"))
}

func TestMeEndpoint(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t)
	access, _ := env.register(t, "a@x.com", "abc12345")

	rec := env.do(t, request{method: http.MethodGet, path: "/me"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, request{method: http.MethodGet, path: "/me", bearer: access})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "a@x.com", body["email"])
	assert.Equal(t, "user", body["role"])
}

func TestRefreshEndpoint_RotationAndReplay(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t)
	_, refresh := env.register(t, "a@x.com", "abc12345")

	rec := env.do(t, request{method: http.MethodPost, path: "/refresh", cookies: []*http.Cookie{refresh}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rotated := cookieNamed(rec, "refreshToken")
	require.NotNil(t, rotated)
	assert.NotEqual(t, refresh.Value, rotated.Value)

	// Replaying the consumed cookie fails and clears the session cookies.
	rec = env.do(t, request{method: http.MethodPost, path: "/refresh", cookies: []*http.Cookie{refresh}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	cleared := cookieNamed(rec, "refreshToken")
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)

	rec = env.do(t, request{method: http.MethodPost, path: "/refresh", cookies: []*http.Cookie{rotated}})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRefreshEndpoint_MissingToken(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t)
	rec := env.do(t, request{method: http.MethodPost, path: "/refresh"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutEndpoint(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t)
	access, refresh := env.register(t, "a@x.com", "abc12345")

	rec := env.do(t, request{method: http.MethodPost, path: "/logout", bearer: access, cookies: []*http.Cookie{refresh}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The revoked session cannot refresh.
	rec = env.do(t, request{method: http.MethodPost, path: "/refresh", cookies: []*http.Cookie{refresh}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Logging out again finds no session.
	rec = env.do(t, request{method: http.MethodPost, path: "/logout", bearer: access, cookies: []*http.Cookie{refresh}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVerifyEmailEndpoint(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t)
	access, _ := env.register(t, "a@x.com", "abc12345")
	require.Len(t, env.mail.verifyTokens, 1)

	rec := env.do(t, request{method: http.MethodGet, path: "/verify-email?token=" + env.mail.verifyTokens[0]})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, request{method: http.MethodGet, path: "/me", bearer: access})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["is_email_verified"])

	// The emailed link is single use.
	rec = env.do(t, request{method: http.MethodGet, path: "/verify-email?token=" + env.mail.verifyTokens[0]})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPasswordResetEndpoints(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t)
	env.register(t, "a@x.com", "abc12345")

	// Identical answer for known and unknown addresses.
	rec := env.do(t, request{method: http.MethodPost, path: "/forgot-password", body: echo.Map{"email": "a@x.com"}})
	require.Equal(t, http.StatusOK, rec.Code)
	knownBody := rec.Body.String()

	rec = env.do(t, request{method: http.MethodPost, path: "/forgot-password", body: echo.Map{"email": "nobody@x.com"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, knownBody, rec.Body.String())
	require.Len(t, env.mail.resetTokens, 1)

	rec = env.do(t, request{method: http.MethodPost, path: "/reset-password", body: echo.Map{
		"token": env.mail.resetTokens[0], "password": "newpass123",
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, request{method: http.MethodPost, path: "/login", body: echo.Map{
		"email": "a@x.com", "password": "abc12345",
	}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, request{method: http.MethodPost, path: "/login", body: echo.Map{
		"email": "a@x.com", "password": "newpass123",
	}})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminRoutes_RequirePermission(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t)
	ctx := context.Background()

	userAccess, _ := env.register(t, "user@x.com", "abc12345")

	env.register(t, "admin@x.com", "abc12345")
	adminUser, err := env.rp.FindUserByEmail(ctx, "admin@x.com")
	require.NoError(t, err)
	_, err = env.rp.UpdateUserFields(ctx, adminUser.ID, map[string]any{"role": models.RoleAdmin})
	require.NoError(t, err)

	rec := env.do(t, request{method: http.MethodPost, path: "/login", body: echo.Map{
		"email": "admin@x.com", "password": "abc12345",
	}})
	require.Equal(t, http.StatusOK, rec.Code)
	adminAccess, _ := decodeBody(t, rec)["access"].(map[string]any)
	adminToken, _ := adminAccess["token"].(string)
	require.NotEmpty(t, adminToken)

	product := echo.Map{"name": "mug", "description": "a mug", "price": 500, "count": 10}

	rec = env.do(t, request{method: http.MethodPost, path: "/products", body: product, bearer: userAccess})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, request{method: http.MethodPost, path: "/products", body: product, bearer: adminToken})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, request{method: http.MethodGet, path: "/users", bearer: userAccess})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, request{method: http.MethodGet, path: "/users", bearer: adminToken})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDeactivatedUser_TokenRejected(t *testing.T) {
	t.Parallel()

	env := newServerEnv(t)
	ctx := context.Background()

	access, _ := env.register(t, "a@x.com", "abc12345")
	user, err := env.rp.FindUserByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	require.NoError(t, env.rp.SetActive(ctx, user.ID, false))

	rec := env.do(t, request{method: http.MethodGet, path: "/me", bearer: access})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
