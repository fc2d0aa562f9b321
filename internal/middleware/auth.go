package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/nstepanenko/webstore/internal/models"
	"github.com/nstepanenko/webstore/internal/repo"
	"github.com/nstepanenko/webstore/internal/roles"
	"github.com/nstepanenko/webstore/pkg/tokens"
)

type Auth struct {
	Repo      *repo.GormRepo
	JWTSecret []byte
}

func NewAuth(r *repo.GormRepo, secret []byte) *Auth {
	return &Auth{Repo: r, JWTSecret: secret}
}

func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if cookie, err := c.Cookie("accessToken"); err == nil {
		return cookie.Value
	}
	return ""
}

// RequireAuth verifies the access token signature, then re-resolves the user
// from the store on every request so a deactivation or password change after
// issuance is observed: the token is rejected when the user is inactive or
// password_changed_at is newer than the token's iat claim.
func (m *Auth) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		tokenStr := bearerToken(c)
		if tokenStr == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing access token")
		}

		claims, err := tokens.AccessClaimsFromToken(tokenStr, m.JWTSecret)
		if err != nil || claims == nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
		}

		userID, err := uuid.Parse(claims.Subject)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
		}

		user, err := m.Repo.FindUserByID(c.Request().Context(), userID)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
		}
		if !user.Active {
			return echo.NewHTTPError(http.StatusUnauthorized, "account deactivated")
		}
		if claims.IssuedAt != nil &&
			user.PasswordChangedAt.Truncate(time.Second).After(claims.IssuedAt.Time) {
			return echo.NewHTTPError(http.StatusUnauthorized, "token issued before password change")
		}

		c.Set("user", user)
		c.Set("user_id", user.ID.String())
		c.Set("role", user.Role)
		return next(c)
	}
}

// RequirePermission checks the caller's role against the immutable
// role-permission table. Runs after RequireAuth.
func (m *Auth) RequirePermission(perm string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			role, _ := c.Get("role").(string)
			if !roles.Allowed(role, perm) {
				return echo.NewHTTPError(http.StatusForbidden, "insufficient permissions")
			}
			return next(c)
		}
	}
}

var errNoUser = errors.New("no authenticated user in context")

func CurrentUser(c echo.Context) (*models.User, error) {
	user, ok := c.Get("user").(*models.User)
	if !ok || user == nil {
		return nil, errNoUser
	}
	return user, nil
}

func UserID(c echo.Context) (uuid.UUID, error) {
	s, ok := c.Get("user_id").(string)
	if !ok || s == "" {
		return uuid.Nil, errNoUser
	}
	return uuid.Parse(s)
}
