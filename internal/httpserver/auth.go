package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nstepanenko/webstore/internal/middleware"
	"github.com/nstepanenko/webstore/internal/service"
	"github.com/nstepanenko/webstore/internal/transport"
	"github.com/nstepanenko/webstore/pkg/logging"
)

type AuthHTTP struct {
	Svc          *service.AuthService
	CookieSecure bool
}

// setSessionCookies places the refresh token into an httpOnly cookie; the
// JSON body only ever carries the access token.
func (h *AuthHTTP) setSessionCookies(c echo.Context, pair *service.TokenPair) {
	c.SetCookie(CreateCookie("accessToken", pair.AccessToken, "/", pair.AccessExp, h.CookieSecure))
	c.SetCookie(CreateCookie("refreshToken", pair.RefreshToken, "/", pair.RefreshExp, h.CookieSecure))
}

func (h *AuthHTTP) clearSessionCookies(c echo.Context) {
	c.SetCookie(DeleteCookie("accessToken", "/", h.CookieSecure))
	c.SetCookie(DeleteCookie("refreshToken", "/", h.CookieSecure))
}

func (h *AuthHTTP) Register(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_register")

	var req transport.RegisterRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("register_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	if _, err := h.Svc.Register(ctx, req.Email, req.Name, req.Password); err != nil {
		return toHTTPError(err)
	}

	user, pair, err := h.Svc.Login(ctx, req.Email, req.Password)
	if err != nil {
		return toHTTPError(err)
	}

	h.setSessionCookies(c, pair)
	l.Info("register_successful", "user_id", user.ID)
	return c.JSON(http.StatusCreated, echo.Map{
		"user":   user,
		"access": transport.TokenEnvelope{Token: pair.AccessToken, Expires: pair.AccessExp},
	})
}

func (h *AuthHTTP) Login(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_login")

	var req transport.LoginRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("login_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	user, pair, err := h.Svc.Login(ctx, req.Email, req.Password)
	if err != nil {
		return toHTTPError(err)
	}

	h.setSessionCookies(c, pair)
	return c.JSON(http.StatusOK, echo.Map{
		"user":   user,
		"access": transport.TokenEnvelope{Token: pair.AccessToken, Expires: pair.AccessExp},
	})
}

// refreshTokenFromRequest reads the body field first, then the cookie.
func refreshTokenFromRequest(c echo.Context) string {
	var req transport.RefreshRequest
	if err := c.Bind(&req); err == nil && req.RefreshToken != "" {
		return req.RefreshToken
	}
	if cookie, err := c.Cookie("refreshToken"); err == nil {
		return cookie.Value
	}
	return ""
}

func (h *AuthHTTP) Refresh(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_refresh")

	refreshToken := refreshTokenFromRequest(c)
	if refreshToken == "" {
		l.Warn("refresh_error", "status", 401, "reason", "refresh token missing")
		return echo.NewHTTPError(http.StatusUnauthorized, "refresh token missing")
	}

	pair, err := h.Svc.Refresh(ctx, refreshToken)
	if err != nil {
		h.clearSessionCookies(c)
		return toHTTPError(err)
	}

	h.setSessionCookies(c, pair)
	return c.JSON(http.StatusOK, echo.Map{
		"access": transport.TokenEnvelope{Token: pair.AccessToken, Expires: pair.AccessExp},
	})
}

func (h *AuthHTTP) LogOut(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_logout")

	refreshToken := refreshTokenFromRequest(c)
	h.clearSessionCookies(c)

	if refreshToken == "" {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if err := h.Svc.LogOut(ctx, refreshToken); err != nil {
		return toHTTPError(err)
	}

	l.Info("logout_successful")
	return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
}

func (h *AuthHTTP) ForgotPassword(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_forgot_password")

	var req transport.ForgotPasswordRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("forgot_password_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	if err := h.Svc.ForgotPassword(ctx, req.Email); err != nil {
		return toHTTPError(err)
	}

	// Same response whether or not the email exists.
	return c.JSON(http.StatusOK, echo.Map{"message": "if the email is registered, a reset link has been sent"})
}

func (h *AuthHTTP) ResetPassword(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_reset_password")

	var req transport.ResetPasswordRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("reset_password_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	if err := h.Svc.ResetPassword(ctx, req.Token, req.Password); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "password has been reset"})
}

func (h *AuthHTTP) VerifyEmail(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_verify_email")

	token := c.QueryParam("token")
	if token == "" {
		var req transport.VerifyEmailRequest
		if err := c.Bind(&req); err != nil {
			l.Warn("verify_email_error", "status", 400, "error", err)
			return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
		}
		token = req.Token
	}

	if err := h.Svc.VerifyEmail(ctx, token); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "email verified"})
}

func (h *AuthHTTP) ChangePassword(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_change_password")

	userID, err := middleware.UserID(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing access token")
	}

	var req transport.ChangePasswordRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("change_password_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	if err := h.Svc.ChangePassword(ctx, userID, req.CurrentPassword, req.NewPassword); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "password changed"})
}
