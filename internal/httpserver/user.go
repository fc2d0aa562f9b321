package httpserver

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/nstepanenko/webstore/internal/middleware"
	"github.com/nstepanenko/webstore/internal/service"
	"github.com/nstepanenko/webstore/internal/transport"
	"github.com/nstepanenko/webstore/internal/util"
	"github.com/nstepanenko/webstore/pkg/logging"
)

type UserHTTP struct {
	Svc *service.UserService
}

func (h *UserHTTP) Me(c echo.Context) error {
	user, err := middleware.CurrentUser(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing access token")
	}
	return c.JSON(http.StatusOK, user)
}

func (h *UserHTTP) UpdateMe(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "user_update_me")

	userID, err := middleware.UserID(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing access token")
	}

	var req transport.UpdateProfileRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("update_me_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	user, err := h.Svc.UpdateProfile(ctx, userID, req)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, user)
}

func (h *UserHTTP) ListUsers(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "user_list")

	page := util.ParseIntDefault(c.QueryParam("page"), 1)
	size := util.ParseIntDefault(c.QueryParam("size"), util.DefaultPageSize)
	offset, limit := util.Calculate(page, size)

	total, users, err := h.Svc.ListUsers(ctx, offset, limit)
	if err != nil {
		l.Error("user_list_error", "status", 500, "error", err)
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"data": users,
		"meta": pageMeta(page, limit, offset, total),
	})
}

func (h *UserHTTP) GetUser(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "user_get")

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		l.Warn("user_get_error", "status", 400, "reason", "id not a uuid", "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "id not a uuid")
	}

	user, err := h.Svc.GetUser(ctx, id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, user)
}

func (h *UserHTTP) UpdateUser(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "user_update")

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		l.Warn("user_update_error", "status", 400, "reason", "id not a uuid", "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "id not a uuid")
	}

	var req transport.AdminUpdateUserRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("user_update_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	user, err := h.Svc.AdminUpdateUser(ctx, id, req)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, user)
}

func (h *UserHTTP) DeleteUser(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "user_delete")

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		l.Warn("user_delete_error", "status", 400, "reason", "id not a uuid", "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "id not a uuid")
	}

	if err := h.Svc.DeleteUser(ctx, id); err != nil {
		return toHTTPError(err)
	}

	l.Info("user_delete_success", "user_id", id)
	return c.NoContent(http.StatusNoContent)
}

func pageMeta(page, limit, offset int, total int64) echo.Map {
	return echo.Map{
		"page":        page,
		"size":        limit,
		"total":       total,
		"total_pages": (total + int64(limit) - 1) / int64(limit),
		"has_prev":    page > 1,
		"has_next":    int64(offset+limit) < total,
	}
}
