package httpserver

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/nstepanenko/webstore/internal/middleware"
	"github.com/nstepanenko/webstore/internal/roles"
	"github.com/nstepanenko/webstore/internal/service"
	"github.com/nstepanenko/webstore/internal/transport"
	"github.com/nstepanenko/webstore/internal/util"
	"github.com/nstepanenko/webstore/pkg/logging"
)

type OrderHTTP struct {
	Svc *service.OrderService
}

func (h *OrderHTTP) CreateOrder(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "order_create")

	userID, err := middleware.UserID(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing access token")
	}

	var req transport.CreateOrderRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("create_order_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	order, err := h.Svc.CreateOrder(ctx, userID, req)
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusCreated, order)
}

func (h *OrderHTTP) GetOrder(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "order_get")

	userID, err := middleware.UserID(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing access token")
	}
	role, _ := c.Get("role").(string)

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		l.Warn("get_order_error", "status", 400, "reason", "id not a uuid", "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "id not a uuid")
	}

	order, err := h.Svc.GetOrder(ctx, id, userID, role)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, order)
}

// ListOrders returns the caller's own orders; with orders:manage it returns
// every order.
func (h *OrderHTTP) ListOrders(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "order_list")

	userID, err := middleware.UserID(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing access token")
	}
	role, _ := c.Get("role").(string)

	page := util.ParseIntDefault(c.QueryParam("page"), 1)
	size := util.ParseIntDefault(c.QueryParam("size"), util.DefaultPageSize)
	offset, limit := util.Calculate(page, size)

	if roles.Allowed(role, roles.PermOrdersManage) && c.QueryParam("all") == "true" {
		total, orders, err := h.Svc.ListAllOrders(ctx, offset, limit)
		if err != nil {
			l.Error("list_orders_error", "status", 500, "error", err)
			return toHTTPError(err)
		}
		return c.JSON(http.StatusOK, echo.Map{
			"data": orders,
			"meta": pageMeta(page, limit, offset, total),
		})
	}

	orders, err := h.Svc.ListOwnOrders(ctx, userID, offset, limit)
	if err != nil {
		l.Error("list_orders_error", "status", 500, "error", err)
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"data": orders})
}

func (h *OrderHTTP) UpdateOrderStatus(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "order_update_status")

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		l.Warn("update_order_status_error", "status", 400, "reason", "id not a uuid", "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "id not a uuid")
	}

	var req transport.UpdateOrderStatusRequest
	if err := c.Bind(&req); err != nil {
		l.Warn("update_order_status_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	order, err := h.Svc.UpdateStatus(ctx, id, req.Status)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, order)
}
