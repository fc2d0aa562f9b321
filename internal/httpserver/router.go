package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/nstepanenko/webstore/internal/middleware"
	"github.com/nstepanenko/webstore/internal/roles"
)

type Deps struct {
	Auth    *AuthHTTP
	Users   *UserHTTP
	Catalog *CatalogHTTP
	Orders  *OrderHTTP
	AuthMW  *middleware.Auth
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	e.POST("/register", d.Auth.Register)
	e.POST("/login", d.Auth.Login)
	e.POST("/refresh", d.Auth.Refresh)
	e.POST("/forgot-password", d.Auth.ForgotPassword)
	e.POST("/reset-password", d.Auth.ResetPassword)
	// POST for API clients, GET for the emailed link.
	e.POST("/verify-email", d.Auth.VerifyEmail)
	e.GET("/verify-email", d.Auth.VerifyEmail)

	e.GET("/products", d.Catalog.GetProducts)
	e.GET("/products/search", d.Catalog.SearchProducts)
	e.GET("/products/:id", d.Catalog.GetProduct)

	private := e.Group("")
	private.Use(d.AuthMW.RequireAuth)

	private.POST("/logout", d.Auth.LogOut)
	private.POST("/change-password", d.Auth.ChangePassword)
	private.GET("/me", d.Users.Me)
	private.PATCH("/me", d.Users.UpdateMe)

	private.POST("/orders", d.Orders.CreateOrder)
	private.GET("/orders", d.Orders.ListOrders)
	private.GET("/orders/:id", d.Orders.GetOrder)

	usersAdmin := private.Group("/users", d.AuthMW.RequirePermission(roles.PermUsersManage))
	usersAdmin.GET("", d.Users.ListUsers)
	usersAdmin.GET("/:id", d.Users.GetUser)
	usersAdmin.PATCH("/:id", d.Users.UpdateUser)
	usersAdmin.DELETE("/:id", d.Users.DeleteUser)

	productsAdmin := private.Group("/products", d.AuthMW.RequirePermission(roles.PermProductsManage))
	productsAdmin.POST("", d.Catalog.CreateProduct)
	productsAdmin.PATCH("/:id", d.Catalog.PatchProduct)
	productsAdmin.DELETE("/:id", d.Catalog.DeleteProduct)

	ordersAdmin := private.Group("/orders", d.AuthMW.RequirePermission(roles.PermOrdersManage))
	ordersAdmin.PATCH("/:id/status", d.Orders.UpdateOrderStatus)
}
