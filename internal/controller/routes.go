package controller

import (
	"log/slog"

	"floor-dispatch-service/internal/middleware"

	"github.com/gin-gonic/gin"
)

// NewRouter wires every route of the floor API.
func NewRouter(ctl *FloorController, auth middleware.TokenValidator, log *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))

	r.GET("/healthz", ctl.Health)

	authed := r.Group("/")
	authed.Use(middleware.AuthMiddleware(auth, log))

	authed.POST("/shift/start", ctl.StartShift)
	authed.POST("/shift/end", ctl.EndShift)
	authed.GET("/shift", ctl.GetShift)
	authed.GET("/assignments", ctl.GetAssignments)

	authed.POST("/orders", ctl.PlaceOrder)
	authed.POST("/orders/:orderId/items", ctl.AppendItems)
	authed.PUT("/orders/:orderId/items", ctl.EditItems)
	authed.POST("/orders/:orderId/claim", ctl.ClaimOrder)
	authed.POST("/orders/:orderId/reject", ctl.RejectOrder)
	authed.POST("/orders/:orderId/ack", ctl.AcknowledgeItems)
	authed.PATCH("/orders/:orderId/status", ctl.UpdateStatus)

	admin := authed.Group("/admin")
	admin.Use(middleware.AdminOnly())
	admin.GET("/orders/:orderId/history", ctl.GetOrderHistory)
	admin.GET("/history", ctl.GetHistory)

	return r
}
