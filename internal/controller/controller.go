package controller

import (
	"errors"
	"log/slog"
	"net/http"

	"floor-dispatch-service/internal/dto"
	"floor-dispatch-service/internal/middleware"
	"floor-dispatch-service/internal/model"
	"floor-dispatch-service/internal/service"

	"github.com/gin-gonic/gin"
)

type FloorController struct {
	Floor *service.FloorService
	log   *slog.Logger
}

func NewFloorController(f *service.FloorService, log *slog.Logger) *FloorController {
	return &FloorController{Floor: f, log: log}
}

// GET /healthz
func (ctl *FloorController) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// POST /shift/start
func (ctl *FloorController) StartShift(c *gin.Context) {
	info, err := ctl.Floor.StartShift(c.Request.Context(), middleware.CurrentWorker(c))
	if err != nil {
		ctl.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// POST /shift/end
func (ctl *FloorController) EndShift(c *gin.Context) {
	ended := ctl.Floor.EndShift(middleware.CurrentWorker(c).ID)
	c.JSON(http.StatusOK, gin.H{"ended": ended})
}

// GET /shift
func (ctl *FloorController) GetShift(c *gin.Context) {
	info, ok := ctl.Floor.Shift(middleware.CurrentWorker(c).ID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no shift running"})
		return
	}
	c.JSON(http.StatusOK, info)
}

// GET /assignments
func (ctl *FloorController) GetAssignments(c *gin.Context) {
	view, err := ctl.Floor.GetAssignmentView(c.Request.Context(), middleware.CurrentWorker(c))
	if err != nil {
		ctl.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// POST /orders
func (ctl *FloorController) PlaceOrder(c *gin.Context) {
	var req dto.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	o, err := ctl.Floor.PlaceOrder(c.Request.Context(), req.Seat.ToModel(), dto.ItemsToModel(req.Items), middleware.CurrentWorker(c))
	ctl.respondOrder(c, http.StatusCreated, o, err)
}

// POST /orders/:orderId/items
func (ctl *FloorController) AppendItems(c *gin.Context) {
	var req dto.AppendItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	o, err := ctl.Floor.AppendItems(c.Request.Context(), c.Param("orderId"), middleware.CurrentWorker(c), dto.ItemsToModel(req.Items))
	ctl.respondOrder(c, http.StatusOK, o, err)
}

// POST /orders/:orderId/claim
func (ctl *FloorController) ClaimOrder(c *gin.Context) {
	o, err := ctl.Floor.ClaimOrder(c.Request.Context(), c.Param("orderId"), middleware.CurrentWorker(c))
	ctl.respondOrder(c, http.StatusOK, o, err)
}

// POST /orders/:orderId/reject
func (ctl *FloorController) RejectOrder(c *gin.Context) {
	o, err := ctl.Floor.RejectOrder(c.Request.Context(), c.Param("orderId"), middleware.CurrentWorker(c))
	ctl.respondOrder(c, http.StatusOK, o, err)
}

// PATCH /orders/:orderId/status
func (ctl *FloorController) UpdateStatus(c *gin.Context) {
	var req dto.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	o, err := ctl.Floor.AdvanceOrderStatus(c.Request.Context(), c.Param("orderId"), middleware.CurrentWorker(c), model.Status(req.Status))
	ctl.respondOrder(c, http.StatusOK, o, err)
}

// PUT /orders/:orderId/items
func (ctl *FloorController) EditItems(c *gin.Context) {
	var req dto.EditItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	o, err := ctl.Floor.SubmitOrderEdit(c.Request.Context(), c.Param("orderId"), middleware.CurrentWorker(c), dto.ItemsToModel(req.Items))
	ctl.respondOrder(c, http.StatusOK, o, err)
}

// POST /orders/:orderId/ack
func (ctl *FloorController) AcknowledgeItems(c *gin.Context) {
	o, err := ctl.Floor.AcknowledgeNewItems(c.Request.Context(), c.Param("orderId"), middleware.CurrentWorker(c))
	ctl.respondOrder(c, http.StatusOK, o, err)
}

// GET /admin/orders/:orderId/history
func (ctl *FloorController) GetOrderHistory(c *gin.Context) {
	recs, err := ctl.Floor.GetOrderHistory(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		ctl.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orderId": c.Param("orderId"), "records": recs})
}

// GET /admin/history
func (ctl *FloorController) GetHistory(c *gin.Context) {
	hist, err := ctl.Floor.GetHistoryByOrder(c.Request.Context())
	if err != nil {
		ctl.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, hist)
}

// respondOrder writes the outcome of a state-changing call. Losing a claim
// race is a normal outcome, not an error. A missing audit record is logged
// and published for admins; the worker still gets the new state.
func (ctl *FloorController) respondOrder(c *gin.Context, code int, o *model.Order, err error) {
	switch {
	case err == nil:
		c.JSON(code, o)
	case errors.Is(err, service.ErrAlreadyClaimed):
		c.JSON(http.StatusOK, gin.H{"outcome": service.ErrAlreadyClaimed.Error(), "order": o})
	case errors.Is(err, service.ErrStoreUnavailable):
		ctl.respondError(c, err)
	case errors.Is(err, service.ErrAuditWriteFailed) && o != nil:
		c.JSON(code, o)
	default:
		ctl.respondError(c, err)
	}
}

func (ctl *FloorController) respondError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrOrderNotFound):
		code = http.StatusNotFound
	case errors.Is(err, service.ErrForbidden), errors.Is(err, service.ErrRejectedByYou):
		code = http.StatusForbidden
	case errors.Is(err, service.ErrInvalidItems), errors.Is(err, service.ErrInvalidSeat):
		code = http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidTransition):
		code = http.StatusConflict
	case errors.Is(err, service.ErrStoreUnavailable), errors.Is(err, service.ErrConflict):
		code = http.StatusServiceUnavailable
	}
	if code >= http.StatusInternalServerError {
		ctl.log.Error("request failed", "action", "request_failed",
			"request_id", middleware.RequestID(c), "path", c.FullPath(), "error", err)
	}
	body := gin.H{"error": err.Error()}
	if code == http.StatusServiceUnavailable {
		body["retry"] = true
	}
	c.JSON(code, body)
}
