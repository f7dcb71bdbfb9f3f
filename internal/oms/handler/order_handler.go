package handler

import (
	"github.com/bitfantasy/nimo-oms/internal/oms/repository"
	"github.com/bitfantasy/nimo-oms/internal/oms/service"
	"github.com/gin-gonic/gin"
)

type OrderHandler struct {
	svc *service.OrderService
}

func NewOrderHandler(svc *service.OrderService) *OrderHandler {
	return &OrderHandler{svc: svc}
}

// CreateOrder POST /orders
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var input service.CreateOrderInput
	if err := c.ShouldBindJSON(&input); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}

	order, err := h.svc.CreateOrder(c.Request.Context(), &input, GetUserID(c))
	if err != nil {
		RespondError(c, err)
		return
	}

	Created(c, order)
}

// ListOrders GET /orders
func (h *OrderHandler) ListOrders(c *gin.Context) {
	page, pageSize := GetPagination(c)
	params := repository.OrderListParams{
		State:    c.Query("state"),
		Customer: c.Query("customer"),
		Page:     page,
		Size:     pageSize,
	}

	orders, total, err := h.svc.ListOrders(c.Request.Context(), params)
	if err != nil {
		InternalError(c, err.Error())
		return
	}

	Success(c, ListResponse{
		Items: orders,
		Pagination: &Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      int(total),
			TotalPages: (int(total) + pageSize - 1) / pageSize,
		},
	})
}

// GetOrder GET /orders/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	order, err := h.svc.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, order)
}

// MarkSent POST /orders/:id/send
func (h *OrderHandler) MarkSent(c *gin.Context) {
	order, err := h.svc.MarkSent(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, order)
}

// Approve POST /orders/:id/approve
func (h *OrderHandler) Approve(c *gin.Context) {
	order, err := h.svc.Approve(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, order)
}

// Commit POST /orders/:id/commit
func (h *OrderHandler) Commit(c *gin.Context) {
	order, shipment, err := h.svc.Commit(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, gin.H{
		"order":    order,
		"shipment": shipment,
	})
}

// Cancel POST /orders/:id/cancel
func (h *OrderHandler) Cancel(c *gin.Context) {
	order, err := h.svc.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, order)
}

// BeginCustomization POST /orders/:id/lines/:lineId/customize
func (h *OrderHandler) BeginCustomization(c *gin.Context) {
	order, err := h.svc.BeginCustomization(c.Request.Context(), c.Param("lineId"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, order)
}

// AttachOverride POST /orders/:id/lines/:lineId/override
func (h *OrderHandler) AttachOverride(c *gin.Context) {
	var input service.AttachOverrideInput
	if err := c.ShouldBindJSON(&input); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}

	spec, report, err := h.svc.AttachOverride(c.Request.Context(), c.Param("lineId"), &input, GetUserID(c))
	if err != nil {
		RespondError(c, err)
		return
	}

	Created(c, gin.H{
		"spec":      spec,
		"reconcile": report,
	})
}

// AcceptBase POST /orders/:id/lines/:lineId/accept-base
func (h *OrderHandler) AcceptBase(c *gin.Context) {
	line, err := h.svc.AcceptBase(c.Request.Context(), c.Param("lineId"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, line)
}

// CustomizeAllowed GET /orders/:id/lines/:lineId/customize-allowed
//
// 定制入口可见性：产品可配置且订单状态允许时为真。
func (h *OrderHandler) CustomizeAllowed(c *gin.Context) {
	order, err := h.svc.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	lineID := c.Param("lineId")
	for i := range order.Lines {
		if order.Lines[i].ID == lineID {
			Success(c, gin.H{"allowed": h.svc.CanCustomize(order, &order.Lines[i])})
			return
		}
	}
	NotFound(c, "订单行不存在")
}

// ReconcileLine POST /orders/:id/lines/:lineId/reconcile
//
// 手工触发履约重算。不指定 spec_id 时按当前解析结果重算。
func (h *OrderHandler) ReconcileLine(c *gin.Context) {
	var input struct {
		SpecID string `json:"spec_id"`
	}
	c.ShouldBindJSON(&input)

	report := h.svc.ReconcileLine(c.Request.Context(), c.Param("lineId"), input.SpecID)
	Success(c, report)
}

// ResolveLine GET /orders/:id/lines/:lineId/spec
func (h *OrderHandler) ResolveLine(c *gin.Context) {
	spec, err := h.svc.ResolveLine(c.Request.Context(), c.Param("lineId"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, spec)
}
