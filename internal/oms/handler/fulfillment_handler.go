package handler

import (
	"github.com/bitfantasy/nimo-oms/internal/oms/repository"
	"github.com/bitfantasy/nimo-oms/internal/oms/service"
	"github.com/gin-gonic/gin"
)

type FulfillmentHandler struct {
	repo  *repository.FulfillmentRepository
	merge *service.MergeService
}

func NewFulfillmentHandler(repo *repository.FulfillmentRepository, merge *service.MergeService) *FulfillmentHandler {
	return &FulfillmentHandler{repo: repo, merge: merge}
}

// GetShipment GET /shipments/:id
func (h *FulfillmentHandler) GetShipment(c *gin.Context) {
	shipment, err := h.repo.FindShipmentByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, shipment)
}

// ListOrderShipments GET /orders/:id/shipments
func (h *FulfillmentHandler) ListOrderShipments(c *gin.Context) {
	shipments, err := h.repo.ListShipmentsByOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	Success(c, shipments)
}

// MergeDuplicates POST /shipments/:id/merge-duplicates
func (h *FulfillmentHandler) MergeDuplicates(c *gin.Context) {
	report, err := h.merge.MergeDuplicates(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, report)
}
