package handler

import (
	"fmt"
	"net/http"

	"github.com/bitfantasy/nimo-oms/internal/oms/repository"
	"github.com/bitfantasy/nimo-oms/internal/oms/service"
	"github.com/gin-gonic/gin"
)

type SpecHandler struct {
	registry  *service.RegistryService
	reconcile *service.ReconcileService
}

func NewSpecHandler(registry *service.RegistryService, reconcile *service.ReconcileService) *SpecHandler {
	return &SpecHandler{registry: registry, reconcile: reconcile}
}

// CreateSpec POST /specs
func (h *SpecHandler) CreateSpec(c *gin.Context) {
	var input service.CreateSpecInput
	if err := c.ShouldBindJSON(&input); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}

	spec, err := h.registry.CreateSpec(c.Request.Context(), &input, GetUserID(c))
	if err != nil {
		RespondError(c, err)
		return
	}

	Created(c, spec)
}

// ListSpecs GET /specs
func (h *SpecHandler) ListSpecs(c *gin.Context) {
	page, pageSize := GetPagination(c)
	params := repository.SpecListParams{
		ProductTemplateID: c.Query("template_id"),
		ProductID:         c.Query("product_id"),
		Kind:              c.Query("kind"),
		BaseOnly:          c.Query("base_only") == "true",
		OverrideOnly:      c.Query("override_only") == "true",
		Page:              page,
		Size:              pageSize,
	}

	specs, total, err := h.registry.ListSpecs(c.Request.Context(), params)
	if err != nil {
		InternalError(c, err.Error())
		return
	}

	Success(c, ListResponse{
		Items: specs,
		Pagination: &Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      int(total),
			TotalPages: (int(total) + pageSize - 1) / pageSize,
		},
	})
}

// GetSpec GET /specs/:id
func (h *SpecHandler) GetSpec(c *gin.Context) {
	spec, err := h.registry.GetSpec(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, spec)
}

// SetBase POST /specs/:id/set-base
//
// 替换语义：作用域内已有基础规格时先降级再提升。
func (h *SpecHandler) SetBase(c *gin.Context) {
	spec, err := h.registry.SetBase(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, spec)
}

// MarkBase POST /specs/:id/mark-base
//
// 严格语义：作用域内已有基础规格时返回冲突。
func (h *SpecHandler) MarkBase(c *gin.Context) {
	spec, err := h.registry.MarkBase(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, spec)
}

// UnmarkBase POST /specs/:id/unmark-base
func (h *SpecHandler) UnmarkBase(c *gin.Context) {
	spec, err := h.registry.UnmarkBase(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, spec)
}

// FindBase GET /specs/base?product_id=&template_id=
func (h *SpecHandler) FindBase(c *gin.Context) {
	productID := c.Query("product_id")
	templateID := c.Query("template_id")
	if productID == "" && templateID == "" {
		BadRequest(c, "product_id 或 template_id 至少提供一个")
		return
	}

	spec, err := h.registry.FindBase(c.Request.Context(), productID, templateID)
	if err != nil {
		RespondError(c, err)
		return
	}
	// 未配置不是错误，data 为空
	Success(c, spec)
}

// EnsureBase POST /specs/ensure-base
func (h *SpecHandler) EnsureBase(c *gin.Context) {
	var input struct {
		TemplateID string `json:"template_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}

	spec, err := h.registry.EnsureBaseExists(c.Request.Context(), input.TemplateID)
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, spec)
}

// ExportSpec GET /specs/:id/export
func (h *SpecHandler) ExportSpec(c *gin.Context) {
	f, filename, err := h.registry.ExportSpec(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	if err := f.Write(c.Writer); err != nil {
		c.Status(http.StatusInternalServerError)
	}
}

// ValidateIntegrity GET /integrity/validate
func (h *SpecHandler) ValidateIntegrity(c *gin.Context) {
	findings, err := h.reconcile.ValidateIntegrity(c.Request.Context())
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	Success(c, gin.H{
		"healthy":  len(findings) == 0,
		"findings": findings,
	})
}

// RepairIntegrity POST /integrity/repair
func (h *SpecHandler) RepairIntegrity(c *gin.Context) {
	repaired, err := h.reconcile.RepairDuplicateBases(c.Request.Context())
	if err != nil {
		InternalError(c, err.Error())
		return
	}
	Success(c, gin.H{"demoted": repaired})
}
