package handler

import (
	"time"

	"github.com/bitfantasy/nimo-oms/internal/oms/entity"
	"github.com/bitfantasy/nimo-oms/internal/oms/repository"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type ProductHandler struct {
	repo *repository.ProductRepository
}

func NewProductHandler(repo *repository.ProductRepository) *ProductHandler {
	return &ProductHandler{repo: repo}
}

type CreateTemplateInput struct {
	Code           string `json:"code" binding:"required"`
	Name           string `json:"name" binding:"required"`
	IsConfigurable bool   `json:"is_configurable"`
}

// CreateTemplate POST /product-templates
func (h *ProductHandler) CreateTemplate(c *gin.Context) {
	var input CreateTemplateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}

	tmpl := &entity.ProductTemplate{
		ID:             uuid.New().String()[:32],
		Code:           input.Code,
		Name:           input.Name,
		IsConfigurable: input.IsConfigurable,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := h.repo.CreateTemplate(c.Request.Context(), tmpl); err != nil {
		InternalError(c, err.Error())
		return
	}

	Created(c, tmpl)
}

type CreateProductInput struct {
	TemplateID   string  `json:"template_id" binding:"required"`
	Code         string  `json:"code" binding:"required"`
	Name         string  `json:"name" binding:"required"`
	StandardCost float64 `json:"standard_cost" binding:"gte=0"`
	Unit         string  `json:"unit"`
}

// CreateProduct POST /products
func (h *ProductHandler) CreateProduct(c *gin.Context) {
	var input CreateProductInput
	if err := c.ShouldBindJSON(&input); err != nil {
		BadRequest(c, "Invalid request: "+err.Error())
		return
	}

	tmpl, err := h.repo.FindTemplateByID(c.Request.Context(), input.TemplateID)
	if err != nil {
		RespondError(c, err)
		return
	}

	product := &entity.Product{
		ID:             uuid.New().String()[:32],
		TemplateID:     tmpl.ID,
		Code:           input.Code,
		Name:           input.Name,
		IsConfigurable: tmpl.IsConfigurable,
		StandardCost:   input.StandardCost,
		Unit:           input.Unit,
		Status:         entity.ProductStatusActive,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if product.Unit == "" {
		product.Unit = "pcs"
	}
	if err := h.repo.Create(c.Request.Context(), product); err != nil {
		InternalError(c, err.Error())
		return
	}

	Created(c, product)
}

// GetProduct GET /products/:id
func (h *ProductHandler) GetProduct(c *gin.Context) {
	product, err := h.repo.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		RespondError(c, err)
		return
	}
	Success(c, product)
}
