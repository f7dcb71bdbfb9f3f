package handler

import (
	"errors"
	"strconv"

	"github.com/bitfantasy/nimo-oms/internal/oms/repository"
	"github.com/bitfantasy/nimo-oms/internal/oms/service"
	"github.com/gin-gonic/gin"
)

// Handlers 处理器集合
type Handlers struct {
	Product     *ProductHandler
	Spec        *SpecHandler
	Order       *OrderHandler
	Fulfillment *FulfillmentHandler
}

// NewHandlers 创建处理器集合
func NewHandlers(svc *service.Services, repos *repository.Repositories) *Handlers {
	return &Handlers{
		Product:     NewProductHandler(repos.Product),
		Spec:        NewSpecHandler(svc.Registry, svc.Reconcile),
		Order:       NewOrderHandler(svc.Order),
		Fulfillment: NewFulfillmentHandler(repos.Fulfillment, svc.Merge),
	}
}

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ListResponse 列表响应结构
type ListResponse struct {
	Items      interface{} `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

// Pagination 分页信息
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Created 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, code int, message string) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
	})
}

// BadRequest 参数错误响应
func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

// Unauthorized 未授权响应
func Unauthorized(c *gin.Context, message string) {
	Error(c, 40100, message)
}

// NotFound 资源不存在响应
func NotFound(c *gin.Context, message string) {
	Error(c, 40400, message)
}

// Conflict 冲突响应
func Conflict(c *gin.Context, message string) {
	Error(c, 40900, message)
}

// InternalError 服务器错误响应
func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

// RespondError 按错误类型映射响应
//
// 冲突/状态/循环引用错误是可操作的业务错误，带明确语义状态码；
// 其余落到 404 或 500。
func RespondError(c *gin.Context, err error) {
	var conflict *service.ConflictError
	var state *service.StateError
	var cyclic *service.CyclicSpecificationError
	switch {
	case errors.As(err, &conflict):
		Conflict(c, conflict.Error())
	case errors.As(err, &state):
		Conflict(c, state.Error())
	case errors.As(err, &cyclic):
		Error(c, 42200, cyclic.Error())
	case errors.Is(err, repository.ErrNotFound):
		NotFound(c, err.Error())
	default:
		InternalError(c, err.Error())
	}
}

// GetUserID 从上下文获取用户ID
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

// GetPagination 从请求获取分页参数
func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}

	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}

	return page, pageSize
}
