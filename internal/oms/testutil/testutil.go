package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-oms/internal/middleware"
	"github.com/bitfantasy/nimo-oms/internal/oms/entity"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const JWTSecret = "nimo-oms-jwt-secret-key-2024"

// SetupTestDB 创建隔离的内存sqlite测试库并完成迁移
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get database instance: %v", err)
	}
	// 共享内存库在最后一个连接关闭时销毁，固定单连接最稳妥
	sqlDB.SetMaxOpenConns(1)

	if err := entity.AutoMigrate(db); err != nil {
		t.Fatalf("Failed to migrate test tables: %v", err)
	}

	t.Cleanup(func() {
		sqlDB.Close()
	})

	return db
}

// SetupRouter 创建测试用gin路由
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	return r
}

// AuthGroup 创建带JWT认证的测试路由分组
func AuthGroup(r *gin.Engine, path string) *gin.RouterGroup {
	return r.Group(path, middleware.JWTAuth(JWTSecret))
}

// GenerateTestToken 生成测试JWT
func GenerateTestToken(userID, name, email string) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   userID,
		"uid":   userID,
		"name":  name,
		"email": email,
		"iss":   "nimo-oms",
		"iat":   now.Unix(),
		"exp":   now.Add(24 * time.Hour).Unix(),
		"jti":   fmt.Sprintf("test-jti-%d", now.UnixNano()),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte(JWTSecret))
	return tokenString
}

// DefaultTestToken 默认测试用户token
func DefaultTestToken() string {
	return GenerateTestToken("test-user-001", "Test Admin", "admin@test.com")
}

// DoRequest 对测试路由发起HTTP请求
func DoRequest(r *gin.Engine, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ParseResponse 解析JSON响应体
func ParseResponse(w *httptest.ResponseRecorder) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &result)
	return result
}

// SeedTemplate 创建测试产品模板
func SeedTemplate(t *testing.T, db *gorm.DB, name string, configurable bool) *entity.ProductTemplate {
	t.Helper()
	tmpl := &entity.ProductTemplate{
		ID:             uuid.New().String()[:32],
		Code:           fmt.Sprintf("TPL-%s", uuid.New().String()[:8]),
		Name:           name,
		IsConfigurable: configurable,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := db.Create(tmpl).Error; err != nil {
		t.Fatalf("Failed to seed template: %v", err)
	}
	return tmpl
}

// SeedProduct 创建测试产品变体
func SeedProduct(t *testing.T, db *gorm.DB, tmpl *entity.ProductTemplate, name string, cost float64) *entity.Product {
	t.Helper()
	product := &entity.Product{
		ID:             uuid.New().String()[:32],
		TemplateID:     tmpl.ID,
		Code:           fmt.Sprintf("PRD-%s", uuid.New().String()[:8]),
		Name:           name,
		IsConfigurable: tmpl.IsConfigurable,
		StandardCost:   cost,
		Unit:           "pcs",
		Status:         entity.ProductStatusActive,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := db.Create(product).Error; err != nil {
		t.Fatalf("Failed to seed product: %v", err)
	}
	return product
}

// SpecOption 规格构造选项
type SpecOption func(*entity.Spec)

// WithKind 指定规格类型
func WithKind(kind string) SpecOption {
	return func(s *entity.Spec) { s.Kind = kind }
}

// WithBase 标记为基础规格
func WithBase() SpecOption {
	return func(s *entity.Spec) { s.IsBase = true }
}

// WithVariant 绑定到产品变体
func WithVariant(productID string) SpecOption {
	return func(s *entity.Spec) { s.ProductID = &productID }
}

// WithCreatedAt 指定创建时间（最早者优先的用例需要可控顺序）
func WithCreatedAt(at time.Time) SpecOption {
	return func(s *entity.Spec) { s.CreatedAt = at }
}

// SeedSpec 创建测试规格及组件行
func SeedSpec(t *testing.T, db *gorm.DB, templateID string, components map[string]float64, opts ...SpecOption) *entity.Spec {
	t.Helper()
	spec := &entity.Spec{
		ID:                uuid.New().String()[:32],
		Code:              fmt.Sprintf("SPEC-%s", uuid.New().String()[:8]),
		ProductTemplateID: templateID,
		Kind:              entity.SpecKindManufacture,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}
	for _, opt := range opts {
		opt(spec)
	}
	seq := 10
	for productID, qty := range components {
		spec.Components = append(spec.Components, entity.SpecComponent{
			ID:                 uuid.New().String()[:32],
			Sequence:           seq,
			ComponentProductID: productID,
			Quantity:           qty,
			Unit:               "pcs",
		})
		seq += 10
	}
	if err := db.Create(spec).Error; err != nil {
		t.Fatalf("Failed to seed spec: %v", err)
	}
	return spec
}
