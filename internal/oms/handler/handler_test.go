package handler

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/bitfantasy/nimo-oms/internal/oms/repository"
	"github.com/bitfantasy/nimo-oms/internal/oms/service"
	"github.com/bitfantasy/nimo-oms/internal/oms/testutil"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupHandlerTest(t *testing.T) (*gorm.DB, *gin.Engine) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	svc := service.NewServices(repos, nil, nil, zap.NewNop())
	h := NewHandlers(svc, repos)

	r := testutil.SetupRouter()
	v1 := testutil.AuthGroup(r, "/api/v1")

	v1.POST("/product-templates", h.Product.CreateTemplate)
	v1.POST("/products", h.Product.CreateProduct)
	v1.GET("/products/:id", h.Product.GetProduct)

	v1.POST("/specs", h.Spec.CreateSpec)
	v1.GET("/specs/base", h.Spec.FindBase)
	v1.GET("/specs/:id", h.Spec.GetSpec)
	v1.POST("/specs/:id/set-base", h.Spec.SetBase)
	v1.POST("/specs/:id/mark-base", h.Spec.MarkBase)
	v1.GET("/integrity/validate", h.Spec.ValidateIntegrity)

	v1.POST("/orders", h.Order.CreateOrder)
	v1.GET("/orders/:id", h.Order.GetOrder)
	v1.POST("/orders/:id/approve", h.Order.Approve)
	v1.POST("/orders/:id/commit", h.Order.Commit)
	v1.POST("/orders/:id/cancel", h.Order.Cancel)
	v1.GET("/orders/:id/shipments", h.Fulfillment.ListOrderShipments)
	v1.POST("/orders/:id/lines/:lineId/customize", h.Order.BeginCustomization)
	v1.POST("/orders/:id/lines/:lineId/override", h.Order.AttachOverride)
	v1.GET("/orders/:id/lines/:lineId/customize-allowed", h.Order.CustomizeAllowed)

	v1.POST("/shipments/:id/merge-duplicates", h.Fulfillment.MergeDuplicates)

	return db, r
}

func TestOrderCustomizationFlowOverHTTP(t *testing.T) {
	_, r := setupHandlerTest(t)
	token := testutil.DefaultTestToken()

	// 未认证请求被拒
	w := testutil.DoRequest(r, "POST", "/api/v1/orders", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("未认证应401，得到 %d", w.Code)
	}

	// 建模板与产品
	w = testutil.DoRequest(r, "POST", "/api/v1/product-templates", map[string]interface{}{
		"code": "TPL-SPK", "name": "定制音箱", "is_configurable": true,
	}, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("建模板应201，得到 %d: %s", w.Code, w.Body.String())
	}
	tmplID := testutil.ParseResponse(w)["data"].(map[string]interface{})["id"].(string)

	createProduct := func(code, name string, cost float64) string {
		w := testutil.DoRequest(r, "POST", "/api/v1/products", map[string]interface{}{
			"template_id": tmplID, "code": code, "name": name, "standard_cost": cost,
		}, token)
		if w.Code != http.StatusCreated {
			t.Fatalf("建产品应201，得到 %d: %s", w.Code, w.Body.String())
		}
		return testutil.ParseResponse(w)["data"].(map[string]interface{})["id"].(string)
	}
	productID := createProduct("PRD-SPK", "定制音箱-黑", 0)
	compID := createProduct("PRD-SHELL", "外壳", 10)

	// 建基础规格（首条自动提升）
	w = testutil.DoRequest(r, "POST", "/api/v1/specs", map[string]interface{}{
		"product_template_id": tmplID,
		"components": []map[string]interface{}{
			{"component_product_id": compID, "quantity": 2},
		},
	}, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("建规格应201，得到 %d: %s", w.Code, w.Body.String())
	}
	spec := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if spec["is_base"] != true {
		t.Fatal("首条规格应自动成为基础规格")
	}

	// 查基础规格
	w = testutil.DoRequest(r, "GET", "/api/v1/specs/base?template_id="+tmplID, nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("查基础规格应200，得到 %d", w.Code)
	}

	// 下单
	w = testutil.DoRequest(r, "POST", "/api/v1/orders", map[string]interface{}{
		"customer_name": "测试客户",
		"lines": []map[string]interface{}{
			{"product_id": productID, "quantity": 2, "unit_price": 100},
		},
	}, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("下单应201，得到 %d: %s", w.Code, w.Body.String())
	}
	order := testutil.ParseResponse(w)["data"].(map[string]interface{})
	orderID := order["id"].(string)
	lineID := order["lines"].([]interface{})[0].(map[string]interface{})["id"].(string)

	// draft 状态定制入口隐藏
	w = testutil.DoRequest(r, "GET", fmt.Sprintf("/api/v1/orders/%s/lines/%s/customize-allowed", orderID, lineID), nil, token)
	allowed := testutil.ParseResponse(w)["data"].(map[string]interface{})["allowed"]
	if allowed != false {
		t.Fatal("draft 状态定制入口应隐藏")
	}

	// 审批
	w = testutil.DoRequest(r, "POST", fmt.Sprintf("/api/v1/orders/%s/approve", orderID), nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("审批应200，得到 %d: %s", w.Code, w.Body.String())
	}

	// approved 后定制入口可见
	w = testutil.DoRequest(r, "GET", fmt.Sprintf("/api/v1/orders/%s/lines/%s/customize-allowed", orderID, lineID), nil, token)
	allowed = testutil.ParseResponse(w)["data"].(map[string]interface{})["allowed"]
	if allowed != true {
		t.Fatal("approved 状态定制入口应可见")
	}

	// 进入定制并绑定定制规格
	w = testutil.DoRequest(r, "POST", fmt.Sprintf("/api/v1/orders/%s/lines/%s/customize", orderID, lineID), nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("进入定制应200，得到 %d: %s", w.Code, w.Body.String())
	}
	w = testutil.DoRequest(r, "POST", fmt.Sprintf("/api/v1/orders/%s/lines/%s/override", orderID, lineID), map[string]interface{}{
		"components": []map[string]interface{}{
			{"component_product_id": compID, "quantity": 3},
		},
	}, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("绑定定制规格应201，得到 %d: %s", w.Code, w.Body.String())
	}

	// 提交并物化履约
	w = testutil.DoRequest(r, "POST", fmt.Sprintf("/api/v1/orders/%s/commit", orderID), nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("提交应200，得到 %d: %s", w.Code, w.Body.String())
	}

	// 查发运单
	w = testutil.DoRequest(r, "GET", fmt.Sprintf("/api/v1/orders/%s/shipments", orderID), nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("查发运单应200，得到 %d", w.Code)
	}
	shipments := testutil.ParseResponse(w)["data"].([]interface{})
	if len(shipments) != 1 {
		t.Fatalf("应有1个发运单，得到 %d", len(shipments))
	}
	shipmentID := shipments[0].(map[string]interface{})["id"].(string)

	// 合并重复（无重复，空操作）
	w = testutil.DoRequest(r, "POST", fmt.Sprintf("/api/v1/shipments/%s/merge-duplicates", shipmentID), nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("合并应200，得到 %d: %s", w.Code, w.Body.String())
	}
	mergeData := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if mergeData["nothing_done"] != true {
		t.Fatal("无重复时应报告空操作")
	}

	// 完整性检查健康
	w = testutil.DoRequest(r, "GET", "/api/v1/integrity/validate", nil, token)
	if testutil.ParseResponse(w)["data"].(map[string]interface{})["healthy"] != true {
		t.Fatal("健康数据完整性检查应通过")
	}
}

func TestMarkBaseConflictOverHTTP(t *testing.T) {
	_, r := setupHandlerTest(t)
	token := testutil.DefaultTestToken()

	w := testutil.DoRequest(r, "POST", "/api/v1/product-templates", map[string]interface{}{
		"code": "TPL-X", "name": "模板X",
	}, token)
	tmplID := testutil.ParseResponse(w)["data"].(map[string]interface{})["id"].(string)

	createSpec := func() map[string]interface{} {
		w := testutil.DoRequest(r, "POST", "/api/v1/specs", map[string]interface{}{
			"product_template_id": tmplID,
			"components": []map[string]interface{}{
				{"component_product_id": "comp-any", "quantity": 1},
			},
		}, token)
		if w.Code != http.StatusCreated {
			t.Fatalf("建规格应201，得到 %d: %s", w.Code, w.Body.String())
		}
		return testutil.ParseResponse(w)["data"].(map[string]interface{})
	}
	createSpec() // 自动成为基础规格
	second := createSpec()

	// 严格提升冲突 → 409
	w = testutil.DoRequest(r, "POST", fmt.Sprintf("/api/v1/specs/%s/mark-base", second["id"]), nil, token)
	if w.Code != http.StatusConflict {
		t.Fatalf("冲突应409，得到 %d: %s", w.Code, w.Body.String())
	}

	// 替换语义放行 → 200
	w = testutil.DoRequest(r, "POST", fmt.Sprintf("/api/v1/specs/%s/set-base", second["id"]), nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("替换提升应200，得到 %d: %s", w.Code, w.Body.String())
	}
}
