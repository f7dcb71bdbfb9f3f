package entity

import "time"

// SpecKind 规格类型
const (
	SpecKindManufacture = "manufacture" // 按规格生产
	SpecKindKit         = "kit"         // 按组件套装发货，不经过生产
)

// Spec 生产/套装规格（BOM）
//
// 作用域规则：ProductID 非空时为变体级规格，否则为模板级规格。
// 每个作用域最多一条 IsBase=true 的基础规格（变体级优先于模板级）。
// 定制规格（IsOverride=true）由销售订单行派生，始终携带 BaseSpecID 与
// OrderLineID，且永不作为基础规格。
type Spec struct {
	ID                string    `json:"id" gorm:"primaryKey;size:32"`
	Code              string    `json:"code" gorm:"size:128;not null"`
	ProductTemplateID string    `json:"product_template_id" gorm:"size:32;not null;index"`
	ProductID         *string   `json:"product_id,omitempty" gorm:"size:32;index"`
	Kind              string    `json:"kind" gorm:"size:16;not null;default:manufacture"`
	IsBase            bool      `json:"is_base" gorm:"default:false;index"`
	IsOverride        bool      `json:"is_override" gorm:"default:false"`
	BaseSpecID        *string   `json:"base_spec_id,omitempty" gorm:"size:32"`
	OrderLineID       *string   `json:"order_line_id,omitempty" gorm:"size:32;index"`
	Notes             string    `json:"notes,omitempty" gorm:"type:text"`
	CreatedBy         string    `json:"created_by" gorm:"size:64"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`

	Components []SpecComponent `json:"components,omitempty" gorm:"foreignKey:SpecID"`
	BaseSpec   *Spec           `json:"base_spec,omitempty" gorm:"foreignKey:BaseSpecID"`
}

func (Spec) TableName() string {
	return "oms_specs"
}

// VariantScoped 是否为变体级规格
func (s *Spec) VariantScoped() bool {
	return s.ProductID != nil && *s.ProductID != ""
}

// SpecComponent 规格组件行
type SpecComponent struct {
	ID                 string    `json:"id" gorm:"primaryKey;size:32"`
	SpecID             string    `json:"spec_id" gorm:"size:32;not null;index"`
	Sequence           int       `json:"sequence" gorm:"not null;default:10"`
	ComponentProductID string    `json:"component_product_id" gorm:"size:32;not null"`
	Quantity           float64   `json:"quantity" gorm:"type:decimal(15,4);not null;default:1"`
	Unit               string    `json:"unit" gorm:"size:16;not null;default:pcs"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`

	ComponentProduct *Product `json:"component_product,omitempty" gorm:"foreignKey:ComponentProductID"`
}

func (SpecComponent) TableName() string {
	return "oms_spec_components"
}
