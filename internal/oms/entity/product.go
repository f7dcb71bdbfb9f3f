package entity

import "time"

// ProductStatus 产品状态
const (
	ProductStatusActive   = "active"
	ProductStatusInactive = "inactive"
)

// ProductTemplate 产品模板（同一产品的所有变体共享一个模板）
type ProductTemplate struct {
	ID             string    `json:"id" gorm:"primaryKey;size:32"`
	Code           string    `json:"code" gorm:"size:64;not null;uniqueIndex"`
	Name           string    `json:"name" gorm:"size:128;not null"`
	IsConfigurable bool      `json:"is_configurable" gorm:"default:false"` // 允许在销售订单行上创建定制规格
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	Variants []Product `json:"variants,omitempty" gorm:"foreignKey:TemplateID"`
}

func (ProductTemplate) TableName() string {
	return "oms_product_templates"
}

// Product 产品变体
type Product struct {
	ID             string    `json:"id" gorm:"primaryKey;size:32"`
	TemplateID     string    `json:"template_id" gorm:"size:32;not null;index"`
	Code           string    `json:"code" gorm:"size:64;not null;uniqueIndex"`
	Name           string    `json:"name" gorm:"size:128;not null"`
	IsConfigurable bool      `json:"is_configurable" gorm:"default:false"` // 创建时从模板复制
	StandardCost   float64   `json:"standard_cost" gorm:"type:decimal(15,4);default:0"`
	Unit           string    `json:"unit" gorm:"size:16;not null;default:pcs"`
	Status         string    `json:"status" gorm:"size:16;not null;default:active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	Template *ProductTemplate `json:"template,omitempty" gorm:"foreignKey:TemplateID"`
}

func (Product) TableName() string {
	return "oms_products"
}
