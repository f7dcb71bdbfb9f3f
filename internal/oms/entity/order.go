package entity

import "time"

// OrderState 销售订单状态
const (
	OrderStateDraft       = "draft"
	OrderStateSent        = "sent"
	OrderStateApproved    = "approved"
	OrderStateCustomizing = "customizing"
	OrderStateCommitted   = "committed"
	OrderStateCancelled   = "cancelled"
)

// SalesOrder 销售订单
type SalesOrder struct {
	ID           string     `json:"id" gorm:"primaryKey;size:32"`
	Code         string     `json:"code" gorm:"size:50;not null;uniqueIndex"`
	CustomerName string     `json:"customer_name" gorm:"size:128"`
	State        string     `json:"state" gorm:"size:16;not null;default:draft"`
	Currency     string     `json:"currency" gorm:"size:10;not null;default:CNY"`
	TotalAmount  float64    `json:"total_amount" gorm:"type:decimal(15,2);default:0"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	CommittedAt  *time.Time `json:"committed_at,omitempty"`
	Notes        string     `json:"notes,omitempty" gorm:"type:text"`
	CreatedBy    string     `json:"created_by" gorm:"size:64;not null"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	Lines []OrderLine `json:"lines,omitempty" gorm:"foreignKey:OrderID"`
}

func (SalesOrder) TableName() string {
	return "oms_sales_orders"
}

// Terminal 订单是否处于终态
func (o *SalesOrder) Terminal() bool {
	return o.State == OrderStateCommitted || o.State == OrderStateCancelled
}

// OrderLine 销售订单行
type OrderLine struct {
	ID             string    `json:"id" gorm:"primaryKey;size:32"`
	OrderID        string    `json:"order_id" gorm:"size:32;not null;index"`
	ProductID      string    `json:"product_id" gorm:"size:32;not null"`
	ProductName    string    `json:"product_name" gorm:"size:128"`
	Quantity       float64   `json:"quantity" gorm:"type:decimal(15,4);not null"`
	Unit           string    `json:"unit" gorm:"size:16;not null;default:pcs"`
	UnitPrice      float64   `json:"unit_price" gorm:"type:decimal(15,4);not null"`
	Amount         float64   `json:"amount" gorm:"type:decimal(15,2);not null"`
	OverrideSpecID *string   `json:"override_spec_id,omitempty" gorm:"size:32"`
	AcceptBaseSpec bool      `json:"accept_base_spec" gorm:"default:false"` // 明确接受基础规格（提交门槛）
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	Order   *SalesOrder `json:"order,omitempty" gorm:"foreignKey:OrderID"`
	Product *Product    `json:"product,omitempty" gorm:"foreignKey:ProductID"`
}

func (OrderLine) TableName() string {
	return "oms_order_lines"
}
