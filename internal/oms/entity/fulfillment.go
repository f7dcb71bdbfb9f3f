package entity

import "time"

// ShipmentStatus 发运单状态
const (
	ShipmentStatusDraft     = "draft"
	ShipmentStatusWaiting   = "waiting"
	ShipmentStatusConfirmed = "confirmed"
	ShipmentStatusReserved  = "reserved"
	ShipmentStatusInTransit = "in_transit"
	ShipmentStatusDone      = "done"
	ShipmentStatusCancelled = "cancelled"
)

// InstructionStatus 履约指令状态
const (
	InstructionStatusDraft     = "draft"
	InstructionStatusWaiting   = "waiting"
	InstructionStatusConfirmed = "confirmed"
	InstructionStatusReserved  = "reserved"
	InstructionStatusDone      = "done"
	InstructionStatusCancelled = "cancelled"
)

// Shipment 发运单（履约指令的容器）
type Shipment struct {
	ID             string    `json:"id" gorm:"primaryKey;size:32"`
	Code           string    `json:"code" gorm:"size:50;not null;uniqueIndex"`
	OrderID        string    `json:"order_id" gorm:"size:32;not null;index"`
	Status         string    `json:"status" gorm:"size:16;not null;default:draft"`
	SourceLocation string    `json:"source_location" gorm:"size:64;not null"`
	DestLocation   string    `json:"dest_location" gorm:"size:64;not null"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	Order        *SalesOrder              `json:"order,omitempty" gorm:"foreignKey:OrderID"`
	Instructions []FulfillmentInstruction `json:"instructions,omitempty" gorm:"foreignKey:ShipmentID"`
}

func (Shipment) TableName() string {
	return "oms_shipments"
}

// Terminal 发运单是否处于终态
func (s *Shipment) Terminal() bool {
	return s.Status == ShipmentStatusDone || s.Status == ShipmentStatusCancelled
}

// FulfillmentInstruction 履约指令（待执行的发货/备货动作）
//
// 取消为终态：被取消的指令不会复用，只会由重算生成的新指令取代。
type FulfillmentInstruction struct {
	ID             string    `json:"id" gorm:"primaryKey;size:32"`
	ShipmentID     string    `json:"shipment_id" gorm:"size:32;not null;index"`
	OrderLineID    *string   `json:"order_line_id,omitempty" gorm:"size:32;index"`
	SpecID         *string   `json:"spec_id,omitempty" gorm:"size:32"` // 生成该指令的规格，便于追溯
	ProductID      string    `json:"product_id" gorm:"size:32;not null"`
	ProductName    string    `json:"product_name" gorm:"size:128"`
	SourceLocation string    `json:"source_location" gorm:"size:64;not null"`
	DestLocation   string    `json:"dest_location" gorm:"size:64;not null"`
	Unit           string    `json:"unit" gorm:"size:16;not null;default:pcs"`
	Quantity       float64   `json:"quantity" gorm:"type:decimal(15,4);not null"`
	ReservedQty    float64   `json:"reserved_qty" gorm:"type:decimal(15,4);default:0"`
	Status         string    `json:"status" gorm:"size:16;not null;default:draft"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	Shipment *Shipment  `json:"shipment,omitempty" gorm:"foreignKey:ShipmentID"`
	Line     *OrderLine `json:"line,omitempty" gorm:"foreignKey:OrderLineID"`
}

func (FulfillmentInstruction) TableName() string {
	return "oms_fulfillment_instructions"
}

// Terminal 指令是否处于终态
func (i *FulfillmentInstruction) Terminal() bool {
	return i.Status == InstructionStatusDone || i.Status == InstructionStatusCancelled
}
