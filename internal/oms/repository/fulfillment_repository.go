package repository

import (
	"context"
	"errors"

	"github.com/bitfantasy/nimo-oms/internal/oms/entity"
	"gorm.io/gorm"
)

type FulfillmentRepository struct {
	db *gorm.DB
}

func NewFulfillmentRepository(db *gorm.DB) *FulfillmentRepository {
	return &FulfillmentRepository{db: db}
}

// CreateShipment 创建发运单
func (r *FulfillmentRepository) CreateShipment(ctx context.Context, shipment *entity.Shipment) error {
	return r.db.WithContext(ctx).Create(shipment).Error
}

// FindShipmentByID 根据ID查找发运单
func (r *FulfillmentRepository) FindShipmentByID(ctx context.Context, id string) (*entity.Shipment, error) {
	var shipment entity.Shipment
	err := r.db.WithContext(ctx).
		Preload("Instructions", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		First(&shipment, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &shipment, nil
}

func (r *FulfillmentRepository) UpdateShipment(ctx context.Context, shipment *entity.Shipment) error {
	return r.db.WithContext(ctx).Save(shipment).Error
}

// FindActiveShipmentByOrder 查找订单当前未终结的发运单
func (r *FulfillmentRepository) FindActiveShipmentByOrder(ctx context.Context, orderID string) (*entity.Shipment, error) {
	var shipment entity.Shipment
	err := r.db.WithContext(ctx).
		Preload("Instructions", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		Where("order_id = ? AND status NOT IN ?", orderID,
			[]string{entity.ShipmentStatusDone, entity.ShipmentStatusCancelled}).
		Order("created_at DESC").
		First(&shipment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &shipment, nil
}

// ListShipmentsByOrder 订单下的全部发运单
func (r *FulfillmentRepository) ListShipmentsByOrder(ctx context.Context, orderID string) ([]entity.Shipment, error) {
	var shipments []entity.Shipment
	err := r.db.WithContext(ctx).
		Preload("Instructions", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&shipments).Error
	return shipments, err
}

// CreateInstruction 创建履约指令
func (r *FulfillmentRepository) CreateInstruction(ctx context.Context, inst *entity.FulfillmentInstruction) error {
	return r.db.WithContext(ctx).Create(inst).Error
}

// FindInstructionByID 根据ID查找履约指令
func (r *FulfillmentRepository) FindInstructionByID(ctx context.Context, id string) (*entity.FulfillmentInstruction, error) {
	var inst entity.FulfillmentInstruction
	err := r.db.WithContext(ctx).First(&inst, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (r *FulfillmentRepository) UpdateInstruction(ctx context.Context, inst *entity.FulfillmentInstruction) error {
	return r.db.WithContext(ctx).Save(inst).Error
}

// DeleteInstruction 物理删除履约指令（仅限合并收尾，常规取消走状态更新）
func (r *FulfillmentRepository) DeleteInstruction(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&entity.FulfillmentInstruction{}, "id = ?", id).Error
}

// ListActiveInstructionsByLine 订单行当前未终结的履约指令
func (r *FulfillmentRepository) ListActiveInstructionsByLine(ctx context.Context, lineID string) ([]entity.FulfillmentInstruction, error) {
	var insts []entity.FulfillmentInstruction
	err := r.db.WithContext(ctx).
		Where("order_line_id = ? AND status NOT IN ?", lineID,
			[]string{entity.InstructionStatusDone, entity.InstructionStatusCancelled}).
		Order("created_at ASC, id ASC").
		Find(&insts).Error
	return insts, err
}

// ListInstructionsByShipment 发运单下的全部履约指令
func (r *FulfillmentRepository) ListInstructionsByShipment(ctx context.Context, shipmentID string) ([]entity.FulfillmentInstruction, error) {
	var insts []entity.FulfillmentInstruction
	err := r.db.WithContext(ctx).
		Where("shipment_id = ?", shipmentID).
		Order("created_at ASC, id ASC").
		Find(&insts).Error
	return insts, err
}
