package repository

import (
	"context"
	"errors"

	"github.com/bitfantasy/nimo-oms/internal/oms/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create 创建订单（含订单行）
func (r *OrderRepository) Create(ctx context.Context, order *entity.SalesOrder) error {
	return r.db.WithContext(ctx).Create(order).Error
}

// FindByID 根据ID查找订单
func (r *OrderRepository) FindByID(ctx context.Context, id string) (*entity.SalesOrder, error) {
	var order entity.SalesOrder
	err := r.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		Preload("Lines.Product").
		First(&order, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepository) Update(ctx context.Context, order *entity.SalesOrder) error {
	return r.db.WithContext(ctx).Save(order).Error
}

type OrderListParams struct {
	State    string
	Customer string
	Page     int
	Size     int
}

// List 订单列表
func (r *OrderRepository) List(ctx context.Context, params OrderListParams) ([]entity.SalesOrder, int64, error) {
	query := r.db.WithContext(ctx).Model(&entity.SalesOrder{})
	if params.State != "" {
		query = query.Where("state = ?", params.State)
	}
	if params.Customer != "" {
		query = query.Where("customer_name LIKE ?", "%"+params.Customer+"%")
	}
	var total int64
	query.Count(&total)
	if params.Page <= 0 {
		params.Page = 1
	}
	if params.Size <= 0 {
		params.Size = 20
	}
	var orders []entity.SalesOrder
	err := query.Order("created_at DESC").
		Offset((params.Page - 1) * params.Size).Limit(params.Size).
		Find(&orders).Error
	return orders, total, err
}

// FindLineByID 根据ID查找订单行（带产品与所属订单）
func (r *OrderRepository) FindLineByID(ctx context.Context, id string) (*entity.OrderLine, error) {
	var line entity.OrderLine
	err := r.db.WithContext(ctx).
		Preload("Product").
		Preload("Product.Template").
		Preload("Order").
		First(&line, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &line, nil
}

// LockLineByID 锁定订单行（事务内使用）
//
// postgres 下加 FOR UPDATE 行锁；sqlite 等单写库由库级写锁保证串行。
func (r *OrderRepository) LockLineByID(ctx context.Context, tx *gorm.DB, id string) (*entity.OrderLine, error) {
	query := tx.WithContext(ctx)
	if tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var line entity.OrderLine
	err := query.First(&line, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &line, nil
}

func (r *OrderRepository) UpdateLine(ctx context.Context, line *entity.OrderLine) error {
	return r.db.WithContext(ctx).Save(line).Error
}
