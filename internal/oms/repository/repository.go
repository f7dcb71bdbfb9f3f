package repository

import (
	"errors"

	"gorm.io/gorm"
)

// 错误定义
var (
	ErrNotFound = errors.New("record not found")
)

// Repositories 仓库集合
type Repositories struct {
	Product     *ProductRepository
	Spec        *SpecRepository
	Order       *OrderRepository
	Fulfillment *FulfillmentRepository

	db *gorm.DB
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Product:     NewProductRepository(db),
		Spec:        NewSpecRepository(db),
		Order:       NewOrderRepository(db),
		Fulfillment: NewFulfillmentRepository(db),
		db:          db,
	}
}

func (r *Repositories) DB() *gorm.DB {
	return r.db
}
