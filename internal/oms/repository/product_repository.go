package repository

import (
	"context"
	"errors"

	"github.com/bitfantasy/nimo-oms/internal/oms/entity"
	"gorm.io/gorm"
)

type ProductRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) CreateTemplate(ctx context.Context, tmpl *entity.ProductTemplate) error {
	return r.db.WithContext(ctx).Create(tmpl).Error
}

func (r *ProductRepository) FindTemplateByID(ctx context.Context, id string) (*entity.ProductTemplate, error) {
	var tmpl entity.ProductTemplate
	err := r.db.WithContext(ctx).First(&tmpl, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tmpl, nil
}

func (r *ProductRepository) Create(ctx context.Context, product *entity.Product) error {
	return r.db.WithContext(ctx).Create(product).Error
}

func (r *ProductRepository) FindByID(ctx context.Context, id string) (*entity.Product, error) {
	var product entity.Product
	err := r.db.WithContext(ctx).Preload("Template").First(&product, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *ProductRepository) Update(ctx context.Context, product *entity.Product) error {
	return r.db.WithContext(ctx).Save(product).Error
}

// ListByTemplate 获取模板下的所有变体
func (r *ProductRepository) ListByTemplate(ctx context.Context, templateID string) ([]entity.Product, error) {
	var products []entity.Product
	err := r.db.WithContext(ctx).
		Where("template_id = ?", templateID).
		Order("created_at ASC").
		Find(&products).Error
	return products, err
}
