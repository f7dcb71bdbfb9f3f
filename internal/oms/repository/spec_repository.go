package repository

import (
	"context"
	"errors"

	"github.com/bitfantasy/nimo-oms/internal/oms/entity"
	"gorm.io/gorm"
)

type SpecRepository struct {
	db *gorm.DB
}

func NewSpecRepository(db *gorm.DB) *SpecRepository {
	return &SpecRepository{db: db}
}

func (r *SpecRepository) DB() *gorm.DB {
	return r.db
}

// Create 创建规格（含组件行）
func (r *SpecRepository) Create(ctx context.Context, spec *entity.Spec) error {
	return r.db.WithContext(ctx).Create(spec).Error
}

// FindByID 根据ID查找规格
func (r *SpecRepository) FindByID(ctx context.Context, id string) (*entity.Spec, error) {
	var spec entity.Spec
	err := r.db.WithContext(ctx).
		Preload("Components", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence ASC, id ASC")
		}).
		Preload("Components.ComponentProduct").
		First(&spec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &spec, nil
}

func (r *SpecRepository) Update(ctx context.Context, spec *entity.Spec) error {
	return r.db.WithContext(ctx).Save(spec).Error
}

type SpecListParams struct {
	ProductTemplateID string
	ProductID         string
	Kind              string
	BaseOnly          bool
	OverrideOnly      bool
	Page              int
	Size              int
}

// List 规格列表
func (r *SpecRepository) List(ctx context.Context, params SpecListParams) ([]entity.Spec, int64, error) {
	query := r.db.WithContext(ctx).Model(&entity.Spec{})
	if params.ProductTemplateID != "" {
		query = query.Where("product_template_id = ?", params.ProductTemplateID)
	}
	if params.ProductID != "" {
		query = query.Where("product_id = ?", params.ProductID)
	}
	if params.Kind != "" {
		query = query.Where("kind = ?", params.Kind)
	}
	if params.BaseOnly {
		query = query.Where("is_base = ?", true)
	}
	if params.OverrideOnly {
		query = query.Where("is_override = ?", true)
	}
	var total int64
	query.Count(&total)
	if params.Page <= 0 {
		params.Page = 1
	}
	if params.Size <= 0 {
		params.Size = 20
	}
	var specs []entity.Spec
	err := query.Order("created_at DESC").
		Offset((params.Page - 1) * params.Size).Limit(params.Size).
		Find(&specs).Error
	return specs, total, err
}

// ListVariantBases 某变体作用域下的全部基础规格（按创建时间升序）
// 健康数据下最多一条，排查重复时会返回多条。
func (r *SpecRepository) ListVariantBases(ctx context.Context, productID string, kinds ...string) ([]entity.Spec, error) {
	var specs []entity.Spec
	query := r.db.WithContext(ctx).
		Preload("Components", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence ASC, id ASC")
		}).
		Where("product_id = ? AND is_base = ?", productID, true)
	if len(kinds) > 0 {
		query = query.Where("kind IN ?", kinds)
	}
	err := query.Order("created_at ASC").Find(&specs).Error
	return specs, err
}

// ListTemplateBases 某模板作用域（product_id 为空）下的全部基础规格
func (r *SpecRepository) ListTemplateBases(ctx context.Context, templateID string, kinds ...string) ([]entity.Spec, error) {
	var specs []entity.Spec
	query := r.db.WithContext(ctx).
		Preload("Components", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence ASC, id ASC")
		}).
		Where("product_template_id = ? AND product_id IS NULL AND is_base = ?", templateID, true)
	if len(kinds) > 0 {
		query = query.Where("kind IN ?", kinds)
	}
	err := query.Order("created_at ASC").Find(&specs).Error
	return specs, err
}

// OldestNonOverride 模板下最早创建的非定制规格（自愈提升用）
func (r *SpecRepository) OldestNonOverride(ctx context.Context, templateID string) (*entity.Spec, error) {
	var spec entity.Spec
	err := r.db.WithContext(ctx).
		Where("product_template_id = ? AND is_override = ?", templateID, false).
		Order("created_at ASC").
		First(&spec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &spec, nil
}

// FindOverrideByLine 查找订单行的定制规格
func (r *SpecRepository) FindOverrideByLine(ctx context.Context, lineID string) (*entity.Spec, error) {
	var spec entity.Spec
	err := r.db.WithContext(ctx).
		Preload("Components", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence ASC, id ASC")
		}).
		Where("order_line_id = ? AND is_override = ?", lineID, true).
		Order("created_at DESC").
		First(&spec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &spec, nil
}

// DuplicateVariantScopes 存在多条基础规格的变体作用域
func (r *SpecRepository) DuplicateVariantScopes(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&entity.Spec{}).
		Select("product_id").
		Where("is_base = ? AND product_id IS NOT NULL", true).
		Group("product_id").
		Having("COUNT(*) > 1").
		Pluck("product_id", &ids).Error
	return ids, err
}

// DuplicateTemplateScopes 存在多条基础规格的模板作用域
func (r *SpecRepository) DuplicateTemplateScopes(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&entity.Spec{}).
		Select("product_template_id").
		Where("is_base = ? AND product_id IS NULL", true).
		Group("product_template_id").
		Having("COUNT(*) > 1").
		Pluck("product_template_id", &ids).Error
	return ids, err
}

// ListBaseOverrideConflicts 同时标记为基础与定制的规格（非法）
func (r *SpecRepository) ListBaseOverrideConflicts(ctx context.Context) ([]entity.Spec, error) {
	var specs []entity.Spec
	err := r.db.WithContext(ctx).
		Where("is_base = ? AND is_override = ?", true, true).
		Find(&specs).Error
	return specs, err
}

// ListOrphanOverrides 缺失基础规格或订单行引用的定制规格
func (r *SpecRepository) ListOrphanOverrides(ctx context.Context) ([]entity.Spec, error) {
	var specs []entity.Spec
	err := r.db.WithContext(ctx).
		Where("is_override = ? AND (base_spec_id IS NULL OR order_line_id IS NULL)", true).
		Find(&specs).Error
	return specs, err
}
