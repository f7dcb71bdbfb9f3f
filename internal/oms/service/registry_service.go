package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-oms/internal/oms/entity"
	"github.com/bitfantasy/nimo-oms/internal/oms/repository"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RegistryService 规格目录服务
//
// 所有把 is_base 置为 true 的写路径都必须经过 checkBaseUniqueness，
// 不论来自管理接口、自动提升还是自愈修复。
type RegistryService struct {
	specRepo    *repository.SpecRepository
	productRepo *repository.ProductRepository
	db          *gorm.DB
	logger      *zap.Logger
}

func NewRegistryService(specRepo *repository.SpecRepository, productRepo *repository.ProductRepository, db *gorm.DB, logger *zap.Logger) *RegistryService {
	return &RegistryService{
		specRepo:    specRepo,
		productRepo: productRepo,
		db:          db,
		logger:      logger,
	}
}

type SpecComponentInput struct {
	ComponentProductID string  `json:"component_product_id" binding:"required"`
	Quantity           float64 `json:"quantity" binding:"required,gt=0"`
	Unit               string  `json:"unit"`
}

type CreateSpecInput struct {
	Code              string               `json:"code"`
	ProductTemplateID string               `json:"product_template_id" binding:"required"`
	ProductID         string               `json:"product_id"`
	Kind              string               `json:"kind" binding:"omitempty,oneof=manufacture kit"`
	IsBase            bool                 `json:"is_base"`
	Notes             string               `json:"notes"`
	Components        []SpecComponentInput `json:"components" binding:"required,min=1,dive"`
}

// CreateSpec 创建规格
//
// 未显式指定 is_base 时，若作用域内尚无基础规格则自动提升为基础规格。
func (s *RegistryService) CreateSpec(ctx context.Context, input *CreateSpecInput, createdBy string) (*entity.Spec, error) {
	if _, err := s.productRepo.FindTemplateByID(ctx, input.ProductTemplateID); err != nil {
		return nil, fmt.Errorf("产品模板不存在: %w", err)
	}
	if input.ProductID != "" {
		product, err := s.productRepo.FindByID(ctx, input.ProductID)
		if err != nil {
			return nil, fmt.Errorf("产品变体不存在: %w", err)
		}
		if product.TemplateID != input.ProductTemplateID {
			return nil, fmt.Errorf("产品变体 %s 不属于模板 %s", input.ProductID, input.ProductTemplateID)
		}
	}

	spec := &entity.Spec{
		ID:                uuid.New().String()[:32],
		Code:              input.Code,
		ProductTemplateID: input.ProductTemplateID,
		Kind:              input.Kind,
		IsBase:            input.IsBase,
		Notes:             input.Notes,
		CreatedBy:         createdBy,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}
	if input.ProductID != "" {
		spec.ProductID = &input.ProductID
	}
	if spec.Kind == "" {
		spec.Kind = entity.SpecKindManufacture
	}
	if spec.Code == "" {
		spec.Code = fmt.Sprintf("SPEC-%s%04d", time.Now().Format("20060102"), time.Now().UnixNano()%10000)
	}
	for i, c := range input.Components {
		unit := c.Unit
		if unit == "" {
			unit = "pcs"
		}
		spec.Components = append(spec.Components, entity.SpecComponent{
			ID:                 uuid.New().String()[:32],
			Sequence:           (i + 1) * 10,
			ComponentProductID: c.ComponentProductID,
			Quantity:           c.Quantity,
			Unit:               unit,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txSpecRepo := repository.NewSpecRepository(tx)
		if !spec.IsBase {
			// 作用域内没有基础规格时自动提升
			existing, err := s.basesInScope(ctx, txSpecRepo, spec)
			if err != nil {
				return err
			}
			if len(existing) == 0 {
				spec.IsBase = true
			}
		}
		if spec.IsBase {
			if err := s.checkBaseUniqueness(ctx, txSpecRepo, spec); err != nil {
				return err
			}
		}
		return txSpecRepo.Create(ctx, spec)
	})
	if err != nil {
		return nil, err
	}
	return spec, nil
}

// CreateOverride 为订单行创建定制规格
//
// 定制规格从当前解析到的基础规格派生，携带 base_spec_id 与
// order_line_id 以便追溯，且永不标记为基础规格。
func (s *RegistryService) CreateOverride(ctx context.Context, line *entity.OrderLine, kind string, components []SpecComponentInput, createdBy string) (*entity.Spec, error) {
	if line.Product == nil {
		return nil, fmt.Errorf("订单行 %s 缺少产品信息", line.ID)
	}
	if !line.Product.IsConfigurable {
		return nil, &StateError{
			Entity:    "order_line",
			EntityID:  line.ID,
			State:     "non_configurable",
			Operation: "创建定制规格",
		}
	}
	if kind == "" {
		kind = entity.SpecKindManufacture
	}

	base, err := s.FindBase(ctx, line.ProductID, line.Product.TemplateID)
	if err != nil {
		return nil, err
	}
	// 定制规格必须携带基础规格回引，作用域内没有基础规格时拒绝创建
	if base == nil {
		return nil, fmt.Errorf("产品 %s 没有基础规格，请先创建基础规格: %w", line.ProductID, repository.ErrNotFound)
	}

	spec := &entity.Spec{
		ID:                uuid.New().String()[:32],
		Code:              fmt.Sprintf("OVR-%s%04d", time.Now().Format("20060102"), time.Now().UnixNano()%10000),
		ProductTemplateID: line.Product.TemplateID,
		ProductID:         &line.ProductID,
		Kind:              kind,
		IsOverride:        true,
		OrderLineID:       &line.ID,
		CreatedBy:         createdBy,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}
	spec.BaseSpecID = &base.ID
	for i, c := range components {
		unit := c.Unit
		if unit == "" {
			unit = "pcs"
		}
		spec.Components = append(spec.Components, entity.SpecComponent{
			ID:                 uuid.New().String()[:32],
			Sequence:           (i + 1) * 10,
			ComponentProductID: c.ComponentProductID,
			Quantity:           c.Quantity,
			Unit:               unit,
		})
	}

	if err := s.specRepo.Create(ctx, spec); err != nil {
		return nil, fmt.Errorf("create override spec: %w", err)
	}
	return spec, nil
}

// GetSpec 获取规格详情（含组件行）
func (s *RegistryService) GetSpec(ctx context.Context, id string) (*entity.Spec, error) {
	return s.specRepo.FindByID(ctx, id)
}

// ListSpecs 规格列表
func (s *RegistryService) ListSpecs(ctx context.Context, params repository.SpecListParams) ([]entity.Spec, int64, error) {
	return s.specRepo.List(ctx, params)
}

// SetBase 设为基础规格（替换语义）
//
// 作用域内已有基础规格时先将其降级，再提升目标规格，两步在同一
// 事务内完成。定制规格不允许提升。
func (s *RegistryService) SetBase(ctx context.Context, specID string) (*entity.Spec, error) {
	return s.promoteBase(ctx, specID, true)
}

// MarkBase 设为基础规格（严格语义）
//
// 作用域内已有基础规格时直接返回 ConflictError，由调用方决定取舍。
func (s *RegistryService) MarkBase(ctx context.Context, specID string) (*entity.Spec, error) {
	return s.promoteBase(ctx, specID, false)
}

func (s *RegistryService) promoteBase(ctx context.Context, specID string, replace bool) (*entity.Spec, error) {
	var spec *entity.Spec
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txSpecRepo := repository.NewSpecRepository(tx)
		var err error
		spec, err = txSpecRepo.FindByID(ctx, specID)
		if err != nil {
			return err
		}
		if spec.IsOverride {
			return &ConflictError{
				SpecID: spec.ID,
				Reason: "定制规格不能设为基础规格",
			}
		}
		if spec.IsBase {
			return nil
		}
		existing, err := s.basesInScope(ctx, txSpecRepo, spec)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			if !replace {
				return s.conflictFor(spec, &existing[0])
			}
			for i := range existing {
				existing[i].IsBase = false
				existing[i].UpdatedAt = time.Now()
				if err := txSpecRepo.Update(ctx, &existing[i]); err != nil {
					return fmt.Errorf("demote spec %s: %w", existing[i].ID, err)
				}
			}
		}
		spec.IsBase = true
		spec.UpdatedAt = time.Now()
		if err := s.checkBaseUniqueness(ctx, txSpecRepo, spec); err != nil {
			return err
		}
		return txSpecRepo.Update(ctx, spec)
	})
	if err != nil {
		return nil, err
	}
	return spec, nil
}

// UnmarkBase 撤销基础规格标记
func (s *RegistryService) UnmarkBase(ctx context.Context, specID string) (*entity.Spec, error) {
	spec, err := s.specRepo.FindByID(ctx, specID)
	if err != nil {
		return nil, err
	}
	if !spec.IsBase {
		return spec, nil
	}
	spec.IsBase = false
	spec.UpdatedAt = time.Now()
	if err := s.specRepo.Update(ctx, spec); err != nil {
		return nil, err
	}
	return spec, nil
}

// FindBase 查找产品当前的基础规格
//
// 变体作用域优先，找不到再回退到模板作用域；两级都没有时返回
// (nil, nil)，表示"未配置"而非错误。作用域内出现多条基础规格
// 属于数据缺陷，取最早创建的一条并记录告警，留给自愈修复处理。
func (s *RegistryService) FindBase(ctx context.Context, productID, templateID string, kinds ...string) (*entity.Spec, error) {
	if productID != "" {
		bases, err := s.specRepo.ListVariantBases(ctx, productID, kinds...)
		if err != nil {
			return nil, err
		}
		if len(bases) > 1 {
			s.logger.Warn("变体作用域存在多条基础规格，取最早一条",
				zap.String("product_id", productID),
				zap.Int("count", len(bases)))
		}
		if len(bases) > 0 {
			return &bases[0], nil
		}
	}
	bases, err := s.specRepo.ListTemplateBases(ctx, templateID, kinds...)
	if err != nil {
		return nil, err
	}
	if len(bases) > 1 {
		s.logger.Warn("模板作用域存在多条基础规格，取最早一条",
			zap.String("product_template_id", templateID),
			zap.Int("count", len(bases)))
	}
	if len(bases) > 0 {
		return &bases[0], nil
	}
	return nil, nil
}

// EnsureBaseExists 确保模板下存在基础规格
//
// 没有基础规格时把模板下最早创建的非定制规格提升为基础规格，
// 幂等，可重复调用。
func (s *RegistryService) EnsureBaseExists(ctx context.Context, templateID string) (*entity.Spec, error) {
	var promoted *entity.Spec
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txSpecRepo := repository.NewSpecRepository(tx)
		bases, err := txSpecRepo.ListTemplateBases(ctx, templateID)
		if err != nil {
			return err
		}
		if len(bases) > 0 {
			promoted = &bases[0]
			return nil
		}
		oldest, err := txSpecRepo.OldestNonOverride(ctx, templateID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		oldest.IsBase = true
		oldest.UpdatedAt = time.Now()
		if err := s.checkBaseUniqueness(ctx, txSpecRepo, oldest); err != nil {
			return err
		}
		if err := txSpecRepo.Update(ctx, oldest); err != nil {
			return err
		}
		s.logger.Info("自动提升基础规格",
			zap.String("product_template_id", templateID),
			zap.String("spec_id", oldest.ID))
		promoted = oldest
		return nil
	})
	if err != nil {
		return nil, err
	}
	return promoted, nil
}

// checkBaseUniqueness 基础规格唯一性校验
//
// 正确性关口：同一作用域内除自身外不允许存在其他基础规格，
// 且基础与定制互斥。
func (s *RegistryService) checkBaseUniqueness(ctx context.Context, specRepo *repository.SpecRepository, spec *entity.Spec) error {
	if spec.IsOverride {
		return &ConflictError{
			SpecID: spec.ID,
			Reason: "规格不能同时为基础规格与定制规格",
		}
	}
	existing, err := s.basesInScope(ctx, specRepo, spec)
	if err != nil {
		return err
	}
	for i := range existing {
		if existing[i].ID != spec.ID {
			return s.conflictFor(spec, &existing[i])
		}
	}
	return nil
}

func (s *RegistryService) basesInScope(ctx context.Context, specRepo *repository.SpecRepository, spec *entity.Spec) ([]entity.Spec, error) {
	if spec.VariantScoped() {
		return specRepo.ListVariantBases(ctx, *spec.ProductID)
	}
	return specRepo.ListTemplateBases(ctx, spec.ProductTemplateID)
}

func (s *RegistryService) conflictFor(spec, existing *entity.Spec) *ConflictError {
	conflict := &ConflictError{
		SpecID:   spec.ID,
		Existing: existing.ID,
		Reason:   "作用域内已存在基础规格",
	}
	if spec.VariantScoped() {
		conflict.Scope = *spec.ProductID
		conflict.ScopeLevel = "variant"
	} else {
		conflict.Scope = spec.ProductTemplateID
		conflict.ScopeLevel = "template"
	}
	return conflict
}

// ExportSpec 导出规格组件清单为Excel
func (s *RegistryService) ExportSpec(ctx context.Context, specID string) (*excelize.File, string, error) {
	spec, err := s.specRepo.FindByID(ctx, specID)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	sheet := "组件清单"
	f.SetSheetName("Sheet1", sheet)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})

	headers := []string{"序号", "组件编码", "组件名称", "数量", "单位"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}
	f.SetCellStyle(sheet, "A1", "E1", headerStyle)
	f.SetColWidth(sheet, "B", "C", 24)

	for i, comp := range spec.Components {
		row := i + 2
		code, name := comp.ComponentProductID, ""
		if comp.ComponentProduct != nil {
			code = comp.ComponentProduct.Code
			name = comp.ComponentProduct.Name
		}
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), comp.Sequence)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), code)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", row), name)
		f.SetCellValue(sheet, fmt.Sprintf("D%d", row), comp.Quantity)
		f.SetCellValue(sheet, fmt.Sprintf("E%d", row), comp.Unit)
	}

	filename := fmt.Sprintf("%s_%s.xlsx", spec.Code, time.Now().Format("20060102"))
	return f, filename, nil
}
