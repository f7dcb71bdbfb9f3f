package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bitfantasy/nimo-oms/internal/oms/entity"
	"github.com/bitfantasy/nimo-oms/internal/oms/repository"
	"go.uber.org/zap"
)

// ResolutionService 有效规格解析
//
// 任何时刻对一个订单行只解析出至多一条规格。优先级从高到低：
// 订单行定制规格 > 调用方强制指定 > 变体基础规格 > 模板基础规格。
// 四级都落空时返回 (nil, nil)，表示"未配置"，由调用方决定是否视为
// 阻断条件。
type ResolutionService struct {
	registry  *RegistryService
	specRepo  *repository.SpecRepository
	orderRepo *repository.OrderRepository
	logger    *zap.Logger
}

func NewResolutionService(registry *RegistryService, specRepo *repository.SpecRepository, orderRepo *repository.OrderRepository, logger *zap.Logger) *ResolutionService {
	return &ResolutionService{
		registry:  registry,
		specRepo:  specRepo,
		orderRepo: orderRepo,
		logger:    logger,
	}
}

// ResolveOptions 解析选项
type ResolveOptions struct {
	// ForcedSpecID 调用方已确定要用的规格。重算履约指令时用它避开
	// 事务中途再查目录拿到过期状态。
	ForcedSpecID string
	// Kinds 限定规格类型（套装展开时只找 kit）
	Kinds []string
}

// ResolveForLine 解析订单行的有效规格
func (s *ResolutionService) ResolveForLine(ctx context.Context, lineID string, opts ResolveOptions) (*entity.Spec, error) {
	line, err := s.orderRepo.FindLineByID(ctx, lineID)
	if err != nil {
		return nil, fmt.Errorf("订单行不存在: %w", err)
	}
	return s.resolveLine(ctx, line, opts)
}

func (s *ResolutionService) resolveLine(ctx context.Context, line *entity.OrderLine, opts ResolveOptions) (*entity.Spec, error) {
	// 1. 订单行上已绑定的定制规格
	if line.OverrideSpecID != nil && *line.OverrideSpecID != "" {
		spec, err := s.specRepo.FindByID(ctx, *line.OverrideSpecID)
		if err != nil {
			return nil, fmt.Errorf("订单行定制规格不存在: %w", err)
		}
		if s.matchesLine(spec, line) && s.matchesKind(spec, opts.Kinds) {
			return spec, nil
		}
		s.logger.Warn("订单行定制规格与产品不匹配，回退到基础规格",
			zap.String("line_id", line.ID),
			zap.String("spec_id", spec.ID))
	}

	// 2. 调用方强制指定
	if opts.ForcedSpecID != "" {
		spec, err := s.specRepo.FindByID(ctx, opts.ForcedSpecID)
		if err != nil {
			return nil, fmt.Errorf("指定规格不存在: %w", err)
		}
		return spec, nil
	}

	templateID := ""
	if line.Product != nil {
		templateID = line.Product.TemplateID
	}
	return s.ResolveForProduct(ctx, line.ProductID, templateID, opts)
}

// ResolveForProduct 按产品解析基础规格（变体优先）
func (s *ResolutionService) ResolveForProduct(ctx context.Context, productID, templateID string, opts ResolveOptions) (*entity.Spec, error) {
	if opts.ForcedSpecID != "" {
		spec, err := s.specRepo.FindByID(ctx, opts.ForcedSpecID)
		if err != nil {
			return nil, fmt.Errorf("指定规格不存在: %w", err)
		}
		return spec, nil
	}
	if templateID == "" && productID != "" {
		product, err := s.registry.productRepo.FindByID(ctx, productID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		templateID = product.TemplateID
	}
	return s.registry.FindBase(ctx, productID, templateID, opts.Kinds...)
}

func (s *ResolutionService) matchesLine(spec *entity.Spec, line *entity.OrderLine) bool {
	if spec.ProductID != nil && *spec.ProductID != "" {
		return *spec.ProductID == line.ProductID
	}
	if line.Product != nil {
		return spec.ProductTemplateID == line.Product.TemplateID
	}
	return true
}

func (s *ResolutionService) matchesKind(spec *entity.Spec, kinds []string) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if spec.Kind == k {
			return true
		}
	}
	return false
}
