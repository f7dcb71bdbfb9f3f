package service

import (
	"context"
	"fmt"

	"github.com/bitfantasy/nimo-oms/internal/oms/entity"
)

// Leaf 套装展开后的叶子行
//
// 同一叶子产品可能出现在多个分支上，展开阶段不做合并，合并交给
// 重复履约指令合并处理。
type Leaf struct {
	ProductID string  `json:"product_id"`
	Quantity  float64 `json:"quantity"`
	Unit      string  `json:"unit"`
	SpecID    string  `json:"spec_id,omitempty"` // 产生该叶子的规格
}

// ExpanderService 套装规格递归展开
type ExpanderService struct {
	resolution *ResolutionService
}

func NewExpanderService(resolution *ResolutionService) *ExpanderService {
	return &ExpanderService{resolution: resolution}
}

// Expand 展开规格为叶子组件
//
// 无规格时返回产品自身（数量不变）。有规格时展开其组件行：组件
// 自身解析到套装规格的继续递归，其余组件为叶子，数量沿路径相乘。
// 遇到循环引用立即返回 CyclicSpecificationError，保证在写入任何
// 履约指令之前失败。
func (s *ExpanderService) Expand(ctx context.Context, spec *entity.Spec, productID string, quantity float64) ([]Leaf, error) {
	if spec == nil {
		return []Leaf{{ProductID: productID, Quantity: quantity, Unit: "pcs"}}, nil
	}
	return s.expandSpec(ctx, spec, quantity, map[string]bool{}, nil)
}

func (s *ExpanderService) expandSpec(ctx context.Context, spec *entity.Spec, multiplier float64, visited map[string]bool, path []string) ([]Leaf, error) {
	if visited[spec.ID] {
		return nil, &CyclicSpecificationError{
			SpecID: spec.ID,
			Path:   append(path, spec.ID),
		}
	}
	visited[spec.ID] = true
	path = append(path, spec.ID)

	components := spec.Components
	if len(components) == 0 {
		// 组件未预加载时补查一次
		full, err := s.resolution.specRepo.FindByID(ctx, spec.ID)
		if err != nil {
			return nil, fmt.Errorf("load spec components: %w", err)
		}
		components = full.Components
	}

	var leaves []Leaf
	for _, comp := range components {
		qty := comp.Quantity * multiplier
		sub, err := s.resolution.ResolveForProduct(ctx, comp.ComponentProductID, "", ResolveOptions{
			Kinds: []string{entity.SpecKindKit},
		})
		if err != nil {
			return nil, err
		}
		if sub != nil && sub.Kind == entity.SpecKindKit {
			subLeaves, err := s.expandSpec(ctx, sub, qty, visited, path)
			if err != nil {
				return nil, err
			}
			leaves = append(leaves, subLeaves...)
			continue
		}
		leaves = append(leaves, Leaf{
			ProductID: comp.ComponentProductID,
			Quantity:  qty,
			Unit:      comp.Unit,
			SpecID:    spec.ID,
		})
	}

	delete(visited, spec.ID)
	return leaves, nil
}
