package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-oms/internal/oms/entity"
	"github.com/bitfantasy/nimo-oms/internal/oms/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReconcileStep 重算子步骤结果
type ReconcileStep struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ReconcileReport 履约重算报告
//
// 重算是尽力而为的：取消成功但重建失败的中间状态必须如实上报，
// 因此报告作为返回值而非异常，调用方总能拿到每个子步骤的结果。
type ReconcileReport struct {
	OrderLineID      string          `json:"order_line_id"`
	SpecID           string          `json:"spec_id"`
	Success          bool            `json:"success"`
	NothingToFulfill bool            `json:"nothing_to_fulfill"`
	CancelledCount   int             `json:"cancelled_count"`
	CreatedCount     int             `json:"created_count"`
	Summary          string          `json:"summary"`
	Steps            []ReconcileStep `json:"steps"`
}

func (r *ReconcileReport) addStep(name string, success bool, format string, args ...any) {
	r.Steps = append(r.Steps, ReconcileStep{
		Name:    name,
		Success: success,
		Message: fmt.Sprintf(format, args...),
	})
	if !success {
		r.Success = false
	}
}

// IntegrityFinding 数据完整性检查结论
type IntegrityFinding struct {
	Kind    string   `json:"kind"`
	Scope   string   `json:"scope,omitempty"`
	SpecIDs []string `json:"spec_ids"`
	Message string   `json:"message"`
}

const (
	FindingDuplicateVariantBase  = "duplicate_base_variant"
	FindingDuplicateTemplateBase = "duplicate_base_template"
	FindingBaseOverrideConflict  = "base_override_conflict"
	FindingOrphanOverride        = "orphan_override"
)

// ReconcileService 履约重算与完整性维护
type ReconcileService struct {
	orderRepo   *repository.OrderRepository
	fulfillRepo *repository.FulfillmentRepository
	specRepo    *repository.SpecRepository
	resolution  *ResolutionService
	expander    *ExpanderService
	db          *gorm.DB
	logger      *zap.Logger
}

func NewReconcileService(
	repos *repository.Repositories,
	resolution *ResolutionService,
	expander *ExpanderService,
	logger *zap.Logger,
) *ReconcileService {
	return &ReconcileService{
		orderRepo:   repos.Order,
		fulfillRepo: repos.Fulfillment,
		specRepo:    repos.Spec,
		resolution:  resolution,
		expander:    expander,
		db:          repos.DB(),
		logger:      logger,
	}
}

// Reconcile 按新规格重算订单行的履约指令
//
// 流程：解析展开新规格（写入前，循环引用在这里失败）→ 锁定订单
// 行 → 释放预留并取消所有未终结指令 → 按叶子组件新建指令。取消
// 与新建逐条尽力执行，单条失败记录到报告继续后续步骤，不回滚已
// 完成的部分。
func (s *ReconcileService) Reconcile(ctx context.Context, lineID, newSpecID string) *ReconcileReport {
	report := &ReconcileReport{
		OrderLineID: lineID,
		SpecID:      newSpecID,
		Success:     true,
	}

	line, err := s.orderRepo.FindLineByID(ctx, lineID)
	if err != nil {
		report.addStep("load_line", false, "订单行加载失败: %v", err)
		report.Summary = "重算失败：订单行不存在"
		return report
	}

	spec, err := s.resolution.resolveLine(ctx, line, ResolveOptions{ForcedSpecID: newSpecID})
	if err != nil {
		report.addStep("resolve", false, "规格解析失败: %v", err)
		report.Summary = "重算失败：规格解析失败"
		return report
	}
	leaves, err := s.expander.Expand(ctx, spec, line.ProductID, line.Quantity)
	if err != nil {
		report.addStep("expand", false, "规格展开失败: %v", err)
		report.Summary = "重算失败：规格展开失败"
		return report
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txOrder := repository.NewOrderRepository(tx)
		txFulfill := repository.NewFulfillmentRepository(tx)

		// 行锁串行化并发重算
		if _, err := txOrder.LockLineByID(ctx, tx, lineID); err != nil {
			return fmt.Errorf("lock order line: %w", err)
		}

		active, err := txFulfill.ListActiveInstructionsByLine(ctx, lineID)
		if err != nil {
			return fmt.Errorf("list active instructions: %w", err)
		}

		now := time.Now()
		for i := range active {
			inst := &active[i]
			if inst.ReservedQty > 0 {
				inst.ReservedQty = 0
			}
			inst.Status = entity.InstructionStatusCancelled
			inst.UpdatedAt = now
			if err := txFulfill.UpdateInstruction(ctx, inst); err != nil {
				report.addStep("cancel", false, "取消指令 %s 失败: %v", inst.ID, err)
				continue
			}
			report.CancelledCount++
		}
		report.addStep("cancel", true, "已取消 %d 条履约指令", report.CancelledCount)

		if len(leaves) == 0 {
			report.NothingToFulfill = true
			return nil
		}

		shipment, err := txFulfill.FindActiveShipmentByOrder(ctx, line.OrderID)
		if errors.Is(err, repository.ErrNotFound) {
			shipment = &entity.Shipment{
				ID:             uuid.New().String()[:32],
				Code:           fmt.Sprintf("SHP-%s%04d", now.Format("20060102"), now.UnixNano()%10000),
				OrderID:        line.OrderID,
				Status:         entity.ShipmentStatusConfirmed,
				SourceLocation: DefaultSourceLocation,
				DestLocation:   DefaultDestLocation,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := txFulfill.CreateShipment(ctx, shipment); err != nil {
				return fmt.Errorf("create shipment: %w", err)
			}
		} else if err != nil {
			return fmt.Errorf("find active shipment: %w", err)
		}

		for _, leaf := range leaves {
			inst := buildInstruction(shipment, line, leaf)
			if err := txFulfill.CreateInstruction(ctx, inst); err != nil {
				report.addStep("create", false, "新建指令失败（产品 %s）: %v", leaf.ProductID, err)
				continue
			}
			report.CreatedCount++
		}
		report.addStep("create", true, "已新建 %d 条履约指令", report.CreatedCount)
		return nil
	})
	if txErr != nil {
		report.addStep("transaction", false, "重算事务失败: %v", txErr)
		report.Summary = "重算失败：事务未完成"
		return report
	}

	switch {
	case report.NothingToFulfill:
		report.Summary = fmt.Sprintf("已取消 %d 条履约指令，新规格无可履约内容", report.CancelledCount)
	case report.Success:
		report.Summary = fmt.Sprintf("已取消 %d 条履约指令，新建 %d 条", report.CancelledCount, report.CreatedCount)
	default:
		report.Summary = fmt.Sprintf("部分完成：取消 %d 条，新建 %d 条，存在失败步骤", report.CancelledCount, report.CreatedCount)
	}

	s.logger.Info("履约重算完成",
		zap.String("line_id", lineID),
		zap.String("spec_id", newSpecID),
		zap.Int("cancelled", report.CancelledCount),
		zap.Int("created", report.CreatedCount),
		zap.Bool("success", report.Success))
	return report
}

// ValidateIntegrity 扫描规格目录的完整性缺陷
//
// 检查：作用域内多条基础规格、基础与定制同时标记、缺失回引的
// 定制规格。健康时返回空切片。只读，不做修复。
func (s *ReconcileService) ValidateIntegrity(ctx context.Context) ([]IntegrityFinding, error) {
	var findings []IntegrityFinding

	variantScopes, err := s.specRepo.DuplicateVariantScopes(ctx)
	if err != nil {
		return nil, err
	}
	for _, productID := range variantScopes {
		bases, err := s.specRepo.ListVariantBases(ctx, productID)
		if err != nil {
			return nil, err
		}
		findings = append(findings, IntegrityFinding{
			Kind:    FindingDuplicateVariantBase,
			Scope:   productID,
			SpecIDs: specIDs(bases),
			Message: fmt.Sprintf("变体 %s 存在 %d 条基础规格", productID, len(bases)),
		})
	}

	templateScopes, err := s.specRepo.DuplicateTemplateScopes(ctx)
	if err != nil {
		return nil, err
	}
	for _, templateID := range templateScopes {
		bases, err := s.specRepo.ListTemplateBases(ctx, templateID)
		if err != nil {
			return nil, err
		}
		findings = append(findings, IntegrityFinding{
			Kind:    FindingDuplicateTemplateBase,
			Scope:   templateID,
			SpecIDs: specIDs(bases),
			Message: fmt.Sprintf("模板 %s 存在 %d 条基础规格", templateID, len(bases)),
		})
	}

	conflicts, err := s.specRepo.ListBaseOverrideConflicts(ctx)
	if err != nil {
		return nil, err
	}
	for _, spec := range conflicts {
		findings = append(findings, IntegrityFinding{
			Kind:    FindingBaseOverrideConflict,
			SpecIDs: []string{spec.ID},
			Message: fmt.Sprintf("规格 %s 同时标记为基础与定制", spec.ID),
		})
	}

	orphans, err := s.specRepo.ListOrphanOverrides(ctx)
	if err != nil {
		return nil, err
	}
	for _, spec := range orphans {
		findings = append(findings, IntegrityFinding{
			Kind:    FindingOrphanOverride,
			SpecIDs: []string{spec.ID},
			Message: fmt.Sprintf("定制规格 %s 缺失基础规格或订单行引用", spec.ID),
		})
	}

	return findings, nil
}

// RepairDuplicateBases 修复重复基础规格
//
// 每个出现多条基础规格的作用域保留最早创建的一条，其余降级。
// 幂等，可作为周期性一致性清扫重复执行。返回降级条数。
func (s *ReconcileService) RepairDuplicateBases(ctx context.Context) (int, error) {
	repaired := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txSpec := repository.NewSpecRepository(tx)

		variantScopes, err := txSpec.DuplicateVariantScopes(ctx)
		if err != nil {
			return err
		}
		for _, productID := range variantScopes {
			bases, err := txSpec.ListVariantBases(ctx, productID)
			if err != nil {
				return err
			}
			n, err := demoteAllButFirst(ctx, txSpec, bases)
			if err != nil {
				return err
			}
			repaired += n
		}

		templateScopes, err := txSpec.DuplicateTemplateScopes(ctx)
		if err != nil {
			return err
		}
		for _, templateID := range templateScopes {
			bases, err := txSpec.ListTemplateBases(ctx, templateID)
			if err != nil {
				return err
			}
			n, err := demoteAllButFirst(ctx, txSpec, bases)
			if err != nil {
				return err
			}
			repaired += n
		}
		return nil
	})
	if err != nil {
		return repaired, err
	}
	if repaired > 0 {
		s.logger.Info("重复基础规格修复完成", zap.Int("demoted", repaired))
	}
	return repaired, nil
}

// demoteAllButFirst 保留最早一条，其余取消基础标记
func demoteAllButFirst(ctx context.Context, specRepo *repository.SpecRepository, bases []entity.Spec) (int, error) {
	demoted := 0
	for i := 1; i < len(bases); i++ {
		bases[i].IsBase = false
		bases[i].UpdatedAt = time.Now()
		if err := specRepo.Update(ctx, &bases[i]); err != nil {
			return demoted, fmt.Errorf("demote spec %s: %w", bases[i].ID, err)
		}
		demoted++
	}
	return demoted, nil
}

func specIDs(specs []entity.Spec) []string {
	ids := make([]string, 0, len(specs))
	for _, s := range specs {
		ids = append(ids, s.ID)
	}
	return ids
}
