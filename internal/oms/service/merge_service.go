package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bitfantasy/nimo-oms/internal/oms/entity"
	"github.com/bitfantasy/nimo-oms/internal/oms/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MergeGroup 一组被合并的重复指令
type MergeGroup struct {
	SurvivorID  string   `json:"survivor_id"`
	MergedIDs   []string `json:"merged_ids"`
	ProductID   string   `json:"product_id"`
	Quantity    float64  `json:"quantity"`
	ReservedQty float64  `json:"reserved_qty"`
}

// MergeReport 重复履约指令合并报告
type MergeReport struct {
	ShipmentID  string       `json:"shipment_id"`
	Success     bool         `json:"success"`
	NothingDone bool         `json:"nothing_done"`
	MergedCount int          `json:"merged_count"` // 被并入存活指令的条数
	Summary     string       `json:"summary"`
	Groups      []MergeGroup `json:"groups,omitempty"`
}

// MergeService 重复履约指令合并
//
// 同一发运单内 (产品, 源库位, 目的库位, 单位, 订单行) 完全相同的
// 未终结指令合并为一条：最早创建的存活，数量与预留求和，其余先
// 取消再删除。拣货中或已终结的发运单拒绝合并。
type MergeService struct {
	fulfillRepo *repository.FulfillmentRepository
	db          *gorm.DB
	logger      *zap.Logger
}

func NewMergeService(repos *repository.Repositories, logger *zap.Logger) *MergeService {
	return &MergeService{
		fulfillRepo: repos.Fulfillment,
		db:          repos.DB(),
		logger:      logger,
	}
}

type mergeKey struct {
	productID string
	source    string
	dest      string
	unit      string
	lineID    string // 无订单行归属时为空串，单独成组
}

// MergeDuplicates 合并发运单内的重复履约指令
func (s *MergeService) MergeDuplicates(ctx context.Context, shipmentID string) (*MergeReport, error) {
	shipment, err := s.fulfillRepo.FindShipmentByID(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	if shipment.Terminal() || shipment.Status == entity.ShipmentStatusInTransit {
		return nil, &StateError{
			Entity:    "shipment",
			EntityID:  shipment.ID,
			State:     shipment.Status,
			Operation: "合并重复指令",
		}
	}

	report := &MergeReport{ShipmentID: shipmentID, Success: true}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txFulfill := repository.NewFulfillmentRepository(tx)
		insts, err := txFulfill.ListInstructionsByShipment(ctx, shipmentID)
		if err != nil {
			return err
		}

		groups := map[mergeKey][]entity.FulfillmentInstruction{}
		var keys []mergeKey
		for _, inst := range insts {
			if inst.Terminal() {
				continue
			}
			key := mergeKey{
				productID: inst.ProductID,
				source:    inst.SourceLocation,
				dest:      inst.DestLocation,
				unit:      inst.Unit,
			}
			if inst.OrderLineID != nil {
				key.lineID = *inst.OrderLineID
			}
			if _, ok := groups[key]; !ok {
				keys = append(keys, key)
			}
			groups[key] = append(groups[key], inst)
		}

		now := time.Now()
		for _, key := range keys {
			group := groups[key]
			if len(group) <= 1 {
				continue
			}
			sort.SliceStable(group, func(i, j int) bool {
				if group[i].CreatedAt.Equal(group[j].CreatedAt) {
					return group[i].ID < group[j].ID
				}
				return group[i].CreatedAt.Before(group[j].CreatedAt)
			})

			survivor := group[0]
			merged := MergeGroup{
				SurvivorID: survivor.ID,
				ProductID:  survivor.ProductID,
			}
			for _, dup := range group[1:] {
				survivor.Quantity += dup.Quantity
				survivor.ReservedQty += dup.ReservedQty
				// 先取消保证预留台账一致，再删除
				dup.ReservedQty = 0
				dup.Status = entity.InstructionStatusCancelled
				dup.UpdatedAt = now
				if err := txFulfill.UpdateInstruction(ctx, &dup); err != nil {
					return fmt.Errorf("cancel duplicate %s: %w", dup.ID, err)
				}
				if err := txFulfill.DeleteInstruction(ctx, dup.ID); err != nil {
					return fmt.Errorf("remove duplicate %s: %w", dup.ID, err)
				}
				merged.MergedIDs = append(merged.MergedIDs, dup.ID)
				report.MergedCount++
			}
			survivor.UpdatedAt = now
			if err := txFulfill.UpdateInstruction(ctx, &survivor); err != nil {
				return fmt.Errorf("update survivor %s: %w", survivor.ID, err)
			}
			merged.Quantity = survivor.Quantity
			merged.ReservedQty = survivor.ReservedQty
			report.Groups = append(report.Groups, merged)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(report.Groups) == 0 {
		report.NothingDone = true
		report.Summary = "没有可合并的重复指令"
		return report, nil
	}

	report.Summary = fmt.Sprintf("%d 条指令合并为 %d 条", report.MergedCount+len(report.Groups), len(report.Groups))
	s.logger.Info("重复履约指令合并完成",
		zap.String("shipment_id", shipmentID),
		zap.Int("merged", report.MergedCount),
		zap.Int("groups", len(report.Groups)))
	return report, nil
}
