package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-oms/internal/oms/entity"
	"github.com/bitfantasy/nimo-oms/internal/oms/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 默认发运库位
const (
	DefaultSourceLocation = "WH/Stock"
	DefaultDestLocation   = "Customer"
)

// 定制件成本加成系数
const costMarkup = 1.2

// OrderService 销售订单生命周期
//
// 状态机：draft → sent → approved → customizing → committed，任意
// 状态可取消。approved 不可回退。committed 后的再定制不改变状态，
// 走履约重算路径。
type OrderService struct {
	orderRepo   *repository.OrderRepository
	productRepo *repository.ProductRepository
	fulfillRepo *repository.FulfillmentRepository
	registry    *RegistryService
	resolution  *ResolutionService
	expander    *ExpanderService
	reconciler  *ReconcileService
	db          *gorm.DB
	logger      *zap.Logger
}

func NewOrderService(
	repos *repository.Repositories,
	registry *RegistryService,
	resolution *ResolutionService,
	expander *ExpanderService,
	reconciler *ReconcileService,
	logger *zap.Logger,
) *OrderService {
	return &OrderService{
		orderRepo:   repos.Order,
		productRepo: repos.Product,
		fulfillRepo: repos.Fulfillment,
		registry:    registry,
		resolution:  resolution,
		expander:    expander,
		reconciler:  reconciler,
		db:          repos.DB(),
		logger:      logger,
	}
}

type OrderLineInput struct {
	ProductID string  `json:"product_id" binding:"required"`
	Quantity  float64 `json:"quantity" binding:"required,gt=0"`
	UnitPrice float64 `json:"unit_price" binding:"gte=0"`
}

type CreateOrderInput struct {
	CustomerName string           `json:"customer_name" binding:"required"`
	Currency     string           `json:"currency"`
	Notes        string           `json:"notes"`
	Lines        []OrderLineInput `json:"lines" binding:"required,min=1,dive"`
}

// CreateOrder 创建销售订单（草稿状态）
func (s *OrderService) CreateOrder(ctx context.Context, input *CreateOrderInput, createdBy string) (*entity.SalesOrder, error) {
	order := &entity.SalesOrder{
		ID:           uuid.New().String()[:32],
		Code:         fmt.Sprintf("SO-%s%04d", time.Now().Format("20060102"), time.Now().UnixNano()%10000),
		CustomerName: input.CustomerName,
		State:        entity.OrderStateDraft,
		Currency:     input.Currency,
		Notes:        input.Notes,
		CreatedBy:    createdBy,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if order.Currency == "" {
		order.Currency = "CNY"
	}

	var total float64
	for _, li := range input.Lines {
		product, err := s.productRepo.FindByID(ctx, li.ProductID)
		if err != nil {
			return nil, fmt.Errorf("产品不存在 %s: %w", li.ProductID, err)
		}
		amount := li.Quantity * li.UnitPrice
		order.Lines = append(order.Lines, entity.OrderLine{
			ID:          uuid.New().String()[:32],
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    li.Quantity,
			Unit:        product.Unit,
			UnitPrice:   li.UnitPrice,
			Amount:      amount,
		})
		total += amount
	}
	order.TotalAmount = total

	if err := s.orderRepo.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return order, nil
}

// GetOrder 获取订单详情
func (s *OrderService) GetOrder(ctx context.Context, id string) (*entity.SalesOrder, error) {
	return s.orderRepo.FindByID(ctx, id)
}

// ListOrders 订单列表
func (s *OrderService) ListOrders(ctx context.Context, params repository.OrderListParams) ([]entity.SalesOrder, int64, error) {
	return s.orderRepo.List(ctx, params)
}

// MarkSent 标记报价已发送
func (s *OrderService) MarkSent(ctx context.Context, orderID string) (*entity.SalesOrder, error) {
	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.State != entity.OrderStateDraft {
		return nil, &StateError{Entity: "order", EntityID: order.ID, State: order.State, Operation: "标记已发送"}
	}
	order.State = entity.OrderStateSent
	order.UpdatedAt = time.Now()
	if err := s.orderRepo.Update(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// Approve 审批通过
//
// 仅允许从 draft/sent 进入，且不可回退。
func (s *OrderService) Approve(ctx context.Context, orderID string) (*entity.SalesOrder, error) {
	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.State != entity.OrderStateDraft && order.State != entity.OrderStateSent {
		return nil, &StateError{Entity: "order", EntityID: order.ID, State: order.State, Operation: "审批"}
	}
	now := time.Now()
	order.State = entity.OrderStateApproved
	order.ApprovedAt = &now
	order.UpdatedAt = now
	if err := s.orderRepo.Update(ctx, order); err != nil {
		return nil, err
	}
	s.logger.Info("订单审批通过", zap.String("order_id", order.ID), zap.String("code", order.Code))
	return order, nil
}

// CanCustomize 订单行是否可进入定制
//
// 产品可配置且订单处于 approved/customizing/committed 时为真。
func (s *OrderService) CanCustomize(order *entity.SalesOrder, line *entity.OrderLine) bool {
	if line.Product == nil || !line.Product.IsConfigurable {
		return false
	}
	switch order.State {
	case entity.OrderStateApproved, entity.OrderStateCustomizing, entity.OrderStateCommitted:
		return true
	}
	return false
}

// BeginCustomization 进入订单行定制
//
// approved 订单进入 customizing；customizing 保持不变；committed
// 订单保持 committed（修订路径），后续换规格时触发履约重算。
func (s *OrderService) BeginCustomization(ctx context.Context, lineID string) (*entity.SalesOrder, error) {
	line, err := s.orderRepo.FindLineByID(ctx, lineID)
	if err != nil {
		return nil, err
	}
	order, err := s.orderRepo.FindByID(ctx, line.OrderID)
	if err != nil {
		return nil, err
	}
	if !s.CanCustomize(order, line) {
		return nil, &StateError{Entity: "order_line", EntityID: line.ID, State: order.State, Operation: "进入定制"}
	}
	if order.State == entity.OrderStateApproved {
		order.State = entity.OrderStateCustomizing
		order.UpdatedAt = time.Now()
		if err := s.orderRepo.Update(ctx, order); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// AcceptBase 订单行明确接受基础规格
//
// 与其他定制动作同样受 CanCustomize 约束。
func (s *OrderService) AcceptBase(ctx context.Context, lineID string) (*entity.OrderLine, error) {
	line, err := s.orderRepo.FindLineByID(ctx, lineID)
	if err != nil {
		return nil, err
	}
	order, err := s.orderRepo.FindByID(ctx, line.OrderID)
	if err != nil {
		return nil, err
	}
	if !s.CanCustomize(order, line) {
		return nil, &StateError{Entity: "order_line", EntityID: line.ID, State: order.State, Operation: "接受基础规格"}
	}
	line.AcceptBaseSpec = true
	line.UpdatedAt = time.Now()
	if err := s.orderRepo.UpdateLine(ctx, line); err != nil {
		return nil, err
	}
	return line, nil
}

type AttachOverrideInput struct {
	Kind       string               `json:"kind" binding:"omitempty,oneof=manufacture kit"`
	Components []SpecComponentInput `json:"components" binding:"required,min=1,dive"`
}

// AttachOverride 为订单行创建并绑定定制规格
//
// 未提交订单：绑定后按组件标准成本重算行单价（成本加成 20%）。
// 已提交订单：绑定后触发履约重算并返回重算报告。
func (s *OrderService) AttachOverride(ctx context.Context, lineID string, input *AttachOverrideInput, createdBy string) (*entity.Spec, *ReconcileReport, error) {
	line, err := s.orderRepo.FindLineByID(ctx, lineID)
	if err != nil {
		return nil, nil, err
	}
	order, err := s.orderRepo.FindByID(ctx, line.OrderID)
	if err != nil {
		return nil, nil, err
	}
	if !s.CanCustomize(order, line) {
		return nil, nil, &StateError{Entity: "order_line", EntityID: line.ID, State: order.State, Operation: "绑定定制规格"}
	}

	spec, err := s.registry.CreateOverride(ctx, line, input.Kind, input.Components, createdBy)
	if err != nil {
		return nil, nil, err
	}

	line.OverrideSpecID = &spec.ID
	line.UpdatedAt = time.Now()

	if order.State != entity.OrderStateCommitted {
		if err := s.repriceLine(ctx, line, input.Components); err != nil {
			return nil, nil, err
		}
	}
	if err := s.orderRepo.UpdateLine(ctx, line); err != nil {
		return nil, nil, err
	}
	if order.State != entity.OrderStateCommitted {
		if err := s.refreshOrderTotal(ctx, order.ID); err != nil {
			return nil, nil, err
		}
		return spec, nil, nil
	}

	// 修订路径：订单已提交，重算履约指令
	report := s.reconciler.Reconcile(ctx, line.ID, spec.ID)
	return spec, report, nil
}

// repriceLine 按定制组件的标准成本重算行单价
func (s *OrderService) repriceLine(ctx context.Context, line *entity.OrderLine, components []SpecComponentInput) error {
	var cost float64
	for _, c := range components {
		product, err := s.productRepo.FindByID(ctx, c.ComponentProductID)
		if err != nil {
			return fmt.Errorf("组件产品不存在 %s: %w", c.ComponentProductID, err)
		}
		cost += product.StandardCost * c.Quantity
	}
	line.UnitPrice = cost * costMarkup
	line.Amount = line.UnitPrice * line.Quantity
	return nil
}

func (s *OrderService) refreshOrderTotal(ctx context.Context, orderID string) error {
	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	var total float64
	for _, line := range order.Lines {
		total += line.Amount
	}
	order.TotalAmount = total
	order.UpdatedAt = time.Now()
	return s.orderRepo.Update(ctx, order)
}

// Commit 提交订单并首次物化履约指令
//
// 提交门槛：每个可配置订单行要么已绑定定制规格，要么明确接受了
// 基础规格。通过后为每个订单行解析有效规格、展开叶子组件，在同
// 一事务内创建发运单与履约指令。展开在写入前完成，循环引用会在
// 落库前失败。
func (s *OrderService) Commit(ctx context.Context, orderID string) (*entity.SalesOrder, *entity.Shipment, error) {
	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if order.State != entity.OrderStateApproved && order.State != entity.OrderStateCustomizing {
		return nil, nil, &StateError{Entity: "order", EntityID: order.ID, State: order.State, Operation: "提交"}
	}

	for i := range order.Lines {
		line := &order.Lines[i]
		if line.Product == nil || !line.Product.IsConfigurable {
			continue
		}
		hasOverride := line.OverrideSpecID != nil && *line.OverrideSpecID != ""
		if !hasOverride && !line.AcceptBaseSpec {
			return nil, nil, &StateError{
				Entity:    "order_line",
				EntityID:  line.ID,
				State:     order.State,
				Operation: "提交（可配置行未定制也未接受基础规格）",
			}
		}
	}

	// 先解析展开再写库
	type lineLeaves struct {
		line   *entity.OrderLine
		spec   *entity.Spec
		leaves []Leaf
	}
	var materialized []lineLeaves
	for i := range order.Lines {
		line := &order.Lines[i]
		spec, err := s.resolution.resolveLine(ctx, line, ResolveOptions{})
		if err != nil {
			return nil, nil, err
		}
		// 可配置产品必须有规格可依，解析落空说明目录缺配置
		if spec == nil && line.Product != nil && line.Product.IsConfigurable {
			return nil, nil, &StateError{
				Entity:    "order_line",
				EntityID:  line.ID,
				State:     order.State,
				Operation: "提交（可配置行无任何可解析规格）",
			}
		}
		leaves, err := s.expander.Expand(ctx, spec, line.ProductID, line.Quantity)
		if err != nil {
			return nil, nil, err
		}
		materialized = append(materialized, lineLeaves{line: line, spec: spec, leaves: leaves})
	}

	now := time.Now()
	shipment := &entity.Shipment{
		ID:             uuid.New().String()[:32],
		Code:           fmt.Sprintf("SHP-%s%04d", now.Format("20060102"), now.UnixNano()%10000),
		OrderID:        order.ID,
		Status:         entity.ShipmentStatusConfirmed,
		SourceLocation: DefaultSourceLocation,
		DestLocation:   DefaultDestLocation,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txFulfill := repository.NewFulfillmentRepository(tx)
		txOrder := repository.NewOrderRepository(tx)

		if err := txFulfill.CreateShipment(ctx, shipment); err != nil {
			return fmt.Errorf("create shipment: %w", err)
		}
		for _, m := range materialized {
			for _, leaf := range m.leaves {
				inst := buildInstruction(shipment, m.line, leaf)
				if err := txFulfill.CreateInstruction(ctx, inst); err != nil {
					return fmt.Errorf("create instruction: %w", err)
				}
			}
		}
		order.State = entity.OrderStateCommitted
		order.CommittedAt = &now
		order.UpdatedAt = now
		return txOrder.Update(ctx, order)
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("订单提交，履约指令已物化",
		zap.String("order_id", order.ID),
		zap.String("shipment_id", shipment.ID))
	return order, shipment, nil
}

// Cancel 取消订单
//
// 任意状态可取消，级联取消所有未终结的发运单与履约指令。
func (s *OrderService) Cancel(ctx context.Context, orderID string) (*entity.SalesOrder, error) {
	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.State == entity.OrderStateCancelled {
		return order, nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txFulfill := repository.NewFulfillmentRepository(tx)
		txOrder := repository.NewOrderRepository(tx)

		shipments, err := txFulfill.ListShipmentsByOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		now := time.Now()
		for i := range shipments {
			shipment := &shipments[i]
			for j := range shipment.Instructions {
				inst := &shipment.Instructions[j]
				if inst.Terminal() {
					continue
				}
				inst.ReservedQty = 0
				inst.Status = entity.InstructionStatusCancelled
				inst.UpdatedAt = now
				if err := txFulfill.UpdateInstruction(ctx, inst); err != nil {
					return err
				}
			}
			if shipment.Terminal() {
				continue
			}
			shipment.Status = entity.ShipmentStatusCancelled
			shipment.UpdatedAt = now
			if err := txFulfill.UpdateShipment(ctx, shipment); err != nil {
				return err
			}
		}

		order.State = entity.OrderStateCancelled
		order.UpdatedAt = now
		return txOrder.Update(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("订单已取消", zap.String("order_id", order.ID))
	return order, nil
}

// ReconcileLine 手工触发订单行的履约重算
//
// specID 为空时按当前解析到的有效规格重算。
func (s *OrderService) ReconcileLine(ctx context.Context, lineID, specID string) *ReconcileReport {
	return s.reconciler.Reconcile(ctx, lineID, specID)
}

// ResolveLine 查询订单行当前的有效规格（只读）
func (s *OrderService) ResolveLine(ctx context.Context, lineID string) (*entity.Spec, error) {
	return s.resolution.ResolveForLine(ctx, lineID, ResolveOptions{})
}

func buildInstruction(shipment *entity.Shipment, line *entity.OrderLine, leaf Leaf) *entity.FulfillmentInstruction {
	now := time.Now()
	inst := &entity.FulfillmentInstruction{
		ID:             uuid.New().String()[:32],
		ShipmentID:     shipment.ID,
		OrderLineID:    &line.ID,
		ProductID:      leaf.ProductID,
		SourceLocation: shipment.SourceLocation,
		DestLocation:   shipment.DestLocation,
		Unit:           leaf.Unit,
		Quantity:       leaf.Quantity,
		Status:         entity.InstructionStatusConfirmed,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if leaf.SpecID != "" {
		specID := leaf.SpecID
		inst.SpecID = &specID
	}
	if leaf.ProductID == line.ProductID {
		inst.ProductName = line.ProductName
	}
	return inst
}
