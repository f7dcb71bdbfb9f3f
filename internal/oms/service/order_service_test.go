package service

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/bitfantasy/nimo-oms/internal/oms/entity"
	"github.com/bitfantasy/nimo-oms/internal/oms/testutil"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestOrderStateMachine(t *testing.T) {
	db, _, svc := newTestEnv(t)
	ctx := context.Background()

	tmpl := testutil.SeedTemplate(t, db, "音箱", false)
	product := testutil.SeedProduct(t, db, tmpl, "音箱-标准", 0)

	order, err := svc.Order.CreateOrder(ctx, &CreateOrderInput{
		CustomerName: "客户",
		Lines:        []OrderLineInput{{ProductID: product.ID, Quantity: 2, UnitPrice: 50}},
	}, "tester")
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.State != entity.OrderStateDraft {
		t.Fatalf("初始状态应为 draft，得到 %s", order.State)
	}
	if !almostEqual(order.TotalAmount, 100) {
		t.Fatalf("订单总额应为100，得到 %v", order.TotalAmount)
	}

	// draft → sent → approved
	if _, err := svc.Order.MarkSent(ctx, order.ID); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
	approved, err := svc.Order.Approve(ctx, order.ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approved.State != entity.OrderStateApproved || approved.ApprovedAt == nil {
		t.Fatal("审批后状态应为 approved 且记录时间")
	}

	// 审批不可重复（不可回退也不可重入）
	if _, err := svc.Order.Approve(ctx, order.ID); err == nil {
		t.Fatal("approved 订单不应再次审批")
	}

	// approved → committed
	committed, shipment, err := svc.Order.Commit(ctx, order.ID)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if committed.State != entity.OrderStateCommitted || committed.CommittedAt == nil {
		t.Fatal("提交后状态应为 committed")
	}
	if shipment == nil || shipment.Status != entity.ShipmentStatusConfirmed {
		t.Fatal("提交应生成已确认的发运单")
	}

	// committed 不可重复提交
	if _, _, err := svc.Order.Commit(ctx, order.ID); err == nil {
		t.Fatal("committed 订单不应再次提交")
	}
}

func TestApproveFromDraftDirectly(t *testing.T) {
	db, _, svc := newTestEnv(t)
	ctx := context.Background()

	tmpl := testutil.SeedTemplate(t, db, "音箱", false)
	product := testutil.SeedProduct(t, db, tmpl, "音箱-标准", 0)

	order, _ := svc.Order.CreateOrder(ctx, &CreateOrderInput{
		CustomerName: "客户",
		Lines:        []OrderLineInput{{ProductID: product.ID, Quantity: 1, UnitPrice: 10}},
	}, "tester")

	if _, err := svc.Order.Approve(ctx, order.ID); err != nil {
		t.Fatalf("draft 可直接审批: %v", err)
	}
}

func TestCustomizeGuardMatrix(t *testing.T) {
	db, repos, svc := newTestEnv(t)
	ctx := context.Background()

	tmpl := testutil.SeedTemplate(t, db, "定制音箱", true)
	product := testutil.SeedProduct(t, db, tmpl, "定制音箱-黑", 0)
	plainTmpl := testutil.SeedTemplate(t, db, "普通音箱", false)
	plain := testutil.SeedProduct(t, db, plainTmpl, "普通音箱-标准", 0)

	order, _ := svc.Order.CreateOrder(ctx, &CreateOrderInput{
		CustomerName: "客户",
		Lines: []OrderLineInput{
			{ProductID: product.ID, Quantity: 1, UnitPrice: 10},
			{ProductID: plain.ID, Quantity: 1, UnitPrice: 10},
		},
	}, "tester")

	var configLine, plainLine *entity.OrderLine
	full, _ := repos.Order.FindByID(ctx, order.ID)
	for i := range full.Lines {
		if full.Lines[i].ProductID == product.ID {
			configLine = &full.Lines[i]
		} else {
			plainLine = &full.Lines[i]
		}
	}

	// draft：一律不可定制
	if svc.Order.CanCustomize(full, configLine) {
		t.Fatal("draft 状态不应允许定制")
	}

	// approved：可配置行允许，普通行不允许
	svc.Order.Approve(ctx, order.ID)
	full, _ = repos.Order.FindByID(ctx, order.ID)
	if !svc.Order.CanCustomize(full, configLine) {
		t.Fatal("approved 状态可配置行应允许定制")
	}
	if svc.Order.CanCustomize(full, plainLine) {
		t.Fatal("不可配置产品不应允许定制")
	}

	// 进入定制：approved → customizing
	updated, err := svc.Order.BeginCustomization(ctx, configLine.ID)
	if err != nil {
		t.Fatalf("BeginCustomization: %v", err)
	}
	if updated.State != entity.OrderStateCustomizing {
		t.Fatalf("应进入 customizing，得到 %s", updated.State)
	}

	// 普通行进入定制被拒绝
	_, err = svc.Order.BeginCustomization(ctx, plainLine.ID)
	var stateErr *StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("期望 StateError，得到 %v", err)
	}

	// cancelled：一律不可定制
	svc.Order.Cancel(ctx, order.ID)
	full, _ = repos.Order.FindByID(ctx, order.ID)
	if svc.Order.CanCustomize(full, configLine) {
		t.Fatal("cancelled 状态不应允许定制")
	}
}

func TestCommitGateRequiresOverrideOrAcceptance(t *testing.T) {
	db, repos, svc := newTestEnv(t)
	ctx := context.Background()

	tmpl := testutil.SeedTemplate(t, db, "定制音箱", true)
	product := testutil.SeedProduct(t, db, tmpl, "定制音箱-黑", 0)
	comp := testutil.SeedProduct(t, db, tmpl, "外壳", 5)
	testutil.SeedSpec(t, db, tmpl.ID, map[string]float64{comp.ID: 1}, testutil.WithBase())

	order, _ := svc.Order.CreateOrder(ctx, &CreateOrderInput{
		CustomerName: "客户",
		Lines:        []OrderLineInput{{ProductID: product.ID, Quantity: 1, UnitPrice: 10}},
	}, "tester")
	svc.Order.Approve(ctx, order.ID)

	// 可配置行既无定制也未接受基础规格：提交被拒
	_, _, err := svc.Order.Commit(ctx, order.ID)
	var stateErr *StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("期望 StateError，得到 %v", err)
	}

	// 明确接受基础规格后放行
	lineID := order.Lines[0].ID
	if _, err := svc.Order.AcceptBase(ctx, lineID); err != nil {
		t.Fatalf("AcceptBase: %v", err)
	}
	_, shipment, err := svc.Order.Commit(ctx, order.ID)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// 物化：基础规格组件成为履约指令
	insts, err := repos.Fulfillment.ListInstructionsByShipment(ctx, shipment.ID)
	if err != nil {
		t.Fatalf("ListInstructionsByShipment: %v", err)
	}
	if len(insts) != 1 || insts[0].ProductID != comp.ID || !almostEqual(insts[0].Quantity, 1) {
		t.Fatalf("物化结果不符，得到 %+v", insts)
	}
}

func TestCommitRejectsUnresolvableConfigurableLine(t *testing.T) {
	db, _, svc := newTestEnv(t)
	ctx := context.Background()

	// 可配置产品但目录里没有任何规格：接受基础规格也无济于事
	tmpl := testutil.SeedTemplate(t, db, "定制音箱", true)
	product := testutil.SeedProduct(t, db, tmpl, "定制音箱-黑", 0)

	order, _ := svc.Order.CreateOrder(ctx, &CreateOrderInput{
		CustomerName: "客户",
		Lines:        []OrderLineInput{{ProductID: product.ID, Quantity: 1, UnitPrice: 10}},
	}, "tester")
	svc.Order.Approve(ctx, order.ID)
	if _, err := svc.Order.AcceptBase(ctx, order.Lines[0].ID); err != nil {
		t.Fatalf("AcceptBase: %v", err)
	}

	_, shipment, err := svc.Order.Commit(ctx, order.ID)
	var stateErr *StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("可配置行解析不到规格时提交应返回 StateError，得到 %v", err)
	}
	if shipment != nil {
		t.Fatal("提交失败不应生成发运单")
	}
}

func TestAcceptBaseGatedByOrderState(t *testing.T) {
	db, repos, svc := newTestEnv(t)
	ctx := context.Background()

	tmpl := testutil.SeedTemplate(t, db, "定制音箱", true)
	product := testutil.SeedProduct(t, db, tmpl, "定制音箱-黑", 0)
	comp := testutil.SeedProduct(t, db, tmpl, "外壳", 5)
	testutil.SeedSpec(t, db, tmpl.ID, map[string]float64{comp.ID: 1}, testutil.WithBase())

	order, _ := svc.Order.CreateOrder(ctx, &CreateOrderInput{
		CustomerName: "客户",
		Lines:        []OrderLineInput{{ProductID: product.ID, Quantity: 1, UnitPrice: 10}},
	}, "tester")
	lineID := order.Lines[0].ID

	// draft 阶段与其他定制动作一样被拒
	_, err := svc.Order.AcceptBase(ctx, lineID)
	var stateErr *StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("draft 订单接受基础规格应返回 StateError，得到 %v", err)
	}

	svc.Order.Approve(ctx, order.ID)
	if _, err := svc.Order.AcceptBase(ctx, lineID); err != nil {
		t.Fatalf("approved 订单应允许接受基础规格: %v", err)
	}
	line, _ := repos.Order.FindLineByID(ctx, lineID)
	if !line.AcceptBaseSpec {
		t.Fatal("接受标记未落库")
	}

	svc.Order.Cancel(ctx, order.ID)
	if _, err := svc.Order.AcceptBase(ctx, lineID); !errors.As(err, &stateErr) {
		t.Fatalf("cancelled 订单接受基础规格应返回 StateError，得到 %v", err)
	}
}

func TestAttachOverrideRepricesBeforeCommit(t *testing.T) {
	db, repos, svc := newTestEnv(t)
	ctx := context.Background()

	tmpl := testutil.SeedTemplate(t, db, "定制音箱", true)
	product := testutil.SeedProduct(t, db, tmpl, "定制音箱-黑", 0)
	compA := testutil.SeedProduct(t, db, tmpl, "外壳", 10)
	compB := testutil.SeedProduct(t, db, tmpl, "喇叭", 20)
	testutil.SeedSpec(t, db, tmpl.ID, map[string]float64{compA.ID: 1}, testutil.WithBase())

	order, _ := svc.Order.CreateOrder(ctx, &CreateOrderInput{
		CustomerName: "客户",
		Lines:        []OrderLineInput{{ProductID: product.ID, Quantity: 2, UnitPrice: 100}},
	}, "tester")
	svc.Order.Approve(ctx, order.ID)
	lineID := order.Lines[0].ID
	svc.Order.BeginCustomization(ctx, lineID)

	spec, report, err := svc.Order.AttachOverride(ctx, lineID, &AttachOverrideInput{
		Components: []SpecComponentInput{
			{ComponentProductID: compA.ID, Quantity: 2}, // 10*2
			{ComponentProductID: compB.ID, Quantity: 1}, // 20*1
		},
	}, "tester")
	if err != nil {
		t.Fatalf("AttachOverride: %v", err)
	}
	if report != nil {
		t.Fatal("未提交订单不应触发履约重算")
	}
	if spec == nil || !spec.IsOverride {
		t.Fatal("应创建定制规格")
	}

	// 成本 40 × 1.2 = 48
	line, _ := repos.Order.FindLineByID(ctx, lineID)
	if !almostEqual(line.UnitPrice, 48) {
		t.Fatalf("定制后单价应为48，得到 %v", line.UnitPrice)
	}
	if !almostEqual(line.Amount, 96) {
		t.Fatalf("定制后行金额应为96，得到 %v", line.Amount)
	}
	if line.OverrideSpecID == nil || *line.OverrideSpecID != spec.ID {
		t.Fatal("订单行应绑定定制规格")
	}

	updated, _ := repos.Order.FindByID(ctx, order.ID)
	if !almostEqual(updated.TotalAmount, 96) {
		t.Fatalf("订单总额应刷新为96，得到 %v", updated.TotalAmount)
	}
}

func TestCancelCascadesFulfillment(t *testing.T) {
	db, repos, svc := newTestEnv(t)
	ctx := context.Background()

	tmpl := testutil.SeedTemplate(t, db, "音箱", false)
	product := testutil.SeedProduct(t, db, tmpl, "音箱-标准", 0)
	comp := testutil.SeedProduct(t, db, tmpl, "外壳", 5)
	testutil.SeedSpec(t, db, tmpl.ID, map[string]float64{comp.ID: 2}, testutil.WithBase())

	order, _ := svc.Order.CreateOrder(ctx, &CreateOrderInput{
		CustomerName: "客户",
		Lines:        []OrderLineInput{{ProductID: product.ID, Quantity: 1, UnitPrice: 10}},
	}, "tester")
	svc.Order.Approve(ctx, order.ID)
	_, shipment, err := svc.Order.Commit(ctx, order.ID)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	cancelled, err := svc.Order.Cancel(ctx, order.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.State != entity.OrderStateCancelled {
		t.Fatal("订单应进入 cancelled")
	}

	got, _ := repos.Fulfillment.FindShipmentByID(ctx, shipment.ID)
	if got.Status != entity.ShipmentStatusCancelled {
		t.Fatalf("发运单应被取消，得到 %s", got.Status)
	}
	for _, inst := range got.Instructions {
		if !inst.Terminal() {
			t.Fatalf("履约指令应全部终结，得到 %s", inst.Status)
		}
	}

	// 取消幂等
	if _, err := svc.Order.Cancel(ctx, order.ID); err != nil {
		t.Fatalf("重复取消应为空操作: %v", err)
	}
}
