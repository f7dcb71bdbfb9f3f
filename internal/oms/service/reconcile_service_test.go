package service

import (
	"context"
	"testing"

	"github.com/bitfantasy/nimo-oms/internal/oms/entity"
	"github.com/bitfantasy/nimo-oms/internal/oms/testutil"
)

func TestOverrideAfterCommitTriggersReconcile(t *testing.T) {
	db, repos, svc := newTestEnv(t)
	ctx := context.Background()

	tmpl := testutil.SeedTemplate(t, db, "定制音箱", true)
	product := testutil.SeedProduct(t, db, tmpl, "定制音箱-黑", 0)
	compA := testutil.SeedProduct(t, db, tmpl, "外壳A", 5)
	compB := testutil.SeedProduct(t, db, tmpl, "外壳B", 7)
	s1 := testutil.SeedSpec(t, db, tmpl.ID, map[string]float64{compA.ID: 2}, testutil.WithBase())

	order, _ := svc.Order.CreateOrder(ctx, &CreateOrderInput{
		CustomerName: "客户",
		Lines:        []OrderLineInput{{ProductID: product.ID, Quantity: 3, UnitPrice: 10}},
	}, "tester")
	lineID := order.Lines[0].ID
	svc.Order.Approve(ctx, order.ID)
	svc.Order.AcceptBase(ctx, lineID)
	if _, _, err := svc.Order.Commit(ctx, order.ID); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// 提交后换规格 S1 → S2：触发重算
	spec, report, err := svc.Order.AttachOverride(ctx, lineID, &AttachOverrideInput{
		Components: []SpecComponentInput{{ComponentProductID: compB.ID, Quantity: 1}},
	}, "tester")
	if err != nil {
		t.Fatalf("AttachOverride: %v", err)
	}
	if report == nil {
		t.Fatal("已提交订单换规格应返回重算报告")
	}
	if !report.Success {
		t.Fatalf("重算应成功: %s", report.Summary)
	}
	if report.CancelledCount != 1 || report.CreatedCount != 1 {
		t.Fatalf("报告应包含取消1/新建1，得到 %d/%d", report.CancelledCount, report.CreatedCount)
	}
	// 报告同时含取消与新建两个子步骤
	var sawCancel, sawCreate bool
	for _, step := range report.Steps {
		switch step.Name {
		case "cancel":
			sawCancel = true
		case "create":
			sawCreate = true
		}
	}
	if !sawCancel || !sawCreate {
		t.Fatal("报告应包含取消与新建两部分")
	}

	// 旧规格不再挂任何未终结指令
	active, _ := repos.Fulfillment.ListActiveInstructionsByLine(ctx, lineID)
	if len(active) != 1 {
		t.Fatalf("应只剩新规格的指令，得到 %d", len(active))
	}
	if active[0].ProductID != compB.ID || !almostEqual(active[0].Quantity, 3) {
		t.Fatalf("新指令应为 (%s, 3)，得到 (%s, %v)", compB.ID, active[0].ProductID, active[0].Quantity)
	}
	if active[0].SpecID == nil || *active[0].SpecID != spec.ID {
		t.Fatal("新指令应回引新规格")
	}
	_ = s1
}

func TestReconcileIdempotent(t *testing.T) {
	db, repos, svc := newTestEnv(t)
	ctx := context.Background()

	tmpl := testutil.SeedTemplate(t, db, "定制音箱", true)
	product := testutil.SeedProduct(t, db, tmpl, "定制音箱-黑", 0)
	comp := testutil.SeedProduct(t, db, tmpl, "外壳", 5)
	testutil.SeedSpec(t, db, tmpl.ID, map[string]float64{comp.ID: 2}, testutil.WithBase())
	specA := testutil.SeedSpec(t, db, tmpl.ID, map[string]float64{comp.ID: 4})

	order, _ := svc.Order.CreateOrder(ctx, &CreateOrderInput{
		CustomerName: "客户",
		Lines:        []OrderLineInput{{ProductID: product.ID, Quantity: 1, UnitPrice: 10}},
	}, "tester")
	lineID := order.Lines[0].ID
	svc.Order.Approve(ctx, order.ID)
	svc.Order.AcceptBase(ctx, lineID)
	if _, _, err := svc.Order.Commit(ctx, order.ID); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	first := svc.Reconcile.Reconcile(ctx, lineID, specA.ID)
	if !first.Success {
		t.Fatalf("首次重算失败: %s", first.Summary)
	}
	second := svc.Reconcile.Reconcile(ctx, lineID, specA.ID)
	if !second.Success {
		t.Fatalf("二次重算失败: %s", second.Summary)
	}

	// 连续两次重算后只有一套活跃指令
	active, _ := repos.Fulfillment.ListActiveInstructionsByLine(ctx, lineID)
	if len(active) != 1 {
		t.Fatalf("幂等性被破坏，活跃指令 %d 条", len(active))
	}
	if !almostEqual(active[0].Quantity, 4) {
		t.Fatalf("指令数量应为4，得到 %v", active[0].Quantity)
	}
}

func TestReconcileNothingToFulfill(t *testing.T) {
	db, _, svc := newTestEnv(t)
	ctx := context.Background()

	tmpl := testutil.SeedTemplate(t, db, "定制音箱", true)
	product := testutil.SeedProduct(t, db, tmpl, "定制音箱-黑", 0)
	comp := testutil.SeedProduct(t, db, tmpl, "外壳", 5)
	testutil.SeedSpec(t, db, tmpl.ID, map[string]float64{comp.ID: 1}, testutil.WithBase())
	empty := testutil.SeedSpec(t, db, tmpl.ID, nil)

	order, _ := svc.Order.CreateOrder(ctx, &CreateOrderInput{
		CustomerName: "客户",
		Lines:        []OrderLineInput{{ProductID: product.ID, Quantity: 1, UnitPrice: 10}},
	}, "tester")
	lineID := order.Lines[0].ID
	svc.Order.Approve(ctx, order.ID)
	svc.Order.AcceptBase(ctx, lineID)
	if _, _, err := svc.Order.Commit(ctx, order.ID); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	report := svc.Reconcile.Reconcile(ctx, lineID, empty.ID)
	if !report.NothingToFulfill {
		t.Fatal("空规格重算应报告无可履约内容而非静默成功")
	}
	if report.CancelledCount != 1 {
		t.Fatalf("旧指令仍应取消，得到 %d", report.CancelledCount)
	}
}

func TestReconcileReleasesReservations(t *testing.T) {
	db, repos, svc := newTestEnv(t)
	ctx := context.Background()

	tmpl := testutil.SeedTemplate(t, db, "定制音箱", true)
	product := testutil.SeedProduct(t, db, tmpl, "定制音箱-黑", 0)
	comp := testutil.SeedProduct(t, db, tmpl, "外壳", 5)
	testutil.SeedSpec(t, db, tmpl.ID, map[string]float64{comp.ID: 1}, testutil.WithBase())
	newSpec := testutil.SeedSpec(t, db, tmpl.ID, map[string]float64{comp.ID: 3})

	order, _ := svc.Order.CreateOrder(ctx, &CreateOrderInput{
		CustomerName: "客户",
		Lines:        []OrderLineInput{{ProductID: product.ID, Quantity: 1, UnitPrice: 10}},
	}, "tester")
	lineID := order.Lines[0].ID
	svc.Order.Approve(ctx, order.ID)
	svc.Order.AcceptBase(ctx, lineID)
	if _, _, err := svc.Order.Commit(ctx, order.ID); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// 模拟仓库已部分预留
	active, _ := repos.Fulfillment.ListActiveInstructionsByLine(ctx, lineID)
	active[0].ReservedQty = 0.5
	active[0].Status = entity.InstructionStatusReserved
	if err := repos.Fulfillment.UpdateInstruction(ctx, &active[0]); err != nil {
		t.Fatalf("UpdateInstruction: %v", err)
	}

	report := svc.Reconcile.Reconcile(ctx, lineID, newSpec.ID)
	if !report.Success {
		t.Fatalf("重算失败: %s", report.Summary)
	}

	old, _ := repos.Fulfillment.FindInstructionByID(ctx, active[0].ID)
	if old.Status != entity.InstructionStatusCancelled {
		t.Fatalf("旧指令应取消，得到 %s", old.Status)
	}
	if old.ReservedQty != 0 {
		t.Fatalf("取消前应释放预留，得到 %v", old.ReservedQty)
	}
}

func TestRepairDuplicateBasesIdempotent(t *testing.T) {
	db, _, svc := newTestEnv(t)
	ctx := context.Background()

	tmpl := testutil.SeedTemplate(t, db, "音箱", false)
	keep := testutil.SeedSpec(t, db, tmpl.ID, map[string]float64{"c1": 1},
		testutil.WithBase(), testutil.WithCreatedAt(mustParseTime(t, "2026-01-01T00:00:00Z")))
	testutil.SeedSpec(t, db, tmpl.ID, map[string]float64{"c2": 1},
		testutil.WithBase(), testutil.WithCreatedAt(mustParseTime(t, "2026-02-01T00:00:00Z")))
	testutil.SeedSpec(t, db, tmpl.ID, map[string]float64{"c3": 1},
		testutil.WithBase(), testutil.WithCreatedAt(mustParseTime(t, "2026-03-01T00:00:00Z")))

	repaired, err := svc.Reconcile.RepairDuplicateBases(ctx)
	if err != nil {
		t.Fatalf("RepairDuplicateBases: %v", err)
	}
	if repaired != 2 {
		t.Fatalf("应降级2条，得到 %d", repaired)
	}

	base, _ := svc.Registry.FindBase(ctx, "", tmpl.ID)
	if base == nil || base.ID != keep.ID {
		t.Fatal("应保留最早创建的基础规格")
	}

	// 幂等：再跑一遍无事发生
	repaired, err = svc.Reconcile.RepairDuplicateBases(ctx)
	if err != nil {
		t.Fatalf("RepairDuplicateBases second: %v", err)
	}
	if repaired != 0 {
		t.Fatalf("重复修复应为空操作，得到 %d", repaired)
	}

	findings, _ := svc.Reconcile.ValidateIntegrity(ctx)
	if len(findings) != 0 {
		t.Fatalf("修复后完整性检查应为空，得到 %+v", findings)
	}
}

func TestValidateIntegrityFindsAllDefectKinds(t *testing.T) {
	db, _, svc := newTestEnv(t)
	ctx := context.Background()

	tmpl := testutil.SeedTemplate(t, db, "音箱", false)

	// 基础+定制双标记
	bad := testutil.SeedSpec(t, db, tmpl.ID, map[string]float64{"c1": 1})
	bad.IsBase = true
	bad.IsOverride = true
	db.Save(bad)

	// 缺失回引的定制规格
	orphan := testutil.SeedSpec(t, db, tmpl.ID, map[string]float64{"c2": 1})
	orphan.IsOverride = true
	db.Save(orphan)

	findings, err := svc.Reconcile.ValidateIntegrity(ctx)
	if err != nil {
		t.Fatalf("ValidateIntegrity: %v", err)
	}

	kinds := map[string]bool{}
	for _, f := range findings {
		kinds[f.Kind] = true
	}
	if !kinds[FindingBaseOverrideConflict] {
		t.Fatal("应发现基础+定制双标记缺陷")
	}
	if !kinds[FindingOrphanOverride] {
		t.Fatal("应发现缺失回引的定制规格")
	}
}
