package service

import (
	"context"
	"sync"
	"testing"

	"github.com/yutthachai69/request-sub000/internal/portal/entity"
	"github.com/yutthachai69/request-sub000/internal/portal/repository"
	"github.com/yutthachai69/request-sub000/internal/portal/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type transitionFixture struct {
	db    *gorm.DB
	repos *repository.Repositories
	admin *WorkflowAdminService
	svc   *TransitionService

	category *entity.Category

	initial   *entity.Status
	dept      *entity.Status
	itDone    *entity.Status
	revision  *entity.Status
	completed *entity.Status

	approve   *entity.Action
	reject    *entity.Action
	itProcess *entity.Action

	headRole *entity.Role
	itRole   *entity.Role
	reqRole  *entity.Role

	sales *entity.Department

	requester *entity.User
	head      *entity.User
	itStaff   *entity.User
}

func setupTransitionTest(t *testing.T) *transitionFixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	logger := zap.NewNop()
	cache := NewWorkflowCache(nil, logger)
	resolver := NewResolverService(repos.Workflow, repos.History, cache)

	f := &transitionFixture{
		db:        db,
		repos:     repos,
		admin:     NewWorkflowAdminService(repos.Workflow, repos.Lookup, cache, logger),
		svc:       NewTransitionService(db, repos, resolver, nil, logger),
		category:  testutil.SeedCategory(t, db, "transfer_center", "转运中心"),
		initial:   testutil.SeedStatus(t, db, entity.StatusCodeInitial, "待审批", 0),
		dept:      testutil.SeedStatus(t, db, "DEPT_APPROVED", "部门已批准", 1),
		itDone:    testutil.SeedStatus(t, db, "IT_DONE", "IT已完成", 2),
		revision:  testutil.SeedStatus(t, db, entity.StatusCodeRevisionRequired, "退回修改", -1),
		completed: testutil.SeedStatus(t, db, entity.StatusCodeCompleted, "已完成", 99),
		approve:   testutil.SeedAction(t, db, entity.ActionCodeApprove, "批准"),
		reject:    testutil.SeedAction(t, db, entity.ActionCodeReject, "驳回"),
		itProcess: testutil.SeedAction(t, db, entity.ActionCodeITProcess, "IT处理"),
		headRole:  testutil.SeedRole(t, db, "head_of_department", "部门主管"),
		itRole:    testutil.SeedRole(t, db, "it_staff", "IT专员"),
		reqRole:   testutil.SeedRole(t, db, "requester", "申请人"),
		sales:     testutil.SeedDepartment(t, db, "sales", "销售部"),
	}
	f.requester = testutil.SeedUser(t, db, "申请人", f.reqRole, f.sales)
	f.head = testutil.SeedUser(t, db, "销售主管", f.headRole, f.sales)
	f.itStaff = testutil.SeedUser(t, db, "IT专员", f.itRole, nil)

	// 两步流：主管批准 → IT处理后直接完成
	steps := []WorkflowStepInput{
		{ActionID: f.approve.ID, RequiredRoleID: f.headRole.ID, NextStatusID: f.dept.ID, FilterByDepartment: true},
		{ActionID: f.itProcess.ID, RequiredRoleID: f.itRole.ID, NextStatusID: f.completed.ID},
	}
	if err := f.admin.SaveWorkflow(context.Background(), WorkflowKey{CategoryID: f.category.ID}, steps); err != nil {
		t.Fatalf("SaveWorkflow failed: %v", err)
	}
	return f
}

func (f *transitionFixture) newRequest(t *testing.T) *entity.CorrectionRequest {
	return testutil.SeedRequest(t, f.db, f.category, nil, f.initial.ID, f.requester)
}

func (f *transitionFixture) currentStatus(t *testing.T, id string) string {
	req, err := f.repos.Request.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	return req.CurrentStatusID
}

func TestPerformActionHappyPath(t *testing.T) {
	f := setupTransitionTest(t)
	ctx := context.Background()
	req := f.newRequest(t)

	result, err := f.svc.PerformAction(ctx, req.ID, entity.ActionCodeApprove, f.head, ActionPayload{Comment: "同意"})
	if err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if result.StepSequence != 0 {
		t.Errorf("expected step 0, got %d", result.StepSequence)
	}
	if f.currentStatus(t, req.ID) != f.dept.ID {
		t.Fatalf("request must advance to DEPT_APPROVED")
	}
	// 非终态：结果应带下一步审批人
	if len(result.NextApprovers) != 1 || result.NextApprovers[0].ID != f.itStaff.ID {
		t.Errorf("expected IT staff as next approver, got %+v", result.NextApprovers)
	}

	history, err := f.repos.History.ListByRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("ListByRequest failed: %v", err)
	}
	if len(history) != 1 || history[0].ActionType != entity.ActionCodeApprove || history[0].ApprovalLevel != 0 {
		t.Fatalf("expected one APPROVE history row at level 0, got %+v", history)
	}

	// 第二步：IT处理直达完成
	result, err = f.svc.PerformAction(ctx, req.ID, entity.ActionCodeITProcess, f.itStaff, ActionPayload{
		ITData: &ITProcessData{OperatorName: "运维张工", CompletedAt: "2026-08-29T10:00:00Z"},
	})
	if err != nil {
		t.Fatalf("it_process failed: %v", err)
	}
	if f.currentStatus(t, req.ID) != f.completed.ID {
		t.Fatalf("request must reach COMPLETED")
	}
	if result.EmailTemplate != EmailTemplateRequestCompleted || result.RequesterInfo == nil {
		t.Errorf("terminal transition must notify requester, got %+v", result)
	}

	updated, _ := f.repos.Request.FindByID(ctx, req.ID)
	if updated.ITData == nil || updated.ITData["operator_name"] != "运维张工" {
		t.Errorf("it_data must be persisted, got %+v", updated.ITData)
	}
}

func TestPerformActionPermissionDenied(t *testing.T) {
	f := setupTransitionTest(t)
	req := f.newRequest(t)

	// IT专员在第 0 步无资格
	_, err := f.svc.PerformAction(context.Background(), req.ID, entity.ActionCodeApprove, f.itStaff, ActionPayload{})
	if CodeOf(err) != CodePermissionDenied {
		t.Fatalf("expected PERMISSION_DENIED, got %v", err)
	}
	if f.currentStatus(t, req.ID) != f.initial.ID {
		t.Fatalf("denied action must not change state")
	}
}

func TestPerformActionUnknownAction(t *testing.T) {
	f := setupTransitionTest(t)
	req := f.newRequest(t)

	_, err := f.svc.PerformAction(context.Background(), req.ID, "NO_SUCH_ACTION", f.head, ActionPayload{})
	if CodeOf(err) != CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestRejectRequiresComment(t *testing.T) {
	f := setupTransitionTest(t)
	ctx := context.Background()
	req := f.newRequest(t)

	_, err := f.svc.PerformAction(ctx, req.ID, entity.ActionCodeReject, f.head, ActionPayload{Comment: "   "})
	if CodeOf(err) != CodeValidationError {
		t.Fatalf("expected VALIDATION_ERROR for blank comment, got %v", err)
	}

	result, err := f.svc.PerformAction(ctx, req.ID, entity.ActionCodeReject, f.head, ActionPayload{Comment: "材料不全"})
	if err != nil {
		t.Fatalf("reject with comment failed: %v", err)
	}
	if f.currentStatus(t, req.ID) != f.revision.ID {
		t.Fatalf("reject must land on REVISION_REQUIRED")
	}
	if result.EmailTemplate != EmailTemplateRevisionRequired {
		t.Errorf("reject must carry revision email template, got %s", result.EmailTemplate)
	}

	history, _ := f.repos.History.ListByRequest(ctx, req.ID)
	if len(history) != 1 || history[0].Comment != "材料不全" {
		t.Fatalf("expected single reject history row with comment, got %+v", history)
	}
}

func TestPermissionCheckedBeforePayload(t *testing.T) {
	f := setupTransitionTest(t)
	req := f.newRequest(t)

	// 无资格操作人 + 空意见驳回：先拒资格，不泄露载荷级校验
	_, err := f.svc.PerformAction(context.Background(), req.ID, entity.ActionCodeReject, f.itStaff, ActionPayload{})
	if code := CodeOf(err); code != CodePermissionDenied {
		t.Fatalf("expected PERMISSION_DENIED for ineligible caller, got %v", err)
	}
	if f.currentStatus(t, req.ID) != f.initial.ID {
		t.Fatalf("denied action must not change state")
	}
}

func TestITProcessRequiresOperatorData(t *testing.T) {
	f := setupTransitionTest(t)
	ctx := context.Background()
	req := f.newRequest(t)

	if _, err := f.svc.PerformAction(ctx, req.ID, entity.ActionCodeApprove, f.head, ActionPayload{}); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	_, err := f.svc.PerformAction(ctx, req.ID, entity.ActionCodeITProcess, f.itStaff, ActionPayload{})
	if CodeOf(err) != CodeValidationError {
		t.Fatalf("expected VALIDATION_ERROR without it_data, got %v", err)
	}
	_, err = f.svc.PerformAction(ctx, req.ID, entity.ActionCodeITProcess, f.itStaff, ActionPayload{
		ITData: &ITProcessData{OperatorName: "运维张工"},
	})
	if CodeOf(err) != CodeValidationError {
		t.Fatalf("expected VALIDATION_ERROR without completed_at, got %v", err)
	}
}

func TestConcurrentApproveSingleWinner(t *testing.T) {
	f := setupTransitionTest(t)
	ctx := context.Background()
	req := f.newRequest(t)
	head2 := testutil.SeedUser(t, f.db, "销售副主管", f.headRole, f.sales)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	users := []*entity.User{f.head, head2}
	for i := range users {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.PerformAction(ctx, req.ID, entity.ActionCodeApprove, users[i], ActionPayload{})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		// 后到者观察到的拒因取决于时序：锁内状态变了是 STALE_STATE，
		// 完全在提交后重解析则是 PERMISSION_DENIED
		if code := CodeOf(err); code != CodeStaleState && code != CodePermissionDenied {
			t.Errorf("loser must fail with STALE_STATE or PERMISSION_DENIED, got %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
	if f.currentStatus(t, req.ID) != f.dept.ID {
		t.Fatalf("request must advance exactly one step")
	}

	history, _ := f.repos.History.ListByRequest(ctx, req.ID)
	if len(history) != 1 {
		t.Fatalf("expected exactly one history row, got %d", len(history))
	}
}

func TestBulkActionPartialFailure(t *testing.T) {
	f := setupTransitionTest(t)
	ctx := context.Background()
	good := f.newRequest(t)
	// 已经在第二步的单，主管无资格
	advanced := testutil.SeedRequest(t, f.db, f.category, nil, f.dept.ID, f.requester)

	result := f.svc.PerformBulkAction(ctx, []string{good.ID, advanced.ID, "missing-id"}, entity.ActionCodeApprove, "批量同意", f.head)

	if result.SucceededCount != 1 || result.Succeeded[0] != good.ID {
		t.Fatalf("expected only the eligible request to succeed, got %+v", result)
	}
	if result.FailedCount != 2 {
		t.Fatalf("expected 2 failures, got %+v", result.Failed)
	}
	codes := map[string]string{}
	for _, fail := range result.Failed {
		codes[fail.ID] = fail.Code
	}
	if codes[advanced.ID] != CodePermissionDenied {
		t.Errorf("ineligible item must fail with PERMISSION_DENIED, got %s", codes[advanced.ID])
	}
	if codes["missing-id"] != CodeNotFound {
		t.Errorf("missing item must fail with NOT_FOUND, got %s", codes["missing-id"])
	}

	// 部分失败不影响成功单的流转
	if f.currentStatus(t, good.ID) != f.dept.ID {
		t.Fatalf("succeeded item must advance")
	}
	if f.currentStatus(t, advanced.ID) != f.dept.ID {
		t.Fatalf("failed item must stay put")
	}
}

func TestDoubleApproveSameStepDenied(t *testing.T) {
	f := setupTransitionTest(t)
	ctx := context.Background()
	req := f.newRequest(t)

	if _, err := f.svc.PerformAction(ctx, req.ID, entity.ActionCodeApprove, f.head, ActionPayload{}); err != nil {
		t.Fatalf("first approve failed: %v", err)
	}
	// 状态已推进，同步骤重复批准应被拒
	_, err := f.svc.PerformAction(ctx, req.ID, entity.ActionCodeApprove, f.head, ActionPayload{})
	if code := CodeOf(err); code != CodePermissionDenied {
		t.Fatalf("expected PERMISSION_DENIED on repeat approve, got %v", err)
	}
}
