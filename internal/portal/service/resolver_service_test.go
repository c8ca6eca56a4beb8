package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/yutthachai69/request-sub000/internal/portal/entity"
	"github.com/yutthachai69/request-sub000/internal/portal/repository"
	"github.com/yutthachai69/request-sub000/internal/portal/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type resolverFixture struct {
	db       *gorm.DB
	repos    *repository.Repositories
	resolver *ResolverService

	category *entity.Category
	initial  *entity.Status
	dept     *entity.Status
	revision *entity.Status

	approve *entity.Action
	reject  *entity.Action

	headRole *entity.Role
	acctRole *entity.Role

	sales   *entity.Department
	finance *entity.Department
}

func setupResolverTest(t *testing.T) *resolverFixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)

	f := &resolverFixture{
		db:       db,
		repos:    repos,
		category: testutil.SeedCategory(t, db, "transfer_center", "转运中心"),
		initial:  testutil.SeedStatus(t, db, entity.StatusCodeInitial, "待审批", 0),
		dept:     testutil.SeedStatus(t, db, "DEPT_APPROVED", "部门已批准", 1),
		revision: testutil.SeedStatus(t, db, entity.StatusCodeRevisionRequired, "退回修改", -1),
		approve:  testutil.SeedAction(t, db, entity.ActionCodeApprove, "批准"),
		reject:   testutil.SeedAction(t, db, entity.ActionCodeReject, "驳回"),
		headRole: testutil.SeedRole(t, db, "head_of_department", "部门主管"),
		acctRole: testutil.SeedRole(t, db, "accountant_staff", "财务专员"),
		sales:    testutil.SeedDepartment(t, db, "sales", "销售部"),
		finance:  testutil.SeedDepartment(t, db, "finance", "财务部"),
	}
	f.resolver = NewResolverService(repos.Workflow, repos.History, NewWorkflowCache(nil, zap.NewNop()))

	// 第 0 步：部门主管（限本部门）批准或驳回
	testutil.SeedTransition(t, db, f.category.ID, nil, 0, f.initial.ID, f.approve.ID, f.headRole.ID, f.dept.ID, true)
	testutil.SeedTransition(t, db, f.category.ID, nil, 0, f.initial.ID, f.reject.ID, f.headRole.ID, f.revision.ID, true)
	return f
}

func (f *resolverFixture) newRequest(t *testing.T, requester *entity.User) *entity.CorrectionRequest {
	return testutil.SeedRequest(t, f.db, f.category, nil, f.initial.ID, requester)
}

func TestResolveByRoleAndDepartment(t *testing.T) {
	f := setupResolverTest(t)
	ctx := context.Background()

	requester := testutil.SeedUser(t, f.db, "申请人", f.acctRole, f.sales)
	sameDeptHead := testutil.SeedUser(t, f.db, "销售主管", f.headRole, f.sales)
	otherDeptHead := testutil.SeedUser(t, f.db, "财务主管", f.headRole, f.finance)
	accountant := testutil.SeedUser(t, f.db, "财务专员", f.acctRole, f.finance)
	req := f.newRequest(t, requester)

	steps, err := f.resolver.ResolvePossibleActions(ctx, nil, req, sameDeptHead)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(steps) != 1 || len(steps[0].Actions) != 2 {
		t.Fatalf("same-department head should see approve+reject, got %+v", steps)
	}

	// filter_by_department 开启时其他部门的同角色无资格
	steps, _ = f.resolver.ResolvePossibleActions(ctx, nil, req, otherDeptHead)
	if len(steps) != 0 {
		t.Fatalf("other-department head should see nothing, got %+v", steps)
	}

	// 角色不符直接无资格
	steps, _ = f.resolver.ResolvePossibleActions(ctx, nil, req, accountant)
	if len(steps) != 0 {
		t.Fatalf("wrong-role user should see nothing, got %+v", steps)
	}
}

func TestSpecialApproverMappingIsExclusive(t *testing.T) {
	f := setupResolverTest(t)
	ctx := context.Background()

	requester := testutil.SeedUser(t, f.db, "申请人", f.acctRole, f.sales)
	roleHead := testutil.SeedUser(t, f.db, "销售主管", f.headRole, f.sales)
	special := testutil.SeedUser(t, f.db, "特批财务", f.acctRole, f.finance)
	req := f.newRequest(t, requester)

	testutil.SeedMapping(t, f.db, f.category.ID, nil, 0, special.ID)

	// 映射存在时是该步的唯一授权来源：角色匹配者出局
	steps, err := f.resolver.ResolvePossibleActions(ctx, nil, req, roleHead)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(steps) != 0 {
		t.Fatalf("role-matching user must be excluded when mapping exists, got %+v", steps)
	}

	// 映射用户获得全部动作，无论其角色
	steps, _ = f.resolver.ResolvePossibleActions(ctx, nil, req, special)
	if len(steps) != 1 || len(steps[0].Actions) != 2 {
		t.Fatalf("mapped user should see approve+reject, got %+v", steps)
	}
}

func TestMappingsFollowGeneralFallback(t *testing.T) {
	f := setupResolverTest(t)
	ctx := context.Background()

	requester := testutil.SeedUser(t, f.db, "申请人", f.acctRole, f.sales)
	roleHead := testutil.SeedUser(t, f.db, "销售主管", f.headRole, f.sales)
	special := testutil.SeedUser(t, f.db, "特批财务", f.acctRole, f.finance)

	// 类型无专属规则集，流转回退到通用规则集；
	// 配在通用键上的特批人映射必须跟着生效
	ct := testutil.SeedCorrectionType(t, f.db, f.category, "address_change", "地址变更")
	req := testutil.SeedRequest(t, f.db, f.category, &ct.ID, f.initial.ID, requester)
	testutil.SeedMapping(t, f.db, f.category.ID, nil, 0, special.ID)

	steps, err := f.resolver.ResolvePossibleActions(ctx, nil, req, special)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(steps) != 1 || len(steps[0].Actions) != 2 {
		t.Fatalf("general-key mapping must apply to fallback rule set, got %+v", steps)
	}

	// 映射生效后角色匹配者同样出局
	steps, _ = f.resolver.ResolvePossibleActions(ctx, nil, req, roleHead)
	if len(steps) != 0 {
		t.Fatalf("role-matching user must be excluded by the fallback mapping, got %+v", steps)
	}
}

func TestAlreadyActedSuppression(t *testing.T) {
	f := setupResolverTest(t)
	ctx := context.Background()

	requester := testutil.SeedUser(t, f.db, "申请人", f.acctRole, f.sales)
	head := testutil.SeedUser(t, f.db, "销售主管", f.headRole, f.sales)
	req := f.newRequest(t, requester)

	appendHistory(t, f.db, req.ID, 0, head.ID, entity.ActionCodeApprove, time.Now().Add(-time.Minute))

	steps, err := f.resolver.ResolvePossibleActions(ctx, nil, req, head)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(steps) != 1 || !steps[0].AlreadyActed || len(steps[0].Actions) != 0 {
		t.Fatalf("expected already-acted marker with no actions, got %+v", steps)
	}
}

func TestRejectDoesNotCountAsActed(t *testing.T) {
	f := setupResolverTest(t)
	ctx := context.Background()

	requester := testutil.SeedUser(t, f.db, "申请人", f.acctRole, f.sales)
	head := testutil.SeedUser(t, f.db, "销售主管", f.headRole, f.sales)
	req := f.newRequest(t, requester)

	appendHistory(t, f.db, req.ID, 0, head.ID, entity.ActionCodeReject, time.Now().Add(-time.Minute))

	steps, err := f.resolver.ResolvePossibleActions(ctx, nil, req, head)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(steps) != 1 || steps[0].AlreadyActed || len(steps[0].Actions) != 2 {
		t.Fatalf("past reject must not suppress current actions, got %+v", steps)
	}
}

func TestResubmitResetsActedSteps(t *testing.T) {
	f := setupResolverTest(t)
	ctx := context.Background()

	requester := testutil.SeedUser(t, f.db, "申请人", f.acctRole, f.sales)
	head := testutil.SeedUser(t, f.db, "销售主管", f.headRole, f.sales)
	req := f.newRequest(t, requester)

	// 上一轮批准过，随后申请人重提：新一轮必须重新审批
	appendHistory(t, f.db, req.ID, 0, head.ID, entity.ActionCodeApprove, time.Now().Add(-2*time.Minute))
	appendHistory(t, f.db, req.ID, 0, requester.ID, entity.ActionCodeResubmit, time.Now().Add(-time.Minute))

	steps, err := f.resolver.ResolvePossibleActions(ctx, nil, req, head)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(steps) != 1 || steps[0].AlreadyActed || len(steps[0].Actions) != 2 {
		t.Fatalf("resubmit must reset acted steps, got %+v", steps)
	}
}

func appendHistory(t *testing.T, db *gorm.DB, requestID string, level int, approverID, actionType string, ts time.Time) {
	t.Helper()
	row := &entity.ApprovalHistory{
		ID:            uuid.New().String(),
		RequestID:     requestID,
		ApprovalLevel: level,
		ApproverID:    approverID,
		ActionType:    actionType,
		Timestamp:     ts,
	}
	if err := db.Create(row).Error; err != nil {
		t.Fatalf("Failed to append history: %v", err)
	}
}
