package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/yutthachai69/request-sub000/internal/portal/entity"
	"github.com/yutthachai69/request-sub000/internal/portal/repository"
	"github.com/yutthachai69/request-sub000/internal/portal/service"
	"github.com/yutthachai69/request-sub000/internal/portal/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type requestHandlerFixture struct {
	env  *testutil.TestEnv
	db   *gorm.DB
	svcs *service.Services

	category *entity.Category
	initial  *entity.Status
	dept     *entity.Status

	requester *entity.User
	head      *entity.User
}

func setupRequestHandlerTest(t *testing.T) *requestHandlerFixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	router := testutil.SetupRouter()
	repos := repository.NewRepositories(db)
	logger := zap.NewNop()

	f := &requestHandlerFixture{
		db:       db,
		category: testutil.SeedCategory(t, db, "transfer_center", "转运中心"),
		initial:  testutil.SeedStatus(t, db, entity.StatusCodeInitial, "待审批", 0),
		dept:     testutil.SeedStatus(t, db, "DEPT_APPROVED", "部门已批准", 1),
	}
	testutil.SeedStatus(t, db, entity.StatusCodeRevisionRequired, "退回修改", -1)
	completed := testutil.SeedStatus(t, db, entity.StatusCodeCompleted, "已完成", 99)
	approve := testutil.SeedAction(t, db, entity.ActionCodeApprove, "批准")
	testutil.SeedAction(t, db, entity.ActionCodeReject, "驳回")
	reqRole := testutil.SeedRole(t, db, "requester", "申请人")
	headRole := testutil.SeedRole(t, db, "head_of_department", "部门主管")
	sales := testutil.SeedDepartment(t, db, "sales", "销售部")
	f.requester = testutil.SeedUser(t, db, "申请人", reqRole, sales)
	f.head = testutil.SeedUser(t, db, "销售主管", headRole, sales)

	cache := service.NewWorkflowCache(nil, logger)
	admin := service.NewWorkflowAdminService(repos.Workflow, repos.Lookup, cache, logger)
	if err := admin.SaveWorkflow(context.Background(), service.WorkflowKey{CategoryID: f.category.ID}, []service.WorkflowStepInput{
		{ActionID: approve.ID, RequiredRoleID: headRole.ID, NextStatusID: f.dept.ID, FilterByDepartment: true},
		{ActionID: approve.ID, RequiredRoleID: headRole.ID, NextStatusID: completed.ID},
	}); err != nil {
		t.Fatalf("SaveWorkflow failed: %v", err)
	}

	f.svcs = &service.Services{
		WorkflowAdmin: admin,
		Resolver:      service.NewResolverService(repos.Workflow, repos.History, cache),
		Request:       service.NewRequestService(db, repos, logger),
	}
	f.svcs.Transition = service.NewTransitionService(db, repos, f.svcs.Resolver, nil, logger)
	h := NewRequestHandler(f.svcs, repos.User)

	api := testutil.AuthGroup(router, "/api/v1")
	api.POST("/requests", h.Create)
	api.GET("/requests", h.List)
	api.GET("/requests/:id", h.Get)
	api.GET("/requests/:id/possible-actions", h.GetPossibleActions)
	api.POST("/requests/:id/action", h.PerformAction)
	api.POST("/requests/bulk-action", h.PerformBulkAction)

	f.env = &testutil.TestEnv{DB: db, Router: router, T: t}
	return f
}

func TestCreateAndGetRequestHTTP(t *testing.T) {
	f := setupRequestHandlerTest(t)
	token := testutil.TokenFor(f.requester)

	w := testutil.DoRequest(f.env.Router, http.MethodPost, "/api/v1/requests", map[string]interface{}{
		"title":       "地址更正",
		"category_id": f.category.ID,
	}, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	body := testutil.ParseResponse(w)
	data := body["data"].(map[string]interface{})
	id := data["id"].(string)

	w = testutil.DoRequest(f.env.Router, http.MethodGet, "/api/v1/requests/"+id, nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	// 未登录必须被拦
	w = testutil.DoRequest(f.env.Router, http.MethodPost, "/api/v1/requests", map[string]interface{}{
		"title":       "x",
		"category_id": f.category.ID,
	}, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
}

func TestPossibleActionsAndActionHTTP(t *testing.T) {
	f := setupRequestHandlerTest(t)
	req := testutil.SeedRequest(t, f.db, f.category, nil, f.initial.ID, f.requester)
	headToken := testutil.TokenFor(f.head)
	requesterToken := testutil.TokenFor(f.requester)

	// 主管能看到第 0 步动作
	w := testutil.DoRequest(f.env.Router, http.MethodGet, "/api/v1/requests/"+req.ID+"/possible-actions", nil, headToken)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := testutil.ParseResponse(w)
	steps := body["data"].(map[string]interface{})["steps"].([]interface{})
	if len(steps) != 1 {
		t.Fatalf("head should see one actionable step, got %v", steps)
	}

	// 申请人无动作
	w = testutil.DoRequest(f.env.Router, http.MethodGet, "/api/v1/requests/"+req.ID+"/possible-actions", nil, requesterToken)
	body = testutil.ParseResponse(w)
	steps = body["data"].(map[string]interface{})["steps"].([]interface{})
	if len(steps) != 0 {
		t.Fatalf("requester should see no actions, got %v", steps)
	}

	// 申请人执行动作 → 40301
	w = testutil.DoRequest(f.env.Router, http.MethodPost, "/api/v1/requests/"+req.ID+"/action", map[string]interface{}{
		"action_name": entity.ActionCodeApprove,
	}, requesterToken)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
	body = testutil.ParseResponse(w)
	if body["code"].(float64) != 40301 {
		t.Fatalf("expected business code 40301, got %v", body["code"])
	}

	// 主管批准成功
	w = testutil.DoRequest(f.env.Router, http.MethodPost, "/api/v1/requests/"+req.ID+"/action", map[string]interface{}{
		"action_name": entity.ActionCodeApprove,
		"comment":     "同意",
	}, headToken)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestBulkActionHTTP(t *testing.T) {
	f := setupRequestHandlerTest(t)
	r1 := testutil.SeedRequest(t, f.db, f.category, nil, f.initial.ID, f.requester)
	r2 := testutil.SeedRequest(t, f.db, f.category, nil, f.dept.ID, f.requester)
	token := testutil.TokenFor(f.head)

	w := testutil.DoRequest(f.env.Router, http.MethodPost, "/api/v1/requests/bulk-action", map[string]interface{}{
		"request_ids": []string{r1.ID, r2.ID},
		"action_name": entity.ActionCodeApprove,
	}, token)
	// 批量永远整单 200，逐条结果在载荷里
	if w.Code != http.StatusOK {
		t.Fatalf("bulk action must return 200, got %d: %s", w.Code, w.Body.String())
	}
	body := testutil.ParseResponse(w)
	data := body["data"].(map[string]interface{})
	if data["succeeded_count"].(float64) != 2 {
		t.Fatalf("expected both items to succeed (head approves step 0 and step 1), got %v", data)
	}
}
