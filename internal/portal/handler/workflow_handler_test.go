package handler

import (
	"net/http"
	"testing"

	"github.com/yutthachai69/request-sub000/internal/middleware"
	"github.com/yutthachai69/request-sub000/internal/portal/entity"
	"github.com/yutthachai69/request-sub000/internal/portal/repository"
	"github.com/yutthachai69/request-sub000/internal/portal/service"
	"github.com/yutthachai69/request-sub000/internal/portal/testutil"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type workflowHandlerFixture struct {
	env      *testutil.TestEnv
	db       *gorm.DB
	category *entity.Category
	special  *entity.User
}

func setupWorkflowHandlerTest(t *testing.T) *workflowHandlerFixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	router := testutil.SetupRouter()
	repos := repository.NewRepositories(db)
	logger := zap.NewNop()

	f := &workflowHandlerFixture{
		db:       db,
		category: testutil.SeedCategory(t, db, "transfer_center", "转运中心"),
	}
	acctRole := testutil.SeedRole(t, db, "accountant_staff", "财务专员")
	finance := testutil.SeedDepartment(t, db, "finance", "财务部")
	f.special = testutil.SeedUser(t, db, "特批财务", acctRole, finance)

	cache := service.NewWorkflowCache(nil, logger)
	admin := service.NewWorkflowAdminService(repos.Workflow, repos.Lookup, cache, logger)
	h := NewWorkflowHandler(admin)

	// 路由与服务端注册保持一致：顶层路径 + 管理员门禁
	api := testutil.AuthGroup(router, "/api/v1")
	api.GET("/special-approvers", middleware.RequireRole("admin"), h.GetSpecialApprovers)
	api.POST("/special-approvers", middleware.RequireRole("admin"), h.SetSpecialApprovers)

	f.env = &testutil.TestEnv{DB: db, Router: router, T: t}
	return f
}

func TestSpecialApproversHTTP(t *testing.T) {
	f := setupWorkflowHandlerTest(t)
	adminToken := testutil.GenerateTestToken(f.special.ID, "管理员", "admin@example.com", "admin")

	w := testutil.DoRequest(f.env.Router, http.MethodPost, "/api/v1/special-approvers", map[string]interface{}{
		"category_id": f.category.ID,
		"mappings": []map[string]interface{}{
			{"step": 0, "user_ids": []string{f.special.ID}},
		},
	}, adminToken)
	if w.Code != http.StatusOK {
		t.Fatalf("POST /special-approvers expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(f.env.Router, http.MethodGet, "/api/v1/special-approvers?category_id="+f.category.ID, nil, adminToken)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /special-approvers expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := testutil.ParseResponse(w)
	mappings := body["data"].(map[string]interface{})["mappings"].([]interface{})
	if len(mappings) != 1 {
		t.Fatalf("expected one step mapping, got %v", mappings)
	}
	first := mappings[0].(map[string]interface{})
	if first["step"].(float64) != 0 {
		t.Errorf("expected mapping at step 0, got %v", first)
	}
	users := first["user_ids"].([]interface{})
	if len(users) != 1 || users[0].(string) != f.special.ID {
		t.Errorf("expected mapped user %s, got %v", f.special.ID, users)
	}
}

func TestSpecialApproversRequireAdmin(t *testing.T) {
	f := setupWorkflowHandlerTest(t)
	token := testutil.GenerateTestToken(f.special.ID, f.special.FullName, f.special.Email, "accountant_staff")

	w := testutil.DoRequest(f.env.Router, http.MethodGet, "/api/v1/special-approvers?category_id="+f.category.ID, nil, token)
	if w.Code != http.StatusForbidden {
		t.Fatalf("non-admin must get 403, got %d: %s", w.Code, w.Body.String())
	}
}
