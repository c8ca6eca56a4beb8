package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/yutthachai69/request-sub000/internal/middleware"
	"github.com/yutthachai69/request-sub000/internal/portal/entity"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	TestSchema = "test_portal"
	JWTSecret  = "portal-jwt-secret-key-2025"
)

// TestEnv holds test environment resources
type TestEnv struct {
	DB     *gorm.DB
	Router *gin.Engine
	T      *testing.T
}

// projectRoot returns the project root directory by looking for go.mod
func projectRoot() string {
	_, filename, _, _ := runtime.Caller(0)
	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// loadEnv loads .env from the project root
func loadEnv() {
	root := projectRoot()
	if root != "" {
		godotenv.Load(filepath.Join(root, ".env"))
	}
}

// SetupTestDB creates a test database connection using a dedicated test schema.
// Each test gets an isolated schema that is cleaned up after the test.
// Tests are skipped when no postgres instance is reachable.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	loadEnv()

	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "postgres")
	password := getEnv("DB_PASSWORD", "postgres")
	dbname := getEnv("DB_NAME", "portal")

	baseDSN := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	// Create a unique test schema for isolation
	schemaName := fmt.Sprintf("%s_%d", TestSchema, time.Now().UnixNano()%1000000)

	// First: create schema using a temporary connection
	setupDB, err := gorm.Open(postgres.Open(baseDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Skipf("postgres not available, skipping: %v", err)
	}
	if sqlDB, err := setupDB.DB(); err != nil || sqlDB.Ping() != nil {
		t.Skipf("postgres not reachable, skipping")
	}
	setupDB.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schemaName))
	sqlSetup, _ := setupDB.DB()
	sqlSetup.Close()

	// Second: open connection with search_path in DSN so ALL pooled connections use test schema
	testDSN := fmt.Sprintf("%s search_path=%s", baseDSN, schemaName)
	db, err := gorm.Open(postgres.Open(testDSN), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	// Migrate test tables
	err = db.AutoMigrate(
		&entity.User{},
		&entity.Role{},
		&entity.Department{},
		&entity.Category{},
		&entity.CorrectionType{},
		&entity.Status{},
		&entity.Action{},
		&entity.WorkflowTransition{},
		&entity.SpecialApproverMapping{},
		&entity.CorrectionRequest{},
		&entity.RequestAttachment{},
		&entity.ApprovalHistory{},
	)
	if err != nil {
		t.Fatalf("Failed to migrate test tables: %v", err)
	}

	// Cleanup on test completion
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		// Reconnect to drop the schema
		cleanDB, cleanErr := gorm.Open(postgres.Open(baseDSN), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if cleanErr == nil {
			cleanDB.Exec(fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schemaName))
			sqlClean, _ := cleanDB.DB()
			if sqlClean != nil {
				sqlClean.Close()
			}
		}
	})

	return db
}

// SetupRouter creates a gin test router
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	return r
}

// AuthGroup creates an API group with JWT auth middleware for testing
func AuthGroup(r *gin.Engine, path string) *gin.RouterGroup {
	return r.Group(path, middleware.JWTAuth(JWTSecret))
}

// GenerateTestToken creates a valid JWT token for testing
func GenerateTestToken(userID, name, email, role string) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   userID,
		"uid":   userID,
		"name":  name,
		"email": email,
		"role":  role,
		"iss":   "request-portal",
		"iat":   now.Unix(),
		"exp":   now.Add(24 * time.Hour).Unix(),
		"jti":   fmt.Sprintf("test-jti-%d", now.UnixNano()),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte(JWTSecret))
	return tokenString
}

// TokenFor returns a token for a seeded user
func TokenFor(u *entity.User) string {
	return GenerateTestToken(u.ID, u.FullName, u.Email, "admin")
}

// DoRequest executes an HTTP request against the test router
func DoRequest(r *gin.Engine, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ParseResponse parses the JSON response body into a map
func ParseResponse(w *httptest.ResponseRecorder) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &result)
	return result
}

// SeedStatus creates a workflow status row
func SeedStatus(t *testing.T, db *gorm.DB, code, name string, level int) *entity.Status {
	t.Helper()
	s := &entity.Status{ID: uuid.New().String(), Code: code, Name: name, Level: level}
	if err := db.Create(s).Error; err != nil {
		t.Fatalf("Failed to seed status %s: %v", code, err)
	}
	return s
}

// SeedAction creates an action row
func SeedAction(t *testing.T, db *gorm.DB, code, name string) *entity.Action {
	t.Helper()
	a := &entity.Action{ID: uuid.New().String(), Code: code, Name: name}
	if err := db.Create(a).Error; err != nil {
		t.Fatalf("Failed to seed action %s: %v", code, err)
	}
	return a
}

// SeedRole creates a role row
func SeedRole(t *testing.T, db *gorm.DB, code, name string) *entity.Role {
	t.Helper()
	r := &entity.Role{ID: uuid.New().String(), Code: code, Name: name}
	if err := db.Create(r).Error; err != nil {
		t.Fatalf("Failed to seed role %s: %v", code, err)
	}
	return r
}

// SeedDepartment creates a department row
func SeedDepartment(t *testing.T, db *gorm.DB, code, name string) *entity.Department {
	t.Helper()
	d := &entity.Department{ID: uuid.New().String(), Code: code, Name: name}
	if err := db.Create(d).Error; err != nil {
		t.Fatalf("Failed to seed department %s: %v", code, err)
	}
	return d
}

// SeedUser creates a user with the given role and department
func SeedUser(t *testing.T, db *gorm.DB, name string, role *entity.Role, dept *entity.Department) *entity.User {
	t.Helper()
	id := uuid.New().String()
	u := &entity.User{
		ID:       id,
		Username: "user_" + id[:8],
		FullName: name,
		Email:    "user_" + id[:8] + "@test.local",
		RoleID:   role.ID,
		Status:   "active",
	}
	if dept != nil {
		u.DepartmentID = dept.ID
	}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("Failed to seed user %s: %v", name, err)
	}
	return u
}

// SeedCategory creates a request category
func SeedCategory(t *testing.T, db *gorm.DB, code, name string) *entity.Category {
	t.Helper()
	c := &entity.Category{ID: uuid.New().String(), Code: code, Name: name, Status: "active"}
	if err := db.Create(c).Error; err != nil {
		t.Fatalf("Failed to seed category %s: %v", code, err)
	}
	return c
}

// SeedCorrectionType creates a correction type under a category
func SeedCorrectionType(t *testing.T, db *gorm.DB, cat *entity.Category, code, name string) *entity.CorrectionType {
	t.Helper()
	ct := &entity.CorrectionType{ID: uuid.New().String(), CategoryID: cat.ID, Code: code, Name: name}
	if err := db.Create(ct).Error; err != nil {
		t.Fatalf("Failed to seed correction type %s: %v", code, err)
	}
	return ct
}

// SeedTransition inserts a single workflow transition row
func SeedTransition(t *testing.T, db *gorm.DB, categoryID string, typeID *string, step int, currentStatusID, actionID, roleID, nextStatusID string, filterByDept bool) *entity.WorkflowTransition {
	t.Helper()
	tr := &entity.WorkflowTransition{
		ID:                 uuid.New().String(),
		CategoryID:         categoryID,
		CorrectionTypeID:   typeID,
		CurrentStatusID:    currentStatusID,
		ActionID:           actionID,
		RequiredRoleID:     roleID,
		NextStatusID:       nextStatusID,
		StepSequence:       step,
		FilterByDepartment: filterByDept,
	}
	if err := db.Create(tr).Error; err != nil {
		t.Fatalf("Failed to seed transition: %v", err)
	}
	return tr
}

// SeedMapping inserts a special approver mapping row
func SeedMapping(t *testing.T, db *gorm.DB, categoryID string, typeID *string, step int, userID string) *entity.SpecialApproverMapping {
	t.Helper()
	m := &entity.SpecialApproverMapping{
		ID:               uuid.New().String(),
		CategoryID:       categoryID,
		CorrectionTypeID: typeID,
		StepSequence:     step,
		UserID:           userID,
	}
	if err := db.Create(m).Error; err != nil {
		t.Fatalf("Failed to seed special approver mapping: %v", err)
	}
	return m
}

// SeedRequest creates a correction request in the given status
func SeedRequest(t *testing.T, db *gorm.DB, cat *entity.Category, typeID *string, statusID string, requester *entity.User) *entity.CorrectionRequest {
	t.Helper()
	id := uuid.New().String()
	req := &entity.CorrectionRequest{
		ID:               id,
		Code:             "CR-TEST-" + id[:8],
		Title:            "测试申请",
		CategoryID:       cat.ID,
		CorrectionTypeID: typeID,
		CurrentStatusID:  statusID,
		RequesterID:      requester.ID,
		DepartmentID:     requester.DepartmentID,
	}
	if err := db.Create(req).Error; err != nil {
		t.Fatalf("Failed to seed request: %v", err)
	}
	return req
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
