package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"
	"github.com/yutthachai69/request-sub000/internal/config"
	"github.com/yutthachai69/request-sub000/internal/middleware"
	"github.com/yutthachai69/request-sub000/internal/portal/entity"
	"github.com/yutthachai69/request-sub000/internal/portal/handler"
	"github.com/yutthachai69/request-sub000/internal/portal/repository"
	"github.com/yutthachai69/request-sub000/internal/portal/service"
	"github.com/yutthachai69/request-sub000/internal/shared/mailer"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// 加载 .env 文件
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	zapLogger, err := initLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting request portal service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
	)

	// 初始化数据库
	db, err := initDatabase(cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}

	// 建表
	if err := db.AutoMigrate(
		&entity.Role{},
		&entity.Department{},
		&entity.User{},
		&entity.Category{},
		&entity.CorrectionType{},
		&entity.Status{},
		&entity.Action{},
		&entity.WorkflowTransition{},
		&entity.SpecialApproverMapping{},
		&entity.CorrectionRequest{},
		&entity.RequestAttachment{},
		&entity.ApprovalHistory{},
	); err != nil {
		zapLogger.Warn("AutoMigrate warning", zap.Error(err))
	}

	// Seed: 内置状态。INITIAL / REVISION_REQUIRED / COMPLETED 是引擎依赖的固定编码，
	// 中间状态可以在后台按需增加
	statusSeeds := []struct {
		Code, Name, Color string
		Level             int
	}{
		{entity.StatusCodeInitial, "待审批", "#1677ff", 0},
		{"DEPT_APPROVED", "部门已批准", "#13c2c2", 1},
		{"ACCOUNTING_APPROVED", "财务已批准", "#2f54eb", 2},
		{"IT_PROCESSING", "IT处理中", "#722ed1", 3},
		{"IT_DONE", "IT已完成", "#eb2f96", 4},
		{entity.StatusCodeRevisionRequired, "退回修改", "#fa8c16", -1},
		{entity.StatusCodeCompleted, "已完成", "#52c41a", 99},
	}
	for _, ss := range statusSeeds {
		db.Exec(`INSERT INTO statuses (id, code, name, color, level, created_at, updated_at)
			VALUES (gen_random_uuid(), ?, ?, ?, ?, NOW(), NOW())
			ON CONFLICT (code) DO NOTHING`, ss.Code, ss.Name, ss.Color, ss.Level)
	}

	// Seed: 内置动作
	actionSeeds := []struct{ Code, Name string }{
		{entity.ActionCodeApprove, "批准"},
		{entity.ActionCodeReject, "驳回"},
		{entity.ActionCodeITProcess, "IT处理"},
		{entity.ActionCodeConfirmComplete, "确认完成"},
		{entity.ActionCodeCCSClose, "CCS关闭"},
	}
	for _, as := range actionSeeds {
		db.Exec(`INSERT INTO actions (id, code, name, created_at, updated_at)
			VALUES (gen_random_uuid(), ?, ?, NOW(), NOW())
			ON CONFLICT (code) DO NOTHING`, as.Code, as.Name)
	}

	// Seed: 默认角色
	roleSeeds := []struct{ Code, Name string }{
		{"requester", "申请人"},
		{"head_of_department", "部门主管"},
		{"accountant_staff", "财务专员"},
		{"it_staff", "IT专员"},
		{"ccs_staff", "CCS专员"},
		{"admin", "系统管理员"},
	}
	for _, rs := range roleSeeds {
		db.Exec(`INSERT INTO roles (id, code, name, is_system, created_at, updated_at)
			VALUES (gen_random_uuid(), ?, ?, true, NOW(), NOW())
			ON CONFLICT (code) DO NOTHING`, rs.Code, rs.Name)
	}

	// 初始化Redis
	rdb := initRedis(cfg.Redis)

	// 初始化MinIO
	minioClient, err := minio.New(cfg.MinIO.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, ""),
		Secure: cfg.MinIO.UseSSL,
	})
	if err != nil {
		zapLogger.Fatal("Failed to init MinIO client", zap.Error(err))
	}
	ensureBucket(minioClient, cfg.MinIO.Bucket, zapLogger)

	// 初始化邮件
	m := mailer.New(mailer.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})
	if !m.Enabled() {
		zapLogger.Warn("SMTP not configured, mail notifications disabled")
	}

	// 初始化依赖
	repos := repository.NewRepositories(db)
	services := service.NewServices(db, repos, rdb, minioClient, cfg.MinIO.Bucket, m, zapLogger)
	handlers := handler.NewHandlers(services, repos)

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(zapLogger))
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	registerRoutes(router, handlers, cfg)

	// 创建HTTP服务器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: 0, // Disable for SSE long-lived connections
	}

	// 启动服务器
	go func() {
		zapLogger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}

	zapLogger.Info("Server exited")
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return zapCfg.Build()
}

func initDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return db, nil
}

func initRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func ensureBucket(client *minio.Client, bucket string, zapLogger *zap.Logger) {
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		zapLogger.Warn("Failed to check MinIO bucket", zap.String("bucket", bucket), zap.Error(err))
		return
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			zapLogger.Warn("Failed to create MinIO bucket", zap.String("bucket", bucket), zap.Error(err))
		}
	}
}

func registerRoutes(r *gin.Engine, h *handler.Handlers, cfg *config.Config) {
	// 健康检查
	r.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/health/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 版本信息
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
		})
	})

	// API v1
	v1 := r.Group("/api/v1")
	{
		// SSE 实时推送（需要认证，支持 query param token）
		sseGroup := v1.Group("/sse")
		sseGroup.Use(middleware.JWTAuth(cfg.JWT.Secret))
		{
			sseGroup.GET("/events", h.SSE.Stream)
		}

		// 需要认证的接口
		authorized := v1.Group("")
		authorized.Use(middleware.JWTAuth(cfg.JWT.Secret))
		{
			// 基础数据
			authorized.GET("/categories", h.Lookup.ListCategories)
			authorized.GET("/correction-types", h.Lookup.ListCorrectionTypes)
			authorized.GET("/statuses", h.Lookup.ListStatuses)
			authorized.GET("/actions", h.Lookup.ListActions)
			authorized.GET("/roles", h.Lookup.ListRoles)
			authorized.GET("/users", h.Lookup.ListUsers)

			// 申请单
			requests := authorized.Group("/requests")
			{
				requests.POST("", h.Request.Create)
				requests.GET("", h.Request.List)
				requests.POST("/bulk-action", h.Request.PerformBulkAction)
				requests.GET("/:id", h.Request.Get)
				requests.GET("/:id/history", h.Request.GetHistory)
				requests.GET("/:id/possible-actions", h.Request.GetPossibleActions)
				requests.POST("/:id/action", h.Request.PerformAction)
				requests.POST("/:id/resubmit", h.Request.Resubmit)
				requests.POST("/:id/attachments", h.Request.UploadAttachment)
				requests.GET("/:id/attachments", h.Request.ListAttachments)
			}

			// 仪表盘
			authorized.GET("/dashboard/stats", h.Request.DashboardStats)

			// 工作流配置（仅管理员）
			workflows := authorized.Group("/workflows", middleware.RequireRole("admin"))
			{
				workflows.GET("", h.Workflow.GetWorkflow)
				workflows.POST("", h.Workflow.SaveWorkflow)
				workflows.DELETE("", h.Workflow.DeleteWorkflow)
				workflows.POST("/copy", h.Workflow.CopyWorkflow)
			}

			// 特批人映射（仅管理员）
			authorized.GET("/special-approvers", middleware.RequireRole("admin"), h.Workflow.GetSpecialApprovers)
			authorized.POST("/special-approvers", middleware.RequireRole("admin"), h.Workflow.SetSpecialApprovers)
		}
	}
}
