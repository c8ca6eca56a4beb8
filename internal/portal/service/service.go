package service

import (
	"github.com/minio/minio-go/v7"
	"github.com/redis/go-redis/v9"
	"github.com/yutthachai69/request-sub000/internal/portal/repository"
	"github.com/yutthachai69/request-sub000/internal/shared/mailer"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Services 服务集合
type Services struct {
	WorkflowAdmin *WorkflowAdminService
	Resolver      *ResolverService
	Transition    *TransitionService
	Request       *RequestService
	Attachment    *AttachmentService
	Notifier      *Notifier
}

// NewServices 创建服务集合
func NewServices(db *gorm.DB, repos *repository.Repositories, rdb *redis.Client, minioClient *minio.Client, bucket string, m *mailer.Mailer, logger *zap.Logger) *Services {
	cache := NewWorkflowCache(rdb, logger)
	notifier := NewNotifier(rdb, m, logger)
	resolver := NewResolverService(repos.Workflow, repos.History, cache)

	return &Services{
		WorkflowAdmin: NewWorkflowAdminService(repos.Workflow, repos.Lookup, cache, logger),
		Resolver:      resolver,
		Transition:    NewTransitionService(db, repos, resolver, notifier, logger),
		Request:       NewRequestService(db, repos, logger),
		Attachment:    NewAttachmentService(repos.Request, minioClient, bucket, logger),
		Notifier:      notifier,
	}
}
