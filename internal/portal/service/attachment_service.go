package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/yutthachai69/request-sub000/internal/portal/entity"
	"github.com/yutthachai69/request-sub000/internal/portal/repository"
	"go.uber.org/zap"
)

// AttachmentService 申请单附件服务（证据文件，存 MinIO）
// minioClient 为 nil 时上传直接报错，查询仍可用
type AttachmentService struct {
	requestRepo *repository.RequestRepository
	minioClient *minio.Client
	bucket      string
	logger      *zap.Logger
}

// NewAttachmentService 创建附件服务
func NewAttachmentService(requestRepo *repository.RequestRepository, minioClient *minio.Client, bucket string, logger *zap.Logger) *AttachmentService {
	return &AttachmentService{
		requestRepo: requestRepo,
		minioClient: minioClient,
		bucket:      bucket,
		logger:      logger,
	}
}

// Upload 上传证据附件并登记
func (s *AttachmentService) Upload(ctx context.Context, requestID, fileName string, size int64, reader io.Reader, uploadedBy string) (*entity.RequestAttachment, error) {
	if s.minioClient == nil {
		return nil, fmt.Errorf("对象存储未配置，无法上传附件")
	}
	if _, err := s.requestRepo.FindByID(ctx, requestID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NewError(CodeNotFound, "申请单不存在: %s", requestID)
		}
		return nil, err
	}

	objectKey := fmt.Sprintf("requests/%s/%s-%s", requestID, uuid.New().String()[:8], fileName)
	if _, err := s.minioClient.PutObject(ctx, s.bucket, objectKey, reader, size, minio.PutObjectOptions{}); err != nil {
		return nil, fmt.Errorf("上传附件到对象存储失败: %w", err)
	}

	att := &entity.RequestAttachment{
		ID:         uuid.New().String(),
		RequestID:  requestID,
		FileName:   fileName,
		FileSize:   size,
		ObjectKey:  objectKey,
		UploadedBy: uploadedBy,
		CreatedAt:  time.Now(),
	}
	if err := s.requestRepo.CreateAttachment(ctx, att); err != nil {
		// 对象已写入但登记失败，留给对象存储生命周期策略清理
		s.logger.Warn("附件登记失败", zap.String("object_key", objectKey), zap.Error(err))
		return nil, fmt.Errorf("登记附件失败: %w", err)
	}
	return att, nil
}

// List 申请单附件列表
func (s *AttachmentService) List(ctx context.Context, requestID string) ([]entity.RequestAttachment, error) {
	return s.requestRepo.ListAttachments(ctx, requestID)
}

// PresignedURL 生成附件的临时下载链接
func (s *AttachmentService) PresignedURL(ctx context.Context, att *entity.RequestAttachment, expiry time.Duration) (string, error) {
	if s.minioClient == nil {
		return "", fmt.Errorf("对象存储未配置")
	}
	u, err := s.minioClient.PresignedGetObject(ctx, s.bucket, att.ObjectKey, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("生成下载链接失败: %w", err)
	}
	return u.String(), nil
}
