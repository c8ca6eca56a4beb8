package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/yutthachai69/request-sub000/internal/portal/entity"
	"github.com/yutthachai69/request-sub000/internal/portal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CreateRequestReq 创建申请单参数
type CreateRequestReq struct {
	Title            string  `json:"title" binding:"required"`
	Description      string  `json:"description"`
	CategoryID       string  `json:"category_id" binding:"required"`
	CorrectionTypeID *string `json:"correction_type_id"`
}

// RequestService 申请单服务（创建、查询、打回重提、统计）
type RequestService struct {
	db          *gorm.DB
	requestRepo *repository.RequestRepository
	historyRepo *repository.HistoryRepository
	lookupRepo  *repository.LookupRepository
	logger      *zap.Logger
}

// NewRequestService 创建申请单服务
func NewRequestService(db *gorm.DB, repos *repository.Repositories, logger *zap.Logger) *RequestService {
	return &RequestService{
		db:          db,
		requestRepo: repos.Request,
		historyRepo: repos.History,
		lookupRepo:  repos.Lookup,
		logger:      logger,
	}
}

// CreateRequest 创建申请单，初始状态 INITIAL
func (s *RequestService) CreateRequest(ctx context.Context, req CreateRequestReq, requester *entity.User) (*entity.CorrectionRequest, error) {
	if _, err := s.lookupRepo.FindCategoryByID(ctx, req.CategoryID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NewError(CodeNotFound, "大类不存在: %s", req.CategoryID)
		}
		return nil, err
	}
	initial, err := s.lookupRepo.FindStatusByCode(ctx, entity.StatusCodeInitial)
	if err != nil {
		return nil, fmt.Errorf("内置状态 INITIAL 缺失: %w", err)
	}

	now := time.Now()
	request := &entity.CorrectionRequest{
		ID:               uuid.New().String(),
		Code:             fmt.Sprintf("CR-%s", now.Format("20060102-150405.000")),
		Title:            req.Title,
		Description:      req.Description,
		CategoryID:       req.CategoryID,
		CorrectionTypeID: req.CorrectionTypeID,
		CurrentStatusID:  initial.ID,
		RequesterID:      requester.ID,
		DepartmentID:     requester.DepartmentID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.requestRepo.Create(ctx, request); err != nil {
		return nil, fmt.Errorf("创建申请单失败: %w", err)
	}
	return request, nil
}

// GetRequest 获取申请单详情
func (s *RequestService) GetRequest(ctx context.Context, id string) (*entity.CorrectionRequest, error) {
	req, err := s.requestRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, NewError(CodeNotFound, "申请单不存在: %s", id)
		}
		return nil, err
	}
	return req, nil
}

// ListRequests 分页查询申请单
func (s *RequestService) ListRequests(ctx context.Context, filters map[string]interface{}, page, pageSize int) ([]entity.CorrectionRequest, int64, error) {
	return s.requestRepo.List(ctx, filters, page, pageSize)
}

// Resubmit 打回重提：REVISION_REQUIRED → INITIAL，从第 0 步重新审批
// 只有申请人本人可以重提；历史追加 RESUBMIT 记录，旧记录保留
func (s *RequestService) Resubmit(ctx context.Context, requestID string, actingUser *entity.User, comment string) (*entity.CorrectionRequest, error) {
	revision, err := s.lookupRepo.FindStatusByCode(ctx, entity.StatusCodeRevisionRequired)
	if err != nil {
		return nil, fmt.Errorf("内置状态 REVISION_REQUIRED 缺失: %w", err)
	}
	initial, err := s.lookupRepo.FindStatusByCode(ctx, entity.StatusCodeInitial)
	if err != nil {
		return nil, fmt.Errorf("内置状态 INITIAL 缺失: %w", err)
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		locked, err := s.requestRepo.LockByID(ctx, tx, requestID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return NewError(CodeNotFound, "申请单不存在: %s", requestID)
			}
			return err
		}
		if locked.RequesterID != actingUser.ID {
			return NewError(CodePermissionDenied, "只有申请人本人可以重新提交")
		}
		if locked.CurrentStatusID != revision.ID {
			return NewError(CodeStaleState, "申请单不在待修改状态，无法重新提交")
		}

		history := &entity.ApprovalHistory{
			ID:            uuid.New().String(),
			RequestID:     requestID,
			ApprovalLevel: 0,
			ApproverID:    actingUser.ID,
			ActionType:    entity.ActionCodeResubmit,
			Comment:       comment,
			Timestamp:     time.Now(),
		}
		if err := s.historyRepo.Append(ctx, tx, history); err != nil {
			return fmt.Errorf("写入重提历史失败: %w", err)
		}
		return s.requestRepo.UpdateStatus(ctx, tx, requestID, initial.ID, nil)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("request resubmitted",
		zap.String("request_id", requestID),
		zap.String("user_id", actingUser.ID),
	)
	return s.requestRepo.FindByID(ctx, requestID)
}

// GetHistory 申请单时间线（时间倒序）
func (s *RequestService) GetHistory(ctx context.Context, requestID string) ([]entity.ApprovalHistory, error) {
	return s.historyRepo.ListByRequest(ctx, requestID)
}

// GetHistoryGrouped 申请单历史按审批步骤分组
func (s *RequestService) GetHistoryGrouped(ctx context.Context, requestID string) (map[int][]entity.ApprovalHistory, error) {
	return s.historyRepo.ListByRequestGrouped(ctx, requestID)
}

// DashboardStats 按状态统计（看板图表用）
func (s *RequestService) DashboardStats(ctx context.Context) (map[string]int64, error) {
	counts, err := s.requestRepo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	statuses, err := s.lookupRepo.ListStatuses(ctx)
	if err != nil {
		return nil, err
	}
	stats := make(map[string]int64, len(statuses))
	for _, st := range statuses {
		stats[st.Code] = counts[st.ID]
	}
	return stats, nil
}
