package repository

import (
	"context"
	"errors"

	"github.com/yutthachai69/request-sub000/internal/portal/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RequestRepository 修正申请单仓库
type RequestRepository struct {
	db *gorm.DB
}

// NewRequestRepository 创建申请单仓库
func NewRequestRepository(db *gorm.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// FindByID 根据ID查找申请单（带关联）
func (r *RequestRepository) FindByID(ctx context.Context, id string) (*entity.CorrectionRequest, error) {
	var req entity.CorrectionRequest
	err := r.db.WithContext(ctx).
		Preload("Category").
		Preload("CorrectionType").
		Preload("CurrentStatus").
		Preload("Requester").
		Preload("Department").
		Where("id = ?", id).
		First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}

// LockByID 在事务内按行锁加载申请单（SELECT ... FOR UPDATE）
// 锁住后 CurrentStatusID 在事务结束前不会被并发事务改写
func (r *RequestRepository) LockByID(ctx context.Context, tx *gorm.DB, id string) (*entity.CorrectionRequest, error) {
	var req entity.CorrectionRequest
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &req, nil
}

// Create 创建申请单
func (r *RequestRepository) Create(ctx context.Context, req *entity.CorrectionRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

// UpdateStatus 在事务内推进申请单状态
func (r *RequestRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id, statusID string, itData entity.JSONB) error {
	updates := map[string]interface{}{
		"current_status_id": statusID,
	}
	if itData != nil {
		updates["it_data"] = itData
	}
	return tx.WithContext(ctx).
		Model(&entity.CorrectionRequest{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// List 分页查询申请单
func (r *RequestRepository) List(ctx context.Context, filters map[string]interface{}, page, pageSize int) ([]entity.CorrectionRequest, int64, error) {
	var requests []entity.CorrectionRequest
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.CorrectionRequest{})

	if statusID, ok := filters["status_id"].(string); ok && statusID != "" {
		query = query.Where("current_status_id = ?", statusID)
	}
	if categoryID, ok := filters["category_id"].(string); ok && categoryID != "" {
		query = query.Where("category_id = ?", categoryID)
	}
	if requesterID, ok := filters["requester_id"].(string); ok && requesterID != "" {
		query = query.Where("requester_id = ?", requesterID)
	}
	if departmentID, ok := filters["department_id"].(string); ok && departmentID != "" {
		query = query.Where("department_id = ?", departmentID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Preload("Category").
		Preload("CurrentStatus").
		Preload("Requester").
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&requests).Error

	return requests, total, err
}

// CountByStatus 按状态统计申请单数量（看板图表用）
func (r *RequestRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	type row struct {
		CurrentStatusID string
		Cnt             int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&entity.CorrectionRequest{}).
		Select("current_status_id, COUNT(*) AS cnt").
		Group("current_status_id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, rr := range rows {
		counts[rr.CurrentStatusID] = rr.Cnt
	}
	return counts, nil
}

// CreateAttachment 保存附件记录
func (r *RequestRepository) CreateAttachment(ctx context.Context, att *entity.RequestAttachment) error {
	return r.db.WithContext(ctx).Create(att).Error
}

// ListAttachments 获取申请单附件列表
func (r *RequestRepository) ListAttachments(ctx context.Context, requestID string) ([]entity.RequestAttachment, error) {
	var atts []entity.RequestAttachment
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("created_at DESC").
		Find(&atts).Error
	return atts, err
}

// DB 返回底层连接，供服务层开启事务
func (r *RequestRepository) DB() *gorm.DB {
	return r.db
}
