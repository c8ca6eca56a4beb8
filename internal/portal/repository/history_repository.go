package repository

import (
	"context"

	"github.com/yutthachai69/request-sub000/internal/portal/entity"
	"gorm.io/gorm"
)

// HistoryRepository 审批历史仓库
// 只追加账本：只暴露 Append 和查询，没有更新/删除
type HistoryRepository struct {
	db *gorm.DB
}

// NewHistoryRepository 创建审批历史仓库
func NewHistoryRepository(db *gorm.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Append 在事务内追加一条历史记录
func (r *HistoryRepository) Append(ctx context.Context, tx *gorm.DB, row *entity.ApprovalHistory) error {
	return tx.WithContext(ctx).Create(row).Error
}

// ListByRequest 按申请单查询历史，时间倒序（时间线展示）
func (r *HistoryRepository) ListByRequest(ctx context.Context, requestID string) ([]entity.ApprovalHistory, error) {
	var rows []entity.ApprovalHistory
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Preload("Approver").
		Order("timestamp DESC").
		Find(&rows).Error
	return rows, err
}

// ListByRequestGrouped 按 (申请单, 审批级) 查询历史（按步骤分组展示）
func (r *HistoryRepository) ListByRequestGrouped(ctx context.Context, requestID string) (map[int][]entity.ApprovalHistory, error) {
	var rows []entity.ApprovalHistory
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Preload("Approver").
		Order("approval_level ASC, timestamp ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	grouped := make(map[int][]entity.ApprovalHistory)
	for _, row := range rows {
		grouped[row.ApprovalLevel] = append(grouped[row.ApprovalLevel], row)
	}
	return grouped, nil
}

// ListForRequest 按申请单查询历史，时间升序（Resolver 判重用）
func (r *HistoryRepository) ListForRequest(ctx context.Context, db *gorm.DB, requestID string) ([]entity.ApprovalHistory, error) {
	if db == nil {
		db = r.db
	}
	var rows []entity.ApprovalHistory
	err := db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("timestamp ASC").
		Find(&rows).Error
	return rows, err
}
