package repository

import (
	"context"

	"github.com/yutthachai69/request-sub000/internal/portal/entity"
	"gorm.io/gorm"
)

// WorkflowRepository 工作流规则仓库（流转规则 + 特批人映射）
type WorkflowRepository struct {
	db *gorm.DB
}

// NewWorkflowRepository 创建工作流规则仓库
func NewWorkflowRepository(db *gorm.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// typeScope 按 (category, correction_type) 键过滤
// correctionTypeID 为 nil 时命中通用规则集（correction_type_id IS NULL）
func typeScope(categoryID string, correctionTypeID *string) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		q = q.Where("category_id = ?", categoryID)
		if correctionTypeID == nil || *correctionTypeID == "" {
			return q.Where("correction_type_id IS NULL")
		}
		return q.Where("correction_type_id = ?", *correctionTypeID)
	}
}

// FindTransitions 获取某 (category, type) 键下的全部流转规则
// 类型专属规则集存在时优先于通用规则集
func (r *WorkflowRepository) FindTransitions(ctx context.Context, categoryID string, correctionTypeID *string) ([]entity.WorkflowTransition, error) {
	var transitions []entity.WorkflowTransition

	load := func(typeID *string) error {
		transitions = transitions[:0]
		return r.db.WithContext(ctx).
			Scopes(typeScope(categoryID, typeID)).
			Preload("CurrentStatus").
			Preload("NextStatus").
			Preload("Action").
			Preload("RequiredRole").
			Order("step_sequence ASC, created_at ASC").
			Find(&transitions).Error
	}

	if correctionTypeID != nil && *correctionTypeID != "" {
		if err := load(correctionTypeID); err != nil {
			return nil, err
		}
		if len(transitions) > 0 {
			return transitions, nil
		}
		// 类型专属规则不存在，回退到通用规则集
	}
	if err := load(nil); err != nil {
		return nil, err
	}
	return transitions, nil
}

// FindTransitionsExact 精确按键获取流转规则，不回退到通用规则集（复制/管理页用）
func (r *WorkflowRepository) FindTransitionsExact(ctx context.Context, categoryID string, correctionTypeID *string) ([]entity.WorkflowTransition, error) {
	var transitions []entity.WorkflowTransition
	err := r.db.WithContext(ctx).
		Scopes(typeScope(categoryID, correctionTypeID)).
		Order("step_sequence ASC, created_at ASC").
		Find(&transitions).Error
	return transitions, err
}

// ReplaceTransitions 在事务内整体替换某键的流转规则（先删后插）
func (r *WorkflowRepository) ReplaceTransitions(ctx context.Context, tx *gorm.DB, categoryID string, correctionTypeID *string, transitions []entity.WorkflowTransition) error {
	if err := tx.WithContext(ctx).
		Scopes(typeScope(categoryID, correctionTypeID)).
		Delete(&entity.WorkflowTransition{}).Error; err != nil {
		return err
	}
	if len(transitions) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(&transitions).Error
}

// DeleteTransitions 整体删除某键的流转规则
func (r *WorkflowRepository) DeleteTransitions(ctx context.Context, categoryID string, correctionTypeID *string) error {
	return r.db.WithContext(ctx).
		Scopes(typeScope(categoryID, correctionTypeID)).
		Delete(&entity.WorkflowTransition{}).Error
}

// FindMappings 获取某键下的特批人映射，按步骤升序
func (r *WorkflowRepository) FindMappings(ctx context.Context, categoryID string, correctionTypeID *string) ([]entity.SpecialApproverMapping, error) {
	var mappings []entity.SpecialApproverMapping
	err := r.db.WithContext(ctx).
		Scopes(typeScope(categoryID, correctionTypeID)).
		Preload("User").
		Order("step_sequence ASC, created_at ASC").
		Find(&mappings).Error
	return mappings, err
}

// ReplaceMappings 在事务内整体替换某键的特批人映射
func (r *WorkflowRepository) ReplaceMappings(ctx context.Context, tx *gorm.DB, categoryID string, correctionTypeID *string, mappings []entity.SpecialApproverMapping) error {
	if err := tx.WithContext(ctx).
		Scopes(typeScope(categoryID, correctionTypeID)).
		Delete(&entity.SpecialApproverMapping{}).Error; err != nil {
		return err
	}
	if len(mappings) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(&mappings).Error
}

// DB 返回底层连接，供服务层开启跨仓库事务
func (r *WorkflowRepository) DB() *gorm.DB {
	return r.db
}
