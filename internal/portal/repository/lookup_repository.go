package repository

import (
	"context"
	"errors"

	"github.com/yutthachai69/request-sub000/internal/portal/entity"
	"gorm.io/gorm"
)

// LookupRepository 字典仓库（状态、动作、大类、类型、角色）
type LookupRepository struct {
	db *gorm.DB
}

// NewLookupRepository 创建字典仓库
func NewLookupRepository(db *gorm.DB) *LookupRepository {
	return &LookupRepository{db: db}
}

// FindStatusByID 根据ID查找状态
func (r *LookupRepository) FindStatusByID(ctx context.Context, id string) (*entity.Status, error) {
	var status entity.Status
	if err := r.first(ctx, &status, "id = ?", id); err != nil {
		return nil, err
	}
	return &status, nil
}

// FindStatusByCode 根据编码查找状态
func (r *LookupRepository) FindStatusByCode(ctx context.Context, code string) (*entity.Status, error) {
	var status entity.Status
	if err := r.first(ctx, &status, "code = ?", code); err != nil {
		return nil, err
	}
	return &status, nil
}

// FindActionByID 根据ID查找动作
func (r *LookupRepository) FindActionByID(ctx context.Context, id string) (*entity.Action, error) {
	var action entity.Action
	if err := r.first(ctx, &action, "id = ?", id); err != nil {
		return nil, err
	}
	return &action, nil
}

// FindActionByCode 根据编码查找动作
func (r *LookupRepository) FindActionByCode(ctx context.Context, code string) (*entity.Action, error) {
	var action entity.Action
	if err := r.first(ctx, &action, "code = ?", code); err != nil {
		return nil, err
	}
	return &action, nil
}

// FindCategoryByID 根据ID查找大类
func (r *LookupRepository) FindCategoryByID(ctx context.Context, id string) (*entity.Category, error) {
	var category entity.Category
	if err := r.first(ctx, &category, "id = ?", id); err != nil {
		return nil, err
	}
	return &category, nil
}

// ListStatuses 状态列表，按层级排序
func (r *LookupRepository) ListStatuses(ctx context.Context) ([]entity.Status, error) {
	var statuses []entity.Status
	err := r.db.WithContext(ctx).Order("level ASC").Find(&statuses).Error
	return statuses, err
}

// ListActions 动作列表
func (r *LookupRepository) ListActions(ctx context.Context) ([]entity.Action, error) {
	var actions []entity.Action
	err := r.db.WithContext(ctx).Order("code ASC").Find(&actions).Error
	return actions, err
}

// ListCategories 大类列表（带类型）
func (r *LookupRepository) ListCategories(ctx context.Context) ([]entity.Category, error) {
	var categories []entity.Category
	err := r.db.WithContext(ctx).
		Where("status = ?", "active").
		Preload("CorrectionTypes").
		Order("sort_order ASC").
		Find(&categories).Error
	return categories, err
}

// ListCorrectionTypes 指定大类下的修正类型列表
func (r *LookupRepository) ListCorrectionTypes(ctx context.Context, categoryID string) ([]entity.CorrectionType, error) {
	var types []entity.CorrectionType
	query := r.db.WithContext(ctx)
	if categoryID != "" {
		query = query.Where("category_id = ?", categoryID)
	}
	err := query.Order("sort_order ASC").Find(&types).Error
	return types, err
}

// ListRoles 角色列表
func (r *LookupRepository) ListRoles(ctx context.Context) ([]entity.Role, error) {
	var roles []entity.Role
	err := r.db.WithContext(ctx).Order("code ASC").Find(&roles).Error
	return roles, err
}

func (r *LookupRepository) first(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	err := r.db.WithContext(ctx).Where(query, args...).First(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
