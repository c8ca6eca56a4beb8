package repository

import (
	"context"
	"errors"

	"github.com/yutthachai69/request-sub000/internal/portal/entity"
	"gorm.io/gorm"
)

// UserRepository 用户仓库
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建用户仓库
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID 根据ID查找用户
func (r *UserRepository) FindByID(ctx context.Context, id string) (*entity.User, error) {
	var user entity.User
	err := r.db.WithContext(ctx).
		Preload("Role").
		Preload("Department").
		Where("id = ?", id).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// FindByIDs 批量查找用户
func (r *UserRepository) FindByIDs(ctx context.Context, ids []string) ([]entity.User, error) {
	if len(ids) == 0 {
		return []entity.User{}, nil
	}
	var users []entity.User
	err := r.db.WithContext(ctx).
		Where("id IN ? AND status = ?", ids, "active").
		Find(&users).Error
	return users, err
}

// FindByRole 查找某角色的在职用户，可按部门过滤
func (r *UserRepository) FindByRole(ctx context.Context, roleID, departmentID string) ([]entity.User, error) {
	query := r.db.WithContext(ctx).
		Where("role_id = ? AND status = ?", roleID, "active")
	if departmentID != "" {
		query = query.Where("department_id = ?", departmentID)
	}
	var users []entity.User
	err := query.Order("full_name ASC").Find(&users).Error
	return users, err
}

// ListAll 获取全部在职用户
func (r *UserRepository) ListAll(ctx context.Context) ([]entity.User, error) {
	var users []entity.User
	err := r.db.WithContext(ctx).
		Where("status = ?", "active").
		Preload("Role").
		Preload("Department").
		Order("full_name ASC").
		Find(&users).Error
	return users, err
}
