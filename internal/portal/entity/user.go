package entity

import (
	"time"
)

// User 用户实体
type User struct {
	ID           string     `json:"id" gorm:"primaryKey;size:36"`
	Username     string     `json:"username" gorm:"size:64;not null;uniqueIndex"`
	FullName     string     `json:"full_name" gorm:"size:128;not null"`
	Email        string     `json:"email" gorm:"size:128;uniqueIndex"`
	RoleID       string     `json:"role_id" gorm:"size:36;not null;index"`
	DepartmentID string     `json:"department_id" gorm:"size:36;index"`
	Status       string     `json:"status" gorm:"size:16;not null;default:active"`
	LastLoginAt  *time.Time `json:"last_login_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	// 关联
	Role       *Role       `json:"role,omitempty" gorm:"foreignKey:RoleID"`
	Department *Department `json:"department,omitempty" gorm:"foreignKey:DepartmentID"`
}

func (User) TableName() string {
	return "users"
}

// Role 角色实体
// 角色身份只允许在 Action Resolver 内参与判断，其他组件不得按角色分支
type Role struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	Code      string    `json:"code" gorm:"size:64;not null;uniqueIndex"`
	Name      string    `json:"name" gorm:"size:100;not null"`
	IsSystem  bool      `json:"is_system" gorm:"not null;default:false"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Role) TableName() string {
	return "roles"
}

// Department 部门实体
type Department struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	Code      string    `json:"code" gorm:"size:64;not null;uniqueIndex"`
	Name      string    `json:"name" gorm:"size:128;not null"`
	ParentID  string    `json:"parent_id" gorm:"size:36"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Department) TableName() string {
	return "departments"
}
