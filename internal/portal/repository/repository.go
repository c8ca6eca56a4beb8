package repository

import (
	"errors"

	"gorm.io/gorm"
)

// 错误定义
var (
	ErrNotFound = errors.New("record not found")
)

// Repositories 仓库集合
type Repositories struct {
	User     *UserRepository
	Lookup   *LookupRepository
	Workflow *WorkflowRepository
	Request  *RequestRepository
	History  *HistoryRepository
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:     NewUserRepository(db),
		Lookup:   NewLookupRepository(db),
		Workflow: NewWorkflowRepository(db),
		Request:  NewRequestRepository(db),
		History:  NewHistoryRepository(db),
	}
}
