package entity

import (
	"time"
)

// 内置状态编码
const (
	StatusCodeInitial          = "INITIAL"
	StatusCodeRevisionRequired = "REVISION_REQUIRED"
	StatusCodeCompleted        = "COMPLETED"
)

// 内置动作编码（actions 表可扩展）
const (
	ActionCodeApprove         = "APPROVE"
	ActionCodeReject          = "REJECT"
	ActionCodeITProcess       = "IT_PROCESS"
	ActionCodeConfirmComplete = "CONFIRM_COMPLETE"
	ActionCodeCCSClose        = "CCS_CLOSE"
	// 重新提交不是审批动作，只作为历史记录的动作类型
	ActionCodeResubmit = "RESUBMIT"
)

// Category 修正申请大类
type Category struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	Code      string    `json:"code" gorm:"size:50;not null;uniqueIndex"`
	Name      string    `json:"name" gorm:"size:200;not null"`
	SortOrder int       `json:"sort_order" gorm:"not null;default:0"`
	Status    string    `json:"status" gorm:"size:16;not null;default:active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// 关联
	CorrectionTypes []CorrectionType `json:"correction_types,omitempty" gorm:"foreignKey:CategoryID"`
}

func (Category) TableName() string {
	return "categories"
}

// CorrectionType 修正类型（可选细分，null 表示大类通用规则）
type CorrectionType struct {
	ID         string    `json:"id" gorm:"primaryKey;size:36"`
	CategoryID string    `json:"category_id" gorm:"size:36;not null;index"`
	Code       string    `json:"code" gorm:"size:50;not null"`
	Name       string    `json:"name" gorm:"size:200;not null"`
	SortOrder  int       `json:"sort_order" gorm:"not null;default:0"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	Category *Category `json:"category,omitempty" gorm:"foreignKey:CategoryID"`
}

func (CorrectionType) TableName() string {
	return "correction_types"
}

// Status 流程状态
type Status struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	Code      string    `json:"code" gorm:"size:50;not null;uniqueIndex"`
	Name      string    `json:"name" gorm:"size:100;not null"`
	Color     string    `json:"color" gorm:"size:20"`
	Level     int       `json:"level" gorm:"not null;default:0"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Status) TableName() string {
	return "statuses"
}

// IsTerminal 是否终态（COMPLETED 之后没有非驳回流转）
func (s *Status) IsTerminal() bool {
	return s.Code == StatusCodeCompleted
}

// Action 审批动作
type Action struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	Code      string    `json:"code" gorm:"size:50;not null;uniqueIndex"`
	Name      string    `json:"name" gorm:"size:100;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Action) TableName() string {
	return "actions"
}

// WorkflowTransition 工作流流转规则（数据驱动，按行解释执行）
// CorrectionTypeID 为 NULL 时表示该大类的通用规则集
type WorkflowTransition struct {
	ID                 string    `json:"id" gorm:"primaryKey;size:36"`
	CategoryID         string    `json:"category_id" gorm:"size:36;not null;index:idx_wt_key"`
	CorrectionTypeID   *string   `json:"correction_type_id" gorm:"size:36;index:idx_wt_key"`
	CurrentStatusID    string    `json:"current_status_id" gorm:"size:36;not null;index"`
	ActionID           string    `json:"action_id" gorm:"size:36;not null"`
	RequiredRoleID     string    `json:"required_role_id" gorm:"size:36;not null"`
	NextStatusID       string    `json:"next_status_id" gorm:"size:36;not null"`
	StepSequence       int       `json:"step_sequence" gorm:"not null;default:0"`
	FilterByDepartment bool      `json:"filter_by_department" gorm:"not null;default:false"`
	CreatedAt          time.Time `json:"created_at"`

	// 关联
	CurrentStatus *Status `json:"current_status,omitempty" gorm:"foreignKey:CurrentStatusID"`
	NextStatus    *Status `json:"next_status,omitempty" gorm:"foreignKey:NextStatusID"`
	Action        *Action `json:"action,omitempty" gorm:"foreignKey:ActionID"`
	RequiredRole  *Role   `json:"required_role,omitempty" gorm:"foreignKey:RequiredRoleID"`
}

func (WorkflowTransition) TableName() string {
	return "workflow_transitions"
}

// SpecialApproverMapping 特批人映射
// 某一步存在映射时，该步的审批资格完全以映射为准，不再看角色/部门
type SpecialApproverMapping struct {
	ID               string    `json:"id" gorm:"primaryKey;size:36"`
	CategoryID       string    `json:"category_id" gorm:"size:36;not null;index:idx_sam_key"`
	CorrectionTypeID *string   `json:"correction_type_id" gorm:"size:36;index:idx_sam_key"`
	StepSequence     int       `json:"step_sequence" gorm:"not null;default:0"`
	UserID           string    `json:"user_id" gorm:"size:36;not null;index"`
	CreatedAt        time.Time `json:"created_at"`

	User *User `json:"user,omitempty" gorm:"foreignKey:UserID"`
}

func (SpecialApproverMapping) TableName() string {
	return "special_approver_mappings"
}
