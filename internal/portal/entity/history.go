package entity

import (
	"time"
)

// ApprovalHistory 审批历史（只追加，永不更新/删除）
type ApprovalHistory struct {
	ID            string    `json:"id" gorm:"primaryKey;size:36"`
	RequestID     string    `json:"request_id" gorm:"size:36;not null;index:idx_ah_request"`
	ApprovalLevel int       `json:"approval_level" gorm:"not null;default:0;index:idx_ah_request"`
	ApproverID    string    `json:"approver_id" gorm:"size:36;not null;index"`
	ActionType    string    `json:"action_type" gorm:"size:50;not null"`
	Comment       string    `json:"comment" gorm:"type:text"`
	Timestamp     time.Time `json:"timestamp" gorm:"not null;index"`

	// 关联
	Approver *User `json:"approver,omitempty" gorm:"foreignKey:ApproverID"`
}

func (ApprovalHistory) TableName() string {
	return "approval_history"
}
