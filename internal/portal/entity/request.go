package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONB JSONB类型
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("failed to scan JSONB: %v", value)
	}
	return json.Unmarshal(bytes, j)
}

// CorrectionRequest 修正申请单
type CorrectionRequest struct {
	ID               string    `json:"id" gorm:"primaryKey;size:36"`
	Code             string    `json:"code" gorm:"size:50;uniqueIndex"`
	Title            string    `json:"title" gorm:"size:200;not null"`
	Description      string    `json:"description" gorm:"type:text"`
	CategoryID       string    `json:"category_id" gorm:"size:36;not null;index"`
	CorrectionTypeID *string   `json:"correction_type_id" gorm:"size:36;index"`
	CurrentStatusID  string    `json:"current_status_id" gorm:"size:36;not null;index"`
	RequesterID      string    `json:"requester_id" gorm:"size:36;not null;index"`
	DepartmentID     string    `json:"department_id" gorm:"size:36;index"`
	ITData           JSONB     `json:"it_data" gorm:"type:jsonb"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`

	// 关联
	Category       *Category       `json:"category,omitempty" gorm:"foreignKey:CategoryID"`
	CorrectionType *CorrectionType `json:"correction_type,omitempty" gorm:"foreignKey:CorrectionTypeID"`
	CurrentStatus  *Status         `json:"current_status,omitempty" gorm:"foreignKey:CurrentStatusID"`
	Requester      *User           `json:"requester,omitempty" gorm:"foreignKey:RequesterID"`
	Department     *Department     `json:"department,omitempty" gorm:"foreignKey:DepartmentID"`
}

func (CorrectionRequest) TableName() string {
	return "correction_requests"
}

// RequestAttachment 申请单附件（证据文件，存 MinIO）
type RequestAttachment struct {
	ID         string    `json:"id" gorm:"primaryKey;size:36"`
	RequestID  string    `json:"request_id" gorm:"size:36;not null;index"`
	FileName   string    `json:"file_name" gorm:"size:256;not null"`
	FileSize   int64     `json:"file_size" gorm:"not null;default:0"`
	ObjectKey  string    `json:"object_key" gorm:"size:512;not null"`
	UploadedBy string    `json:"uploaded_by" gorm:"size:36;not null"`
	CreatedAt  time.Time `json:"created_at"`
}

func (RequestAttachment) TableName() string {
	return "request_attachments"
}
