package models

import (
	"time"

	"gorm.io/gorm"
)

// User 系统用户（提交人/检查员/管理员）
type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Username  string         `gorm:"unique;not null" json:"username"`
	Email     string         `gorm:"unique;not null" json:"email"`
	Name      string         `json:"name"`
	Role      string         `gorm:"index;default:'submitter'" json:"role"` // submitter, inspector, supervisor, admin
	Status    string         `gorm:"default:'active'" json:"status"`        // active, inactive
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Submission status values. A shell submission starts at assigned and is
// moved forward by the submission/validation workflow; the overdue sweep is
// the only transition owned by this service.
const (
	SubmissionStatusAssigned      = "assigned"
	SubmissionStatusInProgress    = "in_progress"
	SubmissionStatusForValidation = "submitted_for_validation"
	SubmissionStatusValidated     = "validated"
	SubmissionStatusOverdue       = "overdue"
)

// ChecklistSubmission 清单提交记录（人工提交或自动化创建的空壳）
type ChecklistSubmission struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	SourceChecklistID string     `gorm:"index;not null" json:"source_checklist_id"`
	Title             string     `gorm:"not null" json:"title"`
	SubmitterID       *uint      `gorm:"index" json:"submitter_id"` // nil for automation-created shells
	Status            string     `gorm:"index;default:'assigned'" json:"status"`
	DueAt             *time.Time `json:"due_at"`
	AssignedUserID    *uint      `gorm:"index" json:"assigned_user_id"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`

	Submitter    *User     `gorm:"foreignKey:SubmitterID" json:"submitter,omitempty"`
	AssignedUser *User     `gorm:"foreignKey:AssignedUserID" json:"assigned_user,omitempty"`
	Headings     []Heading `gorm:"foreignKey:SubmissionID" json:"headings,omitempty"`
}

// Heading 提交内的分组标题，按 DisplayOrder 排序
type Heading struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	SubmissionID uint   `gorm:"index;not null" json:"submission_id"`
	Text         string `gorm:"not null" json:"text"`
	DisplayOrder int    `gorm:"not null" json:"display_order"` // 1-based

	Tasks []Task `gorm:"foreignKey:HeadingID" json:"tasks,omitempty"`
}

// Task 标题下的检查项
type Task struct {
	ID                        uint   `gorm:"primaryKey" json:"id"`
	HeadingID                 uint   `gorm:"index;not null" json:"heading_id"`
	Label                     string `gorm:"not null" json:"label"`
	CheckedOnSubmission       bool   `gorm:"default:false" json:"checked_on_submission"`
	CurrentStatus             string `gorm:"default:'pending'" json:"current_status"` // pending, done, failed
	SupervisorValidatedStatus string `json:"supervisor_validated_status"`
}

// Assignment 指派记录，每次流水线执行恰好创建一条
type Assignment struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SubmissionID   uint      `gorm:"index;not null" json:"submission_id"`
	AssignedUserID uint      `gorm:"index;not null" json:"assigned_user_id"`
	RuleID         *uint     `gorm:"index" json:"rule_id"` // nil for manual assignments
	DueAt          time.Time `json:"due_at"`
	Status         string    `gorm:"index;default:'assigned'" json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	Submission   ChecklistSubmission `gorm:"foreignKey:SubmissionID" json:"submission,omitempty"`
	AssignedUser User                `gorm:"foreignKey:AssignedUserID" json:"user,omitempty"`
}

// AuditEvent 审计日志，只追加。写入失败不影响主流程。
type AuditEvent struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	ActorUserID         *uint     `gorm:"index" json:"actor_user_id"`
	ActionType          string    `gorm:"index;not null" json:"action_type"`
	Category            string    `gorm:"index" json:"category"` // automation, scheduler, workflow
	Details             string    `gorm:"type:text" json:"details"`
	RelatedSubmissionID *uint     `gorm:"index" json:"related_submission_id"`
	CreatedAt           time.Time `json:"created_at"`
}
