package models

import "time"

// Trigger events a rule can bind to.
const (
	TriggerOnSubmit   = "on_submit"
	TriggerOnValidate = "on_validate"
	TriggerScheduled  = "scheduled"
)

// Assignment strategies. AssignmentDetail carries the strategy payload:
// a user id for fixed_user, a role name for round_robin_by_role, and for
// scheduled rules the cron expression lives in ScheduleSpec.
const (
	StrategyFixedUser        = "fixed_user"
	StrategySameSubmitter    = "same_submitter"
	StrategyRoundRobinByRole = "round_robin_by_role"
)

// AutomationRule 自动化规则定义。引擎只读，管理端维护。
type AutomationRule struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	Name               string    `gorm:"unique;not null" json:"name"`
	TriggerEvent       string    `gorm:"index;not null" json:"trigger_event"` // on_submit, on_validate, scheduled
	SourcePattern      string    `gorm:"not null" json:"source_pattern"`      // exact or SQL-LIKE style % wildcards
	TargetChecklist    string    `gorm:"not null" json:"target_checklist"`
	AssignmentStrategy string    `gorm:"not null" json:"assignment_strategy"`
	AssignmentDetail   string    `json:"assignment_detail"`
	ScheduleSpec       string    `json:"schedule_spec"` // cron expression, scheduled rules only
	DelayMinutes       int       `gorm:"default:0" json:"delay_minutes"`
	Active             bool      `gorm:"default:true" json:"active"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// RoundRobinState 轮询指派状态，(rule_id, role_name) 唯一。
// 通过 upsert-with-increment 原子更新。
type RoundRobinState struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	RuleID             uint      `gorm:"uniqueIndex:idx_rr_rule_role;not null" json:"rule_id"`
	RoleName           string    `gorm:"uniqueIndex:idx_rr_rule_role;not null" json:"role_name"`
	LastAssignedUserID uint      `json:"last_assigned_user_id"`
	AssignmentCount    int       `gorm:"default:0" json:"assignment_count"`
	LastAssignedAt     time.Time `json:"last_assigned_at"`
}

// Workflow types understood by the dispatcher.
const (
	WorkflowTypeNotification     = "notification"
	WorkflowTypeEscalation       = "escalation"
	WorkflowTypeTicket           = "ticket"
	WorkflowTypeComplianceReport = "compliance_report"
	WorkflowTypeGeneric          = "generic"
)

// WorkflowDefinition 事件触发的外部工作流目标
type WorkflowDefinition struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Name           string     `gorm:"unique;not null" json:"name"`
	Type           string     `gorm:"not null" json:"type"`
	TriggerEvents  string     `gorm:"not null" json:"trigger_events"` // comma separated event names
	Endpoint       string     `json:"endpoint"`
	Enabled        bool       `gorm:"default:true" json:"enabled"`
	ExecutionCount int        `gorm:"default:0" json:"execution_count"`
	LastExecutedAt *time.Time `json:"last_executed_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// WorkflowExecution 每次工作流触发的执行记录，无论投递成败都会写入
type WorkflowExecution struct {
	ID           string    `gorm:"primaryKey" json:"id"` // uuid
	WorkflowName string    `gorm:"index;not null" json:"workflow_name"`
	EventType    string    `gorm:"index;not null" json:"event_type"`
	Status       string    `gorm:"index" json:"status"` // delivered, failed, skipped
	Message      string    `gorm:"type:text" json:"message"`
	CreatedAt    time.Time `json:"created_at"`
}
