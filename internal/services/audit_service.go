package services

import (
	"context"
	"encoding/json"
	"time"

	"checkops/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Audit action types written by this core. Every state transition produces
// exactly one event; writes are best-effort and never abort the caller.
const (
	AuditNoMatchingRules     = "no-matching-rules"
	AuditRuleError           = "automation-rule-error"
	AuditNoAssignee          = "assignment-failed-no-assignee"
	AuditAssignedByRule      = "assigned-by-automation"
	AuditTemplateNotFound    = "template-not-found"
	AuditTemplateEmpty       = "template-empty"
	AuditSubmissionOverdue   = "submission-overdue"
	AuditReminderSent        = "reminder-sent"
	AuditWorkflowNoMatch     = "workflow-no-match"
	AuditWorkflowTriggered   = "workflow-triggered"
	AuditScheduleRuleSkipped = "schedule-rule-skipped"
)

// Audit categories.
const (
	CategoryAutomation = "automation"
	CategoryScheduler  = "scheduler"
	CategoryWorkflow   = "workflow"
)

// AuditService 审计事件写入
type AuditService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewAuditService(db *gorm.DB, logger *logrus.Logger) *AuditService {
	if logger == nil {
		logger = logrus.New()
	}
	return &AuditService{db: db, logger: logger}
}

// Record writes one audit event. Details may be any JSON-serializable value.
// Failures are logged and swallowed so the primary operation proceeds.
func (s *AuditService) Record(ctx context.Context, actionType, category string, details interface{}, actorUserID, submissionID *uint) {
	var detailJSON string
	if details != nil {
		if raw, err := json.Marshal(details); err == nil {
			detailJSON = string(raw)
		} else {
			s.logger.Warnf("audit: marshal details for %s: %v", actionType, err)
		}
	}

	event := &models.AuditEvent{
		ActorUserID:         actorUserID,
		ActionType:          actionType,
		Category:            category,
		Details:             detailJSON,
		RelatedSubmissionID: submissionID,
		CreatedAt:           time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		s.logger.Warnf("audit: record %s failed: %v", actionType, err)
	}
}

// List returns recent audit events, newest first.
func (s *AuditService) List(ctx context.Context, category string, limit int) ([]models.AuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := s.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if category != "" {
		query = query.Where("category = ?", category)
	}
	var events []models.AuditEvent
	if err := query.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
