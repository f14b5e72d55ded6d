package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"checkops/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// AssignmentService 指派流水线：在一个事务内创建空壳提交、解析模板结构、
// 写入标题与检查项并创建指派记录。任一步失败整体回滚。
type AssignmentService struct {
	db        *gorm.DB
	templates TemplateProvider
	audit     *AuditService
	logger    *logrus.Logger
	tracer    trace.Tracer

	defaultDueWindow time.Duration
	templateTimeout  time.Duration
}

func NewAssignmentService(db *gorm.DB, templates TemplateProvider, audit *AuditService, logger *logrus.Logger) *AssignmentService {
	if logger == nil {
		logger = logrus.New()
	}
	return &AssignmentService{
		db:               db,
		templates:        templates,
		audit:            audit,
		logger:           logger,
		tracer:           otel.Tracer("checkops.assignment"),
		defaultDueWindow: 24 * time.Hour,
		templateTimeout:  10 * time.Second,
	}
}

// SetDefaultDueWindow overrides the due window applied when a rule carries
// no delay.
func (s *AssignmentService) SetDefaultDueWindow(window time.Duration) {
	if window > 0 {
		s.defaultDueWindow = window
	}
}

// SetTemplateTimeout bounds the template fetch so a stalled provider cannot
// hold the transaction open.
func (s *AssignmentService) SetTemplateTimeout(timeout time.Duration) {
	if timeout > 0 {
		s.templateTimeout = timeout
	}
}

// DueAt computes the due date for a rule: now plus the default window, or
// now plus the rule's delay when one is set. The delay replaces the window
// rather than being ignored.
func (s *AssignmentService) DueAt(rule *models.AutomationRule, now time.Time) time.Time {
	if rule.DelayMinutes > 0 {
		return now.Add(time.Duration(rule.DelayMinutes) * time.Minute)
	}
	return now.Add(s.defaultDueWindow)
}

// CreateAssignment runs the pipeline for one resolved rule and returns the
// new shell submission's id. The whole write is one transaction; a missing
// or empty template aborts it (fail closed - an assignment must not exist
// without valid structure).
func (s *AssignmentService) CreateAssignment(ctx context.Context, rule *models.AutomationRule, assigneeUserID uint) (uint, error) {
	ctx, span := s.tracer.Start(ctx, "assignment.create")
	defer span.End()
	span.SetAttributes(
		attribute.Int("rule.id", int(rule.ID)),
		attribute.String("rule.target_checklist", rule.TargetChecklist),
		attribute.String("rule.strategy", rule.AssignmentStrategy),
	)

	now := time.Now()
	dueAt := s.DueAt(rule, now)
	title := deriveTitle(rule.TargetChecklist)

	var submissionID uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		submission := &models.ChecklistSubmission{
			SourceChecklistID: rule.TargetChecklist,
			Title:             title,
			SubmitterID:       nil,
			Status:            models.SubmissionStatusAssigned,
			DueAt:             &dueAt,
			AssignedUserID:    &assigneeUserID,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := tx.Create(submission).Error; err != nil {
			return fmt.Errorf("create shell submission: %w", err)
		}

		templateCtx, cancel := context.WithTimeout(ctx, s.templateTimeout)
		defer cancel()
		headings, err := s.templates.GetTemplateStructure(templateCtx, rule.TargetChecklist)
		if err != nil {
			return err
		}

		for i, h := range headings {
			heading := &models.Heading{
				SubmissionID: submission.ID,
				Text:         h.Text,
				DisplayOrder: i + 1,
			}
			if err := tx.Create(heading).Error; err != nil {
				return fmt.Errorf("create heading %d: %w", i+1, err)
			}
			for _, task := range h.Tasks {
				row := &models.Task{
					HeadingID:           heading.ID,
					Label:               task.Label,
					CheckedOnSubmission: false,
					CurrentStatus:       "pending",
				}
				if err := tx.Create(row).Error; err != nil {
					return fmt.Errorf("create task %q: %w", task.Label, err)
				}
			}
		}

		assignment := &models.Assignment{
			SubmissionID:   submission.ID,
			AssignedUserID: assigneeUserID,
			RuleID:         &rule.ID,
			DueAt:          dueAt,
			Status:         models.SubmissionStatusAssigned,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.Create(assignment).Error; err != nil {
			return fmt.Errorf("create assignment: %w", err)
		}

		submissionID = submission.ID
		return nil
	})
	if err != nil {
		// Audit outside the rolled-back transaction.
		switch {
		case errors.Is(err, ErrTemplateNotFound):
			s.audit.Record(ctx, AuditTemplateNotFound, CategoryAutomation, map[string]interface{}{
				"rule_id":   rule.ID,
				"checklist": rule.TargetChecklist,
			}, nil, nil)
		case errors.Is(err, ErrTemplateEmpty):
			s.audit.Record(ctx, AuditTemplateEmpty, CategoryAutomation, map[string]interface{}{
				"rule_id":   rule.ID,
				"checklist": rule.TargetChecklist,
			}, nil, nil)
		}
		return 0, err
	}

	return submissionID, nil
}

// deriveTitle turns a checklist identifier into a readable title:
// "daily-west.html" becomes "Daily West".
func deriveTitle(checklistID string) string {
	name := filepath.Base(checklistID)
	if ext := filepath.Ext(name); ext != "" {
		name = strings.TrimSuffix(name, ext)
	}
	words := strings.FieldsFunc(name, func(r rune) bool {
		return r == '-' || r == '_' || r == '.' || unicode.IsSpace(r)
	})
	for i, word := range words {
		runes := []rune(word)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	if len(words) == 0 {
		return checklistID
	}
	return strings.Join(words, " ")
}
