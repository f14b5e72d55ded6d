package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"checkops/internal/models"
	"checkops/pkg/webhook"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Domain events the workflow dispatcher understands.
const (
	EventAssignmentCreated   = "assignment.created"
	EventAssignmentReminder  = "assignment.reminder"
	EventSubmissionOverdue   = "submission.overdue"
	EventComplianceReportDue = "compliance.report.due"
)

// Execution statuses recorded per workflow invocation.
const (
	ExecutionDelivered = "delivered"
	ExecutionFailed    = "failed"
	ExecutionSkipped   = "skipped" // no endpoint configured
)

// workflowEntry is the in-memory registry row.
type workflowEntry struct {
	Name          string
	Type          string
	TriggerEvents map[string]bool
	Endpoint      string
	Enabled       bool
}

// WorkflowStatus 对外暴露的工作流状态
type WorkflowStatus struct {
	Name           string     `json:"name"`
	Type           string     `json:"type"`
	TriggerEvents  []string   `json:"trigger_events"`
	Endpoint       string     `json:"endpoint"`
	Enabled        bool       `json:"enabled"`
	ExecutionCount int        `json:"execution_count"`
	LastExecutedAt *time.Time `json:"last_executed_at"`
}

// WorkflowService 按事件分发外部工作流。投递是 fire-and-forget：失败仅记录，
// 不重试，也绝不影响触发它的操作。禁止在指派事务内部调用。
type WorkflowService struct {
	db     *gorm.DB
	sink   webhook.Sink
	audit  *AuditService
	logger *logrus.Logger

	mu       sync.RWMutex
	registry map[string]*workflowEntry
}

func NewWorkflowService(db *gorm.DB, sink webhook.Sink, audit *AuditService, logger *logrus.Logger) *WorkflowService {
	if logger == nil {
		logger = logrus.New()
	}
	return &WorkflowService{
		db:       db,
		sink:     sink,
		audit:    audit,
		logger:   logger,
		registry: make(map[string]*workflowEntry),
	}
}

// builtinWorkflows are seeded into the store on first start. Endpoints are
// left empty until an operator configures them; triggering without an
// endpoint records a skipped execution.
func builtinWorkflows() []models.WorkflowDefinition {
	return []models.WorkflowDefinition{
		{
			Name:          "notification",
			Type:          models.WorkflowTypeNotification,
			TriggerEvents: strings.Join([]string{EventAssignmentCreated, EventAssignmentReminder}, ","),
			Enabled:       true,
		},
		{
			Name:          "escalation",
			Type:          models.WorkflowTypeEscalation,
			TriggerEvents: EventSubmissionOverdue,
			Enabled:       true,
		},
		{
			Name:          "ticket-creation",
			Type:          models.WorkflowTypeTicket,
			TriggerEvents: EventSubmissionOverdue,
			Enabled:       true,
		},
		{
			Name:          "compliance-reporting",
			Type:          models.WorkflowTypeComplianceReport,
			TriggerEvents: EventComplianceReportDue,
			Enabled:       true,
		},
	}
}

// LoadDefinitions seeds the built-in workflows and loads the full registry
// (built-ins plus custom definitions) from the store.
func (s *WorkflowService) LoadDefinitions(ctx context.Context) error {
	for _, builtin := range builtinWorkflows() {
		def := builtin
		err := s.db.WithContext(ctx).
			Where("name = ?", def.Name).
			FirstOrCreate(&def).Error
		if err != nil {
			return err
		}
	}

	var defs []models.WorkflowDefinition
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&defs).Error; err != nil {
		return err
	}

	registry := make(map[string]*workflowEntry, len(defs))
	for _, def := range defs {
		events := make(map[string]bool)
		for _, ev := range strings.Split(def.TriggerEvents, ",") {
			if ev = strings.TrimSpace(ev); ev != "" {
				events[ev] = true
			}
		}
		registry[def.Name] = &workflowEntry{
			Name:          def.Name,
			Type:          def.Type,
			TriggerEvents: events,
			Endpoint:      def.Endpoint,
			Enabled:       def.Enabled,
		}
	}

	s.mu.Lock()
	s.registry = registry
	s.mu.Unlock()

	s.logger.Infof("workflow: loaded %d definitions", len(registry))
	return nil
}

// Trigger fans the event out to every enabled workflow subscribed to it and
// returns how many were invoked. Each invocation appends one execution
// record regardless of delivery outcome.
func (s *WorkflowService) Trigger(ctx context.Context, eventType string, data map[string]interface{}) int {
	s.mu.RLock()
	var matches []*workflowEntry
	for _, entry := range s.registry {
		if entry.Enabled && entry.TriggerEvents[eventType] {
			matches = append(matches, entry)
		}
	}
	s.mu.RUnlock()

	if len(matches) == 0 {
		s.audit.Record(ctx, AuditWorkflowNoMatch, CategoryWorkflow, map[string]interface{}{
			"event_type": eventType,
		}, nil, nil)
		return 0
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Name < matches[j].Name })

	for _, entry := range matches {
		payload := s.buildPayload(entry, eventType, data)
		status := ExecutionSkipped
		message := "no endpoint configured"

		if entry.Endpoint != "" {
			if err := s.sink.Post(ctx, entry.Endpoint, payload); err != nil {
				status = ExecutionFailed
				message = err.Error()
				s.logger.Warnf("workflow: deliver %s to %s: %v", entry.Name, entry.Endpoint, err)
			} else {
				status = ExecutionDelivered
				message = ""
			}
		}

		s.recordExecution(ctx, entry.Name, eventType, status, message)
	}
	return len(matches)
}

func (s *WorkflowService) recordExecution(ctx context.Context, name, eventType, status, message string) {
	now := time.Now()
	err := s.db.WithContext(ctx).Model(&models.WorkflowDefinition{}).
		Where("name = ?", name).
		Updates(map[string]interface{}{
			"execution_count":  gorm.Expr("execution_count + 1"),
			"last_executed_at": now,
		}).Error
	if err != nil {
		s.logger.Warnf("workflow: update counters for %s: %v", name, err)
	}

	execution := &models.WorkflowExecution{
		ID:           uuid.NewString(),
		WorkflowName: name,
		EventType:    eventType,
		Status:       status,
		Message:      message,
		CreatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(execution).Error; err != nil {
		s.logger.Warnf("workflow: record execution for %s: %v", name, err)
	}
}

// buildPayload shapes the delivery body per workflow type.
func (s *WorkflowService) buildPayload(entry *workflowEntry, eventType string, data map[string]interface{}) map[string]interface{} {
	payload := map[string]interface{}{
		"workflow":  entry.Name,
		"event":     eventType,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	switch entry.Type {
	case models.WorkflowTypeNotification:
		payload["notification"] = map[string]interface{}{
			"recipients": recipientsFrom(data),
			"message":    messageFor(eventType, data),
			"priority":   priorityFor(eventType),
		}
	case models.WorkflowTypeEscalation:
		payload["escalation"] = map[string]interface{}{
			"level":    1,
			"path":     "supervisor",
			"deadline": time.Now().Add(4 * time.Hour).UTC().Format(time.RFC3339),
			"subject":  data,
		}
	case models.WorkflowTypeTicket:
		payload["ticket"] = map[string]interface{}{
			"severity":    priorityFor(eventType),
			"category":    "compliance",
			"description": messageFor(eventType, data),
			"details":     data,
		}
	case models.WorkflowTypeComplianceReport:
		payload["report"] = map[string]interface{}{
			"metrics":      data,
			"distribution": []string{"compliance-team"},
		}
	default:
		payload["data"] = data
	}
	return payload
}

func recipientsFrom(data map[string]interface{}) []interface{} {
	if userID, ok := data["assigned_user_id"]; ok {
		return []interface{}{userID}
	}
	return nil
}

func messageFor(eventType string, data map[string]interface{}) string {
	switch eventType {
	case EventAssignmentCreated:
		return "A new checklist has been assigned to you"
	case EventAssignmentReminder:
		return "A checklist assignment is due today"
	case EventSubmissionOverdue:
		return "A checklist assignment is overdue"
	case EventComplianceReportDue:
		return "The weekly compliance report is due"
	default:
		return "Checklist event: " + eventType
	}
}

func priorityFor(eventType string) string {
	if eventType == EventSubmissionOverdue {
		return "high"
	}
	return "normal"
}

// GetWorkflowStatus returns the registry with live counters from the store.
func (s *WorkflowService) GetWorkflowStatus(ctx context.Context) ([]WorkflowStatus, error) {
	var defs []models.WorkflowDefinition
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&defs).Error; err != nil {
		return nil, err
	}

	statuses := make([]WorkflowStatus, 0, len(defs))
	for _, def := range defs {
		var events []string
		for _, ev := range strings.Split(def.TriggerEvents, ",") {
			if ev = strings.TrimSpace(ev); ev != "" {
				events = append(events, ev)
			}
		}
		statuses = append(statuses, WorkflowStatus{
			Name:           def.Name,
			Type:           def.Type,
			TriggerEvents:  events,
			Endpoint:       def.Endpoint,
			Enabled:        def.Enabled,
			ExecutionCount: def.ExecutionCount,
			LastExecutedAt: def.LastExecutedAt,
		})
	}
	return statuses, nil
}

// ListExecutions returns recent execution records, newest first.
func (s *WorkflowService) ListExecutions(ctx context.Context, limit int) ([]models.WorkflowExecution, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var executions []models.WorkflowExecution
	err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&executions).Error
	if err != nil {
		return nil, err
	}
	return executions, nil
}
