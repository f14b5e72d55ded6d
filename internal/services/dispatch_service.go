package services

import (
	"context"
	"errors"
	"sync"

	"checkops/internal/models"

	"github.com/sirupsen/logrus"
)

// ErrQueueFull is returned when the dispatch queue is at capacity. Callers
// see the rejection instead of silent loss.
var ErrQueueFull = errors.New("dispatch queue full")

// DispatchRequest 提交/审核工作流发来的触发请求
type DispatchRequest struct {
	SubmissionID      uint   `json:"submission_id" binding:"required"`
	TriggerEvent      string `json:"trigger_event" binding:"required"`
	SourceChecklistID string `json:"source_checklist_id" binding:"required"`
}

// WorkflowNotifier is the post-commit hook into the workflow dispatcher.
type WorkflowNotifier interface {
	Trigger(ctx context.Context, eventType string, data map[string]interface{}) int
}

// DispatchService 触发分发器。请求进入有界队列，由单个 worker 串行处理，
// 因此同一时间最多只有一次分发在执行；队列满时返回 ErrQueueFull。
type DispatchService struct {
	rules     *RuleService
	assignees *AssigneeService
	pipeline  *AssignmentService
	workflows WorkflowNotifier
	audit     *AuditService
	logger    *logrus.Logger

	queue chan DispatchRequest
	stop  chan struct{}
	done  chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

func NewDispatchService(rules *RuleService, assignees *AssigneeService, pipeline *AssignmentService, workflows WorkflowNotifier, audit *AuditService, logger *logrus.Logger, queueSize int) *DispatchService {
	if logger == nil {
		logger = logrus.New()
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &DispatchService{
		rules:     rules,
		assignees: assignees,
		pipeline:  pipeline,
		workflows: workflows,
		audit:     audit,
		logger:    logger,
		queue:     make(chan DispatchRequest, queueSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (s *DispatchService) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

// Stop drains nothing: queued requests not yet picked up are dropped on
// shutdown, matching the at-most-once contract of dispatch.
func (s *DispatchService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
}

// QueueDepth reports how many dispatches are waiting.
func (s *DispatchService) QueueDepth() int {
	return len(s.queue)
}

// Dispatch enqueues a trigger. It never blocks; a full queue is an explicit
// rejection.
func (s *DispatchService) Dispatch(req DispatchRequest) error {
	select {
	case s.queue <- req:
		return nil
	default:
		s.logger.Warnf("dispatch: queue full, rejecting %s for submission %d", req.TriggerEvent, req.SubmissionID)
		return ErrQueueFull
	}
}

func (s *DispatchService) run() {
	defer close(s.done)
	for {
		select {
		case req := <-s.queue:
			s.dispatchOne(context.Background(), req)
		case <-s.stop:
			return
		}
	}
}

// dispatchOne processes one trigger: matches rules in ascending id order and
// runs the assignment pipeline per match. A failing rule is audited and does
// not stop later rules. Nothing escapes as an error.
func (s *DispatchService) dispatchOne(ctx context.Context, req DispatchRequest) {
	matches, err := s.rules.MatchRules(ctx, req.TriggerEvent, req.SourceChecklistID)
	if err != nil {
		s.logger.Errorf("dispatch: match rules for %s/%s: %v", req.TriggerEvent, req.SourceChecklistID, err)
		return
	}

	if len(matches) == 0 {
		s.audit.Record(ctx, AuditNoMatchingRules, CategoryAutomation, map[string]interface{}{
			"trigger_event":       req.TriggerEvent,
			"source_checklist_id": req.SourceChecklistID,
		}, nil, &req.SubmissionID)
		return
	}

	for i := range matches {
		rule := matches[i]
		if err := s.applyRule(ctx, &rule, req); err != nil {
			s.logger.Warnf("dispatch: rule %d (%s) failed: %v", rule.ID, rule.Name, err)
			s.audit.Record(ctx, AuditRuleError, CategoryAutomation, map[string]interface{}{
				"rule_id": rule.ID,
				"error":   err.Error(),
			}, nil, &req.SubmissionID)
		}
	}
}

func (s *DispatchService) applyRule(ctx context.Context, rule *models.AutomationRule, req DispatchRequest) error {
	assignee, err := s.assignees.Resolve(ctx, rule, &req.SubmissionID)
	if err != nil {
		return err
	}
	if assignee == nil {
		s.audit.Record(ctx, AuditNoAssignee, CategoryAutomation, map[string]interface{}{
			"rule_id":  rule.ID,
			"strategy": rule.AssignmentStrategy,
		}, nil, &req.SubmissionID)
		return nil
	}

	newSubmissionID, err := s.pipeline.CreateAssignment(ctx, rule, *assignee)
	if err != nil {
		return err
	}

	// Post-commit audit, then the fire-and-forget workflow notification.
	s.audit.Record(ctx, AuditAssignedByRule, CategoryAutomation, map[string]interface{}{
		"rule_id":                  rule.ID,
		"triggering_submission_id": req.SubmissionID,
		"new_submission_id":        newSubmissionID,
		"target_checklist":         rule.TargetChecklist,
		"strategy":                 rule.AssignmentStrategy,
	}, nil, &newSubmissionID)

	if s.workflows != nil {
		data := map[string]interface{}{
			"rule_id":          rule.ID,
			"submission_id":    newSubmissionID,
			"assigned_user_id": *assignee,
			"target_checklist": rule.TargetChecklist,
		}
		go s.workflows.Trigger(context.Background(), EventAssignmentCreated, data)
	}
	return nil
}
