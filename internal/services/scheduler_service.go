package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"checkops/internal/models"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// SchedulerOptions 定时器配置。所有表达式在同一个时区下求值。
type SchedulerOptions struct {
	Timezone          string
	OverdueSweepCron  string
	ReminderCron      string
	WeeklyReportCron  string
	NearDueCheckCron  string
	BusinessHourStart int
	BusinessHourEnd   int
}

// DefaultSchedulerOptions 返回默认任务计划
func DefaultSchedulerOptions() SchedulerOptions {
	return SchedulerOptions{
		Timezone:          "UTC",
		OverdueSweepCron:  "0 1 * * *",
		ReminderCron:      "0 8 * * *",
		WeeklyReportCron:  "0 6 * * 1",
		NearDueCheckCron:  "0 * * * *",
		BusinessHourStart: 8,
		BusinessHourEnd:   18,
	}
}

// JobStatus 单个任务的运行状态
type JobStatus struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Prev time.Time `json:"prev"`
	Next time.Time `json:"next"`
}

type scheduledJob struct {
	id   cron.EntryID
	spec string
}

// SchedulerService 固定维护任务加上由定时规则动态注册的任务。每个任务要么
// stopped 要么 running；同名任务重新注册时先移除旧的，不会并行。
type SchedulerService struct {
	db        *gorm.DB
	rules     *RuleService
	assignees *AssigneeService
	pipeline  *AssignmentService
	workflows WorkflowNotifier
	audit     *AuditService
	logger    *logrus.Logger
	tracer    trace.Tracer
	opts      SchedulerOptions
	location  *time.Location

	cron *cron.Cron
	mu   sync.Mutex
	jobs map[string]scheduledJob
}

func NewSchedulerService(db *gorm.DB, rules *RuleService, assignees *AssigneeService, pipeline *AssignmentService, workflows WorkflowNotifier, audit *AuditService, logger *logrus.Logger, opts SchedulerOptions) (*SchedulerService, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Timezone == "" {
		opts = DefaultSchedulerOptions()
	}
	location, err := time.LoadLocation(opts.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", opts.Timezone, err)
	}

	return &SchedulerService{
		db:        db,
		rules:     rules,
		assignees: assignees,
		pipeline:  pipeline,
		workflows: workflows,
		audit:     audit,
		logger:    logger,
		tracer:    otel.Tracer("checkops.scheduler"),
		opts:      opts,
		location:  location,
		cron:      cron.New(cron.WithLocation(location)),
		jobs:      make(map[string]scheduledJob),
	}, nil
}

// Start registers the fixed maintenance jobs, provisions jobs for the
// current scheduled rules, and starts the timer.
func (s *SchedulerService) Start(ctx context.Context) error {
	fixed := []struct {
		name string
		spec string
		fn   func()
	}{
		{"overdue-sweep", s.opts.OverdueSweepCron, s.runOverdueSweep},
		{"daily-reminders", s.opts.ReminderCron, s.runReminderPass},
		{"weekly-compliance-report", s.opts.WeeklyReportCron, s.runWeeklyReport},
		{"near-due-check", s.opts.NearDueCheckCron, s.runNearDueCheck},
	}
	for _, job := range fixed {
		if err := s.addJob(job.name, job.spec, job.fn); err != nil {
			return fmt.Errorf("register %s: %w", job.name, err)
		}
	}

	if err := s.ReloadRules(ctx); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Infof("scheduler: started with %d jobs (timezone %s)", len(s.jobs), s.opts.Timezone)
	return nil
}

// addJob installs a handler under a stable name. An existing job with the
// same name is stopped and discarded first.
func (s *SchedulerService) addJob(name, spec string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old.id)
		delete(s.jobs, name)
	}

	id, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		return err
	}
	s.jobs[name] = scheduledJob{id: id, spec: spec}
	return nil
}

func (s *SchedulerService) removeJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old.id)
		delete(s.jobs, name)
	}
}

func ruleJobName(ruleID uint) string {
	return fmt.Sprintf("rule-%d", ruleID)
}

// ReloadRules synchronizes dynamic jobs with the active scheduled rules.
// Invalid cron specs and same_submitter rules are skipped with a warning;
// rule creation already rejects both, this guards rows written before those
// checks existed.
func (s *SchedulerService) ReloadRules(ctx context.Context) error {
	rules, err := s.rules.ListScheduledRules(ctx)
	if err != nil {
		return fmt.Errorf("load scheduled rules: %w", err)
	}

	desired := make(map[string]bool, len(rules))
	for i := range rules {
		rule := rules[i]
		name := ruleJobName(rule.ID)

		if rule.AssignmentStrategy == models.StrategySameSubmitter {
			s.logger.Warnf("scheduler: rule %d uses same_submitter, skipping", rule.ID)
			s.audit.Record(ctx, AuditScheduleRuleSkipped, CategoryScheduler, map[string]interface{}{
				"rule_id": rule.ID,
				"reason":  "same_submitter not applicable to scheduled rules",
			}, nil, nil)
			continue
		}
		if _, err := cron.ParseStandard(rule.ScheduleSpec); err != nil {
			s.logger.Warnf("scheduler: rule %d has invalid spec %q: %v", rule.ID, rule.ScheduleSpec, err)
			s.audit.Record(ctx, AuditScheduleRuleSkipped, CategoryScheduler, map[string]interface{}{
				"rule_id": rule.ID,
				"spec":    rule.ScheduleSpec,
				"reason":  err.Error(),
			}, nil, nil)
			continue
		}

		ruleID := rule.ID
		if err := s.addJob(name, rule.ScheduleSpec, func() { s.runRule(ruleID) }); err != nil {
			s.logger.Warnf("scheduler: register rule %d: %v", ruleID, err)
			continue
		}
		desired[name] = true
	}

	// Deprovision jobs for rules that were deactivated or deleted.
	s.mu.Lock()
	var stale []string
	for name := range s.jobs {
		if strings.HasPrefix(name, "rule-") && !desired[name] {
			stale = append(stale, name)
		}
	}
	s.mu.Unlock()
	for _, name := range stale {
		s.removeJob(name)
	}

	return nil
}

// runRule fires one scheduled rule: resolve the assignee and run the
// pipeline. Failures are audited, never raised - a broken rule must not
// take the scheduler down.
func (s *SchedulerService) runRule(ruleID uint) {
	ctx := context.Background()

	var rule models.AutomationRule
	if err := s.db.First(&rule, ruleID).Error; err != nil {
		s.logger.Warnf("scheduler: rule %d vanished: %v", ruleID, err)
		return
	}
	if !rule.Active {
		return
	}

	assignee, err := s.assignees.Resolve(ctx, &rule, nil)
	if err != nil {
		s.audit.Record(ctx, AuditRuleError, CategoryScheduler, map[string]interface{}{
			"rule_id": rule.ID,
			"error":   err.Error(),
		}, nil, nil)
		return
	}
	if assignee == nil {
		s.audit.Record(ctx, AuditNoAssignee, CategoryScheduler, map[string]interface{}{
			"rule_id":  rule.ID,
			"strategy": rule.AssignmentStrategy,
		}, nil, nil)
		return
	}

	newSubmissionID, err := s.pipeline.CreateAssignment(ctx, &rule, *assignee)
	if err != nil {
		s.audit.Record(ctx, AuditRuleError, CategoryScheduler, map[string]interface{}{
			"rule_id": rule.ID,
			"error":   err.Error(),
		}, nil, nil)
		return
	}

	s.audit.Record(ctx, AuditAssignedByRule, CategoryScheduler, map[string]interface{}{
		"rule_id":           rule.ID,
		"new_submission_id": newSubmissionID,
		"target_checklist":  rule.TargetChecklist,
		"strategy":          rule.AssignmentStrategy,
	}, nil, &newSubmissionID)

	if s.workflows != nil {
		go s.workflows.Trigger(context.Background(), EventAssignmentCreated, map[string]interface{}{
			"rule_id":          rule.ID,
			"submission_id":    newSubmissionID,
			"assigned_user_id": *assignee,
			"target_checklist": rule.TargetChecklist,
		})
	}
}

// runOverdueSweep marks every open assignment past its due date (and its
// submission) as overdue, auditing each transition with the affected user.
func (s *SchedulerService) runOverdueSweep() {
	ctx, span := s.tracer.Start(context.Background(), "scheduler.overdue_sweep")
	defer span.End()

	now := time.Now()
	var assignments []models.Assignment
	err := s.db.WithContext(ctx).
		Where("status IN ? AND due_at < ?", []string{models.SubmissionStatusAssigned, models.SubmissionStatusInProgress}, now).
		Order("id ASC").
		Find(&assignments).Error
	if err != nil {
		s.logger.Errorf("scheduler: overdue sweep query: %v", err)
		return
	}
	span.SetAttributes(attribute.Int("overdue.count", len(assignments)))

	for i := range assignments {
		assignment := assignments[i]
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&models.Assignment{}).
				Where("id = ?", assignment.ID).
				Updates(map[string]interface{}{"status": models.SubmissionStatusOverdue, "updated_at": now}).Error; err != nil {
				return err
			}
			return tx.Model(&models.ChecklistSubmission{}).
				Where("id = ? AND status IN ?", assignment.SubmissionID,
					[]string{models.SubmissionStatusAssigned, models.SubmissionStatusInProgress}).
				Updates(map[string]interface{}{"status": models.SubmissionStatusOverdue, "updated_at": now}).Error
		})
		if err != nil {
			s.logger.Warnf("scheduler: mark assignment %d overdue: %v", assignment.ID, err)
			continue
		}

		userID := assignment.AssignedUserID
		s.audit.Record(ctx, AuditSubmissionOverdue, CategoryScheduler, map[string]interface{}{
			"assignment_id":    assignment.ID,
			"assigned_user_id": assignment.AssignedUserID,
			"due_at":           assignment.DueAt,
		}, &userID, &assignment.SubmissionID)

		if s.workflows != nil {
			go s.workflows.Trigger(context.Background(), EventSubmissionOverdue, map[string]interface{}{
				"assignment_id":    assignment.ID,
				"submission_id":    assignment.SubmissionID,
				"assigned_user_id": assignment.AssignedUserID,
				"due_at":           assignment.DueAt.UTC().Format(time.RFC3339),
			})
		}
	}
}

// runReminderPass audits one reminder per assignment due today. Delivery is
// someone else's job; this only leaves the audit trail.
func (s *SchedulerService) runReminderPass() {
	ctx := context.Background()
	now := time.Now().In(s.location)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.location)
	dayEnd := dayStart.Add(24 * time.Hour)

	var assignments []models.Assignment
	err := s.db.WithContext(ctx).
		Where("status IN ? AND due_at >= ? AND due_at < ?",
			[]string{models.SubmissionStatusAssigned, models.SubmissionStatusInProgress}, dayStart, dayEnd).
		Order("id ASC").
		Find(&assignments).Error
	if err != nil {
		s.logger.Errorf("scheduler: reminder query: %v", err)
		return
	}

	for i := range assignments {
		assignment := assignments[i]
		userID := assignment.AssignedUserID
		s.audit.Record(ctx, AuditReminderSent, CategoryScheduler, map[string]interface{}{
			"assignment_id":    assignment.ID,
			"assigned_user_id": assignment.AssignedUserID,
			"due_at":           assignment.DueAt,
		}, &userID, &assignment.SubmissionID)
	}
	if len(assignments) > 0 {
		s.logger.Infof("scheduler: recorded %d reminders", len(assignments))
	}
}

// runWeeklyReport fires the compliance-report workflow with current counts.
// It writes nothing itself.
func (s *SchedulerService) runWeeklyReport() {
	ctx := context.Background()

	var total, overdue, validated int64
	s.db.WithContext(ctx).Model(&models.Assignment{}).Count(&total)
	s.db.WithContext(ctx).Model(&models.Assignment{}).
		Where("status = ?", models.SubmissionStatusOverdue).Count(&overdue)
	s.db.WithContext(ctx).Model(&models.ChecklistSubmission{}).
		Where("status = ?", models.SubmissionStatusValidated).Count(&validated)

	if s.workflows != nil {
		s.workflows.Trigger(ctx, EventComplianceReportDue, map[string]interface{}{
			"total_assignments":     total,
			"overdue_assignments":   overdue,
			"validated_submissions": validated,
		})
	}
}

// runNearDueCheck logs how many assignments come due within two hours.
// Informational only, and only during business hours.
func (s *SchedulerService) runNearDueCheck() {
	now := time.Now().In(s.location)
	if now.Hour() < s.opts.BusinessHourStart || now.Hour() >= s.opts.BusinessHourEnd {
		return
	}

	var count int64
	err := s.db.Model(&models.Assignment{}).
		Where("status IN ? AND due_at >= ? AND due_at < ?",
			[]string{models.SubmissionStatusAssigned, models.SubmissionStatusInProgress}, now, now.Add(2*time.Hour)).
		Count(&count).Error
	if err != nil {
		s.logger.Errorf("scheduler: near-due query: %v", err)
		return
	}
	if count > 0 {
		s.logger.Infof("scheduler: %d assignments due within 2 hours", count)
	}
}

// JobStatus reports every registered job with its previous and next fire
// times.
func (s *SchedulerService) JobStatus() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]JobStatus, 0, len(s.jobs))
	for name, job := range s.jobs {
		entry := s.cron.Entry(job.id)
		statuses = append(statuses, JobStatus{
			Name: name,
			Spec: job.spec,
			Prev: entry.Prev,
			Next: entry.Next,
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

// StopAll cancels every job and waits for any running handler to finish.
func (s *SchedulerService) StopAll() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, job := range s.jobs {
		s.cron.Remove(job.id)
		delete(s.jobs, name)
	}
	s.logger.Info("scheduler: stopped")
}
