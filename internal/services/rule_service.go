package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"checkops/internal/models"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RuleService 自动化规则的存储与匹配。引擎侧只读，写操作来自管理端。
type RuleService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewRuleService(db *gorm.DB, logger *logrus.Logger) *RuleService {
	if logger == nil {
		logger = logrus.New()
	}
	return &RuleService{db: db, logger: logger}
}

// AutomationRuleRequest 创建/更新规则的请求
type AutomationRuleRequest struct {
	Name               string `json:"name" binding:"required"`
	TriggerEvent       string `json:"trigger_event" binding:"required"`
	SourcePattern      string `json:"source_pattern"`
	TargetChecklist    string `json:"target_checklist" binding:"required"`
	AssignmentStrategy string `json:"assignment_strategy" binding:"required"`
	AssignmentDetail   string `json:"assignment_detail"`
	ScheduleSpec       string `json:"schedule_spec"`
	DelayMinutes       int    `json:"delay_minutes"`
	Active             *bool  `json:"active"`
}

func isSupportedTrigger(event string) bool {
	switch event {
	case models.TriggerOnSubmit, models.TriggerOnValidate, models.TriggerScheduled:
		return true
	default:
		return false
	}
}

// validate rejects bad rules at creation time: unknown variants, bad
// strategy payloads, invalid cron specs, and same_submitter on scheduled
// rules (there is no triggering submission to copy the submitter from).
func (s *RuleService) validate(req *AutomationRuleRequest) error {
	if !isSupportedTrigger(req.TriggerEvent) {
		return fmt.Errorf("unsupported trigger event: %s", req.TriggerEvent)
	}
	if _, err := ParseStrategy(req.AssignmentStrategy, req.AssignmentDetail); err != nil {
		return err
	}

	if req.TriggerEvent == models.TriggerScheduled {
		if req.AssignmentStrategy == models.StrategySameSubmitter {
			return fmt.Errorf("same_submitter strategy is not applicable to scheduled rules")
		}
		if req.ScheduleSpec == "" {
			return fmt.Errorf("schedule_spec required for scheduled rules")
		}
		if _, err := cron.ParseStandard(req.ScheduleSpec); err != nil {
			return fmt.Errorf("invalid schedule_spec %q: %w", req.ScheduleSpec, err)
		}
	} else if strings.TrimSpace(req.SourcePattern) == "" {
		return fmt.Errorf("source_pattern required for %s rules", req.TriggerEvent)
	}
	if req.DelayMinutes < 0 {
		return fmt.Errorf("delay_minutes must not be negative")
	}
	return nil
}

// ListRules 返回所有规则
func (s *RuleService) ListRules(ctx context.Context) ([]models.AutomationRule, error) {
	var rules []models.AutomationRule
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

// CreateRule 新建规则
func (s *RuleService) CreateRule(ctx context.Context, req *AutomationRuleRequest) (*models.AutomationRule, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	if err := s.validate(req); err != nil {
		return nil, err
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	rule := &models.AutomationRule{
		Name:               req.Name,
		TriggerEvent:       req.TriggerEvent,
		SourcePattern:      req.SourcePattern,
		TargetChecklist:    req.TargetChecklist,
		AssignmentStrategy: req.AssignmentStrategy,
		AssignmentDetail:   req.AssignmentDetail,
		ScheduleSpec:       req.ScheduleSpec,
		DelayMinutes:       req.DelayMinutes,
		Active:             active,
		CreatedAt:          time.Now(),
		UpdatedAt:          time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(rule).Error; err != nil {
		return nil, err
	}
	return rule, nil
}

// UpdateRule 整体更新规则
func (s *RuleService) UpdateRule(ctx context.Context, id uint, req *AutomationRuleRequest) (*models.AutomationRule, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	if err := s.validate(req); err != nil {
		return nil, err
	}

	var rule models.AutomationRule
	if err := s.db.WithContext(ctx).First(&rule, id).Error; err != nil {
		return nil, fmt.Errorf("rule not found")
	}

	rule.Name = req.Name
	rule.TriggerEvent = req.TriggerEvent
	rule.SourcePattern = req.SourcePattern
	rule.TargetChecklist = req.TargetChecklist
	rule.AssignmentStrategy = req.AssignmentStrategy
	rule.AssignmentDetail = req.AssignmentDetail
	rule.ScheduleSpec = req.ScheduleSpec
	rule.DelayMinutes = req.DelayMinutes
	if req.Active != nil {
		rule.Active = *req.Active
	}
	rule.UpdatedAt = time.Now()

	if err := s.db.WithContext(ctx).Save(&rule).Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

// SetActive 启用/停用规则
func (s *RuleService) SetActive(ctx context.Context, id uint, active bool) error {
	result := s.db.WithContext(ctx).Model(&models.AutomationRule{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"active": active, "updated_at": time.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("rule not found")
	}
	return nil
}

// DeleteRule 删除规则
func (s *RuleService) DeleteRule(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.AutomationRule{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("rule not found")
	}
	return nil
}

// ListScheduledRules 返回所有启用的定时规则
func (s *RuleService) ListScheduledRules(ctx context.Context) ([]models.AutomationRule, error) {
	var rules []models.AutomationRule
	err := s.db.WithContext(ctx).
		Where("trigger_event = ? AND active = true", models.TriggerScheduled).
		Order("id ASC").
		Find(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}

// MatchRules returns the active rules whose pattern matches the source
// checklist for the given event, ascending rule id. Matching is exact or
// SQL-LIKE style with % wildcards (prefix, suffix, containment).
func (s *RuleService) MatchRules(ctx context.Context, triggerEvent, sourceChecklistID string) ([]models.AutomationRule, error) {
	var rules []models.AutomationRule
	err := s.db.WithContext(ctx).
		Where("trigger_event = ? AND active = true", triggerEvent).
		Order("id ASC").
		Find(&rules).Error
	if err != nil {
		return nil, err
	}

	matched := rules[:0]
	for _, rule := range rules {
		if matchPattern(rule.SourcePattern, sourceChecklistID) {
			matched = append(matched, rule)
		}
	}
	return matched, nil
}

// matchPattern implements LIKE-style matching: a pattern without % must
// equal the source exactly; otherwise the literal segments between % signs
// must appear in order, anchored at the ends unless the pattern starts or
// ends with %.
func matchPattern(pattern, source string) bool {
	if !strings.Contains(pattern, "%") {
		return pattern == source
	}

	segments := strings.Split(pattern, "%")
	rest := source

	if first := segments[0]; first != "" {
		if !strings.HasPrefix(rest, first) {
			return false
		}
		rest = rest[len(first):]
	}
	if last := segments[len(segments)-1]; last != "" {
		if !strings.HasSuffix(rest, last) {
			return false
		}
		rest = rest[:len(rest)-len(last)]
	}

	for _, seg := range segments[1 : len(segments)-1] {
		if seg == "" {
			continue
		}
		idx := strings.Index(rest, seg)
		if idx < 0 {
			return false
		}
		rest = rest[idx+len(seg):]
	}
	return true
}
