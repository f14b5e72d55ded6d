package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"checkops/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StrategyKind is the closed set of assignment strategies.
type StrategyKind int

const (
	KindFixedUser StrategyKind = iota
	KindSameSubmitter
	KindRoundRobinByRole
)

// Strategy is an AutomationRule's assignment strategy parsed into a tagged
// variant. Unknown strategies never reach the resolver: ParseStrategy is
// also used by rule validation at creation time.
type Strategy struct {
	Kind   StrategyKind
	UserID uint   // fixed_user
	Role   string // round_robin_by_role
}

// ParseStrategy validates and decodes a strategy string plus its detail
// payload.
func ParseStrategy(strategy, detail string) (Strategy, error) {
	switch strategy {
	case models.StrategyFixedUser:
		id, err := strconv.ParseUint(detail, 10, 32)
		if err != nil || id == 0 {
			return Strategy{}, fmt.Errorf("fixed_user detail must be a user id, got %q", detail)
		}
		return Strategy{Kind: KindFixedUser, UserID: uint(id)}, nil
	case models.StrategySameSubmitter:
		return Strategy{Kind: KindSameSubmitter}, nil
	case models.StrategyRoundRobinByRole:
		if detail == "" {
			return Strategy{}, fmt.Errorf("round_robin_by_role detail must be a role name")
		}
		return Strategy{Kind: KindRoundRobinByRole, Role: detail}, nil
	default:
		return Strategy{}, fmt.Errorf("unsupported assignment strategy: %s", strategy)
	}
}

// AssigneeService resolves an automation rule to a single user. A nil user
// id with a nil error means no assignee could be determined; the caller
// audits that and skips the rule.
type AssigneeService struct {
	db        *gorm.DB
	directory UserDirectory
	logger    *logrus.Logger
}

func NewAssigneeService(db *gorm.DB, directory UserDirectory, logger *logrus.Logger) *AssigneeService {
	if logger == nil {
		logger = logrus.New()
	}
	return &AssigneeService{db: db, directory: directory, logger: logger}
}

// Resolve picks the assignee for a rule. triggeringSubmissionID may be nil
// for scheduled rules.
func (s *AssigneeService) Resolve(ctx context.Context, rule *models.AutomationRule, triggeringSubmissionID *uint) (*uint, error) {
	strategy, err := ParseStrategy(rule.AssignmentStrategy, rule.AssignmentDetail)
	if err != nil {
		return nil, err
	}

	switch strategy.Kind {
	case KindFixedUser:
		// The detail is the user id; no directory lookup.
		userID := strategy.UserID
		return &userID, nil

	case KindSameSubmitter:
		if triggeringSubmissionID == nil {
			return nil, nil
		}
		var submission models.ChecklistSubmission
		if err := s.db.WithContext(ctx).First(&submission, *triggeringSubmissionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil
			}
			return nil, fmt.Errorf("load triggering submission %d: %w", *triggeringSubmissionID, err)
		}
		// Shell submissions have no submitter.
		return submission.SubmitterID, nil

	case KindRoundRobinByRole:
		return s.resolveRoundRobin(ctx, rule.ID, strategy.Role)

	default:
		return nil, fmt.Errorf("unsupported strategy kind %d", strategy.Kind)
	}
}

// resolveRoundRobin rotates through the role's current membership in
// directory order. If the previously assigned user left the role the
// rotation restarts at the first member. The state write is an atomic
// upsert-with-increment; the selection read and the directory lookup are
// not covered by one transaction, so concurrent resolution for the same
// (rule, role) can pick the same user twice. The storage-level increment
// bounds that race, it does not eliminate it.
func (s *AssigneeService) resolveRoundRobin(ctx context.Context, ruleID uint, role string) (*uint, error) {
	members, err := s.directory.ListUsersByRole(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("list users for role %s: %w", role, err)
	}
	if len(members) == 0 {
		s.logger.Warnf("assignee: role %s has no members (rule %d)", role, ruleID)
		return nil, nil
	}

	var state models.RoundRobinState
	err = s.db.WithContext(ctx).
		Where("rule_id = ? AND role_name = ?", ruleID, role).
		First(&state).Error
	hasState := err == nil
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load round-robin state: %w", err)
	}

	selected := members[0].ID
	if hasState {
		for i, member := range members {
			if member.ID == state.LastAssignedUserID {
				selected = members[(i+1)%len(members)].ID
				break
			}
		}
	}

	now := time.Now()
	upsert := models.RoundRobinState{
		RuleID:             ruleID,
		RoleName:           role,
		LastAssignedUserID: selected,
		AssignmentCount:    1,
		LastAssignedAt:     now,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "rule_id"}, {Name: "role_name"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_assigned_user_id": selected,
			"assignment_count":      gorm.Expr("assignment_count + 1"),
			"last_assigned_at":      now,
		}),
	}).Create(&upsert).Error
	if err != nil {
		return nil, fmt.Errorf("update round-robin state: %w", err)
	}

	return &selected, nil
}
