package services

import (
	"context"
	"testing"

	"checkops/internal/models"
)

func TestParseStrategy(t *testing.T) {
	cases := []struct {
		name     string
		strategy string
		detail   string
		wantErr  bool
		wantKind StrategyKind
	}{
		{"fixed user", models.StrategyFixedUser, "42", false, KindFixedUser},
		{"fixed user bad detail", models.StrategyFixedUser, "alice", true, 0},
		{"fixed user zero", models.StrategyFixedUser, "0", true, 0},
		{"fixed user empty", models.StrategyFixedUser, "", true, 0},
		{"same submitter", models.StrategySameSubmitter, "", false, KindSameSubmitter},
		{"round robin", models.StrategyRoundRobinByRole, "inspector", false, KindRoundRobinByRole},
		{"round robin no role", models.StrategyRoundRobinByRole, "", true, 0},
		{"unknown", "by_vibes", "", true, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			parsed, err := ParseStrategy(tc.strategy, tc.detail)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %s/%s", tc.strategy, tc.detail)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if parsed.Kind != tc.wantKind {
				t.Errorf("kind = %d, want %d", parsed.Kind, tc.wantKind)
			}
		})
	}
}

func TestResolveFixedUser(t *testing.T) {
	db := newTestDB(t)
	svc := NewAssigneeService(db, NewDBUserDirectory(db), newTestLogger())

	rule := &models.AutomationRule{
		ID:                 1,
		AssignmentStrategy: models.StrategyFixedUser,
		AssignmentDetail:   "7",
	}
	got, err := svc.Resolve(context.Background(), rule, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got == nil || *got != 7 {
		t.Errorf("resolved = %v, want 7", got)
	}
}

func TestResolveSameSubmitter(t *testing.T) {
	db := newTestDB(t)
	svc := NewAssigneeService(db, NewDBUserDirectory(db), newTestLogger())

	submitter := createUser(t, db, "alice", "submitter")
	submission := &models.ChecklistSubmission{
		SourceChecklistID: "daily-west.html",
		Title:             "Daily West",
		SubmitterID:       &submitter.ID,
		Status:            models.SubmissionStatusValidated,
	}
	if err := db.Create(submission).Error; err != nil {
		t.Fatalf("create submission: %v", err)
	}

	rule := &models.AutomationRule{ID: 1, AssignmentStrategy: models.StrategySameSubmitter}

	got, err := svc.Resolve(context.Background(), rule, &submission.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got == nil || *got != submitter.ID {
		t.Errorf("resolved = %v, want %d", got, submitter.ID)
	}

	// Shell submissions carry no submitter; resolution yields no assignee.
	shell := &models.ChecklistSubmission{
		SourceChecklistID: "daily-west-recheck.html",
		Title:             "Daily West Recheck",
		Status:            models.SubmissionStatusAssigned,
	}
	if err := db.Create(shell).Error; err != nil {
		t.Fatalf("create shell: %v", err)
	}
	got, err = svc.Resolve(context.Background(), rule, &shell.ID)
	if err != nil {
		t.Fatalf("resolve shell: %v", err)
	}
	if got != nil {
		t.Errorf("resolved = %d, want nil for shell submission", *got)
	}

	// No triggering submission at all (scheduled context).
	got, err = svc.Resolve(context.Background(), rule, nil)
	if err != nil {
		t.Fatalf("resolve without submission: %v", err)
	}
	if got != nil {
		t.Errorf("resolved = %d, want nil without triggering submission", *got)
	}
}

func TestResolveSameSubmitterMissingSubmission(t *testing.T) {
	db := newTestDB(t)
	svc := NewAssigneeService(db, NewDBUserDirectory(db), newTestLogger())

	rule := &models.AutomationRule{ID: 1, AssignmentStrategy: models.StrategySameSubmitter}
	missing := uint(9999)
	got, err := svc.Resolve(context.Background(), rule, &missing)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != nil {
		t.Errorf("resolved = %d, want nil for missing submission", *got)
	}
}

func TestRoundRobinRotation(t *testing.T) {
	db := newTestDB(t)
	svc := NewAssigneeService(db, NewDBUserDirectory(db), newTestLogger())

	u1 := createUser(t, db, "inspector1", "inspector")
	u2 := createUser(t, db, "inspector2", "inspector")
	u3 := createUser(t, db, "inspector3", "inspector")

	rule := &models.AutomationRule{
		ID:                 10,
		AssignmentStrategy: models.StrategyRoundRobinByRole,
		AssignmentDetail:   "inspector",
	}
	if err := db.Create(rule).Error; err != nil {
		t.Fatalf("create rule: %v", err)
	}

	want := []uint{u1.ID, u2.ID, u3.ID, u1.ID}
	for i, expected := range want {
		got, err := svc.Resolve(context.Background(), rule, nil)
		if err != nil {
			t.Fatalf("resolve #%d: %v", i+1, err)
		}
		if got == nil || *got != expected {
			t.Fatalf("resolve #%d = %v, want %d", i+1, got, expected)
		}
	}

	var state models.RoundRobinState
	if err := db.Where("rule_id = ? AND role_name = ?", rule.ID, "inspector").First(&state).Error; err != nil {
		t.Fatalf("load state: %v", err)
	}
	if state.AssignmentCount != 4 {
		t.Errorf("assignment_count = %d, want 4", state.AssignmentCount)
	}
	if state.LastAssignedUserID != u1.ID {
		t.Errorf("last_assigned_user_id = %d, want %d", state.LastAssignedUserID, u1.ID)
	}
}

func TestRoundRobinMemberLeft(t *testing.T) {
	db := newTestDB(t)
	svc := NewAssigneeService(db, NewDBUserDirectory(db), newTestLogger())

	u1 := createUser(t, db, "inspector1", "inspector")
	u2 := createUser(t, db, "inspector2", "inspector")

	rule := &models.AutomationRule{
		ID:                 11,
		AssignmentStrategy: models.StrategyRoundRobinByRole,
		AssignmentDetail:   "inspector",
	}
	if err := db.Create(rule).Error; err != nil {
		t.Fatalf("create rule: %v", err)
	}

	got, err := svc.Resolve(context.Background(), rule, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got == nil || *got != u1.ID {
		t.Fatalf("first pick = %v, want %d", got, u1.ID)
	}

	// The last-assigned user leaves the role: rotation restarts at the
	// first current member.
	if err := db.Model(u1).Update("status", "inactive").Error; err != nil {
		t.Fatalf("deactivate user: %v", err)
	}
	got, err = svc.Resolve(context.Background(), rule, nil)
	if err != nil {
		t.Fatalf("resolve after departure: %v", err)
	}
	if got == nil || *got != u2.ID {
		t.Errorf("pick after departure = %v, want %d", got, u2.ID)
	}
}

func TestRoundRobinEmptyRole(t *testing.T) {
	db := newTestDB(t)
	svc := NewAssigneeService(db, NewDBUserDirectory(db), newTestLogger())

	rule := &models.AutomationRule{
		ID:                 12,
		AssignmentStrategy: models.StrategyRoundRobinByRole,
		AssignmentDetail:   "auditor",
	}
	got, err := svc.Resolve(context.Background(), rule, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != nil {
		t.Errorf("resolved = %d, want nil for empty role", *got)
	}

	var count int64
	db.Model(&models.RoundRobinState{}).Count(&count)
	if count != 0 {
		t.Errorf("round-robin state rows = %d, want 0", count)
	}
}

func TestRoundRobinStateIsolatedPerRule(t *testing.T) {
	db := newTestDB(t)
	svc := NewAssigneeService(db, NewDBUserDirectory(db), newTestLogger())

	u1 := createUser(t, db, "inspector1", "inspector")
	createUser(t, db, "inspector2", "inspector")

	ruleA := &models.AutomationRule{ID: 20, AssignmentStrategy: models.StrategyRoundRobinByRole, AssignmentDetail: "inspector"}
	ruleB := &models.AutomationRule{ID: 21, AssignmentStrategy: models.StrategyRoundRobinByRole, AssignmentDetail: "inspector"}
	for _, r := range []*models.AutomationRule{ruleA, ruleB} {
		if err := db.Create(r).Error; err != nil {
			t.Fatalf("create rule: %v", err)
		}
	}

	gotA, err := svc.Resolve(context.Background(), ruleA, nil)
	if err != nil {
		t.Fatalf("resolve A: %v", err)
	}
	gotB, err := svc.Resolve(context.Background(), ruleB, nil)
	if err != nil {
		t.Fatalf("resolve B: %v", err)
	}
	// Both rules start their own rotation at the first member.
	if gotA == nil || gotB == nil || *gotA != u1.ID || *gotB != u1.ID {
		t.Errorf("resolved A=%v B=%v, want both %d", gotA, gotB, u1.ID)
	}
}

func TestDirectoryExcludesInactiveAndOrdersByID(t *testing.T) {
	db := newTestDB(t)
	dir := NewDBUserDirectory(db)

	u1 := createUser(t, db, "inspector1", "inspector")
	u2 := createUser(t, db, "inspector2", "inspector")
	createUser(t, db, "supervisor1", "supervisor")
	inactive := createUser(t, db, "inspector3", "inspector")
	if err := db.Model(inactive).Update("status", "inactive").Error; err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	members, err := dir.ListUsersByRole(context.Background(), "inspector")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("members = %d, want 2", len(members))
	}
	if members[0].ID != u1.ID || members[1].ID != u2.ID {
		t.Errorf("order = [%d %d], want [%d %d]", members[0].ID, members[1].ID, u1.ID, u2.ID)
	}
}
