package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"checkops/internal/models"
	"checkops/pkg/webhook"
)

func newWorkflowFixture(t *testing.T) *WorkflowService {
	t.Helper()
	db := newTestDB(t)
	logger := newTestLogger()
	audit := NewAuditService(db, logger)
	svc := NewWorkflowService(db, webhook.NewClient(2*time.Second, logger), audit, logger)
	if err := svc.LoadDefinitions(context.Background()); err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	return svc
}

func setWorkflowEndpoint(t *testing.T, svc *WorkflowService, name, endpoint string) {
	t.Helper()
	err := svc.db.Model(&models.WorkflowDefinition{}).
		Where("name = ?", name).
		Update("endpoint", endpoint).Error
	if err != nil {
		t.Fatalf("set endpoint for %s: %v", name, err)
	}
	if err := svc.LoadDefinitions(context.Background()); err != nil {
		t.Fatalf("reload definitions: %v", err)
	}
}

func TestLoadDefinitionsSeedsBuiltins(t *testing.T) {
	svc := newWorkflowFixture(t)

	statuses, err := svc.GetWorkflowStatus(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(statuses) != 4 {
		t.Fatalf("workflows = %d, want 4 builtins", len(statuses))
	}
	want := []string{"compliance-reporting", "escalation", "notification", "ticket-creation"}
	for i, name := range want {
		if statuses[i].Name != name {
			t.Errorf("workflow[%d] = %s, want %s", i, statuses[i].Name, name)
		}
		if !statuses[i].Enabled {
			t.Errorf("workflow %s should start enabled", name)
		}
		if statuses[i].Endpoint != "" {
			t.Errorf("workflow %s should start without endpoint", name)
		}
	}

	// Seeding again is idempotent.
	if err := svc.LoadDefinitions(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	statuses, _ = svc.GetWorkflowStatus(context.Background())
	if len(statuses) != 4 {
		t.Errorf("workflows after reload = %d, want 4", len(statuses))
	}
}

func TestTriggerDeliversToEndpoint(t *testing.T) {
	svc := newWorkflowFixture(t)

	received := make(chan map[string]interface{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]interface{}
		_ = json.Unmarshal(body, &payload)
		received <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	setWorkflowEndpoint(t, svc, "notification", server.URL)

	invoked := svc.Trigger(context.Background(), EventAssignmentCreated, map[string]interface{}{
		"assigned_user_id": 7,
		"submission_id":    3,
	})
	if invoked != 1 {
		t.Fatalf("invoked = %d, want 1", invoked)
	}

	select {
	case payload := <-received:
		if payload["workflow"] != "notification" {
			t.Errorf("payload workflow = %v", payload["workflow"])
		}
		if payload["event"] != EventAssignmentCreated {
			t.Errorf("payload event = %v", payload["event"])
		}
		notification, ok := payload["notification"].(map[string]interface{})
		if !ok {
			t.Fatalf("payload has no notification block: %v", payload)
		}
		if notification["priority"] != "normal" {
			t.Errorf("priority = %v, want normal", notification["priority"])
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("endpoint never called")
	}

	executions, err := svc.ListExecutions(context.Background(), 10)
	if err != nil {
		t.Fatalf("list executions: %v", err)
	}
	if len(executions) != 1 {
		t.Fatalf("executions = %d, want 1", len(executions))
	}
	if executions[0].Status != ExecutionDelivered {
		t.Errorf("execution status = %q, want delivered", executions[0].Status)
	}

	statuses, _ := svc.GetWorkflowStatus(context.Background())
	for _, st := range statuses {
		if st.Name == "notification" {
			if st.ExecutionCount != 1 {
				t.Errorf("execution_count = %d, want 1", st.ExecutionCount)
			}
			if st.LastExecutedAt == nil {
				t.Errorf("last_executed_at not set")
			}
		}
	}
}

func TestTriggerWithoutEndpointRecordsSkipped(t *testing.T) {
	svc := newWorkflowFixture(t)

	invoked := svc.Trigger(context.Background(), EventAssignmentCreated, map[string]interface{}{})
	if invoked != 1 {
		t.Fatalf("invoked = %d, want 1", invoked)
	}

	executions, err := svc.ListExecutions(context.Background(), 10)
	if err != nil {
		t.Fatalf("list executions: %v", err)
	}
	if len(executions) != 1 || executions[0].Status != ExecutionSkipped {
		t.Errorf("executions = %v, want one skipped", executions)
	}
}

func TestTriggerDeliveryFailureRecordedNotRaised(t *testing.T) {
	svc := newWorkflowFixture(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	setWorkflowEndpoint(t, svc, "notification", server.URL)

	invoked := svc.Trigger(context.Background(), EventAssignmentCreated, map[string]interface{}{})
	if invoked != 1 {
		t.Fatalf("invoked = %d, want 1", invoked)
	}

	executions, err := svc.ListExecutions(context.Background(), 10)
	if err != nil {
		t.Fatalf("list executions: %v", err)
	}
	if len(executions) != 1 || executions[0].Status != ExecutionFailed {
		t.Fatalf("executions = %v, want one failed", executions)
	}
	if executions[0].Message == "" {
		t.Errorf("failed execution should carry the error message")
	}
}

func TestTriggerNoMatchAudits(t *testing.T) {
	svc := newWorkflowFixture(t)

	invoked := svc.Trigger(context.Background(), "unknown.event", map[string]interface{}{})
	if invoked != 0 {
		t.Fatalf("invoked = %d, want 0", invoked)
	}
	if got := countAuditEvents(t, svc.db, AuditWorkflowNoMatch); got != 1 {
		t.Errorf("workflow-no-match audit events = %d, want 1", got)
	}
}

func TestTriggerSkipsDisabledWorkflow(t *testing.T) {
	svc := newWorkflowFixture(t)

	err := svc.db.Model(&models.WorkflowDefinition{}).
		Where("name = ?", "notification").
		Update("enabled", false).Error
	if err != nil {
		t.Fatalf("disable workflow: %v", err)
	}
	if err := svc.LoadDefinitions(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	invoked := svc.Trigger(context.Background(), EventAssignmentCreated, map[string]interface{}{})
	if invoked != 0 {
		t.Errorf("invoked = %d, want 0 with the only subscriber disabled", invoked)
	}
}

func TestTriggerOverdueFansOutToBothSubscribers(t *testing.T) {
	svc := newWorkflowFixture(t)

	invoked := svc.Trigger(context.Background(), EventSubmissionOverdue, map[string]interface{}{
		"assignment_id": 1,
	})
	if invoked != 2 {
		t.Fatalf("invoked = %d, want 2 (escalation + ticket-creation)", invoked)
	}

	executions, err := svc.ListExecutions(context.Background(), 10)
	if err != nil {
		t.Fatalf("list executions: %v", err)
	}
	if len(executions) != 2 {
		t.Errorf("executions = %d, want 2", len(executions))
	}
}
