package services

import (
	"context"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"checkops/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := "file:services_" + name + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&models.User{}, &models.ChecklistSubmission{}, &models.Heading{}, &models.Task{},
		&models.Assignment{}, &models.AuditEvent{},
		&models.AutomationRule{}, &models.RoundRobinState{},
		&models.WorkflowDefinition{}, &models.WorkflowExecution{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func createUser(t *testing.T, db *gorm.DB, username, role string) *models.User {
	t.Helper()
	user := &models.User{
		Username: username,
		Email:    username + "@test.local",
		Name:     username,
		Role:     role,
		Status:   "active",
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return user
}

// stubTemplates is a canned TemplateProvider for pipeline tests.
type stubTemplates struct {
	headings []TemplateHeading
	err      error
}

func (s *stubTemplates) GetTemplateStructure(ctx context.Context, checklistID string) ([]TemplateHeading, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.headings, nil
}

func countAuditEvents(t *testing.T, db *gorm.DB, actionType string) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&models.AuditEvent{}).Where("action_type = ?", actionType).Count(&count).Error; err != nil {
		t.Fatalf("count audit events: %v", err)
	}
	return count
}
