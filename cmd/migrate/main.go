package main

import (
	"fmt"
	"log"
	"os"

	"checkops/internal/config"
	"checkops/internal/models"

	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
			cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Println("Starting database migration...")

	err = db.AutoMigrate(
		&models.User{},
		&models.ChecklistSubmission{},
		&models.Heading{},
		&models.Task{},
		&models.Assignment{},
		&models.AuditEvent{},
		&models.AutomationRule{},
		&models.RoundRobinState{},
		&models.WorkflowDefinition{},
		&models.WorkflowExecution{},
	)
	if err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	log.Println("Database migration completed successfully!")

	log.Println("Creating additional indexes...")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_assignments_status_due ON assignments(status, due_at)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_submissions_status_due ON checklist_submissions(status, due_at)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_audit_events_type_created ON audit_events(action_type, created_at)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_rules_event_active ON automation_rules(trigger_event, active)")
	log.Println("Additional indexes created successfully!")

	if len(os.Args) > 1 && os.Args[1] == "--seed" {
		log.Println("Seeding default data...")
		seedDefaultData(db)
		log.Println("Default data seeded successfully!")
	}

	log.Println("Migration process completed!")
}

func seedDefaultData(db *gorm.DB) {
	var admin models.User
	if err := db.Where("username = ?", "admin").First(&admin).Error; err != nil {
		admin = models.User{
			Username: "admin",
			Email:    "admin@checkops.local",
			Name:     "Administrator",
			Role:     "admin",
			Status:   "active",
		}
		db.Create(&admin)
		log.Println("Created default admin user")
	}

	inspectors := []models.User{
		{Username: "inspector1", Email: "inspector1@checkops.local", Name: "Inspector One", Role: "inspector", Status: "active"},
		{Username: "inspector2", Email: "inspector2@checkops.local", Name: "Inspector Two", Role: "inspector", Status: "active"},
		{Username: "inspector3", Email: "inspector3@checkops.local", Name: "Inspector Three", Role: "inspector", Status: "active"},
	}
	for i := range inspectors {
		var existing models.User
		if err := db.Where("username = ?", inspectors[i].Username).First(&existing).Error; err != nil {
			db.Create(&inspectors[i])
			log.Printf("Created user %s", inspectors[i].Username)
		}
	}

	workflows := []models.WorkflowDefinition{
		{Name: "notification", Type: models.WorkflowTypeNotification,
			TriggerEvents: "assignment.created,assignment.reminder", Enabled: true},
		{Name: "escalation", Type: models.WorkflowTypeEscalation,
			TriggerEvents: "submission.overdue", Enabled: true},
		{Name: "ticket-creation", Type: models.WorkflowTypeTicket,
			TriggerEvents: "submission.overdue", Enabled: true},
		{Name: "compliance-reporting", Type: models.WorkflowTypeComplianceReport,
			TriggerEvents: "compliance.report.due", Enabled: true},
	}
	for i := range workflows {
		var existing models.WorkflowDefinition
		if err := db.Where("name = ?", workflows[i].Name).First(&existing).Error; err != nil {
			db.Create(&workflows[i])
			log.Printf("Created workflow definition %s", workflows[i].Name)
		}
	}

	var demoRule models.AutomationRule
	if err := db.Where("name = ?", "daily-west-followup").First(&demoRule).Error; err != nil {
		demoRule = models.AutomationRule{
			Name:               "daily-west-followup",
			TriggerEvent:       models.TriggerOnSubmit,
			SourcePattern:      "daily-west.html",
			TargetChecklist:    "daily-west-recheck.html",
			AssignmentStrategy: models.StrategyRoundRobinByRole,
			AssignmentDetail:   "inspector",
			Active:             true,
		}
		db.Create(&demoRule)
		log.Println("Created demo automation rule")
	}
}
