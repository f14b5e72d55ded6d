package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkops/internal/config"
	"checkops/internal/handlers"
	"checkops/internal/models"
	"checkops/internal/services"
	"checkops/pkg/webhook"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the checkops automation engine",
	Run:   run,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func run(cmd *cobra.Command, args []string) {
	cfg := config.Load()

	if err := config.InitLogger(cfg); err != nil {
		logrus.Fatalf("Failed to initialize logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
			cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port)
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		appLogger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{}, &models.ChecklistSubmission{}, &models.Heading{}, &models.Task{},
		&models.Assignment{}, &models.AuditEvent{},
		&models.AutomationRule{}, &models.RoundRobinState{},
		&models.WorkflowDefinition{}, &models.WorkflowExecution{},
	); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	auditService := services.NewAuditService(db, appLogger)
	ruleService := services.NewRuleService(db, appLogger)
	assigneeService := services.NewAssigneeService(db, services.NewDBUserDirectory(db), appLogger)
	assignmentService := services.NewAssignmentService(db,
		services.NewFileTemplateProvider(cfg.Templates.Dir), auditService, appLogger)
	assignmentService.SetDefaultDueWindow(time.Duration(cfg.Automation.DefaultDueHours) * time.Hour)
	assignmentService.SetTemplateTimeout(cfg.Automation.TemplateTimeout)

	workflowService := services.NewWorkflowService(db,
		webhook.NewClient(cfg.Webhook.Timeout, appLogger), auditService, appLogger)
	if err := workflowService.LoadDefinitions(context.Background()); err != nil {
		appLogger.Fatalf("Failed to load workflow definitions: %v", err)
	}

	dispatchService := services.NewDispatchService(ruleService, assigneeService, assignmentService,
		workflowService, auditService, appLogger, cfg.Automation.QueueSize)
	dispatchService.Start()

	schedulerService, err := services.NewSchedulerService(db, ruleService, assigneeService,
		assignmentService, workflowService, auditService, appLogger, services.SchedulerOptions{
			Timezone:          cfg.Scheduler.Timezone,
			OverdueSweepCron:  cfg.Scheduler.OverdueSweepCron,
			ReminderCron:      cfg.Scheduler.ReminderCron,
			WeeklyReportCron:  cfg.Scheduler.WeeklyReportCron,
			NearDueCheckCron:  cfg.Scheduler.NearDueCheckCron,
			BusinessHourStart: cfg.Scheduler.BusinessHourStart,
			BusinessHourEnd:   cfg.Scheduler.BusinessHourEnd,
		})
	if err != nil {
		appLogger.Fatalf("Failed to build scheduler: %v", err)
	}
	if err := schedulerService.Start(context.Background()); err != nil {
		appLogger.Fatalf("Failed to start scheduler: %v", err)
	}

	router := gin.Default()
	router.GET("/health", handlers.Health)
	api := router.Group("/api")
	handlers.RegisterAutomationRoutes(api,
		handlers.NewAutomationHandler(ruleService, dispatchService, schedulerService, auditService))
	handlers.RegisterOperationsRoutes(api,
		handlers.NewOperationsHandler(schedulerService, workflowService))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{Addr: addr, Handler: router}

	go func() {
		appLogger.Infof("checkops listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	schedulerService.StopAll()
	dispatchService.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)
}
