package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"checkops/internal/config"
	"checkops/internal/handlers"
	"checkops/internal/models"
	"checkops/internal/observability"
	"checkops/internal/services"
	"checkops/pkg/webhook"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"
)

func main() {
	// 读取配置文件（默认 ./config.yml）并初始化日志
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()

	// 允许通过 flags/env 覆盖数据库连接与监听地址
	flagSet := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	flagSet.SetOutput(os.Stdout)
	var (
		flagDSN   = flagSet.String("dsn", os.Getenv("DB_DSN"), "Postgres DSN, if set overrides other DB flags")
		dbHost    = flagSet.String("db-host", getenvDefault("DB_HOST", cfg.Database.Host), "database host")
		dbPortStr = flagSet.String("db-port", getenvDefault("DB_PORT", fmt.Sprintf("%d", cfg.Database.Port)), "database port")
		dbUser    = flagSet.String("db-user", getenvDefault("DB_USER", cfg.Database.User), "database user")
		dbPass    = flagSet.String("db-pass", getenvDefault("DB_PASSWORD", cfg.Database.Password), "database password")
		dbName    = flagSet.String("db-name", getenvDefault("DB_NAME", cfg.Database.Name), "database name")
		srvHost   = flagSet.String("host", getenvDefault("CHECKOPS_HOST", cfg.Server.Host), "server host (listen)")
		srvPort   = flagSet.Int("port", envInt("CHECKOPS_PORT", cfg.Server.Port), "server port (listen)")
	)
	_ = flagSet.Parse(os.Args[1:])

	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	shutdownOTel, err := observability.SetupTracing(context.Background(), cfg)
	if err != nil {
		appLogger.Warnf("init tracing: %v", err)
	} else {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	dsn := *flagDSN
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
			*dbHost, *dbUser, *dbPass, *dbName, *dbPortStr)
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		appLogger.Fatalf("Failed to connect to database: %v", err)
	}
	if cfg.Monitoring.Tracing.Enabled {
		_ = db.Use(gormtracing.NewPlugin())
	}

	if err := db.AutoMigrate(
		&models.User{}, &models.ChecklistSubmission{}, &models.Heading{}, &models.Task{},
		&models.Assignment{}, &models.AuditEvent{},
		&models.AutomationRule{}, &models.RoundRobinState{},
		&models.WorkflowDefinition{}, &models.WorkflowExecution{},
	); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	// 组装核心服务
	auditService := services.NewAuditService(db, appLogger)
	ruleService := services.NewRuleService(db, appLogger)
	directory := services.NewDBUserDirectory(db)
	assigneeService := services.NewAssigneeService(db, directory, appLogger)
	templates := services.NewFileTemplateProvider(cfg.Templates.Dir)

	assignmentService := services.NewAssignmentService(db, templates, auditService, appLogger)
	assignmentService.SetDefaultDueWindow(time.Duration(cfg.Automation.DefaultDueHours) * time.Hour)
	assignmentService.SetTemplateTimeout(cfg.Automation.TemplateTimeout)

	sink := webhook.NewClient(cfg.Webhook.Timeout, appLogger)
	workflowService := services.NewWorkflowService(db, sink, auditService, appLogger)
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

	// 路由
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Monitoring.Tracing.Enabled {
		router.Use(otelgin.Middleware(cfg.Monitoring.Tracing.ServiceName))
	}

	router.GET("/health", handlers.Health)
	api := router.Group("/api")
	handlers.RegisterAutomationRoutes(api,
		handlers.NewAutomationHandler(ruleService, dispatchService, schedulerService, auditService))
	handlers.RegisterOperationsRoutes(api,
		handlers.NewOperationsHandler(schedulerService, workflowService))

	addr := fmt.Sprintf("%s:%d", *srvHost, *srvPort)
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
	appLogger.Info("shutting down...")

	schedulerService.StopAll()
	dispatchService.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		appLogger.Errorf("server shutdown: %v", err)
	}
	appLogger.Info("bye")
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
