package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Log        LogConfig        `yaml:"log"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Automation AutomationConfig `yaml:"automation"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Templates  TemplatesConfig  `yaml:"templates"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // json, text
	Output     string `yaml:"output"` // stdout, file, both
	FilePath   string `yaml:"file_path"`
	MaxSize    int    `yaml:"max_size"` // MB
	MaxAge     int    `yaml:"max_age"`  // days
	MaxBackups int    `yaml:"max_backups"`
	Compress   bool   `yaml:"compress"`
}

// SchedulerConfig 定时任务配置。所有 cron 表达式在同一时区下求值。
type SchedulerConfig struct {
	Timezone          string `yaml:"timezone"`
	OverdueSweepCron  string `yaml:"overdue_sweep_cron"`
	ReminderCron      string `yaml:"reminder_cron"`
	WeeklyReportCron  string `yaml:"weekly_report_cron"`
	NearDueCheckCron  string `yaml:"near_due_check_cron"`
	BusinessHourStart int    `yaml:"business_hour_start"`
	BusinessHourEnd   int    `yaml:"business_hour_end"`
}

type AutomationConfig struct {
	QueueSize       int           `yaml:"queue_size"`        // dispatch backpressure bound
	DefaultDueHours int           `yaml:"default_due_hours"` // due window when a rule has no delay
	TemplateTimeout time.Duration `yaml:"template_timeout"`
}

type WebhookConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type TemplatesConfig struct {
	Dir string `yaml:"dir"` // checklist template documents
}

type MonitoringConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MetricsPath string        `yaml:"metrics_path"`
	Tracing     TracingConfig `yaml:"tracing"`
}

// TracingConfig OpenTelemetry 追踪配置
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"` // OTLP gRPC endpoint
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
	ServiceName string  `yaml:"service_name"`
}

func Load() *Config {
	config := GetDefaultConfig()
	if err := viper.Unmarshal(config); err != nil {
		panic(err)
	}
	return config
}

// GetDefaultConfig 返回默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "password",
			Name:            "checkops",
			MaxOpenConns:    100,
			MaxIdleConns:    10,
			ConnMaxLifetime: 3600 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "both",
			FilePath:   "./logs/checkops.log",
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
			Compress:   true,
		},
		Scheduler: SchedulerConfig{
			Timezone:          "UTC",
			OverdueSweepCron:  "0 1 * * *",
			ReminderCron:      "0 8 * * *",
			WeeklyReportCron:  "0 6 * * 1",
			NearDueCheckCron:  "0 * * * *",
			BusinessHourStart: 8,
			BusinessHourEnd:   18,
		},
		Automation: AutomationConfig{
			QueueSize:       64,
			DefaultDueHours: 24,
			TemplateTimeout: 10 * time.Second,
		},
		Webhook: WebhookConfig{
			Timeout: 10 * time.Second,
		},
		Templates: TemplatesConfig{
			Dir: "./checklists",
		},
		Monitoring: MonitoringConfig{
			Enabled:     true,
			MetricsPath: "/metrics",
			Tracing: TracingConfig{
				Enabled:     false,
				Endpoint:    "http://localhost:4317",
				Insecure:    true,
				SampleRatio: 0.1,
				ServiceName: "checkops",
			},
		},
	}
}
