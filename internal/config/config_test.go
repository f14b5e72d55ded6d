package config

import (
	"testing"
	"time"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("server port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Name != "checkops" {
		t.Errorf("database name = %q", cfg.Database.Name)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("log format = %q, want json", cfg.Log.Format)
	}

	if cfg.Scheduler.Timezone != "UTC" {
		t.Errorf("timezone = %q, want UTC", cfg.Scheduler.Timezone)
	}
	if cfg.Scheduler.OverdueSweepCron != "0 1 * * *" {
		t.Errorf("overdue sweep cron = %q", cfg.Scheduler.OverdueSweepCron)
	}
	if cfg.Scheduler.BusinessHourStart >= cfg.Scheduler.BusinessHourEnd {
		t.Errorf("business hours = [%d, %d)", cfg.Scheduler.BusinessHourStart, cfg.Scheduler.BusinessHourEnd)
	}

	if cfg.Automation.QueueSize != 64 {
		t.Errorf("queue size = %d, want 64", cfg.Automation.QueueSize)
	}
	if cfg.Automation.DefaultDueHours != 24 {
		t.Errorf("default due hours = %d, want 24", cfg.Automation.DefaultDueHours)
	}
	if cfg.Automation.TemplateTimeout != 10*time.Second {
		t.Errorf("template timeout = %v", cfg.Automation.TemplateTimeout)
	}

	if cfg.Webhook.Timeout != 10*time.Second {
		t.Errorf("webhook timeout = %v", cfg.Webhook.Timeout)
	}
	if cfg.Templates.Dir == "" {
		t.Errorf("templates dir unset")
	}
	if cfg.Monitoring.Tracing.Enabled {
		t.Errorf("tracing should default to disabled")
	}
}

func TestLoadWithoutConfigFileUsesDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Server.Port != 8080 || cfg.Automation.QueueSize != 64 {
		t.Errorf("Load without file should keep defaults, got port=%d queue=%d",
			cfg.Server.Port, cfg.Automation.QueueSize)
	}
}
