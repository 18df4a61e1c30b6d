package config_test

import (
	"reflect"
	"strings"
	"testing"

	"github.com/example/emailservice/internal/config"
)

func setSMTPEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_USER", "mailer@example.com")
	t.Setenv("SMTP_PASS", "topsecret")
}

func TestLoadDefaults(t *testing.T) {
	setSMTPEnv(t)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.App.Env != "production" {
		t.Fatalf("expected app env production, got %s", cfg.App.Env)
	}
	if cfg.Server.Port != "8080" {
		t.Fatalf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.WorkerConcurrency != 10 {
		t.Fatalf("expected worker concurrency 10, got %d", cfg.Server.WorkerConcurrency)
	}
	if cfg.Template.Dir != "" || cfg.Template.Name != "confirmation.html" {
		t.Fatalf("unexpected template config: %+v", cfg.Template)
	}
	if cfg.Mail.Backend != config.MailBackendSMTP {
		t.Fatalf("expected smtp backend, got %s", cfg.Mail.Backend)
	}
	if cfg.Mail.Subject != config.DefaultSubject {
		t.Fatalf("expected default subject, got %q", cfg.Mail.Subject)
	}
	if cfg.SMTP.Port != 587 {
		t.Fatalf("expected smtp port 587, got %d", cfg.SMTP.Port)
	}
	if cfg.SMTP.From != "mailer@example.com" {
		t.Fatalf("expected from to default to SMTP_USER, got %q", cfg.SMTP.From)
	}
	if !cfg.SMTP.RequireTLS {
		t.Fatalf("expected STARTTLS to be required by default")
	}
	if cfg.Dispatch.FailureMode != config.DispatchFailureSwallow {
		t.Fatalf("expected swallow failure mode, got %s", cfg.Dispatch.FailureMode)
	}
	if cfg.Dispatch.TimeoutSeconds != 30 {
		t.Fatalf("expected dispatch timeout 30, got %d", cfg.Dispatch.TimeoutSeconds)
	}
	if cfg.Kafka.Enabled() {
		t.Fatalf("expected kafka to be disabled without brokers")
	}
	if cfg.Kafka.PublishTimeoutSeconds != 5 || cfg.Kafka.MetadataRefreshSeconds != 30 {
		t.Fatalf("unexpected kafka timings: %+v", cfg.Kafka)
	}
	if cfg.Metrics.Addr != "" {
		t.Fatalf("expected metrics to be disabled, got %q", cfg.Metrics.Addr)
	}
}

func TestLoadOverrides(t *testing.T) {
	setSMTPEnv(t)
	t.Setenv("APP_ENV", "development")
	t.Setenv("PORT", "9555")
	t.Setenv("WORKER_CONCURRENCY", "4")
	t.Setenv("SMTP_FROM", "orders@example.com")
	t.Setenv("SMTP_REQUIRE_TLS", "false")
	t.Setenv("DISPATCH_FAILURE_MODE", "Propagate")
	t.Setenv("DISPATCH_TIMEOUT_SECONDS", "0")
	t.Setenv("KAFKA_BROKERS", "broker-a:9092, broker-b:9093")
	t.Setenv("METRICS_ADDR", ":9090")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != "9555" || cfg.Server.WorkerConcurrency != 4 {
		t.Fatalf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.SMTP.From != "orders@example.com" {
		t.Fatalf("expected explicit from, got %q", cfg.SMTP.From)
	}
	if cfg.SMTP.RequireTLS {
		t.Fatalf("expected STARTTLS requirement to be disabled")
	}
	if cfg.Dispatch.FailureMode != config.DispatchFailurePropagate {
		t.Fatalf("expected propagate failure mode, got %s", cfg.Dispatch.FailureMode)
	}
	if cfg.Dispatch.TimeoutSeconds != 0 {
		t.Fatalf("expected dispatch timeout 0, got %d", cfg.Dispatch.TimeoutSeconds)
	}
	wantBrokers := []string{"broker-a:9092", "broker-b:9093"}
	if !reflect.DeepEqual(cfg.Kafka.Brokers, wantBrokers) {
		t.Fatalf("expected brokers %v, got %v", wantBrokers, cfg.Kafka.Brokers)
	}
	if !cfg.Kafka.Enabled() {
		t.Fatalf("expected kafka to be enabled")
	}
}

func TestLoadLogBackendSkipsSMTPRequirements(t *testing.T) {
	t.Setenv("MAIL_BACKEND", "log")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Mail.Backend != config.MailBackendLog {
		t.Fatalf("expected log backend, got %s", cfg.Mail.Backend)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	t.Setenv("PORT", "not-a-port")
	t.Setenv("WORKER_CONCURRENCY", "0")
	t.Setenv("MAIL_BACKEND", "carrier-pigeon")
	t.Setenv("DISPATCH_FAILURE_MODE", "retry")
	t.Setenv("SMTP_REQUIRE_TLS", "maybe")
	t.Setenv("KAFKA_PUBLISH_TIMEOUT_SECONDS", "0")

	_, err := config.Load()
	if err == nil {
		t.Fatalf("expected validation error")
	}

	for _, want := range []string{
		"PORT must be a valid port number",
		"WORKER_CONCURRENCY must be >= 1",
		"MAIL_BACKEND must be one of",
		"DISPATCH_FAILURE_MODE must be one of",
		"SMTP_REQUIRE_TLS must be a valid boolean",
		"KAFKA_PUBLISH_TIMEOUT_SECONDS must be >= 1",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error to mention %q, got %v", want, err)
		}
	}
}

func TestLoadRequiresSMTPCredentials(t *testing.T) {
	t.Setenv("SMTP_HOST", "")
	t.Setenv("SMTP_USER", "")
	t.Setenv("SMTP_PASS", "")

	_, err := config.Load()
	if err == nil {
		t.Fatalf("expected error when smtp settings are missing")
	}
	for _, key := range []string{"SMTP_HOST", "SMTP_USER", "SMTP_PASS"} {
		if !strings.Contains(err.Error(), key+" is required") {
			t.Fatalf("expected %s to be reported, got %v", key, err)
		}
	}
}
