package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Mail backends understood by the provider factory.
const (
	MailBackendSMTP = "smtp"
	MailBackendLog  = "log"
)

// Dispatch failure modes. Swallow keeps the legacy behaviour where a failed
// send is logged and the RPC still reports success.
const (
	DispatchFailureSwallow   = "swallow"
	DispatchFailurePropagate = "propagate"
)

// DefaultSubject is the subject line used for every confirmation mail unless
// MAIL_SUBJECT overrides it.
const DefaultSubject = "Order Confirmation (Ethereal Test)"

// Config captures all runtime configuration for the email service.
type Config struct {
	App      AppConfig
	Server   ServerConfig
	Template TemplateConfig
	Mail     MailConfig
	SMTP     SMTPConfig
	Dispatch DispatchConfig
	Kafka    KafkaConfig
	Metrics  MetricsConfig
}

// AppConfig contains generic application level settings.
type AppConfig struct {
	Env      string
	LogLevel string
}

// ServerConfig controls the gRPC listener and its worker pool.
type ServerConfig struct {
	Port              string
	WorkerConcurrency int
}

// TemplateConfig locates the confirmation template. An empty Dir selects the
// template compiled into the binary.
type TemplateConfig struct {
	Dir  string
	Name string
}

// MailConfig selects the mail backend and the fixed message attributes.
type MailConfig struct {
	Backend string
	Subject string
}

// SMTPConfig stores the relay address and the sender identity.
type SMTPConfig struct {
	Host               string
	Port               int
	User               string
	Pass               string
	From               string
	HelloName          string
	RequireTLS         bool
	InsecureSkipVerify bool
	DialTimeoutSeconds int
}

// DispatchConfig decides what a failed send means for the caller.
type DispatchConfig struct {
	FailureMode    string
	TimeoutSeconds int
}

// KafkaConfig enables the optional status event stream. Publishing is
// disabled when Brokers is empty.
type KafkaConfig struct {
	Brokers                []string
	StatusTopic            string
	PublishTimeoutSeconds  int
	MetadataRefreshSeconds int
}

// Enabled reports whether status events should be published.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// MetricsConfig exposes prometheus metrics over HTTP when Addr is set.
type MetricsConfig struct {
	Addr string
}

// Load reads environment variables, applies defaults, validates required
// values and returns a populated Config instance.
func Load() (*Config, error) {
	_ = godotenv.Load()

	ldr := &envLoader{}

	cfg := &Config{}
	cfg.App.Env = ldr.getString("APP_ENV", "production", false)
	cfg.App.LogLevel = ldr.getString("LOG_LEVEL", "info", false)

	cfg.Server.Port = ldr.getString("PORT", "8080", false)
	if port, err := strconv.Atoi(cfg.Server.Port); err != nil || port <= 0 || port > 65535 {
		ldr.addError("PORT must be a valid port number")
	}
	cfg.Server.WorkerConcurrency = ldr.getInt("WORKER_CONCURRENCY", 10, false)
	if cfg.Server.WorkerConcurrency < 1 {
		ldr.addError("WORKER_CONCURRENCY must be >= 1")
	}

	cfg.Template.Dir = ldr.getString("TEMPLATE_DIR", "", false)
	cfg.Template.Name = ldr.getString("TEMPLATE_NAME", "confirmation.html", false)

	cfg.Mail.Backend = strings.ToLower(ldr.getString("MAIL_BACKEND", MailBackendSMTP, false))
	cfg.Mail.Subject = ldr.getString("MAIL_SUBJECT", DefaultSubject, false)
	switch cfg.Mail.Backend {
	case MailBackendSMTP, MailBackendLog:
	default:
		ldr.addError(fmt.Sprintf("MAIL_BACKEND must be one of %s, %s", MailBackendSMTP, MailBackendLog))
	}

	smtpRequired := cfg.Mail.Backend == MailBackendSMTP
	cfg.SMTP.Host = ldr.getString("SMTP_HOST", "", smtpRequired)
	cfg.SMTP.Port = ldr.getInt("SMTP_PORT", 587, false)
	cfg.SMTP.User = ldr.getString("SMTP_USER", "", smtpRequired)
	cfg.SMTP.Pass = ldr.getString("SMTP_PASS", "", smtpRequired)
	cfg.SMTP.From = ldr.getString("SMTP_FROM", cfg.SMTP.User, false)
	cfg.SMTP.HelloName = ldr.getString("SMTP_HELLO_NAME", "localhost", false)
	cfg.SMTP.RequireTLS = ldr.getBool("SMTP_REQUIRE_TLS", true, false)
	cfg.SMTP.InsecureSkipVerify = ldr.getBool("SMTP_INSECURE_SKIP_VERIFY", false, false)
	cfg.SMTP.DialTimeoutSeconds = ldr.getInt("SMTP_DIAL_TIMEOUT_SECONDS", 10, false)
	if smtpRequired && cfg.SMTP.From == "" {
		ldr.addError("SMTP_FROM or SMTP_USER is required")
	}

	cfg.Dispatch.FailureMode = strings.ToLower(ldr.getString("DISPATCH_FAILURE_MODE", DispatchFailureSwallow, false))
	switch cfg.Dispatch.FailureMode {
	case DispatchFailureSwallow, DispatchFailurePropagate:
	default:
		ldr.addError(fmt.Sprintf("DISPATCH_FAILURE_MODE must be one of %s, %s", DispatchFailureSwallow, DispatchFailurePropagate))
	}
	cfg.Dispatch.TimeoutSeconds = ldr.getInt("DISPATCH_TIMEOUT_SECONDS", 30, false)
	if cfg.Dispatch.TimeoutSeconds < 0 {
		ldr.addError("DISPATCH_TIMEOUT_SECONDS cannot be negative")
	}

	cfg.Kafka.Brokers = ldr.getStringSlice("KAFKA_BROKERS", false)
	cfg.Kafka.StatusTopic = ldr.getString("KAFKA_STATUS_TOPIC", "emailservice.status", false)
	cfg.Kafka.PublishTimeoutSeconds = ldr.getInt("KAFKA_PUBLISH_TIMEOUT_SECONDS", 5, false)
	if cfg.Kafka.PublishTimeoutSeconds < 1 {
		ldr.addError("KAFKA_PUBLISH_TIMEOUT_SECONDS must be >= 1")
	}
	cfg.Kafka.MetadataRefreshSeconds = ldr.getInt("KAFKA_METADATA_REFRESH_SECONDS", 30, false)
	if cfg.Kafka.MetadataRefreshSeconds < 1 {
		ldr.addError("KAFKA_METADATA_REFRESH_SECONDS must be >= 1")
	}

	cfg.Metrics.Addr = ldr.getString("METRICS_ADDR", "", false)

	if err := ldr.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

type envLoader struct {
	errs []string
}

func (l *envLoader) validate() error {
	if len(l.errs) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed: %s", strings.Join(l.errs, "; "))
}

func (l *envLoader) lookup(key string, required bool) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.TrimSpace(val)
		if val != "" {
			return val, true
		}
	}
	if required {
		l.addError(fmt.Sprintf("%s is required", key))
	}
	return "", false
}

func (l *envLoader) getString(key, def string, required bool) string {
	val, ok := l.lookup(key, required)
	if !ok {
		return def
	}
	return val
}

func (l *envLoader) getInt(key string, def int, required bool) int {
	val, ok := l.lookup(key, required)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid integer", key))
		return def
	}
	return i
}

func (l *envLoader) getBool(key string, def bool, required bool) bool {
	val, ok := l.lookup(key, required)
	if !ok {
		return def
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		l.addError(fmt.Sprintf("%s must be a valid boolean", key))
		return def
	}
	return parsed
}

func (l *envLoader) getStringSlice(key string, required bool) []string {
	raw := l.getString(key, "", required)
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if required && len(out) == 0 {
		l.addError(fmt.Sprintf("%s must contain at least one entry", key))
	}
	return out
}

func (l *envLoader) addError(err string) {
	l.errs = append(l.errs, err)
}
