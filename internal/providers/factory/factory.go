package factory

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/example/emailservice/internal/config"
	emailprovider "github.com/example/emailservice/internal/providers/email"
)

// Email constructs the configured mail provider, supporting SMTP and log
// backends.
func Email(cfg *config.Config, logger zerolog.Logger, opts ...emailprovider.SMTPOption) (emailprovider.Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("factory: config is required")
	}

	backend := normalize(cfg.Mail.Backend, config.MailBackendSMTP)
	switch backend {
	case config.MailBackendSMTP:
		provider, err := emailprovider.NewSMTPProvider(cfg.SMTP, logger, opts...)
		if err != nil {
			return nil, fmt.Errorf("factory: smtp provider init: %w", err)
		}
		logger.Info().
			Str("backend", backend).
			Str("relay", provider.Host()).
			Int("port", cfg.SMTP.Port).
			Bool("require_tls", cfg.SMTP.RequireTLS).
			Msg("email provider initialised")
		return provider, nil
	case config.MailBackendLog:
		provider := emailprovider.NewLogProvider(logger)
		logger.Info().
			Str("backend", backend).
			Msg("email provider initialised")
		return provider, nil
	default:
		return nil, fmt.Errorf("factory: unsupported email provider backend %q", cfg.Mail.Backend)
	}
}

func normalize(value, def string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return def
	}
	return value
}
