package factory_test

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/example/emailservice/internal/config"
	emailprovider "github.com/example/emailservice/internal/providers/email"
	"github.com/example/emailservice/internal/providers/factory"
)

func TestEmailFactoryBackends(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		check   func(t *testing.T, p emailprovider.Provider)
		wantErr bool
	}{
		{
			name:    "smtp",
			backend: "smtp",
			check: func(t *testing.T, p emailprovider.Provider) {
				smtp, ok := p.(*emailprovider.SMTPProvider)
				if !ok {
					t.Fatalf("expected *SMTPProvider, got %T", p)
				}
				if smtp.Host() != "smtp.example.com" {
					t.Fatalf("unexpected relay host %s", smtp.Host())
				}
			},
		},
		{
			name:    "default is smtp",
			backend: "",
			check: func(t *testing.T, p emailprovider.Provider) {
				if _, ok := p.(*emailprovider.SMTPProvider); !ok {
					t.Fatalf("expected *SMTPProvider, got %T", p)
				}
			},
		},
		{
			name:    "log",
			backend: " LOG ",
			check: func(t *testing.T, p emailprovider.Provider) {
				if _, ok := p.(*emailprovider.LogProvider); !ok {
					t.Fatalf("expected *LogProvider, got %T", p)
				}
			},
		},
		{name: "unknown", backend: "sendgrid", wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			cfg := &config.Config{}
			cfg.Mail.Backend = tc.backend
			cfg.SMTP = config.SMTPConfig{Host: "smtp.example.com", Port: 587, From: "orders@example.com"}

			provider, err := factory.Email(cfg, zerolog.Nop())
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for backend %q", tc.backend)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tc.check(t, provider)
		})
	}
}

func TestEmailFactoryPropagatesSMTPValidation(t *testing.T) {
	cfg := &config.Config{}
	cfg.Mail.Backend = config.MailBackendSMTP

	if _, err := factory.Email(cfg, zerolog.Nop()); err == nil {
		t.Fatalf("expected smtp validation error for empty relay settings")
	}
	if _, err := factory.Email(nil, zerolog.Nop()); err == nil {
		t.Fatalf("expected error for nil config")
	}
}
