package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message/mail"
	"github.com/rs/zerolog"

	"github.com/example/emailservice/internal/config"
	"github.com/example/emailservice/internal/logger"
)

// SMTPOption configures the behaviour of the SMTP provider.
type SMTPOption func(*SMTPProvider)

// WithSMTPTLSConfig overrides the TLS configuration used when negotiating
// STARTTLS. A nil config skips the upgrade entirely.
func WithSMTPTLSConfig(cfg *tls.Config) SMTPOption {
	return func(p *SMTPProvider) {
		p.tlsConfig = cfg
	}
}

// WithSMTPDialer swaps the network dialer used to establish SMTP connections.
func WithSMTPDialer(d Dialer) SMTPOption {
	return func(p *SMTPProvider) {
		if d != nil {
			p.dialer = d
		}
	}
}

// WithSMTPAuth supplies a custom SMTP auth strategy. When omitted the provider
// uses PLAIN auth with the credentials from the supplied configuration.
func WithSMTPAuth(auth smtp.Auth) SMTPOption {
	return func(p *SMTPProvider) {
		p.auth = auth
	}
}

// WithSMTPClock replaces the clock used for timestamps and the Date header.
func WithSMTPClock(now func() time.Time) SMTPOption {
	return func(p *SMTPProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// WithSMTPHelloName customises the EHLO/HELO identity presented to the server.
func WithSMTPHelloName(name string) SMTPOption {
	return func(p *SMTPProvider) {
		if strings.TrimSpace(name) != "" {
			p.helloName = strings.TrimSpace(name)
		}
	}
}

// Dialer abstracts net.Dialer to simplify testing.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// SMTPProvider implements Provider against an authenticated SMTP relay. Every
// Send opens its own session and releases it before returning.
type SMTPProvider struct {
	logger     zerolog.Logger
	host       string
	port       int
	from       string
	auth       smtp.Auth
	tlsConfig  *tls.Config
	requireTLS bool
	dialer     Dialer
	now        func() time.Time
	helloName  string
}

// NewSMTPProvider constructs a Provider backed by an SMTP relay.
func NewSMTPProvider(cfg config.SMTPConfig, log zerolog.Logger, opts ...SMTPOption) (*SMTPProvider, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp provider: host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("smtp provider: invalid port %d", cfg.Port)
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("smtp provider: from address is required")
	}

	dialTimeout := time.Duration(cfg.DialTimeoutSeconds) * time.Second
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}

	helloName := strings.TrimSpace(cfg.HelloName)
	if helloName == "" {
		helloName = "localhost"
	}

	p := &SMTPProvider{
		logger:     logger.OrNop(log),
		host:       cfg.Host,
		port:       cfg.Port,
		from:       strings.TrimSpace(cfg.From),
		requireTLS: cfg.RequireTLS,
		dialer:     &net.Dialer{Timeout: dialTimeout},
		now:        time.Now,
		helloName:  helloName,
	}

	if strings.TrimSpace(cfg.User) != "" {
		p.auth = smtp.PlainAuth("", cfg.User, cfg.Pass, cfg.Host)
	}

	p.tlsConfig = &tls.Config{
		ServerName:         cfg.Host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify, // #nosec G402 -- opt-in for relays with private certificates.
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	return p, nil
}

// Host returns the relay host name.
func (p *SMTPProvider) Host() string { return p.host }

// Send delivers msg through a fresh SMTP session.
func (p *SMTPProvider) Send(ctx context.Context, msg *Message) (*Receipt, error) {
	if msg == nil {
		return nil, errors.New("smtp provider: message is required")
	}

	from := strings.TrimSpace(msg.From)
	if from == "" {
		from = p.from
	}

	envelopeFrom, err := normalizeEnvelopeAddress(from)
	if err != nil {
		return nil, fmt.Errorf("smtp provider: invalid from address: %w", err)
	}
	envelopeTo, err := normalizeEnvelopeAddress(msg.To)
	if err != nil {
		return nil, fmt.Errorf("smtp provider: invalid recipient: %w", err)
	}

	body, err := p.compose(msg, from)
	if err != nil {
		return nil, err
	}

	resp := &Receipt{
		ID:        msg.MessageID,
		Timestamp: p.now(),
	}

	if err := p.deliver(ctx, envelopeFrom, envelopeTo, body); err != nil {
		resp.Code, resp.Body = classifySMTPError(err)
		if resp.Body == "" {
			resp.Body = err.Error()
		}
		return resp, err
	}

	resp.Code = 250
	resp.Body = "smtp: message accepted"
	p.logger.Debug().
		Str("message_id", msg.MessageID).
		Str("relay", p.host).
		Msg("smtp relay accepted message")

	return resp, nil
}

func (p *SMTPProvider) deliver(ctx context.Context, from, to string, message []byte) error {
	if err := ctx.Err(); err != nil {
		return stageError(StageDial, err)
	}

	addr := net.JoinHostPort(p.host, strconv.Itoa(p.port))
	conn, err := p.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return stageError(StageDial, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	client, err := smtp.NewClient(conn, p.host)
	if err != nil {
		return stageError(StageHello, err)
	}
	defer client.Close()

	if err := client.Hello(p.helloName); err != nil {
		return stageError(StageHello, err)
	}

	if cfg := p.sessionTLSConfig(); cfg != nil {
		ok, _ := client.Extension("STARTTLS")
		switch {
		case ok:
			if err := client.StartTLS(cfg); err != nil {
				return stageError(StageStartTLS, err)
			}
		case p.requireTLS:
			return stageError(StageStartTLS, errors.New("relay does not offer STARTTLS"))
		default:
			p.logger.Warn().Str("relay", p.host).Msg("relay does not offer STARTTLS, continuing in plaintext")
		}
	}

	if p.auth != nil {
		if ok, _ := client.Extension("AUTH"); !ok {
			return stageError(StageAuth, errors.New("relay does not offer AUTH"))
		}
		if err := client.Auth(p.auth); err != nil {
			return stageError(StageAuth, err)
		}
	}

	if err := client.Mail(from); err != nil {
		return stageError(StageEnvelope, fmt.Errorf("mail from: %w", err))
	}
	if err := client.Rcpt(to); err != nil {
		return stageError(StageEnvelope, fmt.Errorf("rcpt to: %w", err))
	}

	writer, err := client.Data()
	if err != nil {
		return stageError(StageData, err)
	}
	if _, err := writer.Write(message); err != nil {
		_ = writer.Close()
		return stageError(StageData, fmt.Errorf("write: %w", err))
	}
	if err := writer.Close(); err != nil {
		return stageError(StageData, err)
	}

	// The relay has accepted the message at this point; a failed QUIT does
	// not change the outcome.
	if err := client.Quit(); err != nil && !errors.Is(err, io.EOF) {
		p.logger.Warn().Err(err).Str("relay", p.host).Msg("smtp quit failed after message was accepted")
	}

	return nil
}

// compose renders the MIME message: From, To, Subject, Message-ID and Date
// headers around a multipart/mixed body holding a single inline text/html part.
func (p *SMTPProvider) compose(msg *Message, from string) ([]byte, error) {
	fromAddr, err := gomessage.ParseAddress(sanitizeHeaderValue(from))
	if err != nil {
		return nil, fmt.Errorf("smtp provider: compose message: from: %w", err)
	}
	toAddr, err := gomessage.ParseAddress(sanitizeHeaderValue(msg.To))
	if err != nil {
		return nil, fmt.Errorf("smtp provider: compose message: to: %w", err)
	}

	var h gomessage.Header
	h.Set("MIME-Version", "1.0")
	h.SetDate(p.now())
	h.SetAddressList("From", []*gomessage.Address{fromAddr})
	h.SetAddressList("To", []*gomessage.Address{toAddr})
	h.SetSubject(sanitizeHeaderValue(msg.Subject))
	if msg.MessageID != "" {
		h.SetMessageID(sanitizeHeaderValue(msg.MessageID))
	}

	var buf bytes.Buffer
	mw, err := gomessage.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("smtp provider: compose message: %w", err)
	}

	var part gomessage.InlineHeader
	part.SetContentType("text/html", map[string]string{"charset": "UTF-8"})
	part.Set("Content-Transfer-Encoding", "quoted-printable")
	pw, err := mw.CreateSingleInline(part)
	if err != nil {
		return nil, fmt.Errorf("smtp provider: compose message: html part: %w", err)
	}
	if _, err := io.WriteString(pw, msg.HTML); err != nil {
		return nil, fmt.Errorf("smtp provider: compose message: html part: %w", err)
	}
	if err := pw.Close(); err != nil {
		return nil, fmt.Errorf("smtp provider: compose message: html part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("smtp provider: compose message: %w", err)
	}
	return buf.Bytes(), nil
}

func (p *SMTPProvider) sessionTLSConfig() *tls.Config {
	if p.tlsConfig == nil {
		return nil
	}
	cfg := p.tlsConfig.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = p.host
	}
	return cfg
}

func sanitizeHeaderValue(value string) string {
	clean := strings.ReplaceAll(value, "\r", " ")
	clean = strings.ReplaceAll(clean, "\n", " ")
	return strings.TrimSpace(clean)
}

func normalizeEnvelopeAddress(value string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(value))
	if err != nil {
		return "", err
	}
	if addr.Address == "" {
		return "", errors.New("empty address")
	}
	return addr.Address, nil
}

func classifySMTPError(err error) (int, string) {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code, strings.TrimSpace(tpErr.Msg)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return 0, "smtp: timeout"
	}

	return 0, ""
}
