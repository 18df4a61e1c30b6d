package email

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	common "github.com/example/emailservice/internal/adapters/common"
	"github.com/example/emailservice/internal/logger"
	"github.com/example/emailservice/internal/metrics"
	emailprovider "github.com/example/emailservice/internal/providers/email"
)

// StageCompose is reported when the message could not be built, before any
// session was opened.
const StageCompose = "compose"

// Settings carries the fixed attributes of every confirmation mail.
type Settings struct {
	From    string
	Subject string
	// Timeout bounds a whole mail session. Zero disables the bound.
	Timeout time.Duration
}

// Option customises dispatcher behaviour.
type Option func(*Dispatcher)

// WithMessageIDs replaces the Message-ID generator.
func WithMessageIDs(next func() string) Option {
	return func(d *Dispatcher) {
		if next != nil {
			d.newID = next
		}
	}
}

// DispatchFailure describes a confirmation mail that could not be delivered.
// Err is wrapped with common.ErrPermanent or common.ErrTransient.
type DispatchFailure struct {
	Recipient string
	Stage     string
	Code      int
	Err       error
}

func (f *DispatchFailure) Error() string {
	return fmt.Sprintf("email dispatcher: send to %s failed at %s: %v", f.Recipient, f.Stage, f.Err)
}

func (f *DispatchFailure) Unwrap() error { return f.Err }

// Dispatcher turns a rendered confirmation into a single mail and hands it to
// the configured provider.
type Dispatcher struct {
	logger   zerolog.Logger
	provider emailprovider.Provider
	settings Settings
	host     string
	newID    func() string
}

// NewDispatcher constructs a Dispatcher using the provided dependencies.
func NewDispatcher(provider emailprovider.Provider, settings Settings, log zerolog.Logger, opts ...Option) (*Dispatcher, error) {
	if provider == nil {
		return nil, errors.New("email dispatcher: provider dependency is required")
	}
	if strings.TrimSpace(settings.Subject) == "" {
		return nil, errors.New("email dispatcher: subject is required")
	}
	if settings.Timeout < 0 {
		return nil, fmt.Errorf("email dispatcher: invalid timeout %s", settings.Timeout)
	}

	host := "unknown"
	if h, ok := provider.(interface{ Host() string }); ok && h.Host() != "" {
		host = h.Host()
	}

	d := &Dispatcher{
		logger:   logger.OrNop(log),
		provider: provider,
		settings: settings,
		host:     host,
		newID: func() string {
			return uuid.NewString() + "@emailservice"
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}

	return d, nil
}

// Dispatch sends document as an HTML mail to recipient. A failed send returns
// a *DispatchFailure after it has been logged with the recipient and cause.
func (d *Dispatcher) Dispatch(ctx context.Context, recipient, document string) error {
	if d.settings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.settings.Timeout)
		defer cancel()
	}

	msg := &emailprovider.Message{
		MessageID: d.newID(),
		From:      d.settings.From,
		To:        recipient,
		Subject:   d.settings.Subject,
		HTML:      document,
	}

	started := time.Now()
	receipt, err := d.provider.Send(ctx, msg)
	metrics.MailSendDuration.WithLabelValues(d.host).Observe(time.Since(started).Seconds())

	if err != nil {
		failure := d.classify(recipient, receipt, err)
		metrics.MailSendFailure.WithLabelValues(d.host, failure.Stage).Inc()

		evt := d.logger.Error().
			Str("message_id", msg.MessageID).
			Str("recipient", recipient).
			Str("stage", failure.Stage).
			Str("failure_type", common.Classification(failure.Err)).
			Err(err)
		if failure.Code > 0 {
			evt = evt.Int("smtp_code", failure.Code)
		}
		if receipt != nil && receipt.Body != "" {
			evt = evt.Str("reply", common.TruncateReply(receipt.Body, common.DefaultReplyLimit))
		}
		evt.Msg("confirmation mail could not be sent")
		return failure
	}

	metrics.MailSendSuccess.WithLabelValues(d.host).Inc()
	d.logger.Info().
		Str("message_id", msg.MessageID).
		Str("recipient", recipient).
		Msg("confirmation mail sent")
	return nil
}

func (d *Dispatcher) classify(recipient string, receipt *emailprovider.Receipt, err error) *DispatchFailure {
	failure := &DispatchFailure{Recipient: recipient, Stage: StageCompose}

	var sessErr *emailprovider.SessionError
	if errors.As(err, &sessErr) {
		failure.Stage = sessErr.Stage
	}
	if receipt != nil {
		failure.Code = receipt.Code
	}

	switch {
	case failure.Stage == StageCompose && !isTimeout(err):
		failure.Err = common.WrapPermanent(err)
	case isPermanentCode(failure.Code):
		failure.Err = common.WrapPermanent(err)
	default:
		failure.Err = common.WrapTransient(err)
	}
	return failure
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isPermanentCode(code int) bool {
	switch code {
	case 530, 535, 550, 551, 553:
		return true
	default:
		return false
	}
}
