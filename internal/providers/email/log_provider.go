package email

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/emailservice/internal/logger"
)

// LogProvider accepts every message without network I/O and only records it
// in the log. It backs the "log" mail backend used for local development.
type LogProvider struct {
	logger zerolog.Logger
	now    func() time.Time
}

// NewLogProvider constructs a LogProvider.
func NewLogProvider(log zerolog.Logger) *LogProvider {
	return &LogProvider{logger: logger.OrNop(log), now: time.Now}
}

// Host names the backend in metrics labels.
func (p *LogProvider) Host() string { return "log" }

// Send logs the message envelope and reports it as accepted.
func (p *LogProvider) Send(ctx context.Context, msg *Message) (*Receipt, error) {
	if msg == nil {
		return nil, errors.New("log provider: message is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.logger.Info().
		Str("message_id", msg.MessageID).
		Str("recipient", msg.To).
		Str("subject", msg.Subject).
		Int("html_bytes", len(msg.HTML)).
		Msg("confirmation mail received in log mode, not sent")

	return &Receipt{
		ID:        msg.MessageID,
		Code:      250,
		Body:      "log: message recorded",
		Timestamp: p.now(),
	}, nil
}
