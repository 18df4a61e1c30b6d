// Package confirmation implements the order confirmation use case: render the
// confirmation document for an order and mail it to the buyer.
package confirmation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	emailadapter "github.com/example/emailservice/internal/adapters/email"
	"github.com/example/emailservice/internal/config"
	"github.com/example/emailservice/internal/logger"
	"github.com/example/emailservice/internal/metrics"
	"github.com/example/emailservice/internal/models"
	"github.com/example/emailservice/internal/render"
)

// Caller-visible failure messages. Causes are only logged.
const (
	MsgPrepareFailed = "An error occurred when preparing the confirmation mail."
	MsgSendFailed    = "An error occurred when sending the email."
)

// FailureMode decides what a failed dispatch means for the caller.
type FailureMode string

const (
	// FailureModeSwallow reports success to the caller even when the mail
	// could not be sent. The failure is still logged and counted.
	FailureModeSwallow FailureMode = config.DispatchFailureSwallow
	// FailureModePropagate turns a failed dispatch into an Internal status.
	FailureModePropagate FailureMode = config.DispatchFailurePropagate
)

// ParseFailureMode maps a configuration value onto a FailureMode.
func ParseFailureMode(value string) (FailureMode, error) {
	switch FailureMode(value) {
	case FailureModeSwallow, "":
		return FailureModeSwallow, nil
	case FailureModePropagate:
		return FailureModePropagate, nil
	default:
		return "", fmt.Errorf("confirmation: unknown dispatch failure mode %q", value)
	}
}

// Renderer produces the confirmation document for an order.
type Renderer interface {
	Render(order *models.Order) (string, error)
}

// Dispatcher mails a rendered document to a single recipient.
type Dispatcher interface {
	Dispatch(ctx context.Context, recipient, document string) error
}

// StatusPublisher records the outcome of a confirmation request.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, event models.StatusEvent) error
}

// ConfirmationSender is the order confirmation capability exposed over RPC.
type ConfirmationSender interface {
	SendOrderConfirmation(ctx context.Context, req *models.ConfirmationRequest) error
}

// Option customises the service.
type Option func(*Service)

// WithFailureMode sets the dispatch failure mode. Defaults to swallow.
func WithFailureMode(mode FailureMode) Option {
	return func(s *Service) {
		if mode != "" {
			s.mode = mode
		}
	}
}

// WithStatusPublisher emits a status event for every request.
func WithStatusPublisher(p StatusPublisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithClock replaces the clock used for status event timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service renders and dispatches order confirmations.
type Service struct {
	logger     zerolog.Logger
	renderer   Renderer
	dispatcher Dispatcher
	publisher  StatusPublisher
	mode       FailureMode
	now        func() time.Time
}

var _ ConfirmationSender = (*Service)(nil)

// NewService constructs a Service using the provided dependencies.
func NewService(renderer Renderer, dispatcher Dispatcher, log zerolog.Logger, opts ...Option) (*Service, error) {
	if renderer == nil {
		return nil, errors.New("confirmation: renderer dependency is required")
	}
	if dispatcher == nil {
		return nil, errors.New("confirmation: dispatcher dependency is required")
	}

	s := &Service{
		logger:     logger.OrNop(log),
		renderer:   renderer,
		dispatcher: dispatcher,
		mode:       FailureModeSwallow,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if _, err := ParseFailureMode(string(s.mode)); err != nil {
		return nil, err
	}
	return s, nil
}

// SendOrderConfirmation renders the confirmation for req.Order and mails it to
// req.Email. A render failure never reaches the dispatcher.
func (s *Service) SendOrderConfirmation(ctx context.Context, req *models.ConfirmationRequest) error {
	var (
		recipient string
		order     *models.Order
	)
	if req != nil {
		recipient = req.Email
		order = req.Order
	}

	requestID := uuid.NewString()
	log := s.logger.With().Str("request_id", requestID).Str("order_id", orderID(order)).Logger()

	log.Info().Str("recipient", recipient).Msg("a request to send order confirmation email has been received")

	document, err := s.renderer.Render(order)
	if err != nil {
		log.Error().Err(err).Msg("failed to render order confirmation")
		metrics.ConfirmationsTotal.WithLabelValues(metrics.OutcomeRenderFailed).Inc()
		s.publish(ctx, log, models.StatusEvent{
			MessageID: requestID,
			OrderID:   orderID(order),
			EventType: models.StatusEventRenderFailed,
			Stage:     "render",
			Error:     err.Error(),
		})
		return status.Error(codes.Internal, MsgPrepareFailed)
	}

	if err := s.dispatcher.Dispatch(ctx, recipient, document); err != nil {
		metrics.ConfirmationsTotal.WithLabelValues(metrics.OutcomeDispatchFailed).Inc()
		event := models.StatusEvent{
			MessageID: requestID,
			OrderID:   orderID(order),
			EventType: models.StatusEventDispatchFailed,
			Error:     err.Error(),
		}
		var failure *emailadapter.DispatchFailure
		if errors.As(err, &failure) {
			event.Stage = failure.Stage
			event.Error = failure.Err.Error()
		}
		s.publish(ctx, log, event)

		if s.mode == FailureModePropagate {
			return status.Error(codes.Internal, MsgSendFailed)
		}
		log.Warn().Msg("confirmation mail was not sent, reporting success to caller")
		return nil
	}

	metrics.ConfirmationsTotal.WithLabelValues(metrics.OutcomeSent).Inc()
	s.publish(ctx, log, models.StatusEvent{
		MessageID: requestID,
		OrderID:   orderID(order),
		EventType: models.StatusEventSent,
	})
	return nil
}

func (s *Service) publish(ctx context.Context, log zerolog.Logger, event models.StatusEvent) {
	if s.publisher == nil {
		return
	}
	event.Timestamp = s.now().UTC()
	if err := s.publisher.PublishStatus(ctx, event); err != nil {
		log.Warn().Err(err).Str("event_type", event.EventType).Msg("failed to publish status event")
	}
}

func orderID(order *models.Order) string {
	if order == nil {
		return ""
	}
	return order.OrderID
}

var _ Renderer = (*render.Renderer)(nil)
var _ Dispatcher = (*emailadapter.Dispatcher)(nil)
