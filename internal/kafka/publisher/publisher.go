package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/emailservice/internal/logger"
	"github.com/example/emailservice/internal/metrics"
	"github.com/example/emailservice/internal/models"
)

// DefaultTimeout bounds a single status publish when no option overrides it.
const DefaultTimeout = 5 * time.Second

var (
	errProducerNotInitialised = errors.New("kafka publisher: producer not initialised")
	errProducerNotReady       = errors.New("kafka publisher: producer not ready")
)

// SyncProducer captures the subset of producer behaviour required by the
// status publisher.
type SyncProducer interface {
	PublishSync(topic string, key []byte, headers map[string][]byte, payload []byte) error
}

// readiness is implemented by producers that track broker reachability.
type readiness interface {
	IsReady() bool
}

// ErrProducerNotInitialised exposes the sentinel error for callers and tests.
func ErrProducerNotInitialised() error {
	return errProducerNotInitialised
}

// ErrProducerNotReady is returned when the producer reports the brokers as
// unreachable and the event was dropped without a send attempt.
func ErrProducerNotReady() error {
	return errProducerNotReady
}

// Option customises the status publisher.
type Option func(*StatusPublisher)

// WithTimeout bounds each publish. The caller's context still applies when
// its deadline is earlier.
func WithTimeout(d time.Duration) Option {
	return func(p *StatusPublisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// StatusPublisher emits confirmation status events to a Kafka topic.
type StatusPublisher struct {
	producer SyncProducer
	topic    string
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewStatusPublisher constructs a StatusPublisher instance.
func NewStatusPublisher(prod SyncProducer, topic string, log zerolog.Logger, opts ...Option) *StatusPublisher {
	if prod == nil {
		return nil
	}
	p := &StatusPublisher{
		producer: prod,
		topic:    topic,
		timeout:  DefaultTimeout,
		logger:   logger.OrNop(log),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// PublishStatus writes the supplied status event to Kafka and waits for the
// acknowledgement, at most until ctx or the publish timeout expires. The
// record is keyed by order id so events of one order share a partition.
func (p *StatusPublisher) PublishStatus(ctx context.Context, event models.StatusEvent) error {
	if p == nil || p.producer == nil {
		return errProducerNotInitialised
	}
	if r, ok := p.producer.(readiness); ok && !r.IsReady() {
		metrics.StatusEventsSkipped.Inc()
		return errProducerNotReady
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka publisher: marshal status event: %w", err)
	}

	key := event.OrderID
	if key == "" {
		key = event.MessageID
	}
	headers := map[string][]byte{
		"content-type": []byte("application/json"),
		"event-type":   []byte(event.EventType),
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	// The sarama sync producer cannot be cancelled; an abandoned send finishes
	// in the background within the producer's own retry budget.
	done := make(chan error, 1)
	go func() {
		done <- p.producer.PublishSync(p.topic, []byte(key), headers, payload)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("kafka publisher: publish status event: %w", err)
		}
	case <-ctx.Done():
		return fmt.Errorf("kafka publisher: publish status event: %w", ctx.Err())
	}

	p.logger.Debug().
		Str("message_id", event.MessageID).
		Str("event_type", event.EventType).
		Str("topic", p.topic).
		Msg("status event published")
	return nil
}
