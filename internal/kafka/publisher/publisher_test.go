package publisher_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/example/emailservice/internal/kafka/producer"
	kafkapublisher "github.com/example/emailservice/internal/kafka/publisher"
	"github.com/example/emailservice/internal/metrics"
	"github.com/example/emailservice/internal/models"
)

type fakeSyncProducer struct {
	err     error
	topic   string
	key     []byte
	headers map[string][]byte
	payload []byte
}

func (f *fakeSyncProducer) PublishSync(topic string, key []byte, headers map[string][]byte, payload []byte) error {
	f.topic = topic
	f.key = append([]byte(nil), key...)
	f.headers = headers
	f.payload = append([]byte(nil), payload...)
	return f.err
}

func TestStatusPublisherPublishesEvent(t *testing.T) {
	prod := &fakeSyncProducer{}
	pub := kafkapublisher.NewStatusPublisher(prod, "status-topic", zerolog.Nop())
	if pub == nil {
		t.Fatalf("expected publisher instance")
	}

	event := models.StatusEvent{
		MessageID: "message-1",
		OrderID:   "ORDER-42",
		EventType: models.StatusEventSent,
		Timestamp: time.Unix(123, 0).UTC(),
	}

	if err := pub.PublishStatus(context.Background(), event); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	if prod.topic != "status-topic" {
		t.Fatalf("expected topic status-topic, got %s", prod.topic)
	}
	if string(prod.key) != "ORDER-42" {
		t.Fatalf("expected key ORDER-42, got %s", string(prod.key))
	}
	if ct := prod.headers["content-type"]; string(ct) != "application/json" {
		t.Fatalf("expected content-type header, got %s", string(ct))
	}
	if et := prod.headers["event-type"]; string(et) != models.StatusEventSent {
		t.Fatalf("expected event-type header, got %s", string(et))
	}

	var payload models.StatusEvent
	if err := json.Unmarshal(prod.payload, &payload); err != nil {
		t.Fatalf("failed to unmarshal payload: %v", err)
	}
	if payload.EventType != models.StatusEventSent || payload.OrderID != "ORDER-42" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestStatusPublisherFallsBackToMessageIDKey(t *testing.T) {
	prod := &fakeSyncProducer{}
	pub := kafkapublisher.NewStatusPublisher(prod, "status-topic", zerolog.Nop())

	if err := pub.PublishStatus(context.Background(), models.StatusEvent{MessageID: "message-2", EventType: models.StatusEventRenderFailed}); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	if string(prod.key) != "message-2" {
		t.Fatalf("expected key message-2, got %s", string(prod.key))
	}
}

func TestStatusPublisherPropagatesProducerError(t *testing.T) {
	expectedErr := errors.New("broker down")
	prod := &fakeSyncProducer{err: expectedErr}

	pub := kafkapublisher.NewStatusPublisher(prod, "status-topic", zerolog.Nop())
	err := pub.PublishStatus(context.Background(), models.StatusEvent{MessageID: "id"})
	if !errors.Is(err, expectedErr) {
		t.Fatalf("expected producer error, got %v", err)
	}
}

func TestStatusPublisherNilProducer(t *testing.T) {
	pub := kafkapublisher.NewStatusPublisher(nil, "status-topic", zerolog.Nop())
	if pub != nil {
		t.Fatalf("expected nil publisher without a producer")
	}
	if err := pub.PublishStatus(context.Background(), models.StatusEvent{}); !errors.Is(err, kafkapublisher.ErrProducerNotInitialised()) {
		t.Fatalf("expected not initialised error, got %v", err)
	}
}

// stalledProducer never gets an acknowledgement until released.
type stalledProducer struct {
	release chan struct{}
	ready   bool
	calls   int
}

func (s *stalledProducer) PublishSync(string, []byte, map[string][]byte, []byte) error {
	s.calls++
	<-s.release
	return nil
}

func (s *stalledProducer) IsReady() bool { return s.ready }

func TestStatusPublisherHonoursContextDeadline(t *testing.T) {
	prod := &stalledProducer{release: make(chan struct{}), ready: true}
	defer close(prod.release)

	pub := kafkapublisher.NewStatusPublisher(prod, "status-topic", zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	started := time.Now()
	err := pub.PublishStatus(ctx, models.StatusEvent{MessageID: "id"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("publish outlived its context: %v", elapsed)
	}
}

func TestStatusPublisherAppliesPublishTimeout(t *testing.T) {
	prod := &stalledProducer{release: make(chan struct{}), ready: true}
	defer close(prod.release)

	pub := kafkapublisher.NewStatusPublisher(prod, "status-topic", zerolog.Nop(), kafkapublisher.WithTimeout(50*time.Millisecond))

	started := time.Now()
	err := pub.PublishStatus(context.Background(), models.StatusEvent{MessageID: "id"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected publish timeout, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("publish ignored its timeout: %v", elapsed)
	}
}

func TestStatusPublisherSkipsWhileProducerNotReady(t *testing.T) {
	prod := &stalledProducer{release: make(chan struct{})}
	defer close(prod.release)

	pub := kafkapublisher.NewStatusPublisher(prod, "status-topic", zerolog.Nop())
	before := testutil.ToFloat64(metrics.StatusEventsSkipped)

	err := pub.PublishStatus(context.Background(), models.StatusEvent{MessageID: "id"})
	if !errors.Is(err, kafkapublisher.ErrProducerNotReady()) {
		t.Fatalf("expected not ready error, got %v", err)
	}
	if prod.calls != 0 {
		t.Fatalf("expected no send attempt while not ready, got %d", prod.calls)
	}
	if got := testutil.ToFloat64(metrics.StatusEventsSkipped); got != before+1 {
		t.Fatalf("expected skipped counter to increase by one, got %v -> %v", before, got)
	}
}

func TestStatusPublisherStopsSendingAfterBrokerFailure(t *testing.T) {
	sp := mocks.NewSyncProducer(t, producer.DefaultConfig())
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	prod, err := producer.New(nil, zerolog.Nop(), producer.WithSyncProducer(sp))
	if err != nil {
		t.Fatalf("unexpected producer error: %v", err)
	}
	defer prod.Close()

	pub := kafkapublisher.NewStatusPublisher(prod, "status-topic", zerolog.Nop())
	if err := pub.PublishStatus(context.Background(), models.StatusEvent{MessageID: "first"}); !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("expected broker error, got %v", err)
	}
	if err := pub.PublishStatus(context.Background(), models.StatusEvent{MessageID: "second"}); !errors.Is(err, kafkapublisher.ErrProducerNotReady()) {
		t.Fatalf("expected the second event to be skipped, got %v", err)
	}
}
