package producer_test

import (
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/example/emailservice/internal/kafka/producer"
	"github.com/example/emailservice/internal/metrics"
)

func TestNewRequiresBrokers(t *testing.T) {
	if _, err := producer.New(nil, zerolog.Nop()); err == nil {
		t.Fatalf("expected error without brokers")
	}
}

func TestPublishSyncSendsRecord(t *testing.T) {
	sp := mocks.NewSyncProducer(t, producer.DefaultConfig())
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"event_type":"sent"}` {
			return errors.New("unexpected payload " + string(val))
		}
		return nil
	})

	p, err := producer.New(nil, zerolog.Nop(), producer.WithSyncProducer(sp))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer p.Close()

	headers := map[string][]byte{"content-type": []byte("application/json")}
	if err := p.PublishSync("status", []byte("msg-1"), headers, []byte(`{"event_type":"sent"}`)); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	if !p.IsReady() {
		t.Fatalf("expected producer to be ready after a successful publish")
	}
	if got := testutil.ToFloat64(metrics.StatusProducerReady); got != 1 {
		t.Fatalf("expected readiness gauge 1, got %v", got)
	}
}

func TestPublishSyncFailureMarksNotReady(t *testing.T) {
	sp := mocks.NewSyncProducer(t, producer.DefaultConfig())
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p, err := producer.New(nil, zerolog.Nop(), producer.WithSyncProducer(sp))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer p.Close()

	err = p.PublishSync("status", nil, nil, []byte("{}"))
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("expected broker error, got %v", err)
	}
	if p.IsReady() {
		t.Fatalf("expected producer to report not ready after a failed publish")
	}
	if got := testutil.ToFloat64(metrics.StatusProducerReady); got != 0 {
		t.Fatalf("expected readiness gauge 0, got %v", got)
	}
}

func TestPublishSyncRequiresTopic(t *testing.T) {
	sp := mocks.NewSyncProducer(t, producer.DefaultConfig())
	p, err := producer.New(nil, zerolog.Nop(), producer.WithSyncProducer(sp))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer p.Close()

	if err := p.PublishSync("", nil, nil, nil); err == nil {
		t.Fatalf("expected error for empty topic")
	}
}
