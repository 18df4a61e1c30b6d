package producer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/example/emailservice/internal/logger"
	"github.com/example/emailservice/internal/metrics"
)

const (
	defaultMetadataRefreshInterval = 30 * time.Second
)

// Option customises the producer during construction.
type Option func(*options)

type options struct {
	refreshInterval time.Duration
	syncProducer    sarama.SyncProducer
}

// WithMetadataRefreshInterval overrides the interval used when refreshing
// cluster metadata to keep readiness information current.
func WithMetadataRefreshInterval(interval time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.refreshInterval = interval
		}
	}
}

// WithSyncProducer uses sp instead of dialling the brokers. No metadata
// refresh runs in this mode.
func WithSyncProducer(sp sarama.SyncProducer) Option {
	return func(o *options) {
		if sp != nil {
			o.syncProducer = sp
		}
	}
}

// Producer wraps a Sarama sync producer and tracks readiness based on
// periodic metadata refreshes. Readiness is exported as a gauge and lets the
// status publisher skip events while the brokers are unreachable.
type Producer struct {
	logger zerolog.Logger

	client       sarama.Client
	syncProducer sarama.SyncProducer

	refreshInterval time.Duration

	ready atomic.Bool

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New constructs a Producer using the supplied broker list and logger.
func New(brokers []string, log zerolog.Logger, opts ...Option) (*Producer, error) {
	settings := &options{
		refreshInterval: defaultMetadataRefreshInterval,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(settings)
		}
	}

	p := &Producer{
		logger:          logger.OrNop(log),
		refreshInterval: settings.refreshInterval,
		stopCh:          make(chan struct{}),
	}

	if settings.syncProducer != nil {
		p.syncProducer = settings.syncProducer
		p.setReady(true)
		return p, nil
	}

	if len(brokers) == 0 {
		return nil, errors.New("kafka producer: at least one broker is required")
	}

	cfg := DefaultConfig()
	cfg.Metadata.RefreshFrequency = settings.refreshInterval

	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: create client: %w", err)
	}

	syncProd, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("kafka producer: create sync producer: %w", err)
	}

	p.client = client
	p.syncProducer = syncProd

	if err := client.RefreshMetadata(); err != nil {
		p.logger.Error().Err(err).Msg("kafka producer initial metadata refresh failed")
		p.setReady(false)
	} else {
		p.setReady(true)
	}

	p.wg.Add(1)
	go p.watchMetadata()

	return p, nil
}

// PublishSync publishes a message and waits for the Kafka broker to
// acknowledge receipt.
func (p *Producer) PublishSync(topic string, key []byte, headers map[string][]byte, payload []byte) error {
	if topic == "" {
		return errors.New("kafka producer: topic is required")
	}

	msg := &sarama.ProducerMessage{
		Topic:   topic,
		Value:   sarama.ByteEncoder(payload),
		Headers: toRecordHeaders(headers),
	}
	if len(key) > 0 {
		msg.Key = sarama.ByteEncoder(key)
	}

	_, _, err := p.syncProducer.SendMessage(msg)
	if err != nil {
		p.setReady(false)
		return fmt.Errorf("kafka producer: send sync: %w", err)
	}

	p.setReady(true)
	return nil
}

// IsReady indicates whether the last metadata refresh or publish succeeded.
func (p *Producer) IsReady() bool {
	return p.ready.Load()
}

// Close releases the underlying Sarama producer and stops background
// goroutines.
func (p *Producer) Close() error {
	var errs []error
	p.closeOnce.Do(func() {
		close(p.stopCh)
		p.wg.Wait()

		if err := p.syncProducer.Close(); err != nil {
			errs = append(errs, err)
		}
		if p.client != nil && !p.client.Closed() {
			if err := p.client.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

func (p *Producer) watchMetadata() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.client.RefreshMetadata(); err != nil {
				p.logger.Error().Err(err).Msg("kafka producer metadata refresh failed")
				p.setReady(false)
			} else {
				p.setReady(true)
			}
		}
	}
}

func (p *Producer) setReady(ready bool) {
	if p.ready.Swap(ready) != ready {
		p.logger.Info().Bool("ready", ready).Msg("kafka producer readiness changed")
	}
	if ready {
		metrics.StatusProducerReady.Set(1)
	} else {
		metrics.StatusProducerReady.Set(0)
	}
}

func toRecordHeaders(headers map[string][]byte) []sarama.RecordHeader {
	if len(headers) == 0 {
		return nil
	}
	out := make([]sarama.RecordHeader, 0, len(headers))
	for k, v := range headers {
		out = append(out, sarama.RecordHeader{
			Key:   []byte(k),
			Value: append([]byte(nil), v...),
		})
	}
	return out
}

// DefaultConfig returns the Sarama settings used for status events: acks from
// all in-sync replicas, idempotent writes and no batching delay.
func DefaultConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = "emailservice"
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 6
	cfg.Producer.Retry.Backoff = 250 * time.Millisecond
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Metadata.Full = false
	cfg.Metadata.RefreshFrequency = defaultMetadataRefreshInterval
	return cfg
}
