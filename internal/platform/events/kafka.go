package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"

	"github.com/medclinic/clinic/internal/platform/metrics"
)

// Producer is the slice of *kgo.Client used for publishing. Produce buffers
// the record and reports the broker outcome through promise.
type Producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	// PublishTimeout bounds the delivery of a single record, including
	// retries. The caller never waits for it.
	PublishTimeout time.Duration
}

// NewKafkaClient builds a franz-go producer client for cfg.
func NewKafkaClient(cfg KafkaConfig) (*kgo.Client, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.RecordRetries(3),
		kgo.ProducerLinger(5*time.Millisecond),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

// KafkaPublisher writes events as JSON records keyed by entity id, so that
// every change to one record lands on the same partition in order. Delivery
// outcomes feed a circuit breaker; while it is open records are dropped
// without being buffered.
type KafkaPublisher struct {
	producer Producer
	topic    string
	timeout  time.Duration
	breaker  *gobreaker.TwoStepCircuitBreaker
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

func NewKafkaPublisher(p Producer, cfg KafkaConfig, logger zerolog.Logger, m *metrics.Metrics) *KafkaPublisher {
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	kp := &KafkaPublisher{
		producer: p,
		topic:    cfg.Topic,
		timeout:  timeout,
		logger:   logger.With().Str("component", "events").Logger(),
		metrics:  m,
	}
	kp.breaker = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        "kafka-events",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			kp.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
			if kp.metrics != nil {
				kp.metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	return kp
}

// Publish hands e to the producer and returns without waiting for the
// broker. Delivery runs on a context detached from the caller's
// cancellation so a finished request does not abort it.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) {
	value, err := json.Marshal(e)
	if err != nil {
		p.fail(e, err)
		return
	}

	done, err := p.breaker.Allow()
	if err != nil {
		p.fail(e, err)
		return
	}

	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(e.EntityID.String()),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event-type", Value: []byte(e.Type)},
			{Key: "event-id", Value: []byte(e.ID.String())},
		},
	}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{rec})

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	p.producer.Produce(ctx, rec, func(_ *kgo.Record, err error) {
		cancel()
		done(err == nil)
		if err != nil {
			p.fail(e, err)
			return
		}
		if p.metrics != nil {
			p.metrics.EventsPublished.WithLabelValues(string(e.Type)).Inc()
		}
	})
}

func (p *KafkaPublisher) fail(e Event, err error) {
	evt := p.logger.Error()
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		evt = p.logger.Warn()
	}
	evt.Err(err).
		Str("event_type", string(e.Type)).
		Str("event_id", e.ID.String()).
		Str("entity_id", e.EntityID.String()).
		Msg("failed to publish event")
	if p.metrics != nil {
		p.metrics.EventsFailed.WithLabelValues(string(e.Type)).Inc()
	}
}

// headerCarrier adapts kgo record headers to the OpenTelemetry propagator.
type headerCarrier struct{ r *kgo.Record }

func (c headerCarrier) Get(key string) string {
	for _, h := range c.r.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	for i, h := range c.r.Headers {
		if h.Key == key {
			c.r.Headers[i].Value = []byte(value)
			return
		}
	}
	c.r.Headers = append(c.r.Headers, kgo.RecordHeader{Key: key, Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.r.Headers))
	for _, h := range c.r.Headers {
		keys = append(keys, h.Key)
	}
	return keys
}
