// Package events publishes appointment lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/citasulsa/citas/internal/domain/scheduling"
)

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Config struct {
	Brokers string // comma separated host:port list
	Topic   string // when empty the event type is used as the topic
}

// Publisher implements scheduling.EventPublisher. With no brokers
// configured it logs and drops events.
type Publisher struct {
	writer messageWriter
	topic  string
	logger zerolog.Logger
}

var _ scheduling.EventPublisher = (*Publisher)(nil)

func NewPublisher(cfg Config, logger zerolog.Logger) *Publisher {
	p := &Publisher{topic: cfg.Topic, logger: logger}
	brokers := SplitBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		logger.Warn().Msg("event publisher disabled (no kafka brokers configured)")
		return p
	}
	p.writer = kafka.NewWriter(kafka.WriterConfig{
		Brokers:  brokers,
		Balancer: &kafka.Hash{},
	})
	return p
}

func newPublisherWithWriter(w messageWriter, topic string, logger zerolog.Logger) *Publisher {
	return &Publisher{writer: w, topic: topic, logger: logger}
}

func (p *Publisher) Enabled() bool { return p.writer != nil }

// Publish writes one message keyed by appointment ID so every event for
// the same appointment lands on the same partition.
func (p *Publisher) Publish(ctx context.Context, e scheduling.Event) error {
	if p.writer == nil {
		p.logger.Debug().Str("event_type", e.Type).Str("appointment_id", e.AppointmentID).Msg("event dropped")
		return nil
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	topic := p.topic
	if topic == "" {
		topic = e.Type
	}
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(e.AppointmentID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(e.ID)},
			{Key: "event_type", Value: []byte(e.Type)},
		},
		Time: e.OccurredAt,
	}
	msg.Headers = InjectTraceHeaders(ctx, msg.Headers)
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s: %w", e.Type, err)
	}
	p.logger.Debug().Str("event_type", e.Type).Str("event_id", e.ID).Str("topic", topic).Msg("event published")
	return nil
}

func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// ReadyCheck dials the first broker.
func ReadyCheck(brokers string) func(context.Context) error {
	return func(ctx context.Context) error {
		list := SplitBrokers(brokers)
		if len(list) == 0 {
			return errors.New("kafka brokers not configured")
		}
		dialer := kafka.Dialer{Timeout: 2 * time.Second}
		conn, err := dialer.DialContext(ctx, "tcp", list[0])
		if err != nil {
			return err
		}
		_ = conn.Close()
		return nil
	}
}

// InjectTraceHeaders appends W3C trace context headers using the global
// propagator.
func InjectTraceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := &headerCarrier{headers: headers}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier.headers
}

type headerCarrier struct {
	headers []kafka.Header
}

var _ propagation.TextMapCarrier = (*headerCarrier)(nil)

func (c *headerCarrier) Get(key string) string {
	for _, h := range c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, h := range c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}

func (c *headerCarrier) Set(key, value string) {
	for i := range c.headers {
		if c.headers[i].Key == key {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}
