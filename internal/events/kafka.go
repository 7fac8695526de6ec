package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/raysh454/webaudit/internal/logging"
)

// KafkaConfig enables forwarding bus events to a Kafka topic.
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// MessageWriter is the subset of *kafka.Writer the forwarder needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaWriter(cfg KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
}

// KafkaForwarder publishes every bus event as JSON, keyed by module id.
type KafkaForwarder struct {
	writer MessageWriter
	sub    *Subscription
	logger logging.Logger
}

func NewKafkaForwarder(bus *Bus, writer MessageWriter, logger logging.Logger) *KafkaForwarder {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &KafkaForwarder{
		writer: writer,
		sub:    bus.Subscribe(256),
		logger: logger.With(logging.Field{Key: "component", Value: "kafka_forwarder"}),
	}
}

// Run forwards events until ctx is done or the bus closes.
func (f *KafkaForwarder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-f.sub.C:
			if !ok {
				return nil
			}
			if err := f.publish(ctx, ev); err != nil {
				f.logger.Warn("forwarding event failed",
					logging.Field{Key: "event", Value: ev.Name},
					logging.Field{Key: "error", Value: err.Error()})
			}
		}
	}
}

func (f *KafkaForwarder) publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	var key []byte
	if ev.Module != nil {
		key = []byte(ev.Module.ID())
	}
	return f.writer.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: payload,
	})
}

// Close stops receiving events and closes the writer.
func (f *KafkaForwarder) Close() error {
	f.sub.Close()
	return f.writer.Close()
}
