package telemetry

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaTransport mirrors every envelope onto a single topic keyed by
// subject. The writer is asynchronous, so Send never blocks the cycle.
type KafkaTransport struct {
	writer messageWriter
	logger zerolog.Logger
}

func NewKafkaTransport(brokers []string, topic string, logger zerolog.Logger) *KafkaTransport {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireNone,
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Debug().Msgf("kafka mirror dropped %d messages: %v", len(messages), err)
			}
		},
	}
	return &KafkaTransport{writer: w, logger: logger}
}

func (t *KafkaTransport) Name() string { return "kafka" }

func (t *KafkaTransport) Send(e Envelope) {
	err := t.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(e.Subject),
		Value: []byte(e.Value),
	})
	if err != nil {
		t.logger.Debug().Msgf("kafka mirror of %s failed: %v", e.Subject, err)
	}
}

func (t *KafkaTransport) Close() error {
	return t.writer.Close()
}
