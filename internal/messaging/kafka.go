package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes each subject to its own topic, keyed by the payload's message key
type KafkaPublisher struct {
	writer *kafka.Writer
	prefix string
}

func NewKafkaPublisher(cfg Config) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
		Async:                  true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				slog.Error("Kafka delivery failed", "messages", len(messages), "error", err)
			}
		},
	}

	slog.Info("Kafka publisher ready", "brokers", strings.Join(cfg.Brokers, ","))
	return &KafkaPublisher{writer: writer, prefix: cfg.TopicPrefix}, nil
}

func (kp *KafkaPublisher) topic(subject string) string {
	return kp.prefix + subject
}

func (kp *KafkaPublisher) Publish(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	err = kp.writer.WriteMessages(ctx, kafka.Message{
		Topic: kp.topic(subject),
		Key:   messageKey(payload),
		Value: data,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", kp.topic(subject), err)
	}
	return nil
}

func (kp *KafkaPublisher) Close() error {
	return kp.writer.Close()
}
