package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Publisher delivers notifications. Callers treat delivery as fire-and-forget.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
	Close() error
}

// Keyed payloads choose their own partition key
type Keyed interface {
	MessageKey() string
}

type Config struct {
	Driver string // nats, kafka or log

	// NATS Streaming
	URL       string
	ClusterID string
	ClientID  string

	// Kafka
	Brokers     []string
	TopicPrefix string
}

// New builds the publisher selected by cfg.Driver
func New(cfg Config) (Publisher, error) {
	switch strings.ToLower(cfg.Driver) {
	case "nats":
		return NewNATSPublisher(cfg)
	case "kafka":
		return NewKafkaPublisher(cfg)
	case "", "log":
		return NewLogPublisher(slog.Default()), nil
	default:
		return nil, fmt.Errorf("unknown messaging driver %q", cfg.Driver)
	}
}

func messageKey(payload any) []byte {
	if k, ok := payload.(Keyed); ok {
		return []byte(k.MessageKey())
	}
	return nil
}
