package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/stan.go"
)

type NATSPublisher struct {
	conn stan.Conn
}

func NewNATSPublisher(cfg Config) (*NATSPublisher, error) {
	// Client ids must be unique per connection in a cluster
	clientID := fmt.Sprintf("%s-%s", cfg.ClientID, uuid.New().String()[:8])

	conn, err := stan.Connect(cfg.ClusterID, clientID, stan.NatsURL(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS Streaming: %w", err)
	}

	slog.Info("Connected to NATS Streaming", "url", cfg.URL, "cluster", cfg.ClusterID, "client", clientID)
	return &NATSPublisher{conn: conn}, nil
}

// Publish sends the payload without waiting for the server ack; failed acks are logged.
func (np *NATSPublisher) Publish(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	_, err = np.conn.PublishAsync(subject, data, func(guid string, ackErr error) {
		if ackErr != nil {
			slog.Error("NATS publish not acknowledged", "subject", subject, "guid", guid, "error", ackErr)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to publish to subject %s: %w", subject, err)
	}

	return nil
}

func (np *NATSPublisher) Close() error {
	if np.conn != nil {
		return np.conn.Close()
	}
	return nil
}
