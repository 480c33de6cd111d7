package messaging

import (
	"context"
	"encoding/json"
	"log/slog"
)

// LogPublisher writes notifications to the log when no broker is configured
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (lp *LogPublisher) Publish(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	lp.logger.InfoContext(ctx, "Notification", "subject", subject, "key", string(messageKey(payload)), "payload", string(data))
	return nil
}

func (lp *LogPublisher) Close() error { return nil }
