package jobs

import (
	"context"
	"log/slog"
	"time"

	"boxoffice/internal/admission"
	"boxoffice/internal/messaging"
	"boxoffice/internal/metrics"
	"boxoffice/internal/models"
)

// AdmissionAdvancer moves waiting tokens into freed slots for every active event
type AdmissionAdvancer struct {
	controller admission.Controller
	publisher  messaging.Publisher
	metrics    *metrics.Metrics
	cfg        Config
	grace      time.Duration

	loop *loop
}

func NewAdmissionAdvancer(controller admission.Controller, publisher messaging.Publisher, m *metrics.Metrics, cfg Config, grace time.Duration) *AdmissionAdvancer {
	return &AdmissionAdvancer{
		controller: controller,
		publisher:  publisher,
		metrics:    m,
		cfg:        cfg,
		grace:      grace,
		loop:       newLoop(),
	}
}

func (j *AdmissionAdvancer) Start(ctx context.Context) {
	slog.Info("Starting admission advancer", "interval", j.cfg.AdmitInterval, "batch_size", j.cfg.AdmitBatchSize)
	j.loop.start(ctx, j.cfg.AdmitInterval, func(ctx context.Context) {
		if _, err := j.RunOnce(ctx); err != nil {
			slog.Error("Admission advance failed", "error", err)
		}
	})
}

func (j *AdmissionAdvancer) Stop() {
	j.loop.stop()
	slog.Info("Admission advancer stopped")
}

// RunOnce admits up to one batch per event and returns the number of tokens admitted
func (j *AdmissionAdvancer) RunOnce(ctx context.Context) (int, error) {
	events, err := j.controller.Events(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, eventID := range events {
		admitted, err := j.controller.Admit(ctx, eventID, j.cfg.AdmitBatchSize)
		if err != nil {
			slog.Error("Failed to admit tokens", "event_id", eventID, "error", err)
			continue
		}
		total += len(admitted)
		j.metrics.QueueAdmitted.WithLabelValues(eventID).Add(float64(len(admitted)))

		for _, t := range admitted {
			j.announce(ctx, t)
		}

		if waiting, err := j.controller.Waiting(ctx, eventID); err == nil {
			j.metrics.QueueWaiting.WithLabelValues(eventID).Set(float64(waiting))
		}
	}
	return total, nil
}

func (j *AdmissionAdvancer) announce(ctx context.Context, t models.QueueToken) {
	if j.publisher == nil || t.AdmittedAt == nil {
		return
	}
	event := models.QueueAdmittedEvent{
		Token:      t.Token,
		EventID:    t.EventID,
		UserID:     t.UserID,
		AdmittedAt: *t.AdmittedAt,
		GraceUntil: t.AdmittedAt.Add(j.grace),
	}
	if err := j.publisher.Publish(ctx, models.EventQueueAdmitted, event); err != nil {
		slog.Error("Failed to publish queue admitted event", "token", t.Token, "error", err)
	}
}
