package notify

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogNotifier only logs. Used when no broker is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notify")}
}

func (n *LogNotifier) Notify(ctx context.Context, appointmentID uuid.UUID, eventType, channel string) error {
	n.logger.Info("notification",
		zap.Stringer("appointment_id", appointmentID),
		zap.String("event_type", eventType),
		zap.String("channel", channel),
	)
	return nil
}

type LogWebhookDispatcher struct {
	logger *zap.Logger
}

func NewLogWebhookDispatcher(logger *zap.Logger) *LogWebhookDispatcher {
	return &LogWebhookDispatcher{logger: logger.Named("webhook")}
}

func (d *LogWebhookDispatcher) Dispatch(ctx context.Context, appointmentID uuid.UUID, previousStatus *string) error {
	prev := ""
	if previousStatus != nil {
		prev = *previousStatus
	}
	d.logger.Info("webhook",
		zap.Stringer("appointment_id", appointmentID),
		zap.String("previous_status", prev),
	)
	return nil
}
