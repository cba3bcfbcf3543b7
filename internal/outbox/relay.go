package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notifier delivers a customer-facing message about an appointment.
type Notifier interface {
	Notify(ctx context.Context, appointmentID uuid.UUID, eventType, channel string) error
}

// WebhookDispatcher tells the tenant's integrations that an appointment changed.
type WebhookDispatcher interface {
	Dispatch(ctx context.Context, appointmentID uuid.UUID, previousStatus *string) error
}

// Store hands out due events. DispatchBatch claims up to limit events, calls
// handle for each, and records delivery or failure per event.
type Store interface {
	DispatchBatch(ctx context.Context, limit int, handle func(ctx context.Context, ev Event) error) (BatchResult, error)
}

type BatchResult struct {
	Delivered int
	Failed    int
}

type RelayConfig struct {
	Interval  time.Duration
	BatchSize int
}

type Relay struct {
	store    Store
	notifier Notifier
	webhooks WebhookDispatcher
	logger   *zap.Logger
	interval time.Duration
	batch    int
}

func NewRelay(store Store, notifier Notifier, webhooks WebhookDispatcher, logger *zap.Logger, cfg RelayConfig) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Relay{
		store:    store,
		notifier: notifier,
		webhooks: webhooks,
		logger:   logger.Named("outbox"),
		interval: cfg.Interval,
		batch:    cfg.BatchSize,
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	r.RunOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce drains due events batch by batch until a batch comes back short.
func (r *Relay) RunOnce(ctx context.Context) {
	start := time.Now()
	total := BatchResult{}
	for {
		res, err := r.store.DispatchBatch(ctx, r.batch, r.deliver)
		if err != nil {
			r.logger.Error("outbox batch failed", zap.Error(err))
			return
		}
		total.Delivered += res.Delivered
		total.Failed += res.Failed
		if res.Delivered+res.Failed < r.batch || ctx.Err() != nil {
			break
		}
	}
	if total.Delivered > 0 || total.Failed > 0 {
		r.logger.Info("outbox run complete",
			zap.Int("delivered", total.Delivered),
			zap.Int("failed", total.Failed),
			zap.Duration("took", time.Since(start)),
		)
	}
}

func (r *Relay) deliver(ctx context.Context, ev Event) error {
	var err error
	switch ev.Kind {
	case KindNotification:
		var p NotificationPayload
		if err = json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("decode notification payload: %w", err)
		}
		err = r.notifier.Notify(ctx, ev.AppointmentID, p.EventType, p.Channel)
	case KindWebhook:
		var p WebhookPayload
		if err = json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("decode webhook payload: %w", err)
		}
		err = r.webhooks.Dispatch(ctx, ev.AppointmentID, p.PreviousStatus)
	default:
		return fmt.Errorf("unknown outbox event kind %q", ev.Kind)
	}

	if err != nil {
		r.logger.Warn("outbox delivery failed",
			zap.Int64("event_id", ev.ID),
			zap.String("kind", string(ev.Kind)),
			zap.Stringer("appointment_id", ev.AppointmentID),
			zap.Int("attempt", ev.Attempts+1),
			zap.Error(err),
		)
	}
	return err
}
