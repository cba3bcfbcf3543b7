package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// WebhookMessage is what tenant integrations receive when an appointment changes.
type WebhookMessage struct {
	AppointmentID  string    `json:"appointment_id"`
	PreviousStatus *string   `json:"previous_status"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// KafkaWebhookDispatcher writes webhook messages to one topic keyed by
// appointment id, so changes to one appointment stay ordered.
type KafkaWebhookDispatcher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafkaWebhookDispatcher(brokers []string, topic string, logger *zap.Logger) *KafkaWebhookDispatcher {
	return &KafkaWebhookDispatcher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 50 * time.Millisecond,
		},
		logger: logger.Named("notify.kafka"),
	}
}

func (d *KafkaWebhookDispatcher) Dispatch(ctx context.Context, appointmentID uuid.UUID, previousStatus *string) error {
	body, err := json.Marshal(WebhookMessage{
		AppointmentID:  appointmentID.String(),
		PreviousStatus: previousStatus,
		OccurredAt:     time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal webhook: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(appointmentID.String()),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(uuid.NewString())},
			{Key: "event_type", Value: []byte("appointment.changed")},
		},
	}
	carrier := &headerCarrier{headers: msg.Headers}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	msg.Headers = carrier.headers

	if err := d.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write webhook message: %w", err)
	}
	return nil
}

func (d *KafkaWebhookDispatcher) Close() error {
	return d.writer.Close()
}

type headerCarrier struct {
	headers []kafka.Header
}

func (c *headerCarrier) Get(key string) string {
	for _, h := range c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
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

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, h := range c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}
