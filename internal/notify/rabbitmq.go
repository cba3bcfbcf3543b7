package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// NotificationMessage is the body published for every customer notification.
type NotificationMessage struct {
	AppointmentID string    `json:"appointment_id"`
	EventType     string    `json:"event_type"`
	Channel       string    `json:"channel"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// AMQPNotifier publishes notifications to a topic exchange with routing key
// notification.<channel>. Delivery to email, sms or push is left to consumers.
type AMQPNotifier struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

func NewAMQPNotifier(url, exchange string, logger *zap.Logger) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &AMQPNotifier{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		logger:   logger.Named("notify.amqp"),
	}, nil
}

func (n *AMQPNotifier) Notify(ctx context.Context, appointmentID uuid.UUID, eventType, channel string) error {
	body, err := json.Marshal(NotificationMessage{
		AppointmentID: appointmentID.String(),
		EventType:     eventType,
		Channel:       channel,
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	err = n.channel.PublishWithContext(ctx, n.exchange, "notification."+channel, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Type:         eventType,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	n.logger.Debug("notification published",
		zap.Stringer("appointment_id", appointmentID),
		zap.String("event_type", eventType),
		zap.String("channel", channel),
	)
	return nil
}

func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.channel.Close(); err != nil {
		n.logger.Warn("close amqp channel", zap.Error(err))
	}
	return n.conn.Close()
}
