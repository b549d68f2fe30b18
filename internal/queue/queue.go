package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/highlightai/highlight/internal/config"
	"github.com/highlightai/highlight/internal/logging"
	"github.com/highlightai/highlight/pkg/models"
)

const (
	ExchangeName = "highlight"

	// AnalyticsQueueName collects every ingested analytics event for
	// downstream consumers.
	AnalyticsQueueName  = "analytics_events"
	AnalyticsBindingKey = "analytics.#"

	// UploadQueueName receives object storage notifications for new uploads
	UploadQueueName  = "upload_notifications"
	UploadRoutingKey = "storage.upload"
)

// publisher is the part of *amqp.Channel used to send messages
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Queue provides message queue operations
type Queue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	pub     publisher
	logger  *logging.Logger
}

// New connects to RabbitMQ and declares the topology
func New(cfg config.QueueConfig, logger *logging.Logger) (*Queue, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Vhost)

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if logger == nil {
		logger = logging.Nop()
	}
	q := &Queue{conn: conn, channel: channel, pub: channel, logger: logger}

	if err := q.declare(); err != nil {
		q.Close()
		return nil, err
	}

	return q, nil
}

func (q *Queue) declare() error {
	err := q.channel.ExchangeDeclare(
		ExchangeName,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	bindings := []struct {
		queue, key string
	}{
		{AnalyticsQueueName, AnalyticsBindingKey},
		{UploadQueueName, UploadRoutingKey},
	}
	for _, b := range bindings {
		if _, err := q.channel.QueueDeclare(
			b.queue,
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", b.queue, err)
		}

		if err := q.channel.QueueBind(b.queue, b.key, ExchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", b.queue, err)
		}
	}

	return q.SetupDeadLetterQueue()
}

// Close closes the queue connection
func (q *Queue) Close() error {
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

// RoutingKey returns the key an analytics event is published under, e.g.
// analytics.view.view_start
func RoutingKey(event models.StoredEvent) string {
	return fmt.Sprintf("analytics.%s.%s", event.Category, event.EventType)
}

// PublishEvents publishes each stored event to the analytics exchange
func (q *Queue) PublishEvents(ctx context.Context, events []models.StoredEvent) error {
	for i := range events {
		body, err := json.Marshal(events[i])
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}

		err = q.pub.PublishWithContext(ctx,
			ExchangeName,
			RoutingKey(events[i]),
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				DeliveryMode: amqp.Persistent,
				ContentType:  "application/json",
				MessageId:    events[i].EventID,
				Body:         body,
				Timestamp:    events[i].ReceivedAt,
			},
		)
		if err != nil {
			return fmt.Errorf("failed to publish event: %w", err)
		}
	}

	return nil
}

// PublishNotification publishes a storage notification to the upload queue
func (q *Queue) PublishNotification(ctx context.Context, notification models.StorageNotification) error {
	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	return q.publishNotification(ctx, ExchangeName, UploadRoutingKey, body, nil, "")
}

func (q *Queue) publishNotification(ctx context.Context, exchange, key string, body []byte, headers amqp.Table, expiration string) error {
	err := q.pub.PublishWithContext(ctx,
		exchange,
		key,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
			Headers:      headers,
			Expiration:   expiration,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// NotificationHandler processes one storage notification
type NotificationHandler func(ctx context.Context, notification models.StorageNotification) error

// ConsumeUploads starts consuming storage notifications. Failed messages go
// through the retry queue and end in the dead letter queue.
func (q *Queue) ConsumeUploads(ctx context.Context, handler NotificationHandler) error {
	err := q.channel.Qos(
		1,     // prefetch count
		0,     // prefetch size
		false, // global
	)
	if err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := q.channel.Consume(
		UploadQueueName,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				q.handleDelivery(ctx, msg, handler)
			}
		}
	}()

	return nil
}

// GetQueueDepth returns the number of messages waiting in queueName
func (q *Queue) GetQueueDepth(queueName string) (int, error) {
	info, err := q.channel.QueueInspect(queueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue: %w", err)
	}

	return info.Messages, nil
}
