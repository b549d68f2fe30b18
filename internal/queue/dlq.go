package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/highlightai/highlight/internal/metrics"
	"github.com/highlightai/highlight/pkg/models"
)

const (
	DeadLetterQueueName    = "upload_notifications_dlq"
	DeadLetterExchangeName = "highlight_dlq"
	RetryQueueName         = "upload_notifications_retry"
	MaxRetries             = 5

	retryCountHeader    = "x-retry-count"
	failureReasonHeader = "x-failure-reason"
)

// SetupDeadLetterQueue declares the retry and dead letter queues
func (q *Queue) SetupDeadLetterQueue() error {
	err := q.channel.ExchangeDeclare(
		DeadLetterExchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ exchange: %w", err)
	}

	_, err = q.channel.QueueDeclare(
		DeadLetterQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ: %w", err)
	}

	err = q.channel.QueueBind(
		DeadLetterQueueName,
		DeadLetterQueueName,
		DeadLetterExchangeName,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to bind DLQ: %w", err)
	}

	// Expired retries are dead-lettered back onto the upload queue.
	retryArgs := amqp.Table{
		"x-dead-letter-exchange":    ExchangeName,
		"x-dead-letter-routing-key": UploadRoutingKey,
	}

	_, err = q.channel.QueueDeclare(
		RetryQueueName,
		true,
		false,
		false,
		false,
		retryArgs,
	)
	if err != nil {
		return fmt.Errorf("failed to declare retry queue: %w", err)
	}

	return nil
}

// handleDelivery runs handler on one message and settles it. The message
// is always acked: failures are re-published to the retry queue or, once
// MaxRetries is reached or the body is unreadable, to the dead letter queue.
func (q *Queue) handleDelivery(ctx context.Context, msg amqp.Delivery, handler NotificationHandler) {
	var notification models.StorageNotification
	if err := json.Unmarshal(msg.Body, &notification); err != nil {
		q.logger.WithError(err).Warn("malformed storage notification")
		q.settle(msg, q.PublishToDeadLetterQueue(ctx, msg.Body, "malformed notification"))
		return
	}

	err := handler(ctx, notification)
	if err == nil {
		_ = msg.Ack(false)
		return
	}

	metrics.RecordError("queue", "notification_handler")
	retries := retryCount(msg.Headers)
	q.logger.WithError(err).Warnf("storage notification failed (attempt %d)", retries+1)
	q.settle(msg, q.PublishToRetryQueue(ctx, msg.Body, retries, err.Error()))
}

// settle acks msg once it has been moved, and requeues it when moving failed
func (q *Queue) settle(msg amqp.Delivery, moveErr error) {
	if moveErr != nil {
		q.logger.WithError(moveErr).Error("failed to move storage notification")
		_ = msg.Nack(false, true)
		return
	}
	_ = msg.Ack(false)
}

// PublishToRetryQueue schedules body for another attempt after a backoff
// delay, or dead-letters it when retries are exhausted.
func (q *Queue) PublishToRetryQueue(ctx context.Context, body []byte, retryCount int, reason string) error {
	if retryCount >= MaxRetries {
		return q.PublishToDeadLetterQueue(ctx, body, "max retries exceeded: "+reason)
	}

	delay := calculateBackoffDelay(retryCount)
	headers := amqp.Table{
		retryCountHeader: int32(retryCount + 1),
	}

	if err := q.publishNotification(ctx, "", RetryQueueName, body, headers, fmt.Sprintf("%d", delay.Milliseconds())); err != nil {
		return fmt.Errorf("failed to publish to retry queue: %w", err)
	}

	q.logger.Infof("storage notification queued for retry #%d in %v", retryCount+1, delay)
	return nil
}

// PublishToDeadLetterQueue parks body with the failure reason
func (q *Queue) PublishToDeadLetterQueue(ctx context.Context, body []byte, reason string) error {
	headers := amqp.Table{
		failureReasonHeader: reason,
		"x-failed-at":       time.Now().Format(time.RFC3339),
	}

	if err := q.publishNotification(ctx, DeadLetterExchangeName, DeadLetterQueueName, body, headers, ""); err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}

	q.logger.Warnf("storage notification moved to dead letter queue: %s", reason)
	return nil
}

// retryCount reads the retry header, tolerating the integer widths AMQP
// tables decode to.
func retryCount(headers amqp.Table) int {
	switch v := headers[retryCountHeader].(type) {
	case int:
		return v
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	default:
		return 0
	}
}

// calculateBackoffDelay calculates exponential backoff delay
func calculateBackoffDelay(retryCount int) time.Duration {
	// 5s, 10s, 20s, 40s, 80s
	delay := 5 * time.Second * (1 << retryCount)

	if delay > 10*time.Minute {
		delay = 10 * time.Minute
	}

	return delay
}

// GetDLQDepth returns the number of messages in the dead letter queue
func (q *Queue) GetDLQDepth() (int, error) {
	return q.GetQueueDepth(DeadLetterQueueName)
}
