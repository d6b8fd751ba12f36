package mq

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const (
	DLQExchangeName = "project.events.dlq"
)

// DLQQueueName 返回 routing key 对应的死信队列名
func DLQQueueName(routingKey string) string {
	return fmt.Sprintf("%s.dlq", routingKey)
}

// DeclareDLQQueue declares a dead letter queue for a specific routing key.
func DeclareDLQQueue(ch *amqp091.Channel, routingKey string) (amqp091.Queue, error) {
	q, err := ch.QueueDeclare(
		DLQQueueName(routingKey),
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare DLQ queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, routingKey, DLQExchangeName, false, nil); err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to bind DLQ queue: %w", err)
	}
	return q, nil
}

// DLQHeaders 死信消息头
func DLQHeaders(source, errorType string, cause error) amqp091.Table {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return amqp091.Table{
		"x-original-error": msg,
		"x-error-type":     errorType,
		"x-failed-at":      source,
		"x-failed-time":    time.Now().UTC().Format(time.RFC3339),
	}
}

// PublishToDLQ publishes a message to the dead letter queue.
func (p *Publisher) PublishToDLQ(ctx context.Context, routingKey string, payload []byte, errorType string, cause error) error {
	return p.publish(ctx, DLQExchangeName, routingKey, amqp091.Publishing{
		ContentType:  "application/json",
		Body:         payload,
		DeliveryMode: amqp091.Persistent,
		Headers:      DLQHeaders(p.source, errorType, cause),
	})
}
