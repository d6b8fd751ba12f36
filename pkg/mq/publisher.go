package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rabbitmq/amqp091-go"
)

// ExchangeName 项目生命周期事件交换机
const ExchangeName = "project.events"

// dial 建立连接和 channel，并声明给定的 durable topic 交换机
func dial(url string, exchanges ...string) (*amqp091.Connection, *amqp091.Channel, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to open channel: %w", err)
	}
	for _, name := range exchanges {
		// durable, not auto-deleted, not internal, no-wait off
		if err := ch.ExchangeDeclare(name, "topic", true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, nil, fmt.Errorf("failed to declare exchange %s: %w", name, err)
		}
	}
	return conn, ch, nil
}

type Publisher struct {
	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
	// source 写入 DLQ 消息头，标明失败的服务
	source string
}

func NewPublisher(url, source string) (*Publisher, error) {
	conn, ch, err := dial(url, ExchangeName, DLQExchangeName)
	if err != nil {
		return nil, err
	}
	return &Publisher{
		conn:    conn,
		channel: ch,
		source:  source,
	}, nil
}

func (p *Publisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// IsConnected checks if the publisher connection is still alive
func (p *Publisher) IsConnected() bool {
	if p.conn == nil || p.channel == nil {
		return false
	}
	return !p.conn.IsClosed()
}

// Publish publishes an event to the exchange with the given routing key.
func (p *Publisher) Publish(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.publish(ctx, ExchangeName, routingKey, amqp091.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp091.Persistent,
	})
}

// amqp091 的 Channel 不是并发安全的
func (p *Publisher) publish(ctx context.Context, exchange, routingKey string, msg amqp091.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
}
