package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-xray-sdk-go/xray"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPPublisher はAMQPチャネルのうち通知で使う操作です
type AMQPPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink は通知をJSONとしてキューに発行します
type AMQPSink struct {
	ch    AMQPPublisher
	queue string
	conn  *amqp.Connection
}

// NewAMQPSink はRabbitMQに接続し、永続キューを宣言します
func NewAMQPSink(url, queue string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}

	return &AMQPSink{ch: ch, queue: queue, conn: conn}, nil
}

// NewAMQPSinkWithPublisher は接続済みのチャネルからAMQPSinkを作成します
func NewAMQPSinkWithPublisher(ch AMQPPublisher, queue string) *AMQPSink {
	return &AMQPSink{ch: ch, queue: queue}
}

func (s *AMQPSink) Name() string { return "amqp" }

// Deliver はイベントと通知を1メッセージとして発行します
func (s *AMQPSink) Deliver(ctx context.Context, d Delivery) error {
	ctx, seg := xray.BeginSubsegment(ctx, "AMQPSink.Deliver")
	defer seg.Close(nil)

	body, err := json.Marshal(map[string]any{
		"type":          d.Event.Type,
		"host_id":       d.Event.HostID,
		"notifications": d.Notifications,
	})
	if err != nil {
		seg.Close(err)
		return fmt.Errorf("failed to marshal notifications: %w", err)
	}

	err = s.ch.PublishWithContext(
		ctx,
		"",
		s.queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Type:         string(d.Event.Type),
			Timestamp:    d.Event.CreatedAt,
			Body:         body,
		},
	)
	if err != nil {
		seg.Close(err)
		return fmt.Errorf("failed to publish to %s: %w", s.queue, err)
	}
	return nil
}

// Close はRabbitMQとの接続を閉じます
func (s *AMQPSink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
