package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rabbitmq/amqp091-go"
)

// Publisher は結果メッセージを発行します。
type Publisher interface {
	Publish(ctx context.Context, payload any, correlationID string) error
}

// PublishChannel は RabbitPublisher が利用する AMQP チャネルの操作です。*amqp091.Channel が満たします。
type PublishChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// RabbitPublisher は結果キューへ直接（デフォルト exchange 経由で）発行する Publisher です。
type RabbitPublisher struct {
	mu    sync.Mutex
	ch    PublishChannel
	queue string
}

// NewRabbitPublisher は専用チャネルを開き、結果キューを宣言します。
func NewRabbitPublisher(conn *amqp091.Connection, queue string) (*RabbitPublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("amqp connection is required")
	}
	if queue == "" {
		return nil, fmt.Errorf("result queue name is required")
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("発行用チャネルのオープンに失敗しました: %w", err)
	}
	return NewChannelPublisher(ch, queue)
}

// NewChannelPublisher は開いたチャネル上で結果キューを宣言し、RabbitPublisher を返します。
// 宣言に失敗した場合はチャネルを閉じます。
func NewChannelPublisher(ch PublishChannel, queue string) (*RabbitPublisher, error) {
	if ch == nil {
		return nil, fmt.Errorf("amqp channel is required")
	}
	if queue == "" {
		return nil, fmt.Errorf("result queue name is required")
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("結果キュー %s の宣言に失敗しました: %w", queue, err)
	}
	return &RabbitPublisher{ch: ch, queue: queue}, nil
}

// Publish は payload を JSON にして永続メッセージとして発行します。
func (p *RabbitPublisher) Publish(ctx context.Context, payload any, correlationID string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("結果メッセージのエンコードに失敗しました: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return errors.New("publisher channel is closed")
	}
	err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp091.Publishing{
		ContentType:   "application/json",
		CorrelationId: correlationID,
		DeliveryMode:  amqp091.Persistent,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("結果メッセージの発行に失敗しました: %w", err)
	}
	return nil
}

// Close はチャネルを閉じます。複数回呼んでも安全です。
func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil
	}
	err := p.ch.Close()
	p.ch = nil
	return err
}
