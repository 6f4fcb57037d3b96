package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrDeliveriesClosed はブローカー側で配信チャネルが閉じられたことを表します。
var ErrDeliveriesClosed = errors.New("worker: delivery channel closed by broker")

// Channel は Consumer が利用する AMQP チャネルの操作です。*amqp091.Channel が満たします。
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) (<-chan amqp091.Delivery, error)
}

// Consumer はタスクキューを購読し、1件ずつ Handler に渡します。
type Consumer struct {
	handler *Handler
	queue   string
	tag     string
	logger  *zap.Logger
}

// NewConsumer は Consumer を生成します。
func NewConsumer(handler *Handler, queue, tag string, logger *zap.Logger) (*Consumer, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if queue == "" {
		return nil, fmt.Errorf("task queue name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		handler: handler,
		queue:   queue,
		tag:     tag,
		logger:  logger.Named("consumer").With(zap.String("queue", queue), zap.String("consumer_tag", tag)),
	}, nil
}

// Run はキューを宣言して購読を開始し、ctx が終了するまでメッセージを処理します。
// ctx の終了時は nil、ブローカーが配信を止めた場合は ErrDeliveriesClosed を返します。
func (c *Consumer) Run(ctx context.Context, ch Channel) error {
	q, err := ch.QueueDeclare(c.queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("タスクキュー %s の宣言に失敗しました: %w", c.queue, err)
	}
	c.logger.Info("タスクキューを宣言しました", zap.Int("messages", q.Messages), zap.Int("consumers", q.Consumers))

	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("QoS の設定に失敗しました: %w", err)
	}

	msgs, err := ch.Consume(q.Name, c.tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("コンシューマーの登録に失敗しました: %w", err)
	}
	c.logger.Info("メッセージの待ち受けを開始しました")

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("コンシューマーを停止します")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Warn("ブローカーによって配信チャネルが閉じられました")
				return ErrDeliveriesClosed
			}
			c.dispatch(ctx, msg)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, msg amqp091.Delivery) {
	decision := c.handler.Handle(ctx, msg.Body, msg.CorrelationId)

	var err error
	switch decision {
	case Ack:
		err = msg.Ack(false)
	case Requeue:
		err = msg.Nack(false, true)
	default:
		err = msg.Nack(false, false)
	}
	if err != nil {
		c.logger.Error("メッセージの確定に失敗しました",
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Stringer("decision", decision),
			zap.Error(err))
	}
}
