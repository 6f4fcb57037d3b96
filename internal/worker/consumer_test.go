package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shouni/gemini-pose-kit/pkg/domain"
	"github.com/shouni/gemini-pose-kit/pkg/generator"
)

func TestConsumer_Run(t *testing.T) {
	t.Run("判定に応じて Ack と Nack を使い分けるのだ", func(t *testing.T) {
		runner := &fakeRunner{runFunc: func(context.Context, domain.GenerationRequest, generator.Options) domain.GenerationOutcome {
			return successOutcome()
		}}
		h, _ := newTestHandler(t, runner, &fakeStore{}, &fakePublisher{})
		c, err := NewConsumer(h, "pose_generation_tasks", "worker-0", nil)
		require.NoError(t, err)

		ack := &fakeAcknowledger{}
		ch := &fakeChannel{deliveries: make(chan amqp091.Delivery, 2)}
		ch.deliveries <- amqp091.Delivery{
			Acknowledger: ack,
			DeliveryTag:  1,
			Body:         taskBody(t, TaskPayload{TaskID: "t", Pose: &ImagePayload{URI: "gs://b/p.png"}, BasePrompt: "x"}),
		}
		ch.deliveries <- amqp091.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte("garbage")}
		close(ch.deliveries)

		err = c.Run(context.Background(), ch)

		assert.ErrorIs(t, err, ErrDeliveriesClosed)
		assert.Equal(t, []string{"pose_generation_tasks"}, ch.declared)
		assert.Equal(t, 1, ch.prefetch)
		assert.Equal(t, []uint64{1}, ack.acks)
		assert.Equal(t, []uint64{2}, ack.nacks)
		assert.Equal(t, []bool{false}, ack.requeues)
	})

	t.Run("コンテキストが終了したら nil で戻るのだ", func(t *testing.T) {
		h, _ := newTestHandler(t, &fakeRunner{}, &fakeStore{}, &fakePublisher{})
		c, err := NewConsumer(h, "q", "", nil)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		ch := &fakeChannel{deliveries: make(chan amqp091.Delivery)}
		done := make(chan error, 1)
		go func() { done <- c.Run(ctx, ch) }()
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("コンシューマーが停止しませんでした")
		}
	})

	t.Run("購読に失敗したらエラーを返すのだ", func(t *testing.T) {
		h, _ := newTestHandler(t, &fakeRunner{}, &fakeStore{}, &fakePublisher{})
		c, err := NewConsumer(h, "q", "", nil)
		require.NoError(t, err)

		err = c.Run(context.Background(), &fakeChannel{consumeErr: errors.New("access refused")})
		assert.ErrorContains(t, err, "access refused")
	})
}

func TestNewConsumer_RequiresQueue(t *testing.T) {
	h, _ := newTestHandler(t, &fakeRunner{}, &fakeStore{}, &fakePublisher{})
	_, err := NewConsumer(h, "", "tag", nil)
	assert.Error(t, err)
	_, err = NewConsumer(nil, "q", "tag", nil)
	assert.Error(t, err)
}
