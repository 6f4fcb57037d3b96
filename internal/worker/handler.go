// Package worker は RabbitMQ のタスクキューから生成依頼を受け取り、パイプラインを実行して結果を発行します。
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shouni/gemini-pose-kit/pkg/domain"
	"github.com/shouni/gemini-pose-kit/pkg/generator"

	"go.uber.org/zap"
)

// Decision は配信メッセージの扱いです。
type Decision int

const (
	// Ack は処理完了としてメッセージを確定します。
	Ack Decision = iota
	// Requeue はメッセージをキューに戻します。
	Requeue
	// Reject はメッセージを再投入せずに破棄します。
	Reject
)

func (d Decision) String() string {
	switch d {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	default:
		return "reject"
	}
}

// Handler は1件のタスクを処理します。
type Handler struct {
	runner    generator.Runner
	store     ImageStore
	publisher Publisher
	opts      generator.Options
	metrics   *Metrics
	logger    *zap.Logger
}

// NewHandler は Handler を生成します。metrics は nil でも構いません。
func NewHandler(runner generator.Runner, store ImageStore, publisher Publisher, opts generator.Options, metrics *Metrics, logger *zap.Logger) (*Handler, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if store == nil {
		return nil, fmt.Errorf("image store is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("result publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		runner:    runner,
		store:     store,
		publisher: publisher,
		opts:      opts,
		metrics:   metrics,
		logger:    logger.Named("worker"),
	}, nil
}

// Handle はメッセージ本文を処理し、メッセージの扱いを返します。
// 不正なタスクは再投入せず破棄し、結果の発行に失敗した場合とシャットダウンで中断した場合は再投入します。
func (h *Handler) Handle(ctx context.Context, body []byte, correlationID string) Decision {
	start := time.Now()
	defer func() { h.metrics.observe(time.Since(start).Seconds()) }()

	var task TaskPayload
	if err := json.Unmarshal(body, &task); err != nil {
		h.logger.Error("タスクのデコードに失敗しました",
			zap.Error(err),
			zap.String("correlation_id", correlationID),
			zap.Int("body_size", len(body)))
		h.metrics.task(taskErrorUnmarshal)
		return Reject
	}
	if strings.TrimSpace(task.TaskID) == "" {
		h.logger.Error("taskId の無いタスクを破棄します", zap.String("correlation_id", correlationID))
		h.metrics.task(taskErrorUnmarshal)
		return Reject
	}

	log := h.logger.With(zap.String("task_id", task.TaskID), zap.String("correlation_id", correlationID))
	log.Info("生成タスクを受信しました")

	opts := h.opts
	if task.ConfidenceThreshold != nil {
		opts.ConfidenceThreshold = generator.Threshold(*task.ConfidenceThreshold)
	}

	outcome := h.runner.Run(ctx, task.Request(), opts)
	log = log.With(zap.String("run_id", outcome.RunID), zap.Int("attempts", len(outcome.Attempts)))

	if outcome.Reason == domain.KindCancelled && ctx.Err() != nil {
		log.Warn("シャットダウンのためタスクをキューに戻します")
		h.metrics.task(taskRequeued)
		return Requeue
	}

	var result ResultPayload
	status := taskSuccess
	if outcome.Succeeded() {
		imageURL, err := h.store.Save(ctx, task.TaskID, *outcome.Image)
		if err != nil {
			log.Error("生成画像の保存に失敗しました", zap.Error(err))
			status = taskErrorStore
			result = failureResult(task.TaskID, outcome, domain.KindUpstreamUnavailable)
		} else {
			result = successResult(task.TaskID, outcome, imageURL)
			log.Info("生成に成功しました", zap.String("image_url", imageURL))
		}
	} else {
		status = taskErrorRun
		result = failureResult(task.TaskID, outcome, outcome.Reason)
		log.Warn("生成に失敗しました", zap.String("reason", string(outcome.Reason)))
	}

	if err := h.publisher.Publish(ctx, result, correlationID); err != nil {
		log.Error("結果の発行に失敗しました", zap.Error(err))
		h.metrics.task(taskErrorPublish)
		return Requeue
	}
	h.metrics.task(status)
	return Ack
}
