package generator

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shouni/gemini-pose-kit/pkg/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultConfidenceThreshold = 0.5
	DefaultMaxAttempts         = 2
	DefaultCallTimeout         = 30 * time.Second

	// maxSupportedAttempts はポーズ画像ありの1回と記述による再生成の1回です。
	maxSupportedAttempts = 2
)

// Options は1回の実行の設定です。
type Options struct {
	// ConfidenceThreshold 以上の confidence で同一人物と判定された画像を採用します。
	// nil と [0,1] の範囲外は既定値です。0 を指定すると confidence を問いません。
	ConfidenceThreshold *float64
	// MaxAttempts は 1 か 2 に丸められます。0 は既定値です。
	MaxAttempts int
	// CallTimeout は各 API 呼び出しのタイムアウトです。0 以下は既定値です。
	CallTimeout time.Duration
}

// Threshold は Options.ConfidenceThreshold に渡す値を作ります。
func Threshold(v float64) *float64 {
	return &v
}

// DefaultOptions は既定の Options を返します。
func DefaultOptions() Options {
	return Options{
		ConfidenceThreshold: Threshold(DefaultConfidenceThreshold),
		MaxAttempts:         DefaultMaxAttempts,
		CallTimeout:         DefaultCallTimeout,
	}
}

func (o Options) normalized() Options {
	if t := o.ConfidenceThreshold; t == nil || *t < 0 || *t > 1 || math.IsNaN(*t) {
		o.ConfidenceThreshold = Threshold(DefaultConfidenceThreshold)
	}
	switch {
	case o.MaxAttempts == 0:
		o.MaxAttempts = DefaultMaxAttempts
	case o.MaxAttempts < 1:
		o.MaxAttempts = 1
	case o.MaxAttempts > maxSupportedAttempts:
		o.MaxAttempts = maxSupportedAttempts
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	return o
}

// Orchestrator は「生成→検証→（必要なら）記述による再生成」の状態機械を実行します。
// 実行ごとに状態を持たないため、複数の実行から同時に利用できます。
type Orchestrator struct {
	editor    ImageEditClient
	validator Validator
	describer Describer
	recorder  Recorder
	logger    *zap.Logger
	newRunID  func() string
}

// OrchestratorOption は Orchestrator の任意設定です。
type OrchestratorOption func(*Orchestrator)

// WithRecorder は実行イベントの通知先を設定します。
func WithRecorder(r Recorder) OrchestratorOption {
	return func(o *Orchestrator) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithRunIDGenerator は実行 ID の採番方法を差し替えます。
func WithRunIDGenerator(fn func() string) OrchestratorOption {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newRunID = fn
		}
	}
}

// NewOrchestrator は依存関係を注入して Orchestrator を生成します。
func NewOrchestrator(editor ImageEditClient, validator Validator, describer Describer, logger *zap.Logger, opts ...OrchestratorOption) (*Orchestrator, error) {
	if editor == nil {
		return nil, fmt.Errorf("editor (ImageEditClient) is required")
	}
	if validator == nil {
		return nil, fmt.Errorf("validator is required")
	}
	if describer == nil {
		return nil, fmt.Errorf("describer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		editor:    editor,
		validator: validator,
		describer: describer,
		recorder:  nopRecorder{},
		logger:    logger.Named("orchestrator"),
		newRunID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// run は1回の実行の状態です。
type run struct {
	*Orchestrator
	id       string
	req      domain.GenerationRequest
	opts     Options
	log      *zap.Logger
	started  time.Time
	attempts []domain.GenerationAttempt
	pose     *domain.PoseDescription
}

func (r *run) threshold() float64 {
	return *r.opts.ConfidenceThreshold
}

// Run は要求を処理し、必ず1つの GenerationOutcome を返します。エラーは返しません。
func (o *Orchestrator) Run(ctx context.Context, req domain.GenerationRequest, opts Options) domain.GenerationOutcome {
	r := &run{
		Orchestrator: o,
		id:           o.newRunID(),
		req:          req,
		opts:         opts.normalized(),
		started:      time.Now(),
	}
	r.log = o.logger.With(zap.String("run_id", r.id))
	r.log.Info("生成を開始します",
		zap.String("state", "INIT"),
		zap.Bool("has_selfie", !req.Selfie.IsZero()),
		zap.String("pose", req.Pose.String()),
		zap.Int("max_attempts", r.opts.MaxAttempts),
		zap.Float64("threshold", r.threshold()))

	if req.Pose.IsZero() || strings.TrimSpace(req.BasePrompt) == "" {
		return r.fail(domain.KindInvalidRequest)
	}

	for n := 1; n <= r.opts.MaxAttempts; n++ {
		if ctx.Err() != nil {
			return r.fail(domain.KindCancelled)
		}

		attempt, img, rejection, done := r.generate(ctx, n)
		if done {
			return r.fail(rejection)
		}

		if rejection == "" {
			var outcome domain.GenerationOutcome
			var finished bool
			rejection, outcome, finished = r.validate(ctx, attempt, img)
			if finished {
				return outcome
			}
		}

		if n >= r.opts.MaxAttempts {
			return r.fail(rejection)
		}
		r.log.Info("検証で不採用になったため記述による再生成に移ります",
			zap.String("state", "NEEDS_FALLBACK"), zap.Int("attempt", n), zap.String("reason", string(rejection)))
	}

	// MaxAttempts は 1 以上なのでここには到達しない
	return r.fail(domain.KindValidationRejected)
}

// generate は n 回目の画像生成を行います。done が true の場合は kind で実行を終了します。
// done が false で kind が空でない場合、応答の形式不正により試行は不採用です。
func (r *run) generate(ctx context.Context, n int) (domain.GenerationAttempt, domain.ImageRef, domain.ErrorKind, bool) {
	attempt := domain.GenerationAttempt{AttemptNumber: n, UsedPoseImage: n == 1}
	hasSelfie := !r.req.Selfie.IsZero()

	var editReq domain.EditRequest
	if attempt.UsedPoseImage {
		attempt.PromptUsed = posePrompt(r.req.BasePrompt, hasSelfie)
		editReq = domain.EditRequest{Prompt: attempt.PromptUsed, Image: r.req.Pose}
		if hasSelfie {
			editReq.Image = r.req.Selfie
			editReq.References = []domain.ImageRef{r.req.Pose}
		}
	} else {
		desc, kind, ok := r.describePose(ctx)
		if !ok {
			return attempt, domain.ImageRef{}, kind, true
		}
		// セルフィーが無ければ画像を送らず、記述だけから生成する
		attempt.PromptUsed = fallbackPrompt(r.req.BasePrompt, desc.Text, hasSelfie)
		editReq = domain.EditRequest{Prompt: attempt.PromptUsed, Image: r.req.Selfie}
	}

	r.log.Info("画像を生成します", zap.String("state", "GENERATING"), zap.Int("attempt", n), zap.Bool("used_pose_image", attempt.UsedPoseImage))

	started := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
	img, err := r.editor.Edit(callCtx, editReq)
	cancel()
	if err != nil {
		kind := r.kindFor(ctx, err)
		if kind == domain.KindCancelled {
			// キャンセルされた生成は記録しない
			r.log.Info("生成中にキャンセルされました", zap.Int("attempt", n))
			return attempt, domain.ImageRef{}, kind, true
		}
		r.log.Warn("画像生成に失敗しました", zap.Int("attempt", n), zap.String("kind", string(kind)), zap.Error(err))
		attempt.Err = &kind
		r.record(attempt, time.Since(started))
		return attempt, domain.ImageRef{}, kind, kind != domain.KindMalformedResponse
	}
	if img.IsZero() {
		kind := domain.KindMalformedResponse
		r.log.Warn("画像生成の応答に画像がありません", zap.Int("attempt", n))
		attempt.Err = &kind
		r.record(attempt, time.Since(started))
		return attempt, domain.ImageRef{}, kind, false
	}
	attempt.ResultImage = img.Ptr()
	return attempt, img, "", false
}

// validate は生成画像を検証して試行を記録します。
// finished が true なら outcome が最終結果です。false の場合 rejection が不採用の理由です。
func (r *run) validate(ctx context.Context, attempt domain.GenerationAttempt, img domain.ImageRef) (domain.ErrorKind, domain.GenerationOutcome, bool) {
	n := attempt.AttemptNumber
	r.log.Info("生成画像を検証します", zap.String("state", "VALIDATING"), zap.Int("attempt", n))

	started := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
	result, err := r.validator.Validate(callCtx, img, r.req.Selfie.Ptr())
	cancel()

	if err != nil {
		kind := r.kindFor(ctx, err)
		attempt.Err = &kind
		if result.HasVerdict() {
			attempt.Validation = &result
		}
		r.record(attempt, time.Since(started))
		if kind == domain.KindValidationParseError || kind == domain.KindMalformedResponse {
			r.log.Warn("検証結果を解析できなかったため不採用として扱います", zap.Int("attempt", n), zap.Error(err))
			return kind, domain.GenerationOutcome{}, false
		}
		r.log.Warn("検証に失敗しました", zap.Int("attempt", n), zap.String("kind", string(kind)), zap.Error(err))
		return kind, r.fail(kind), true
	}

	attempt.Validation = &result
	r.record(attempt, time.Since(started))
	r.recorder.ObserveValidation(result, r.threshold())

	fields := []zap.Field{zap.Int("attempt", n), zap.Bool("is_collage", result.IsCollage)}
	if result.PersonMatch != nil {
		fields = append(fields,
			zap.Bool("is_same_person", result.PersonMatch.IsSamePerson),
			zap.Float64("confidence", result.PersonMatch.Confidence))
	}

	if result.Accepts(r.threshold()) {
		r.log.Info("生成画像を採用しました", append(fields, zap.String("state", "DONE_SUCCESS"))...)
		return "", r.succeed(img), true
	}
	r.log.Info("生成画像は不採用です", fields...)
	return domain.KindValidationRejected, domain.GenerationOutcome{}, false
}

// describePose はポーズ記述を1回の実行につき1度だけ取得します。
func (r *run) describePose(ctx context.Context) (domain.PoseDescription, domain.ErrorKind, bool) {
	if r.pose != nil {
		return *r.pose, "", true
	}
	if ctx.Err() != nil {
		return domain.PoseDescription{}, domain.KindCancelled, false
	}
	r.log.Info("ポーズ画像を記述します", zap.String("state", "DESCRIBING_POSE"))

	callCtx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
	desc, err := r.describer.Describe(callCtx, r.req.Pose)
	cancel()
	if err != nil {
		kind := r.kindFor(ctx, err)
		r.log.Warn("ポーズ記述に失敗しました", zap.String("kind", string(kind)), zap.Error(err))
		return domain.PoseDescription{}, kind, false
	}
	r.pose = &desc
	return desc, "", true
}

// kindFor はエラーの Kind を決めます。親コンテキストが終了していれば Cancelled です。
func (r *run) kindFor(ctx context.Context, err error) domain.ErrorKind {
	if ctx.Err() != nil {
		return domain.KindCancelled
	}
	kind := domain.KindOf(err)
	if kind == domain.KindCancelled {
		// 親が生きていれば呼び出し単位のタイムアウトによる中断
		return domain.KindUpstreamUnavailable
	}
	return kind
}

func (r *run) record(attempt domain.GenerationAttempt, elapsed time.Duration) {
	r.attempts = append(r.attempts, attempt)
	r.recorder.ObserveAttempt(attempt, elapsed)
}

func (r *run) succeed(img domain.ImageRef) domain.GenerationOutcome {
	return r.finish(domain.GenerationOutcome{RunID: r.id, Image: img.Ptr(), Attempts: r.attempts})
}

func (r *run) fail(kind domain.ErrorKind) domain.GenerationOutcome {
	r.log.Info("生成に失敗しました",
		zap.String("state", "DONE_FAILURE"), zap.String("reason", string(kind)), zap.Int("attempts", len(r.attempts)))
	return r.finish(domain.GenerationOutcome{RunID: r.id, Reason: kind, Attempts: r.attempts})
}

func (r *run) finish(outcome domain.GenerationOutcome) domain.GenerationOutcome {
	elapsed := time.Since(r.started)
	r.recorder.ObserveOutcome(outcome, elapsed)
	r.log.Info("生成を終了しました", zap.Bool("succeeded", outcome.Succeeded()), zap.Duration("elapsed", elapsed))
	return outcome
}

// RunGeneration は呼び出し側向けの入口です。要求を組み立てて runner で実行します。
func RunGeneration(ctx context.Context, runner Runner, selfie, pose domain.ImageRef, basePrompt string, opts Options) domain.GenerationOutcome {
	return runner.Run(ctx, domain.GenerationRequest{
		Selfie:     selfie,
		Pose:       pose,
		BasePrompt: basePrompt,
	}, opts)
}
