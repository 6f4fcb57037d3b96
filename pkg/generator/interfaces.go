package generator

import (
	"context"
	"time"

	"github.com/shouni/gemini-pose-kit/pkg/domain"
)

// ImageEditClient は画像編集エンドポイントへの窓口です。
type ImageEditClient interface {
	Edit(ctx context.Context, req domain.EditRequest) (domain.ImageRef, error)
}

// VisionQueryClient は画像理解エンドポイントへの窓口です。回答は生のテキストで返します。
type VisionQueryClient interface {
	Query(ctx context.Context, req domain.VisionRequest) (string, error)
}

// Validator は生成画像を検証します。selfie が nil の場合は本人確認を行いません。
type Validator interface {
	Validate(ctx context.Context, image domain.ImageRef, selfie *domain.ImageRef) (domain.ValidationResult, error)
}

// Describer はポーズ画像から人物を特定しないテキスト記述を作成します。
type Describer interface {
	Describe(ctx context.Context, pose domain.ImageRef) (domain.PoseDescription, error)
}

// Runner は1件の生成要求を実行し、必ず1つの結果を返します。
type Runner interface {
	Run(ctx context.Context, req domain.GenerationRequest, opts Options) domain.GenerationOutcome
}

// Recorder は実行中のイベントを受け取るフックです（メトリクス収集など）。
type Recorder interface {
	ObserveAttempt(attempt domain.GenerationAttempt, elapsed time.Duration)
	ObserveValidation(result domain.ValidationResult, threshold float64)
	ObserveOutcome(outcome domain.GenerationOutcome, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveAttempt(domain.GenerationAttempt, time.Duration) {}
func (nopRecorder) ObserveValidation(domain.ValidationResult, float64) {}
func (nopRecorder) ObserveOutcome(domain.GenerationOutcome, time.Duration) {}
