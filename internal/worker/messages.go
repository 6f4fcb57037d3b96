package worker

import (
	"github.com/shouni/gemini-pose-kit/pkg/domain"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ImagePayload はタスク内の画像指定です。URI か Data（base64）のどちらかを指定します。
type ImagePayload struct {
	URI      string `json:"uri,omitempty"`
	Data     []byte `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

func (p *ImagePayload) ref() domain.ImageRef {
	if p == nil {
		return domain.ImageRef{}
	}
	if len(p.Data) > 0 {
		return domain.NewImageFromBytes(p.Data, p.MimeType)
	}
	ref := domain.NewImageFromURI(p.URI)
	ref.MimeType = p.MimeType
	return ref
}

// TaskPayload はタスクキューから受け取る生成依頼です。
type TaskPayload struct {
	TaskID              string        `json:"taskId"`
	Selfie              *ImagePayload `json:"selfie,omitempty"`
	Pose                *ImagePayload `json:"pose"`
	BasePrompt          string        `json:"basePrompt"`
	ConfidenceThreshold *float64      `json:"confidenceThreshold,omitempty"`
}

// Request はタスクを生成要求に変換します。
func (t TaskPayload) Request() domain.GenerationRequest {
	return domain.GenerationRequest{
		Selfie:     t.Selfie.ref(),
		Pose:       t.Pose.ref(),
		BasePrompt: t.BasePrompt,
	}
}

// AttemptSummary は結果メッセージに載せる試行の要約です。画像本体やプロンプトは含めません。
type AttemptSummary struct {
	AttemptNumber int      `json:"attemptNumber"`
	UsedPoseImage bool     `json:"usedPoseImage"`
	IsCollage     *bool    `json:"isCollage,omitempty"`
	IsSamePerson  *bool    `json:"isSamePerson,omitempty"`
	Confidence    *float64 `json:"confidence,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// ResultPayload は結果キューに発行するメッセージです。
type ResultPayload struct {
	TaskID   string           `json:"taskId"`
	RunID    string           `json:"runId,omitempty"`
	Status   string           `json:"status"`
	ImageURL string           `json:"imageUrl,omitempty"`
	Reason   domain.ErrorKind `json:"reason,omitempty"`
	Message  string           `json:"message,omitempty"`
	Attempts []AttemptSummary `json:"attempts"`
}

func summarize(attempts []domain.GenerationAttempt) []AttemptSummary {
	out := make([]AttemptSummary, 0, len(attempts))
	for _, a := range attempts {
		s := AttemptSummary{AttemptNumber: a.AttemptNumber, UsedPoseImage: a.UsedPoseImage}
		if a.Validation != nil {
			if !a.Validation.CollageUnknown {
				collage := a.Validation.IsCollage
				s.IsCollage = &collage
			}
			if pm := a.Validation.PersonMatch; pm != nil {
				same, conf := pm.IsSamePerson, pm.Confidence
				s.IsSamePerson = &same
				s.Confidence = &conf
			}
		}
		if a.Err != nil {
			s.Error = string(*a.Err)
		}
		out = append(out, s)
	}
	return out
}

func failureResult(taskID string, outcome domain.GenerationOutcome, reason domain.ErrorKind) ResultPayload {
	return ResultPayload{
		TaskID:   taskID,
		RunID:    outcome.RunID,
		Status:   StatusError,
		Reason:   reason,
		Message:  domain.FailureMessage(reason),
		Attempts: summarize(outcome.Attempts),
	}
}

func successResult(taskID string, outcome domain.GenerationOutcome, imageURL string) ResultPayload {
	return ResultPayload{
		TaskID:   taskID,
		RunID:    outcome.RunID,
		Status:   StatusSuccess,
		ImageURL: imageURL,
		Attempts: summarize(outcome.Attempts),
	}
}
