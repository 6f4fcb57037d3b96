package generator

import (
	"context"
	"sync"
	"time"

	"github.com/shouni/gemini-pose-kit/pkg/domain"
)

// --- Mocks ---

type mockEditor struct {
	mu       sync.Mutex
	editFunc func(ctx context.Context, req domain.EditRequest) (domain.ImageRef, error)
	requests []domain.EditRequest
}

func (m *mockEditor) Edit(ctx context.Context, req domain.EditRequest) (domain.ImageRef, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	n := len(m.requests)
	m.mu.Unlock()
	if m.editFunc != nil {
		return m.editFunc(ctx, req)
	}
	return generatedImage(n), nil
}

func (m *mockEditor) calls() []domain.EditRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.EditRequest(nil), m.requests...)
}

// generatedImage は n 回目の生成結果として返すダミー画像なのだ。
func generatedImage(n int) domain.ImageRef {
	return domain.NewImageFromBytes([]byte{'g', byte('0' + n)}, "image/png")
}

type mockVision struct {
	mu        sync.Mutex
	queryFunc func(ctx context.Context, req domain.VisionRequest) (string, error)
	requests  []domain.VisionRequest
}

func (m *mockVision) Query(ctx context.Context, req domain.VisionRequest) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	return m.queryFunc(ctx, req)
}

// count は指定したプロンプトでの呼び出し回数を返すのだ。
func (m *mockVision) count(prompt string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.requests {
		if r.Prompt == prompt {
			n++
		}
	}
	return n
}

func (m *mockVision) requestsFor(prompt string) []domain.VisionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.VisionRequest
	for _, r := range m.requests {
		if r.Prompt == prompt {
			out = append(out, r)
		}
	}
	return out
}

// scriptedVision はプロンプトの種類ごとに用意した回答を順番に返すのだ。
// 用意した回答を使い切ったら最後の回答を繰り返すのだ。
func scriptedVision(collage, person []string, description string) *mockVision {
	var mu sync.Mutex
	next := map[string]int{}
	pick := func(prompt string, replies []string) string {
		mu.Lock()
		defer mu.Unlock()
		i := next[prompt]
		next[prompt]++
		if i >= len(replies) {
			i = len(replies) - 1
		}
		return replies[i]
	}
	return &mockVision{queryFunc: func(_ context.Context, req domain.VisionRequest) (string, error) {
		switch req.Prompt {
		case collagePrompt:
			return pick(collagePrompt, collage), nil
		case personMatchPrompt:
			return pick(personMatchPrompt, person), nil
		default:
			return description, nil
		}
	}}
}

type recordingRecorder struct {
	mu          sync.Mutex
	attempts    []domain.GenerationAttempt
	validations []domain.ValidationResult
	outcomes    []domain.GenerationOutcome
}

func (r *recordingRecorder) ObserveAttempt(a domain.GenerationAttempt, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, a)
}

func (r *recordingRecorder) ObserveValidation(v domain.ValidationResult, _ float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validations = append(r.validations, v)
}

func (r *recordingRecorder) ObserveOutcome(o domain.GenerationOutcome, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}
