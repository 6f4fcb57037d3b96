package adapters

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shouni/gemini-pose-kit/pkg/domain"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"google.golang.org/genai"
)

func TestClassify(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		err  error
		want domain.ErrorKind
	}{
		{"ネットワークエラー", errors.New("dial tcp: connection refused"), domain.KindUpstreamUnavailable},
		{"タイムアウト", fmt.Errorf("post: %w", context.DeadlineExceeded), domain.KindUpstreamUnavailable},
		{"キャンセル", fmt.Errorf("post: %w", context.Canceled), domain.KindCancelled},
		{"Gemini 404", genai.APIError{Code: 404}, domain.KindUpstreamRejected},
		{"Gemini ポインタ 500", &genai.APIError{Code: 500}, domain.KindUpstreamUnavailable},
		{"OpenAI APIError 403", &openai.APIError{HTTPStatusCode: 403}, domain.KindUpstreamRejected},
		{"OpenAI RequestError 502", &openai.RequestError{HTTPStatusCode: 502}, domain.KindUpstreamUnavailable},
		{"分類済みのエラーはそのまま", domain.Errorf(domain.KindMalformedResponse, "x", "bad"), domain.KindMalformedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, domain.KindOf(classify(ctx, "op", tt.err)))
		})
	}

	assert.NoError(t, classify(ctx, "op", nil))
}

func TestClassify_UsesContextState(t *testing.T) {
	cctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := classify(cctx, "gemini.edit", errors.New("stream closed"))

	assert.Equal(t, domain.KindCancelled, domain.KindOf(err))
}
