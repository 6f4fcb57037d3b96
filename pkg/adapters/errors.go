package adapters

import (
	"context"
	"errors"
	"net/http"

	"github.com/shouni/gemini-pose-kit/pkg/domain"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// classify は上流呼び出しのエラーを ErrorKind 付きのエラーに正規化します。
// ネットワーク障害・タイムアウト・5xx・429 は UpstreamUnavailable、その他の 4xx は UpstreamRejected です。
func classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled) {
		return domain.NewError(domain.KindCancelled, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewError(domain.KindUpstreamUnavailable, op, err)
	}
	return domain.NewError(kindForStatus(statusCode(err)), op, err)
}

// kindForStatus は HTTP ステータスから Kind を決定します。0 は応答が無かったことを表します。
func kindForStatus(status int) domain.ErrorKind {
	switch {
	case status == 0:
		return domain.KindUpstreamUnavailable
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return domain.KindUpstreamUnavailable
	case status >= 400:
		return domain.KindUpstreamRejected
	default:
		return domain.KindMalformedResponse
	}
}

// statusCode は各 SDK のエラー型から HTTP ステータスを取り出します。
func statusCode(err error) int {
	var gErr genai.APIError
	if errors.As(err, &gErr) {
		return gErr.Code
	}
	var gErrPtr *genai.APIError
	if errors.As(err, &gErrPtr) && gErrPtr != nil {
		return gErrPtr.Code
	}
	var oErr *openai.APIError
	if errors.As(err, &oErr) {
		return oErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
