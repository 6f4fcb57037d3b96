package adapters

import (
	"context"
	"time"

	"github.com/shouni/gemini-pose-kit/pkg/domain"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// HTTPClient は URL から画像データを取得するためのインターフェースです。
// httpkit.Client がこれを満たします。
type HTTPClient interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
	// IsSafeURL は SSRF の観点で URL を検証します。
	IsSafeURL(urlStr string) (bool, error)
}

// ImageCacher は取得済み画像のバイト列をキャッシュするためのインターフェースです。
type ImageCacher interface {
	// Get は、指定されたキーに紐づくデータを取得します。
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set は、指定されたキーとデータ、有効期限で保存します。
	Set(ctx context.Context, key string, data []byte, ttl time.Duration)
}

// ImageSource は ImageRef を実データに解決します。
type ImageSource interface {
	Resolve(ctx context.Context, ref domain.ImageRef) (data []byte, mimeType string, err error)
}

// GeminiModels は *genai.Models のうち本パッケージが利用するメソッドです。
type GeminiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// OpenAIAPI は *openai.Client のうち本パッケージが利用するメソッドです。
type OpenAIAPI interface {
	CreateImage(ctx context.Context, request openai.ImageRequest) (openai.ImageResponse, error)
	CreateEditImage(ctx context.Context, request openai.ImageEditRequest) (openai.ImageResponse, error)
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}
