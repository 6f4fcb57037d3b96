package adapters

import (
	"context"
	"fmt"
	"strings"

	"github.com/shouni/gemini-pose-kit/pkg/domain"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const opGeminiVision = "gemini.vision"

// GeminiVisionClient は Gemini のマルチモーダルモデルに画像付きの質問を送るアダプターです。
type GeminiVisionClient struct {
	models GeminiModels
	source ImageSource
	model  string
	logger *zap.Logger
}

// NewGeminiVisionClient は依存関係を注入して GeminiVisionClient を生成します。
func NewGeminiVisionClient(models GeminiModels, source ImageSource, model string, logger *zap.Logger) (*GeminiVisionClient, error) {
	if models == nil {
		return nil, fmt.Errorf("models is required")
	}
	if source == nil {
		return nil, fmt.Errorf("image source is required")
	}
	if model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiVisionClient{
		models: models,
		source: source,
		model:  model,
		logger: logger.Named("gemini-vision"),
	}, nil
}

// Query はプロンプトと画像群を送り、モデルの回答テキストをそのまま返します。
func (c *GeminiVisionClient) Query(ctx context.Context, req domain.VisionRequest) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", domain.Errorf(domain.KindInvalidRequest, opGeminiVision, "プロンプトが空です")
	}
	if len(req.Images) == 0 {
		return "", domain.Errorf(domain.KindInvalidRequest, opGeminiVision, "画像が指定されていません")
	}
	for i, img := range req.Images {
		if img.IsZero() {
			return "", domain.Errorf(domain.KindInvalidRequest, opGeminiVision, "画像 %d が空です", i)
		}
	}

	imgs, err := imageParts(ctx, c.source, req.Images...)
	if err != nil {
		return "", err
	}
	parts := append([]*genai.Part{{Text: req.Prompt}}, imgs...)

	temperature := float32(0)
	config := &genai.GenerateContentConfig{Temperature: &temperature}
	if req.ExpectJSON {
		config.ResponseMIMEType = "application/json"
	}

	c.logger.Debug("Geminiに画像理解をリクエストします",
		zap.String("model", c.model), zap.Int("images", len(imgs)), zap.Bool("json", req.ExpectJSON))

	resp, err := c.models.GenerateContent(ctx, c.model, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, config)
	if err != nil {
		return "", classify(ctx, opGeminiVision, err)
	}
	return parseTextResponse(opGeminiVision, resp)
}
