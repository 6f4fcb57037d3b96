package adapters

import (
	"context"
	"fmt"
	"strings"

	"github.com/shouni/gemini-pose-kit/pkg/domain"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const opGeminiEdit = "gemini.edit"

// GeminiImageEditor は Gemini の画像生成モデルで画像編集を行うアダプターです。
// 編集元画像と参照画像を InlineData として1回のリクエストにまとめて送信します。
type GeminiImageEditor struct {
	models GeminiModels
	source ImageSource
	model  string
	logger *zap.Logger
}

// NewGeminiImageEditor は依存関係を注入して GeminiImageEditor を生成します。
func NewGeminiImageEditor(models GeminiModels, source ImageSource, model string, logger *zap.Logger) (*GeminiImageEditor, error) {
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
	return &GeminiImageEditor{
		models: models,
		source: source,
		model:  model,
		logger: logger.Named("gemini-editor"),
	}, nil
}

// Edit は編集指示と画像を Gemini に送り、生成された画像を返します。
// 編集元画像が無い場合はプロンプトだけから生成します。
func (e *GeminiImageEditor) Edit(ctx context.Context, req domain.EditRequest) (domain.ImageRef, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return domain.ImageRef{}, domain.Errorf(domain.KindInvalidRequest, opGeminiEdit, "プロンプトが空です")
	}
	var refs []domain.ImageRef
	if !req.Image.IsZero() {
		refs = append(refs, req.Image)
	} else if len(req.References) > 0 {
		return domain.ImageRef{}, domain.Errorf(domain.KindInvalidRequest, opGeminiEdit, "参照画像だけでは編集できません")
	}

	imgs, err := imageParts(ctx, e.source, append(refs, req.References...)...)
	if err != nil {
		return domain.ImageRef{}, err
	}
	parts := append([]*genai.Part{{Text: req.Prompt}}, imgs...)

	e.logger.Debug("Geminiに画像編集をリクエストします",
		zap.String("model", e.model), zap.Int("images", len(imgs)))

	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}
	resp, err := e.models.GenerateContent(ctx, e.model, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, config)
	if err != nil {
		return domain.ImageRef{}, classify(ctx, opGeminiEdit, err)
	}
	return parseImageResponse(opGeminiEdit, resp)
}
