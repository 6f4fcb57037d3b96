package adapters

import (
	"context"
	"fmt"
	"strings"

	"github.com/shouni/gemini-pose-kit/pkg/domain"
	"github.com/shouni/gemini-pose-kit/pkg/imgutil"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const opOpenAIVision = "openai.vision"

// OpenAIVisionClient は Chat Completions API に画像付きの質問を送るアダプターです。
// 画像は data URI として送信します。
type OpenAIVisionClient struct {
	api    OpenAIAPI
	source ImageSource
	model  string
	logger *zap.Logger
}

// NewOpenAIVisionClient は依存関係を注入して OpenAIVisionClient を生成します。
func NewOpenAIVisionClient(api OpenAIAPI, source ImageSource, model string, logger *zap.Logger) (*OpenAIVisionClient, error) {
	if api == nil {
		return nil, fmt.Errorf("openai client is required")
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
	return &OpenAIVisionClient{
		api:    api,
		source: source,
		model:  model,
		logger: logger.Named("openai-vision"),
	}, nil
}

// Query はプロンプトと画像群を送り、アシスタントの回答テキストをそのまま返します。
func (c *OpenAIVisionClient) Query(ctx context.Context, req domain.VisionRequest) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", domain.Errorf(domain.KindInvalidRequest, opOpenAIVision, "プロンプトが空です")
	}
	if len(req.Images) == 0 {
		return "", domain.Errorf(domain.KindInvalidRequest, opOpenAIVision, "画像が指定されていません")
	}

	parts := []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: req.Prompt},
	}
	for i, img := range req.Images {
		if img.IsZero() {
			return "", domain.Errorf(domain.KindInvalidRequest, opOpenAIVision, "画像 %d が空です", i)
		}
		data, mimeType, err := c.source.Resolve(ctx, img)
		if err != nil {
			return "", err
		}
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    imgutil.EncodeDataURI(data, mimeType),
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}

	chatReq := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
	}
	if req.ExpectJSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	c.logger.Debug("OpenAIに画像理解をリクエストします",
		zap.String("model", c.model), zap.Int("images", len(req.Images)), zap.Bool("json", req.ExpectJSON))

	resp, err := c.api.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", classify(ctx, opOpenAIVision, err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.Errorf(domain.KindMalformedResponse, opOpenAIVision, "候補が含まれていません")
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return "", domain.Errorf(domain.KindUpstreamRejected, opOpenAIVision, "コンテンツフィルターによりブロックされました")
	}
	if strings.TrimSpace(choice.Message.Content) == "" {
		if choice.Message.Refusal != "" {
			return "", domain.Errorf(domain.KindUpstreamRejected, opOpenAIVision, "モデルが回答を拒否しました")
		}
		return "", domain.Errorf(domain.KindMalformedResponse, opOpenAIVision, "テキストが含まれていません")
	}
	return choice.Message.Content, nil
}
