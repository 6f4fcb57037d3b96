package adapters

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/shouni/gemini-pose-kit/pkg/domain"
	"github.com/shouni/gemini-pose-kit/pkg/imgutil"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	opOpenAIEdit = "openai.edit"

	// sheetMaxHeight は参照画像をまとめたシートの高さの上限です。
	sheetMaxHeight = 1024
	sheetNote      = "The input image is a sheet of photos placed side by side. " +
		"The leftmost panel is the first image and the next panel is the second image. " +
		"The result must be one single photograph, not a sheet of panels.\n\n"
)

// OpenAIImageEditor は OpenAI の画像エンドポイントで画像編集を行うアダプターです。
// images/edits は1枚しか受け付けないため、参照画像がある場合は編集元と横に並べた1枚のシートにして送ります。
// 編集元画像が無い場合は images/generations でプロンプトだけから生成します。
type OpenAIImageEditor struct {
	api            OpenAIAPI
	source         ImageSource
	model          string
	size           string
	responseFormat string
	logger         *zap.Logger
}

// OpenAIEditorOption は OpenAIImageEditor の任意設定です。
type OpenAIEditorOption func(*OpenAIImageEditor)

// WithImageSize は生成画像のサイズ（例: "1024x1024"）を指定します。
func WithImageSize(size string) OpenAIEditorOption {
	return func(e *OpenAIImageEditor) { e.size = size }
}

// WithResponseFormat はレスポンス形式（"b64_json" または "url"）を指定します。
func WithResponseFormat(format string) OpenAIEditorOption {
	return func(e *OpenAIImageEditor) { e.responseFormat = format }
}

// NewOpenAIImageEditor は依存関係を注入して OpenAIImageEditor を生成します。
func NewOpenAIImageEditor(api OpenAIAPI, source ImageSource, model string, logger *zap.Logger, opts ...OpenAIEditorOption) (*OpenAIImageEditor, error) {
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
	e := &OpenAIImageEditor{
		api:    api,
		source: source,
		model:  model,
		logger: logger.Named("openai-editor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Edit は編集元画像とプロンプトを送り、生成された画像を返します。
// URL 形式で返された場合は URI を持つ ImageRef を返します。
func (e *OpenAIImageEditor) Edit(ctx context.Context, req domain.EditRequest) (domain.ImageRef, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return domain.ImageRef{}, domain.Errorf(domain.KindInvalidRequest, opOpenAIEdit, "プロンプトが空です")
	}
	var refs []domain.ImageRef
	for _, ref := range req.References {
		if !ref.IsZero() {
			refs = append(refs, ref)
		}
	}
	if req.Image.IsZero() {
		if len(refs) > 0 {
			return domain.ImageRef{}, domain.Errorf(domain.KindInvalidRequest, opOpenAIEdit, "参照画像だけでは編集できません")
		}
		return e.generate(ctx, req.Prompt)
	}

	data, mimeType, err := e.source.Resolve(ctx, req.Image)
	if err != nil {
		return domain.ImageRef{}, err
	}
	prompt := req.Prompt
	if len(refs) > 0 {
		if data, err = e.composeSheet(ctx, data, refs); err != nil {
			return domain.ImageRef{}, err
		}
		mimeType = "image/png"
		prompt = sheetNote + prompt
	}

	// multipart のファイル名から形式が判定されるため、拡張子付きの一時ファイルを経由する
	f, err := os.CreateTemp("", "posekit-edit-*"+imgutil.ExtensionFor(mimeType))
	if err != nil {
		return domain.ImageRef{}, fmt.Errorf("一時ファイルの作成に失敗しました: %w", err)
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}()
	if _, err := f.Write(data); err != nil {
		return domain.ImageRef{}, fmt.Errorf("一時ファイルへの書き込みに失敗しました: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return domain.ImageRef{}, fmt.Errorf("一時ファイルのシークに失敗しました: %w", err)
	}

	e.logger.Debug("OpenAIに画像編集をリクエストします",
		zap.String("model", e.model), zap.String("mime", mimeType), zap.Int("references", len(refs)))

	resp, err := e.api.CreateEditImage(ctx, openai.ImageEditRequest{
		Image:          f,
		Prompt:         prompt,
		Model:          e.model,
		N:              1,
		Size:           e.size,
		ResponseFormat: e.responseFormat,
	})
	if err != nil {
		return domain.ImageRef{}, classify(ctx, opOpenAIEdit, err)
	}
	return firstImage(resp)
}

// composeSheet は編集元画像の右に参照画像を並べた1枚の PNG を作ります。
func (e *OpenAIImageEditor) composeSheet(ctx context.Context, main []byte, refs []domain.ImageRef) ([]byte, error) {
	panels := [][]byte{main}
	for _, ref := range refs {
		data, _, err := e.source.Resolve(ctx, ref)
		if err != nil {
			return nil, err
		}
		panels = append(panels, data)
	}
	sheet, err := imgutil.ComposeSheet(panels, sheetMaxHeight)
	if err != nil {
		return nil, domain.NewError(domain.KindInvalidRequest, opOpenAIEdit, err)
	}
	return sheet, nil
}

// generate は画像を送らずにプロンプトだけから生成します。
func (e *OpenAIImageEditor) generate(ctx context.Context, prompt string) (domain.ImageRef, error) {
	e.logger.Debug("OpenAIに画像生成をリクエストします", zap.String("model", e.model))

	resp, err := e.api.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          e.model,
		N:              1,
		Size:           e.size,
		ResponseFormat: e.responseFormat,
	})
	if err != nil {
		return domain.ImageRef{}, classify(ctx, opOpenAIEdit, err)
	}
	return firstImage(resp)
}

// firstImage はレスポンスの最初の画像を ImageRef にします。
func firstImage(resp openai.ImageResponse) (domain.ImageRef, error) {
	if len(resp.Data) == 0 {
		return domain.ImageRef{}, domain.Errorf(domain.KindMalformedResponse, opOpenAIEdit, "画像データが見つかりませんでした")
	}

	item := resp.Data[0]
	switch {
	case item.B64JSON != "":
		decoded, err := base64.StdEncoding.DecodeString(item.B64JSON)
		if err != nil {
			return domain.ImageRef{}, domain.NewError(domain.KindMalformedResponse, opOpenAIEdit, err)
		}
		outMime, err := imgutil.DetectImageMIME(decoded)
		if err != nil {
			return domain.ImageRef{}, domain.NewError(domain.KindMalformedResponse, opOpenAIEdit, err)
		}
		return domain.NewImageFromBytes(decoded, outMime), nil
	case item.URL != "":
		return domain.NewImageFromURI(item.URL), nil
	default:
		return domain.ImageRef{}, domain.Errorf(domain.KindMalformedResponse, opOpenAIEdit, "画像データが見つかりませんでした")
	}
}
