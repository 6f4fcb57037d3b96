package adapters

import (
	"context"
	"strings"

	"github.com/shouni/gemini-pose-kit/pkg/domain"

	"google.golang.org/genai"
)

// imageParts は ImageRef 群を解決して InlineData パーツに変換します。ゼロ値は無視します。
func imageParts(ctx context.Context, source ImageSource, refs ...domain.ImageRef) ([]*genai.Part, error) {
	parts := make([]*genai.Part, 0, len(refs))
	for _, ref := range refs {
		if ref.IsZero() {
			continue
		}
		data, mimeType, err := source.Resolve(ctx, ref)
		if err != nil {
			return nil, err
		}
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: mimeType,
				Data:     data,
			},
		})
	}
	return parts, nil
}

// parseImageResponse は Gemini のレスポンスから最初の画像パーツを取り出します。
func parseImageResponse(op string, resp *genai.GenerateContentResponse) (domain.ImageRef, error) {
	if resp == nil {
		return domain.ImageRef{}, domain.Errorf(domain.KindMalformedResponse, op, "Geminiからの有効な応答がありませんでした")
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return domain.ImageRef{}, domain.Errorf(domain.KindUpstreamRejected, op, "プロンプトがブロックされました (BlockReason: %s)", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return domain.ImageRef{}, domain.Errorf(domain.KindMalformedResponse, op, "候補が含まれていません")
	}

	// 最初の候補 (Candidate) のみを利用する
	candidate := resp.Candidates[0]
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return domain.NewImageFromBytes(part.InlineData.Data, part.InlineData.MIMEType), nil
			}
		}
	}

	// 安全フィルター等によるブロックの確認
	if candidate.FinishReason != genai.FinishReasonUnspecified && candidate.FinishReason != genai.FinishReasonStop {
		return domain.ImageRef{}, domain.Errorf(domain.KindUpstreamRejected, op, "画像生成が異常終了しました (FinishReason: %s)", candidate.FinishReason)
	}
	return domain.ImageRef{}, domain.Errorf(domain.KindMalformedResponse, op, "画像データが見つかりませんでした")
}

// parseTextResponse は最初の候補のテキストパーツを連結して返します。思考パーツは除外します。
func parseTextResponse(op string, resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", domain.Errorf(domain.KindMalformedResponse, op, "Geminiからの有効な応答がありませんでした")
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", domain.Errorf(domain.KindUpstreamRejected, op, "プロンプトがブロックされました (BlockReason: %s)", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", domain.Errorf(domain.KindMalformedResponse, op, "候補が含まれていません")
	}

	candidate := resp.Candidates[0]
	var sb strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought || part.Text == "" {
				continue
			}
			sb.WriteString(part.Text)
		}
	}
	text := sb.String()
	if strings.TrimSpace(text) != "" {
		return text, nil
	}
	if candidate.FinishReason != genai.FinishReasonUnspecified && candidate.FinishReason != genai.FinishReasonStop {
		return "", domain.Errorf(domain.KindUpstreamRejected, op, "テキスト生成が異常終了しました (FinishReason: %s)", candidate.FinishReason)
	}
	return "", domain.Errorf(domain.KindMalformedResponse, op, "テキストが含まれていません")
}
