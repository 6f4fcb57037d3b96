package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/shouni/gemini-pose-kit/pkg/domain"
	"github.com/shouni/gemini-pose-kit/pkg/utils"

	"go.uber.org/zap"
)

const (
	opDescribe = "describe"
	// maxDescriptionRunes はプロンプトに埋め込む記述の上限です。
	maxDescriptionRunes = 1500
)

// FallbackDescriber はポーズ画像を文章で記述し、ポーズ画像を送らない再生成に使わせます。
type FallbackDescriber struct {
	vision VisionQueryClient
	logger *zap.Logger
}

// NewFallbackDescriber は FallbackDescriber を生成します。
func NewFallbackDescriber(vision VisionQueryClient, logger *zap.Logger) (*FallbackDescriber, error) {
	if vision == nil {
		return nil, fmt.Errorf("vision client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackDescriber{vision: vision, logger: logger.Named("describer")}, nil
}

// Describe は画像理解エンドポイントを1回だけ呼び出し、1段落の記述を返します。
// 空の回答は DescriptionFailure です。通信エラーは元の Kind のまま返します。
func (d *FallbackDescriber) Describe(ctx context.Context, pose domain.ImageRef) (domain.PoseDescription, error) {
	if pose.IsZero() {
		return domain.PoseDescription{}, domain.Errorf(domain.KindInvalidRequest, opDescribe, "ポーズ画像がありません")
	}

	text, err := d.vision.Query(ctx, domain.VisionRequest{
		Prompt: describePrompt,
		Images: []domain.ImageRef{pose},
	})
	if err != nil {
		if domain.KindOf(err) == domain.KindMalformedResponse {
			return domain.PoseDescription{}, domain.NewError(domain.KindDescriptionFailure, opDescribe, err)
		}
		return domain.PoseDescription{}, err
	}

	cleaned := cleanDescription(text)
	if cleaned == "" {
		return domain.PoseDescription{}, domain.Errorf(domain.KindDescriptionFailure, opDescribe, "記述が空です")
	}

	d.logger.Debug("ポーズ記述を取得しました", zap.Int("runes", len([]rune(cleaned))))
	return domain.PoseDescription{Text: utils.TruncateText(cleaned, maxDescriptionRunes)}, nil
}

// cleanDescription はコードフェンスや引用符を取り除き、1段落にまとめます。
func cleanDescription(text string) string {
	s := stripCodeFence(text)
	s = strings.Trim(s, "\"'“”「」 \t\r\n")
	return strings.Join(strings.Fields(s), " ")
}
