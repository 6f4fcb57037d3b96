package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shouni/gemini-pose-kit/pkg/domain"
	"github.com/shouni/gemini-pose-kit/pkg/utils"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	opCollageCheck = "validation.collage"
	opPersonCheck  = "validation.person"
	maxLoggedReply = 200
)

// ValidationStage は生成画像に対してコラージュ判定と本人確認を並行して行います。
// モデルの回答は厳密な JSON として解析し、形式が崩れていれば ValidationParseError とします。
type ValidationStage struct {
	vision VisionQueryClient
	logger *zap.Logger
}

// NewValidationStage は ValidationStage を生成します。
func NewValidationStage(vision VisionQueryClient, logger *zap.Logger) (*ValidationStage, error) {
	if vision == nil {
		return nil, fmt.Errorf("vision client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ValidationStage{vision: vision, logger: logger.Named("validation")}, nil
}

// Validate は2つの判定を同時に実行し、両方の完了を待って結果をまとめます。
// どちらかが失敗した場合は、より重大な Kind のエラーと、完了した判定だけを持つ部分的な結果を返します。
func (s *ValidationStage) Validate(ctx context.Context, image domain.ImageRef, selfie *domain.ImageRef) (domain.ValidationResult, error) {
	if image.IsZero() {
		return domain.ValidationResult{CollageUnknown: true}, domain.Errorf(domain.KindInvalidRequest, opCollageCheck, "検証対象の画像がありません")
	}
	checkPerson := selfie != nil && !selfie.IsZero()

	var (
		collage              collageReply
		match                *domain.PersonMatch
		collageErr, matchErr error
	)

	var g errgroup.Group
	g.Go(func() error {
		collage, collageErr = s.checkCollage(ctx, image)
		return nil // 両方の結果を集めるため、エラーはここでは返さない
	})
	if checkPerson {
		g.Go(func() error {
			match, matchErr = s.checkPerson(ctx, image, *selfie)
			return nil
		})
	}
	_ = g.Wait()

	result := domain.ValidationResult{PersonMatch: match}
	if collageErr != nil {
		result.CollageUnknown = true
	} else {
		result.IsCollage = collage.IsCollage
		result.CollageReason = collage.Reason
	}
	return result, joinCheckErrors(collageErr, matchErr)
}

// joinCheckErrors は2つの判定エラーのうち、より重大な Kind のものを返します。
func joinCheckErrors(collageErr, matchErr error) error {
	switch {
	case collageErr == nil:
		return matchErr
	case matchErr == nil:
		return collageErr
	}
	if domain.MoreSevere(domain.KindOf(collageErr), domain.KindOf(matchErr)) == domain.KindOf(collageErr) {
		return collageErr
	}
	return matchErr
}

type collageReply struct {
	IsCollage bool
	Reason    string
}

func (s *ValidationStage) checkCollage(ctx context.Context, image domain.ImageRef) (collageReply, error) {
	text, err := s.vision.Query(ctx, domain.VisionRequest{
		Prompt:     collagePrompt,
		Images:     []domain.ImageRef{image},
		ExpectJSON: true,
	})
	if err != nil {
		return collageReply{}, err
	}

	var raw struct {
		IsCollage *bool  `json:"isCollage"`
		Reason    string `json:"reason"`
	}
	if err := decodeStrict(text, &raw); err != nil {
		s.logger.Warn("コラージュ判定の回答を解析できませんでした",
			zap.String("reply", utils.TruncateText(text, maxLoggedReply)), zap.Error(err))
		return collageReply{}, domain.NewError(domain.KindValidationParseError, opCollageCheck, err)
	}
	if raw.IsCollage == nil {
		return collageReply{}, domain.Errorf(domain.KindValidationParseError, opCollageCheck, "isCollage がありません")
	}
	return collageReply{IsCollage: *raw.IsCollage, Reason: raw.Reason}, nil
}

func (s *ValidationStage) checkPerson(ctx context.Context, image, selfie domain.ImageRef) (*domain.PersonMatch, error) {
	text, err := s.vision.Query(ctx, domain.VisionRequest{
		Prompt:     personMatchPrompt,
		Images:     []domain.ImageRef{selfie, image},
		ExpectJSON: true,
	})
	if err != nil {
		return nil, err
	}

	var raw struct {
		IsSamePerson     *bool    `json:"isSamePerson"`
		Confidence       *float64 `json:"confidence"`
		Reason           string   `json:"reason"`
		NoPersonDetected bool     `json:"noPersonDetected"`
	}
	if err := decodeStrict(text, &raw); err != nil {
		s.logger.Warn("本人確認の回答を解析できませんでした",
			zap.String("reply", utils.TruncateText(text, maxLoggedReply)), zap.Error(err))
		return nil, domain.NewError(domain.KindValidationParseError, opPersonCheck, err)
	}

	if raw.NoPersonDetected {
		return &domain.PersonMatch{IsSamePerson: false, Confidence: 0, Reason: "no person detected"}, nil
	}
	if raw.IsSamePerson == nil {
		return nil, domain.Errorf(domain.KindValidationParseError, opPersonCheck, "isSamePerson がありません")
	}
	if raw.Confidence == nil {
		if *raw.IsSamePerson {
			return nil, domain.Errorf(domain.KindValidationParseError, opPersonCheck, "confidence がありません")
		}
		return &domain.PersonMatch{IsSamePerson: false, Confidence: 0, Reason: raw.Reason}, nil
	}

	confidence, clamped := utils.ClampUnit(*raw.Confidence)
	if clamped {
		s.logger.Warn("confidence が範囲外のため丸めました",
			zap.Float64("raw", *raw.Confidence), zap.Float64("clamped", confidence))
	}
	return &domain.PersonMatch{
		IsSamePerson: *raw.IsSamePerson,
		Confidence:   confidence,
		Reason:       raw.Reason,
	}, nil
}

// decodeStrict は回答全体がちょうど1つの JSON オブジェクトであることを要求して v にデコードします。
// 前後の Markdown コードフェンスだけは取り除きます。
func decodeStrict(text string, v any) error {
	body := stripCodeFence(text)
	if !strings.HasPrefix(body, "{") {
		return errors.New("回答が JSON オブジェクトではありません")
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("JSON の後に余分なデータがあります")
	}
	return nil
}

// stripCodeFence は ```json ... ``` で囲まれた回答から中身を取り出します。
func stripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
