package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind はパイプラインが扱う失敗の分類です。
type ErrorKind string

const (
	KindInvalidRequest       ErrorKind = "invalid_request"
	KindUpstreamUnavailable  ErrorKind = "upstream_unavailable"
	KindUpstreamRejected     ErrorKind = "upstream_rejected"
	KindMalformedResponse    ErrorKind = "malformed_response"
	KindValidationParseError ErrorKind = "validation_parse_error"
	KindDescriptionFailure   ErrorKind = "description_failure"
	KindValidationRejected   ErrorKind = "validation_rejected"
	KindCancelled            ErrorKind = "cancelled"
)

// Error は ErrorKind を保持するエラーです。Op は失敗した操作名（例: "gemini.edit"）です。
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError は Kind 付きのエラーを作成します。
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf は書式付きメッセージから Kind 付きのエラーを作成します。
func Errorf(kind ErrorKind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf はエラーチェーンから ErrorKind を取り出します。
// 分類されていないエラーはコンテキストのキャンセルを除き UpstreamUnavailable として扱います。
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindUpstreamUnavailable
}

// severity は複数のエラーが同時に起きたときにどちらを報告するかの順位です。
var severity = map[ErrorKind]int{
	KindCancelled:            6,
	KindInvalidRequest:       5,
	KindUpstreamUnavailable:  4,
	KindUpstreamRejected:     3,
	KindMalformedResponse:    2,
	KindValidationParseError: 1,
}

// MoreSevere は a と b のうち優先して報告すべき Kind を返します。
func MoreSevere(a, b ErrorKind) ErrorKind {
	if severity[b] > severity[a] {
		return b
	}
	return a
}

// FailureMessage は UI 層に表示するための文言です。上流の生のエラー文は含めません。
func FailureMessage(kind ErrorKind) string {
	switch kind {
	case KindInvalidRequest:
		return "The selected photos could not be used. Please choose different images."
	case KindUpstreamUnavailable:
		return "The image service is temporarily unavailable. Please try again later."
	case KindUpstreamRejected:
		return "The image service declined this request. Please try a different photo or pose."
	case KindMalformedResponse, KindValidationParseError:
		return "The image service returned an unexpected result. Please try again."
	case KindDescriptionFailure, KindValidationRejected:
		return "We couldn't create a convincing photo for this pose. Please try another pose."
	case KindCancelled:
		return "Generation was cancelled."
	default:
		return "Something went wrong. Please try again."
	}
}
