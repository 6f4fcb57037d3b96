package domain

import "strings"

// ImageRef は画像への不透明なハンドルです。
// Data（バイナリ）か URI（http(s)://, gs://, data:, ローカルパス）のどちらか一方を持ちます。
type ImageRef struct {
	Data     []byte
	URI      string
	MimeType string
}

// NewImageFromBytes はバイナリから ImageRef を作成します。
func NewImageFromBytes(data []byte, mimeType string) ImageRef {
	return ImageRef{Data: data, MimeType: mimeType}
}

// NewImageFromURI は URI から ImageRef を作成します。MIME タイプは解決時に判定されます。
func NewImageFromURI(uri string) ImageRef {
	return ImageRef{URI: strings.TrimSpace(uri)}
}

// IsZero は画像が指定されていない場合に true を返します。
func (r ImageRef) IsZero() bool {
	return len(r.Data) == 0 && strings.TrimSpace(r.URI) == ""
}

// IsInline はバイナリを直接保持しているかどうかを返します。
func (r ImageRef) IsInline() bool {
	return len(r.Data) > 0
}

// String はログ出力用の短い表現です。バイナリの中身は出力しません。
func (r ImageRef) String() string {
	switch {
	case r.IsInline():
		return "inline:" + r.MimeType
	case strings.HasPrefix(r.URI, "data:"):
		return "data-uri"
	case r.URI != "":
		return r.URI
	default:
		return "<empty>"
	}
}

// Ptr は ImageRef のポインタを返します。ゼロ値の場合は nil です。
func (r ImageRef) Ptr() *ImageRef {
	if r.IsZero() {
		return nil
	}
	return &r
}
