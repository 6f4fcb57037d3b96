package imgutil

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNotImage は画像として解釈できないデータを表します。
var ErrNotImage = errors.New("imgutil: data is not an image")

// DetectImageMIME はデータの先頭から MIME タイプを判定し、画像でなければ ErrNotImage を返します。
func DetectImageMIME(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrNotImage
	}
	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		return "", fmt.Errorf("%w: detected %s", ErrNotImage, mimeType)
	}
	return mimeType, nil
}

// EncodeDataURI はバイナリを data: URI に変換します。
func EncodeDataURI(data []byte, mimeType string) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURI は base64 形式の data: URI をデコードします。
func DecodeDataURI(uri string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, "", fmt.Errorf("imgutil: not a data URI")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", fmt.Errorf("imgutil: data URI has no payload")
	}
	mimeType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return nil, "", fmt.Errorf("imgutil: only base64 data URIs are supported")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("imgutil: invalid base64 payload: %w", err)
	}
	return data, mimeType, nil
}

// ExtensionFor は MIME タイプに対応するファイル拡張子を返します。不明な場合は ".jpg" です。
func ExtensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}
