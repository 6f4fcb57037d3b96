package imgutil

import (
	"bytes"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
)

// CompressToJPEG は画像データ（PNG, GIF, JPEG等）をJPEG形式に圧縮します。
// maxEdge が 0 より大きい場合は長辺が maxEdge 以下になるよう縮小してからエンコードします。
func CompressToJPEG(data []byte, quality, maxEdge int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if maxEdge > 0 {
		img = FitWithin(img, maxEdge)
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ShrinkIfSmaller は圧縮結果が元データより小さい場合のみ圧縮後のデータと MIME を返します。
// デコードできない場合や大きくなる場合は元データをそのまま返します。
func ShrinkIfSmaller(data []byte, mimeType string, quality, maxEdge int) ([]byte, string) {
	compressed, err := CompressToJPEG(data, quality, maxEdge)
	if err != nil || len(compressed) >= len(data) {
		return data, mimeType
	}
	return compressed, "image/jpeg"
}
