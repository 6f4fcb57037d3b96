package imgutil

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// sheetGap はパネル間の余白（ピクセル）です。
const sheetGap = 8

// ComposeSheet は複数の画像を同じ高さにそろえ、左から順に横一列に並べた PNG を返します。
// 高さは最も低い画像に合わせ、maxHeight が正ならそれ以下に抑えます。
func ComposeSheet(images [][]byte, maxHeight int) ([]byte, error) {
	if len(images) == 0 {
		return nil, errors.New("画像がありません")
	}

	panels := make([]image.Image, 0, len(images))
	height := 0
	for i, data := range images {
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%d枚目の画像をデコードできません: %w", i+1, err)
		}
		h := img.Bounds().Dy()
		if h <= 0 || img.Bounds().Dx() <= 0 {
			return nil, fmt.Errorf("%d枚目の画像が空です", i+1)
		}
		if height == 0 || h < height {
			height = h
		}
		panels = append(panels, img)
	}
	if maxHeight > 0 && height > maxHeight {
		height = maxHeight
	}

	widths := make([]int, len(panels))
	total := sheetGap * (len(panels) - 1)
	for i, img := range panels {
		b := img.Bounds()
		widths[i] = max(1, b.Dx()*height/b.Dy())
		total += widths[i]
	}

	dst := image.NewRGBA(image.Rect(0, 0, total, height))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	x := 0
	for i, img := range panels {
		draw.CatmullRom.Scale(dst, image.Rect(x, 0, x+widths[i], height), img, img.Bounds(), draw.Over, nil)
		x += widths[i] + sheetGap
	}

	buf := new(bytes.Buffer)
	if err := png.Encode(buf, dst); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
