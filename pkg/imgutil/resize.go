package imgutil

import (
	"image"

	"golang.org/x/image/draw"
)

// FitWithin は長辺が maxEdge 以下になるようアスペクト比を保って縮小します。
// すでに収まっている場合は元の画像をそのまま返します。
func FitWithin(img image.Image, maxEdge int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxEdge <= 0 || (w <= maxEdge && h <= maxEdge) {
		return img
	}

	scale := float64(maxEdge) / float64(max(w, h))
	nw := max(1, int(float64(w)*scale))
	nh := max(1, int(float64(h)*scale))

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
