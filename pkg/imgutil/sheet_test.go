package imgutil

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	buf := new(bytes.Buffer)
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func TestComposeSheet(t *testing.T) {
	red := encodePNG(t, 40, 20, color.RGBA{R: 255, A: 255})
	blue := encodePNG(t, 30, 60, color.RGBA{B: 255, A: 255})

	t.Run("低い方の高さにそろえて左から並べるのだ", func(t *testing.T) {
		out, err := ComposeSheet([][]byte{red, blue}, 0)
		require.NoError(t, err)

		img, err := png.Decode(bytes.NewReader(out))
		require.NoError(t, err)
		assert.Equal(t, 40+sheetGap+10, img.Bounds().Dx())
		assert.Equal(t, 20, img.Bounds().Dy())

		r, _, b, _ := img.At(5, 10).RGBA()
		assert.Greater(t, r, b, "左端は1枚目なのだ")
		r, _, b, _ = img.At(40+sheetGap+5, 10).RGBA()
		assert.Greater(t, b, r, "右側は2枚目なのだ")
	})

	t.Run("maxHeight で高さを抑えるのだ", func(t *testing.T) {
		out, err := ComposeSheet([][]byte{red, blue}, 10)
		require.NoError(t, err)

		img, err := png.Decode(bytes.NewReader(out))
		require.NoError(t, err)
		assert.Equal(t, 20+sheetGap+5, img.Bounds().Dx())
		assert.Equal(t, 10, img.Bounds().Dy())
	})

	t.Run("デコードできない画像や空の入力はエラーなのだ", func(t *testing.T) {
		_, err := ComposeSheet([][]byte{red, []byte("not an image")}, 0)
		assert.ErrorContains(t, err, "2枚目")

		_, err = ComposeSheet(nil, 0)
		assert.Error(t, err)
	})
}
