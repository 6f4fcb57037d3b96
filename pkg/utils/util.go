package utils

import "unicode/utf8"

// ClampUnit は値を [0,1] に丸めます。丸めが発生した場合は clamped に true を返します。
// NaN は 0 として扱います。
func ClampUnit(v float64) (value float64, clamped bool) {
	switch {
	case v != v:
		return 0, true
	case v < 0:
		return 0, true
	case v > 1:
		return 1, true
	default:
		return v, false
	}
}

// TruncateText はログ用に文字列を maxRunes 文字で切り詰めます。
func TruncateText(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes]) + "..."
}
