package host

import (
	"fmt"
	"math"
	"strings"
)

// hueSpan keeps the last label short of wrapping back to red
const hueSpan = 300.0

// ColorMap assigns each distinct label a color from a red-to-magenta sweep,
// in order of first appearance. Blank labels are skipped.
func ColorMap(labels []string) map[string]string {
	uniq := make([]string, 0, len(labels))
	seen := map[string]bool{}
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		uniq = append(uniq, l)
	}

	out := make(map[string]string, len(uniq))
	for i, l := range uniq {
		out[l] = hueHex(hueSpan * float64(i) / float64(len(uniq)))
	}
	return out
}

// hueHex converts a fully saturated, full value hue in degrees to #rrggbb
func hueHex(h float64) string {
	h = math.Mod(h, 360)
	x := 1 - math.Abs(math.Mod(h/60, 2)-1)
	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = 1, x, 0
	case h < 120:
		r, g, b = x, 1, 0
	case h < 180:
		r, g, b = 0, 1, x
	case h < 240:
		r, g, b = 0, x, 1
	case h < 300:
		r, g, b = x, 0, 1
	default:
		r, g, b = 1, 0, x
	}
	return fmt.Sprintf("#%02x%02x%02x", channel(r), channel(g), channel(b))
}

func channel(v float64) uint8 {
	return uint8(math.Round(v * 255))
}
