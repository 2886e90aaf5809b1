package render

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/menta2k/bbox-annotator/pkg/types"
)

// Rasterize paints shapes over img. The first ShapeImage entry decides where the
// zoomed image lands; the canvas is sized to hold it.
func Rasterize(img image.Image, shapes []Shape) *image.NRGBA {
	var bg types.Rect
	for _, s := range shapes {
		if s.Kind == ShapeImage {
			bg = s.Rect
			break
		}
	}
	w := int(math.Ceil(math.Max(bg.X+bg.Width, 1)))
	h := int(math.Ceil(math.Max(bg.Y+bg.Height, 1)))
	dst := imaging.New(w, h, color.NRGBA{255, 255, 255, 255})

	if img != nil && bg.Width >= 1 && bg.Height >= 1 {
		scaled := imaging.Resize(img, int(math.Round(bg.Width)), int(math.Round(bg.Height)), imaging.Lanczos)
		dst = imaging.Paste(dst, scaled, image.Pt(int(math.Round(bg.X)), int(math.Round(bg.Y))))
	}

	for _, s := range shapes {
		switch s.Kind {
		case ShapeBox:
			if s.Fill != "" {
				fillRect(dst, s.Rect, ParseColor(s.Fill))
			}
			strokeRect(dst, s.Rect, ParseColor(s.Stroke), s.StrokeWidth, s.Dash)
		case ShapeHandle:
			fillRect(dst, s.Rect, ParseColor(s.Fill))
			strokeRect(dst, s.Rect, ParseColor(s.Stroke), s.StrokeWidth, nil)
		case ShapeTag:
			fillRect(dst, s.Rect, ParseColor(s.Fill))
			drawText(dst, s.Text, int(s.Rect.X)+4, int(s.Rect.Y+s.Rect.Height)-4)
		case ShapeDraft:
			fillRect(dst, s.Rect, ParseColor(s.Fill))
			strokeRect(dst, s.Rect, ParseColor(s.Stroke), s.StrokeWidth, nil)
		}
	}
	return dst
}

// Encode writes img as png, jpg or webp
func Encode(w io.Writer, img image.Image, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		return webp.Encode(w, img, &webp.Options{Lossless: lossless, Quality: float32(quality)})
	case "png":
		return imaging.Encode(w, img, imaging.PNG)
	case "jpg", "jpeg", "":
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	}
	return fmt.Errorf("unsupported image format %q", format)
}

// ParseColor reads #RGB, #RRGGBB or #RRGGBBAA. Anything else is the default stroke color.
func ParseColor(s string) color.NRGBA {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if len(hex) != 8 || err != nil {
		return color.NRGBA{0x39, 0xff, 0x14, 0xff}
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}
}

func pixelRect(r types.Rect) image.Rectangle {
	return image.Rect(
		int(math.Round(r.X)), int(math.Round(r.Y)),
		int(math.Round(r.X+r.Width)), int(math.Round(r.Y+r.Height)),
	)
}

func fillRect(dst *image.NRGBA, r types.Rect, c color.NRGBA) {
	if c.A == 0 {
		return
	}
	draw.Draw(dst, pixelRect(r).Intersect(dst.Bounds()), image.NewUniform(c), image.Point{}, draw.Over)
}

// strokeRect draws the outline inside r. A dash pattern alternates on/off lengths in pixels.
func strokeRect(dst *image.NRGBA, r types.Rect, c color.NRGBA, width float64, dash []float64) {
	lw := int(math.Max(1, math.Round(width)))
	pr := pixelRect(r)
	for i := 0; i < lw; i++ {
		hLine(dst, pr.Min.X, pr.Max.X, pr.Min.Y+i, c, dash)
		hLine(dst, pr.Min.X, pr.Max.X, pr.Max.Y-1-i, c, dash)
		vLine(dst, pr.Min.X+i, pr.Min.Y, pr.Max.Y, c, dash)
		vLine(dst, pr.Max.X-1-i, pr.Min.Y, pr.Max.Y, c, dash)
	}
}

func dashOn(pos int, dash []float64) bool {
	if len(dash) < 2 {
		return true
	}
	period := 0.0
	for _, d := range dash {
		period += d
	}
	if period <= 0 {
		return true
	}
	off := math.Mod(float64(pos), period)
	for i, d := range dash {
		if off < d {
			return i%2 == 0
		}
		off -= d
	}
	return true
}

func hLine(dst *image.NRGBA, x0, x1, y int, c color.NRGBA, dash []float64) {
	b := dst.Bounds()
	if y < b.Min.Y || y >= b.Max.Y {
		return
	}
	for x := max(x0, b.Min.X); x < min(x1, b.Max.X); x++ {
		if dashOn(x-x0, dash) {
			dst.SetNRGBA(x, y, c)
		}
	}
}

func vLine(dst *image.NRGBA, x, y0, y1 int, c color.NRGBA, dash []float64) {
	b := dst.Bounds()
	if x < b.Min.X || x >= b.Max.X {
		return
	}
	for y := max(y0, b.Min.Y); y < min(y1, b.Max.Y); y++ {
		if dashOn(y-y0, dash) {
			dst.SetNRGBA(x, y, c)
		}
	}
}

func drawText(dst *image.NRGBA, text string, x, y int) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
