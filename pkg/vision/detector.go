// Package vision proposes candidate boxes from local contrast so a session can
// start with regions already outlined.
package vision

import (
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"

	"github.com/menta2k/bbox-annotator/pkg/types"
)

// Proposer finds high-contrast regions with a sliding window over an edge map
type Proposer struct {
	config Config
}

// Config holds configuration for region proposals
type Config struct {
	// EdgeThreshold is the minimum mean edge strength (0..1) of a window
	EdgeThreshold float64
	// MinRegionRatio is the minimum window area relative to the image
	MinRegionRatio float64
	MaxRegions     int
	// MaxOverlap drops a window whose IoU with a better one exceeds it
	MaxOverlap float64
	// WorkSize is the long side the image is reduced to before scanning
	WorkSize int
}

// DefaultConfig returns thresholds tuned for photos around 1000px wide
func DefaultConfig() Config {
	return Config{
		EdgeThreshold:  0.01,
		MinRegionRatio: 0.005,
		MaxRegions:     10,
		MaxOverlap:     0.3,
		WorkSize:       256,
	}
}

// New creates a proposer. Zero fields fall back to DefaultConfig.
func New(config Config) *Proposer {
	def := DefaultConfig()
	if config.EdgeThreshold <= 0 {
		config.EdgeThreshold = def.EdgeThreshold
	}
	if config.MaxRegions <= 0 {
		config.MaxRegions = def.MaxRegions
	}
	if config.MaxOverlap <= 0 {
		config.MaxOverlap = def.MaxOverlap
	}
	if config.WorkSize <= 0 {
		config.WorkSize = def.WorkSize
	}
	return &Proposer{config: config}
}

// Region is a proposed box in image space
type Region struct {
	Rect  types.Rect
	Score float64
}

// Propose returns up to MaxRegions non-overlapping regions, best first
func (p *Proposer) Propose(img image.Image) []Region {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		return nil
	}

	scale := 1.0
	work := imaging.Grayscale(img)
	if long := max(w, h); long > p.config.WorkSize {
		scale = float64(long) / float64(p.config.WorkSize)
		work = imaging.Resize(work, int(float64(w)/scale), int(float64(h)/scale), imaging.Box)
	}

	sat := integral(edgeMap(work))
	candidates := p.scan(sat, work.Bounds().Dx(), work.Bounds().Dy())
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	var out []Region
	for _, c := range candidates {
		if len(out) == p.config.MaxRegions {
			break
		}
		keep := true
		for _, o := range out {
			if iou(c.Rect, o.Rect) > p.config.MaxOverlap {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, c)
		}
	}

	for i := range out {
		r := out[i].Rect
		out[i].Rect = types.Rect{X: r.X * scale, Y: r.Y * scale, Width: r.Width * scale, Height: r.Height * scale}
	}
	return out
}

// ProposeBoxes returns proposals as unlabelled initial boxes
func (p *Proposer) ProposeBoxes(img image.Image) []types.InitialBox {
	regions := p.Propose(img)
	out := make([]types.InitialBox, 0, len(regions))
	for _, r := range regions {
		out = append(out, types.InitialBox{BBox: [4]float64{
			math.Round(r.Rect.X), math.Round(r.Rect.Y),
			math.Round(r.Rect.Width), math.Round(r.Rect.Height),
		}})
	}
	return out
}

func (p *Proposer) scan(sat [][]float64, width, height int) []Region {
	short := min(width, height)
	minArea := p.config.MinRegionRatio * float64(width*height)

	var regions []Region
	for _, div := range []int{8, 6, 4, 3, 2} {
		size := short / div
		if size < 8 {
			continue
		}
		step := max(size/4, 1)
		if float64(size*size) < minArea {
			continue
		}
		for y := 0; y+size <= height; y += step {
			for x := 0; x+size <= width; x += step {
				score := windowMean(sat, x, y, size, size)
				if score > p.config.EdgeThreshold {
					regions = append(regions, Region{
						Rect:  types.Rect{X: float64(x), Y: float64(y), Width: float64(size), Height: float64(size)},
						Score: score,
					})
				}
			}
		}
	}
	return regions
}

// edgeMap is the mean absolute luminance difference to the 8 neighbours, in 0..1
func edgeMap(g *image.NRGBA) [][]float64 {
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	lum := func(x, y int) float64 {
		return float64(g.Pix[y*g.Stride+x*4]) / 255
	}
	out := make([][]float64, h)
	for y := range out {
		out[y] = make([]float64, w)
	}
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			c := lum(x, y)
			var sum float64
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx != 0 || dy != 0 {
						sum += math.Abs(c - lum(x+dx, y+dy))
					}
				}
			}
			out[y][x] = sum / 8
		}
	}
	return out
}

// integral builds a summed-area table with a zero first row and column
func integral(m [][]float64) [][]float64 {
	h := len(m)
	w := 0
	if h > 0 {
		w = len(m[0])
	}
	sat := make([][]float64, h+1)
	for y := range sat {
		sat[y] = make([]float64, w+1)
	}
	for y := 1; y <= h; y++ {
		for x := 1; x <= w; x++ {
			sat[y][x] = m[y-1][x-1] + sat[y-1][x] + sat[y][x-1] - sat[y-1][x-1]
		}
	}
	return sat
}

func windowMean(sat [][]float64, x, y, w, h int) float64 {
	sum := sat[y+h][x+w] - sat[y][x+w] - sat[y+h][x] + sat[y][x]
	return sum / float64(w*h)
}

func iou(a, b types.Rect) float64 {
	ix := math.Max(0, math.Min(a.Right(), b.Right())-math.Max(a.X, b.X))
	iy := math.Max(0, math.Min(a.Bottom(), b.Bottom())-math.Max(a.Y, b.Y))
	inter := ix * iy
	union := a.Width*a.Height + b.Width*b.Height - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
