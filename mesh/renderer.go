package mesh

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// HistogramRenderer draws the residual distribution of a fit as a raster bar
// chart, stacking inliers below outliers in each bin.
type HistogramRenderer struct {
	Outcome FitOutcome
	Colors  PlotColors
	Bins    int
	Width   int
	Height  int
	Padding int
}

// NewHistogramRenderer creates a histogram renderer with default settings
func NewHistogramRenderer(outcome FitOutcome) *HistogramRenderer {
	return &HistogramRenderer{
		Outcome: outcome,
		Colors:  DefaultPlotColors(),
		Bins:    20,
		Width:   640,
		Height:  360,
		Padding: 30,
	}
}

// Residuals returns the transfer distance of every pair under the outcome's
// transform, in pair order.
func (o FitOutcome) Residuals() []float64 {
	eval := NewTransferDistance()
	eval.Bind(o.Transform)
	out := make([]float64, len(o.Pairs))
	eval.Distances(o.Pairs, out)
	return out
}

// binCounts splits residuals into Bins equal-width bins over [0, max].
func (r *HistogramRenderer) binCounts() (inlierCounts, outlierCounts []int, maxResidual float64) {
	bins := r.Bins
	if bins <= 0 {
		bins = 1
	}
	inlierCounts = make([]int, bins)
	outlierCounts = make([]int, bins)

	residuals := r.Outcome.Residuals()
	for _, v := range residuals {
		maxResidual = math.Max(maxResidual, v)
	}
	width := maxResidual / float64(bins)

	inliers := make(map[int]bool, len(r.Outcome.Inliers))
	for _, id := range r.Outcome.Inliers {
		inliers[id] = true
	}

	for i, v := range residuals {
		bin := 0
		if width > 0 {
			bin = int(v / width)
		}
		if bin >= bins {
			bin = bins - 1
		}
		if inliers[r.Outcome.Pairs[i].ID] {
			inlierCounts[bin]++
		} else {
			outlierCounts[bin]++
		}
	}
	return inlierCounts, outlierCounts, maxResidual
}

// Render draws the histogram
func (r *HistogramRenderer) Render() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			img.Set(x, y, color.White)
		}
	}

	inl, outl, maxResidual := r.binCounts()
	tallest := 0
	for i := range inl {
		if n := inl[i] + outl[i]; n > tallest {
			tallest = n
		}
	}

	plotW := r.Width - 2*r.Padding
	plotH := r.Height - 2*r.Padding
	if plotW <= 0 || plotH <= 0 || tallest == 0 {
		drawText(img, 10, r.Height/2, "no residuals", color.RGBA{0, 0, 0, 255})
		return img
	}

	barW := plotW / len(inl)
	baseline := r.Height - r.Padding
	for i := range inl {
		x0 := r.Padding + i*barW
		inH := inl[i] * plotH / tallest
		outH := outl[i] * plotH / tallest
		fillRect(img, x0+1, baseline-inH, x0+barW-1, baseline, r.Colors.Inlier)
		fillRect(img, x0+1, baseline-inH-outH, x0+barW-1, baseline-inH, r.Colors.Outlier)
	}

	// Axis
	fillRect(img, r.Padding, baseline, r.Width-r.Padding, baseline+1, color.NRGBA{0, 0, 0, 255})

	black := color.RGBA{0, 0, 0, 255}
	drawText(img, r.Padding, baseline+15, "0", black)
	drawText(img, r.Width-r.Padding-60, baseline+15, fmt.Sprintf("%.3g", maxResidual), black)
	drawText(img, r.Padding, 18, fmt.Sprintf("%s/%s  inliers %d/%d  metric %.4g",
		r.Outcome.Model, r.Outcome.Statistic, len(r.Outcome.Inliers), len(r.Outcome.Pairs), r.Outcome.ErrorMetric), black)
	return img
}

// RenderToPNG encodes the histogram as PNG
func (r *HistogramRenderer) RenderToPNG(w io.Writer) error {
	return png.Encode(w, r.Render())
}

func fillRect(img *image.RGBA, x0, y0, x1, y1 int, c color.NRGBA) {
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			img.Set(x, y, c)
		}
	}
}

// drawText renders text onto an image at the specified position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// RenderResidualHistogram writes the default histogram of o as PNG
func RenderResidualHistogram(o FitOutcome, w io.Writer) error {
	return NewHistogramRenderer(o).RenderToPNG(w)
}
