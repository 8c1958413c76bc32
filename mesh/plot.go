package mesh

import (
	"fmt"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// nrgbaToRGBA converts color.NRGBA to color.RGBA by premultiplying alpha
// This is needed for the canvas library which expects premultiplied RGBA
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{0, 0, 0, 0}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	alpha32 := uint32(c.A)
	return color.RGBA{
		R: uint8((uint32(c.R) * alpha32) / 255),
		G: uint8((uint32(c.G) * alpha32) / 255),
		B: uint8((uint32(c.B) * alpha32) / 255),
		A: c.A,
	}
}

// PlotColors are the colors used for correspondence plots
type PlotColors struct {
	Inlier  color.NRGBA
	Outlier color.NRGBA
	Target  color.NRGBA
	Grid    color.NRGBA
}

// DefaultPlotColors returns green inliers, red outliers and blue targets
func DefaultPlotColors() PlotColors {
	return PlotColors{
		Inlier:  color.NRGBA{34, 139, 34, 255},  // Forest green
		Outlier: color.NRGBA{220, 20, 60, 200},  // Crimson
		Target:  color.NRGBA{0, 0, 139, 255},    // Dark blue
		Grid:    color.NRGBA{128, 128, 128, 255}, // Gray
	}
}

// PlotRenderer draws a fit outcome as vector graphics: every correspondence is
// a segment from the transformed source to its target, colored by inlier
// status, with the target marked by a dot.
type PlotRenderer struct {
	Outcome     FitOutcome
	Colors      PlotColors
	Padding     float64           // Padding in world units
	MarkerSize  float64           // Target dot radius in world units; 0 derives it from the extent
	GridSpacing float64           // Grid line spacing in world units; 0 disables the grid
	Resolution  canvas.Resolution // Resolution for PNG output
}

// NewPlotRenderer creates a plot renderer with default settings
func NewPlotRenderer(outcome FitOutcome) *PlotRenderer {
	return &PlotRenderer{
		Outcome:    outcome,
		Colors:     DefaultPlotColors(),
		Resolution: canvas.DPI(25.4), // one pixel per world unit
	}
}

// canvasRenderer is an interface that both svg and rasterizer renderers implement
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// plotBounds is the world-space extent of a plot.
type plotBounds struct {
	minX, minY, maxX, maxY float64
}

func (b plotBounds) extent() float64 {
	return math.Max(b.maxX-b.minX, b.maxY-b.minY)
}

// RenderToSVG writes the plot as an SVG to the provided writer
func (r *PlotRenderer) RenderToSVG(w io.Writer) error {
	b, err := r.bounds()
	if err != nil {
		return err
	}
	pad := r.padding(b)
	width := (b.maxX - b.minX) + 2*pad
	height := (b.maxY - b.minY) + 2*pad

	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, b, pad, width, height)
	return svgRenderer.Close()
}

// RenderToPNG writes the plot as a PNG to the provided writer
func (r *PlotRenderer) RenderToPNG(w io.Writer) error {
	b, err := r.bounds()
	if err != nil {
		return err
	}
	pad := r.padding(b)
	width := (b.maxX - b.minX) + 2*pad
	height := (b.maxY - b.minY) + 2*pad

	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, b, pad, width, height)
	return png.Encode(w, rast)
}

func (r *PlotRenderer) padding(b plotBounds) float64 {
	if r.Padding > 0 {
		return r.Padding
	}
	return math.Max(b.extent()*0.05, 1)
}

// bounds covers every projected source and target.
func (r *PlotRenderer) bounds() (plotBounds, error) {
	if len(r.Outcome.Pairs) == 0 {
		return plotBounds{}, fmt.Errorf("plot: outcome has no correspondences")
	}
	b := plotBounds{
		minX: math.MaxFloat64, minY: math.MaxFloat64,
		maxX: -math.MaxFloat64, maxY: -math.MaxFloat64,
	}
	grow := func(p Point) {
		b.minX = math.Min(b.minX, p.X)
		b.minY = math.Min(b.minY, p.Y)
		b.maxX = math.Max(b.maxX, p.X)
		b.maxY = math.Max(b.maxY, p.Y)
	}
	for _, c := range r.Outcome.Pairs {
		grow(TransformPoint(c.Source, r.Outcome.Transform))
		grow(c.Target)
	}
	// A single point or a line still needs a non-zero canvas.
	if b.maxX-b.minX < 1 {
		b.maxX = b.minX + 1
	}
	if b.maxY-b.minY < 1 {
		b.maxY = b.minY + 1
	}
	return b, nil
}

// renderToCanvas renders the plot (shared logic for SVG and PNG)
func (r *PlotRenderer) renderToCanvas(renderer canvasRenderer, b plotBounds, pad, width, height float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	toCanvas := func(p Point) (float64, float64) {
		return (p.X - b.minX) + pad, (p.Y - b.minY) + pad
	}

	if r.GridSpacing > 0 {
		gridStyle := canvas.DefaultStyle
		gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		gridStyle.Stroke = canvas.Paint{Color: nrgbaToRGBA(r.Colors.Grid)}
		gridStyle.StrokeWidth = b.extent() / 500
		gridStyle.Dashes = []float64{b.extent() / 100, b.extent() / 100}

		for x := math.Floor(b.minX/r.GridSpacing) * r.GridSpacing; x <= b.maxX; x += r.GridSpacing {
			gridPath := &canvas.Path{}
			x1, y1 := toCanvas(Point{X: x, Y: b.minY})
			x2, y2 := toCanvas(Point{X: x, Y: b.maxY})
			gridPath.MoveTo(x1, y1)
			gridPath.LineTo(x2, y2)
			renderer.RenderPath(gridPath, gridStyle, canvas.Identity)
		}
		for y := math.Floor(b.minY/r.GridSpacing) * r.GridSpacing; y <= b.maxY; y += r.GridSpacing {
			gridPath := &canvas.Path{}
			x1, y1 := toCanvas(Point{X: b.minX, Y: y})
			x2, y2 := toCanvas(Point{X: b.maxX, Y: y})
			gridPath.MoveTo(x1, y1)
			gridPath.LineTo(x2, y2)
			renderer.RenderPath(gridPath, gridStyle, canvas.Identity)
		}
	}

	inliers := make(map[int]bool, len(r.Outcome.Inliers))
	for _, id := range r.Outcome.Inliers {
		inliers[id] = true
	}

	strokeWidth := b.extent() / 300
	marker := r.MarkerSize
	if marker <= 0 {
		marker = b.extent() / 150
	}

	// Outliers first so inliers stay on top
	for _, pass := range []bool{false, true} {
		lineStyle := canvas.DefaultStyle
		lineStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		lineStyle.StrokeWidth = strokeWidth
		if pass {
			lineStyle.Stroke = canvas.Paint{Color: nrgbaToRGBA(r.Colors.Inlier)}
		} else {
			lineStyle.Stroke = canvas.Paint{Color: nrgbaToRGBA(r.Colors.Outlier)}
		}

		for _, c := range r.Outcome.Pairs {
			if inliers[c.ID] != pass {
				continue
			}
			x1, y1 := toCanvas(TransformPoint(c.Source, r.Outcome.Transform))
			x2, y2 := toCanvas(c.Target)
			seg := &canvas.Path{}
			seg.MoveTo(x1, y1)
			seg.LineTo(x2, y2)
			renderer.RenderPath(seg, lineStyle, canvas.Identity)
		}
	}

	targetStyle := canvas.DefaultStyle
	targetStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(r.Colors.Target)}
	targetStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	for _, c := range r.Outcome.Pairs {
		cx, cy := toCanvas(c.Target)
		renderer.RenderPath(canvas.Circle(marker).Translate(cx, cy), targetStyle, canvas.Identity)
	}
}
