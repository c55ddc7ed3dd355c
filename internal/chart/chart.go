// Package chart renders a WQI series as a PNG line chart over the CCME
// rating bands.
package chart

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"math"

	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/font"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/text"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/lox/wqiforecast/internal/models"
	"github.com/lox/wqiforecast/internal/wqi"
)

const DefaultTitle = "CCMEWQI Over Time (SARIMA Model)"

const (
	DefaultWidth  = 1200
	DefaultHeight = 700

	minWidth  = 200
	minHeight = 200
)

const (
	xLabel = "Time (Year - Season)"
	yLabel = "CCMEWQI"
)

var ErrNoPoints = errors.New("no points to plot")

// Point is one period on the x axis. A NaN WQI leaves a gap in the line.
type Point struct {
	Label    string
	WQI      float64
	Forecast bool
}

// FromResults builds chart points from stored results, which are already
// in period order.
func FromResults(results []models.WQIResult) []Point {
	pts := make([]Point, len(results))
	for i, r := range results {
		v := math.NaN()
		if r.WQI.Valid {
			v = r.WQI.Float64
		}
		pts[i] = Point{Label: r.Label, WQI: v, Forecast: r.HasForecast}
	}
	return pts
}

type Options struct {
	Width  int
	Height int
	Title  string
}

var (
	colLine     = color.RGBA{31, 119, 180, 255}
	colObserved = color.RGBA{31, 119, 180, 255}
	colForecast = color.RGBA{255, 127, 14, 255}
	colGrid     = color.RGBA{200, 200, 200, 255}
)

var bandColors = map[wqi.Rating]color.RGBA{
	wqi.RatingExcellent: {218, 240, 218, 255},
	wqi.RatingGood:      {232, 245, 214, 255},
	wqi.RatingFair:      {252, 248, 214, 255},
	wqi.RatingMarginal:  {253, 232, 210, 255},
	wqi.RatingPoor:      {250, 218, 218, 255},
}

// typeface is the Go font, registered with the plot font cache so charts
// do not depend on the Liberation default.
const typeface font.Typeface = "Go"

func init() {
	ttf, err := opentype.Parse(goregular.TTF)
	if err != nil {
		panic(fmt.Sprintf("chart: parse Go font: %v", err))
	}
	font.DefaultCache.Add(font.Collection{{Font: font.Font{Typeface: typeface}, Face: ttf}})
}

// Render draws the series and returns it PNG encoded.
func Render(points []Point, opts Options) ([]byte, error) {
	if len(points) == 0 {
		return nil, ErrNoPoints
	}
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.Title == "" {
		opts.Title = DefaultTitle
	}
	if opts.Width < minWidth || opts.Height < minHeight {
		return nil, fmt.Errorf("chart size %dx%d too small", opts.Width, opts.Height)
	}

	p, err := build(points, opts.Title)
	if err != nil {
		return nil, err
	}

	// one vg point per pixel
	c := vgimg.NewWith(vgimg.UseWH(vg.Length(opts.Width), vg.Length(opts.Height)), vgimg.UseDPI(72))
	p.Draw(draw.New(c))

	var buf bytes.Buffer
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func build(points []Point, title string) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel
	for _, sty := range []*text.Style{&p.Title.TextStyle, &p.X.Label.TextStyle, &p.Y.Label.TextStyle,
		&p.X.Tick.Label, &p.Y.Tick.Label, &p.Legend.TextStyle} {
		sty.Font.Typeface = typeface
	}

	lo, hi := yRange(points)
	left, right := -0.5, float64(len(points))-0.5

	top := hi
	for _, b := range wqi.Bands() {
		bottom := math.Max(b.Min, lo)
		if bottom >= top {
			continue
		}
		band, err := plotter.NewPolygon(plotter.XYs{{X: left, Y: bottom}, {X: right, Y: bottom}, {X: right, Y: top}, {X: left, Y: top}})
		if err != nil {
			return nil, fmt.Errorf("%s band: %w", b.Rating, err)
		}
		band.Color = bandColors[b.Rating]
		band.LineStyle.Width = 0
		p.Add(band)
		p.Legend.Add(string(b.Rating), band)
		top = bottom
	}

	grid := plotter.NewGrid()
	grid.Vertical.Color = colGrid
	grid.Vertical.Dashes = []vg.Length{vg.Points(3), vg.Points(3)}
	grid.Horizontal.Color = colGrid
	grid.Horizontal.Dashes = []vg.Length{vg.Points(3), vg.Points(3)}
	p.Add(grid)

	var observed, forecast plotter.XYs
	var segment plotter.XYs
	flush := func() error {
		if len(segment) > 1 {
			l, err := plotter.NewLine(segment)
			if err != nil {
				return fmt.Errorf("line: %w", err)
			}
			l.LineStyle.Color = colLine
			l.LineStyle.Width = vg.Points(1.5)
			p.Add(l)
		}
		segment = nil
		return nil
	}
	labels := make([]string, len(points))
	for i, pt := range points {
		labels[i] = pt.Label
		if math.IsNaN(pt.WQI) {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		xy := plotter.XY{X: float64(i), Y: pt.WQI}
		segment = append(segment, xy)
		if pt.Forecast {
			forecast = append(forecast, xy)
		} else {
			observed = append(observed, xy)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	for _, m := range []struct {
		name string
		xys  plotter.XYs
		col  color.RGBA
	}{
		{"Observed", observed, colObserved},
		{"Forecast", forecast, colForecast},
	} {
		if len(m.xys) == 0 {
			continue
		}
		s, err := plotter.NewScatter(m.xys)
		if err != nil {
			return nil, fmt.Errorf("%s markers: %w", m.name, err)
		}
		s.GlyphStyle.Shape = draw.CircleGlyph{}
		s.GlyphStyle.Radius = vg.Points(4)
		s.GlyphStyle.Color = m.col
		p.Add(s)
		p.Legend.Add(m.name, s)
	}

	p.NominalX(labels...)
	p.X.Tick.Label.Rotation = math.Pi / 2
	p.X.Tick.Label.XAlign = draw.XRight
	p.X.Tick.Label.YAlign = draw.YCenter
	p.X.Min, p.X.Max = left, right
	p.Y.Min, p.Y.Max = lo, hi
	p.Legend.Top = true
	p.Legend.Left = true

	return p, nil
}

// yRange spans the rating scale and extends below zero, to the next
// multiple of ten, when the series goes negative.
func yRange(points []Point) (lo, hi float64) {
	lo, hi = 0, 100
	for _, pt := range points {
		if !math.IsNaN(pt.WQI) && pt.WQI < lo {
			lo = pt.WQI
		}
	}
	return math.Floor(lo/10) * 10, hi
}
