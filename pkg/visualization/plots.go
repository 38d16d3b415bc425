package visualization

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"strconv"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
)

// Chart sizes and plot area insets in pixels
const (
	ChartWidth  = 600
	ChartHeight = 500

	plotLeft   = 56
	plotRight  = 16
	plotTop    = 44
	plotBottom = 40
	tickLength = 4
	ticks      = 5
	lineWidth  = 2
	dashOn     = 6
	dashOff    = 4
	legendLine = 24
	legendRow  = 16
)

// Colours of the default series cycle
var (
	Blue       = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	Orange     = color.RGBA{R: 255, G: 127, B: 14, A: 255}
	Green      = color.RGBA{R: 44, G: 160, B: 44, A: 255}
	Red        = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	Purple     = color.RGBA{R: 148, G: 103, B: 189, A: 255}
	Brown      = color.RGBA{R: 140, G: 86, B: 75, A: 255}
	Navy       = color.RGBA{B: 128, A: 255}
	DarkOrange = color.RGBA{R: 255, G: 140, A: 255}

	axisColor = color.RGBA{A: 255}
	gridColor = color.RGBA{R: 225, G: 225, B: 225, A: 255}
)

var palette = []color.RGBA{Blue, Orange, Green, Red, Purple, Brown}

// Palette returns the i-th colour of the series cycle
func Palette(i int) color.RGBA {
	return palette[((i%len(palette))+len(palette))%len(palette)]
}

// Legend placement inside the plot area
type Legend int

const (
	LegendUpperRight Legend = iota
	LegendLowerRight
	LegendNone
)

// Series is one polyline of a chart. Points with a non-finite coordinate
// break the line.
type Series struct {
	Label  string
	X, Y   []float64
	Color  color.RGBA
	Dashed bool
}

// Chart is a single line plot. A zero range is derived from the data.
type Chart struct {
	Title  string
	XLabel string
	YLabel string
	Series []Series

	XRange [2]float64
	YRange [2]float64
	Legend Legend

	// Width and Height default to ChartWidth and ChartHeight
	Width, Height int
}

// EpochSeries builds a series over epochs 1..len(values)
func EpochSeries(label string, values []float64, c color.RGBA, dashed bool) Series {
	x := make([]float64, len(values))
	for i := range x {
		x[i] = float64(i + 1)
	}
	return Series{Label: label, X: x, Y: values, Color: c, Dashed: dashed}
}

// Row renders charts next to each other on one white canvas
func Row(charts ...Chart) *image.RGBA {
	width, height := 0, 0
	rendered := make([]*image.RGBA, len(charts))
	for i, c := range charts {
		rendered[i] = c.Render()
		width += rendered[i].Bounds().Dx()
		height = max(height, rendered[i].Bounds().Dy())
	}
	canvas := image.NewRGBA(image.Rect(0, 0, max(width, 1), max(height, 1)))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
	x := 0
	for _, img := range rendered {
		b := img.Bounds()
		draw.Draw(canvas, image.Rect(x, 0, x+b.Dx(), b.Dy()), img, b.Min, draw.Src)
		x += b.Dx()
	}
	return canvas
}

// Render draws the chart
func (c Chart) Render() *image.RGBA {
	w, h := c.Width, c.Height
	if w <= 0 {
		w = ChartWidth
	}
	if h <= 0 {
		h = ChartHeight
	}
	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)

	area := image.Rect(plotLeft, plotTop, w-plotRight, h-plotBottom)
	if area.Dx() < 2 || area.Dy() < 2 {
		return canvas
	}
	xr, yr := c.ranges()
	toPixel := func(x, y float64) (int, int) {
		px := float64(area.Min.X) + (x-xr[0])/(xr[1]-xr[0])*float64(area.Dx()-1)
		py := float64(area.Max.Y-1) - (y-yr[0])/(yr[1]-yr[0])*float64(area.Dy()-1)
		return int(math.Round(px)), int(math.Round(py))
	}

	drawText(canvas, c.Title, (w-textWidth(c.Title))/2, 16)
	drawText(canvas, c.YLabel, 8, plotTop-10)
	drawText(canvas, c.XLabel, area.Min.X+(area.Dx()-textWidth(c.XLabel))/2, h-8)
	c.drawAxes(canvas, area, xr, yr, toPixel)

	for _, s := range c.Series {
		plotSeries(canvas, area, s, toPixel)
	}
	if c.Legend != LegendNone {
		c.drawLegend(canvas, area)
	}
	return canvas
}

// ranges returns the axis bounds, padding derived ranges by 5%
func (c Chart) ranges() (xr, yr [2]float64) {
	xr, yr = c.XRange, c.YRange
	autoX, autoY := xr[0] == xr[1], yr[0] == yr[1]
	if !autoX && !autoY {
		return xr, yr
	}
	xlo, xhi := math.Inf(1), math.Inf(-1)
	ylo, yhi := math.Inf(1), math.Inf(-1)
	for _, s := range c.Series {
		for i := 0; i < min(len(s.X), len(s.Y)); i++ {
			if !finite(s.X[i]) || !finite(s.Y[i]) {
				continue
			}
			xlo, xhi = math.Min(xlo, s.X[i]), math.Max(xhi, s.X[i])
			ylo, yhi = math.Min(ylo, s.Y[i]), math.Max(yhi, s.Y[i])
		}
	}
	if autoX {
		xr = pad(xlo, xhi)
	}
	if autoY {
		yr = pad(ylo, yhi)
	}
	return xr, yr
}

func pad(lo, hi float64) [2]float64 {
	if lo > hi {
		return [2]float64{0, 1}
	}
	if lo == hi {
		return [2]float64{lo - 0.5, hi + 0.5}
	}
	d := (hi - lo) * 0.05
	return [2]float64{lo - d, hi + d}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (c Chart) drawAxes(dst *image.RGBA, area image.Rectangle, xr, yr [2]float64, toPixel func(x, y float64) (int, int)) {
	for i := 0; i < ticks; i++ {
		f := float64(i) / float64(ticks-1)
		xv := xr[0] + f*(xr[1]-xr[0])
		yv := yr[0] + f*(yr[1]-yr[0])
		px, _ := toPixel(xv, yr[0])
		_, py := toPixel(xr[0], yv)

		drawLine(dst, px, area.Min.Y, px, area.Max.Y-1, gridColor, 1, false)
		drawLine(dst, area.Min.X, py, area.Max.X-1, py, gridColor, 1, false)
		drawLine(dst, px, area.Max.Y, px, area.Max.Y+tickLength, axisColor, 1, false)
		drawLine(dst, area.Min.X-tickLength, py, area.Min.X-1, py, axisColor, 1, false)

		xt, yt := tickLabel(xv), tickLabel(yv)
		drawText(dst, xt, px-textWidth(xt)/2, area.Max.Y+tickLength+12)
		drawText(dst, yt, area.Min.X-tickLength-2-textWidth(yt), py+4)
	}
	drawFrame(dst, area, axisColor)
}

func drawFrame(dst *image.RGBA, r image.Rectangle, c color.RGBA) {
	drawLine(dst, r.Min.X, r.Min.Y, r.Max.X-1, r.Min.Y, c, 1, false)
	drawLine(dst, r.Min.X, r.Max.Y-1, r.Max.X-1, r.Max.Y-1, c, 1, false)
	drawLine(dst, r.Min.X, r.Min.Y, r.Min.X, r.Max.Y-1, c, 1, false)
	drawLine(dst, r.Max.X-1, r.Min.Y, r.Max.X-1, r.Max.Y-1, c, 1, false)
}

func tickLabel(v float64) string {
	if math.Abs(v) < 1e-12 {
		v = 0
	}
	return strconv.FormatFloat(v, 'g', 3, 64)
}

func plotSeries(dst *image.RGBA, area image.Rectangle, s Series, toPixel func(x, y float64) (int, int)) {
	clip := dst.SubImage(area).(*image.RGBA)
	n := min(len(s.X), len(s.Y))
	prevOK := false
	var px, py int
	for i := 0; i < n; i++ {
		if !finite(s.X[i]) || !finite(s.Y[i]) {
			prevOK = false
			continue
		}
		x, y := toPixel(s.X[i], s.Y[i])
		if prevOK {
			drawLine(clip, px, py, x, y, s.Color, lineWidth, s.Dashed)
		} else {
			drawLine(clip, x, y, x, y, s.Color, lineWidth, false)
		}
		px, py, prevOK = x, y, true
	}
}

func (c Chart) drawLegend(dst *image.RGBA, area image.Rectangle) {
	var labels []Series
	width := 0
	for _, s := range c.Series {
		if s.Label != "" {
			labels = append(labels, s)
			width = max(width, textWidth(s.Label))
		}
	}
	if len(labels) == 0 {
		return
	}
	boxW := legendLine + 12 + width + 8
	boxH := len(labels)*legendRow + 8
	x0 := area.Max.X - boxW - 8
	y0 := area.Min.Y + 8
	if c.Legend == LegendLowerRight {
		y0 = area.Max.Y - boxH - 8
	}
	box := image.Rect(x0, y0, x0+boxW, y0+boxH)
	draw.Draw(dst, box, image.White, image.Point{}, draw.Src)
	drawFrame(dst, box, gridColor)
	for i, s := range labels {
		y := y0 + 4 + i*legendRow + legendRow/2
		drawLine(dst, x0+6, y, x0+6+legendLine, y, s.Color, lineWidth, s.Dashed)
		drawText(dst, s.Label, x0+6+legendLine+6, y+4)
	}
}

func textWidth(text string) int {
	return font.MeasureString(basicfont.Face7x13, text).Round()
}

// drawLine draws a Bresenham line of the given thickness clipped to dst.
// Dashed lines alternate dashOn drawn and dashOff skipped steps.
func drawLine(dst *image.RGBA, x1, y1, x2, y2 int, c color.RGBA, thickness int, dashed bool) {
	bounds := dst.Bounds()
	dx, dy := abs(x2-x1), abs(y2-y1)
	sx, sy := 1, 1
	if x1 > x2 {
		sx = -1
	}
	if y1 > y2 {
		sy = -1
	}
	err := dx - dy
	for step := 0; ; step++ {
		if !dashed || step%(dashOn+dashOff) < dashOn {
			for t := -thickness / 2; t <= (thickness-1)/2; t++ {
				for s := -thickness / 2; s <= (thickness-1)/2; s++ {
					if p := image.Pt(x1+s, y1+t); p.In(bounds) {
						dst.SetRGBA(p.X, p.Y, c)
					}
				}
			}
		}
		if x1 == x2 && y1 == y2 {
			break
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x1 += sx
		}
		if e2 < dx {
			err += dx
			y1 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
