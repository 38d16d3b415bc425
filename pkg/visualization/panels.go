// Package visualization renders prediction results as PNG panels: the original
// image next to its probability mask, and an enhanced three-panel view with a
// jet heat-map of the raw probabilities.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"path/filepath"
	"strings"

	"github.com/nfnt/resize"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"siperea/pkg/imageio"
	"siperea/pkg/tiling"
)

// Layout constants in pixels
const (
	margin      = 10
	titleHeight = 20
	barWidth    = 16
	barGap      = 6
	barLabel    = 28
)

// Panel titles
const (
	TitleOriginal   = "Original Image"
	TitlePrediction = "Prediction Mask"
	TitleRaw        = "Raw Prediction (Probability)"
	TitleBinary     = "Final Binary Mask"
)

// VisualizationFile names the side-by-side figure of an input image
func VisualizationFile(imagePath string) string {
	return "visualization_" + baseName(imagePath) + ".png"
}

// EnhancedFile names the three-panel figure of an input image
func EnhancedFile(imagePath string) string {
	return "enhanced_viz_" + baseName(imagePath) + ".png"
}

func baseName(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// Renderer composes figures. Panels taller than MaxPanelHeight are downscaled;
// zero keeps full resolution.
type Renderer struct {
	MaxPanelHeight int
}

// SideBySide renders the original image and the grayscale probability map
func (r Renderer) SideBySide(original image.Image, probs *tiling.ProbabilityMap) image.Image {
	return r.compose([]panel{
		{title: TitleOriginal, img: r.fit(original)},
		{title: TitlePrediction, img: r.fit(imageio.GrayFromValues(probs.Values, probs.Width, probs.Height))},
	})
}

// Enhanced renders the original, the jet heat-map with a colour bar and the binary mask
func (r Renderer) Enhanced(original image.Image, probs *tiling.ProbabilityMap, mask *image.Gray) image.Image {
	return r.compose([]panel{
		{title: TitleOriginal, img: r.fit(original)},
		{title: TitleRaw, img: r.fit(HeatMap(probs)), colorbar: true},
		{title: TitleBinary, img: r.fit(mask)},
	})
}

// Save writes a figure as PNG into dir
func Save(dir, name string, img image.Image) error {
	if err := imageio.SavePNG(filepath.Join(dir, name), img); err != nil {
		return fmt.Errorf("failed to save %s: %w", name, err)
	}
	return nil
}

type panel struct {
	title    string
	img      image.Image
	colorbar bool
}

func (p panel) width() int {
	w := p.img.Bounds().Dx()
	if p.colorbar {
		w += barGap + barWidth + barLabel
	}
	return w
}

// fit downscales img to the panel height limit
func (r Renderer) fit(img image.Image) image.Image {
	h := img.Bounds().Dy()
	if r.MaxPanelHeight <= 0 || h <= r.MaxPanelHeight {
		return img
	}
	return resize.Resize(0, uint(r.MaxPanelHeight), img, resize.Bilinear)
}

func (r Renderer) compose(panels []panel) image.Image {
	width, height := margin, 0
	for _, p := range panels {
		width += p.width() + margin
		height = max(height, p.img.Bounds().Dy())
	}
	height += titleHeight + margin

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)

	x := margin
	for _, p := range panels {
		b := p.img.Bounds()
		dst := image.Rect(x, titleHeight, x+b.Dx(), titleHeight+b.Dy())
		draw.Draw(canvas, dst, p.img, b.Min, draw.Src)
		drawText(canvas, p.title, x, titleHeight-6)
		if p.colorbar {
			drawColorbar(canvas, image.Rect(dst.Max.X+barGap, dst.Min.Y, dst.Max.X+barGap+barWidth, dst.Max.Y))
		}
		x += p.width() + margin
	}
	return canvas
}

func drawText(dst draw.Image, text string, x, baseline int) {
	d := font.Drawer{
		Dst:  dst,
		Src:  image.Black,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, baseline),
	}
	d.DrawString(text)
}

// drawColorbar fills rect with the jet scale, 1 at the top, and labels the ends
func drawColorbar(dst *image.RGBA, rect image.Rectangle) {
	h := rect.Dy()
	for y := 0; y < h; y++ {
		v := 1.0
		if h > 1 {
			v = 1 - float64(y)/float64(h-1)
		}
		c := Jet(v)
		for x := rect.Min.X; x < rect.Max.X; x++ {
			dst.SetRGBA(x, rect.Min.Y+y, c)
		}
	}
	drawText(dst, "1.0", rect.Max.X+2, rect.Min.Y+10)
	drawText(dst, "0.0", rect.Max.X+2, rect.Max.Y)
}

// Jet maps v in [0,1] to the jet colour scale, dark blue through green to dark red
func Jet(v float64) color.RGBA {
	v = math.Max(0, math.Min(1, v))
	channel := func(offset float64) uint8 {
		c := 1.5 - math.Abs(4*v-offset)
		c = math.Max(0, math.Min(1, c))
		return uint8(math.Round(c * 255))
	}
	return color.RGBA{R: channel(3), G: channel(2), B: channel(1), A: 255}
}

// HeatMap colours a probability map with Jet
func HeatMap(probs *tiling.ProbabilityMap) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, probs.Width, probs.Height))
	for i, v := range probs.Values {
		c := Jet(float64(v))
		img.Pix[4*i] = c.R
		img.Pix[4*i+1] = c.G
		img.Pix[4*i+2] = c.B
		img.Pix[4*i+3] = 255
	}
	return img
}
