// Package imageio loads, lists and writes the raster files handled by the pipelines.
package imageio

import (
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// AnalysisExtensions are the image types picked up from an analysis folder
var AnalysisExtensions = []string{".png", ".jpg", ".jpeg", ".bmp", ".gif", ".tif", ".tiff"}

// TrainingExtensions are the image types paired for training
var TrainingExtensions = []string{".jpg", ".png", ".jpeg"}

// Raster is an RGB image normalized to [0,1], row-major HWC
type Raster struct {
	Width  int
	Height int
	Pix    []float32
}

// ListImages returns the sorted paths of files in dir with one of the extensions
func ListImages(dir string, extensions []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if HasExtension(entry.Name(), extensions) {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// HasExtension reports whether name ends with one of the extensions, ignoring case
func HasExtension(name string, extensions []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Load decodes the image at path
func Load(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// LoadGray decodes the image at path and converts it to 8-bit grayscale
func LoadGray(path string) (*image.Gray, error) {
	img, err := Load(path)
	if err != nil {
		return nil, err
	}
	return ToGray(img), nil
}

// ToGray converts img to a zero-origin *image.Gray
func ToGray(img image.Image) *image.Gray {
	b := img.Bounds()
	if g, ok := img.(*image.Gray); ok && b.Min == (image.Point{}) {
		return g
	}
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

// ToRGBA converts img to a zero-origin *image.RGBA
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) {
		return rgba
	}
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

// NewRaster normalizes img to [0,1] RGB values
func NewRaster(img image.Image) *Raster {
	rgba := ToRGBA(img)
	w, h := rgba.Bounds().Dx(), rgba.Bounds().Dy()
	r := &Raster{Width: w, Height: h, Pix: make([]float32, w*h*3)}
	for y := 0; y < h; y++ {
		row := rgba.Pix[y*rgba.Stride : y*rgba.Stride+w*4]
		for x := 0; x < w; x++ {
			i := (y*w + x) * 3
			r.Pix[i] = float32(row[4*x]) / 255
			r.Pix[i+1] = float32(row[4*x+1]) / 255
			r.Pix[i+2] = float32(row[4*x+2]) / 255
		}
	}
	return r
}

// Tile returns the size x size window with origin (x0, y0), zero-padded past the
// bottom and right edges
func (r *Raster) Tile(x0, y0, size int) []float32 {
	tile := make([]float32, size*size*3)
	w := min(size, r.Width-x0)
	h := min(size, r.Height-y0)
	for y := 0; y < h; y++ {
		src := ((y0+y)*r.Width + x0) * 3
		copy(tile[y*size*3:y*size*3+w*3], r.Pix[src:src+w*3])
	}
	return tile
}

// MaskValues converts a grayscale mask to {0,1} labels using the > 127 rule
func MaskValues(mask *image.Gray) []float32 {
	b := mask.Bounds()
	values := make([]float32, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if mask.GrayAt(x, y).Y > 127 {
				values = append(values, 1)
			} else {
				values = append(values, 0)
			}
		}
	}
	return values
}

// IsBinary reports whether every pixel of mask is 0 or 255, returning the distinct values seen
func IsBinary(mask *image.Gray) (bool, []uint8) {
	var seen [256]bool
	for _, v := range mask.Pix {
		seen[v] = true
	}
	var values []uint8
	for v, ok := range seen {
		if ok {
			values = append(values, uint8(v))
		}
	}
	for _, v := range values {
		if v != 0 && v != 255 {
			return false, values
		}
	}
	return true, values
}

// SavePNG writes img to path, creating parent directories
func SavePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// GrayFromValues builds a grayscale image from row-major values in [0,1]
func GrayFromValues(values []float32, width, height int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i, v := range values {
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		img.Pix[i] = uint8(v*255 + 0.5)
	}
	return img
}
