package training

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"

	"siperea/pkg/imageio"
)

// Pair is a source image and the mask file with the same name
type Pair struct {
	Image string
	Mask  string
}

// Name returns the shared base name of the pair
func (p Pair) Name() string {
	return filepath.Base(p.Image)
}

// Sample is one training example resized to the predictor window.
// Mask pixels are 0 or 255.
type Sample struct {
	Name  string
	Image *image.RGBA
	Mask  *image.Gray
}

// Dataset holds the prepared samples of a training run
type Dataset struct {
	Size    int
	Samples []Sample
}

// Len returns the number of samples
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Samples)
}

// CollectPairs pairs every training image in sourceDir with the mask of the same
// name in maskDir. Images without a mask are skipped with a warning.
func CollectPairs(sourceDir, maskDir string, logger *logrus.Entry) ([]Pair, error) {
	for _, dir := range []string{sourceDir, maskDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("training folder %s: %w", dir, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("training folder %s is not a directory", dir)
		}
	}

	images, err := imageio.ListImages(sourceDir, imageio.TrainingExtensions)
	if err != nil {
		return nil, err
	}
	var pairs []Pair
	for _, path := range images {
		mask := filepath.Join(maskDir, filepath.Base(path))
		if _, err := os.Stat(mask); err != nil {
			logger.Warnf("Mask not found for %s", filepath.Base(path))
			continue
		}
		pairs = append(pairs, Pair{Image: path, Mask: mask})
	}
	return pairs, nil
}

// CheckMaskQuality warns about masks that are not strictly {0,255} and reports
// whether all masks passed
func CheckMaskQuality(pairs []Pair, logger *logrus.Entry) bool {
	ok := true
	for _, p := range pairs {
		mask, err := imageio.LoadGray(p.Mask)
		if err != nil {
			logger.WithError(err).Warnf("Could not read mask %s", p.Mask)
			ok = false
			continue
		}
		if binary, values := imageio.IsBinary(mask); !binary {
			logger.Warnf("Non-binary mask %s, unique values: %v", p.Mask, values)
			ok = false
		}
	}
	return ok
}

// LoadDataset decodes and resizes every pair to size x size. Images use bilinear
// interpolation, masks nearest-neighbour followed by the > 127 rule. Unreadable
// files are skipped with a warning; an image and mask of different dimensions
// fail with ErrShapeMismatch.
func LoadDataset(pairs []Pair, size int, logger *logrus.Entry) (*Dataset, error) {
	ds := &Dataset{Size: size}
	for _, p := range pairs {
		img, err := imageio.Load(p.Image)
		if err != nil {
			logger.WithError(err).Warnf("Skipping unreadable image %s", p.Image)
			continue
		}
		mask, err := imageio.LoadGray(p.Mask)
		if err != nil {
			logger.WithError(err).Warnf("Skipping unreadable mask %s", p.Mask)
			continue
		}
		if img.Bounds().Size() != mask.Bounds().Size() {
			return nil, fmt.Errorf("%w: %s is %v, mask is %v", ErrShapeMismatch,
				p.Name(), img.Bounds().Size(), mask.Bounds().Size())
		}
		ds.Samples = append(ds.Samples, Sample{
			Name:  p.Name(),
			Image: resizeImage(img, size),
			Mask:  resizeMask(mask, size),
		})
	}
	return ds, nil
}

func resizeImage(img image.Image, size int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

func resizeMask(mask *image.Gray, size int) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, size, size))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), mask, mask.Bounds(), draw.Src, nil)
	for i, v := range dst.Pix {
		if v > 127 {
			dst.Pix[i] = 255
		} else {
			dst.Pix[i] = 0
		}
	}
	return dst
}

// validate checks the samples against the predictor window before training
func (d *Dataset) validate(size int) error {
	if d.Len() == 0 {
		return ErrEmptyDataset
	}
	want := image.Pt(size, size)
	for _, s := range d.Samples {
		if s.Image == nil || s.Mask == nil {
			return fmt.Errorf("%w: sample %s is incomplete", ErrShapeMismatch, s.Name)
		}
		if s.Image.Bounds().Size() != want || s.Mask.Bounds().Size() != want {
			return fmt.Errorf("%w: sample %s is %v with mask %v, predictor expects %v", ErrShapeMismatch,
				s.Name, s.Image.Bounds().Size(), s.Mask.Bounds().Size(), want)
		}
	}
	return nil
}

// Tensors converts the samples at idx to predictor tiles and {0,1} masks
func (d *Dataset) Tensors(idx []int) (tiles, masks [][]float32) {
	tiles = make([][]float32, len(idx))
	masks = make([][]float32, len(idx))
	for i, j := range idx {
		tiles[i] = imageio.NewRaster(d.Samples[j].Image).Pix
		masks[i] = imageio.MaskValues(d.Samples[j].Mask)
	}
	return tiles, masks
}
